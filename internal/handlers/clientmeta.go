package handlers

import (
	"net"
	"net/http"
	"strings"

	"github.com/lwenstrom/cooklion/internal/models"
)

// MetaFromRequest captures the request origin stored with a session record
// Behind a proxy the first X-Forwarded-For hop is the client, otherwise the
// socket peer address is
func MetaFromRequest(r *http.Request) models.ClientMeta {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}

	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" && !strings.EqualFold(fwd, "unknown") {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			ip = first
		}
	}

	return models.ClientMeta{
		IPAddress: ip,
		UserAgent: r.UserAgent(),
	}
}
