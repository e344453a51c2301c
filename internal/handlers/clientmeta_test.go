package handlers

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetaFromRequest(t *testing.T) {
	t.Run("socket peer address", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/login", nil)
		r.RemoteAddr = "192.0.2.10:54321"
		r.Header.Set("User-Agent", "test-agent")

		meta := MetaFromRequest(r)

		assert.Equal(t, "192.0.2.10", meta.IPAddress, "port should be stripped from the peer address")
		assert.Equal(t, "test-agent", meta.UserAgent)
	})

	t.Run("forwarded header wins", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/login", nil)
		r.RemoteAddr = "10.0.0.1:54321"
		r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

		meta := MetaFromRequest(r)

		assert.Equal(t, "203.0.113.7", meta.IPAddress, "first forwarded hop is the client")
	})

	t.Run("unknown forwarded value ignored", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/login", nil)
		r.RemoteAddr = "10.0.0.1:54321"
		r.Header.Set("X-Forwarded-For", "unknown")

		meta := MetaFromRequest(r)

		assert.Equal(t, "10.0.0.1", meta.IPAddress)
	})
}
