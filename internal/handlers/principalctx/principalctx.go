package principalctx

import (
	"context"

	"github.com/lwenstrom/cooklion/internal/models"
)

type ctxKey string

const principalKey ctxKey = "principal"

// New binds the authenticated principal to the context
// Bound at most once per request: a second bind is ignored so an already
// authenticated request can't be re-bound by later middleware
func New(ctx context.Context, p models.Principal) context.Context {
	if _, ok := FromContext(ctx); ok {
		return ctx
	}
	return context.WithValue(ctx, principalKey, p)
}

// FromContext extracts the principal if the request is authenticated
func FromContext(ctx context.Context) (models.Principal, bool) {
	p, ok := ctx.Value(principalKey).(models.Principal)
	return p, ok
}
