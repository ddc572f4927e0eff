// Package requestid propagates X-Request-ID through Fiber and context.Context.
package requestid

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Header is the HTTP header carrying the request id.
const Header = "X-Request-ID"

type contextKey struct{}

// localsKey is the Fiber locals key the middleware stores the id under.
const localsKey = "request_id"

// New attaches a freshly generated id to ctx.
func New(ctx context.Context) (context.Context, string) {
	id := uuid.NewString()
	return WithRequestID(ctx, id), id
}

// WithRequestID attaches id to ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the id stored in ctx, or a new one when absent.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(contextKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// FromFiber returns the id the middleware stored for this request.
func FromFiber(c *fiber.Ctx) string {
	if id, ok := c.Locals(localsKey).(string); ok {
		return id
	}
	return ""
}

// Middleware reuses an incoming X-Request-ID or generates one, echoes it in
// the response, and stores it in locals and the user context.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(Header)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Locals(localsKey, id)
		c.Set(Header, id)
		c.SetUserContext(WithRequestID(c.UserContext(), id))
		return c.Next()
	}
}
