package middleware

// identity.go turns the claims JWTAuth stored in the Echo context into the
// caller the booking core works with.

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// ActorFrom returns the authenticated caller.  ok is false when the request
// did not pass through JWTAuth.
func ActorFrom(c echo.Context) (model.Actor, bool) {
	id, _ := c.Get("user_id").(string)
	role, _ := c.Get("role").(string)
	if id == "" {
		return model.Actor{}, false
	}
	return model.Actor{ID: id, Role: role}, true
}

// userID is the rate limiter's view of the caller; anonymous requests
// share one bucket per IP.
func userID(c echo.Context) string {
	if a, ok := ActorFrom(c); ok {
		return a.ID
	}
	return "anon"
}
