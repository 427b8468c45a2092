package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing

	"github.com/iliyamo/bus-seat-reservation/internal/handler"    // HTTP handlers for bookings, archive and health
	"github.com/iliyamo/bus-seat-reservation/internal/middleware" // JWT authentication, role checks and rate limiting
	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// Handlers bundles everything RegisterRoutes mounts.
type Handlers struct {
	Bookings *handler.BookingHandler
	Archive  *handler.ArchiveHandler
	Health   echo.HandlerFunc
}

// RegisterRoutes registers the whole API on e.  /healthz is public; every
// /v1 route requires a valid JWT.  limit wraps the write routes.
func RegisterRoutes(e *echo.Echo, h Handlers, jwtSecret string, limit echo.MiddlewareFunc) {
	e.Use(middleware.RequestLogger())
	e.GET("/healthz", h.Health)

	auth := middleware.JWTAuth(jwtSecret)
	anyone := middleware.RequireRole(model.RoleCommuter, model.RoleAdmin)
	admin := middleware.RequireRole(model.RoleAdmin)

	g := e.Group("/v1/bookings", auth, anyone)
	g.POST("", h.Bookings.Create, limit)
	g.POST("/hold", h.Bookings.Hold, limit)
	g.GET("", h.Bookings.ListMine)
	g.GET("/trip/:busId/:routeId", h.Bookings.ListByTrip)
	g.GET("/:id", h.Bookings.Get)
	g.PUT("/:id/cancel", h.Bookings.Cancel, limit)

	// Administrative lifecycle changes.
	g.PUT("/:id/status", h.Bookings.UpdateStatus, admin, limit)
	g.PATCH("/:id/soft-delete", h.Bookings.SoftDelete, admin, limit)
	g.PATCH("/:id/restore", h.Bookings.Restore, admin, limit)

	if h.Archive != nil {
		e.GET("/v1/archive/bookings/:id", h.Archive.Get, auth, admin)
	}
}
