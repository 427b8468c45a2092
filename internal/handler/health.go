package handler // declare the package name; contains HTTP handlers

import (
	"net/http" // net/http provides status codes and response helpers

	"github.com/labstack/echo/v4" // echo is the web framework used for this project
)

// WorkerStats describes a background worker for the health report.
type WorkerStats interface {
	Stats() map[string]interface{}
}

// Health returns a health-check endpoint used by load balancers and
// monitoring systems.  It answers 200 with the background workers this
// instance runs, so an operator can see at a glance that the hold
// sweeper and the archiver are configured.
func Health(workers ...WorkerStats) echo.HandlerFunc {
	return func(c echo.Context) error {
		stats := make([]map[string]interface{}, 0, len(workers))
		for _, w := range workers {
			stats = append(stats, w.Stats())
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ok", "workers": stats})
	}
}
