package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// ArchiveLookup reads archived reservations.
type ArchiveLookup interface {
	Lookup(ctx context.Context, id string) (*model.Reservation, error)
}

type ArchiveHandler struct {
	Archive ArchiveLookup
}

func NewArchiveHandler(a ArchiveLookup) *ArchiveHandler { return &ArchiveHandler{Archive: a} }

// Get handles GET /v1/archive/bookings/:id (admin).
func (h *ArchiveHandler) Get(c echo.Context) error {
	r, err := h.Archive.Lookup(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"booking": r})
}
