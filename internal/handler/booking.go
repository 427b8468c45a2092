package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/bus-seat-reservation/internal/middleware"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/service"
)

// BookingAPI is the part of the booking service the HTTP layer drives.
type BookingAPI interface {
	CreateBooking(ctx context.Context, ownerID string, trip model.TripRef, seats []int) ([]model.BookingView, error)
	ListByOwner(ctx context.Context, ownerID string) ([]model.BookingView, error)
	ListByTrip(ctx context.Context, trip model.TripRef) ([]model.BookingView, error)
	GetByID(ctx context.Context, actor model.Actor, id string) (*model.BookingView, error)
	UpdateStatus(ctx context.Context, id string, status model.Status) (*model.Reservation, error)
	Cancel(ctx context.Context, actor model.Actor, id string) (*model.Reservation, error)
	SoftDelete(ctx context.Context, id string) (*model.Reservation, error)
	Restore(ctx context.Context, id string) (*model.Reservation, error)
}

// HoldAPI places temporary holds.
type HoldAPI interface {
	PlaceHold(ctx context.Context, ownerID string, trip model.TripRef, seats []int) (*service.HoldResult, error)
}

// BookingHandler serves /v1/bookings.  JWTAuth has already run for every
// route, so the caller is always known; admin-only routes are additionally
// guarded by RequireRole in the router.
type BookingHandler struct {
	Bookings BookingAPI
	Holds    HoldAPI
}

func NewBookingHandler(b BookingAPI, h HoldAPI) *BookingHandler {
	if b == nil || h == nil {
		panic("nil service passed to NewBookingHandler")
	}
	return &BookingHandler{Bookings: b, Holds: h}
}

type seatRequest struct {
	BusID       string `json:"bus_id"`
	RouteID     string `json:"route_id"`
	SeatNumbers []int  `json:"seat_numbers"`
}

func (r seatRequest) trip() model.TripRef { return model.TripRef{BusID: r.BusID, RouteID: r.RouteID} }

func bindSeats(c echo.Context) (seatRequest, bool) {
	var body seatRequest
	if err := c.Bind(&body); err != nil {
		return body, false
	}
	return body, body.BusID != "" && body.RouteID != "" && len(body.SeatNumbers) > 0
}

// Create handles POST /v1/bookings.  All requested seats are booked or
// none are; a conflict reports the seats that were already taken.
func (h *BookingHandler) Create(c echo.Context) error {
	a, ok := middleware.ActorFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	body, ok := bindSeats(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "bus_id, route_id and seat_numbers are required"})
	}
	views, err := h.Bookings.CreateBooking(c.Request().Context(), a.ID, body.trip(), body.SeatNumbers)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"message": "booking created", "bookings": views})
}

// Hold handles POST /v1/bookings/hold.  Seats are held independently;
// the response lists what was held and what was not.  When nothing could
// be held the status is 409.
func (h *BookingHandler) Hold(c echo.Context) error {
	a, ok := middleware.ActorFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	body, ok := bindSeats(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "bus_id, route_id and seat_numbers are required"})
	}
	res, err := h.Holds.PlaceHold(c.Request().Context(), a.ID, body.trip(), body.SeatNumbers)
	if err != nil {
		if res == nil || len(res.Held) == 0 {
			return writeError(c, err)
		}
		// Some seats are held already; report them with the ones that failed.
		logrus.WithError(err).WithField("failed_seats", res.Failed).Warn("hold partially placed")
		return c.JSON(http.StatusCreated, res)
	}
	if len(res.Held) == 0 {
		return c.JSON(http.StatusConflict, echo.Map{"error": "no seats could be held", "unavailable_seats": res.Unavailable})
	}
	return c.JSON(http.StatusCreated, res)
}

// ListMine handles GET /v1/bookings: the caller's own reservations.
func (h *BookingHandler) ListMine(c echo.Context) error {
	a, ok := middleware.ActorFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	views, err := h.Bookings.ListByOwner(c.Request().Context(), a.ID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"bookings": views})
}

// ListByTrip handles GET /v1/bookings/trip/:busId/:routeId.
func (h *BookingHandler) ListByTrip(c echo.Context) error {
	trip := model.TripRef{BusID: c.Param("busId"), RouteID: c.Param("routeId")}
	views, err := h.Bookings.ListByTrip(c.Request().Context(), trip)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"bookings": views})
}

// Get handles GET /v1/bookings/:id.
func (h *BookingHandler) Get(c echo.Context) error {
	a, ok := middleware.ActorFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	view, err := h.Bookings.GetByID(c.Request().Context(), a, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"booking": view})
}

// UpdateStatus handles PUT /v1/bookings/:id/status (admin).
func (h *BookingHandler) UpdateStatus(c echo.Context) error {
	var body struct {
		Status model.Status `json:"status"`
	}
	if err := c.Bind(&body); err != nil || !body.Status.Valid() {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid status"})
	}
	r, err := h.Bookings.UpdateStatus(c.Request().Context(), c.Param("id"), body.Status)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "booking status updated", "booking": r})
}

// Cancel handles PUT /v1/bookings/:id/cancel.  Commuters may only cancel
// their own reservations.
func (h *BookingHandler) Cancel(c echo.Context) error {
	a, ok := middleware.ActorFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	r, err := h.Bookings.Cancel(c.Request().Context(), a, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "booking canceled", "booking": r})
}

// SoftDelete handles PATCH /v1/bookings/:id/soft-delete (admin).
func (h *BookingHandler) SoftDelete(c echo.Context) error {
	r, err := h.Bookings.SoftDelete(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "booking deleted", "booking": r})
}

// Restore handles PATCH /v1/bookings/:id/restore (admin).
func (h *BookingHandler) Restore(c echo.Context) error {
	r, err := h.Bookings.Restore(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "booking restored", "booking": r})
}
