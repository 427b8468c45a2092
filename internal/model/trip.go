package model

// Bus is the subset of vehicle data the booking service reads from the
// bus registry.
type Bus struct {
	ID        string `json:"id"`
	NTCNumber string `json:"ntc_number"`
	Capacity  int    `json:"capacity"`
}

// Route is the subset of route data the booking service reads from the
// route registry.
type Route struct {
	ID            string  `json:"id"`
	StartLocation string  `json:"start_location"`
	EndLocation   string  `json:"end_location"`
	Distance      float64 `json:"distance"`
}

// TripMetadata joins the bus and route of a trip.
type TripMetadata struct {
	Bus   Bus   `json:"bus"`
	Route Route `json:"route"`
}

// BusSummary and RouteSummary are the denormalized fragments attached to
// booking views.
type BusSummary struct {
	NTCNumber string `json:"ntc_number"`
	Capacity  int    `json:"capacity"`
}

type RouteSummary struct {
	StartLocation string `json:"start_location"`
	EndLocation   string `json:"end_location"`
}

// BookingView is a reservation enriched with trip metadata.  It is the
// unit stored in list caches and returned by read endpoints.
type BookingView struct {
	Reservation
	Bus   *BusSummary   `json:"bus,omitempty"`
	Route *RouteSummary `json:"route,omitempty"`
}

// NewBookingView builds a view from a reservation and, when known, the
// metadata of its trip.
func NewBookingView(r *Reservation, meta *TripMetadata) BookingView {
	v := BookingView{Reservation: *r.Clone()}
	if meta != nil {
		v.Bus = &BusSummary{NTCNumber: meta.Bus.NTCNumber, Capacity: meta.Bus.Capacity}
		v.Route = &RouteSummary{StartLocation: meta.Route.StartLocation, EndLocation: meta.Route.EndLocation}
	}
	return v
}
