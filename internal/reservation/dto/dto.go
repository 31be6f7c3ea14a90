package dto

import "github.com/fekuna/omnipos-reservation-service/internal/model"

// Availability is the snapshot reported for one (product, store) pair.
// Available is clamped at zero for display; the engine enforces the real
// invariant at write time.
type Availability struct {
	ProductID string
	StoreID   string
	Physical  int
	Reserved  int
	Available int
}

// AvailabilityCheck answers "can I take N units right now".
type AvailabilityCheck struct {
	Availability
	Requested  int
	Sufficient bool
}

// ReservationStats summarizes the currently-held stock at one store.
type ReservationStats struct {
	StoreID       string
	ActiveCount   int
	TotalReserved int
	Reservations  []model.Reservation
}
