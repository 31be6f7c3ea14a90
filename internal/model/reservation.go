package model

import "time"

type ReservationState string

const (
	ReservationActive    ReservationState = "active"
	ReservationConfirmed ReservationState = "confirmed"
	ReservationCancelled ReservationState = "cancelled"
	ReservationExpired   ReservationState = "expired"
)

// Terminal reports whether no further transition is permitted out of s.
func (s ReservationState) Terminal() bool {
	return s == ReservationConfirmed || s == ReservationCancelled || s == ReservationExpired
}

type Reservation struct {
	ID          string           `db:"id"`
	ProductID   string           `db:"product_id"`
	StoreID     string           `db:"store_id"`
	OrderID     *string          `db:"order_id"`
	Quantity    int              `db:"quantity"`
	State       ReservationState `db:"state"`
	Reason      string           `db:"reason"`
	CreatedAt   time.Time        `db:"created_at"`
	ExpiresAt   time.Time        `db:"expires_at"`
	ConfirmedAt *time.Time       `db:"confirmed_at"`
	CancelledAt *time.Time       `db:"cancelled_at"`
	UpdatedAt   time.Time        `db:"updated_at"`
}

// ActiveAt reports whether the reservation still holds stock at the given
// instant. An Active row past its expiry counts as released even before the
// reaper has swept it.
func (r *Reservation) ActiveAt(now time.Time) bool {
	return r.State == ReservationActive && r.ExpiresAt.After(now)
}
