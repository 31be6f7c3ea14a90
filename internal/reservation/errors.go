package reservation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fekuna/omnipos-reservation-service/internal/model"
)

var ErrInvalidQuantity = errors.New("quantity must be positive")

// InsufficientStockError is returned when a reservation asks for more units
// than are currently free. Callers render the shortfall, so it carries both
// sides of the comparison.
type InsufficientStockError struct {
	ProductID string
	StoreID   string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s at store %s: requested %d, available %d",
		e.ProductID, e.StoreID, e.Requested, e.Available)
}

// NotFoundError distinguishes a stale or wrong id from a reservation that was
// already resolved (see AlreadyTerminalError).
type NotFoundError struct {
	Kind string // "reservation" or "order"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// AlreadyTerminalError is returned on any attempt to transition a reservation
// out of a terminal state. The attempt is rejected, never silently absorbed.
type AlreadyTerminalError struct {
	ReservationID string
	State         model.ReservationState
}

func (e *AlreadyTerminalError) Error() string {
	return fmt.Sprintf("reservation %s is already %s", e.ReservationID, e.State)
}

// ConfirmFailure records why a single reservation in a confirm batch was
// rejected.
type ConfirmFailure struct {
	ReservationID string
	Err           error
}

// PartialMismatchError is returned when a confirm batch mixes eligible and
// ineligible reservations. The whole batch is rejected; Failures lists each
// ineligible id with its reason.
type PartialMismatchError struct {
	OrderID  string
	Failures []ConfirmFailure
}

func (e *PartialMismatchError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %v", f.ReservationID, f.Err)
	}
	return fmt.Sprintf("cannot confirm order %s: %s", e.OrderID, strings.Join(parts, "; "))
}
