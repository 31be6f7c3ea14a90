package reservation

import (
	"context"
	"errors"
	"time"

	"github.com/fekuna/omnipos-reservation-service/internal/model"
)

// ErrStateConflict is returned by transactional repository methods when a row
// changed state between the engine's eligibility check and the write. The
// engine holds per-key locks, so hitting this means a path outside the lock
// discipline touched the row; the transaction is rolled back whole.
var ErrStateConflict = errors.New("reservation state changed concurrently")

type Repository interface {
	// Reservations
	GetReservation(ctx context.Context, id string) (*model.Reservation, error) // nil, nil when absent
	InsertReservation(ctx context.Context, res *model.Reservation) error
	ListByOrder(ctx context.Context, orderID string) ([]model.Reservation, error)
	ListActiveByKey(ctx context.Context, productID, storeID string) ([]model.Reservation, error)
	ListActiveByStore(ctx context.Context, storeID string) ([]model.Reservation, error)
	FindExpired(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error)

	// TransitionState moves a reservation from one state to another only if it
	// is still in the expected state (compare-and-swap). Returns false, nil
	// when the row exists but was no longer in `from`.
	TransitionState(ctx context.Context, id string, from, to model.ReservationState, reason string, now time.Time) (bool, error)

	// Stock levels
	GetStockLevel(ctx context.Context, productID, storeID string) (*model.StockLevel, error)
	UpsertStockLevel(ctx context.Context, level *model.StockLevel) error

	// Movements / audit
	ListMovements(ctx context.Context, productID, storeID string, limit int) ([]model.StockMovement, error)

	// ConfirmBatch settles a validated batch in one transaction: each
	// reservation Active -> Confirmed, its quantity deducted from physical
	// stock, and a sale movement logged. Any state conflict or a deduction
	// that would drive stock negative aborts the whole batch.
	ConfirmBatch(ctx context.Context, reservations []model.Reservation, orderID string, now time.Time) error

	// ReverseConfirmed settles the compensating return of a confirmed
	// reservation in one transaction: Confirmed -> Cancelled, physical stock
	// re-incremented, and a cancellation movement logged.
	ReverseConfirmed(ctx context.Context, res *model.Reservation, reason string, now time.Time) error
}
