package reservation

import (
	"context"
	"time"

	"github.com/fekuna/omnipos-reservation-service/internal/model"
	"github.com/fekuna/omnipos-reservation-service/internal/reservation/dto"
)

type UseCase interface {
	// Read side
	Available(ctx context.Context, productID, storeID string) (*dto.Availability, error)
	CheckAvailability(ctx context.Context, productID, storeID string, quantity int) (*dto.AvailabilityCheck, error)
	OrderReservations(ctx context.Context, orderID string) ([]model.Reservation, error)
	StoreStats(ctx context.Context, storeID string) (*dto.ReservationStats, error)

	// Lifecycle
	CreateReservation(ctx context.Context, input *dto.CreateReservationInput) (*model.Reservation, error)
	ReserveCart(ctx context.Context, input *dto.ReserveCartInput) ([]*model.Reservation, error)
	ConfirmSale(ctx context.Context, orderID string, reservationIDs []string) error
	CancelReservation(ctx context.Context, reservationID, reason string) error
	CancelSale(ctx context.Context, orderID, reason string) error

	// ExpireDue transitions Active reservations past their deadline to
	// Expired, up to limit rows (0 means no limit). Returns how many rows it
	// expired. Used by the reaper.
	ExpireDue(ctx context.Context, now time.Time, limit int) (int, error)
}
