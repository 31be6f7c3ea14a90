package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fekuna/omnipos-reservation-service/internal/model"
	"github.com/fekuna/omnipos-reservation-service/internal/pkg/lock"
	"github.com/fekuna/omnipos-reservation-service/internal/reservation"
	"github.com/fekuna/omnipos-reservation-service/internal/reservation/dto"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultHoldTTL is how long a reservation holds stock before the reaper may
// release it.
const DefaultHoldTTL = 15 * time.Minute

type reservationUseCase struct {
	repo    reservation.Repository
	locker  lock.Locker
	logger  *zap.Logger
	holdTTL time.Duration
}

// NewReservationUseCase builds the reservation engine. All check-then-write
// sequences for a (product, store) pair run under the locker's key for that
// pair, which is what keeps concurrent checkouts from overselling.
func NewReservationUseCase(repo reservation.Repository, locker lock.Locker, logger *zap.Logger, holdTTL time.Duration) reservation.UseCase {
	if holdTTL <= 0 {
		holdTTL = DefaultHoldTTL
	}
	return &reservationUseCase{
		repo:    repo,
		locker:  locker,
		logger:  logger,
		holdTTL: holdTTL,
	}
}

func lockKey(productID, storeID string) string {
	return fmt.Sprintf("lock:reservation:%s:%s", productID, storeID)
}

func (uc *reservationUseCase) availability(ctx context.Context, productID, storeID string, now time.Time) (dto.Availability, error) {
	level, err := uc.repo.GetStockLevel(ctx, productID, storeID)
	if err != nil {
		return dto.Availability{}, err
	}
	active, err := uc.repo.ListActiveByKey(ctx, productID, storeID)
	if err != nil {
		return dto.Availability{}, err
	}

	avail := reservation.ComputeAvailability(level, active, now)
	avail.ProductID = productID
	avail.StoreID = storeID
	return avail, nil
}

// Available is the lock-free read path. Storefront badges poll it and accept
// that the answer can change a moment later.
func (uc *reservationUseCase) Available(ctx context.Context, productID, storeID string) (*dto.Availability, error) {
	avail, err := uc.availability(ctx, productID, storeID, time.Now())
	if err != nil {
		return nil, err
	}
	return &avail, nil
}

func (uc *reservationUseCase) CheckAvailability(ctx context.Context, productID, storeID string, quantity int) (*dto.AvailabilityCheck, error) {
	if quantity <= 0 {
		return nil, reservation.ErrInvalidQuantity
	}
	avail, err := uc.availability(ctx, productID, storeID, time.Now())
	if err != nil {
		return nil, err
	}
	return &dto.AvailabilityCheck{
		Availability: avail,
		Requested:    quantity,
		Sufficient:   quantity <= avail.Available,
	}, nil
}

func (uc *reservationUseCase) CreateReservation(ctx context.Context, input *dto.CreateReservationInput) (*model.Reservation, error) {
	if input.Quantity <= 0 {
		return nil, reservation.ErrInvalidQuantity
	}

	release, err := uc.locker.Acquire(ctx, lockKey(input.ProductID, input.StoreID))
	if err != nil {
		return nil, fmt.Errorf("failed to acquire reservation lock: %w", err)
	}
	defer release()

	now := time.Now()
	avail, err := uc.availability(ctx, input.ProductID, input.StoreID, now)
	if err != nil {
		return nil, err
	}

	if input.Quantity > avail.Available {
		return nil, &reservation.InsufficientStockError{
			ProductID: input.ProductID,
			StoreID:   input.StoreID,
			Requested: input.Quantity,
			Available: avail.Available,
		}
	}

	res := &model.Reservation{
		ID:        uuid.New().String(),
		ProductID: input.ProductID,
		StoreID:   input.StoreID,
		OrderID:   input.OrderID,
		Quantity:  input.Quantity,
		State:     model.ReservationActive,
		CreatedAt: now,
		ExpiresAt: now.Add(uc.holdTTL),
		UpdatedAt: now,
	}

	if err := uc.repo.InsertReservation(ctx, res); err != nil {
		return nil, err
	}

	uc.logger.Info("reservation created",
		zap.String("reservation_id", res.ID),
		zap.String("product_id", res.ProductID),
		zap.String("store_id", res.StoreID),
		zap.Int("quantity", res.Quantity),
		zap.Time("expires_at", res.ExpiresAt),
	)
	return res, nil
}

// ReserveCart reserves each line independently. It is not atomic across
// products: when a line fails, previously created reservations are rolled back
// with best-effort cancels and the original failure is returned. A rollback
// failure is logged, never allowed to mask the failure that triggered it.
func (uc *reservationUseCase) ReserveCart(ctx context.Context, input *dto.ReserveCartInput) ([]*model.Reservation, error) {
	if len(input.Lines) == 0 {
		return nil, errors.New("cart has no lines")
	}

	created := make([]*model.Reservation, 0, len(input.Lines))
	for _, line := range input.Lines {
		orderID := input.OrderID
		res, err := uc.CreateReservation(ctx, &dto.CreateReservationInput{
			ProductID: line.ProductID,
			StoreID:   input.StoreID,
			Quantity:  line.Quantity,
			OrderID:   &orderID,
		})
		if err != nil {
			uc.rollbackReservations(ctx, created)
			return nil, err
		}
		created = append(created, res)
	}
	return created, nil
}

func (uc *reservationUseCase) rollbackReservations(ctx context.Context, created []*model.Reservation) {
	for _, res := range created {
		if err := uc.CancelReservation(ctx, res.ID, "cart reservation rolled back"); err != nil {
			uc.logger.Error("failed to roll back cart reservation",
				zap.String("reservation_id", res.ID),
				zap.Error(err),
			)
		}
	}
}

// ConfirmSale settles a batch of reservations into a permanent stock
// deduction, all or nothing. A reservation is eligible when it exists, is
// attributable to the order (same order id, or none yet), is still Active and
// its hold has not lapsed.
func (uc *reservationUseCase) ConfirmSale(ctx context.Context, orderID string, reservationIDs []string) error {
	if len(reservationIDs) == 0 {
		return errors.New("no reservation ids given")
	}

	// First pass, unlocked: learn which keys the batch touches.
	keys := make(map[string]struct{})
	for _, id := range reservationIDs {
		res, err := uc.repo.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if res != nil {
			keys[lockKey(res.ProductID, res.StoreID)] = struct{}{}
		}
	}

	release, err := uc.acquireSorted(ctx, keys)
	if err != nil {
		return fmt.Errorf("failed to acquire reservation locks: %w", err)
	}
	defer release()

	// Second pass, under the locks: validate every reservation before any
	// state changes.
	now := time.Now()
	var failures []reservation.ConfirmFailure
	eligible := make([]model.Reservation, 0, len(reservationIDs))

	for _, id := range reservationIDs {
		res, err := uc.repo.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		switch {
		case res == nil:
			failures = append(failures, reservation.ConfirmFailure{
				ReservationID: id,
				Err:           &reservation.NotFoundError{Kind: "reservation", ID: id},
			})
		case res.State.Terminal():
			failures = append(failures, reservation.ConfirmFailure{
				ReservationID: id,
				Err:           &reservation.AlreadyTerminalError{ReservationID: id, State: res.State},
			})
		case !res.ExpiresAt.After(now):
			// The hold lapsed; its units may already be promised to someone
			// else. Expire it here rather than waiting for the reaper.
			uc.expireOne(ctx, res.ID, now)
			failures = append(failures, reservation.ConfirmFailure{
				ReservationID: id,
				Err:           &reservation.AlreadyTerminalError{ReservationID: id, State: model.ReservationExpired},
			})
		case res.OrderID != nil && *res.OrderID != orderID:
			failures = append(failures, reservation.ConfirmFailure{
				ReservationID: id,
				Err:           fmt.Errorf("reservation %s belongs to order %s, not %s", id, *res.OrderID, orderID),
			})
		default:
			eligible = append(eligible, *res)
		}
	}

	if len(failures) > 0 {
		// A lone ineligible reservation surfaces its own typed error; a batch
		// mixing eligible and ineligible ids reports the full mismatch.
		if len(reservationIDs) == 1 {
			var notFound *reservation.NotFoundError
			var terminal *reservation.AlreadyTerminalError
			if errors.As(failures[0].Err, &notFound) || errors.As(failures[0].Err, &terminal) {
				return failures[0].Err
			}
		}
		return &reservation.PartialMismatchError{OrderID: orderID, Failures: failures}
	}

	if err := uc.repo.ConfirmBatch(ctx, eligible, orderID, now); err != nil {
		return fmt.Errorf("failed to confirm order %s: %w", orderID, err)
	}

	uc.logger.Info("sale confirmed",
		zap.String("order_id", orderID),
		zap.Int("reservations", len(eligible)),
	)
	return nil
}

func (uc *reservationUseCase) acquireSorted(ctx context.Context, keys map[string]struct{}) (func(), error) {
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	// Fixed acquisition order across callers, so two multi-key confirms
	// cannot deadlock each other.
	sort.Strings(sorted)

	releases := make([]func(), 0, len(sorted))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for _, k := range sorted {
		rel, err := uc.locker.Acquire(ctx, k)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, rel)
	}
	return releaseAll, nil
}

func (uc *reservationUseCase) CancelReservation(ctx context.Context, reservationID, reason string) error {
	res, err := uc.repo.GetReservation(ctx, reservationID)
	if err != nil {
		return err
	}
	if res == nil {
		return &reservation.NotFoundError{Kind: "reservation", ID: reservationID}
	}

	release, err := uc.locker.Acquire(ctx, lockKey(res.ProductID, res.StoreID))
	if err != nil {
		return fmt.Errorf("failed to acquire reservation lock: %w", err)
	}
	defer release()

	// Re-read under the lock; the reaper or another caller may have won.
	res, err = uc.repo.GetReservation(ctx, reservationID)
	if err != nil {
		return err
	}
	if res == nil {
		return &reservation.NotFoundError{Kind: "reservation", ID: reservationID}
	}

	now := time.Now()
	if reason == "" {
		reason = "reservation cancelled"
	}

	switch res.State {
	case model.ReservationActive:
		ok, err := uc.repo.TransitionState(ctx, res.ID, model.ReservationActive, model.ReservationCancelled, reason, now)
		if err != nil {
			return err
		}
		if !ok {
			return &reservation.AlreadyTerminalError{ReservationID: res.ID, State: res.State}
		}
		uc.logger.Info("reservation cancelled",
			zap.String("reservation_id", res.ID),
			zap.String("reason", reason),
		)
		return nil

	case model.ReservationConfirmed:
		// Compensating return: the sale already deducted stock, so cancelling
		// puts the units back.
		if err := uc.repo.ReverseConfirmed(ctx, res, reason, now); err != nil {
			if errors.Is(err, reservation.ErrStateConflict) {
				return &reservation.AlreadyTerminalError{ReservationID: res.ID, State: res.State}
			}
			return err
		}
		uc.logger.Info("confirmed sale reversed, stock returned",
			zap.String("reservation_id", res.ID),
			zap.String("product_id", res.ProductID),
			zap.String("store_id", res.StoreID),
			zap.Int("quantity", res.Quantity),
			zap.String("reason", reason),
		)
		return nil

	default:
		return &reservation.AlreadyTerminalError{ReservationID: res.ID, State: res.State}
	}
}

// CancelSale cancels every reservation attached to the order. Rows that are
// already expired or cancelled are skipped, they no longer hold anything.
func (uc *reservationUseCase) CancelSale(ctx context.Context, orderID, reason string) error {
	items, err := uc.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return &reservation.NotFoundError{Kind: "order", ID: orderID}
	}

	if reason == "" {
		reason = "order cancelled"
	}

	var firstErr error
	for _, res := range items {
		err := uc.CancelReservation(ctx, res.ID, reason)
		if err == nil {
			continue
		}
		var terminal *reservation.AlreadyTerminalError
		if errors.As(err, &terminal) {
			continue
		}
		uc.logger.Error("failed to cancel order reservation",
			zap.String("order_id", orderID),
			zap.String("reservation_id", res.ID),
			zap.Error(err),
		)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (uc *reservationUseCase) ExpireDue(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := uc.repo.FindExpired(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, res := range due {
		release, err := uc.locker.Acquire(ctx, lockKey(res.ProductID, res.StoreID))
		if err != nil {
			// One bad row never halts the sweep.
			uc.logger.Error("failed to acquire lock for expiry",
				zap.String("reservation_id", res.ID),
				zap.Error(err),
			)
			continue
		}
		ok := uc.expireOne(ctx, res.ID, now)
		release()
		if ok {
			expired++
		}
	}
	return expired, nil
}

// expireOne flips a single reservation Active -> Expired. Losing the
// compare-and-swap is not an error: someone else already resolved the row.
func (uc *reservationUseCase) expireOne(ctx context.Context, id string, now time.Time) bool {
	ok, err := uc.repo.TransitionState(ctx, id, model.ReservationActive, model.ReservationExpired, "reservation hold expired", now)
	if err != nil {
		uc.logger.Error("failed to expire reservation",
			zap.String("reservation_id", id),
			zap.Error(err),
		)
		return false
	}
	if ok {
		uc.logger.Debug("reservation expired", zap.String("reservation_id", id))
	}
	return ok
}

func (uc *reservationUseCase) OrderReservations(ctx context.Context, orderID string) ([]model.Reservation, error) {
	return uc.repo.ListByOrder(ctx, orderID)
}

func (uc *reservationUseCase) StoreStats(ctx context.Context, storeID string) (*dto.ReservationStats, error) {
	items, err := uc.repo.ListActiveByStore(ctx, storeID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	stats := &dto.ReservationStats{StoreID: storeID}
	for _, res := range items {
		if !res.ActiveAt(now) {
			continue
		}
		stats.ActiveCount++
		stats.TotalReserved += res.Quantity
		stats.Reservations = append(stats.Reservations, res)
	}
	return stats, nil
}
