package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fekuna/omnipos-reservation-service/internal/model"
	"github.com/fekuna/omnipos-reservation-service/internal/reservation"
	"github.com/google/uuid"
)

type levelKey struct {
	productID string
	storeID   string
}

// MemoryRepository keeps the reservation store in process memory. It backs
// single-instance deployments and tests; the mutex makes every method atomic,
// matching the transaction boundaries of the Postgres implementation.
type MemoryRepository struct {
	mu           sync.RWMutex
	reservations map[string]*model.Reservation
	levels       map[levelKey]*model.StockLevel
	movements    []model.StockMovement
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		reservations: make(map[string]*model.Reservation),
		levels:       make(map[levelKey]*model.StockLevel),
	}
}

func (r *MemoryRepository) GetReservation(_ context.Context, id string) (*model.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res, ok := r.reservations[id]
	if !ok {
		return nil, nil
	}
	cp := *res
	return &cp, nil
}

func (r *MemoryRepository) InsertReservation(_ context.Context, res *model.Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *res
	r.reservations[res.ID] = &cp
	return nil
}

func (r *MemoryRepository) ListByOrder(_ context.Context, orderID string) ([]model.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var items []model.Reservation
	for _, res := range r.reservations {
		if res.OrderID != nil && *res.OrderID == orderID {
			items = append(items, *res)
		}
	}
	sortByCreation(items)
	return items, nil
}

func (r *MemoryRepository) ListActiveByKey(_ context.Context, productID, storeID string) ([]model.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var items []model.Reservation
	for _, res := range r.reservations {
		if res.ProductID == productID && res.StoreID == storeID && res.State == model.ReservationActive {
			items = append(items, *res)
		}
	}
	sortByCreation(items)
	return items, nil
}

func (r *MemoryRepository) ListActiveByStore(_ context.Context, storeID string) ([]model.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var items []model.Reservation
	for _, res := range r.reservations {
		if res.StoreID == storeID && res.State == model.ReservationActive {
			items = append(items, *res)
		}
	}
	sortByCreation(items)
	return items, nil
}

func (r *MemoryRepository) FindExpired(_ context.Context, now time.Time, limit int) ([]model.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var items []model.Reservation
	for _, res := range r.reservations {
		if res.State == model.ReservationActive && res.ExpiresAt.Before(now) {
			items = append(items, *res)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ExpiresAt.Before(items[j].ExpiresAt) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (r *MemoryRepository) TransitionState(_ context.Context, id string, from, to model.ReservationState, reason string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.reservations[id]
	if !ok || res.State != from {
		return false, nil
	}
	r.applyTransition(res, to, reason, now)
	return true, nil
}

func (r *MemoryRepository) applyTransition(res *model.Reservation, to model.ReservationState, reason string, now time.Time) {
	res.State = to
	if reason != "" {
		res.Reason = reason
	}
	res.UpdatedAt = now
	switch to {
	case model.ReservationConfirmed:
		t := now
		res.ConfirmedAt = &t
	case model.ReservationCancelled:
		t := now
		res.CancelledAt = &t
	}
}

func (r *MemoryRepository) GetStockLevel(_ context.Context, productID, storeID string) (*model.StockLevel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	level, ok := r.levels[levelKey{productID, storeID}]
	if !ok {
		return nil, nil
	}
	cp := *level
	return &cp, nil
}

func (r *MemoryRepository) UpsertStockLevel(_ context.Context, level *model.StockLevel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *level
	r.levels[levelKey{level.ProductID, level.StoreID}] = &cp
	return nil
}

func (r *MemoryRepository) ListMovements(_ context.Context, productID, storeID string, limit int) ([]model.StockMovement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var items []model.StockMovement
	for i := len(r.movements) - 1; i >= 0; i-- {
		m := r.movements[i]
		if m.ProductID == productID && m.StoreID == storeID {
			items = append(items, m)
			if limit > 0 && len(items) == limit {
				break
			}
		}
	}
	return items, nil
}

func (r *MemoryRepository) ConfirmBatch(_ context.Context, reservations []model.Reservation, orderID string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Validate the whole batch before touching anything, so a conflict leaves
	// no partial effect.
	for i := range reservations {
		stored, ok := r.reservations[reservations[i].ID]
		if !ok || stored.State != model.ReservationActive {
			return reservation.ErrStateConflict
		}
		level, ok := r.levels[levelKey{stored.ProductID, stored.StoreID}]
		if !ok || level.Quantity < stored.Quantity {
			return reservation.ErrStateConflict
		}
	}

	for i := range reservations {
		stored := r.reservations[reservations[i].ID]
		oid := orderID
		stored.OrderID = &oid
		r.applyTransition(stored, model.ReservationConfirmed, "", now)

		level := r.levels[levelKey{stored.ProductID, stored.StoreID}]
		level.Quantity -= stored.Quantity
		level.UpdatedAt = now

		r.movements = append(r.movements, model.StockMovement{
			ID:            uuid.New().String(),
			ProductID:     stored.ProductID,
			StoreID:       stored.StoreID,
			MovementType:  model.MovementSale,
			Quantity:      -stored.Quantity,
			ReservationID: &stored.ID,
			OrderID:       &orderID,
			Reason:        "sale confirmed",
			CreatedAt:     now,
		})
	}
	return nil
}

func (r *MemoryRepository) ReverseConfirmed(_ context.Context, res *model.Reservation, reason string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.reservations[res.ID]
	if !ok || stored.State != model.ReservationConfirmed {
		return reservation.ErrStateConflict
	}
	r.applyTransition(stored, model.ReservationCancelled, reason, now)

	key := levelKey{stored.ProductID, stored.StoreID}
	level, ok := r.levels[key]
	if !ok {
		level = &model.StockLevel{ProductID: stored.ProductID, StoreID: stored.StoreID}
		r.levels[key] = level
	}
	level.Quantity += stored.Quantity
	level.UpdatedAt = now

	r.movements = append(r.movements, model.StockMovement{
		ID:            uuid.New().String(),
		ProductID:     stored.ProductID,
		StoreID:       stored.StoreID,
		MovementType:  model.MovementSaleCancellation,
		Quantity:      stored.Quantity,
		ReservationID: &stored.ID,
		OrderID:       stored.OrderID,
		Reason:        reason,
		CreatedAt:     now,
	})
	return nil
}

func sortByCreation(items []model.Reservation) {
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
}
