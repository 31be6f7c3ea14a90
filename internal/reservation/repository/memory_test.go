package repository

import (
	"context"
	"testing"
	"time"

	"github.com/fekuna/omnipos-reservation-service/internal/model"
	"github.com/fekuna/omnipos-reservation-service/internal/reservation"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeReservation(orderID string, qty int) *model.Reservation {
	now := time.Now()
	res := &model.Reservation{
		ID:        uuid.New().String(),
		ProductID: "prod-1",
		StoreID:   "store-1",
		Quantity:  qty,
		State:     model.ReservationActive,
		CreatedAt: now,
		ExpiresAt: now.Add(15 * time.Minute),
		UpdatedAt: now,
	}
	if orderID != "" {
		res.OrderID = &orderID
	}
	return res
}

func TestMemoryRepository_TransitionStateCAS(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	now := time.Now()

	res := activeReservation("", 2)
	require.NoError(t, repo.InsertReservation(ctx, res))

	ok, err := repo.TransitionState(ctx, res.ID, model.ReservationActive, model.ReservationExpired, "hold expired", now)
	require.NoError(t, err)
	assert.True(t, ok)

	// The row left Active; a second transition loses the swap without error.
	ok, err = repo.TransitionState(ctx, res.ID, model.ReservationActive, model.ReservationCancelled, "late cancel", now)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := repo.GetReservation(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationExpired, stored.State)
	assert.Equal(t, "hold expired", stored.Reason)
}

func TestMemoryRepository_ConfirmBatchAllOrNothing(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.UpsertStockLevel(ctx, &model.StockLevel{
		ProductID: "prod-1", StoreID: "store-1", Quantity: 10, UpdatedAt: now,
	}))

	good := activeReservation("ord-1", 2)
	require.NoError(t, repo.InsertReservation(ctx, good))

	bad := activeReservation("ord-1", 3)
	require.NoError(t, repo.InsertReservation(ctx, bad))
	ok, err := repo.TransitionState(ctx, bad.ID, model.ReservationActive, model.ReservationExpired, "", now)
	require.NoError(t, err)
	require.True(t, ok)

	err = repo.ConfirmBatch(ctx, []model.Reservation{*good, *bad}, "ord-1", now)
	assert.ErrorIs(t, err, reservation.ErrStateConflict)

	// Conflict leaves the batch untouched.
	stored, err := repo.GetReservation(ctx, good.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationActive, stored.State)

	level, err := repo.GetStockLevel(ctx, "prod-1", "store-1")
	require.NoError(t, err)
	assert.Equal(t, 10, level.Quantity)
}

func TestMemoryRepository_ConfirmBatchSettles(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.UpsertStockLevel(ctx, &model.StockLevel{
		ProductID: "prod-1", StoreID: "store-1", Quantity: 10, UpdatedAt: now,
	}))

	res := activeReservation("", 4)
	require.NoError(t, repo.InsertReservation(ctx, res))

	require.NoError(t, repo.ConfirmBatch(ctx, []model.Reservation{*res}, "ord-7", now))

	stored, err := repo.GetReservation(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationConfirmed, stored.State)
	require.NotNil(t, stored.OrderID)
	assert.Equal(t, "ord-7", *stored.OrderID)
	require.NotNil(t, stored.ConfirmedAt)

	level, err := repo.GetStockLevel(ctx, "prod-1", "store-1")
	require.NoError(t, err)
	assert.Equal(t, 6, level.Quantity)

	movements, err := repo.ListMovements(ctx, "prod-1", "store-1", 0)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, model.MovementSale, movements[0].MovementType)
	assert.Equal(t, -4, movements[0].Quantity)
}

func TestMemoryRepository_ReverseConfirmed(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.UpsertStockLevel(ctx, &model.StockLevel{
		ProductID: "prod-1", StoreID: "store-1", Quantity: 10, UpdatedAt: now,
	}))
	res := activeReservation("ord-1", 4)
	require.NoError(t, repo.InsertReservation(ctx, res))
	require.NoError(t, repo.ConfirmBatch(ctx, []model.Reservation{*res}, "ord-1", now))

	require.NoError(t, repo.ReverseConfirmed(ctx, res, "order returned", now))

	stored, err := repo.GetReservation(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationCancelled, stored.State)
	assert.Equal(t, "order returned", stored.Reason)

	level, err := repo.GetStockLevel(ctx, "prod-1", "store-1")
	require.NoError(t, err)
	assert.Equal(t, 10, level.Quantity)

	// Reversal is one-shot.
	err = repo.ReverseConfirmed(ctx, res, "again", now)
	assert.ErrorIs(t, err, reservation.ErrStateConflict)
}

func TestMemoryRepository_FindExpired(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	now := time.Now()

	fresh := activeReservation("", 1)
	require.NoError(t, repo.InsertReservation(ctx, fresh))

	lapsed := activeReservation("", 2)
	lapsed.ExpiresAt = now.Add(-time.Minute)
	require.NoError(t, repo.InsertReservation(ctx, lapsed))

	older := activeReservation("", 3)
	older.ExpiresAt = now.Add(-time.Hour)
	require.NoError(t, repo.InsertReservation(ctx, older))

	due, err := repo.FindExpired(ctx, now, 0)
	require.NoError(t, err)
	require.Len(t, due, 2)
	// Oldest deadline first.
	assert.Equal(t, older.ID, due[0].ID)
	assert.Equal(t, lapsed.ID, due[1].ID)

	limited, err := repo.FindExpired(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, older.ID, limited[0].ID)
}

func TestMemoryRepository_GetReservationReturnsCopy(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	res := activeReservation("", 1)
	require.NoError(t, repo.InsertReservation(ctx, res))

	got, err := repo.GetReservation(ctx, res.ID)
	require.NoError(t, err)
	got.State = model.ReservationCancelled

	again, err := repo.GetReservation(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationActive, again.State)
}
