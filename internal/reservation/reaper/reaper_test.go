package reaper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fekuna/omnipos-reservation-service/internal/model"
	"github.com/fekuna/omnipos-reservation-service/internal/pkg/lock"
	"github.com/fekuna/omnipos-reservation-service/internal/reservation"
	"github.com/fekuna/omnipos-reservation-service/internal/reservation/dto"
	"github.com/fekuna/omnipos-reservation-service/internal/reservation/repository"
	"github.com/fekuna/omnipos-reservation-service/internal/reservation/usecase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestReaper(t *testing.T, holdTTL time.Duration) (*ExpiryReaper, reservation.UseCase, *repository.MemoryRepository) {
	t.Helper()
	repo := repository.NewMemoryRepository()
	uc := usecase.NewReservationUseCase(repo, lock.NewKeyedMutex(), zap.NewNop(), holdTTL)
	r := NewExpiryReaper(uc, zap.NewNop(), time.Minute, 100)
	return r, uc, repo
}

func seedAndReserve(t *testing.T, uc reservation.UseCase, repo reservation.Repository, qty int) *model.Reservation {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.UpsertStockLevel(ctx, &model.StockLevel{
		ProductID: "prod-1", StoreID: "store-1", Quantity: 10, UpdatedAt: time.Now(),
	}))
	res, err := uc.CreateReservation(ctx, &dto.CreateReservationInput{
		ProductID: "prod-1", StoreID: "store-1", Quantity: qty,
	})
	require.NoError(t, err)
	return res
}

func TestSweep_ReleasesExpiredHolds(t *testing.T) {
	r, uc, repo := newTestReaper(t, 20*time.Millisecond)
	ctx := context.Background()

	res := seedAndReserve(t, uc, repo, 10)
	time.Sleep(40 * time.Millisecond)

	assert.Equal(t, 1, r.Sweep(ctx))

	stored, err := repo.GetReservation(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationExpired, stored.State)

	// Expiry never touches physical stock; the hold simply stops counting.
	level, err := repo.GetStockLevel(ctx, "prod-1", "store-1")
	require.NoError(t, err)
	assert.Equal(t, 10, level.Quantity)

	avail, err := uc.Available(ctx, "prod-1", "store-1")
	require.NoError(t, err)
	assert.Equal(t, 10, avail.Available)
}

func TestSweep_Idempotent(t *testing.T) {
	r, uc, repo := newTestReaper(t, 20*time.Millisecond)
	ctx := context.Background()

	seedAndReserve(t, uc, repo, 5)
	time.Sleep(40 * time.Millisecond)

	assert.Equal(t, 1, r.Sweep(ctx))
	assert.Equal(t, 0, r.Sweep(ctx))
}

func TestSweep_SafeToRunConcurrently(t *testing.T) {
	r, uc, repo := newTestReaper(t, 20*time.Millisecond)
	ctx := context.Background()

	seedAndReserve(t, uc, repo, 5)
	time.Sleep(40 * time.Millisecond)

	// Two workers racing over the same expired row: exactly one wins it.
	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := r.Sweep(ctx)
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, total)
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	repo := repository.NewMemoryRepository()
	uc := usecase.NewReservationUseCase(repo, lock.NewKeyedMutex(), zap.NewNop(), 0)
	r := NewExpiryReaper(uc, zap.NewNop(), 5*time.Millisecond, 100)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop on context cancel")
	}
}
