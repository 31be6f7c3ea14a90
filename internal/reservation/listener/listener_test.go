package listener

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/fekuna/omnipos-reservation-service/internal/model"
	"github.com/fekuna/omnipos-reservation-service/internal/pkg/lock"
	"github.com/fekuna/omnipos-reservation-service/internal/reservation"
	"github.com/fekuna/omnipos-reservation-service/internal/reservation/repository"
	"github.com/fekuna/omnipos-reservation-service/internal/reservation/usecase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestListener(t *testing.T) (*OrderListener, reservation.UseCase, *repository.MemoryRepository) {
	t.Helper()
	repo := repository.NewMemoryRepository()
	uc := usecase.NewReservationUseCase(repo, lock.NewKeyedMutex(), zap.NewNop(), 0)
	return NewOrderListener(nil, uc, zap.NewNop()), uc, repo
}

func event(t *testing.T, eventType string, payload interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	msg, err := json.Marshal(map[string]interface{}{
		"event_id":   "evt-1",
		"event_type": eventType,
		"payload":    json.RawMessage(raw),
		"timestamp":  time.Now(),
	})
	require.NoError(t, err)
	return msg
}

func seed(t *testing.T, repo reservation.Repository, productID string, qty int) {
	t.Helper()
	require.NoError(t, repo.UpsertStockLevel(context.Background(), &model.StockLevel{
		ProductID: productID, StoreID: "store-1", Quantity: qty, UpdatedAt: time.Now(),
	}))
}

func TestProcessMessage_OrderCreatedReservesCart(t *testing.T) {
	l, uc, repo := newTestListener(t)
	ctx := context.Background()
	seed(t, repo, "prod-1", 10)
	seed(t, repo, "prod-2", 10)

	l.processMessage(ctx, event(t, "OrderCreated", map[string]interface{}{
		"order_id": "ord-1",
		"store_id": "store-1",
		"items": []map[string]interface{}{
			{"product_id": "prod-1", "quantity": 2},
			{"product_id": "prod-2", "quantity": 3},
		},
	}))

	items, err := uc.OrderReservations(ctx, "ord-1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, res := range items {
		assert.Equal(t, model.ReservationActive, res.State)
	}
}

func TestProcessMessage_OrderCreatedInsufficientStockLeavesNoHolds(t *testing.T) {
	l, uc, repo := newTestListener(t)
	ctx := context.Background()
	seed(t, repo, "prod-1", 10)
	seed(t, repo, "prod-2", 1)

	l.processMessage(ctx, event(t, "OrderCreated", map[string]interface{}{
		"order_id": "ord-1",
		"store_id": "store-1",
		"items": []map[string]interface{}{
			{"product_id": "prod-1", "quantity": 2},
			{"product_id": "prod-2", "quantity": 5},
		},
	}))

	// The failed cart was rolled back; nothing stays reserved.
	avail, err := uc.Available(ctx, "prod-1", "store-1")
	require.NoError(t, err)
	assert.Equal(t, 10, avail.Available)
}

func TestProcessMessage_PaymentConfirmedSettlesOrder(t *testing.T) {
	l, uc, repo := newTestListener(t)
	ctx := context.Background()
	seed(t, repo, "prod-1", 10)

	l.processMessage(ctx, event(t, "OrderCreated", map[string]interface{}{
		"order_id": "ord-1",
		"store_id": "store-1",
		"items":    []map[string]interface{}{{"product_id": "prod-1", "quantity": 4}},
	}))

	// No reservation ids in the payment event: the listener resolves them
	// from the order.
	l.processMessage(ctx, event(t, "PaymentConfirmed", map[string]interface{}{
		"order_id": "ord-1",
	}))

	items, err := uc.OrderReservations(ctx, "ord-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, model.ReservationConfirmed, items[0].State)

	level, err := repo.GetStockLevel(ctx, "prod-1", "store-1")
	require.NoError(t, err)
	assert.Equal(t, 6, level.Quantity)
}

func TestProcessMessage_OrderCancelledReleasesHolds(t *testing.T) {
	l, uc, repo := newTestListener(t)
	ctx := context.Background()
	seed(t, repo, "prod-1", 10)

	l.processMessage(ctx, event(t, "OrderCreated", map[string]interface{}{
		"order_id": "ord-1",
		"store_id": "store-1",
		"items":    []map[string]interface{}{{"product_id": "prod-1", "quantity": 4}},
	}))

	l.processMessage(ctx, event(t, "OrderCancelled", map[string]interface{}{
		"order_id": "ord-1",
		"reason":   "payment declined",
	}))

	items, err := uc.OrderReservations(ctx, "ord-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, model.ReservationCancelled, items[0].State)
	assert.Equal(t, "payment declined", items[0].Reason)

	avail, err := uc.Available(ctx, "prod-1", "store-1")
	require.NoError(t, err)
	assert.Equal(t, 10, avail.Available)
}

func TestProcessMessage_IgnoresUnknownEvents(t *testing.T) {
	l, _, _ := newTestListener(t)

	// Must not panic or touch anything.
	l.processMessage(context.Background(), event(t, "CustomerRegistered", map[string]interface{}{
		"customer_id": "cust-1",
	}))
	l.processMessage(context.Background(), []byte("not json"))
}
