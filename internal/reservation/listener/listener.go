package listener

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fekuna/omnipos-reservation-service/internal/pkg/broker"
	"github.com/fekuna/omnipos-reservation-service/internal/reservation"
	"github.com/fekuna/omnipos-reservation-service/internal/reservation/dto"
	"go.uber.org/zap"
)

// OrderListener drives the reservation engine from the checkout flow's order
// events: reserve on order creation, confirm on payment, release on
// cancellation.
type OrderListener struct {
	consumer *broker.KafkaConsumer
	uc       reservation.UseCase
	logger   *zap.Logger
}

func NewOrderListener(consumer *broker.KafkaConsumer, uc reservation.UseCase, logger *zap.Logger) *OrderListener {
	return &OrderListener{
		consumer: consumer,
		uc:       uc,
		logger:   logger,
	}
}

func (l *OrderListener) Start(ctx context.Context) {
	l.logger.Info("starting order events listener")
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("stopping order events listener")
			return
		default:
			msg, err := l.consumer.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				l.logger.Error("failed to read kafka message", zap.Error(err))
				time.Sleep(1 * time.Second)
				continue
			}
			l.processMessage(ctx, msg.Value)
		}
	}
}

type orderEvent struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

type orderCreatedPayload struct {
	OrderID string `json:"order_id"`
	StoreID string `json:"store_id"`
	Items   []struct {
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
	} `json:"items"`
}

type paymentConfirmedPayload struct {
	OrderID        string   `json:"order_id"`
	ReservationIDs []string `json:"reservation_ids"`
}

type orderCancelledPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

func (l *OrderListener) processMessage(ctx context.Context, value []byte) {
	var event orderEvent
	if err := json.Unmarshal(value, &event); err != nil {
		l.logger.Error("failed to unmarshal order event", zap.Error(err))
		return
	}

	switch event.EventType {
	case "OrderCreated":
		l.handleOrderCreated(ctx, event)
	case "PaymentConfirmed":
		l.handlePaymentConfirmed(ctx, event)
	case "OrderCancelled":
		l.handleOrderCancelled(ctx, event)
	}
}

func (l *OrderListener) handleOrderCreated(ctx context.Context, event orderEvent) {
	var payload orderCreatedPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		l.logger.Error("failed to unmarshal OrderCreated payload", zap.Error(err))
		return
	}

	input := &dto.ReserveCartInput{
		OrderID: payload.OrderID,
		StoreID: payload.StoreID,
	}
	for _, item := range payload.Items {
		input.Lines = append(input.Lines, dto.CartLine{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}

	created, err := l.uc.ReserveCart(ctx, input)
	if err != nil {
		var insufficient *reservation.InsufficientStockError
		if errors.As(err, &insufficient) {
			// Recoverable outcome the checkout flow shows to the shopper,
			// with a precise shortfall.
			l.logger.Warn("order cannot be reserved",
				zap.String("order_id", payload.OrderID),
				zap.String("product_id", insufficient.ProductID),
				zap.Int("requested", insufficient.Requested),
				zap.Int("available", insufficient.Available),
			)
			return
		}
		l.logger.Error("failed to reserve order cart",
			zap.String("order_id", payload.OrderID),
			zap.Error(err),
		)
		return
	}

	l.logger.Info("order cart reserved",
		zap.String("order_id", payload.OrderID),
		zap.Int("reservations", len(created)),
	)
}

func (l *OrderListener) handlePaymentConfirmed(ctx context.Context, event orderEvent) {
	var payload paymentConfirmedPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		l.logger.Error("failed to unmarshal PaymentConfirmed payload", zap.Error(err))
		return
	}

	ids := payload.ReservationIDs
	if len(ids) == 0 {
		// Payment events do not have to carry reservation ids; fall back to
		// the order's own reservations.
		items, err := l.uc.OrderReservations(ctx, payload.OrderID)
		if err != nil {
			l.logger.Error("failed to load order reservations",
				zap.String("order_id", payload.OrderID),
				zap.Error(err),
			)
			return
		}
		for _, res := range items {
			ids = append(ids, res.ID)
		}
	}
	if len(ids) == 0 {
		l.logger.Warn("payment confirmed for order without reservations",
			zap.String("order_id", payload.OrderID))
		return
	}

	if err := l.uc.ConfirmSale(ctx, payload.OrderID, ids); err != nil {
		l.logger.Error("failed to confirm sale",
			zap.String("order_id", payload.OrderID),
			zap.Error(err),
		)
		return
	}
	l.logger.Info("sale confirmed from payment event", zap.String("order_id", payload.OrderID))
}

func (l *OrderListener) handleOrderCancelled(ctx context.Context, event orderEvent) {
	var payload orderCancelledPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		l.logger.Error("failed to unmarshal OrderCancelled payload", zap.Error(err))
		return
	}

	err := l.uc.CancelSale(ctx, payload.OrderID, payload.Reason)
	if err != nil {
		var notFound *reservation.NotFoundError
		if errors.As(err, &notFound) {
			// Nothing was reserved for this order, nothing to release.
			return
		}
		l.logger.Error("failed to cancel sale",
			zap.String("order_id", payload.OrderID),
			zap.Error(err),
		)
		return
	}
	l.logger.Info("sale cancelled, holds released", zap.String("order_id", payload.OrderID))
}
