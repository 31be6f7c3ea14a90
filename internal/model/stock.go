package model

import "time"

type StockLevel struct {
	ProductID string    `db:"product_id"`
	StoreID   string    `db:"store_id"`
	Quantity  int       `db:"quantity"`
	UpdatedAt time.Time `db:"updated_at"`
}

const (
	MovementSale             = "sale"
	MovementSaleCancellation = "sale_cancellation"
)

type StockMovement struct {
	ID            string    `db:"id"`
	ProductID     string    `db:"product_id"`
	StoreID       string    `db:"store_id"`
	MovementType  string    `db:"movement_type"`
	Quantity      int       `db:"quantity"` // signed: negative for deduction, positive for return
	ReservationID *string   `db:"reservation_id"`
	OrderID       *string   `db:"order_id"`
	Reason        string    `db:"reason"`
	CreatedAt     time.Time `db:"created_at"`
}
