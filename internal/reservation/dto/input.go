package dto

type CreateReservationInput struct {
	ProductID string
	StoreID   string
	Quantity  int
	OrderID   *string
}

type CartLine struct {
	ProductID string
	Quantity  int
}

type ReserveCartInput struct {
	OrderID string
	StoreID string
	Lines   []CartLine
}
