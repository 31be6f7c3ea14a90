package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fekuna/omnipos-reservation-service/internal/model"
	"github.com/fekuna/omnipos-reservation-service/internal/reservation"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type PGRepository struct {
	DB *sqlx.DB
}

func NewPGRepository(db *sqlx.DB) *PGRepository {
	return &PGRepository{DB: db}
}

func (r *PGRepository) GetReservation(ctx context.Context, id string) (*model.Reservation, error) {
	var res model.Reservation
	err := r.DB.GetContext(ctx, &res, `SELECT * FROM stock_reservations WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Caller decides whether absence is an error
		}
		return nil, err
	}
	return &res, nil
}

func (r *PGRepository) InsertReservation(ctx context.Context, res *model.Reservation) error {
	query := `
        INSERT INTO stock_reservations (
            id, product_id, store_id, order_id, quantity, state, reason,
            created_at, expires_at, confirmed_at, cancelled_at, updated_at
        )
        VALUES (
            :id, :product_id, :store_id, :order_id, :quantity, :state, :reason,
            :created_at, :expires_at, :confirmed_at, :cancelled_at, :updated_at
        )
    `
	_, err := r.DB.NamedExecContext(ctx, query, res)
	return err
}

func (r *PGRepository) ListByOrder(ctx context.Context, orderID string) ([]model.Reservation, error) {
	var items []model.Reservation
	err := r.DB.SelectContext(ctx, &items,
		`SELECT * FROM stock_reservations WHERE order_id = $1 ORDER BY created_at ASC`, orderID)
	return items, err
}

func (r *PGRepository) ListActiveByKey(ctx context.Context, productID, storeID string) ([]model.Reservation, error) {
	var items []model.Reservation
	err := r.DB.SelectContext(ctx, &items, `
        SELECT * FROM stock_reservations
        WHERE product_id = $1 AND store_id = $2 AND state = $3
        ORDER BY created_at ASC
    `, productID, storeID, model.ReservationActive)
	return items, err
}

func (r *PGRepository) ListActiveByStore(ctx context.Context, storeID string) ([]model.Reservation, error) {
	var items []model.Reservation
	err := r.DB.SelectContext(ctx, &items, `
        SELECT * FROM stock_reservations
        WHERE store_id = $1 AND state = $2
        ORDER BY created_at ASC
    `, storeID, model.ReservationActive)
	return items, err
}

func (r *PGRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error) {
	query := `
        SELECT * FROM stock_reservations
        WHERE state = $1 AND expires_at < $2
        ORDER BY expires_at ASC
    `
	args := []interface{}{model.ReservationActive, now}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	var items []model.Reservation
	err := r.DB.SelectContext(ctx, &items, query, args...)
	return items, err
}

// transitionQuery flips state only when the row is still in the expected
// state, so a racing confirm/cancel/expire resolves to exactly one winner.
const transitionQuery = `
    UPDATE stock_reservations
    SET state = $1,
        reason = CASE WHEN $2 <> '' THEN $2 ELSE reason END,
        updated_at = $3,
        confirmed_at = CASE WHEN $1 = 'confirmed' THEN $3 ELSE confirmed_at END,
        cancelled_at = CASE WHEN $1 = 'cancelled' THEN $3 ELSE cancelled_at END
    WHERE id = $4 AND state = $5
`

func (r *PGRepository) TransitionState(ctx context.Context, id string, from, to model.ReservationState, reason string, now time.Time) (bool, error) {
	result, err := r.DB.ExecContext(ctx, transitionQuery, to, reason, now, id, from)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (r *PGRepository) GetStockLevel(ctx context.Context, productID, storeID string) (*model.StockLevel, error) {
	var level model.StockLevel
	err := r.DB.GetContext(ctx, &level,
		`SELECT * FROM stock_levels WHERE product_id = $1 AND store_id = $2`, productID, storeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // No stock row means zero physical stock
		}
		return nil, err
	}
	return &level, nil
}

func (r *PGRepository) UpsertStockLevel(ctx context.Context, level *model.StockLevel) error {
	query := `
        INSERT INTO stock_levels (product_id, store_id, quantity, updated_at)
        VALUES (:product_id, :store_id, :quantity, :updated_at)
        ON CONFLICT (product_id, store_id)
        DO UPDATE SET
            quantity = EXCLUDED.quantity,
            updated_at = EXCLUDED.updated_at
    `
	_, err := r.DB.NamedExecContext(ctx, query, level)
	return err
}

func (r *PGRepository) ListMovements(ctx context.Context, productID, storeID string, limit int) ([]model.StockMovement, error) {
	query := `
        SELECT * FROM stock_movements
        WHERE product_id = $1 AND store_id = $2
        ORDER BY created_at DESC
    `
	args := []interface{}{productID, storeID}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	var items []model.StockMovement
	err := r.DB.SelectContext(ctx, &items, query, args...)
	return items, err
}

const insertMovementQuery = `
    INSERT INTO stock_movements (
        id, product_id, store_id, movement_type, quantity,
        reservation_id, order_id, reason, created_at
    )
    VALUES (
        :id, :product_id, :store_id, :movement_type, :quantity,
        :reservation_id, :order_id, :reason, :created_at
    )
`

func (r *PGRepository) ConfirmBatch(ctx context.Context, reservations []model.Reservation, orderID string, now time.Time) error {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Unlike transitionQuery this also stamps the order id: a reservation
	// created before the order existed gets attributed at confirm time.
	confirmQuery := `
        UPDATE stock_reservations
        SET state = $1, order_id = $2, confirmed_at = $3, updated_at = $3
        WHERE id = $4 AND state = $5
    `

	for i := range reservations {
		res := &reservations[i]

		result, err := tx.ExecContext(ctx, confirmQuery,
			model.ReservationConfirmed, orderID, now, res.ID, model.ReservationActive)
		if err != nil {
			return fmt.Errorf("failed to confirm reservation %s: %w", res.ID, err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return reservation.ErrStateConflict
		}

		// Guard keeps physical stock non-negative even if a path outside the
		// lock discipline raced us.
		result, err = tx.ExecContext(ctx, `
            UPDATE stock_levels
            SET quantity = quantity - $1, updated_at = $2
            WHERE product_id = $3 AND store_id = $4 AND quantity >= $1
        `, res.Quantity, now, res.ProductID, res.StoreID)
		if err != nil {
			return fmt.Errorf("failed to deduct stock for reservation %s: %w", res.ID, err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return reservation.ErrStateConflict
		}

		movement := &model.StockMovement{
			ID:            uuid.New().String(),
			ProductID:     res.ProductID,
			StoreID:       res.StoreID,
			MovementType:  model.MovementSale,
			Quantity:      -res.Quantity,
			ReservationID: &res.ID,
			OrderID:       &orderID,
			Reason:        "sale confirmed",
			CreatedAt:     now,
		}
		if _, err := tx.NamedExecContext(ctx, insertMovementQuery, movement); err != nil {
			return fmt.Errorf("failed to log sale movement for reservation %s: %w", res.ID, err)
		}
	}

	return tx.Commit()
}

func (r *PGRepository) ReverseConfirmed(ctx context.Context, res *model.Reservation, reason string, now time.Time) error {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, transitionQuery,
		model.ReservationCancelled, reason, now, res.ID, model.ReservationConfirmed)
	if err != nil {
		return fmt.Errorf("failed to cancel reservation %s: %w", res.ID, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return reservation.ErrStateConflict
	}

	_, err = tx.ExecContext(ctx, `
        INSERT INTO stock_levels (product_id, store_id, quantity, updated_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (product_id, store_id)
        DO UPDATE SET
            quantity = stock_levels.quantity + EXCLUDED.quantity,
            updated_at = EXCLUDED.updated_at
    `, res.ProductID, res.StoreID, res.Quantity, now)
	if err != nil {
		return fmt.Errorf("failed to return stock for reservation %s: %w", res.ID, err)
	}

	movement := &model.StockMovement{
		ID:            uuid.New().String(),
		ProductID:     res.ProductID,
		StoreID:       res.StoreID,
		MovementType:  model.MovementSaleCancellation,
		Quantity:      res.Quantity,
		ReservationID: &res.ID,
		OrderID:       res.OrderID,
		Reason:        reason,
		CreatedAt:     now,
	}
	if _, err := tx.NamedExecContext(ctx, insertMovementQuery, movement); err != nil {
		return fmt.Errorf("failed to log cancellation movement for reservation %s: %w", res.ID, err)
	}

	return tx.Commit()
}
