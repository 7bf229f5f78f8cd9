package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/senyabanana/procurement-service/internal/models"
	"github.com/senyabanana/procurement-service/internal/utils"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

// querier - общее подмножество pgxpool.Pool и pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const orderColumns = `id, buyer_id, quantity, quality_parameters, region, delivery_location,
	loading_date, additional_notes, status, created_at, updated_at`

// PostgresOrderRepository - реализация OrderRepository для базы данных.
type PostgresOrderRepository struct {
	DB *pgxpool.Pool
}

// NewPostgresOrderRepository создаёт новый экземпляр PostgresOrderRepository.
func NewPostgresOrderRepository(db *pgxpool.Pool) *PostgresOrderRepository {
	return &PostgresOrderRepository{DB: db}
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	var (
		o       models.Order
		quality []byte
	)
	if err := row.Scan(
		&o.ID,
		&o.BuyerID,
		&o.Quantity,
		&quality,
		&o.Region,
		&o.DeliveryLocation,
		&o.LoadingDate,
		&o.AdditionalNotes,
		&o.Status,
		&o.CreatedAt,
		&o.UpdatedAt); err != nil {
		return nil, err
	}
	if len(quality) > 0 {
		if err := json.Unmarshal(quality, &o.QualityParameters); err != nil {
			return nil, fmt.Errorf("failed to decode quality parameters: %w", err)
		}
	}
	return &o, nil
}

func collectOrders(rows pgx.Rows) ([]models.Order, error) {
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func getOrder(ctx context.Context, q querier, orderID string, lockClause string) (*models.Order, error) {
	order, err := scanOrder(q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 `+lockClause, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orderNotFound(orderID)
	}
	if err != nil {
		if busy := orderBusy(orderID, err); busy != err {
			return nil, busy
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// CreateOrder создает новый заказ.
func (r *PostgresOrderRepository) CreateOrder(ctx context.Context, order models.Order) (*models.Order, error) {
	quality, err := json.Marshal(order.QualityParameters)
	if err != nil {
		return nil, fmt.Errorf("failed to encode quality parameters: %w", err)
	}
	if order.QualityParameters == nil {
		quality = []byte("{}")
	}

	now := time.Now().UTC()
	order.CreatedAt, order.UpdatedAt = now, now
	_, err = r.DB.Exec(ctx, `
		INSERT INTO orders (id, buyer_id, quantity, quality_parameters, region, delivery_location,
		                    loading_date, additional_notes, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8, $9, $10, $11)
	`,
		order.ID,
		order.BuyerID,
		order.Quantity,
		string(quality),
		order.Region,
		order.DeliveryLocation,
		order.LoadingDate,
		order.AdditionalNotes,
		order.Status,
		order.CreatedAt,
		order.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}
	return &order, nil
}

// GetOrder возвращает заказ по ID.
func (r *PostgresOrderRepository) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return getOrder(ctx, r.DB, orderID, "")
}

// ListActiveOrders возвращает страницу активных заказов, новые первыми.
func (r *PostgresOrderRepository) ListActiveOrders(ctx context.Context, filter models.OrderFilter, cursor *utils.Cursor, limit int) ([]models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders`
	filters := []string{"status = $1"}
	args := []any{models.ActiveOrder}
	argIndex := 2

	if len(filter.Regions) > 0 {
		regions := make([]string, 0, len(filter.Regions))
		for _, region := range filter.Regions {
			regions = append(regions, strings.ToLower(region))
		}
		filters = append(filters, fmt.Sprintf("lower(region) = ANY($%d)", argIndex))
		args = append(args, pq.Array(regions))
		argIndex++
	}

	if filter.BuyerID != "" {
		filters = append(filters, fmt.Sprintf("buyer_id = $%d", argIndex))
		args = append(args, filter.BuyerID)
		argIndex++
	}

	if cursor != nil {
		filters = append(filters, fmt.Sprintf("(created_at, id) < ($%d, $%d)", argIndex, argIndex+1))
		args = append(args, cursor.CreatedAt, cursor.ID)
		argIndex += 2
	}

	query += " WHERE " + strings.Join(filters, " AND ")
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", argIndex)
	args = append(args, limit)

	rows, err := r.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list active orders: %w", err)
	}
	return collectOrders(rows)
}

// ListBuyerOrders возвращает все заказы покупателя, новые первыми.
func (r *PostgresOrderRepository) ListBuyerOrders(ctx context.Context, buyerID string) ([]models.Order, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE buyer_id = $1 ORDER BY created_at DESC, id DESC`, buyerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list buyer orders: %w", err)
	}
	return collectOrders(rows)
}

// TransitionStatus меняет статус заказа, только если текущий статус равен ожидаемому.
func (r *PostgresOrderRepository) TransitionStatus(ctx context.Context, orderID string, expected, next models.OrderStatus) (*models.Order, error) {
	return transitionStatus(ctx, r.DB, orderID, expected, next)
}

func transitionStatus(ctx context.Context, q querier, orderID string, expected, next models.OrderStatus) (*models.Order, error) {
	order, err := scanOrder(q.QueryRow(ctx, `
		UPDATE orders SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3
		RETURNING `+orderColumns, next, orderID, expected))
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	current, err := getOrder(ctx, q, orderID, "")
	if err != nil {
		return nil, err
	}
	return nil, models.NewConflictError("order %s status is %s, expected %s", orderID, current.Status, expected)
}
