package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/senyabanana/procurement-service/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const bidColumns = `id, order_id, center_id, price::text, notes, image_refs, status, created_at, updated_at`

// PostgresBidRepository - реализация BidRepository для базы данных.
type PostgresBidRepository struct {
	DB *pgxpool.Pool
}

// NewPostgresBidRepository создает новый экземпляр PostgresBidRepository.
func NewPostgresBidRepository(db *pgxpool.Pool) *PostgresBidRepository {
	return &PostgresBidRepository{DB: db}
}

func scanBid(row pgx.Row) (*models.Bid, error) {
	var (
		b     models.Bid
		price string
	)
	if err := row.Scan(
		&b.ID,
		&b.OrderID,
		&b.CenterID,
		&price,
		&b.Notes,
		&b.ImageRefs,
		&b.Status,
		&b.CreatedAt,
		&b.UpdatedAt); err != nil {
		return nil, err
	}
	parsed, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bid price %q: %w", price, err)
	}
	b.Price = parsed
	if b.ImageRefs == nil {
		b.ImageRefs = []string{}
	}
	return &b, nil
}

func collectBids(rows pgx.Rows) ([]models.Bid, error) {
	defer rows.Close()

	bids := []models.Bid{}
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		bids = append(bids, *b)
	}
	return bids, rows.Err()
}

func getBid(ctx context.Context, q querier, bidID string, lockClause string) (*models.Bid, error) {
	bid, err := scanBid(q.QueryRow(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = $1 `+lockClause, bidID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, bidNotFound(bidID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bid: %w", err)
	}
	return bid, nil
}

// CreateBid создает новое предложение. Строка заказа блокируется на время вставки,
// чтобы заказ не сменил статус между проверкой и записью.
func (r *PostgresBidRepository) CreateBid(ctx context.Context, bid models.Bid) (*models.Bid, error) {
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	order, err := getOrder(ctx, tx, bid.OrderID, "FOR SHARE")
	if err != nil {
		return nil, err
	}
	if order.Status != models.ActiveOrder {
		return nil, orderNotActive(order.ID, order.Status)
	}

	now := time.Now().UTC()
	bid.Status = models.PendingBid
	bid.CreatedAt, bid.UpdatedAt = now, now
	if bid.ImageRefs == nil {
		bid.ImageRefs = []string{}
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO bids (id, order_id, center_id, price, notes, image_refs, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4::text::numeric, $5, $6, $7, $8, $9)
	`,
		bid.ID,
		bid.OrderID,
		bid.CenterID,
		bid.Price.String(),
		bid.Notes,
		pq.Array(bid.ImageRefs),
		bid.Status,
		bid.CreatedAt,
		bid.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert bid: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit bid: %w", err)
	}
	return &bid, nil
}

// GetBid возвращает предложение по ID.
func (r *PostgresBidRepository) GetBid(ctx context.Context, bidID string) (*models.Bid, error) {
	return getBid(ctx, r.DB, bidID, "")
}

// ListOrderBids возвращает предложения по заказу, новые первыми.
func (r *PostgresBidRepository) ListOrderBids(ctx context.Context, orderID string) ([]models.Bid, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+bidColumns+` FROM bids
		WHERE order_id = $1 ORDER BY created_at DESC, id DESC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list order bids: %w", err)
	}
	return collectBids(rows)
}

// ListCenterBids возвращает предложения пункта сбора, новые первыми.
func (r *PostgresBidRepository) ListCenterBids(ctx context.Context, centerID string) ([]models.Bid, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+bidColumns+` FROM bids
		WHERE center_id = $1 ORDER BY created_at DESC, id DESC`, centerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list center bids: %w", err)
	}
	return collectBids(rows)
}

// ListBidderIDs возвращает пункты сбора, делавшие предложения по заказу, в любом статусе.
func (r *PostgresBidRepository) ListBidderIDs(ctx context.Context, orderID string) ([]string, error) {
	rows, err := r.DB.Query(ctx, `SELECT center_id FROM bids WHERE order_id = $1
		GROUP BY center_id ORDER BY min(created_at)`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bidders: %w", err)
	}
	defer rows.Close()

	var centers []string
	for rows.Next() {
		var centerID string
		if err := rows.Scan(&centerID); err != nil {
			return nil, err
		}
		centers = append(centers, centerID)
	}
	return centers, rows.Err()
}

// UpdatePendingBid меняет цену, заметки и изображения предложения в статусе pending.
func (r *PostgresBidRepository) UpdatePendingBid(ctx context.Context, bidID string, update models.BidUpdate) (*models.Bid, error) {
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := getBid(ctx, tx, bidID, "FOR UPDATE")
	if err != nil {
		return nil, err
	}
	if current.Status != models.PendingBid {
		return nil, bidNotPending(bidID, current.Status)
	}
	order, err := getOrder(ctx, tx, current.OrderID, "FOR SHARE")
	if err != nil {
		return nil, err
	}
	if order.Status != models.ActiveOrder {
		return nil, orderNotActive(order.ID, order.Status)
	}

	updates := []string{"updated_at = now()"}
	var args []any
	argIndex := 1

	if update.Price != nil {
		updates = append(updates, fmt.Sprintf("price = $%d::text::numeric", argIndex))
		args = append(args, update.Price.String())
		argIndex++
	}
	if update.Notes != nil {
		updates = append(updates, fmt.Sprintf("notes = $%d", argIndex))
		args = append(args, *update.Notes)
		argIndex++
	}
	if update.ImageRefs != nil {
		updates = append(updates, fmt.Sprintf("image_refs = $%d", argIndex))
		args = append(args, pq.Array(update.ImageRefs))
		argIndex++
	}

	query := `UPDATE bids SET ` + strings.Join(updates, ", ") +
		fmt.Sprintf(" WHERE id = $%d RETURNING ", argIndex) + bidColumns
	args = append(args, bidID)

	updated, err := scanBid(tx.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("failed to update bid: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit bid update: %w", err)
	}
	return updated, nil
}

// WithdrawBid переводит предложение из pending в withdrawn.
func (r *PostgresBidRepository) WithdrawBid(ctx context.Context, bidID string) (*models.Bid, error) {
	bid, err := scanBid(r.DB.QueryRow(ctx, `
		UPDATE bids SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3
		RETURNING `+bidColumns, models.WithdrawnBid, bidID, models.PendingBid))
	if err == nil {
		return bid, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to withdraw bid: %w", err)
	}

	current, err := getBid(ctx, r.DB, bidID, "")
	if err != nil {
		return nil, err
	}
	return nil, bidNotPending(bidID, current.Status)
}

// AcceptBid принимает предложение, отклоняет остальные pending-предложения
// и переводит заказ в in_progress одной транзакцией.
func (r *PostgresBidRepository) AcceptBid(ctx context.Context, bidID string) (*models.AcceptResult, error) {
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	target, err := getBid(ctx, tx, bidID, "")
	if err != nil {
		return nil, err
	}
	// Порядок блокировок: сначала заказ, затем его предложения.
	order, err := getOrder(ctx, tx, target.OrderID, "FOR UPDATE")
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `SELECT `+bidColumns+` FROM bids
		WHERE order_id = $1 ORDER BY created_at, id FOR UPDATE`, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock order bids: %w", err)
	}
	bids, err := collectBids(rows)
	if err != nil {
		return nil, orderBusy(order.ID, err)
	}

	for _, b := range bids {
		if b.ID == bidID {
			target = &b
			break
		}
	}
	if target.Status != models.PendingBid {
		return nil, bidNotPending(bidID, target.Status)
	}
	if order.Status != models.ActiveOrder {
		return nil, orderNotActive(order.ID, order.Status)
	}

	accepted, err := scanBid(tx.QueryRow(ctx, `
		UPDATE bids SET status = $1, updated_at = now()
		WHERE id = $2 RETURNING `+bidColumns, models.AcceptedBid, bidID))
	if isUniqueViolation(err) {
		return nil, models.NewConflictError("order %s already has an accepted bid", order.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to accept bid: %w", err)
	}

	rows, err = tx.Query(ctx, `
		UPDATE bids SET status = $1, updated_at = now()
		WHERE order_id = $2 AND status = $3 AND id <> $4
		RETURNING `+bidColumns, models.RejectedBid, order.ID, models.PendingBid, bidID)
	if err != nil {
		return nil, fmt.Errorf("failed to reject competing bids: %w", err)
	}
	rejected, err := collectBids(rows)
	if err != nil {
		return nil, err
	}

	updatedOrder, err := transitionStatus(ctx, tx, order.ID, models.ActiveOrder, models.InProgressOrder)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit acceptance: %w", err)
	}
	return &models.AcceptResult{
		Order:        *updatedOrder,
		AcceptedBid:  *accepted,
		RejectedBids: rejected,
	}, nil
}
