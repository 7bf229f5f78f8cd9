package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/senyabanana/procurement-service/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const messageColumns = `id, order_id, sender_id, receiver_id, content, seq, created_at`

// PostgresMessageRepository - реализация MessageRepository для базы данных.
type PostgresMessageRepository struct {
	DB *pgxpool.Pool
}

// NewPostgresMessageRepository создает новый экземпляр PostgresMessageRepository.
func NewPostgresMessageRepository(db *pgxpool.Pool) *PostgresMessageRepository {
	return &PostgresMessageRepository{DB: db}
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var m models.Message
	if err := row.Scan(
		&m.ID,
		&m.OrderID,
		&m.SenderID,
		&m.ReceiverID,
		&m.Content,
		&m.Seq,
		&m.CreatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// AppendMessage добавляет сообщение в конец переписки. Номер выдается под
// транзакционной advisory-блокировкой по заказу, поэтому номера идут без пропусков.
func (r *PostgresMessageRepository) AppendMessage(ctx context.Context, msg models.Message) (*models.Message, error) {
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, msg.OrderID); err != nil {
		return nil, fmt.Errorf("failed to lock thread: %w", err)
	}

	stored, err := scanMessage(tx.QueryRow(ctx, `
		INSERT INTO messages (id, order_id, sender_id, receiver_id, content, seq, created_at)
		SELECT $1, $2, $3, $4, $5, COALESCE(MAX(seq), 0) + 1, clock_timestamp()
		FROM messages WHERE order_id = $2
		RETURNING `+messageColumns,
		msg.ID,
		msg.OrderID,
		msg.SenderID,
		msg.ReceiverID,
		msg.Content))
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit message: %w", err)
	}
	return stored, nil
}

// ListMessages возвращает сообщения с номером больше afterSeq по возрастанию номера.
func (r *PostgresMessageRepository) ListMessages(ctx context.Context, orderID string, afterSeq int64, limit int) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE order_id = $1 AND seq > $2 ORDER BY seq`
	args := []any{orderID, afterSeq}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := r.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

// LastMessage возвращает последнее сообщение переписки или nil.
func (r *PostgresMessageRepository) LastMessage(ctx context.Context, orderID string) (*models.Message, error) {
	m, err := scanMessage(r.DB.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages
		WHERE order_id = $1 ORDER BY seq DESC LIMIT 1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last message: %w", err)
	}
	return m, nil
}
