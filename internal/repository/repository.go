package repository

import (
	"context"
	"errors"

	"github.com/senyabanana/procurement-service/internal/models"
	"github.com/senyabanana/procurement-service/internal/utils"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	uniqueViolation  = "23505"
	lockNotAvailable = "55P03"
)

// OrderRepository - интерфейс для работы с заказами.
type OrderRepository interface {
	CreateOrder(ctx context.Context, order models.Order) (*models.Order, error)
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	ListActiveOrders(ctx context.Context, filter models.OrderFilter, cursor *utils.Cursor, limit int) ([]models.Order, error)
	ListBuyerOrders(ctx context.Context, buyerID string) ([]models.Order, error)
	TransitionStatus(ctx context.Context, orderID string, expected, next models.OrderStatus) (*models.Order, error)
}

// BidRepository - интерфейс для работы с предложениями.
type BidRepository interface {
	CreateBid(ctx context.Context, bid models.Bid) (*models.Bid, error)
	GetBid(ctx context.Context, bidID string) (*models.Bid, error)
	ListOrderBids(ctx context.Context, orderID string) ([]models.Bid, error)
	ListCenterBids(ctx context.Context, centerID string) ([]models.Bid, error)
	ListBidderIDs(ctx context.Context, orderID string) ([]string, error)
	UpdatePendingBid(ctx context.Context, bidID string, update models.BidUpdate) (*models.Bid, error)
	WithdrawBid(ctx context.Context, bidID string) (*models.Bid, error)
	AcceptBid(ctx context.Context, bidID string) (*models.AcceptResult, error)
}

// MessageRepository - интерфейс для работы с перепиской по заказу.
type MessageRepository interface {
	AppendMessage(ctx context.Context, msg models.Message) (*models.Message, error)
	ListMessages(ctx context.Context, orderID string, afterSeq int64, limit int) ([]models.Message, error)
	LastMessage(ctx context.Context, orderID string) (*models.Message, error)
}

func orderNotFound(orderID string) error {
	return models.NewNotFoundError("order %s not found", orderID)
}

func bidNotFound(bidID string) error {
	return models.NewNotFoundError("bid %s not found", bidID)
}

func orderNotActive(orderID string, status models.OrderStatus) error {
	return models.NewConflictError("order %s is not active (status %s)", orderID, status)
}

func bidNotPending(bidID string, status models.BidStatus) error {
	return models.NewConflictError("bid %s is no longer pending (status %s)", bidID, status)
}

// isUniqueViolation сообщает, что запись нарушила уникальный индекс.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// orderBusy превращает истекший lock_timeout в конфликт, который можно повторить.
func orderBusy(orderID string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == lockNotAvailable {
		return models.NewConflictError("order %s is busy, retry", orderID).WithCause(err)
	}
	return err
}
