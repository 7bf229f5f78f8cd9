package services

import (
	"context"
	"iter"
	"strings"

	"github.com/senyabanana/procurement-service/internal/lock"
	"github.com/senyabanana/procurement-service/internal/logger"
	"github.com/senyabanana/procurement-service/internal/metrics"
	"github.com/senyabanana/procurement-service/internal/models"
	"github.com/senyabanana/procurement-service/internal/repository"
	"github.com/senyabanana/procurement-service/internal/utils"

	"github.com/google/uuid"
)

type OrderService struct {
	Repo    repository.OrderRepository
	section *orderSection
	log     *logger.Logger
	metrics *metrics.Metrics
}

// NewOrderService создаёт новый экземпляр OrderService. locker должен быть
// общим с BidService, иначе принятие предложения и отмена заказа не сериализуются.
func NewOrderService(repo repository.OrderRepository, locker lock.Locker, log *logger.Logger, m *metrics.Metrics) *OrderService {
	if log == nil {
		log = logger.Nop()
	}
	return &OrderService{Repo: repo, section: newOrderSection(locker, m), log: log, metrics: m}
}

// CreateOrder создает новый заказ в статусе active.
func (s *OrderService) CreateOrder(ctx context.Context, actor models.Actor, req models.OrderRequest) (*models.Order, error) {
	if !actor.IsBuyer() {
		return nil, models.NewPermissionError("only buyers can create orders")
	}
	if req.Quantity <= 0 {
		return nil, models.NewValidationError("quantity must be positive")
	}
	if strings.TrimSpace(req.DeliveryLocation) == "" {
		return nil, models.NewValidationError("delivery location is required")
	}
	if strings.TrimSpace(req.Region) == "" {
		return nil, models.NewValidationError("region is required")
	}
	if req.LoadingDate.IsZero() {
		return nil, models.NewValidationError("loading date is required")
	}

	quality := make(map[string]string, len(req.QualityParameters))
	for k, v := range req.QualityParameters {
		quality[k] = v
	}

	order, err := s.Repo.CreateOrder(ctx, models.Order{
		ID:                uuid.NewString(),
		BuyerID:           actor.UserID,
		Quantity:          req.Quantity,
		QualityParameters: quality,
		Region:            strings.TrimSpace(req.Region),
		DeliveryLocation:  strings.TrimSpace(req.DeliveryLocation),
		LoadingDate:       req.LoadingDate.UTC(),
		AdditionalNotes:   req.AdditionalNotes,
		Status:            models.ActiveOrder,
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncOrdersCreated()
	s.log.Info(s.log.WithOrderID(ctx, order.ID), "order created")
	return order, nil
}

// GetOrder возвращает заказ по ID.
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return s.Repo.GetOrder(ctx, orderID)
}

// ActiveOrders возвращает ленивую последовательность активных заказов, новые первыми.
// Каждый проход начинается заново и сам запрашивает страницы размером pageSize.
func (s *OrderService) ActiveOrders(ctx context.Context, filter models.OrderFilter, pageSize int) iter.Seq2[models.Order, error] {
	return activeOrders(ctx, s.Repo, filter, pageSize)
}

func activeOrders(ctx context.Context, repo repository.OrderRepository, filter models.OrderFilter, pageSize int) iter.Seq2[models.Order, error] {
	pageSize = utils.NormalizeLimit(pageSize)
	return func(yield func(models.Order, error) bool) {
		var cursor *utils.Cursor
		for {
			orders, err := repo.ListActiveOrders(ctx, filter, cursor, pageSize)
			if err != nil {
				yield(models.Order{}, err)
				return
			}
			for _, o := range orders {
				if !yield(o, nil) {
					return
				}
			}
			if len(orders) < pageSize {
				return
			}
			last := orders[len(orders)-1]
			cursor = &utils.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
		}
	}
}

// ListActiveOrders возвращает одну страницу активных заказов и курсор следующей.
func (s *OrderService) ListActiveOrders(ctx context.Context, filter models.OrderFilter, page models.Page) (*models.OrderPage, error) {
	cursor, err := utils.ParseCursor(page.Cursor)
	if err != nil {
		return nil, err
	}
	limit := utils.NormalizeLimit(page.Limit)

	orders, err := s.Repo.ListActiveOrders(ctx, filter, cursor, limit+1)
	if err != nil {
		return nil, err
	}
	return pageOf(orders, limit), nil
}

func pageOf(orders []models.Order, limit int) *models.OrderPage {
	result := &models.OrderPage{Orders: orders}
	if len(orders) > limit {
		result.Orders = orders[:limit]
		last := result.Orders[limit-1]
		result.NextCursor = utils.EncodeCursor(utils.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	if result.Orders == nil {
		result.Orders = []models.Order{}
	}
	return result
}

// TransitionStatus меняет статус заказа с expected на next, если переход допустим
// и текущий статус в момент записи равен expected.
func (s *OrderService) TransitionStatus(ctx context.Context, orderID string, expected, next models.OrderStatus) (*models.Order, error) {
	if !expected.CanTransitionTo(next) {
		return nil, models.NewValidationError("transition %s -> %s is not allowed", expected, next)
	}
	// В in_progress заказ переводит только принятие предложения.
	if next == models.InProgressOrder {
		return nil, models.NewValidationError("order %s moves to %s only by accepting a bid", orderID, next)
	}

	var updated *models.Order
	err := s.section.run(ctx, orderID, func() error {
		var err error
		updated, err = s.Repo.TransitionStatus(ctx, orderID, expected, next)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// CancelOrder отменяет активный заказ. Доступно только покупателю-владельцу.
func (s *OrderService) CancelOrder(ctx context.Context, actor models.Actor, orderID string) (*models.Order, error) {
	return s.ownerTransition(ctx, actor, orderID, models.ActiveOrder, models.CancelledOrder)
}

// CompleteOrder завершает заказ в работе. Доступно только покупателю-владельцу.
func (s *OrderService) CompleteOrder(ctx context.Context, actor models.Actor, orderID string) (*models.Order, error) {
	return s.ownerTransition(ctx, actor, orderID, models.InProgressOrder, models.CompletedOrder)
}

func (s *OrderService) ownerTransition(ctx context.Context, actor models.Actor, orderID string, expected, next models.OrderStatus) (*models.Order, error) {
	order, err := s.Repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.IsBuyer() || order.BuyerID != actor.UserID {
		return nil, models.NewPermissionError("only the buyer who placed order %s can change its status", orderID)
	}

	updated, err := s.TransitionStatus(ctx, orderID, expected, next)
	if err != nil {
		return nil, err
	}
	ctx = s.log.WithOrderID(ctx, orderID)
	s.log.Info(s.log.WithField(ctx, "status", string(next)), "order status changed")
	return updated, nil
}

// ListBuyerOrders возвращает все заказы покупателя.
func (s *OrderService) ListBuyerOrders(ctx context.Context, actor models.Actor) ([]models.Order, error) {
	if !actor.IsBuyer() {
		return nil, models.NewPermissionError("only buyers have orders")
	}
	return s.Repo.ListBuyerOrders(ctx, actor.UserID)
}

// BuyerStats считает заказы покупателя по статусам.
func (s *OrderService) BuyerStats(ctx context.Context, actor models.Actor) (*models.BuyerStats, error) {
	orders, err := s.ListBuyerOrders(ctx, actor)
	if err != nil {
		return nil, err
	}

	stats := &models.BuyerStats{TotalOrders: len(orders)}
	for _, o := range orders {
		switch o.Status {
		case models.ActiveOrder:
			stats.ActiveOrders++
		case models.InProgressOrder:
			stats.InProgress++
		case models.CompletedOrder:
			stats.CompletedOrders++
		case models.CancelledOrder:
			stats.CancelledOrders++
		}
	}
	return stats, nil
}
