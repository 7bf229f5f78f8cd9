package services

import (
	"context"
	"iter"

	"github.com/senyabanana/procurement-service/internal/models"
	"github.com/senyabanana/procurement-service/internal/repository"
	"github.com/senyabanana/procurement-service/internal/utils"
)

// MatchingService определяет, какие заказы видит пункт сбора и какие предложения видит покупатель.
// Собственного состояния не имеет.
type MatchingService struct {
	Orders repository.OrderRepository
	Bids   repository.BidRepository
}

// NewMatchingService создает новый экземпляр MatchingService.
func NewMatchingService(orders repository.OrderRepository, bids repository.BidRepository) *MatchingService {
	return &MatchingService{Orders: orders, Bids: bids}
}

// biddedOrders - заказы, по которым у пункта сбора есть неотозванное предложение.
func (s *MatchingService) biddedOrders(ctx context.Context, centerID string) (map[string]struct{}, error) {
	bids, err := s.Bids.ListCenterBids(ctx, centerID)
	if err != nil {
		return nil, err
	}
	excluded := make(map[string]struct{}, len(bids))
	for _, b := range bids {
		if b.Status != models.WithdrawnBid {
			excluded[b.OrderID] = struct{}{}
		}
	}
	return excluded, nil
}

// AvailableOrders возвращает активные заказы, по которым у пункта сбора нет
// неотозванного предложения, новые первыми. Каждый проход перечитывает предложения центра.
func (s *MatchingService) AvailableOrders(ctx context.Context, actor models.Actor, filter models.OrderFilter) iter.Seq2[models.Order, error] {
	return func(yield func(models.Order, error) bool) {
		if !actor.IsCenter() {
			yield(models.Order{}, models.NewPermissionError("only collection centers have an order feed"))
			return
		}
		excluded, err := s.biddedOrders(ctx, actor.UserID)
		if err != nil {
			yield(models.Order{}, err)
			return
		}
		for order, err := range activeOrders(ctx, s.Orders, filter, utils.MaxLimit) {
			if err != nil {
				yield(models.Order{}, err)
				return
			}
			if _, ok := excluded[order.ID]; ok {
				continue
			}
			if !yield(order, nil) {
				return
			}
		}
	}
}

// ListAvailableOrders возвращает одну страницу ленты пункта сбора.
func (s *MatchingService) ListAvailableOrders(ctx context.Context, actor models.Actor, filter models.OrderFilter, page models.Page) (*models.OrderPage, error) {
	if !actor.IsCenter() {
		return nil, models.NewPermissionError("only collection centers have an order feed")
	}
	cursor, err := utils.ParseCursor(page.Cursor)
	if err != nil {
		return nil, err
	}
	limit := utils.NormalizeLimit(page.Limit)

	excluded, err := s.biddedOrders(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}

	var orders []models.Order
	for len(orders) <= limit {
		batch, err := s.Orders.ListActiveOrders(ctx, filter, cursor, utils.MaxLimit)
		if err != nil {
			return nil, err
		}
		for _, o := range batch {
			if _, ok := excluded[o.ID]; !ok {
				orders = append(orders, o)
			}
		}
		if len(batch) < utils.MaxLimit {
			break
		}
		last := batch[len(batch)-1]
		cursor = &utils.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return pageOf(orders, limit), nil
}

// BidsForOrder возвращает предложения по заказу, новые первыми. Покупатель
// заказа видит все предложения, пункт сбора - только свои.
func (s *MatchingService) BidsForOrder(ctx context.Context, actor models.Actor, orderID string) ([]models.Bid, error) {
	order, err := s.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	bids, err := s.Bids.ListOrderBids(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch {
	case actor.IsBuyer() && order.BuyerID == actor.UserID:
		return bids, nil
	case actor.IsCenter():
		own := []models.Bid{}
		for _, b := range bids {
			if b.CenterID == actor.UserID {
				own = append(own, b)
			}
		}
		return own, nil
	}
	return nil, models.NewPermissionError("bids of order %s are visible only to its buyer", orderID)
}
