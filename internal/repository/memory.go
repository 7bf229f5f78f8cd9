package repository

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/senyabanana/procurement-service/internal/models"
	"github.com/senyabanana/procurement-service/internal/utils"
)

// MemoryStore - реализация OrderRepository, BidRepository и MessageRepository в памяти процесса.
// Каждая операция выполняется целиком под мьютексом хранилища, поэтому
// составные изменения (принятие предложения) видны только полностью.
type MemoryStore struct {
	mu        sync.RWMutex
	orders    map[string]*models.Order
	bids      map[string]*models.Bid
	orderBids map[string][]string
	messages  map[string][]models.Message
	lastTime  time.Time
}

// NewMemoryStore создает пустое хранилище в памяти.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:    make(map[string]*models.Order),
		bids:      make(map[string]*models.Bid),
		orderBids: make(map[string][]string),
		messages:  make(map[string][]models.Message),
	}
}

// now возвращает строго возрастающие отметки времени с точностью Postgres.
func (m *MemoryStore) now() time.Time {
	t := time.Now().UTC().Truncate(time.Microsecond)
	if !t.After(m.lastTime) {
		t = m.lastTime.Add(time.Microsecond)
	}
	m.lastTime = t
	return t
}

func cloneOrder(o *models.Order) models.Order {
	c := *o
	c.QualityParameters = maps.Clone(o.QualityParameters)
	return c
}

func cloneBid(b *models.Bid) models.Bid {
	c := *b
	c.ImageRefs = slices.Clone(b.ImageRefs)
	return c
}

func newestFirst(ai, bi time.Time, aid, bid string) bool {
	if ai.Equal(bi) {
		return aid > bid
	}
	return ai.After(bi)
}

// CreateOrder создает новый заказ.
func (m *MemoryStore) CreateOrder(_ context.Context, order models.Order) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	order.CreatedAt, order.UpdatedAt = now, now
	stored := cloneOrder(&order)
	m.orders[order.ID] = &stored
	return &order, nil
}

// GetOrder возвращает заказ по ID.
func (m *MemoryStore) GetOrder(_ context.Context, orderID string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[orderID]
	if !ok {
		return nil, orderNotFound(orderID)
	}
	c := cloneOrder(o)
	return &c, nil
}

// ListActiveOrders возвращает страницу активных заказов, новые первыми.
func (m *MemoryStore) ListActiveOrders(_ context.Context, filter models.OrderFilter, cursor *utils.Cursor, limit int) ([]models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var orders []models.Order
	for _, o := range m.orders {
		if o.Status != models.ActiveOrder {
			continue
		}
		if filter.BuyerID != "" && o.BuyerID != filter.BuyerID {
			continue
		}
		if len(filter.Regions) > 0 && !slices.ContainsFunc(filter.Regions, func(r string) bool {
			return strings.EqualFold(r, o.Region)
		}) {
			continue
		}
		if !cursor.Before(o.CreatedAt, o.ID) {
			continue
		}
		orders = append(orders, cloneOrder(o))
	}
	sort.Slice(orders, func(i, j int) bool {
		return newestFirst(orders[i].CreatedAt, orders[j].CreatedAt, orders[i].ID, orders[j].ID)
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

// ListBuyerOrders возвращает все заказы покупателя, новые первыми.
func (m *MemoryStore) ListBuyerOrders(_ context.Context, buyerID string) ([]models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var orders []models.Order
	for _, o := range m.orders {
		if o.BuyerID == buyerID {
			orders = append(orders, cloneOrder(o))
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return newestFirst(orders[i].CreatedAt, orders[j].CreatedAt, orders[i].ID, orders[j].ID)
	})
	return orders, nil
}

// TransitionStatus меняет статус заказа, только если текущий статус равен ожидаемому.
func (m *MemoryStore) TransitionStatus(_ context.Context, orderID string, expected, next models.OrderStatus) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, err := m.transitionLocked(orderID, expected, next)
	if err != nil {
		return nil, err
	}
	c := cloneOrder(o)
	return &c, nil
}

func (m *MemoryStore) transitionLocked(orderID string, expected, next models.OrderStatus) (*models.Order, error) {
	o, ok := m.orders[orderID]
	if !ok {
		return nil, orderNotFound(orderID)
	}
	if o.Status != expected {
		return nil, models.NewConflictError("order %s status is %s, expected %s", orderID, o.Status, expected)
	}
	o.Status = next
	o.UpdatedAt = m.now()
	return o, nil
}

// CreateBid создает новое предложение, если заказ активен.
func (m *MemoryStore) CreateBid(_ context.Context, bid models.Bid) (*models.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[bid.OrderID]
	if !ok {
		return nil, orderNotFound(bid.OrderID)
	}
	if o.Status != models.ActiveOrder {
		return nil, orderNotActive(o.ID, o.Status)
	}

	now := m.now()
	bid.Status = models.PendingBid
	bid.CreatedAt, bid.UpdatedAt = now, now
	stored := cloneBid(&bid)
	m.bids[bid.ID] = &stored
	m.orderBids[bid.OrderID] = append(m.orderBids[bid.OrderID], bid.ID)
	return &bid, nil
}

// GetBid возвращает предложение по ID.
func (m *MemoryStore) GetBid(_ context.Context, bidID string) (*models.Bid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.bids[bidID]
	if !ok {
		return nil, bidNotFound(bidID)
	}
	c := cloneBid(b)
	return &c, nil
}

// ListOrderBids возвращает предложения по заказу, новые первыми.
func (m *MemoryStore) ListOrderBids(_ context.Context, orderID string) ([]models.Bid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.orderBids[orderID]
	bids := make([]models.Bid, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		bids = append(bids, cloneBid(m.bids[ids[i]]))
	}
	return bids, nil
}

// ListCenterBids возвращает предложения пункта сбора, новые первыми.
func (m *MemoryStore) ListCenterBids(_ context.Context, centerID string) ([]models.Bid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var bids []models.Bid
	for _, b := range m.bids {
		if b.CenterID == centerID {
			bids = append(bids, cloneBid(b))
		}
	}
	sort.Slice(bids, func(i, j int) bool {
		return newestFirst(bids[i].CreatedAt, bids[j].CreatedAt, bids[i].ID, bids[j].ID)
	})
	return bids, nil
}

// ListBidderIDs возвращает пункты сбора, делавшие предложения по заказу, в любом статусе.
func (m *MemoryStore) ListBidderIDs(_ context.Context, orderID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	var centers []string
	for _, id := range m.orderBids[orderID] {
		centerID := m.bids[id].CenterID
		if _, ok := seen[centerID]; ok {
			continue
		}
		seen[centerID] = struct{}{}
		centers = append(centers, centerID)
	}
	return centers, nil
}

// UpdatePendingBid меняет цену, заметки и изображения предложения в статусе pending.
func (m *MemoryStore) UpdatePendingBid(_ context.Context, bidID string, update models.BidUpdate) (*models.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bids[bidID]
	if !ok {
		return nil, bidNotFound(bidID)
	}
	if b.Status != models.PendingBid {
		return nil, bidNotPending(bidID, b.Status)
	}
	if o := m.orders[b.OrderID]; o.Status != models.ActiveOrder {
		return nil, orderNotActive(o.ID, o.Status)
	}

	if update.Price != nil {
		b.Price = *update.Price
	}
	if update.Notes != nil {
		b.Notes = *update.Notes
	}
	if update.ImageRefs != nil {
		b.ImageRefs = slices.Clone(update.ImageRefs)
	}
	b.UpdatedAt = m.now()
	c := cloneBid(b)
	return &c, nil
}

// WithdrawBid переводит предложение из pending в withdrawn.
func (m *MemoryStore) WithdrawBid(_ context.Context, bidID string) (*models.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bids[bidID]
	if !ok {
		return nil, bidNotFound(bidID)
	}
	if b.Status != models.PendingBid {
		return nil, bidNotPending(bidID, b.Status)
	}
	b.Status = models.WithdrawnBid
	b.UpdatedAt = m.now()
	c := cloneBid(b)
	return &c, nil
}

// AcceptBid принимает предложение, отклоняет остальные pending-предложения
// по заказу и переводит заказ в in_progress. Все проверки выполняются до
// первого изменения, поэтому при ошибке состояние не меняется.
func (m *MemoryStore) AcceptBid(_ context.Context, bidID string) (*models.AcceptResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	target, ok := m.bids[bidID]
	if !ok {
		return nil, bidNotFound(bidID)
	}
	order, ok := m.orders[target.OrderID]
	if !ok {
		return nil, orderNotFound(target.OrderID)
	}
	if target.Status != models.PendingBid {
		return nil, bidNotPending(bidID, target.Status)
	}
	if order.Status != models.ActiveOrder {
		return nil, orderNotActive(order.ID, order.Status)
	}

	now := m.now()
	target.Status = models.AcceptedBid
	target.UpdatedAt = now

	result := &models.AcceptResult{RejectedBids: []models.Bid{}}
	for _, id := range m.orderBids[order.ID] {
		b := m.bids[id]
		if id == bidID || b.Status != models.PendingBid {
			continue
		}
		b.Status = models.RejectedBid
		b.UpdatedAt = now
		result.RejectedBids = append(result.RejectedBids, cloneBid(b))
	}

	if _, err := m.transitionLocked(order.ID, models.ActiveOrder, models.InProgressOrder); err != nil {
		return nil, err
	}
	result.Order = cloneOrder(order)
	result.AcceptedBid = cloneBid(target)
	return result, nil
}

// AppendMessage добавляет сообщение в конец переписки и присваивает ему следующий номер.
func (m *MemoryStore) AppendMessage(_ context.Context, msg models.Message) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	thread := m.messages[msg.OrderID]
	msg.Seq = int64(len(thread)) + 1
	msg.CreatedAt = m.now()
	m.messages[msg.OrderID] = append(thread, msg)
	return &msg, nil
}

// ListMessages возвращает сообщения с номером больше afterSeq по возрастанию номера.
func (m *MemoryStore) ListMessages(_ context.Context, orderID string, afterSeq int64, limit int) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	thread := m.messages[orderID]
	if afterSeq < 0 {
		afterSeq = 0
	}
	if afterSeq >= int64(len(thread)) {
		return []models.Message{}, nil
	}
	tail := thread[afterSeq:]
	if limit > 0 && len(tail) > limit {
		tail = tail[:limit]
	}
	return slices.Clone(tail), nil
}

// LastMessage возвращает последнее сообщение переписки или nil.
func (m *MemoryStore) LastMessage(_ context.Context, orderID string) (*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	thread := m.messages[orderID]
	if len(thread) == 0 {
		return nil, nil
	}
	last := thread[len(thread)-1]
	return &last, nil
}
