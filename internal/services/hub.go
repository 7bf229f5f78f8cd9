package services

import (
	"errors"
	"sync"

	"github.com/senyabanana/procurement-service/internal/metrics"
	"github.com/senyabanana/procurement-service/internal/models"

	"github.com/google/uuid"
)

const defaultSubscriptionBuffer = 64

var (
	// ErrUnsubscribed - причина отмены, когда клиент отписался сам.
	ErrUnsubscribed = errors.New("client unsubscribed")

	// ErrHubClosed - причина отмены при остановке сервиса.
	ErrHubClosed = errors.New("message hub closed")
)

// Subscription - живая подписка на переписку по заказу. Сообщения приходят в
// Out() в порядке номеров: сначала история, затем новые. Канал Out не
// закрывается; об окончании подписки сообщает Canceled().
type Subscription struct {
	id      string
	orderID string
	userID  string
	out     chan models.Message

	canceled chan struct{}
	mtx      sync.RWMutex
	err      error
	once     sync.Once

	qmu    sync.Mutex
	queue  []models.Message
	notify chan struct{}
}

func newSubscription(orderID, userID string, outCapacity int) *Subscription {
	if outCapacity <= 0 {
		outCapacity = defaultSubscriptionBuffer
	}
	sub := &Subscription{
		id:       uuid.NewString(),
		orderID:  orderID,
		userID:   userID,
		out:      make(chan models.Message, outCapacity),
		canceled: make(chan struct{}),
		notify:   make(chan struct{}, 1),
	}
	go sub.pump()
	return sub
}

func (s *Subscription) ID() string { return s.id }

// Out возвращает канал, в который доставляются сообщения.
func (s *Subscription) Out() <-chan models.Message { return s.out }

// Canceled закрывается, когда подписка завершена.
func (s *Subscription) Canceled() <-chan struct{} { return s.canceled }

// Err возвращает nil, пока подписка жива, затем причину отмены.
func (s *Subscription) Err() error {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.err
}

// cancel сообщает, завершил ли подписку именно этот вызов.
func (s *Subscription) cancel(err error) bool {
	canceled := false
	s.once.Do(func() {
		s.mtx.Lock()
		s.err = err
		s.mtx.Unlock()
		close(s.canceled)
		canceled = true
	})
	return canceled
}

// enqueue никогда не блокирует издателя: очередь не ограничена.
func (s *Subscription) enqueue(msgs ...models.Message) {
	if len(msgs) == 0 {
		return
	}
	s.qmu.Lock()
	s.queue = append(s.queue, msgs...)
	s.qmu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// pump переносит сообщения из очереди в out, отбрасывая уже доставленные номера.
func (s *Subscription) pump() {
	var lastSeq int64
	for {
		select {
		case <-s.canceled:
			return
		case <-s.notify:
		}

		s.qmu.Lock()
		batch := s.queue
		s.queue = nil
		s.qmu.Unlock()

		for _, msg := range batch {
			if msg.Seq <= lastSeq {
				continue
			}
			select {
			case s.out <- msg:
				lastSeq = msg.Seq
			case <-s.canceled:
				return
			}
		}
	}
}

// Hub - реестр подписок по заказам в пределах процесса.
type Hub struct {
	mu      sync.Mutex
	subs    map[string]map[string]*Subscription
	buffer  int
	closed  bool
	metrics *metrics.Metrics
}

// NewHub создает Hub; buffer - емкость канала Out каждой подписки.
func NewHub(buffer int, m *metrics.Metrics) *Hub {
	return &Hub{subs: make(map[string]map[string]*Subscription), buffer: buffer, metrics: m}
}

func (h *Hub) subscribe(orderID, userID string) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	sub := newSubscription(orderID, userID, h.buffer)
	if h.subs[orderID] == nil {
		h.subs[orderID] = make(map[string]*Subscription)
	}
	h.subs[orderID][sub.id] = sub
	h.metrics.SubscriptionOpened()
	return sub, nil
}

// unsubscribe идемпотентна.
func (h *Hub) unsubscribe(sub *Subscription, reason error) {
	h.mu.Lock()
	if subs, ok := h.subs[sub.orderID]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(h.subs, sub.orderID)
		}
	}
	h.mu.Unlock()

	if sub.cancel(reason) {
		h.metrics.SubscriptionClosed()
	}
}

func (h *Hub) publish(orderID string, msg models.Message) {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs[orderID]))
	for _, sub := range h.subs[orderID] {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.enqueue(msg)
	}
}

// NumSubscriptions возвращает число живых подписок на заказ.
func (h *Hub) NumSubscriptions(orderID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[orderID])
}

// Close отменяет все подписки с причиной ErrHubClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*Subscription
	for _, subs := range h.subs {
		for _, sub := range subs {
			all = append(all, sub)
		}
	}
	h.subs = make(map[string]map[string]*Subscription)
	h.mu.Unlock()

	for _, sub := range all {
		if sub.cancel(ErrHubClosed) {
			h.metrics.SubscriptionClosed()
		}
	}
}
