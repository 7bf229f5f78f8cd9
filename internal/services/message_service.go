package services

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/senyabanana/procurement-service/internal/lock"
	"github.com/senyabanana/procurement-service/internal/logger"
	"github.com/senyabanana/procurement-service/internal/metrics"
	"github.com/senyabanana/procurement-service/internal/models"
	"github.com/senyabanana/procurement-service/internal/repository"
	"github.com/senyabanana/procurement-service/internal/utils"

	"github.com/google/uuid"
)

const threadLockTimeout = 2 * time.Second

type MessageService struct {
	Repo    repository.MessageRepository
	Orders  repository.OrderRepository
	Bids    repository.BidRepository
	hub     *Hub
	threads *lock.Local
	log     *logger.Logger
	metrics *metrics.Metrics
}

// NewMessageService создает новый экземпляр MessageService.
func NewMessageService(repo repository.MessageRepository, orders repository.OrderRepository, bids repository.BidRepository,
	hub *Hub, log *logger.Logger, m *metrics.Metrics) *MessageService {
	if hub == nil {
		hub = NewHub(defaultSubscriptionBuffer, m)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &MessageService{
		Repo:    repo,
		Orders:  orders,
		Bids:    bids,
		hub:     hub,
		threads: lock.NewLocal(threadLockTimeout),
		log:     log,
		metrics: m,
	}
}

// ParticipantsOf возвращает покупателя заказа и все пункты сбора, делавшие по нему
// предложения в любом статусе. Покупатель идет первым.
func (s *MessageService) ParticipantsOf(ctx context.Context, orderID string) ([]string, error) {
	order, err := s.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	centers, err := s.Bids.ListBidderIDs(ctx, orderID)
	if err != nil {
		return nil, err
	}

	participants := []string{order.BuyerID}
	for _, id := range centers {
		if !slices.Contains(participants, id) {
			participants = append(participants, id)
		}
	}
	return participants, nil
}

func (s *MessageService) requireParticipant(ctx context.Context, actor models.Actor, orderID string) ([]string, error) {
	participants, err := s.ParticipantsOf(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(participants, actor.UserID) {
		return nil, models.NewPermissionError("you are not a participant of order %s", orderID)
	}
	return participants, nil
}

// lockThread сериализует добавление и рассылку сообщений одной переписки.
func (s *MessageService) lockThread(ctx context.Context, orderID string) (func(), error) {
	release, err := s.threads.Acquire(ctx, "thread:"+orderID)
	if errors.Is(err, lock.ErrLockTimeout) {
		return nil, models.NewConflictError("thread of order %s is busy, retry", orderID).WithCause(err)
	}
	return release, err
}

// Send добавляет сообщение в переписку и рассылает его подписчикам. Номера
// присваиваются и рассылаются под блокировкой переписки, поэтому каждый
// подписчик видит их строго по возрастанию.
func (s *MessageService) Send(ctx context.Context, actor models.Actor, orderID string, req models.MessageRequest) (*models.Message, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, models.NewValidationError("message content is empty")
	}
	participants, err := s.requireParticipant(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	if req.ReceiverID == actor.UserID || !slices.Contains(participants, req.ReceiverID) {
		return nil, models.NewValidationError("receiver %s is not another participant of order %s", req.ReceiverID, orderID)
	}

	release, err := s.lockThread(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer release()

	msg, err := s.Repo.AppendMessage(ctx, models.Message{
		ID:         uuid.NewString(),
		OrderID:    orderID,
		SenderID:   actor.UserID,
		ReceiverID: req.ReceiverID,
		Content:    content,
	})
	if err != nil {
		return nil, err
	}
	s.hub.publish(orderID, *msg)
	s.metrics.IncMessagesSent()
	return msg, nil
}

// Subscribe открывает подписку на переписку: сначала вся история, затем новые сообщения.
func (s *MessageService) Subscribe(ctx context.Context, actor models.Actor, orderID string) (*Subscription, error) {
	return s.SubscribeFrom(ctx, actor, orderID, 0)
}

// SubscribeFrom - как Subscribe, но история начинается после номера afterSeq.
// Используется при переподключении клиента.
func (s *MessageService) SubscribeFrom(ctx context.Context, actor models.Actor, orderID string, afterSeq int64) (*Subscription, error) {
	if _, err := s.requireParticipant(ctx, actor, orderID); err != nil {
		return nil, err
	}

	release, err := s.lockThread(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer release()

	sub, err := s.hub.subscribe(orderID, actor.UserID)
	if err != nil {
		return nil, err
	}
	backlog, err := s.Repo.ListMessages(ctx, orderID, afterSeq, 0)
	if err != nil {
		s.hub.unsubscribe(sub, err)
		return nil, err
	}
	sub.enqueue(backlog...)

	s.log.Debug(s.log.WithField(s.log.WithOrderID(ctx, orderID), "subscription_id", sub.ID()), "thread subscription opened")
	return sub, nil
}

// Unsubscribe прекращает доставку. Повторный вызов ничего не делает.
func (s *MessageService) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	s.hub.unsubscribe(sub, ErrUnsubscribed)
}

// History возвращает сообщения переписки с номером больше afterSeq.
func (s *MessageService) History(ctx context.Context, actor models.Actor, orderID string, afterSeq int64, limit int) ([]models.Message, error) {
	if _, err := s.requireParticipant(ctx, actor, orderID); err != nil {
		return nil, err
	}
	return s.Repo.ListMessages(ctx, orderID, afterSeq, utils.NormalizeLimit(limit))
}

// Threads возвращает переписки пользователя с последним сообщением,
// сначала те, где активность была позже.
func (s *MessageService) Threads(ctx context.Context, actor models.Actor) ([]models.Thread, error) {
	var orders []models.Order
	switch {
	case actor.IsBuyer():
		list, err := s.Orders.ListBuyerOrders(ctx, actor.UserID)
		if err != nil {
			return nil, err
		}
		orders = list
	case actor.IsCenter():
		bids, err := s.Bids.ListCenterBids(ctx, actor.UserID)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]struct{}, len(bids))
		for _, b := range bids {
			if _, ok := seen[b.OrderID]; ok {
				continue
			}
			seen[b.OrderID] = struct{}{}
			order, err := s.Orders.GetOrder(ctx, b.OrderID)
			if err != nil {
				return nil, err
			}
			orders = append(orders, *order)
		}
	default:
		return nil, models.NewPermissionError("unknown role %q", actor.Role)
	}

	threads := make([]models.Thread, 0, len(orders))
	activity := make(map[string]time.Time, len(orders))
	for _, order := range orders {
		participants, err := s.ParticipantsOf(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		last, err := s.Repo.LastMessage(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		activity[order.ID] = order.CreatedAt
		if last != nil {
			activity[order.ID] = last.CreatedAt
		}
		threads = append(threads, models.Thread{
			OrderID:      order.ID,
			OrderStatus:  order.Status,
			Quantity:     order.Quantity,
			Location:     order.DeliveryLocation,
			Participants: participants,
			LastMessage:  last,
		})
	}
	sort.SliceStable(threads, func(i, j int) bool {
		return activity[threads[i].OrderID].After(activity[threads[j].OrderID])
	})
	return threads, nil
}

// Close завершает все подписки.
func (s *MessageService) Close() {
	s.hub.Close()
}
