package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/senyabanana/procurement-service/internal/logger"
	"github.com/senyabanana/procurement-service/internal/models"
	"github.com/senyabanana/procurement-service/internal/services"
	"github.com/senyabanana/procurement-service/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const (
	defaultWriteWait  = 10 * time.Second
	defaultPongWait   = 60 * time.Second
	defaultPingPeriod = (defaultPongWait * 9) / 10
	maxInboundFrame   = 512
)

// MessageHandler - структура для обработки HTTP-запросов по переписке.
type MessageHandler struct {
	Service  *services.MessageService
	Logger   *logger.Logger
	Timeout  time.Duration
	Upgrader websocket.Upgrader

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
}

// NewMessageHandler создает новый экземпляр MessageHandler.
func NewMessageHandler(service *services.MessageService, log *logger.Logger, timeout time.Duration) *MessageHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &MessageHandler{
		Service: service,
		Logger:  log,
		Timeout: timeout,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		writeWait:  defaultWriteWait,
		pongWait:   defaultPongWait,
		pingPeriod: defaultPingPeriod,
	}
}

// SendMessage обрабатывает запросы для отправки сообщения в переписку по заказу.
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	ctx, cancel := context.WithTimeout(h.Logger.WithOrderID(r.Context(), orderID), h.Timeout)
	defer cancel()

	var msgReq models.MessageRequest
	if err := decodeJSONBody(w, r, &msgReq); err != nil {
		fail(ctx, h.Logger, w, err)
		return
	}

	msg, err := h.Service.Send(ctx, actorOf(r), orderID, msgReq)
	if err != nil {
		fail(ctx, h.Logger, w, err)
		return
	}
	respond(ctx, h.Logger, w, http.StatusCreated, msg)
}

// GetMessages обрабатывает запросы для получения истории переписки.
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	ctx, cancel := context.WithTimeout(h.Logger.WithOrderID(r.Context(), orderID), h.Timeout)
	defer cancel()

	afterSeq, err := utils.ParseSeq(r.URL.Query().Get("after"))
	if err != nil {
		fail(ctx, h.Logger, w, err)
		return
	}
	limit, err := utils.ParseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		fail(ctx, h.Logger, w, err)
		return
	}

	msgs, err := h.Service.History(ctx, actorOf(r), orderID, afterSeq, limit)
	if err != nil {
		fail(ctx, h.Logger, w, err)
		return
	}
	respond(ctx, h.Logger, w, http.StatusOK, msgs)
}

// GetThreads обрабатывает запросы для получения списка переписок пользователя.
func (h *MessageHandler) GetThreads(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	threads, err := h.Service.Threads(ctx, actorOf(r))
	if err != nil {
		fail(ctx, h.Logger, w, err)
		return
	}
	respond(ctx, h.Logger, w, http.StatusOK, threads)
}

// StreamMessages переводит соединение в websocket и пишет в него сообщения
// переписки: историю после ?after= и затем новые, по возрастанию номера.
// Подписка открывается до апгрейда, чтобы ошибки доступа вернулись обычным ответом.
func (h *MessageHandler) StreamMessages(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	ctx := h.Logger.WithOrderID(r.Context(), orderID)

	afterSeq, err := utils.ParseSeq(r.URL.Query().Get("after"))
	if err != nil {
		fail(ctx, h.Logger, w, err)
		return
	}

	subCtx, cancel := context.WithTimeout(ctx, h.Timeout)
	sub, err := h.Service.SubscribeFrom(subCtx, actorOf(r), orderID, afterSeq)
	cancel()
	if err != nil {
		fail(ctx, h.Logger, w, err)
		return
	}
	defer h.Service.Unsubscribe(sub)

	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Warn(ctx, "websocket upgrade failed", err)
		return
	}
	defer conn.Close()

	ctx = h.Logger.WithField(ctx, "subscription_id", sub.ID())
	h.Logger.Debug(ctx, "message stream opened")

	closed := make(chan struct{})
	go h.readRoutine(ctx, conn, closed)
	h.writeRoutine(ctx, conn, sub, closed)
}

// readRoutine читает входящие кадры только ради pong и закрытия соединения клиентом.
func (h *MessageHandler) readRoutine(ctx context.Context, conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadLimit(maxInboundFrame)
	conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.Logger.Debug(h.Logger.WithField(ctx, "reason", err.Error()), "message stream read failed")
			}
			return
		}
	}
}

func (h *MessageHandler) writeRoutine(ctx context.Context, conn *websocket.Conn, sub *services.Subscription, closed <-chan struct{}) {
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-sub.Out():
			conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				h.Logger.Warn(ctx, "failed to write message to stream", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeWait)); err != nil {
				h.Logger.Warn(ctx, "failed to ping stream", err)
				return
			}
		case <-sub.Canceled():
			code := websocket.CloseNormalClosure
			if errors.Is(sub.Err(), services.ErrHubClosed) {
				code = websocket.CloseGoingAway
			}
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, sub.Err().Error()), time.Now().Add(h.writeWait))
			return
		case <-closed:
			h.Logger.Debug(ctx, "message stream closed by client")
			return
		}
	}
}
