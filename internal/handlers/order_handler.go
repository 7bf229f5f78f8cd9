package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/senyabanana/procurement-service/internal/logger"
	"github.com/senyabanana/procurement-service/internal/models"
	"github.com/senyabanana/procurement-service/internal/services"
	"github.com/senyabanana/procurement-service/internal/utils"

	"github.com/go-chi/chi/v5"
)

// OrderHandler - структура для обработки HTTP-запросов по заказам.
type OrderHandler struct {
	Service  *services.OrderService
	Matching *services.MatchingService
	Logger   *logger.Logger
	Timeout  time.Duration
}

// NewOrderHandler создает новый экземпляр OrderHandler.
func NewOrderHandler(service *services.OrderService, matching *services.MatchingService, log *logger.Logger, timeout time.Duration) *OrderHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &OrderHandler{
		Service:  service,
		Matching: matching,
		Logger:   log,
		Timeout:  timeout,
	}
}

func (h *OrderHandler) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx := r.Context()
	if orderID := chi.URLParam(r, "orderId"); orderID != "" {
		ctx = h.Logger.WithOrderID(ctx, orderID)
	}
	return context.WithTimeout(ctx, h.Timeout)
}

// CreateOrder обрабатывает запросы для создания заказа.
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	var orderReq models.OrderRequest
	if err := decodeJSONBody(w, r, &orderReq); err != nil {
		fail(ctx, h.Logger, w, err)
		return
	}

	order, err := h.Service.CreateOrder(ctx, actorOf(r), orderReq)
	if err != nil {
		fail(ctx, h.Logger, w, err)
		return
	}
	respond(ctx, h.Logger, w, http.StatusCreated, order)
}

// GetOrders обрабатывает запросы для получения ленты активных заказов.
func (h *OrderHandler) GetOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	filter, page, err := parseOrderQuery(r)
	if err != nil {
		fail(ctx, h.Logger, w, err)
		return
	}

	orders, err := h.Service.ListActiveOrders(ctx, filter, page)
	if err != nil {
		fail(ctx, h.Logger, w, err)
		return
	}
	respond(ctx, h.Logger, w, http.StatusOK, orders)
}

// GetAvailableOrders обрабатывает запросы пункта сбора на заказы, по которым он еще не делал предложений.
func (h *OrderHandler) GetAvailableOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	filter, page, err := parseOrderQuery(r)
	if err != nil {
		fail(ctx, h.Logger, w, err)
		return
	}

	orders, err := h.Matching.ListAvailableOrders(ctx, actorOf(r), filter, page)
	if err != nil {
		fail(ctx, h.Logger, w, err)
		return
	}
	respond(ctx, h.Logger, w, http.StatusOK, orders)
}

// GetUserOrders обрабатывает запросы для получения заказов покупателя.
func (h *OrderHandler) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	orders, err := h.Service.ListBuyerOrders(ctx, actorOf(r))
	if err != nil {
		fail(ctx, h.Logger, w, err)
		return
	}
	respond(ctx, h.Logger, w, http.StatusOK, orders)
}

// GetOrder обрабатывает запросы для получения заказа.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	order, err := h.Service.GetOrder(ctx, chi.URLParam(r, "orderId"))
	if err != nil {
		fail(ctx, h.Logger, w, err)
		return
	}
	respond(ctx, h.Logger, w, http.StatusOK, order)
}

// GetOrderBids обрабатывает запросы для получения предложений по заказу.
func (h *OrderHandler) GetOrderBids(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	bids, err := h.Matching.BidsForOrder(ctx, actorOf(r), chi.URLParam(r, "orderId"))
	if err != nil {
		fail(ctx, h.Logger, w, err)
		return
	}
	respond(ctx, h.Logger, w, http.StatusOK, bids)
}

// CancelOrder обрабатывает запросы для отмены заказа.
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	order, err := h.Service.CancelOrder(ctx, actorOf(r), chi.URLParam(r, "orderId"))
	if err != nil {
		fail(ctx, h.Logger, w, err)
		return
	}
	respond(ctx, h.Logger, w, http.StatusOK, order)
}

// CompleteOrder обрабатывает запросы для завершения заказа.
func (h *OrderHandler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	order, err := h.Service.CompleteOrder(ctx, actorOf(r), chi.URLParam(r, "orderId"))
	if err != nil {
		fail(ctx, h.Logger, w, err)
		return
	}
	respond(ctx, h.Logger, w, http.StatusOK, order)
}

// GetBuyerStats обрабатывает запросы для получения сводки покупателя.
func (h *OrderHandler) GetBuyerStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	stats, err := h.Service.BuyerStats(ctx, actorOf(r))
	if err != nil {
		fail(ctx, h.Logger, w, err)
		return
	}
	respond(ctx, h.Logger, w, http.StatusOK, stats)
}

// parseOrderQuery разбирает region (повторяемый или через запятую), cursor и limit.
func parseOrderQuery(r *http.Request) (models.OrderFilter, models.Page, error) {
	query := r.URL.Query()

	var regions []string
	for _, value := range query["region"] {
		for _, region := range strings.Split(value, ",") {
			if region = strings.TrimSpace(region); region != "" {
				regions = append(regions, region)
			}
		}
	}

	limit, err := utils.ParseLimit(query.Get("limit"))
	if err != nil {
		return models.OrderFilter{}, models.Page{}, err
	}
	return models.OrderFilter{Regions: regions}, models.Page{Limit: limit, Cursor: query.Get("cursor")}, nil
}
