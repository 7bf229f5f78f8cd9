package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/senyabanana/procurement-service/internal/logger"
	"github.com/senyabanana/procurement-service/internal/models"
	"github.com/senyabanana/procurement-service/internal/services"
	"github.com/senyabanana/procurement-service/internal/storage"

	"github.com/go-chi/chi/v5"
)

// BidHandler - структура для обработки HTTP-запросов по предложениям.
type BidHandler struct {
	Service        *services.BidService
	Logger         *logger.Logger
	Timeout        time.Duration
	MaxUploadBytes int64
}

// NewBidHandler создает новый экземпляр BidHandler.
func NewBidHandler(service *services.BidService, log *logger.Logger, timeout time.Duration, maxUploadBytes int64) *BidHandler {
	if log == nil {
		log = logger.Nop()
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = storage.DefaultMaxBytes
	}
	return &BidHandler{
		Service:        service,
		Logger:         log,
		Timeout:        timeout,
		MaxUploadBytes: maxUploadBytes,
	}
}

// SubmitBid обрабатывает запросы для создания предложения по заказу.
func (h *BidHandler) SubmitBid(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	ctx, cancel := context.WithTimeout(h.Logger.WithOrderID(r.Context(), orderID), h.Timeout)
	defer cancel()

	var bidReq models.BidRequest
	if err := decodeJSONBody(w, r, &bidReq); err != nil {
		fail(ctx, h.Logger, w, err)
		return
	}

	bid, err := h.Service.SubmitBid(ctx, actorOf(r), orderID, bidReq)
	if err != nil {
		fail(ctx, h.Logger, w, err)
		return
	}
	respond(ctx, h.Logger, w, http.StatusCreated, bid)
}

// GetUserBids обрабатывает запросы для получения предложений пункта сбора.
func (h *BidHandler) GetUserBids(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	bids, err := h.Service.ListCenterBids(ctx, actorOf(r))
	if err != nil {
		fail(ctx, h.Logger, w, err)
		return
	}
	respond(ctx, h.Logger, w, http.StatusOK, bids)
}

// GetBid обрабатывает запросы для получения предложения.
func (h *BidHandler) GetBid(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	bid, err := h.Service.GetBid(ctx, actorOf(r), chi.URLParam(r, "bidId"))
	if err != nil {
		fail(ctx, h.Logger, w, err)
		return
	}
	respond(ctx, h.Logger, w, http.StatusOK, bid)
}

// EditBid обрабатывает запросы для изменения предложения в статусе pending.
func (h *BidHandler) EditBid(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	var update models.BidUpdate
	if err := decodeJSONBody(w, r, &update); err != nil {
		fail(ctx, h.Logger, w, err)
		return
	}

	bid, err := h.Service.UpdateBid(ctx, actorOf(r), chi.URLParam(r, "bidId"), update)
	if err != nil {
		fail(ctx, h.Logger, w, err)
		return
	}
	respond(ctx, h.Logger, w, http.StatusOK, bid)
}

// WithdrawBid обрабатывает запросы для отзыва предложения.
func (h *BidHandler) WithdrawBid(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	bid, err := h.Service.WithdrawBid(ctx, actorOf(r), chi.URLParam(r, "bidId"))
	if err != nil {
		fail(ctx, h.Logger, w, err)
		return
	}
	respond(ctx, h.Logger, w, http.StatusOK, bid)
}

// AcceptBid обрабатывает решение покупателя о принятии предложения.
func (h *BidHandler) AcceptBid(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	result, err := h.Service.AcceptBid(ctx, actorOf(r), chi.URLParam(r, "bidId"))
	if err != nil {
		fail(ctx, h.Logger, w, err)
		return
	}
	respond(ctx, h.Logger, w, http.StatusOK, result)
}

// GetCenterStats обрабатывает запросы для получения сводки пункта сбора.
func (h *BidHandler) GetCenterStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	stats, err := h.Service.CenterStats(ctx, actorOf(r))
	if err != nil {
		fail(ctx, h.Logger, w, err)
		return
	}
	respond(ctx, h.Logger, w, http.StatusOK, stats)
}

// UploadImage принимает изображение в теле запроса и возвращает ссылку на него
// в хранилище объектов. Ссылку можно передать в imageRefs предложения.
func (h *BidHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	actor := actorOf(r)
	if !actor.IsCenter() {
		fail(ctx, h.Logger, w, models.NewPermissionError("only collection centers can upload bid images"))
		return
	}
	if h.Service.Objects == nil {
		fail(ctx, h.Logger, w, models.NewValidationError("image uploads are not configured"))
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.MaxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(ctx, h.Logger, w, models.NewValidationError("image exceeds %d bytes", h.MaxUploadBytes))
			return
		}
		fail(ctx, h.Logger, w, models.NewValidationError("failed to read image: %v", err))
		return
	}

	ref, err := h.Service.Objects.Put(ctx, actor.UserID, data)
	if err != nil {
		if models.KindOf(err) == models.InternalError {
			err = models.NewStorageError(err)
		}
		fail(ctx, h.Logger, w, err)
		return
	}
	respond(ctx, h.Logger, w, http.StatusCreated, map[string]string{"ref": ref})
}
