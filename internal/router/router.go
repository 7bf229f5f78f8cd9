package router

import (
	"net/http"
	"time"

	"github.com/senyabanana/procurement-service/internal/handlers"
	"github.com/senyabanana/procurement-service/internal/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Options - необязательные части маршрутизатора.
type Options struct {
	Logger  *logger.Logger
	Health  handlers.HealthCheck
	Metrics http.Handler // GET /metrics
	Objects http.Handler // раздача загруженных изображений
	// ObjectsPrefix - префикс пути для Objects, например /objects.
	ObjectsPrefix string
}

func InitRoutes(orderHandler *handlers.OrderHandler, bidHandler *handlers.BidHandler,
	messageHandler *handlers.MessageHandler, opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/api/ping", handlers.PingHandler(opts.Health, log))
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	if opts.Objects != nil && opts.ObjectsPrefix != "" {
		r.Mount(opts.ObjectsPrefix, http.StripPrefix(opts.ObjectsPrefix, opts.Objects))
	}

	r.Group(func(r chi.Router) {
		r.Use(handlers.Identity(log))

		r.Route("/api/orders", func(r chi.Router) {
			r.Post("/", orderHandler.CreateOrder)
			r.Get("/", orderHandler.GetOrders)
			r.Get("/my", orderHandler.GetUserOrders)
			r.Get("/available", orderHandler.GetAvailableOrders)

			r.Route("/{orderId}", func(r chi.Router) {
				r.Get("/", orderHandler.GetOrder)
				r.Put("/cancel", orderHandler.CancelOrder)
				r.Put("/complete", orderHandler.CompleteOrder)

				r.Get("/bids", orderHandler.GetOrderBids)
				r.Post("/bids", bidHandler.SubmitBid)

				r.Post("/messages", messageHandler.SendMessage)
				r.Get("/messages", messageHandler.GetMessages)
				r.Get("/messages/stream", messageHandler.StreamMessages)
			})
		})

		r.Route("/api/bids", func(r chi.Router) {
			r.Get("/my", bidHandler.GetUserBids)
			r.Get("/{bidId}", bidHandler.GetBid)
			r.Patch("/{bidId}", bidHandler.EditBid)
			r.Put("/{bidId}/withdraw", bidHandler.WithdrawBid)
			r.Put("/{bidId}/accept", bidHandler.AcceptBid)
		})

		r.Get("/api/threads", messageHandler.GetThreads)
		r.Get("/api/stats/buyer", orderHandler.GetBuyerStats)
		r.Get("/api/stats/center", bidHandler.GetCenterStats)
		r.Post("/api/uploads", bidHandler.UploadImage)
	})

	return r
}

// requestLogger пишет в лог каждый запрос с кодом ответа и длительностью.
func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			ctx := log.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
			ctx = log.WithField(ctx, "method", r.Method)
			ctx = log.WithField(ctx, "path", r.URL.Path)
			ctx = log.WithField(ctx, "status", ww.Status())
			ctx = log.WithField(ctx, "duration_ms", time.Since(start).Milliseconds())
			log.Debug(ctx, "request handled")
		})
	}
}
