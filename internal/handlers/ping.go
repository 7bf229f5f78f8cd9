package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/senyabanana/procurement-service/internal/logger"
)

const healthTimeout = 2 * time.Second

// HealthCheck проверяет доступность хранилища.
type HealthCheck func(ctx context.Context) error

// PingHandler обрабатывает GET запрос к /api/ping. Если задан check,
// ответ "ok" отдается только при доступном хранилище.
func PingHandler(check HealthCheck, log *logger.Logger) http.HandlerFunc {
	if log == nil {
		log = logger.Nop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()
			if err := check(ctx); err != nil {
				log.Error(ctx, "health check failed", err)
				w.WriteHeader(http.StatusServiceUnavailable)
				fmt.Fprint(w, "unavailable")
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		if _, err := fmt.Fprint(w, "ok"); err != nil {
			log.Error(r.Context(), "failed to write ping response", err)
		}
	}
}
