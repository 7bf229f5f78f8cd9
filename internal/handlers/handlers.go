package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/senyabanana/procurement-service/internal/logger"
	"github.com/senyabanana/procurement-service/internal/models"
	"github.com/senyabanana/procurement-service/internal/utils"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

const (
	HeaderUserID   = "X-User-Id"
	HeaderUserRole = "X-User-Role"

	maxBodyBytes = 32 << 20
)

type actorKey struct{}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// Identity извлекает пользователя из заголовков, которые выставляет внешний
// провайдер идентификации, и кладет его в контекст запроса.
func Identity(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := models.Actor{
				UserID: strings.TrimSpace(r.Header.Get(HeaderUserID)),
				Role:   models.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderUserRole)))),
			}
			if actor.UserID == "" || !actor.Role.Valid() {
				utils.SendJSON(w, http.StatusUnauthorized, map[string]string{
					"kind":   "unauthenticated",
					"reason": "missing or invalid user identity",
				})
				return
			}

			ctx := log.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
			ctx = log.WithUserID(ctx, actor.UserID)
			ctx = log.WithActorRole(ctx, string(actor.Role))
			ctx = context.WithValue(ctx, actorKey{}, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActorFromContext возвращает пользователя, выставленного Identity.
func ActorFromContext(ctx context.Context) (models.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(models.Actor)
	return actor, ok
}

func actorOf(r *http.Request) models.Actor {
	actor, _ := ActorFromContext(r.Context())
	return actor
}

// decodeJSONBody разбирает тело запроса и проверяет теги validate.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dest any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer func() {
		io.Copy(io.Discard, r.Body)
	}()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return models.NewValidationError("invalid request body: %v", err).WithCause(err)
	}
	if err := validate.Struct(dest); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

func formatValidationErrors(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return models.NewValidationError("validation failed: %v", err)
	}
	details := make([]string, 0, len(errs))
	for _, fieldErr := range errs {
		details = append(details, fmt.Sprintf("%s %s", fieldErr.Namespace(), validationMessage(fieldErr)))
	}
	return models.NewValidationError("validation failed: %s", strings.Join(details, "; "))
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	}
	return "is invalid"
}

// respond пишет JSON-ответ и логирует ошибку записи.
func respond(ctx context.Context, log *logger.Logger, w http.ResponseWriter, status int, payload any) {
	if err := utils.SendJSON(w, status, payload); err != nil {
		log.Error(ctx, "failed to write response", err)
	}
}

// fail логирует ошибку и отправляет ее клиенту. Внутренние ошибки клиенту не раскрываются.
func fail(ctx context.Context, log *logger.Logger, w http.ResponseWriter, err error) {
	switch models.KindOf(err) {
	case models.InternalError, models.StorageError:
		log.Error(ctx, "request failed", err)
	default:
		log.Warn(ctx, "request rejected", err)
	}
	if err := utils.SendErrorResponse(w, err); err != nil {
		log.Error(ctx, "failed to write error response", err)
	}
}
