package utils

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/senyabanana/procurement-service/internal/models"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// SendJSON отправляет ответ в формате JSON.
func SendJSON(w http.ResponseWriter, statusCode int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(payload)
}

// SendErrorResponse отправляет ошибку в формате JSON
func SendErrorResponse(w http.ResponseWriter, err error) error {
	var errorResponse *models.ErrorResponse
	if !errors.As(err, &errorResponse) {
		errorResponse = models.NewErrorResponse(models.InternalError, "internal server error")
	}
	return SendJSON(w, errorResponse.StatusCode, errorResponse)
}

// ParseLimit обрабатывает limit
func ParseLimit(limitStr string) (int, error) {
	if limitStr == "" {
		return DefaultLimit, nil
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 || limit > MaxLimit {
		return 0, models.NewValidationError("invalid limit parameter, must be a positive integer [1:%d]", MaxLimit)
	}
	return limit, nil
}

// NormalizeLimit приводит limit к допустимому диапазону.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Cursor - позиция keyset-пагинации по (created_at, id).
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// EncodeCursor кодирует курсор в непрозрачную строку.
func EncodeCursor(cursor Cursor) string {
	payload := fmt.Sprintf("%s|%s", cursor.CreatedAt.UTC().Format(time.RFC3339Nano), cursor.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

// ParseCursor декодирует курсор; пустая строка означает первую страницу.
func ParseCursor(value string) (*Cursor, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, models.NewValidationError("invalid cursor")
	}
	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, models.NewValidationError("invalid cursor format")
	}
	createdAt, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return nil, models.NewValidationError("invalid cursor timestamp")
	}
	return &Cursor{CreatedAt: createdAt, ID: parts[1]}, nil
}

// Before сообщает, идет ли запись (createdAt, id) после курсора в порядке "новые первыми".
func (c *Cursor) Before(createdAt time.Time, id string) bool {
	if c == nil {
		return true
	}
	if createdAt.Equal(c.CreatedAt) {
		return id < c.ID
	}
	return createdAt.Before(c.CreatedAt)
}

// ParseSeq обрабатывает номер сообщения, после которого нужна история.
func ParseSeq(seqStr string) (int64, error) {
	if seqStr == "" {
		return 0, nil
	}
	seq, err := strconv.ParseInt(seqStr, 10, 64)
	if err != nil || seq < 0 {
		return 0, models.NewValidationError("invalid after parameter, must be a non-negative integer")
	}
	return seq, nil
}
