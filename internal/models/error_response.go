package models

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind - категория ошибки, по которой вызывающий решает, повторять ли запрос.
type ErrorKind string

const (
	ValidationError ErrorKind = "validation" // Некорректные входные данные
	PermissionError ErrorKind = "permission" // Пользователь не участник операции
	NotFoundError   ErrorKind = "not_found"  // Неизвестный идентификатор
	ConflictError   ErrorKind = "conflict"   // Проигранная гонка или неподходящий статус
	StorageError    ErrorKind = "storage"    // Сбой внешнего хранилища объектов
	InternalError   ErrorKind = "internal"   // Всё остальное
)

var statusByKind = map[ErrorKind]int{
	ValidationError: http.StatusBadRequest,
	PermissionError: http.StatusForbidden,
	NotFoundError:   http.StatusNotFound,
	ConflictError:   http.StatusConflict,
	StorageError:    http.StatusBadGateway,
	InternalError:   http.StatusInternalServerError,
}

// ErrorResponse описывает ошибку с видом, кодом и сообщением.
type ErrorResponse struct {
	Kind       ErrorKind `json:"kind"`
	StatusCode int       `json:"-"`
	Message    string    `json:"reason"`
	Err        error     `json:"-"`
}

// NewErrorResponse создает новую ошибку заданного вида.
func NewErrorResponse(kind ErrorKind, message string) *ErrorResponse {
	status, ok := statusByKind[kind]
	if !ok {
		kind, status = InternalError, http.StatusInternalServerError
	}
	return &ErrorResponse{
		Kind:       kind,
		StatusCode: status,
		Message:    message}
}

func NewValidationError(format string, args ...any) *ErrorResponse {
	return NewErrorResponse(ValidationError, fmt.Sprintf(format, args...))
}

func NewPermissionError(format string, args ...any) *ErrorResponse {
	return NewErrorResponse(PermissionError, fmt.Sprintf(format, args...))
}

func NewNotFoundError(format string, args ...any) *ErrorResponse {
	return NewErrorResponse(NotFoundError, fmt.Sprintf(format, args...))
}

func NewConflictError(format string, args ...any) *ErrorResponse {
	return NewErrorResponse(ConflictError, fmt.Sprintf(format, args...))
}

// NewStorageError оборачивает ошибку хранилища объектов, не скрывая причину.
func NewStorageError(err error) *ErrorResponse {
	e := NewErrorResponse(StorageError, fmt.Sprintf("object store failure: %v", err))
	e.Err = err
	return e
}

// WithCause сохраняет исходную ошибку для errors.Is/As.
func (e *ErrorResponse) WithCause(err error) *ErrorResponse {
	e.Err = err
	return e
}

// Реализация метода Error() для удовлетворения интерфейса error.
func (e *ErrorResponse) Error() string {
	return e.Message
}

func (e *ErrorResponse) Unwrap() error {
	return e.Err
}

// KindOf возвращает вид ошибки; ошибки вне таксономии считаются внутренними.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var errorResponse *ErrorResponse
	if errors.As(err, &errorResponse) {
		return errorResponse.Kind
	}
	return InternalError
}

// IsKind проверяет вид ошибки.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
