// Package apperr описывает ошибки уровня приложения: машиночитаемый вид (Kind),
// стабильный код для клиента и человекочитаемое сообщение.
package apperr

import (
	"errors"
	"fmt"
)

// Kind классифицирует ошибку, чтобы вызывающий код ветвился без сравнения строк
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindRejected
	KindNotFound
	KindUnauthorized
	KindForbidden
	KindConflict
	KindQuotaExceeded
	KindResourceExhausted
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindRejected:
		return "rejected"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindResourceExhausted:
		return "resource_exhausted"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Error ошибка приложения
type Error struct {
	Kind    Kind
	Code    string // стабильный код для поля "error" в ответе
	Message string // сообщение для пользователя
	Err     error  // внутренняя причина, наружу не отдаётся
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is сравнивает по виду и коду, что позволяет использовать errors.Is с шаблонными ошибками
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// New создаёт ошибку без внутренней причины
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap создаёт ошибку с внутренней причиной
func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// KindOf возвращает вид ошибки; для чужих ошибок KindInternal
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// From возвращает *Error из цепочки или оборачивает err как внутреннюю ошибку
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(KindInternal, "internal_error", "Internal server error", err)
}
