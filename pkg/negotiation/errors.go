package negotiation

import (
	"errors"
	"fmt"
)

// ErrorCode определяет коды ошибок согласования
type ErrorCode int

const (
	// ErrorCodeMalformedInput текст offer/answer не удалось разобрать
	ErrorCodeMalformedInput ErrorCode = iota + 3000
	// ErrorCodeGeneral внутренняя невозможность продолжить согласование
	ErrorCodeGeneral
	// ErrorCodeIllegalArgument удаленная сторона нарушила протокол offer/answer
	ErrorCodeIllegalArgument
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeMalformedInput:
		return "malformed_input"
	case ErrorCodeGeneral:
		return "general"
	case ErrorCodeIllegalArgument:
		return "illegal_argument"
	default:
		return "unknown"
	}
}

// Error ошибка согласования медиа
type Error struct {
	Code      ErrorCode
	Message   string
	SessionID string
	MediaType MediaType
	Wrapped   error
}

// NewError создает новую ошибку согласования
func NewError(code ErrorCode, sessionID string, format string, args ...interface{}) *Error {
	return &Error{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		SessionID: sessionID,
	}
}

// WrapError оборачивает существующую ошибку
func WrapError(code ErrorCode, sessionID string, err error, format string, args ...interface{}) *Error {
	return &Error{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		SessionID: sessionID,
		Wrapped:   err,
	}
}

// withMedia привязывает ошибку к типу медиа
func (e *Error) withMedia(mediaType MediaType) *Error {
	e.MediaType = mediaType
	return e
}

// Error реализует интерфейс error
func (e *Error) Error() string {
	msg := fmt.Sprintf("negotiation error [%s]: %s", e.Code, e.Message)
	if e.MediaType != MediaTypeUnknown {
		msg += fmt.Sprintf(" (media: %s)", e.MediaType)
	}
	if e.SessionID != "" {
		msg += fmt.Sprintf(" (session: %s)", e.SessionID)
	}
	if e.Wrapped != nil {
		msg += fmt.Sprintf(" - %v", e.Wrapped)
	}
	return msg
}

// Unwrap возвращает обернутую ошибку для errors.Is/As
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// IsError проверяет, является ли err ошибкой согласования с кодом code
func IsError(err error, code ErrorCode) bool {
	var negErr *Error
	if !errors.As(err, &negErr) {
		return false
	}
	return negErr.Code == code
}

// CodeOf возвращает код ошибки согласования, ok=false для прочих ошибок
func CodeOf(err error) (ErrorCode, bool) {
	var negErr *Error
	if !errors.As(err, &negErr) {
		return 0, false
	}
	return negErr.Code, true
}
