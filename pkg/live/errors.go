package live

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error codes as constants
const (
	ErrCodeConnect           = "CONNECT_FAILED"
	ErrCodeHandshakeTimeout  = "HANDSHAKE_TIMEOUT"
	ErrCodeUnexpectedMessage = "UNEXPECTED_MESSAGE"
	ErrCodeDecodeMalformed   = "DECODE_MALFORMED"
	ErrCodeConnectionLost    = "CONNECTION_LOST"
	ErrCodeServerError       = "SERVER_ERROR"
	ErrCodeInvalidState      = "INVALID_STATE"
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeSessionClosed     = "SESSION_CLOSED"
	ErrCodeCanceled          = "CANCELED"
	ErrCodeConfigInvalid     = "CONFIG_INVALID"
	ErrCodeAuthFailed        = "AUTH_FAILED"
)

// Sentinels for errors.Is. Matching is by code, so any *Error carrying the
// same code matches.
var (
	ErrSessionClosed  = &Error{Code: ErrCodeSessionClosed, Message: "session closed"}
	ErrInvalidState   = &Error{Code: ErrCodeInvalidState, Message: "invalid session state"}
	ErrCanceled       = &Error{Code: ErrCodeCanceled, Message: "canceled"}
	ErrConnectionLost = &Error{Code: ErrCodeConnectionLost, Message: "connection lost"}
)

// Error is the coded error returned by every public operation of the package.
type Error struct {
	Code      string
	Message   string
	Details   map[string]interface{}
	Timestamp time.Time
	Err       error
}

// NewError creates a coded error
func NewError(code, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

func newErrorf(code string, cause error, format string, args ...interface{}) *Error {
	e := NewError(code, fmt.Sprintf(format, args...))
	e.Err = cause
	return e
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString("live: ")
	sb.WriteString(e.Message)
	sb.WriteString(" (")
	sb.WriteString(e.Code)
	sb.WriteString(")")
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// AddDetail attaches a detail to the error
func (e *Error) AddDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// GetDetail returns a detail by key
func (e *Error) GetDetail(key string) (interface{}, bool) {
	if e.Details == nil {
		return nil, false
	}
	v, ok := e.Details[key]
	return v, ok
}

// WrapError wraps err under code. An *Error already carrying code is returned
// unchanged.
func WrapError(err error, code string) *Error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) && le.Code == code {
		return le
	}
	return &Error{
		Code:      code,
		Message:   err.Error(),
		Timestamp: time.Now(),
		Err:       err,
	}
}

// ErrorCode returns the code of the first *Error in err's chain.
func ErrorCode(err error) string {
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}

// IsFatal reports whether err moved (or would move) a session to Failed.
func IsFatal(err error) bool {
	switch ErrorCode(err) {
	case ErrCodeConnect,
		ErrCodeHandshakeTimeout,
		ErrCodeUnexpectedMessage,
		ErrCodeDecodeMalformed,
		ErrCodeConnectionLost,
		ErrCodeServerError,
		ErrCodeAuthFailed:
		return true
	}
	return false
}
