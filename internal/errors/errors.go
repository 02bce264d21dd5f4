package errors

import (
	stdErrors "errors"
	"fmt"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Kind classifies an AppError for propagation decisions.
type Kind string

const (
	KindConfig         Kind = "config"
	KindRecursionLimit Kind = "recursion_limit"
	KindStorage        Kind = "storage"
	KindTransport      Kind = "transport"
	KindFatalStartup   Kind = "fatal_startup"
	KindExpression     Kind = "expression"
	KindRateLimit      Kind = "rate_limit"
)

type AppError struct {
	Code        string
	Kind        Kind
	Message     string
	UserMessage string
	Severity    Severity
	Retryable   bool
	cause       error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}

	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.cause
}

func (e *AppError) Cause() error {
	return e.Unwrap()
}

// KindOf returns the kind of the first AppError in err's chain.
func KindOf(err error) Kind {
	var appErr *AppError
	if stdErrors.As(err, &appErr) && appErr != nil {
		return appErr.Kind
	}

	return ""
}

// IsKind reports whether err carries an AppError of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func NewConfigError(msg string, cause error) *AppError {
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}

	return &AppError{
		Code:      "E100",
		Kind:      KindConfig,
		Message:   "invalid flow graph: " + msg,
		Severity:  SeverityMedium,
		Retryable: false,
		cause:     cause,
	}
}

func NewStorageError(op string, cause error) *AppError {
	var underlyingMsg string
	if cause != nil {
		underlyingMsg = cause.Error()
	}

	return &AppError{
		Code:      "E200",
		Kind:      KindStorage,
		Message:   fmt.Sprintf("storage error: %s: %s", op, underlyingMsg),
		Severity:  SeverityHigh,
		Retryable: true,
		cause:     cause,
	}
}

func NewTransportError(op string, cause error) *AppError {
	var underlyingMsg string
	if cause != nil {
		underlyingMsg = cause.Error()
	}

	return &AppError{
		Code:      "E300",
		Kind:      KindTransport,
		Message:   fmt.Sprintf("transport error: %s: %s", op, underlyingMsg),
		Severity:  SeverityMedium,
		Retryable: true,
		cause:     cause,
	}
}

func NewRecursionLimitError(nodeID string, limit int) *AppError {
	return &AppError{
		Code:      "E400",
		Kind:      KindRecursionLimit,
		Message:   fmt.Sprintf("traversal depth %d exceeded at node %q", limit, nodeID),
		Severity:  SeverityMedium,
		Retryable: false,
	}
}

func NewExpressionError(expr string, cause error) *AppError {
	return &AppError{
		Code:      "E410",
		Kind:      KindExpression,
		Message:   fmt.Sprintf("condition %q: %v", expr, cause),
		Severity:  SeverityMedium,
		Retryable: false,
		cause:     cause,
	}
}

func NewFatalStartupError(botID string, cause error) *AppError {
	return &AppError{
		Code:      "E600",
		Kind:      KindFatalStartup,
		Message:   fmt.Sprintf("bot %s failed to start: %v", botID, cause),
		Severity:  SeverityCritical,
		Retryable: false,
		cause:     cause,
	}
}

func NewRateLimitError(retryAfter int) *AppError {
	return &AppError{
		Code:      "E500",
		Kind:      KindRateLimit,
		Message:   fmt.Sprintf("rate limit exceeded: retry after %d seconds", retryAfter),
		Severity:  SeverityLow,
		Retryable: false,
	}
}

// WithUserMessage sets the text shown to the end user and returns e.
func (e *AppError) WithUserMessage(msg string) *AppError {
	if e != nil {
		e.UserMessage = msg
	}

	return e
}
