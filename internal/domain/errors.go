package domain

import (
	"errors"
	"fmt"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a transport fault on the feed connection
type NetworkError struct {
	Op        string // Operation that failed (e.g., "dial", "read")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// ParseError is a malformed feed message. The message is dropped, the
// connection stays up.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return "parse error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ParseError) IsRetriable() bool {
	return false
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ValidationError rejects a simulation request parameter.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field string, value any, reason string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// Unwrap lets callers match with errors.Is(err, ErrInvalidRequest).
func (e *ValidationError) Unwrap() error {
	return ErrInvalidRequest
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrConnectionFailed is returned when websocket connection fails. It's usually retriable.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrEmptyBook is returned when an operation needs a book and none has been applied
	ErrEmptyBook = errors.New("order book is empty")

	// ErrInvalidRequest is the root of all ValidationErrors
	ErrInvalidRequest = errors.New("invalid simulation request")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")

	// ErrNotFound is returned by stores when a key does not exist
	ErrNotFound = errors.New("not found")
)
