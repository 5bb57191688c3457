// Package samplerr defines the error taxonomy shared by the analysis pipeline,
// the cache store and the library service.
package samplerr

import (
	"errors"
	"fmt"
)

// Error kinds. Every error produced by samply matches exactly one of these
// with errors.Is.
var (
	// ErrDecode means the input could not be interpreted as audio.
	ErrDecode = errors.New("decode error")

	// ErrCacheUnavailable means the cache storage medium failed.
	ErrCacheUnavailable = errors.New("cache unavailable")

	// ErrValidation means a caller passed an out-of-range parameter.
	ErrValidation = errors.New("validation error")
)

// Specific failures, each wrapping one of the kinds above.
var (
	// Decode failures
	ErrEmptyBuffer       = fmt.Errorf("%w: empty audio buffer", ErrDecode)
	ErrInvalidSampleRate = fmt.Errorf("%w: invalid sample rate", ErrDecode)
	ErrInvalidChannels   = fmt.Errorf("%w: invalid number of channels", ErrDecode)
	ErrChannelMismatch   = fmt.Errorf("%w: sample count not divisible by channel count", ErrDecode)
	ErrUnsupportedFormat = fmt.Errorf("%w: unsupported audio format", ErrDecode)

	// Validation failures
	ErrNegativeThreshold = fmt.Errorf("%w: threshold must not be negative", ErrValidation)
	ErrInvalidResolution = fmt.Errorf("%w: waveform resolution must be positive", ErrValidation)
	ErrEmptyID           = fmt.Errorf("%w: cache id must not be empty", ErrValidation)
	ErrItemTooLarge      = fmt.Errorf("%w: item larger than cache budget", ErrValidation)
	ErrInvalidConfig     = fmt.Errorf("%w: invalid configuration", ErrValidation)

	// Storage failures
	ErrStoreClosed = fmt.Errorf("%w: store is closed", ErrCacheUnavailable)
)

// IsRetryable reports whether a caller may retry the failed operation after a
// backoff. Only storage failures are retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrCacheUnavailable)
}

// Kind returns the kind sentinel err belongs to, or nil if err is not part of
// the taxonomy.
func Kind(err error) error {
	switch {
	case errors.Is(err, ErrDecode):
		return ErrDecode
	case errors.Is(err, ErrCacheUnavailable):
		return ErrCacheUnavailable
	case errors.Is(err, ErrValidation):
		return ErrValidation
	default:
		return nil
	}
}

// Error provides detailed error information.
type Error struct {
	Err       error                  // The underlying error
	Kind      error                  // One of ErrDecode, ErrCacheUnavailable, ErrValidation
	Component string                 // Component that generated the error
	Action    string                 // Action being performed when error occurred
	Context   map[string]interface{} // Additional context
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := "unknown error"
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Component == "" && e.Action == "" {
		return msg
	}
	return fmt.Sprintf("%s %s: %s", e.Component, e.Action, msg)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the error's kind in addition to the wrapped chain.
func (e *Error) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

// New creates a new error with context. The kind is derived from err when it
// already belongs to the taxonomy.
func New(kind, err error, component, action string) *Error {
	if kind == nil {
		kind = Kind(err)
	}
	return &Error{
		Err:       err,
		Kind:      kind,
		Component: component,
		Action:    action,
		Context:   make(map[string]interface{}),
	}
}

// Unavailable wraps a storage failure as ErrCacheUnavailable.
func Unavailable(err error, component, action string) *Error {
	return New(ErrCacheUnavailable, err, component, action)
}

// WithContext adds context to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}
