package domain

import (
	"errors"
	"time"
)

// Common domain errors
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotConfirmed  = errors.New("destructive action requires confirmation")

	// Per-file failure while reading, stat-ing or traversing
	ErrIOFailure = errors.New("i/o failure")

	// Store errors
	ErrCacheUnavailable   = errors.New("hash cache unavailable")
	ErrHistoryUnavailable = errors.New("history store unavailable")

	// Configuration errors
	ErrConfigInvalid = errors.New("invalid configuration")
	ErrUnknownAlgo   = errors.New("unknown hash algorithm")
)

// FileError is a per-file failure. The file is skipped and the scan continues.
type FileError struct {
	Path string
	Op   string
	Err  error
}

// Error returns the error message
func (e *FileError) Error() string {
	msg := e.Op + " " + e.Path
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *FileError) Unwrap() error {
	return e.Err
}

// Is reports every FileError as an ErrIOFailure
func (e *FileError) Is(target error) bool {
	return target == ErrIOFailure
}

// NewFileError creates a new per-file error
func NewFileError(path, op string, err error) *FileError {
	return &FileError{Path: path, Op: op, Err: err}
}

// IsFileError returns true if the error is a per-file failure
func IsFileError(err error) bool {
	var fe *FileError
	return errors.As(err, &fe)
}

// ConfigError describes a rejected configuration value
type ConfigError struct {
	Field  string
	Reason string
}

// Error returns the error message
func (e *ConfigError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}

// Is reports every ConfigError as an ErrConfigInvalid
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfigInvalid
}

// NewConfigError creates a new configuration error
func NewConfigError(field, reason string) *ConfigError {
	return &ConfigError{Field: field, Reason: reason}
}

// SkippableError represents an error that can be logged and skipped.
// Processing can continue with the next item when this error occurs.
type SkippableError struct {
	Err     error
	Context string
}

// Error returns the error message
func (e *SkippableError) Error() string {
	if e.Context != "" {
		if e.Err != nil {
			return e.Context + ": " + e.Err.Error()
		}
		return e.Context
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "skippable error"
}

// Unwrap returns the underlying error
func (e *SkippableError) Unwrap() error {
	return e.Err
}

// NewSkippableError creates a new skippable error
func NewSkippableError(err error, context string) *SkippableError {
	return &SkippableError{Err: err, Context: context}
}

// IsSkippable returns true if the error can be skipped.
// Per-file failures are always skippable.
func IsSkippable(err error) bool {
	var se *SkippableError
	return errors.As(err, &se) || IsFileError(err)
}

// RetryableError represents a transient store error, e.g. a lock held past
// the busy timeout.
type RetryableError struct {
	Err        error
	RetryAfter time.Duration
}

// Error returns the error message
func (e *RetryableError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "retryable error"
}

// Unwrap returns the underlying error
func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error, retryAfter time.Duration) *RetryableError {
	return &RetryableError{Err: err, RetryAfter: retryAfter}
}

// IsRetryable returns true if the error should be retried
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// GetRetryAfter returns the retry duration if the error is retryable
func GetRetryAfter(err error) (time.Duration, bool) {
	var re *RetryableError
	if errors.As(err, &re) {
		return re.RetryAfter, true
	}
	return 0, false
}
