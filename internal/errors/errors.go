// Package errors provides unified error handling for the wake-word pipeline.
// Every failure carries a Code so callers can reproduce the exact
// taxonomy-driven behavior (retry, swallow, or abort) without matching on
// message strings.
package errors

import (
	"errors"
	"fmt"
)

// Code classifies pipeline failures.
type Code int

const (
	CodeUnknown Code = iota

	// CodeDevice covers audio device open/read failures. Fatal to capture
	// after bounded retry.
	CodeDevice

	// CodeTranscription covers gateway failures and timeouts. Recoverable:
	// treated as an empty transcript.
	CodeTranscription

	// CodeVerification covers unexpected failures inside the scorer.
	// Recoverable: result treated as unverified.
	CodeVerification

	// CodeConcurrency flags lifecycle violations, e.g. starting a monitor
	// that is already running.
	CodeConcurrency

	// CodeConfig covers invalid or missing configuration.
	CodeConfig
)

func (c Code) String() string {
	switch c {
	case CodeDevice:
		return "DEVICE"
	case CodeTranscription:
		return "TRANSCRIPTION"
	case CodeVerification:
		return "VERIFICATION"
	case CodeConcurrency:
		return "CONCURRENCY_VIOLATION"
	case CodeConfig:
		return "CONFIG"
	default:
		return "UNKNOWN"
	}
}

// AppError is the base error type with structured code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code.String(), e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// CodeOf extracts the Code from an error chain, or CodeUnknown.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// IsCode checks if an error (anywhere in its chain) has a specific code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsRecoverable reports whether the monitor loop may continue after err.
// Only device errors are terminal; everything else is logged and absorbed.
func IsRecoverable(err error) bool {
	return CodeOf(err) != CodeDevice
}
