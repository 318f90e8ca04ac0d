// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors. The first three form the degradation taxonomy:
// data-shaped absence (ErrMissingData, ErrInsufficientHistory) causes the
// current evaluation cycle to be skipped, ErrConfigInvalid is fatal at
// startup, and ErrInvariant marks state-machine bugs that must propagate.
var (
	ErrMissingData         = errors.New("market data not available")
	ErrInsufficientHistory = errors.New("insufficient history")
	ErrConfigInvalid       = errors.New("invalid configuration")
	ErrInvariant           = errors.New("invariant violation")
	ErrBrokerFailure       = errors.New("broker call failed")
	ErrMarketClosed        = errors.New("market is closed")
	ErrNotAuthenticated    = errors.New("not authenticated")
	ErrNoExpiry            = errors.New("no eligible expiry")
	ErrDatabaseError       = errors.New("database error")
)

// BrokerError represents an error from a broker API.
type BrokerError struct {
	Broker  string
	Code    string
	Message string
	Err     error
}

func (e *BrokerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broker error [%s/%s]: %s: %v", e.Broker, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("broker error [%s/%s]: %s", e.Broker, e.Code, e.Message)
}

func (e *BrokerError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrBrokerFailure
}

// NewBrokerError creates a new BrokerError.
func NewBrokerError(broker, code, message string, err error) *BrokerError {
	return &BrokerError{
		Broker:  broker,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// DataError represents a data-availability error for a specific contract or
// timestamp. It unwraps to ErrMissingData so callers can degrade uniformly.
type DataError struct {
	Kind    string // "bar", "spot", "chain", "oi"
	Subject string
	Err     error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data error [%s] %s: %v", e.Kind, e.Subject, e.Err)
	}
	return fmt.Sprintf("data error [%s] %s", e.Kind, e.Subject)
}

func (e *DataError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrMissingData
}

// NewDataError creates a new DataError.
func NewDataError(kind, subject string, err error) *DataError {
	return &DataError{Kind: kind, Subject: subject, Err: err}
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfigInvalid
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field string, value interface{}, message string) *ConfigError {
	return &ConfigError{Field: field, Value: value, Message: message}
}

// IsSkippable reports whether an error represents data-shaped absence that
// the orchestrator treats as "no signal this cycle" rather than a failure.
func IsSkippable(err error) bool {
	return errors.Is(err, ErrMissingData) ||
		errors.Is(err, ErrInsufficientHistory) ||
		errors.Is(err, ErrBrokerFailure)
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}
