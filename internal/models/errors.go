package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDataGap marks missing or unusable market data for one ticker.
	ErrDataGap = errors.New("data gap")
	// ErrRateLimited is returned when an upstream provider or the local quota refuses a call.
	ErrRateLimited = errors.New("rate limited")
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a paper trade cannot move to the requested status.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrPersistence wraps storage failures surfaced to callers.
	ErrPersistence = errors.New("persistence failure")
)

// DataGapError reports why a ticker produced no usable chain data.
type DataGapError struct {
	Ticker string
	Reason string
	Err    error
}

func (e *DataGapError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data gap for %s: %s: %v", e.Ticker, e.Reason, e.Err)
	}
	return fmt.Sprintf("data gap for %s: %s", e.Ticker, e.Reason)
}

// Is makes errors.Is(err, ErrDataGap) match.
func (e *DataGapError) Is(target error) bool {
	return target == ErrDataGap
}

func (e *DataGapError) Unwrap() error {
	return e.Err
}

// NewDataGap builds a DataGapError.
func NewDataGap(ticker, reason string, err error) *DataGapError {
	return &DataGapError{Ticker: ticker, Reason: reason, Err: err}
}

// FieldError is a single invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError rejects a malformed request before any data is fetched.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

// Add appends a field error.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// OrNil returns nil when no field errors were collected.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}
