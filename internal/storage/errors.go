package storage

import (
	"fmt"
	"time"
)

// ErrorType distinguishes between retryable and non-retryable errors.
type ErrorType int

const (
	// ErrorTypeInfrastructure indicates DB/system errors (503 - retryable).
	ErrorTypeInfrastructure ErrorType = iota
	// ErrorTypeInvalidData indicates a snapshot the mirror refuses to hold.
	ErrorTypeInvalidData
)

// StorageError wraps storage layer errors with type information.
type StorageError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewInfrastructureError creates an infrastructure error (503 - retryable).
func NewInfrastructureError(message string, cause error) *StorageError {
	return &StorageError{
		Type:    ErrorTypeInfrastructure,
		Message: message,
		Cause:   cause,
	}
}

// NewInvalidDataError creates a non-retryable error for bad input.
func NewInvalidDataError(message string, cause error) *StorageError {
	return &StorageError{
		Type:    ErrorTypeInvalidData,
		Message: message,
		Cause:   cause,
	}
}

// LoadResult contains the outcome of a snapshot load.
type LoadResult struct {
	Version  string           `json:"version"`
	LoadedAt time.Time        `json:"loaded_at"`
	Duration time.Duration    `json:"duration_ns"`
	Rows     map[string]int64 `json:"rows"`
}

// Add records n rows appended to table.
func (r *LoadResult) Add(table string, n int64) {
	if r.Rows == nil {
		r.Rows = make(map[string]int64)
	}
	r.Rows[table] += n
}

// Total returns the number of rows loaded across all tables.
func (r *LoadResult) Total() int64 {
	var n int64
	for _, v := range r.Rows {
		n += v
	}
	return n
}
