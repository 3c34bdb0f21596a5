// Package errors provides the rejection taxonomy, error categorization,
// and backend retry for parcelflow.
//
// The package separates two families of failure:
//   - Rejections: a record is malformed, a duplicate, denied by preference,
//     or over capacity. These drop one event and the run continues.
//   - Backend failures: a durable store or output sink failed. These are
//     environmental; transient ones may be retried, the rest end the run.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Category represents how an error should be handled.
type Category int

const (
	// CategoryRecoverable drops the current event and continues the run.
	CategoryRecoverable Category = iota

	// CategoryTransient indicates a backend hiccup that a retry will likely fix.
	CategoryTransient

	// CategoryFatal indicates the run cannot continue.
	CategoryFatal
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryRecoverable:
		return "recoverable"
	case CategoryTransient:
		return "transient"
	case CategoryFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how this error should be handled.
	Category Category

	// Retries is the number of attempts that have been made.
	Retries int

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s, attempts: %d)",
			e.Context, e.Err, e.Category, e.Retries)
	}
	return fmt.Sprintf("%s (category: %s, attempts: %d)",
		e.Err, e.Category, e.Retries)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// Transient marks err as worth retrying.
func Transient(err error, context string) *CategorizedError {
	return &CategorizedError{Err: err, Category: CategoryTransient, Context: context}
}

// Fatal marks err as ending the run.
func Fatal(err error, context string) *CategorizedError {
	return &CategorizedError{Err: err, Category: CategoryFatal, Context: context}
}

// Categorize determines how an error should be handled.
func Categorize(err error) Category {
	if err == nil {
		return CategoryFatal // shouldn't happen, fail safe
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	if KindOf(err) != KindNone {
		return CategoryRecoverable
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CategoryFatal
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTransient
	}

	// Backend failures and unknown errors end the run (fail safe)
	return CategoryFatal
}

// IsRecoverable reports whether the error only drops the current event.
func IsRecoverable(err error) bool {
	return err != nil && Categorize(err) == CategoryRecoverable
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return err != nil && Categorize(err) == CategoryTransient
}

// IsFatal reports whether the error should end the run.
func IsFatal(err error) bool {
	return err != nil && Categorize(err) == CategoryFatal
}
