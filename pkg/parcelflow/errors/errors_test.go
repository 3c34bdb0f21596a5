package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestKindString(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected string
	}{
		{KindSchemaType, "SchemaTypeError"},
		{KindInvalidAction, "InvalidAction"},
		{KindInvalidPackageType, "InvalidPackageType"},
		{KindMissingPreferenceField, "MissingPreferenceField"},
		{KindDuplicate, "Duplicate"},
		{KindPreferenceDenied, "PreferenceDenied"},
		{KindCapacityExceeded, "CapacityExceeded"},
		{Kind(99), "None"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.expected {
				t.Errorf("Kind(%d).String() = %s, want %s", tt.kind, got, tt.expected)
			}
		})
	}
}

func TestCategoryString(t *testing.T) {
	tests := []struct {
		category Category
		expected string
	}{
		{CategoryRecoverable, "recoverable"},
		{CategoryTransient, "transient"},
		{CategoryFatal, "fatal"},
		{Category(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.category.String(); got != tt.expected {
				t.Errorf("Category(%d).String() = %s, want %s", tt.category, got, tt.expected)
			}
		})
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Category
	}{
		{"nil error", nil, CategoryFatal},
		{"validation error", Validation(KindSchemaType, "sender_id", "not an integer"), CategoryRecoverable},
		{"wrapped validation error", fmt.Errorf("decode: %w", Validation(KindInvalidAction, "action", "unknown")), CategoryRecoverable},
		{"duplicate", ErrDuplicate, CategoryRecoverable},
		{"preference denied", Drop(KindPreferenceDenied, 21), CategoryRecoverable},
		{"backend error", Backend("sqlite", "record", errors.New("disk I/O error")), CategoryFatal},
		{"backend timeout", Backend("redis", "hsetnx", timeoutErr{}), CategoryTransient},
		{"context cancelled", context.Canceled, CategoryFatal},
		{"categorized", Transient(errors.New("busy"), "sqlite"), CategoryTransient},
		{"unknown error", errors.New("unknown"), CategoryFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Categorize(tt.err); got != tt.expected {
				t.Errorf("Categorize(%v) = %s, want %s", tt.err, got, tt.expected)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(Validation(KindMissingPreferenceField, "", "need one")); got != KindMissingPreferenceField {
		t.Errorf("KindOf = %s, want MissingPreferenceField", got)
	}
	if got := KindOf(fmt.Errorf("wrap: %w", Drop(KindDuplicate, 4))); got != KindDuplicate {
		t.Errorf("KindOf = %s, want Duplicate", got)
	}
	if got := KindOf(errors.New("plain")); got != KindNone {
		t.Errorf("KindOf = %s, want None", got)
	}
}

func TestErrorsIs(t *testing.T) {
	err := fmt.Errorf("process: %w", Drop(KindDuplicate, 21))
	if !errors.Is(err, ErrDuplicate) {
		t.Error("expected errors.Is to match ErrDuplicate")
	}
	if errors.Is(err, ErrPreferenceDenied) {
		t.Error("duplicate should not match ErrPreferenceDenied")
	}

	valErr := Validation(KindSchemaType, "package_id", "got string")
	if !errors.Is(valErr, &ValidationError{Kind: KindSchemaType}) {
		t.Error("expected kind-only match")
	}
	if !errors.Is(valErr, &ValidationError{Kind: KindSchemaType, Field: "package_id"}) {
		t.Error("expected kind and field match")
	}
	if errors.Is(valErr, &ValidationError{Kind: KindSchemaType, Field: "sender_id"}) {
		t.Error("different field should not match")
	}
}

func TestErrorMessages(t *testing.T) {
	if got := Validation(KindSchemaType, "sender_id", "expected integer").Error(); got != "SchemaTypeError on sender_id: expected integer" {
		t.Errorf("unexpected message %q", got)
	}
	if got := Validation(KindMissingPreferenceField, "", "need one").Error(); got != "MissingPreferenceField: need one" {
		t.Errorf("unexpected message %q", got)
	}
	if got := Drop(KindPreferenceDenied, 21).Error(); got != "PreferenceDenied for recipient 21" {
		t.Errorf("unexpected message %q", got)
	}
	if got := ErrCapacityExceeded.Error(); got != "CapacityExceeded" {
		t.Errorf("unexpected message %q", got)
	}
	if Backend("redis", "get", nil) != nil {
		t.Error("Backend(nil) should be nil")
	}
}

func TestRetry(t *testing.T) {
	fast := RetryPolicy{Attempts: 3, Backoff: time.Millisecond}

	t.Run("success on first try", func(t *testing.T) {
		calls := 0
		v, err := Retry(context.Background(), fast, func(context.Context) (string, error) {
			calls++
			return "ok", nil
		})
		if err != nil || v != "ok" || calls != 1 {
			t.Errorf("got value=%q err=%v calls=%d", v, err, calls)
		}
	})

	t.Run("transient failure is retried", func(t *testing.T) {
		calls := 0
		v, err := Retry(context.Background(), fast, func(context.Context) (int64, error) {
			calls++
			if calls < 2 {
				return 0, Backend("redis", "incr", timeoutErr{})
			}
			return 7, nil
		})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if v != 7 || calls != 2 {
			t.Errorf("got value=%d calls=%d, want 7 and 2", v, calls)
		}
	})

	t.Run("attempts exhausted", func(t *testing.T) {
		calls := 0
		_, err := Retry(context.Background(), fast, func(context.Context) (bool, error) {
			calls++
			return false, Backend("redis", "hexists", timeoutErr{})
		})
		if calls != 3 {
			t.Errorf("Calls = %d, want 3", calls)
		}
		if !IsFatal(err) {
			t.Errorf("exhausted retries should be fatal, got %s", Categorize(err))
		}
		var be *BackendError
		if !errors.As(err, &be) || be.Op != "hexists" {
			t.Errorf("expected the backend error to be preserved, got %v", err)
		}
	})

	t.Run("non-retryable error stops immediately", func(t *testing.T) {
		calls := 0
		boom := Backend("sqlite", "record", errors.New("constraint failed"))
		_, err := Retry(context.Background(), fast, func(context.Context) (bool, error) {
			calls++
			return false, boom
		})
		if err != boom {
			t.Errorf("err = %v, want the original error", err)
		}
		if calls != 1 {
			t.Errorf("Calls = %d, want 1", calls)
		}
	})

	t.Run("custom retryable check", func(t *testing.T) {
		calls := 0
		p := fast
		p.Retryable = func(error) bool { return true }
		_, _ = Retry(context.Background(), p, func(context.Context) (bool, error) {
			calls++
			return false, errors.New("anything")
		})
		if calls != 3 {
			t.Errorf("Calls = %d, want 3", calls)
		}
	})

	t.Run("no retry", func(t *testing.T) {
		calls := 0
		_, _ = Retry(context.Background(), NoRetry, func(context.Context) (bool, error) {
			calls++
			return false, timeoutErr{}
		})
		if calls != 1 {
			t.Errorf("Calls = %d, want 1", calls)
		}
	})
}

func TestRetryCancellation(t *testing.T) {
	t.Run("cancelled before the first call", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		calls := 0
		_, err := Retry(ctx, DefaultRetry, func(context.Context) (string, error) {
			calls++
			return "never reached", nil
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
		if calls != 0 {
			t.Errorf("Calls = %d, want 0", calls)
		}
	})

	t.Run("cancelled during backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		p := RetryPolicy{Attempts: 5, Backoff: 100 * time.Millisecond}

		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()

		calls := 0
		_, err := Retry(ctx, p, func(context.Context) (string, error) {
			calls++
			return "", timeoutErr{}
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
		if calls > 2 {
			t.Errorf("Calls = %d, expected <= 2", calls)
		}
	})
}

func TestJittered(t *testing.T) {
	if got := jittered(100*time.Millisecond, 0); got != 100*time.Millisecond {
		t.Errorf("no jitter: got %v", got)
	}
	for i := 0; i < 100; i++ {
		got := jittered(100*time.Millisecond, 0.1)
		if got < 90*time.Millisecond || got > 110*time.Millisecond {
			t.Fatalf("jittered wait %v outside 10%% band", got)
		}
	}
}
