package backoff

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// retryableErr is a test error with a controllable Retryable answer.
type retryableErr struct {
	code      int
	retryable bool
}

func (e *retryableErr) Error() string   { return fmt.Sprintf("status %d", e.code) }
func (e *retryableErr) Retryable() bool { return e.retryable }

// recordingSleep captures requested delays without actually waiting.
func recordingSleep(delays *[]time.Duration) sleepFunc {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestDoSucceedsAfterServerErrors(t *testing.T) {
	p := Policy{InitialDelay: time.Second, MaxRetries: 5, MaxDelay: 60 * time.Second}

	calls := 0
	var delays []time.Duration
	err := do(context.Background(), p, recordingSleep(&delays), func() error {
		calls++
		if calls <= 3 {
			return &retryableErr{code: 500, retryable: true}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("do() = %v, want nil", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestDoCapsDelayAtMax(t *testing.T) {
	p := Policy{InitialDelay: time.Second, MaxRetries: 4, MaxDelay: 3 * time.Second}

	var delays []time.Duration
	err := do(context.Background(), p, recordingSleep(&delays), func() error {
		return &retryableErr{code: 503, retryable: true}
	})
	if err == nil {
		t.Fatal("do() = nil, want exhaustion error")
	}

	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestDoDoesNotRetryFatalErrors(t *testing.T) {
	p := Policy{InitialDelay: time.Second, MaxRetries: 5}

	calls := 0
	var delays []time.Duration
	fatal := &retryableErr{code: 404, retryable: false}
	err := do(context.Background(), p, recordingSleep(&delays), func() error {
		calls++
		return fatal
	})

	if !errors.Is(err, fatal) {
		t.Errorf("do() = %v, want %v", err, fatal)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retries for 404)", calls)
	}
	if len(delays) != 0 {
		t.Errorf("delays = %v, want none", delays)
	}
}

func TestDoExhaustionWrapsLastError(t *testing.T) {
	p := Policy{InitialDelay: time.Millisecond, MaxRetries: 2}

	underlying := &retryableErr{code: 429, retryable: true}
	var delays []time.Duration
	err := do(context.Background(), p, recordingSleep(&delays), func() error {
		return underlying
	})

	if err == nil {
		t.Fatal("do() = nil, want error")
	}
	if !errors.Is(err, underlying) {
		t.Errorf("exhaustion error does not wrap the last failure: %v", err)
	}
	var r Retryable
	if !errors.As(err, &r) {
		t.Error("exhaustion error lost retryability classification")
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	p := Policy{InitialDelay: time.Hour, MaxRetries: 5}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, p, func() error {
		return &retryableErr{code: 500, retryable: true}
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() = %v, want context.Canceled", err)
	}
}

func TestDoValueReturnsResult(t *testing.T) {
	p := Policy{InitialDelay: time.Millisecond, MaxRetries: 3}

	calls := 0
	var delays []time.Duration
	got, err := doValue(context.Background(), p, recordingSleep(&delays), func() (string, error) {
		calls++
		if calls == 1 {
			return "", &retryableErr{code: 502, retryable: true}
		}
		return "page-2", nil
	})
	if err != nil {
		t.Fatalf("doValue() error = %v", err)
	}
	if got != "page-2" {
		t.Errorf("doValue() = %q, want %q", got, "page-2")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"retryable 429", &retryableErr{code: 429, retryable: true}, true},
		{"fatal 400", &retryableErr{code: 400, retryable: false}, false},
		{"wrapped retryable", fmt.Errorf("list page: %w", &retryableErr{code: 503, retryable: true}), true},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}
