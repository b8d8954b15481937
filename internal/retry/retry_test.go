package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/teslaelectricidad/teslabot/internal/errors"
)

func newTestBackoff(cfg *Config) (*Backoff, *[]time.Duration) {
	b := New(cfg, zap.NewNop())
	var waits []time.Duration
	b.wait = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return b, &waits
}

func noJitter() *Config {
	cfg := DefaultConfig()
	cfg.Jitter = 0
	return cfg
}

func TestExecute_SucceedsFirstTry(t *testing.T) {
	b, waits := newTestBackoff(noJitter())

	calls := 0
	err := b.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if calls != 1 || len(*waits) != 0 {
		t.Errorf("calls = %d, waits = %v", calls, *waits)
	}
}

func TestExecute_RetriesTransientFailures(t *testing.T) {
	b, waits := newTestBackoff(noJitter())

	calls := 0
	err := b.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &StatusError{Err: errors.New("unavailable"), StatusCode: http.StatusServiceUnavailable}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	want := []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}
	if len(*waits) != len(want) || (*waits)[0] != want[0] || (*waits)[1] != want[1] {
		t.Errorf("waits = %v, want %v", *waits, want)
	}

	stats := b.Stats()
	if stats.TotalAttempts != 3 || stats.TotalRetries != 2 || stats.SuccessfulRetries != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestExecute_Exhausted(t *testing.T) {
	b, _ := newTestBackoff(noJitter())
	cause := &StatusError{Err: errors.New("bad gateway"), StatusCode: http.StatusBadGateway}

	calls := 0
	err := b.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return cause
	})
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("error = %v, want ErrExhausted", err)
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadGateway {
		t.Errorf("cause lost: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if b.Stats().ExhaustedRetries != 1 {
		t.Errorf("ExhaustedRetries = %d, want 1", b.Stats().ExhaustedRetries)
	}
}

func TestExecute_NotRetried(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"client error", &StatusError{Err: errors.New("bad request"), StatusCode: http.StatusBadRequest}},
		{"server error", &StatusError{Err: errors.New("boom"), StatusCode: http.StatusInternalServerError}},
		{"permanent", Permanent(errors.New("rejected"))},
		{"deadline", context.DeadlineExceeded},
		{"classified user error", apperrors.InvalidFormat("telefono", "9 to 15 digits")},
		{"classified system error", apperrors.InternalError("broken", nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, waits := newTestBackoff(noJitter())

			calls := 0
			err := b.Execute(context.Background(), func(ctx context.Context) error {
				calls++
				return tt.err
			})
			if !errors.Is(err, tt.err) && err != tt.err {
				t.Errorf("error = %v, want %v", err, tt.err)
			}
			if calls != 1 || len(*waits) != 0 {
				t.Errorf("calls = %d, waits = %v", calls, *waits)
			}
		})
	}
}

func TestExecute_TransportErrorRetried(t *testing.T) {
	b, _ := newTestBackoff(noJitter())

	calls := 0
	_ = b.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("connection refused")
	})
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestExecute_ClassifiedTransientErrorRetried(t *testing.T) {
	b, _ := newTestBackoff(noJitter())

	calls := 0
	err := b.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return apperrors.ExternalServiceError("twilio", errors.New("gateway timeout"))
	})
	if !errors.Is(err, ErrExhausted) {
		t.Errorf("error = %v, want ErrExhausted", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestExecute_RespectsRetryAfter(t *testing.T) {
	b, waits := newTestBackoff(noJitter())

	calls := 0
	_ = b.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &StatusError{Err: errors.New("slow down"), StatusCode: http.StatusTooManyRequests, RetryAfter: time.Second}
		}
		if calls == 2 {
			return &StatusError{Err: errors.New("slow down"), StatusCode: http.StatusTooManyRequests, RetryAfter: time.Minute}
		}
		return nil
	})

	want := []time.Duration{time.Second, 2 * time.Second}
	if len(*waits) != 2 || (*waits)[0] != want[0] || (*waits)[1] != want[1] {
		t.Errorf("waits = %v, want %v (Retry-After capped at MaxDelay)", *waits, want)
	}
}

func TestExecute_ContextCanceledDuringWait(t *testing.T) {
	b, _ := newTestBackoff(noJitter())
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := b.Execute(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("connection reset")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDelay_JitterWithinBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Jitter = 0.5
	b := New(cfg, nil)

	for i := 0; i < 50; i++ {
		d := b.delay(errors.New("x"), 0)
		if d < 100*time.Millisecond || d > 300*time.Millisecond {
			t.Fatalf("delay %v outside jitter bounds", d)
		}
	}
}
