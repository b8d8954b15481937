// Package retry retries failed backend calls with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/teslaelectricidad/teslabot/internal/errors"
)

// Config configures exponential backoff behavior.
type Config struct {
	// InitialDelay is the first delay duration
	InitialDelay time.Duration

	// MaxDelay caps every delay, including one requested by Retry-After.
	MaxDelay time.Duration

	// Multiplier is the factor to multiply delay by after each retry
	Multiplier float64

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// Jitter is the random spread applied to each delay, e.g. 0.2 = +/- 20%.
	Jitter float64

	// RetryableStatusCodes lists the HTTP statuses worth another attempt.
	RetryableStatusCodes []int

	// RespectRetryAfter honors the Retry-After header if present
	RespectRetryAfter bool
}

// DefaultConfig returns the settings used for backend calls. Delays stay
// short because a visitor is waiting on contact submissions.
func DefaultConfig() *Config {
	return &Config{
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		MaxRetries:   2,
		Jitter:       0.2,
		RetryableStatusCodes: []int{
			http.StatusRequestTimeout,
			http.StatusTooManyRequests,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
		RespectRetryAfter: true,
	}
}

// ErrExhausted is returned, joined with the last error, when every attempt
// failed.
var ErrExhausted = errors.New("maximum retries exhausted")

// StatusError is a failed HTTP response. Only statuses listed in
// Config.RetryableStatusCodes are retried.
type StatusError struct {
	Err        error
	StatusCode int
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return e.Err.Error()
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Stats tracks retry statistics.
type Stats struct {
	TotalAttempts     int64         `json:"total_attempts"`
	TotalRetries      int64         `json:"total_retries"`
	SuccessfulRetries int64         `json:"successful_retries"`
	ExhaustedRetries  int64         `json:"exhausted_retries"`
	TotalDelayTime    time.Duration `json:"total_delay_time"`
}

// Backoff runs operations with exponential backoff. It is safe for
// concurrent use.
type Backoff struct {
	config *Config
	logger *zap.Logger
	wait   func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	stats Stats
}

// New creates a Backoff. A nil config uses DefaultConfig.
func New(config *Config, logger *zap.Logger) *Backoff {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backoff{
		config: config,
		logger: logger,
		wait:   sleep,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Execute runs op until it succeeds, fails permanently, or the retries are
// used up. Errors are returned wrapped so errors.As still finds the cause.
func (b *Backoff) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		b.add(func(s *Stats) { s.TotalAttempts++ })

		err := op(ctx)
		if err == nil {
			if attempt > 0 {
				b.add(func(s *Stats) { s.SuccessfulRetries++ })
				b.logger.Info("operation succeeded after retry", zap.Int("attempts", attempt+1))
			}
			return nil
		}

		if !b.retryable(err) {
			return err
		}
		if attempt >= b.config.MaxRetries {
			b.add(func(s *Stats) { s.ExhaustedRetries++ })
			return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt+1, err)
		}

		delay := b.delay(err, attempt)
		b.add(func(s *Stats) {
			s.TotalRetries++
			s.TotalDelayTime += delay
		})
		b.logger.Warn("operation failed, retrying with backoff",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
		)

		if err := b.wait(ctx, delay); err != nil {
			return fmt.Errorf("retry interrupted: %w", err)
		}
	}
}

func (b *Backoff) retryable(err error) bool {
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return slices.Contains(b.config.RetryableStatusCodes, statusErr.StatusCode)
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return apperrors.IsRetriable(err)
	}
	// Transport errors are retried.
	return true
}

func (b *Backoff) delay(err error, attempt int) time.Duration {
	var statusErr *StatusError
	if errors.As(err, &statusErr) && b.config.RespectRetryAfter && statusErr.RetryAfter > 0 {
		return min(statusErr.RetryAfter, b.config.MaxDelay)
	}

	delay := float64(b.config.InitialDelay) * math.Pow(b.config.Multiplier, float64(attempt))
	if b.config.Jitter > 0 {
		spread := delay * b.config.Jitter
		delay += (rand.Float64()*2 - 1) * spread
	}
	return min(time.Duration(delay), b.config.MaxDelay)
}

func (b *Backoff) add(fn func(*Stats)) {
	b.mu.Lock()
	fn(&b.stats)
	b.mu.Unlock()
}

// Stats returns current retry statistics.
func (b *Backoff) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}
