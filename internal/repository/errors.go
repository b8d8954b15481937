package repository

import (
	"context"
	"time"

	apperrors "github.com/teslaelectricidad/teslabot/internal/errors"
)

// Common repository errors.
var (
	// ErrNotFound matches every not found error, including ones naming a
	// specific record.
	ErrNotFound = apperrors.NotFound("record")
)

// Default query timeouts.
const (
	// DefaultQueryTimeout is the timeout for single-row queries.
	DefaultQueryTimeout = 5 * time.Second

	// DefaultListQueryTimeout is the timeout for paginated queries.
	DefaultListQueryTimeout = 10 * time.Second

	// DefaultWriteTimeout is the timeout for inserts, including batches.
	DefaultWriteTimeout = 10 * time.Second
)

// WithQueryTimeout returns a context with the default query timeout.
// A parent deadline that is already sooner is kept.
func WithQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(ctx, DefaultQueryTimeout)
}

// WithListQueryTimeout returns a context with the default list query timeout.
func WithListQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(ctx, DefaultListQueryTimeout)
}

// WithWriteTimeout returns a context with the default write timeout.
func WithWriteTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(ctx, DefaultWriteTimeout)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok {
		if time.Until(deadline) < timeout {
			return ctx, func() {}
		}
	}
	return context.WithTimeout(ctx, timeout)
}
