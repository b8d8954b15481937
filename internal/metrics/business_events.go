package metrics

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teslaelectricidad/teslabot/internal/phone"
	"github.com/teslaelectricidad/teslabot/internal/sanitize"
)

// BusinessEventLogger provides structured logging for business events.
// This complements Prometheus metrics by providing detailed, searchable logs
// for lead follow-up and debugging.
type BusinessEventLogger struct {
	logger *zap.Logger
}

// NewBusinessEventLogger creates a new business event logger.
func NewBusinessEventLogger(logger *zap.Logger) *BusinessEventLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BusinessEventLogger{
		logger: logger.Named("business_events"),
	}
}

// LeadSubmitted logs an accepted contact submission.
func (l *BusinessEventLogger) LeadSubmitted(ctx context.Context, leadID, source, service, phoneNumber, email string) {
	l.logger.Info("lead_submitted",
		zap.String("event_type", "lead.submitted"),
		zap.String("lead_id", leadID),
		zap.String("source", source),
		zap.String("service", service),
		zap.String("phone", phone.Mask(phoneNumber)),
		zap.String("email", sanitize.Email(email)),
		zap.Time("timestamp", time.Now().UTC()),
	)
}

// SubmissionFailed logs a submission the backend did not accept.
func (l *BusinessEventLogger) SubmissionFailed(ctx context.Context, source, service string, err error) {
	l.logger.Warn("submission_failed",
		zap.String("event_type", "lead.submission_failed"),
		zap.String("source", source),
		zap.String("service", service),
		zap.String("error", sanitize.Error(err)),
		zap.Time("timestamp", time.Now().UTC()),
	)
}

// DispatchCompleted logs the summary of one automation dispatch.
func (l *BusinessEventLogger) DispatchCompleted(ctx context.Context, leadID string, delivered, failed, skipped int, duration time.Duration) {
	level := l.logger.Info
	if failed > 0 {
		level = l.logger.Warn
	}
	level("dispatch_completed",
		zap.String("event_type", "automation.dispatched"),
		zap.String("lead_id", leadID),
		zap.Int("delivered", delivered),
		zap.Int("failed", failed),
		zap.Int("skipped", skipped),
		zap.Duration("duration", duration),
		zap.Time("timestamp", time.Now().UTC()),
	)
}

// ChatSessionStarted logs a new chat session.
func (l *BusinessEventLogger) ChatSessionStarted(ctx context.Context, sessionID string) {
	l.logger.Info("chat_session_started",
		zap.String("event_type", "chat.started"),
		zap.String("session_id", sessionID),
		zap.Time("timestamp", time.Now().UTC()),
	)
}

// ChatFallback logs a conversation handed off to the fallback stage.
func (l *BusinessEventLogger) ChatFallback(ctx context.Context, sessionID, stage string, retries int) {
	l.logger.Warn("chat_fallback",
		zap.String("event_type", "chat.fallback"),
		zap.String("session_id", sessionID),
		zap.String("stage", stage),
		zap.Int("retries", retries),
		zap.Time("timestamp", time.Now().UTC()),
	)
}

// RateLimitExceeded logs when a rate limit is exceeded.
func (l *BusinessEventLogger) RateLimitExceeded(ctx context.Context, limiterType string, identifier string) {
	l.logger.Warn("rate_limit_exceeded",
		zap.String("event_type", "rate_limit.exceeded"),
		zap.String("limiter_type", limiterType),
		zap.String("identifier", sanitize.Identifier(identifier)),
		zap.Time("timestamp", time.Now().UTC()),
	)
}
