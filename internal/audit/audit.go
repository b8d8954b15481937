// Package audit records security events on the admin API and the server
// lifecycle.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventType represents the type of audit event.
type EventType string

// Security audit event types.
const (
	// Admin API
	EventAdminAccessGranted EventType = "admin.access.granted"
	EventAdminAccessDenied  EventType = "admin.access.denied"

	// System events
	EventServiceStarted  EventType = "system.started"
	EventServiceStopping EventType = "system.stopping"
)

// Severity represents the severity level of an audit event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Event represents an audit log entry.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Severity  Severity  `json:"severity"`

	// Source of the event.
	SourceIP  string `json:"source_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	// Resource is the path or component the event concerns.
	Resource string `json:"resource,omitempty"`

	Action  string `json:"action"`
	Outcome string `json:"outcome"` // "success", "failure", "denied"
	Reason  string `json:"reason,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// Logger writes audit events to a dedicated "audit" logger.
type Logger struct {
	logger *zap.Logger
}

// NewLogger creates a new audit logger.
func NewLogger(baseLogger *zap.Logger) *Logger {
	if baseLogger == nil {
		baseLogger = zap.NewNop()
	}
	return &Logger{
		logger: baseLogger.Named("audit"),
	}
}

// Log records an audit event, filling in its ID and timestamp.
func (l *Logger) Log(ctx context.Context, event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	level := zap.InfoLevel
	switch event.Severity {
	case SeverityWarning:
		level = zap.WarnLevel
	case SeverityError, SeverityCritical:
		level = zap.ErrorLevel
	}

	fields := []zap.Field{
		zap.String("audit_id", event.ID),
		zap.Time("audit_timestamp", event.Timestamp),
		zap.String("event_type", string(event.Type)),
		zap.String("severity", string(event.Severity)),
		zap.String("action", event.Action),
		zap.String("outcome", event.Outcome),
	}
	optional := []struct{ key, value string }{
		{"source_ip", event.SourceIP},
		{"user_agent", event.UserAgent},
		{"request_id", event.RequestID},
		{"resource", event.Resource},
		{"reason", event.Reason},
	}
	for _, f := range optional {
		if f.value != "" {
			fields = append(fields, zap.String(f.key, f.value))
		}
	}
	if len(event.Metadata) > 0 {
		metadata, err := json.Marshal(event.Metadata)
		if err != nil {
			metadata = []byte(`{"error":"failed to marshal metadata"}`)
		}
		fields = append(fields, zap.ByteString("metadata", metadata))
	}

	if ce := l.logger.Check(level, "security audit event"); ce != nil {
		ce.Write(fields...)
	}
}

// AdminAccessGranted logs an authenticated admin API request.
func (l *Logger) AdminAccessGranted(ctx context.Context, ip, userAgent, requestID, method, path string) {
	l.Log(ctx, &Event{
		Type:      EventAdminAccessGranted,
		Severity:  SeverityInfo,
		SourceIP:  ip,
		UserAgent: userAgent,
		RequestID: requestID,
		Resource:  path,
		Action:    method + " " + path,
		Outcome:   "success",
	})
}

// AdminAccessDenied logs an admin API request without a valid token.
func (l *Logger) AdminAccessDenied(ctx context.Context, ip, userAgent, requestID, method, path, reason string) {
	l.Log(ctx, &Event{
		Type:      EventAdminAccessDenied,
		Severity:  SeverityWarning,
		SourceIP:  ip,
		UserAgent: userAgent,
		RequestID: requestID,
		Resource:  path,
		Action:    method + " " + path,
		Outcome:   "denied",
		Reason:    reason,
	})
}

// ServiceStarted logs server startup.
func (l *Logger) ServiceStarted(ctx context.Context, version, environment string) {
	l.Log(ctx, &Event{
		Type:     EventServiceStarted,
		Severity: SeverityInfo,
		Resource: "server",
		Action:   "service start",
		Outcome:  "success",
		Metadata: map[string]any{
			"version":     version,
			"environment": environment,
		},
	})
}

// ServiceStopping logs the start of a graceful shutdown.
func (l *Logger) ServiceStopping(ctx context.Context, reason string) {
	l.Log(ctx, &Event{
		Type:     EventServiceStopping,
		Severity: SeverityInfo,
		Resource: "server",
		Action:   "service stop",
		Outcome:  "success",
		Reason:   reason,
	})
}
