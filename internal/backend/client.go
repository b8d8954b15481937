// Package backend is a client for the Tesla Electricidad backend API that
// registers contact submissions and runs the automation routes.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teslaelectricidad/teslabot/internal/circuitbreaker"
	"github.com/teslaelectricidad/teslabot/internal/domain"
	"github.com/teslaelectricidad/teslabot/internal/email"
	apperrors "github.com/teslaelectricidad/teslabot/internal/errors"
	"github.com/teslaelectricidad/teslabot/internal/retry"
)

const (
	// DefaultBaseURL is the backend used by the original website.
	DefaultBaseURL = "http://localhost:8000/api"

	// DefaultTimeout bounds a single backend request.
	DefaultTimeout = 10 * time.Second

	maxResponseBytes = 1 << 20
)

// Route paths on the backend.
const (
	PathContact      = "/contact"
	PathWhatsAppSend = "/whatsapp/send"
	PathEmailSend    = "/email/send"
	PathSpecialists  = "/notifications/specialists"
	PathFollowUps    = "/followups/schedule"
	PathAnalytics    = "/analytics/track"
)

// Config holds configuration for the backend client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// Breaker configures the circuit breaker guarding contact submission.
	Breaker *circuitbreaker.Config
	// Retry enables retries of transient contact submission failures; nil
	// submits once. Automation routes are always called once.
	Retry *retry.Config
}

// Client calls the backend JSON API.
type Client struct {
	apiKey         string
	baseURL        string
	httpClient     *http.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
	backoff        *retry.Backoff
	logger         *zap.Logger
}

// New creates a backend client.
func New(cfg *Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var backoff *retry.Backoff
	if cfg.Retry != nil {
		backoff = retry.New(cfg.Retry, logger.Named("retry"))
	}

	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		circuitBreaker: circuitbreaker.New("backend-contact", cfg.Breaker, logger),
		backoff:        backoff,
		logger:         logger,
	}
}

// APIError is a failed backend response: a non-2xx status or a 2xx body
// reporting success=false.
type APIError struct {
	StatusCode int    `json:"-"`
	Success    bool   `json:"success"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("backend error (status %d)", e.StatusCode)
}

// ContactResult is the backend response to a contact submission.
type ContactResult struct {
	Success bool   `json:"success"`
	LeadID  LeadID `json:"lead_id"`
	Message string `json:"message"`
}

// LeadID is a lead identifier the backend may encode as a JSON string or
// number.
type LeadID string

// UnmarshalJSON accepts a string, an integer or null.
func (id *LeadID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = LeadID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("lead_id: %w", err)
	}
	if _, err := n.Int64(); err != nil {
		return fmt.Errorf("lead_id %s is not an integer", n)
	}
	*id = LeadID(n.String())
	return nil
}

// SubmitContact registers a submission and returns the lead id assigned by
// the backend.
func (c *Client) SubmitContact(ctx context.Context, sub domain.ContactSubmission) (string, error) {
	var result ContactResult
	err := c.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
		return c.withRetry(ctx, func(ctx context.Context) error {
			return c.post(ctx, PathContact, sub, &result)
		})
	})
	if err != nil {
		return "", apperrors.SubmissionFailed(err)
	}
	if result.LeadID == "" {
		return "", apperrors.SubmissionFailed(fmt.Errorf("backend returned no lead id"))
	}
	return string(result.LeadID), nil
}

// SendMessage asks the backend to deliver a WhatsApp message.
func (c *Client) SendMessage(ctx context.Context, to, body string) error {
	return c.Post(ctx, PathWhatsAppSend, map[string]string{
		"to":      to,
		"message": body,
	}, nil)
}

// SendConfirmation asks the backend to send the "confirmation" email
// template filled with the contact data.
func (c *Client) SendConfirmation(ctx context.Context, toEmail, subject string, data email.ConfirmationData) error {
	return c.Post(ctx, PathEmailSend, map[string]any{
		"to":       toEmail,
		"subject":  subject,
		"template": "confirmation",
		"data": map[string]string{
			"nombre":   data.Name,
			"telefono": data.Phone,
			"email":    toEmail,
			"servicio": data.Service,
			"mensaje":  data.Message,
			"lead_id":  data.LeadID,
		},
	}, nil)
}

// Breaker exposes the submission circuit breaker for health reporting.
func (c *Client) Breaker() *circuitbreaker.CircuitBreaker {
	return c.circuitBreaker
}

// Post sends body as JSON to path once and decodes the response into result
// when it is non-nil. Failures are returned, never retried.
func (c *Client) Post(ctx context.Context, path string, body, result any) error {
	return c.post(ctx, path, body, result)
}

func (c *Client) withRetry(ctx context.Context, op func(context.Context) error) error {
	if c.backoff == nil {
		return op(ctx)
	}
	return c.backoff.Execute(ctx, op)
}

// RetryStats reports retry statistics; ok is false without a retry policy.
func (c *Client) RetryStats() (stats retry.Stats, ok bool) {
	if c.backoff == nil {
		return retry.Stats{}, false
	}
	return c.backoff.Stats(), true
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	url := c.baseURL + path

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to marshal request body: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	c.logger.Debug("backend response",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Int("body_length", len(respBody)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(respBody, apiErr)
		return &retry.StatusError{
			Err:        apiErr,
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}

	var envelope struct {
		Success *bool  `json:"success"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(respBody, &envelope); err == nil && envelope.Success != nil && !*envelope.Success {
		return retry.Permanent(&APIError{StatusCode: resp.StatusCode, Message: envelope.Message})
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return retry.Permanent(fmt.Errorf("failed to parse response: %w", err))
		}
	}
	return nil
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
