// Package service contains business logic implementations.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teslaelectricidad/teslabot/internal/automation"
	"github.com/teslaelectricidad/teslabot/internal/catalog"
	"github.com/teslaelectricidad/teslabot/internal/domain"
	apperrors "github.com/teslaelectricidad/teslabot/internal/errors"
	"github.com/teslaelectricidad/teslabot/internal/messaging"
	"github.com/teslaelectricidad/teslabot/internal/metrics"
	"github.com/teslaelectricidad/teslabot/internal/validation"
)

// Messages returned to the visitor.
const (
	SubmitFailedMessage = "Error enviando solicitud. Intenta por WhatsApp directo."
)

// LeadSubmitter registers a contact with the remote backend and returns the
// lead id it assigned.
type LeadSubmitter interface {
	SubmitContact(ctx context.Context, sub domain.ContactSubmission) (string, error)
}

// Dispatcher runs the automation channels for an accepted lead.
type Dispatcher interface {
	Dispatch(ctx context.Context, job automation.Job) []domain.Outcome
}

// ContactConfig holds ContactService settings.
type ContactConfig struct {
	// BusinessNumber is the WhatsApp number used for fallback links.
	BusinessNumber string
	MaxLinkText    int
	// DrainTimeout bounds how long Close waits for running dispatches.
	DrainTimeout time.Duration
}

// DefaultContactConfig returns default settings.
func DefaultContactConfig() *ContactConfig {
	return &ContactConfig{
		MaxLinkText:  messaging.DefaultMaxLinkText,
		DrainTimeout: 30 * time.Second,
	}
}

// SubmitResult is the outcome of an accepted or failed submission.
type SubmitResult struct {
	LeadID  string `json:"lead_id,omitempty"`
	Message string `json:"message"`
	// FallbackURL is set when the submission failed and the visitor should
	// continue on WhatsApp.
	FallbackURL string `json:"fallback_url,omitempty"`
}

// ContactService validates and registers contact submissions, then starts
// the automation fan-out without waiting for it.
type ContactService struct {
	catalog    *catalog.Catalog
	submitter  LeadSubmitter
	leads      domain.LeadRepository
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	events     *metrics.BusinessEventLogger
	logger     *zap.Logger
	config     *ContactConfig

	wg sync.WaitGroup
}

// NewContactService creates a ContactService. With a nil submitter leads
// are stored only in leads; with both set the backend owns the lead id and
// a local copy is kept. At least one of them is required.
func NewContactService(
	cat *catalog.Catalog,
	submitter LeadSubmitter,
	leads domain.LeadRepository,
	dispatcher Dispatcher,
	m *metrics.Metrics,
	logger *zap.Logger,
	config *ContactConfig,
) (*ContactService, error) {
	if cat == nil || dispatcher == nil {
		return nil, fmt.Errorf("contact service: catalog and dispatcher are required")
	}
	if submitter == nil && leads == nil {
		return nil, fmt.Errorf("contact service: a lead submitter or repository is required")
	}
	if config == nil {
		config = DefaultContactConfig()
	}
	return &ContactService{
		catalog:    cat,
		submitter:  submitter,
		leads:      leads,
		dispatcher: dispatcher,
		metrics:    m,
		events:     metrics.NewBusinessEventLogger(logger),
		logger:     logger,
		config:     config,
	}, nil
}

// Validate checks a submission without registering it.
func (s *ContactService) Validate(sub domain.ContactSubmission) validation.ValidationErrors {
	errs := validation.NewContactValidator(s.catalog).
		ValidateAll(sub.Name, sub.Phone, sub.Email, sub.Service, sub.Message)
	if s.metrics != nil {
		for _, e := range errs {
			s.metrics.RecordValidationFailure(e.Field)
		}
	}
	return errs
}

// Submit validates sub, registers the lead and starts the automation
// fan-out. Validation failures return validation.ValidationErrors. A failed
// registration returns a SUBMISSION_FAILED error together with a result
// carrying the WhatsApp fallback link.
func (s *ContactService) Submit(ctx context.Context, sub domain.ContactSubmission, source domain.LeadSource) (*SubmitResult, error) {
	sub = sub.Trimmed()
	if errs := s.Validate(sub); errs.HasErrors() {
		return nil, errs
	}

	lead := domain.NewLead(sub, source)
	if err := s.register(ctx, lead); err != nil {
		s.recordSubmission(source, false)
		s.events.SubmissionFailed(ctx, string(source), sub.Service, err)
		return &SubmitResult{
			Message:     SubmitFailedMessage,
			FallbackURL: s.FallbackURL(sub),
		}, apperrors.SubmissionFailed(err)
	}

	s.recordSubmission(source, true)
	s.events.LeadSubmitted(ctx, lead.ID, string(source), sub.Service, sub.Phone, sub.Email)

	s.dispatchAsync(ctx, automation.Job{
		LeadID:      lead.ID,
		Submission:  sub,
		ServiceName: s.serviceName(sub.Service),
		Source:      source,
	})

	return &SubmitResult{
		LeadID:  lead.ID,
		Message: fmt.Sprintf("Gracias %s, hemos recibido tu solicitud de %s.", sub.Name, s.serviceName(sub.Service)),
	}, nil
}

func (s *ContactService) register(ctx context.Context, lead *domain.Lead) error {
	if s.submitter == nil {
		return s.leads.Create(ctx, lead)
	}

	id, err := s.submitter.SubmitContact(ctx, lead.ContactSubmission)
	if err != nil {
		return err
	}
	lead.ID = id

	if s.leads != nil {
		if err := s.leads.Create(ctx, lead); err != nil {
			s.logger.Warn("failed to store local lead copy",
				zap.String("lead_id", lead.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// dispatchAsync runs the fan-out on a context detached from the request.
func (s *ContactService) dispatchAsync(ctx context.Context, job automation.Job) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.dispatcher.Dispatch(context.WithoutCancel(ctx), job)
	}()
}

// FallbackURL returns the WhatsApp link offered when a submission fails.
func (s *ContactService) FallbackURL(sub domain.ContactSubmission) string {
	text := messaging.FallbackText(sub.Name, s.serviceName(sub.Service), sub.Message)
	return messaging.DeepLink(s.config.BusinessNumber, text, s.config.MaxLinkText)
}

func (s *ContactService) serviceName(key string) string {
	if svc, ok := s.catalog.Service(key); ok {
		return svc.Name
	}
	return key
}

func (s *ContactService) recordSubmission(source domain.LeadSource, success bool) {
	if s.metrics != nil {
		s.metrics.RecordSubmission(string(source), success)
	}
}

// Wait blocks until running dispatches finish or ctx is done.
func (s *ContactService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close waits up to the configured drain timeout for running dispatches.
func (s *ContactService) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.DrainTimeout)
	defer cancel()

	if err := s.Wait(ctx); err != nil {
		s.logger.Warn("automation dispatches still running at shutdown", zap.Error(err))
		return err
	}
	s.logger.Info("automation dispatches drained")
	return nil
}
