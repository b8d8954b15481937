// Package automation fans an accepted lead out to the best-effort
// automation channels: WhatsApp confirmation, confirmation email, specialist
// notification, follow-up scheduling and analytics.
package automation

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teslaelectricidad/teslabot/internal/circuitbreaker"
	"github.com/teslaelectricidad/teslabot/internal/clock"
	"github.com/teslaelectricidad/teslabot/internal/domain"
	apperrors "github.com/teslaelectricidad/teslabot/internal/errors"
	"github.com/teslaelectricidad/teslabot/internal/metrics"
	"github.com/teslaelectricidad/teslabot/internal/sanitize"
)

// DefaultChannelTimeout bounds one channel call.
const DefaultChannelTimeout = 10 * time.Second

// Job is the input of one dispatch.
type Job struct {
	LeadID     string
	Submission domain.ContactSubmission
	// ServiceName is the display name of the requested service. Empty means
	// the submission's service key is shown as is.
	ServiceName string
	Source      domain.LeadSource
}

// Service returns the name shown to people for the requested service.
func (j Job) Service() string {
	if j.ServiceName != "" {
		return j.ServiceName
	}
	return j.Submission.Service
}

// Channel delivers one automation side effect.
type Channel interface {
	Name() domain.Channel
	Deliver(ctx context.Context, job Job) error
}

// Skipper is implemented by channels that do not apply to every job.
type Skipper interface {
	Skip(job Job) bool
}

// OutcomeRecorder stores the outcomes of a dispatch.
type OutcomeRecorder interface {
	RecordOutcomes(ctx context.Context, outcomes []domain.Outcome) error
}

// DispatcherConfig holds dispatcher settings.
type DispatcherConfig struct {
	ChannelTimeout time.Duration
	// Breaker configures the per-channel circuit breakers.
	Breaker *circuitbreaker.Config
	Clock   clock.Clock
}

// DefaultDispatcherConfig returns the defaults.
func DefaultDispatcherConfig() *DispatcherConfig {
	return &DispatcherConfig{
		ChannelTimeout: DefaultChannelTimeout,
		Breaker:        circuitbreaker.DefaultConfig(),
	}
}

// Dispatcher runs every channel for a lead concurrently and reports one
// outcome per channel. A failing channel never affects the others.
type Dispatcher struct {
	channels []Channel
	timeout  time.Duration
	breakers *circuitbreaker.Group
	recorder OutcomeRecorder
	metrics  *metrics.Metrics
	events   *metrics.BusinessEventLogger
	clock    clock.Clock
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher. channels must hold exactly one
// channel for each of domain.Channels; they are run and reported in that
// order. recorder and m may be nil.
func NewDispatcher(
	channels []Channel,
	recorder OutcomeRecorder,
	m *metrics.Metrics,
	logger *zap.Logger,
	config *DispatcherConfig,
) (*Dispatcher, error) {
	if config == nil {
		config = DefaultDispatcherConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ordered, err := orderChannels(channels)
	if err != nil {
		return nil, err
	}

	timeout := config.ChannelTimeout
	if timeout <= 0 {
		timeout = DefaultChannelTimeout
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.New()
	}

	breakerCfg := circuitbreaker.DefaultConfig()
	if config.Breaker != nil {
		copied := *config.Breaker
		breakerCfg = &copied
	}
	breakerCfg.Clock = clk
	if m != nil {
		breakerCfg.OnStateChange = func(name string, s circuitbreaker.State) {
			m.SetCircuitBreakerState(name, int(s))
		}
	}

	return &Dispatcher{
		channels: ordered,
		timeout:  timeout,
		breakers: circuitbreaker.NewGroup(breakerCfg, logger.Named("breaker")),
		recorder: recorder,
		metrics:  m,
		events:   metrics.NewBusinessEventLogger(logger),
		clock:    clk,
		logger:   logger,
	}, nil
}

func orderChannels(channels []Channel) ([]Channel, error) {
	byName := make(map[domain.Channel]Channel, len(channels))
	for _, ch := range channels {
		if ch == nil {
			return nil, fmt.Errorf("automation: nil channel")
		}
		if !slices.Contains(domain.Channels, ch.Name()) {
			return nil, fmt.Errorf("automation: unknown channel %q", ch.Name())
		}
		if _, dup := byName[ch.Name()]; dup {
			return nil, fmt.Errorf("automation: duplicate channel %q", ch.Name())
		}
		byName[ch.Name()] = ch
	}

	ordered := make([]Channel, 0, len(domain.Channels))
	for _, name := range domain.Channels {
		ch, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("automation: missing channel %q", name)
		}
		ordered = append(ordered, ch)
	}
	return ordered, nil
}

// Breakers returns the per-channel circuit breakers for health reporting.
func (d *Dispatcher) Breakers() *circuitbreaker.Group {
	return d.breakers
}

// Dispatch runs every channel for job and waits for all of them. It always
// returns one outcome per channel in domain.Channels order; channel errors
// are logged and recorded, never returned. Dispatch is not idempotent.
func (d *Dispatcher) Dispatch(ctx context.Context, job Job) []domain.Outcome {
	start := d.clock.Now()
	if d.metrics != nil {
		d.metrics.DispatchStarted()
		defer d.metrics.DispatchFinished()
	}

	outcomes := make([]domain.Outcome, len(d.channels))

	// No derived context: a failed channel must not cancel its siblings.
	var g errgroup.Group
	for i, ch := range d.channels {
		g.Go(func() error {
			outcomes[i] = d.deliver(ctx, ch, job)
			return nil
		})
	}
	_ = g.Wait()

	var delivered, failed, skipped int
	for _, o := range outcomes {
		switch {
		case o.Skipped:
			skipped++
		case o.Delivered:
			delivered++
		default:
			failed++
		}
	}
	d.events.DispatchCompleted(ctx, job.LeadID, delivered, failed, skipped, d.clock.Since(start))

	if d.recorder != nil {
		if err := d.recorder.RecordOutcomes(ctx, outcomes); err != nil {
			d.logger.Error("failed to record automation outcomes",
				zap.String("lead_id", job.LeadID),
				zap.Error(err),
			)
		}
	}

	return outcomes
}

func (d *Dispatcher) deliver(ctx context.Context, ch Channel, job Job) (out domain.Outcome) {
	name := ch.Name()
	out = domain.Outcome{
		LeadID:    job.LeadID,
		Channel:   name,
		CreatedAt: d.clock.Now().UTC(),
	}

	if s, ok := ch.(Skipper); ok && s.Skip(job) {
		out.Skipped = true
		d.record(out)
		return out
	}

	start := d.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			out.Delivered = false
			out.Error = sanitize.String(fmt.Sprintf("panic: %v", r))
			d.logger.Error("automation channel panicked",
				zap.String("channel", string(name)),
				zap.String("lead_id", job.LeadID),
				zap.Any("panic", r),
			)
		}
		out.Duration = d.clock.Since(start)
		d.record(out)
	}()

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err := d.breakers.Get(string(name)).Execute(callCtx, func(ctx context.Context) error {
		return ch.Deliver(ctx, job)
	})
	if err != nil {
		err = apperrors.ChannelFailed(string(name), err)
		out.Error = sanitize.Error(err)
		d.logger.Warn("automation channel failed",
			zap.String("channel", string(name)),
			zap.String("lead_id", job.LeadID),
			zap.Error(err),
		)
		return out
	}

	out.Delivered = true
	d.logger.Debug("automation channel delivered",
		zap.String("channel", string(name)),
		zap.String("lead_id", job.LeadID),
	)
	return out
}

func (d *Dispatcher) record(out domain.Outcome) {
	if d.metrics != nil {
		d.metrics.RecordAutomationOutcome(string(out.Channel), out.Delivered, out.Skipped, out.Duration)
	}
}
