// Package shutdown runs graceful shutdown in ordered phases: stop intake,
// drain in-flight work such as automation dispatches, stop background
// workers and finally close connections.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Service is a component stopped during shutdown.
type Service interface {
	Name() string
	// Shutdown returns once the component stopped or ctx is done.
	Shutdown(ctx context.Context) error
}

// ServiceFunc adapts a function to Service.
type ServiceFunc struct {
	ServiceName string
	ShutdownFn  func(ctx context.Context) error
}

func (s ServiceFunc) Name() string                       { return s.ServiceName }
func (s ServiceFunc) Shutdown(ctx context.Context) error { return s.ShutdownFn(ctx) }

// Phase orders shutdown. Services in the same phase stop concurrently.
type Phase int

const (
	// PhaseStopIntake stops accepting requests.
	PhaseStopIntake Phase = iota
	// PhaseDrain waits for accepted work to finish.
	PhaseDrain
	// PhaseWorkers stops background loops.
	PhaseWorkers
	// PhaseCleanup closes connections and flushes buffers.
	PhaseCleanup
)

var phaseOrder = []Phase{PhaseStopIntake, PhaseDrain, PhaseWorkers, PhaseCleanup}

func (p Phase) String() string {
	switch p {
	case PhaseStopIntake:
		return "stop-intake"
	case PhaseDrain:
		return "drain"
	case PhaseWorkers:
		return "workers"
	case PhaseCleanup:
		return "cleanup"
	default:
		return "unknown"
	}
}

// Config holds configuration for the shutdown coordinator.
type Config struct {
	// Timeout bounds the whole shutdown sequence.
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Timeout: 30 * time.Second,
	}
}

// Coordinator runs registered services through the shutdown phases.
type Coordinator struct {
	mu       sync.Mutex
	services map[Phase][]Service
	timeout  time.Duration
	logger   *zap.Logger

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}
	err          error
}

// NewCoordinator creates a new shutdown coordinator.
func NewCoordinator(cfg *Config, logger *zap.Logger) *Coordinator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Coordinator{
		services:   make(map[Phase][]Service),
		timeout:    cfg.Timeout,
		logger:     logger.Named("shutdown"),
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Register adds a service to be shutdown in the specified phase.
func (c *Coordinator) Register(phase Phase, svc Service) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.services[phase] = append(c.services[phase], svc)
	c.logger.Debug("registered service for shutdown",
		zap.String("service", svc.Name()),
		zap.String("phase", phase.String()),
	)
}

// RegisterFunc registers fn as a named service.
func (c *Coordinator) RegisterFunc(phase Phase, name string, fn func(ctx context.Context) error) {
	c.Register(phase, ServiceFunc{ServiceName: name, ShutdownFn: fn})
}

// Shutdown starts the shutdown sequence once and waits for it. The sequence
// runs on its own timeout; ctx only bounds how long the caller waits. The
// returned error joins every service failure.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		close(c.shutdownCh)
		go c.run()
	})

	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ShutdownCh returns a channel that's closed when shutdown is initiated.
func (c *Coordinator) ShutdownCh() <-chan struct{} {
	return c.shutdownCh
}

// ShuttingDown reports whether shutdown has started.
func (c *Coordinator) ShuttingDown() bool {
	select {
	case <-c.shutdownCh:
		return true
	default:
		return false
	}
}

func (c *Coordinator) run() {
	defer close(c.done)

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	c.logger.Info("starting graceful shutdown", zap.Duration("timeout", c.timeout))

	var errs []error
	for _, phase := range phaseOrder {
		c.mu.Lock()
		services := c.services[phase]
		c.mu.Unlock()
		if len(services) == 0 {
			continue
		}

		c.logger.Info("executing shutdown phase",
			zap.String("phase", phase.String()),
			zap.Int("services", len(services)),
		)
		if err := c.runPhase(ctx, phase, services); err != nil {
			errs = append(errs, err)
		}

		if ctx.Err() != nil {
			c.logger.Error("shutdown timeout exceeded",
				zap.String("phase", phase.String()),
				zap.Error(ctx.Err()),
			)
			errs = append(errs, ctx.Err())
			break
		}
	}

	c.err = errors.Join(errs...)
	if c.err != nil {
		c.logger.Error("shutdown completed with errors", zap.Error(c.err))
		return
	}
	c.logger.Info("graceful shutdown complete")
}

// runPhase stops every service of a phase concurrently. A failing service
// does not cancel its siblings.
func (c *Coordinator) runPhase(ctx context.Context, phase Phase, services []Service) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)

	for _, svc := range services {
		g.Go(func() error {
			start := time.Now()
			err := svc.Shutdown(ctx)
			fields := []zap.Field{
				zap.String("service", svc.Name()),
				zap.String("phase", phase.String()),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				c.logger.Error("service shutdown failed", append(fields, zap.Error(err))...)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", svc.Name(), err))
				mu.Unlock()
				return nil
			}
			c.logger.Debug("service shutdown complete", fields...)
			return nil
		})
	}

	_ = g.Wait()
	return errors.Join(errs...)
}

// ReadinessProbe reports not-ready once shutdown has started or the state
// was set away from healthy.
type ReadinessProbe struct {
	coordinator *Coordinator

	mu    sync.RWMutex
	state HealthState
}

// HealthState is the lifecycle state reported by ReadinessProbe.
type HealthState int

const (
	HealthStateHealthy HealthState = iota
	HealthStateDraining
	HealthStateShuttingDown
)

func (h HealthState) String() string {
	switch h {
	case HealthStateHealthy:
		return "healthy"
	case HealthStateDraining:
		return "draining"
	case HealthStateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// NewReadinessProbe creates a probe bound to coordinator.
func NewReadinessProbe(coordinator *Coordinator) *ReadinessProbe {
	return &ReadinessProbe{coordinator: coordinator}
}

// SetState sets the health state.
func (rp *ReadinessProbe) SetState(state HealthState) {
	rp.mu.Lock()
	rp.state = state
	rp.mu.Unlock()
}

// State returns the current health state.
func (rp *ReadinessProbe) State() HealthState {
	rp.mu.RLock()
	state := rp.state
	rp.mu.RUnlock()

	if state == HealthStateHealthy && rp.coordinator != nil && rp.coordinator.ShuttingDown() {
		return HealthStateDraining
	}
	return state
}

// IsReady returns true if the service is ready to accept traffic.
func (rp *ReadinessProbe) IsReady() bool {
	return rp.State() == HealthStateHealthy
}
