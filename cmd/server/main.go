// Package main is the entry point for the Tesla Electricidad contact server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/teslaelectricidad/teslabot/internal/audit"
	"github.com/teslaelectricidad/teslabot/internal/automation"
	"github.com/teslaelectricidad/teslabot/internal/backend"
	"github.com/teslaelectricidad/teslabot/internal/catalog"
	"github.com/teslaelectricidad/teslabot/internal/circuitbreaker"
	"github.com/teslaelectricidad/teslabot/internal/clock"
	"github.com/teslaelectricidad/teslabot/internal/config"
	"github.com/teslaelectricidad/teslabot/internal/database"
	"github.com/teslaelectricidad/teslabot/internal/dialogue"
	"github.com/teslaelectricidad/teslabot/internal/domain"
	"github.com/teslaelectricidad/teslabot/internal/email"
	"github.com/teslaelectricidad/teslabot/internal/handler"
	"github.com/teslaelectricidad/teslabot/internal/logging"
	"github.com/teslaelectricidad/teslabot/internal/messaging"
	"github.com/teslaelectricidad/teslabot/internal/metrics"
	"github.com/teslaelectricidad/teslabot/internal/middleware"
	"github.com/teslaelectricidad/teslabot/internal/repository"
	"github.com/teslaelectricidad/teslabot/internal/retry"
	"github.com/teslaelectricidad/teslabot/internal/service"
	"github.com/teslaelectricidad/teslabot/internal/shutdown"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const sessionSweepInterval = time.Minute

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	appLogger, err := initLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger := appLogger.Zap()

	logger.Info("starting teslabot server",
		zap.String("version", version),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("env", cfg.Server.Environment),
		zap.String("submission_mode", cfg.Submission.Mode),
	)

	ctx := context.Background()
	workersCtx, stopWorkers := context.WithCancel(ctx)
	clk := clock.New()
	m := metrics.NewMetrics()

	// Catalog and conversation graph
	cat, err := catalog.Load()
	if err != nil {
		logger.Fatal("failed to load service catalog", zap.Error(err))
	}
	flow, err := dialogue.LoadFlow()
	if err != nil {
		logger.Fatal("failed to load conversation flow", zap.Error(err))
	}
	engine, err := dialogue.NewEngine(flow, cat, dialogueOptions(cfg), clk, logger.Named("dialogue"))
	if err != nil {
		logger.Fatal("failed to initialize dialogue engine", zap.Error(err))
	}
	store := dialogue.NewStore(cfg.Dialogue.SessionTTL, cfg.Dialogue.MaxSessions, clk, logger.Named("sessions"))

	// Initialize database
	var (
		db       *database.DB
		leads    domain.LeadRepository
		outcomes *repository.OutcomeRepository
	)
	if cfg.Database.Enabled {
		db, err = database.New(ctx, &cfg.Database, m, logger.Named("database"))
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		if err := db.Migrate(ctx); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
		leads = repository.NewLeadRepository(db.Pool)
		outcomes = repository.NewOutcomeRepository(db.Pool, db.TxManager)
	}

	// Backend client and automation channels
	client := backend.New(&backend.Config{
		BaseURL: cfg.Backend.BaseURL,
		APIKey:  cfg.Backend.APIKey,
		Timeout: cfg.Backend.Timeout,
		Breaker: breakerConfig(cfg, m, clk),
		Retry:   retry.DefaultConfig(),
	}, logger.Named("backend"))

	channels, err := buildChannels(cfg, client, clk, logger)
	if err != nil {
		logger.Fatal("failed to initialize automation channels", zap.Error(err))
	}

	var recorder automation.OutcomeRecorder
	if outcomes != nil {
		recorder = outcomes
	}
	dispatcher, err := automation.NewDispatcher(channels, recorder, m, logger.Named("automation"), &automation.DispatcherConfig{
		ChannelTimeout: cfg.Automation.ChannelTimeout,
		Breaker:        breakerConfig(cfg, m, clk),
		Clock:          clk,
	})
	if err != nil {
		logger.Fatal("failed to initialize dispatcher", zap.Error(err))
	}

	// Initialize services
	var submitter service.LeadSubmitter
	if cfg.Submission.Mode == config.SubmissionBackend {
		submitter = client
	}
	contacts, err := service.NewContactService(cat, submitter, leads, dispatcher, m, logger.Named("contact"), &service.ContactConfig{
		BusinessNumber: cfg.WhatsApp.BusinessNumber,
		MaxLinkText:    cfg.WhatsApp.MaxLinkText,
		DrainTimeout:   cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		logger.Fatal("failed to initialize contact service", zap.Error(err))
	}
	chat := service.NewChatService(engine, store, contacts, m, logger.Named("chat"))

	// Initialize shutdown coordinator
	shutdownCoord := shutdown.NewCoordinator(&shutdown.Config{
		Timeout: cfg.Server.ShutdownTimeout,
	}, logger)

	// Initialize rate limiter and admin auth
	rateLimiter := middleware.NewRateLimiter("api", cfg.RateLimit.Requests, cfg.RateLimit.Window, clk, m, logger)
	var adminAuth *middleware.AdminAuth
	if cfg.AdminEnabled() {
		adminAuth = middleware.NewAdminAuth(cfg.Admin.TokenHash, logger)
	}

	// Initialize handlers
	health := handler.HealthHandlerConfig{
		Breakers: []handler.BreakerReporter{
			dispatcher.Breakers(),
			singleBreaker{client.Breaker()},
		},
		Readiness: shutdown.NewReadinessProbe(shutdownCoord),
		Version:   version,
		Logger:    logger,
	}
	var leadsHandler *handler.LeadsHandler
	if db != nil {
		health.HealthChecker = db
		leadsHandler = handler.NewLeadsHandler(leads, outcomes, cat.Keys(), logger)
	}

	router := handler.NewRouter(handler.RouterConfig{
		Contact:      handler.NewContactHandler(contacts, logger),
		Chat:         handler.NewChatHandler(chat, logger),
		Catalog:      handler.NewCatalogHandler(cat, logger),
		Health:       handler.NewHealthHandler(health),
		Leads:        leadsHandler,
		LogLevel:     appLogger,
		AdminAuth:    adminAuth,
		RateLimiter:  rateLimiter,
		Metrics:      m,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Logger:       logger,
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start background workers
	go store.Run(workersCtx, sessionSweepInterval)
	go rateLimiter.Run(workersCtx)

	auditLog := audit.NewLogger(logger)
	auditLog.ServiceStarted(ctx, version, cfg.Server.Environment)

	// Start server in goroutine
	go func() {
		logger.Info("server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Phase 1: stop accepting requests and let in-flight ones finish
	shutdownCoord.RegisterFunc(shutdown.PhaseStopIntake, "http-server", func(ctx context.Context) error {
		return server.Shutdown(ctx)
	})
	// Phase 2: let detached automation dispatches finish
	shutdownCoord.RegisterFunc(shutdown.PhaseDrain, "automation", func(ctx context.Context) error {
		return contacts.Wait(ctx)
	})
	// Phase 3: stop background workers
	shutdownCoord.RegisterFunc(shutdown.PhaseWorkers, "background-workers", func(ctx context.Context) error {
		stopWorkers()
		return nil
	})
	// Phase 4: close connections and flush buffers
	if db != nil {
		shutdownCoord.RegisterFunc(shutdown.PhaseCleanup, "database", func(ctx context.Context) error {
			db.Close()
			return nil
		})
	}
	shutdownCoord.RegisterFunc(shutdown.PhaseCleanup, "logger", func(ctx context.Context) error {
		_ = logger.Sync()
		return nil
	})

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	auditLog.ServiceStopping(ctx, sig.String())

	if err := shutdownCoord.Shutdown(ctx); err != nil {
		logger.Error("shutdown completed with errors", zap.Error(err))
		os.Exit(1)
	}
}

// initLogger builds the application logger from the log settings.
func initLogger(cfg *config.Config) (*logging.Logger, error) {
	return logging.New(&logging.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Environment: cfg.Server.Environment,
		Service:     "teslabot",
	})
}

func dialogueOptions(cfg *config.Config) dialogue.Options {
	opts := dialogue.DefaultOptions()
	opts.Selection = dialogue.Selection(cfg.Dialogue.Selection)
	opts.Seed = cfg.Dialogue.Seed
	opts.MaxRetries = cfg.Dialogue.MaxRetries
	opts.EmptyMarker = cfg.Dialogue.EmptyMarker
	if loc, err := time.LoadLocation(cfg.Dialogue.Timezone); err == nil {
		opts.Location = loc
	}
	opts.Extras = map[string]string{
		"whatsapp_link": messaging.DeepLink(cfg.WhatsApp.BusinessNumber, "", 0),
	}
	return opts
}

// breakerConfig returns the circuit breaker settings shared by the backend
// client and the automation channels.
func breakerConfig(cfg *config.Config, m *metrics.Metrics, clk clock.Clock) *circuitbreaker.Config {
	bc := circuitbreaker.DefaultConfig()
	if cfg.Automation.BreakerFailures > 0 {
		bc.FailureThreshold = cfg.Automation.BreakerFailures
	}
	if cfg.Automation.BreakerCooldown > 0 {
		bc.OpenTimeout = cfg.Automation.BreakerCooldown
	}
	bc.Clock = clk
	if m != nil {
		bc.OnStateChange = func(name string, s circuitbreaker.State) {
			m.SetCircuitBreakerState(name, int(s))
		}
	}
	return bc
}

// buildChannels assembles the five automation channels. Messaging and email
// go through the backend unless a direct provider is configured.
func buildChannels(cfg *config.Config, client *backend.Client, clk clock.Clock, logger *zap.Logger) ([]automation.Channel, error) {
	var sender messaging.Sender = client
	if cfg.Automation.MessagingProvider == config.ProviderTwilio {
		twilio, err := messaging.NewTwilioClient(logger.Named("twilio"),
			messaging.WithAccountSID(cfg.Twilio.AccountSID),
			messaging.WithAuthToken(cfg.Twilio.AuthToken),
			messaging.WithFrom(cfg.Twilio.From),
			messaging.WithTimeout(cfg.Automation.ChannelTimeout),
		)
		if err != nil {
			return nil, err
		}
		sender = twilio
	}

	var mailer automation.ConfirmationSender = client
	if cfg.Automation.EmailProvider == config.ProviderSMTP {
		mailer = email.NewSMTPSender(email.SMTPConfig{
			Host:      cfg.SMTP.Host,
			Port:      cfg.SMTP.Port,
			Username:  cfg.SMTP.Username,
			Password:  cfg.SMTP.Password,
			FromEmail: cfg.SMTP.FromEmail,
			FromName:  cfg.SMTP.FromName,
			Timeout:   cfg.Automation.ChannelTimeout,
		})
	}

	logger.Info("automation channels configured",
		zap.String("messaging_provider", cfg.Automation.MessagingProvider),
		zap.String("email_provider", cfg.Automation.EmailProvider),
	)

	return []automation.Channel{
		automation.NewMessagingChannel(sender, cfg.WhatsApp.DefaultRegion),
		automation.NewEmailChannel(mailer, cfg.Automation.EmailSubject, cfg.WhatsApp.BusinessNumber),
		automation.NewSpecialistChannel(client, cfg.Automation.SpecialistPriority),
		automation.NewFollowUpChannel(client, cfg.Automation.FollowUpMethod, cfg.Automation.FollowUpDelayHours),
		automation.NewAnalyticsChannel(client, clk),
	}, nil
}

// singleBreaker reports one circuit breaker to the health handler.
type singleBreaker struct {
	cb *circuitbreaker.CircuitBreaker
}

func (s singleBreaker) Stats() []circuitbreaker.Stats {
	return []circuitbreaker.Stats{s.cb.Stats()}
}
