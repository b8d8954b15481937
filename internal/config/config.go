// Package config provides application configuration management using Viper.
// It supports loading from environment variables, a .env file, config files, and defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Submission modes.
const (
	SubmissionBackend  = "backend"
	SubmissionDatabase = "database"
)

// Channel providers.
const (
	ProviderBackend = "backend"
	ProviderTwilio  = "twilio"
	ProviderSMTP    = "smtp"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Backend    BackendConfig
	Submission SubmissionConfig
	Automation AutomationConfig
	Twilio     TwilioConfig
	SMTP       SMTPConfig
	WhatsApp   WhatsAppConfig
	Dialogue   DialogueConfig
	Admin      AdminConfig
	Log        LogConfig
	RateLimit  RateLimitConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string
	Port            int
	Environment     string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Enabled               bool
	Host                  string
	Port                  int
	User                  string
	Password              string
	Name                  string
	SSLMode               string
	MaxConnections        int
	MaxIdleConnections    int
	ConnectionMaxLifetime time.Duration
}

// ConnectionString returns a PostgreSQL connection string.
func (d *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// BackendConfig holds the website backend API settings. The backend owns
// the submission endpoint and the automation channel routes.
type BackendConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// SubmissionConfig selects where accepted contact submissions are stored.
type SubmissionConfig struct {
	// Mode is "backend" (POST /contact) or "database" (local PostgreSQL).
	Mode string
}

// AutomationConfig holds the fan-out settings.
type AutomationConfig struct {
	ChannelTimeout     time.Duration
	MessagingProvider  string
	EmailProvider      string
	EmailSubject       string
	SpecialistPriority string
	FollowUpMethod     string
	FollowUpDelayHours int
	BreakerFailures    int
	BreakerCooldown    time.Duration
}

// TwilioConfig holds Twilio WhatsApp credentials.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
}

// SMTPConfig holds SMTP settings for confirmation emails.
type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
}

// WhatsAppConfig holds the business WhatsApp contact used for deep links.
type WhatsAppConfig struct {
	BusinessNumber string
	DefaultRegion  string
	MaxLinkText    int
}

// DialogueConfig holds assistant settings.
type DialogueConfig struct {
	// Selection is "first" or "random".
	Selection   string
	Seed        uint64
	MaxRetries  int
	EmptyMarker string
	Timezone    string
	SessionTTL  time.Duration
	MaxSessions int
}

// AdminConfig holds admin API settings.
type AdminConfig struct {
	// TokenHash is a bcrypt hash of the admin bearer token.
	TokenHash string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string
	Format string
}

// RateLimitConfig holds rate limiting settings.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// Load reads configuration from environment variables and config files.
// Environment variables take precedence over config file values; a .env file
// in the working directory is loaded into the environment first.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/teslabot")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configNotFoundErr viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFoundErr) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := fromViper(v)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			Port:            v.GetInt("server.port"),
			Environment:     v.GetString("server.env"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			IdleTimeout:     v.GetDuration("server.idle_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			MaxBodyBytes:    v.GetInt64("server.max_body_bytes"),
		},
		Database: DatabaseConfig{
			Enabled:               v.GetBool("database.enabled"),
			Host:                  v.GetString("database.host"),
			Port:                  v.GetInt("database.port"),
			User:                  v.GetString("database.user"),
			Password:              v.GetString("database.password"),
			Name:                  v.GetString("database.name"),
			SSLMode:               v.GetString("database.sslmode"),
			MaxConnections:        v.GetInt("database.max_connections"),
			MaxIdleConnections:    v.GetInt("database.max_idle_connections"),
			ConnectionMaxLifetime: v.GetDuration("database.connection_max_lifetime"),
		},
		Backend: BackendConfig{
			BaseURL: strings.TrimRight(v.GetString("backend.base_url"), "/"),
			APIKey:  v.GetString("backend.api_key"),
			Timeout: v.GetDuration("backend.timeout"),
		},
		Submission: SubmissionConfig{
			Mode: v.GetString("submission.mode"),
		},
		Automation: AutomationConfig{
			ChannelTimeout:     v.GetDuration("automation.channel_timeout"),
			MessagingProvider:  v.GetString("automation.messaging_provider"),
			EmailProvider:      v.GetString("automation.email_provider"),
			EmailSubject:       v.GetString("automation.email_subject"),
			SpecialistPriority: v.GetString("automation.specialist_priority"),
			FollowUpMethod:     v.GetString("automation.followup_method"),
			FollowUpDelayHours: v.GetInt("automation.followup_delay_hours"),
			BreakerFailures:    v.GetInt("automation.breaker_failures"),
			BreakerCooldown:    v.GetDuration("automation.breaker_cooldown"),
		},
		Twilio: TwilioConfig{
			AccountSID: v.GetString("twilio.account_sid"),
			AuthToken:  v.GetString("twilio.auth_token"),
			From:       v.GetString("twilio.from"),
		},
		SMTP: SMTPConfig{
			Host:      v.GetString("smtp.host"),
			Port:      v.GetInt("smtp.port"),
			Username:  v.GetString("smtp.username"),
			Password:  v.GetString("smtp.password"),
			FromEmail: v.GetString("smtp.from_email"),
			FromName:  v.GetString("smtp.from_name"),
		},
		WhatsApp: WhatsAppConfig{
			BusinessNumber: v.GetString("whatsapp.business_number"),
			DefaultRegion:  v.GetString("whatsapp.default_region"),
			MaxLinkText:    v.GetInt("whatsapp.max_link_text"),
		},
		Dialogue: DialogueConfig{
			Selection:   v.GetString("dialogue.selection"),
			Seed:        v.GetUint64("dialogue.seed"),
			MaxRetries:  v.GetInt("dialogue.max_retries"),
			EmptyMarker: v.GetString("dialogue.empty_marker"),
			Timezone:    v.GetString("dialogue.timezone"),
			SessionTTL:  v.GetDuration("dialogue.session_ttl"),
			MaxSessions: v.GetInt("dialogue.max_sessions"),
		},
		Admin: AdminConfig{
			TokenHash: v.GetString("admin.token_hash"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		RateLimit: RateLimitConfig{
			Requests: v.GetInt("rate_limit.requests"),
			Window:   v.GetDuration("rate_limit.window"),
		},
	}
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.env", "development")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.max_body_bytes", 64*1024)

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "teslabot")
	v.SetDefault("database.name", "teslabot")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.max_idle_connections", 2)
	v.SetDefault("database.connection_max_lifetime", "5m")

	// Backend defaults
	v.SetDefault("backend.base_url", "http://localhost:8000/api")
	v.SetDefault("backend.timeout", "10s")
	v.SetDefault("submission.mode", SubmissionBackend)

	// Automation defaults
	v.SetDefault("automation.channel_timeout", "10s")
	v.SetDefault("automation.messaging_provider", ProviderBackend)
	v.SetDefault("automation.email_provider", ProviderBackend)
	v.SetDefault("automation.email_subject", "Confirmación de contacto - Tesla Electricidad")
	v.SetDefault("automation.specialist_priority", "high")
	v.SetDefault("automation.followup_method", "whatsapp")
	v.SetDefault("automation.followup_delay_hours", 24)
	v.SetDefault("automation.breaker_failures", 5)
	v.SetDefault("automation.breaker_cooldown", "30s")

	// SMTP defaults
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.from_name", "Tesla Electricidad")

	// WhatsApp defaults
	v.SetDefault("whatsapp.business_number", "51987654321")
	v.SetDefault("whatsapp.default_region", "PE")
	v.SetDefault("whatsapp.max_link_text", 200)

	// Dialogue defaults
	v.SetDefault("dialogue.selection", "random")
	v.SetDefault("dialogue.max_retries", 3)
	v.SetDefault("dialogue.empty_marker", "(no especificado)")
	v.SetDefault("dialogue.timezone", "America/Lima")
	v.SetDefault("dialogue.session_ttl", "30m")
	v.SetDefault("dialogue.max_sessions", 10000)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Rate limit defaults
	v.SetDefault("rate_limit.requests", 60)
	v.SetDefault("rate_limit.window", "1m")
}

// Validate checks that all required configuration values are present and
// that enumerated settings hold known values.
func (c *Config) Validate() error {
	var missing []string
	var invalid []string

	usesBackend := c.Submission.Mode == SubmissionBackend ||
		c.Automation.MessagingProvider == ProviderBackend ||
		c.Automation.EmailProvider == ProviderBackend
	if usesBackend {
		if c.Backend.BaseURL == "" {
			missing = append(missing, "BACKEND_BASE_URL")
		} else if u, err := url.Parse(c.Backend.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			invalid = append(invalid, "BACKEND_BASE_URL")
		}
	}

	switch c.Submission.Mode {
	case SubmissionBackend:
	case SubmissionDatabase:
		if !c.Database.Enabled {
			invalid = append(invalid, "SUBMISSION_MODE (database mode requires DATABASE_ENABLED)")
		}
	default:
		invalid = append(invalid, "SUBMISSION_MODE")
	}

	if c.Database.Enabled && c.Database.Password == "" {
		missing = append(missing, "DATABASE_PASSWORD")
	}

	switch c.Automation.MessagingProvider {
	case ProviderBackend:
	case ProviderTwilio:
		if c.Twilio.AccountSID == "" {
			missing = append(missing, "TWILIO_ACCOUNT_SID")
		}
		if c.Twilio.AuthToken == "" {
			missing = append(missing, "TWILIO_AUTH_TOKEN")
		}
		if c.Twilio.From == "" {
			missing = append(missing, "TWILIO_FROM")
		}
	default:
		invalid = append(invalid, "AUTOMATION_MESSAGING_PROVIDER")
	}

	switch c.Automation.EmailProvider {
	case ProviderBackend:
	case ProviderSMTP:
		if c.SMTP.Host == "" {
			missing = append(missing, "SMTP_HOST")
		}
		if c.SMTP.FromEmail == "" {
			missing = append(missing, "SMTP_FROM_EMAIL")
		}
	default:
		invalid = append(invalid, "AUTOMATION_EMAIL_PROVIDER")
	}

	if c.Dialogue.Selection != "first" && c.Dialogue.Selection != "random" {
		invalid = append(invalid, "DIALOGUE_SELECTION")
	}
	if c.Dialogue.MaxRetries < 1 {
		invalid = append(invalid, "DIALOGUE_MAX_RETRIES")
	}
	if _, err := time.LoadLocation(c.Dialogue.Timezone); err != nil {
		invalid = append(invalid, "DIALOGUE_TIMEZONE")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(invalid, ", "))
	}

	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// AdminEnabled reports whether the admin API is configured.
func (c *Config) AdminEnabled() bool {
	return c.Admin.TokenHash != ""
}
