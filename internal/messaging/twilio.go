package messaging

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"

	apperrors "github.com/teslaelectricidad/teslabot/internal/errors"
)

// TwilioOpts holds the Twilio account settings.
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	From       string
	Timeout    time.Duration
}

// TwilioOption configures a TwilioClient.
type TwilioOption func(*TwilioOpts)

func WithAccountSID(sid string) TwilioOption {
	return func(o *TwilioOpts) { o.AccountSID = sid }
}

func WithAuthToken(token string) TwilioOption {
	return func(o *TwilioOpts) { o.AuthToken = token }
}

// WithFrom sets the sender number, with or without the whatsapp: prefix.
func WithFrom(from string) TwilioOption {
	return func(o *TwilioOpts) { o.From = from }
}

func WithTimeout(d time.Duration) TwilioOption {
	return func(o *TwilioOpts) { o.Timeout = d }
}

// TwilioClient sends WhatsApp messages through the Twilio REST API.
type TwilioClient struct {
	client *twilio.RestClient
	from   string
	logger *zap.Logger
}

// NewTwilioClient creates a Twilio WhatsApp sender.
func NewTwilioClient(logger *zap.Logger, opts ...TwilioOption) (*TwilioClient, error) {
	var cfg TwilioOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("twilio: account SID and auth token must be provided")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("twilio: sender number must be provided")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}

	return &TwilioClient{
		client: client,
		from:   whatsappAddress(cfg.From),
		logger: logger,
	}, nil
}

// SendMessage sends body to the E.164 number to.
func (c *TwilioClient) SendMessage(ctx context.Context, to, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(whatsappAddress(to))
	params.SetFrom(c.from)
	params.SetBody(body)

	resp, err := c.client.Api.CreateMessage(params)
	if err != nil {
		return apperrors.ExternalServiceError("twilio", err)
	}

	sid := ""
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	c.logger.Debug("twilio message sent", zap.String("sid", sid))
	return nil
}

func whatsappAddress(number string) string {
	number = strings.TrimSpace(number)
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	if !strings.HasPrefix(number, "+") {
		number = "+" + number
	}
	return "whatsapp:" + number
}
