package automation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/teslaelectricidad/teslabot/internal/backend"
	"github.com/teslaelectricidad/teslabot/internal/clock"
	"github.com/teslaelectricidad/teslabot/internal/domain"
	"github.com/teslaelectricidad/teslabot/internal/email"
	"github.com/teslaelectricidad/teslabot/internal/messaging"
)

// Poster sends a JSON body to a backend route.
type Poster interface {
	Post(ctx context.Context, path string, body, result any) error
}

// ConfirmationSender delivers the contact confirmation email.
type ConfirmationSender interface {
	SendConfirmation(ctx context.Context, toEmail, subject string, data email.ConfirmationData) error
}

// ConfirmationMessage is the WhatsApp text sent to a new lead.
func ConfirmationMessage(job Job) string {
	sub := job.Submission
	contactEmail := sub.Email
	if strings.TrimSpace(contactEmail) == "" {
		contactEmail = "No especificado"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "¡Hola %s! 👋\n\n", sub.Name)
	b.WriteString("Gracias por contactar a Tesla Electricidad.\n")
	fmt.Fprintf(&b, "Tu solicitud #%s ha sido recibida.\n\n", job.LeadID)
	fmt.Fprintf(&b, "📋 *Servicio solicitado:* %s\n", job.Service())
	fmt.Fprintf(&b, "📞 *Contacto:* %s\n", sub.Phone)
	fmt.Fprintf(&b, "📧 *Email:* %s\n\n", contactEmail)
	b.WriteString("Un asesor se pondrá en contacto contigo en los próximos minutos.\n\n")
	b.WriteString("*Tesla Electricidad - Energía Inteligente*")
	return b.String()
}

// FollowUpMessage is the text of the scheduled follow-up.
func FollowUpMessage(job Job) string {
	return fmt.Sprintf("Hola %s, te escribimos de Tesla Electricidad sobre tu solicitud de %s. ¿En qué te podemos ayudar hoy?",
		job.Submission.Name, job.Service())
}

// MessagingChannel sends the WhatsApp confirmation to the lead.
type MessagingChannel struct {
	sender messaging.Sender
	region string
}

// NewMessagingChannel creates the messaging channel. region is used to
// normalize phone numbers written without a country code.
func NewMessagingChannel(sender messaging.Sender, region string) *MessagingChannel {
	return &MessagingChannel{sender: sender, region: region}
}

func (c *MessagingChannel) Name() domain.Channel { return domain.ChannelMessaging }

// Sender returns the provider the channel delivers through.
func (c *MessagingChannel) Sender() messaging.Sender { return c.sender }

func (c *MessagingChannel) Deliver(ctx context.Context, job Job) error {
	to := messaging.Recipient(job.Submission.Phone, c.region)
	return c.sender.SendMessage(ctx, to, ConfirmationMessage(job))
}

// EmailChannel sends the confirmation email. Leads without an email
// address are skipped.
type EmailChannel struct {
	sender         ConfirmationSender
	subject        string
	businessNumber string
}

// NewEmailChannel creates the email channel. businessNumber, when set, adds
// a WhatsApp link to the email.
func NewEmailChannel(sender ConfirmationSender, subject, businessNumber string) *EmailChannel {
	return &EmailChannel{sender: sender, subject: subject, businessNumber: businessNumber}
}

func (c *EmailChannel) Name() domain.Channel { return domain.ChannelEmail }

// Sender returns the provider the channel delivers through.
func (c *EmailChannel) Sender() ConfirmationSender { return c.sender }

func (c *EmailChannel) Skip(job Job) bool { return !job.Submission.HasEmail() }

func (c *EmailChannel) Deliver(ctx context.Context, job Job) error {
	sub := job.Submission
	data := email.ConfirmationData{
		Name:    sub.Name,
		LeadID:  job.LeadID,
		Service: job.Service(),
		Phone:   sub.Phone,
		Message: sub.Message,
	}
	if c.businessNumber != "" {
		data.WhatsAppURL = messaging.DeepLink(c.businessNumber, "", 0)
	}
	return c.sender.SendConfirmation(ctx, strings.TrimSpace(sub.Email), c.subject, data)
}

// SpecialistChannel notifies the specialists on duty.
type SpecialistChannel struct {
	poster   Poster
	priority string
}

func NewSpecialistChannel(poster Poster, priority string) *SpecialistChannel {
	if priority == "" {
		priority = "high"
	}
	return &SpecialistChannel{poster: poster, priority: priority}
}

func (c *SpecialistChannel) Name() domain.Channel { return domain.ChannelSpecialist }

func (c *SpecialistChannel) Deliver(ctx context.Context, job Job) error {
	return c.poster.Post(ctx, backend.PathSpecialists, map[string]any{
		"lead_id":  job.LeadID,
		"service":  job.Submission.Service,
		"priority": c.priority,
	}, nil)
}

// FollowUpChannel schedules a follow-up contact with the lead.
type FollowUpChannel struct {
	poster     Poster
	method     string
	delayHours int
}

func NewFollowUpChannel(poster Poster, method string, delayHours int) *FollowUpChannel {
	if method == "" {
		method = "whatsapp"
	}
	if delayHours <= 0 {
		delayHours = 24
	}
	return &FollowUpChannel{poster: poster, method: method, delayHours: delayHours}
}

func (c *FollowUpChannel) Name() domain.Channel { return domain.ChannelFollowUp }

func (c *FollowUpChannel) Deliver(ctx context.Context, job Job) error {
	return c.poster.Post(ctx, backend.PathFollowUps, map[string]any{
		"lead_id":        job.LeadID,
		"contact_method": c.method,
		"delay_hours":    c.delayHours,
		"message":        FollowUpMessage(job),
	}, nil)
}

// AnalyticsChannel records the service request event.
type AnalyticsChannel struct {
	poster Poster
	clock  clock.Clock
}

func NewAnalyticsChannel(poster Poster, clk clock.Clock) *AnalyticsChannel {
	if clk == nil {
		clk = clock.New()
	}
	return &AnalyticsChannel{poster: poster, clock: clk}
}

func (c *AnalyticsChannel) Name() domain.Channel { return domain.ChannelAnalytics }

func (c *AnalyticsChannel) Deliver(ctx context.Context, job Job) error {
	return c.poster.Post(ctx, backend.PathAnalytics, map[string]any{
		"event":     "service_request",
		"service":   job.Submission.Service,
		"source":    string(job.Source),
		"timestamp": c.clock.Now().UTC().Format(time.RFC3339Nano),
	}, nil)
}
