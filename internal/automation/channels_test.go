package automation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/teslaelectricidad/teslabot/internal/backend"
	"github.com/teslaelectricidad/teslabot/internal/clock"
	"github.com/teslaelectricidad/teslabot/internal/email"
)

type postCall struct {
	path string
	body map[string]any
}

type fakePoster struct {
	calls []postCall
	err   error
}

func (p *fakePoster) Post(ctx context.Context, path string, body, result any) error {
	p.calls = append(p.calls, postCall{path: path, body: body.(map[string]any)})
	return p.err
}

type fakeSender struct {
	to, body string
	calls    int
}

func (s *fakeSender) SendMessage(ctx context.Context, to, body string) error {
	s.calls++
	s.to, s.body = to, body
	return nil
}

type fakeMailer struct {
	to, subject string
	data        email.ConfirmationData
	calls       int
	err         error
}

func (m *fakeMailer) SendConfirmation(ctx context.Context, to, subject string, data email.ConfirmationData) error {
	m.calls++
	m.to, m.subject, m.data = to, subject, data
	return m.err
}

func TestConfirmationMessage(t *testing.T) {
	msg := ConfirmationMessage(testJob(false))

	want := "¡Hola Ana Torres! 👋\n\n" +
		"Gracias por contactar a Tesla Electricidad.\n" +
		"Tu solicitud #L-1 ha sido recibida.\n\n" +
		"📋 *Servicio solicitado:* Certificado ITSE\n" +
		"📞 *Contacto:* 987654321\n" +
		"📧 *Email:* No especificado\n\n" +
		"Un asesor se pondrá en contacto contigo en los próximos minutos.\n\n" +
		"*Tesla Electricidad - Energía Inteligente*"
	if msg != want {
		t.Errorf("ConfirmationMessage() =\n%s\nwant\n%s", msg, want)
	}

	if !strings.Contains(ConfirmationMessage(testJob(true)), "📧 *Email:* ana@example.com") {
		t.Error("email line should show the address when present")
	}
}

func TestMessagingChannel(t *testing.T) {
	sender := &fakeSender{}
	ch := NewMessagingChannel(sender, "PE")

	if err := ch.Deliver(context.Background(), testJob(false)); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if sender.to != "+51987654321" {
		t.Errorf("to = %q, want E.164 number", sender.to)
	}
	if !strings.HasPrefix(sender.body, "¡Hola Ana Torres!") {
		t.Errorf("body = %q", sender.body)
	}
}

func TestEmailChannel(t *testing.T) {
	mailer := &fakeMailer{}
	ch := NewEmailChannel(mailer, "Confirmación de contacto - Tesla Electricidad", "51987654321")

	if !ch.Skip(testJob(false)) {
		t.Error("Skip() = false for a lead without email")
	}
	if ch.Skip(testJob(true)) {
		t.Error("Skip() = true for a lead with email")
	}

	if err := ch.Deliver(context.Background(), testJob(true)); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if mailer.to != "ana@example.com" || mailer.subject != "Confirmación de contacto - Tesla Electricidad" {
		t.Errorf("to = %q subject = %q", mailer.to, mailer.subject)
	}
	if mailer.data.LeadID != "L-1" || mailer.data.Service != "Certificado ITSE" {
		t.Errorf("data = %+v", mailer.data)
	}
	if mailer.data.WhatsAppURL != "https://wa.me/51987654321" {
		t.Errorf("WhatsAppURL = %q", mailer.data.WhatsAppURL)
	}

	mailer.err = errors.New("smtp down")
	if err := ch.Deliver(context.Background(), testJob(true)); err == nil {
		t.Error("Deliver() should return the sender error")
	}
}

func TestSpecialistChannel(t *testing.T) {
	poster := &fakePoster{}
	ch := NewSpecialistChannel(poster, "")

	if err := ch.Deliver(context.Background(), testJob(false)); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	call := poster.calls[0]
	if call.path != backend.PathSpecialists {
		t.Errorf("path = %q", call.path)
	}
	if call.body["lead_id"] != "L-1" || call.body["service"] != "itse" || call.body["priority"] != "high" {
		t.Errorf("body = %v", call.body)
	}
}

func TestFollowUpChannel(t *testing.T) {
	poster := &fakePoster{}
	ch := NewFollowUpChannel(poster, "", 0)

	if err := ch.Deliver(context.Background(), testJob(false)); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	call := poster.calls[0]
	if call.path != backend.PathFollowUps {
		t.Errorf("path = %q", call.path)
	}
	if call.body["contact_method"] != "whatsapp" || call.body["delay_hours"] != 24 {
		t.Errorf("body = %v", call.body)
	}
	if msg, _ := call.body["message"].(string); !strings.Contains(msg, "Ana Torres") || !strings.Contains(msg, "Certificado ITSE") {
		t.Errorf("message = %q", msg)
	}
}

func TestAnalyticsChannel(t *testing.T) {
	poster := &fakePoster{err: errors.New("status 500")}
	clk := clock.NewMock(time.Date(2024, 3, 4, 15, 30, 0, 0, time.UTC))
	ch := NewAnalyticsChannel(poster, clk)

	if err := ch.Deliver(context.Background(), testJob(false)); err == nil {
		t.Error("Deliver() should return the poster error")
	}
	call := poster.calls[0]
	if call.path != backend.PathAnalytics {
		t.Errorf("path = %q", call.path)
	}
	if call.body["event"] != "service_request" || call.body["service"] != "itse" {
		t.Errorf("body = %v", call.body)
	}
	if call.body["timestamp"] != "2024-03-04T15:30:00Z" {
		t.Errorf("timestamp = %v", call.body["timestamp"])
	}
}
