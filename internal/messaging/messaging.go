// Package messaging sends WhatsApp messages and builds wa.me deep links.
package messaging

import (
	"context"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/teslaelectricidad/teslabot/internal/phone"
)

// Sender delivers a WhatsApp text message to a phone number.
type Sender interface {
	SendMessage(ctx context.Context, to, body string) error
}

// DefaultMaxLinkText caps the prefilled text of a deep link.
const DefaultMaxLinkText = 200

// DeepLink returns a wa.me link that opens a chat with number, prefilled
// with text truncated to maxText runes. Empty text yields a plain chat link.
func DeepLink(number, text string, maxText int) string {
	link := "https://wa.me/" + digitsOnly(number)

	text = strings.TrimSpace(text)
	if text == "" {
		return link
	}
	if maxText <= 0 {
		maxText = DefaultMaxLinkText
	}
	if utf8.RuneCountInString(text) > maxText {
		text = string([]rune(text)[:maxText])
	}
	// wa.me expects percent-encoded spaces.
	return link + "?text=" + strings.ReplaceAll(url.QueryEscape(text), "+", "%20")
}

// FallbackText is the message prefilled when a visitor is sent to WhatsApp
// because the submission could not be completed.
func FallbackText(name, service, message string) string {
	var b strings.Builder
	b.WriteString("Hola")
	if name = strings.TrimSpace(name); name != "" {
		b.WriteString(", soy " + name)
	}
	b.WriteString(".")
	if service = strings.TrimSpace(service); service != "" {
		b.WriteString(" Estoy interesado en: " + service + ".")
	}
	if message = strings.TrimSpace(message); message != "" {
		b.WriteString(" " + message)
	}
	return b.String()
}

// Recipient formats a contact phone for WhatsApp delivery in E.164.
func Recipient(number, region string) string {
	return phone.NormalizeE164(number, region)
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}
