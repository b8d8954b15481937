// Package sanitize masks personal data in logs, errors and stored outcomes.
package sanitize

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/teslaelectricidad/teslabot/internal/phone"
)

// Common patterns for sensitive data
var (
	// Bearer token pattern
	bearerPattern = regexp.MustCompile(`(?i)bearer\s+[\w.-]+`)

	// API key patterns (various formats)
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret|token|password|auth)[=:\s"']*([\w-]{16,})`)

	// Email pattern
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

	// Peruvian RUC: 11 digits with a taxpayer-type prefix.
	rucPattern = regexp.MustCompile(`(^|[^\w-])((?:10|15|17|20)\d{9})($|[^\w-])`)

	// Phone numbers: 9 to 15 digits, optionally with a leading plus. Digits
	// inside identifiers such as UUIDs are left alone.
	phonePattern = regexp.MustCompile(`(^|[^\w-])(\+?\d{9,15})($|[^\w-])`)

	// Peruvian DNI: exactly 8 digits.
	dniPattern = regexp.MustCompile(`(^|[^\w-])(\d{8})($|[^\w-])`)
)

// Sanitizer masks sensitive values found in free text.
type Sanitizer struct {
	patterns []patternConfig
}

type patternConfig struct {
	pattern     *regexp.Regexp
	replacement func(string) string
	enabled     bool
	// delimited patterns consume the separators around a match, so two
	// values divided by a single space need a second pass.
	delimited bool
}

// Config holds configuration for the sanitizer.
type Config struct {
	// MaskPhones masks phone numbers
	MaskPhones bool
	// MaskEmails masks email addresses
	MaskEmails bool
	// MaskAPIKeys masks API keys and tokens
	MaskAPIKeys bool
	// MaskBearerTokens masks bearer tokens
	MaskBearerTokens bool
	// MaskDocuments masks DNI and RUC numbers
	MaskDocuments bool
}

// DefaultConfig returns a configuration with all masking enabled.
func DefaultConfig() Config {
	return Config{
		MaskPhones:       true,
		MaskEmails:       true,
		MaskAPIKeys:      true,
		MaskBearerTokens: true,
		MaskDocuments:    true,
	}
}

// New creates a new Sanitizer with the given configuration. Patterns run in
// order: credentials, emails, documents, then phone numbers.
func New(cfg Config) *Sanitizer {
	return &Sanitizer{
		patterns: []patternConfig{
			{pattern: bearerPattern, replacement: maskBearer, enabled: cfg.MaskBearerTokens},
			{pattern: apiKeyPattern, replacement: maskAPIKey, enabled: cfg.MaskAPIKeys},
			{pattern: emailPattern, replacement: Email, enabled: cfg.MaskEmails},
			{pattern: rucPattern, replacement: delimited(maskDocument), enabled: cfg.MaskDocuments, delimited: true},
			{pattern: phonePattern, replacement: delimited(phone.Mask), enabled: cfg.MaskPhones, delimited: true},
			{pattern: dniPattern, replacement: delimited(maskDocument), enabled: cfg.MaskDocuments, delimited: true},
		},
	}
}

// NewDefault creates a sanitizer with default configuration.
func NewDefault() *Sanitizer {
	return New(DefaultConfig())
}

var defaultSanitizer = NewDefault()

// String sanitizes a string by masking all sensitive data.
func (s *Sanitizer) String(input string) string {
	result := input
	for _, p := range s.patterns {
		if !p.enabled {
			continue
		}
		result = p.pattern.ReplaceAllStringFunc(result, p.replacement)
		if p.delimited {
			result = p.pattern.ReplaceAllStringFunc(result, p.replacement)
		}
	}
	return result
}

// Error sanitizes an error message.
func (s *Sanitizer) Error(err error) string {
	if err == nil {
		return ""
	}
	return s.String(err.Error())
}

// Headers sanitizes HTTP headers. Credential headers are redacted entirely.
func (s *Sanitizer) Headers(headers http.Header) map[string][]string {
	result := make(map[string][]string, len(headers))
	for k, vals := range headers {
		if isSensitiveHeader(strings.ToLower(k)) {
			result[k] = []string{"[REDACTED]"}
			continue
		}
		sanitized := make([]string, len(vals))
		for i, v := range vals {
			sanitized[i] = s.String(v)
		}
		result[k] = sanitized
	}
	return result
}

// delimited applies mask to the number inside a match, keeping the
// separators the pattern consumed around it.
func delimited(mask func(string) string) func(string) string {
	return func(match string) string {
		start := strings.IndexAny(match, "+0123456789")
		if start < 0 {
			return match
		}
		end := start + 1
		for end < len(match) && match[end] >= '0' && match[end] <= '9' {
			end++
		}
		return match[:start] + mask(match[start:end]) + match[end:]
	}
}

func maskAPIKey(match string) string {
	parts := apiKeyPattern.FindStringSubmatch(match)
	if len(parts) >= 2 {
		// Preserve the key name but mask the value
		prefix := strings.TrimSuffix(match, parts[len(parts)-1])
		return prefix + "[REDACTED]"
	}
	return "[REDACTED-KEY]"
}

func maskBearer(string) string {
	return "Bearer [REDACTED]"
}

func maskDocument(doc string) string {
	if len(doc) <= 3 {
		return strings.Repeat("*", len(doc))
	}
	return strings.Repeat("*", len(doc)-3) + doc[len(doc)-3:]
}

func isSensitiveHeader(header string) bool {
	switch header {
	case "authorization", "proxy-authorization", "cookie", "set-cookie",
		"x-api-key", "x-auth-token":
		return true
	}
	return false
}

// String masks sensitive data in s with the default configuration.
func String(s string) string {
	return defaultSanitizer.String(s)
}

// Error masks sensitive data in err's message with the default
// configuration.
func Error(err error) string {
	return defaultSanitizer.Error(err)
}

// Headers sanitizes headers with the default configuration.
func Headers(headers http.Header) map[string][]string {
	return defaultSanitizer.Headers(headers)
}

// Email masks an email address, keeping the first two characters of the
// local part and the domain.
func Email(email string) string {
	if email == "" {
		return ""
	}
	at := strings.Index(email, "@")
	if at <= 0 {
		return "****"
	}
	if at <= 2 {
		return email[:1] + "***" + email[at:]
	}
	return email[:2] + "***" + email[at:]
}

// Identifier masks an IP address or other client identifier.
func Identifier(id string) string {
	if len(id) <= 4 {
		return "****"
	}
	return id[:2] + "****" + id[len(id)-2:]
}
