package validation

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Field limits for contact submissions.
const (
	MinNameLength    = 3
	MaxNameLength    = 120
	MaxEmailLength   = 254
	MaxMessageLength = 2000
)

var (
	phoneRegex = regexp.MustCompile(`^[0-9]{9,15}$`)
	emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// ServiceKeys reports whether a value names an offered service.
type ServiceKeys interface {
	IsServiceKey(key string) bool
}

// IsValidName reports whether the trimmed name has at least three characters.
func IsValidName(name string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(name)) >= MinNameLength
}

// IsValidPhone reports whether phone is 9 to 15 digits with no other characters.
func IsValidPhone(phone string) bool {
	return phoneRegex.MatchString(phone)
}

// IsValidEmail reports whether email has a basic address shape. The field is
// optional, so an empty value is valid.
func IsValidEmail(email string) bool {
	if email == "" {
		return true
	}
	return emailRegex.MatchString(email)
}

// IsValidServiceSelection reports whether service is one of the catalog keys.
func IsValidServiceSelection(service string, keys ServiceKeys) bool {
	if service == "" || keys == nil {
		return false
	}
	return keys.IsServiceKey(service)
}

// CleanPhone strips the separators people commonly type in phone numbers.
// Letters and other characters are kept so IsValidPhone still rejects them.
func CleanPhone(phone string) string {
	return strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "").Replace(strings.TrimSpace(phone))
}

// ContactValidator maps the contact predicates to field-level messages.
type ContactValidator struct {
	*Validator
	services ServiceKeys
}

// NewContactValidator creates a validator for contact form submissions.
func NewContactValidator(services ServiceKeys) *ContactValidator {
	return &ContactValidator{
		Validator: New(),
		services:  services,
	}
}

// ValidateName validates the submitter name.
func (v *ContactValidator) ValidateName(name string) {
	if !v.Check(IsValidName(name), "nombre", "El nombre debe tener al menos 3 caracteres", CodeTooShort) {
		return
	}
	v.MaxLength("nombre", name, MaxNameLength)
	v.SafeString("nombre", name)
	v.NoScriptTags("nombre", name)
}

// ValidatePhone validates the submitter phone.
func (v *ContactValidator) ValidatePhone(phone string) {
	if !v.Required("telefono", phone) {
		return
	}
	v.Check(IsValidPhone(phone), "telefono", "Ingrese un teléfono válido (9 a 15 dígitos)", CodeInvalidFormat)
}

// ValidateEmail validates the optional email.
func (v *ContactValidator) ValidateEmail(email string) {
	if !v.Check(IsValidEmail(email), "email", "Ingrese un correo electrónico válido", CodeInvalidFormat) {
		return
	}
	v.MaxLength("email", email, MaxEmailLength)
}

// ValidateService validates the requested service.
func (v *ContactValidator) ValidateService(service string) {
	if !v.Required("servicio", service) {
		return
	}
	v.Check(IsValidServiceSelection(service, v.services), "servicio", "Seleccione un servicio válido", CodeInvalidValue)
}

// ValidateMessage validates the free-text message.
func (v *ContactValidator) ValidateMessage(message string) {
	v.MaxLength("mensaje", message, MaxMessageLength)
	v.SafeString("mensaje", message)
	v.NoScriptTags("mensaje", message)
}

// ValidateAll performs all validations and returns errors.
func (v *ContactValidator) ValidateAll(name, phone, email, service, message string) ValidationErrors {
	v.ValidateName(name)
	v.ValidatePhone(phone)
	v.ValidateEmail(email)
	v.ValidateService(service)
	v.ValidateMessage(message)
	return v.Errors()
}
