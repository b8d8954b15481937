package repository

import (
	"fmt"
	"slices"
	"strings"

	apperrors "github.com/teslaelectricidad/teslabot/internal/errors"
)

// Pagination limits for list queries.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Guard validates repository inputs before they reach the database.
type Guard struct{}

// NewGuard creates a new validation guard.
func NewGuard() *Guard {
	return &Guard{}
}

// NormalizePagination clamps limit and offset to safe values.
func (g *Guard) NormalizePagination(limit, offset, defaultLimit, maxLimit int) (int, int) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// ValidationResult collects multiple validation errors.
type ValidationResult struct {
	errors []error
}

// Validate returns a new ValidationResult for fluent validation.
func Validate() *ValidationResult {
	return &ValidationResult{}
}

// RequireString adds a non-blank string validation.
func (v *ValidationResult) RequireString(s string, field string) *ValidationResult {
	if strings.TrimSpace(s) == "" {
		v.errors = append(v.errors, apperrors.MissingField(field))
	}
	return v
}

// RequireMaxLength adds a max length validation.
func (v *ValidationResult) RequireMaxLength(s string, maxLen int, field string) *ValidationResult {
	if len(s) > maxLen {
		v.errors = append(v.errors, apperrors.ValidationFailed(fmt.Sprintf("%s must not exceed %d characters", field, maxLen)))
	}
	return v
}

// RequireEnum adds an enum validation.
func (v *ValidationResult) RequireEnum(value string, allowed []string, field string) *ValidationResult {
	if !slices.Contains(allowed, value) {
		v.errors = append(v.errors, apperrors.ValidationFailed(fmt.Sprintf("%s must be one of: %s", field, strings.Join(allowed, ", "))))
	}
	return v
}

// HasErrors returns true if there are any validation errors.
func (v *ValidationResult) HasErrors() bool {
	return len(v.errors) > 0
}

// Error returns a combined error, or nil if there are no errors.
func (v *ValidationResult) Error() error {
	if len(v.errors) == 0 {
		return nil
	}
	if len(v.errors) == 1 {
		return v.errors[0]
	}

	messages := make([]string, len(v.errors))
	for i, err := range v.errors {
		messages[i] = err.Error()
	}
	return apperrors.ValidationFailed(strings.Join(messages, "; "))
}

// Count returns the number of validation errors.
func (v *ValidationResult) Count() int {
	return len(v.errors)
}
