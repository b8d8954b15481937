package repository

import (
	"strings"
	"testing"
)

func TestGuard_NormalizePagination(t *testing.T) {
	g := NewGuard()

	tests := []struct {
		name                  string
		limit, offset         int
		wantLimit, wantOffset int
	}{
		{"defaults", 0, 0, DefaultPageSize, 0},
		{"negative", -5, -1, DefaultPageSize, 0},
		{"capped", 500, 40, MaxPageSize, 40},
		{"unchanged", 10, 20, 10, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit, offset := g.NormalizePagination(tt.limit, tt.offset, DefaultPageSize, MaxPageSize)
			if limit != tt.wantLimit || offset != tt.wantOffset {
				t.Errorf("NormalizePagination() = %d, %d, want %d, %d", limit, offset, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}

func TestValidationResult(t *testing.T) {
	v := Validate().
		RequireString("Ana", "nombre").
		RequireMaxLength("short", 10, "mensaje").
		RequireEnum("form", []string{"form", "chat"}, "source")
	if v.HasErrors() || v.Error() != nil {
		t.Errorf("unexpected errors: %v", v.Error())
	}

	v = Validate().
		RequireString("", "nombre").
		RequireMaxLength(strings.Repeat("x", 11), 10, "mensaje").
		RequireEnum("phone", []string{"form", "chat"}, "source")
	if v.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", v.Count())
	}
	msg := v.Error().Error()
	for _, want := range []string{"nombre", "mensaje", "source must be one of: form, chat"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q missing %q", msg, want)
		}
	}
}

func TestValidationResult_SingleError(t *testing.T) {
	err := Validate().RequireString(" ", "telefono").Error()
	if err == nil || !strings.Contains(err.Error(), "telefono") {
		t.Errorf("Error() = %v", err)
	}
}
