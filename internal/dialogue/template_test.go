package dialogue

import (
	"reflect"
	"testing"
)

func TestFill(t *testing.T) {
	fields := map[string]string{"nombre": "Ana", "sector": "", "total": "S/ 100"}
	extra := map[string]string{"sector": "comercio", "total": "ignored"}

	tests := []struct {
		name string
		text string
		want string
	}{
		{"no placeholders", "Hola", "Hola"},
		{"single", "Hola {nombre}", "Hola Ana"},
		{"first source wins", "{total}", "S/ 100"},
		{"empty falls through", "{sector}", "comercio"},
		{"missing uses marker", "Área: {area}", "Área: (no especificado)"},
		{"repeated", "{nombre} y {nombre}", "Ana y Ana"},
		{"not a placeholder", "{ nombre } {1x}", "{ nombre } {1x}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fill(tt.text, "(no especificado)", fields, extra)
			if got != tt.want {
				t.Errorf("Fill(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestFill_ValuesAreNotExpanded(t *testing.T) {
	got := Fill("Hola {nombre}", "-", map[string]string{"nombre": "{telefono}", "telefono": "999"})
	if got != "Hola {telefono}" {
		t.Errorf("Fill() = %q, want value inserted verbatim", got)
	}
}

func TestPlaceholders(t *testing.T) {
	got := Placeholders("De {min} a {max} en {tiempo}")
	want := []string{"min", "max", "tiempo"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Placeholders() = %v, want %v", got, want)
	}
	if got := Placeholders("sin campos"); len(got) != 0 {
		t.Errorf("Placeholders() = %v, want none", got)
	}
}
