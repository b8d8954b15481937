package dialogue

import (
	"regexp"
)

var placeholderRegex = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// Fill replaces {field} placeholders with values from the given sources,
// searched in order. Missing or empty values render as marker.
func Fill(text, marker string, sources ...map[string]string) string {
	return placeholderRegex.ReplaceAllStringFunc(text, func(m string) string {
		name := m[1 : len(m)-1]
		for _, src := range sources {
			if v := src[name]; v != "" {
				return v
			}
		}
		return marker
	})
}

// Placeholders returns the placeholder names used in text.
func Placeholders(text string) []string {
	matches := placeholderRegex.FindAllStringSubmatch(text, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}
