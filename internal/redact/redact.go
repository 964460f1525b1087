// Package redact scrubs secret material from audit records before they are
// written to disk. Keys that look like credentials are replaced wholesale;
// free text is scanned for bearer tokens and key=value assignments.
package redact

import "regexp"

const placeholder = "[REDACTED]"

var (
	secretKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password)`)

	bearerPattern     = regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9\-\._~\+\/=]+)`)
	assignmentPattern = regexp.MustCompile(`(?i)((?:api[_-]?key|token|secret|password)\s*[:=]\s*['"]?)([\w\-\.]+)(['"]?)`)
)

// Text redacts secret values embedded in a string.
func Text(value string) string {
	redacted := bearerPattern.ReplaceAllString(value, "${1}"+placeholder)
	redacted = assignmentPattern.ReplaceAllString(redacted, "${1}"+placeholder+"${3}")
	return redacted
}

// Value redacts secrets from an arbitrary decoded JSON value. Maps keyed by
// a secret-looking name lose their value entirely; strings are scanned.
func Value(value any) any {
	switch v := value.(type) {
	case string:
		return Text(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, inner := range v {
			if secretKeyPattern.MatchString(key) {
				out[key] = placeholder
				continue
			}
			out[key] = Value(inner)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, inner := range v {
			out[i] = Value(inner)
		}
		return out
	default:
		return value
	}
}
