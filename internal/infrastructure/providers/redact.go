package providers

import (
	"net/http"
	"strings"
)

// MaxLoggedBody caps response bodies written to logs and outbox diagnostics.
const MaxLoggedBody = 1024

var sensitiveHeaders = map[string]bool{
	"api-key":       true,
	"authorization": true,
	"x-api-key":     true,
	"cookie":        true,
}

// RedactHeaders returns a log-safe copy of h.
func RedactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if sensitiveHeaders[strings.ToLower(k)] {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = strings.Join(v, ",")
	}
	return out
}

// RedactSecret keeps a short prefix so operators can tell keys apart.
func RedactSecret(s string) string {
	if len(s) <= 4 {
		return "[REDACTED]"
	}
	return s[:4] + "…[REDACTED]"
}

// TruncateBody shortens s to MaxLoggedBody bytes.
func TruncateBody(s string) string {
	if len(s) <= MaxLoggedBody {
		return s
	}
	return s[:MaxLoggedBody] + "…(truncated)"
}
