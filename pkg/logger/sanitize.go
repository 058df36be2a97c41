package logger

import (
	"log/slog"
	"strings"
)

// MaskEmail keeps the first two characters of the local part and masks the
// rest, leaving the domain untouched: "shit_happens@test.com" becomes
// "sh**********@test.com"
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return "[invalid-email]"
	}

	local, domain := email[:at], email[at+1:]

	visible := 2
	if len(local) < visible {
		visible = len(local)
	}

	return local[:visible] + strings.Repeat("*", len(local)-visible) + "@" + domain
}

// RedactedAttr returns a redacted slog attribute for sensitive values
// In production, returns "[REDACTED]"; in development, returns the actual value
func RedactedAttr(key, value, env string) slog.Attr {
	if env == "production" {
		return slog.String(key, "[REDACTED]")
	}
	return slog.String(key, value)
}

var sensitiveParams = []string{
	"password",
	"token",
	"secret",
	"code",
	"otp",
	"email",
	"device_id",
}

// SanitizeQueryString reports whether a query string contains sensitive
// parameters and should be redacted entirely
func SanitizeQueryString(rawQuery string) bool {
	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
