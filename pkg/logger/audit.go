package logger

import (
	"context"
	"log/slog"
	"time"
)

// Two-factor audit event types
const (
	EventCredentialsRejected = "credentials_rejected"
	EventLockedOut           = "locked_out"
	EventCodeIssued          = "code_issued"
	EventCodeRevoked         = "code_revoked"
	EventVerifySucceeded     = "verify_succeeded"
	EventVerifyFailed        = "verify_failed"
	EventDeviceTrusted       = "device_trusted"
	EventDeviceForgotten     = "device_forgotten"
	EventLockoutNotified     = "lockout_notified"
)

// AuditEvent represents a security audit event
type AuditEvent struct {
	EventType     string
	UserID        string
	Username      string
	IPAddress     string
	DeviceID      string
	Strategy      string
	Scope         string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// AuditLogger provides audit logging functionality
type AuditLogger struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
		now:    time.Now,
	}
}

// LogTwoFactorEvent logs a step of the two-factor flow. Failures are logged
// at warn level.
func (al *AuditLogger) LogTwoFactorEvent(ctx context.Context, event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "two_factor"),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", al.now().UTC().Format(time.RFC3339)),
	}

	optional := []struct{ key, val string }{
		{"user_id", event.UserID},
		{"username", event.Username},
		{"ip_address", event.IPAddress},
		{"device_id", event.DeviceID},
		{"strategy", event.Strategy},
		{"scope", event.Scope},
		{"failure_reason", event.FailureReason},
	}
	for _, o := range optional {
		if o.val != "" {
			attrs = append(attrs, slog.String(o.key, o.val))
		}
	}

	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}
