package config

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/stepgate/internal/models"
	"github.com/BradenHooton/stepgate/internal/services"
)

// setRequired sets the env vars Load refuses to start without
func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DB_PASSWORD", "test")
}

func TestLoad_RequiresDBPassword(t *testing.T) {
	t.Setenv("DB_PASSWORD", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_PASSWORD")
}

func TestServerConfig_Timeouts_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	tests := []struct {
		name     string
		actual   time.Duration
		expected time.Duration
	}{
		{"ReadTimeout", cfg.Server.ReadTimeout, 15 * time.Second},
		{"WriteTimeout", cfg.Server.WriteTimeout, 15 * time.Second},
		{"IdleTimeout", cfg.Server.IdleTimeout, 60 * time.Second},
		{"ShutdownTimeout", cfg.Server.ShutdownTimeout, 30 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.actual, tt.name)
	}
}

func TestServerConfig_Timeouts_CustomValues(t *testing.T) {
	setRequired(t)
	t.Setenv("SERVER_READ_TIMEOUT", "30s")
	t.Setenv("SERVER_WRITE_TIMEOUT", "45s")
	t.Setenv("SERVER_IDLE_TIMEOUT", "120s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 45*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
}

func TestServerConfig_Timeouts_InvalidDuration(t *testing.T) {
	setRequired(t)
	t.Setenv("SERVER_READ_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)

	// Invalid duration falls back to the default
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
}

func TestServerConfig_Timeouts_ZeroValues(t *testing.T) {
	setRequired(t)
	t.Setenv("SERVER_READ_TIMEOUT", "0s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Zero(t, cfg.Server.ReadTimeout)
}

func TestServerConfig_Proxies(t *testing.T) {
	setRequired(t)
	t.Setenv("NUM_PROXIES", "2")
	t.Setenv("TRUSTED_PROXIES", " 10.0.0.1 , ,10.0.0.2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Server.NumProxies)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, cfg.Server.TrustedProxies)
}

func TestTwoFactorConfig_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	tf := cfg.TwoFactor
	assert.True(t, tf.Enabled)
	assert.True(t, tf.ThrottlingEnabled)
	assert.Equal(t, []string{services.StrategyDirect, services.StrategyEmail}, tf.Types)
	assert.Equal(t, services.StrategyEmail, tf.DefaultType)
	assert.False(t, tf.PerUserType)
	assert.Equal(t, models.ThrottleCondition{MaxAttempts: 3, Window: 5 * time.Minute}, tf.Verify)
	assert.Equal(t, 10, tf.LockoutMaxAttempts)
	assert.Equal(t, 2*time.Hour, tf.LockoutWindow)
	assert.Equal(t, 30*time.Minute, tf.LockoutNotifyCooldown)
	assert.Equal(t, 28*24*time.Hour, tf.DeviceTrustTTL)
	assert.Nil(t, tf.TOTPEncryptionKey)
}

func TestTwoFactorConfig_CustomValues(t *testing.T) {
	setRequired(t)
	t.Setenv("TWOFACTOR_ENABLED", "false")
	t.Setenv("TWOFACTOR_THROTTLING_ENABLED", "0")
	t.Setenv("TWOFACTOR_TYPES", "direct")
	t.Setenv("TWOFACTOR_DEFAULT_TYPE", "direct")
	t.Setenv("TWOFACTOR_PER_USER_TYPE", "true")
	t.Setenv("THROTTLE_AUTH_MAX_ATTEMPTS", "7")
	t.Setenv("THROTTLE_AUTH_WINDOW", "10m")

	cfg, err := Load()
	require.NoError(t, err)

	tf := cfg.TwoFactor
	assert.False(t, tf.Enabled)
	assert.False(t, tf.ThrottlingEnabled)
	assert.Equal(t, []string{"direct"}, tf.Types)
	assert.True(t, tf.PerUserType)
	assert.Equal(t, models.ThrottleCondition{MaxAttempts: 7, Window: 10 * time.Minute}, tf.Auth)
}

func TestTwoFactorConfig_Validation(t *testing.T) {
	validKey := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))

	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "unknown type",
			env:     map[string]string{"TWOFACTOR_TYPES": "direct,sms"},
			wantErr: `unknown type "sms"`,
		},
		{
			name:    "default not enabled",
			env:     map[string]string{"TWOFACTOR_TYPES": "direct", "TWOFACTOR_DEFAULT_TYPE": "email"},
			wantErr: "TWOFACTOR_DEFAULT_TYPE",
		},
		{
			name:    "zero max attempts",
			env:     map[string]string{"THROTTLE_VERIFY_MAX_ATTEMPTS": "0"},
			wantErr: "THROTTLE_VERIFY_MAX_ATTEMPTS",
		},
		{
			name:    "negative window",
			env:     map[string]string{"THROTTLE_OBTAIN_WINDOW": "-1m"},
			wantErr: "THROTTLE_OBTAIN_WINDOW",
		},
		{
			name:    "lockout window",
			env:     map[string]string{"LOCKOUT_WINDOW": "0s"},
			wantErr: "LOCKOUT_WINDOW",
		},
		{
			name:    "totp without key",
			env:     map[string]string{"TWOFACTOR_TYPES": "direct,email,totp"},
			wantErr: "TOTP_ENCRYPTION_KEY is required",
		},
		{
			name:    "totp key not base64",
			env:     map[string]string{"TOTP_ENCRYPTION_KEY": "%%%"},
			wantErr: "must be base64",
		},
		{
			name: "totp key wrong size",
			env: map[string]string{
				"TOTP_ENCRYPTION_KEY": base64.StdEncoding.EncodeToString([]byte("short")),
			},
			wantErr: "32 bytes",
		},
		{
			name:    "bad email provider",
			env:     map[string]string{"EMAIL_PROVIDER": "smtp"},
			wantErr: "EMAIL_PROVIDER",
		},
		{
			name: "totp with key",
			env: map[string]string{
				"TWOFACTOR_TYPES":        "direct,email,totp",
				"TWOFACTOR_DEFAULT_TYPE": "totp",
				"TOTP_ENCRYPTION_KEY":    validKey,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Len(t, cfg.TwoFactor.TOTPEncryptionKey, 32)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTwoFactorConfig_Settings(t *testing.T) {
	tf := TwoFactorConfig{
		Enabled:               true,
		ThrottlingEnabled:     true,
		DefaultType:           services.StrategyEmail,
		Auth:                  models.ThrottleCondition{MaxAttempts: 10, Window: time.Minute},
		LockoutMaxAttempts:    5,
		LockoutWindow:         time.Hour,
		LockoutNotifyCooldown: time.Minute,
	}

	settings := tf.Settings()
	assert.Equal(t, services.StrategyEmail, settings.DefaultStrategy)
	assert.Equal(t, tf.Auth, settings.Auth)
	assert.Equal(t, 5, settings.Lockout.MaxAttempts)
	assert.Nil(t, settings.StrategyOverride)

	tf.PerUserType = true
	settings = tf.Settings()
	require.NotNil(t, settings.StrategyOverride)
	assert.Equal(t, "totp", settings.StrategyOverride(&models.User{TwoFactorType: "totp"}))
}

func TestGetEnvAsBool(t *testing.T) {
	t.Setenv("SOME_FLAG", "yes")
	assert.True(t, getEnvAsBool("SOME_FLAG", true), "unparseable value keeps default")

	t.Setenv("SOME_FLAG", "FALSE")
	assert.False(t, getEnvAsBool("SOME_FLAG", true))

	assert.True(t, getEnvAsBool("UNSET_FLAG", true))
}
