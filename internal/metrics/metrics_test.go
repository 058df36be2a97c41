package metrics_test

import (
	"testing"
	"time"

	"github.com/BradenHooton/stepgate/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	m.IncrementThrottleDenial("2fa-auth")
	m.IncrementThrottleDenial("2fa-auth")
	m.IncrementObtain("email")
	m.IncrementVerify("email", "invalid")
	m.IncrementLockoutNotification()
	m.IncrementTrustedDevice()
	m.ObserveCleanup(time.Now(), 3)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.ThrottleDenials.WithLabelValues("2fa-auth")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ObtainTotal.WithLabelValues("email")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.VerifyTotal.WithLabelValues("email", "invalid")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.LockoutNotifications))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TrustedDevices))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.CleanupRemoved))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.Metrics

	assert.NotPanics(t, func() {
		m.IncrementThrottleDenial("2fa-auth")
		m.IncrementObtain("email")
		m.IncrementVerify("email", "ok")
		m.IncrementLockoutNotification()
		m.IncrementTrustedDevice()
		m.ObserveCleanup(time.Now(), 1)
	})
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		metrics.New(prometheus.NewRegistry())
		metrics.New(prometheus.NewRegistry())
	})
}
