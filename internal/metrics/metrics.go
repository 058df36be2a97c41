package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the two-factor flow collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	ThrottleDenials      *prometheus.CounterVec
	ObtainTotal          *prometheus.CounterVec
	VerifyTotal          *prometheus.CounterVec
	LockoutNotifications prometheus.Counter
	TrustedDevices       prometheus.Counter
	CleanupRemoved       prometheus.Counter
	CleanupDuration      prometheus.Histogram
}

// New registers the collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ThrottleDenials: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stepgate_throttle_denials_total",
			Help: "Total number of requests rejected by a throttle scope",
		}, []string{"scope"}),
		ObtainTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stepgate_obtain_total",
			Help: "Total number of second factors obtained, by strategy",
		}, []string{"strategy"}),
		VerifyTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stepgate_verify_total",
			Help: "Total number of second factor verifications, by strategy and outcome",
		}, []string{"strategy", "outcome"}),
		LockoutNotifications: factory.NewCounter(prometheus.CounterOpts{
			Name: "stepgate_lockout_notifications_total",
			Help: "Total number of account lockout notifications sent",
		}),
		TrustedDevices: factory.NewCounter(prometheus.CounterOpts{
			Name: "stepgate_trusted_devices_registered_total",
			Help: "Total number of devices registered as trusted",
		}),
		CleanupRemoved: factory.NewCounter(prometheus.CounterOpts{
			Name: "stepgate_cleanup_removed_entries_total",
			Help: "Total number of expired in-memory store entries removed",
		}),
		CleanupDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "stepgate_cleanup_duration_seconds",
			Help:    "Duration of in-memory store cleanup runs",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1},
		}),
	}
}

func (m *Metrics) IncrementThrottleDenial(scope string) {
	if m == nil {
		return
	}
	m.ThrottleDenials.WithLabelValues(scope).Inc()
}

func (m *Metrics) IncrementObtain(strategy string) {
	if m == nil {
		return
	}
	m.ObtainTotal.WithLabelValues(strategy).Inc()
}

func (m *Metrics) IncrementVerify(strategy, outcome string) {
	if m == nil {
		return
	}
	m.VerifyTotal.WithLabelValues(strategy, outcome).Inc()
}

func (m *Metrics) IncrementLockoutNotification() {
	if m == nil {
		return
	}
	m.LockoutNotifications.Inc()
}

func (m *Metrics) IncrementTrustedDevice() {
	if m == nil {
		return
	}
	m.TrustedDevices.Inc()
}

func (m *Metrics) ObserveCleanup(start time.Time, removed int64) {
	if m == nil {
		return
	}
	m.CleanupRemoved.Add(float64(removed))
	m.CleanupDuration.Observe(time.Since(start).Seconds())
}
