package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	reg *prometheus.Registry

	WakeTotal       *prometheus.CounterVec // outcome=done|terminal|retry|budget_reset|invalid|unsupported|early|fatal|interrupted
	PortalRequests  *prometheus.CounterVec // step, code=2xx|3xx|4xx|5xx|error
	BookingDuration prometheus.Histogram
	FireDrift       prometheus.Histogram
	InFlight        prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		WakeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courtres_actor_wake_total",
				Help: "Actor wake callbacks by outcome",
			},
			[]string{"outcome"},
		),
		PortalRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courtres_portal_requests_total",
				Help: "Portal HTTP requests by step and status class",
			},
			[]string{"step", "code"},
		),
		BookingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "courtres_booking_duration_seconds",
			Help:    "Duration of one full booking attempt",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
		}),
		FireDrift: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "courtres_fire_drift_seconds",
			Help:    "Booking start minus the requested execute time",
			Buckets: []float64{-1, -0.1, -0.01, 0, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 5},
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "courtres_actor_wakes_in_flight",
			Help: "Wake callbacks currently running",
		}),
	}
	m.reg.MustRegister(m.WakeTotal, m.PortalRequests, m.BookingDuration, m.FireDrift, m.InFlight)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) IncWake(outcome string) {
	if m == nil {
		return
	}
	m.WakeTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObservePortalRequest(step string, status int) {
	if m == nil {
		return
	}
	m.PortalRequests.WithLabelValues(step, statusClass(status)).Inc()
}

func (m *Metrics) ObserveBooking(d time.Duration) {
	if m == nil {
		return
	}
	m.BookingDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveFireDrift(d time.Duration) {
	if m == nil {
		return
	}
	m.FireDrift.Observe(d.Seconds())
}

func (m *Metrics) WakeStarted() {
	if m == nil {
		return
	}
	m.InFlight.Inc()
}

func (m *Metrics) WakeFinished() {
	if m == nil {
		return
	}
	m.InFlight.Dec()
}

func statusClass(status int) string {
	if status <= 0 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}
