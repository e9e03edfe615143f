package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes counters and histograms for the scheduling core.
type Metrics struct {
	bookingsTotal       *prometheus.CounterVec
	availabilityTotal   *prometheus.CounterVec
	availabilityLatency *prometheus.HistogramVec
	transitionsTotal    *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vivir_feliz",
			Subsystem: "scheduling",
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		availabilityTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vivir_feliz",
			Subsystem: "scheduling",
			Name:      "availability_queries_total",
			Help:      "Availability queries by category and cache result",
		}, []string{"category", "cache"}),
		availabilityLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vivir_feliz",
			Subsystem: "scheduling",
			Name:      "availability_latency_seconds",
			Help:      "Time to answer an availability query",
			Buckets:   prometheus.DefBuckets,
		}, []string{"category"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vivir_feliz",
			Subsystem: "scheduling",
			Name:      "status_transitions_total",
			Help:      "Appointment status changes by target status",
		}, []string{"to"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.availabilityTotal, m.availabilityLatency, m.transitionsTotal)
	return m
}

func (m *Metrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveAvailability(category string, cached bool, d time.Duration) {
	if m == nil {
		return
	}
	label := "miss"
	if cached {
		label = "hit"
	}
	m.availabilityTotal.WithLabelValues(category, label).Inc()
	m.availabilityLatency.WithLabelValues(category).Observe(d.Seconds())
}

func (m *Metrics) ObserveTransition(to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(to).Inc()
}
