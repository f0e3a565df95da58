package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so several services (and tests) can build
// their own without colliding on the global default registerer.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	magicLinks    prometheus.Counter
	verifications *prometheus.CounterVec
	emails        *prometheus.CounterVec
	events        *prometheus.CounterVec
}

func New(service string) *Metrics {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"service": service}

	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "http_requests_total",
			Help:        "HTTP requests by method, route and status.",
			ConstLabels: labels,
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request latency.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"method", "route"}),
		magicLinks: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "auth_magic_links_issued_total",
			Help:        "Magic-link tokens minted and stored.",
			ConstLabels: labels,
		}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "auth_verifications_total",
			Help:        "Magic-link verification attempts by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		emails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "notify_emails_total",
			Help:        "Outbound e-mails by template and outcome.",
			ConstLabels: labels,
		}, []string{"template", "outcome"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "events_published_total",
			Help:        "Events published to the bus by subject and outcome.",
			ConstLabels: labels,
		}, []string{"subject", "outcome"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.magicLinks,
		m.verifications,
		m.emails,
		m.events,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) MagicLinkIssued() {
	if m == nil {
		return
	}
	m.magicLinks.Inc()
}

// Verification records a verify outcome: success, invalid_token, already_used, error.
func (m *Metrics) Verification(outcome string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Email(template string, err error) {
	if m == nil {
		return
	}
	m.emails.WithLabelValues(template, outcome(err)).Inc()
}

func (m *Metrics) EventPublished(subject string, err error) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(subject, outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
