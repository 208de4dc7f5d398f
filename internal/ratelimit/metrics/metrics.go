package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ChecksTotal        *prometheus.CounterVec
	DenialsTotal       *prometheus.CounterVec
	QuotaExceededTotal *prometheus.CounterVec
	ActiveRules        prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		ChecksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_ratelimit_checks_total",
			Help: "Total number of admission checks by scope and outcome",
		}, []string{"scope", "outcome"}),
		DenialsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_ratelimit_denials_total",
			Help: "Total number of denied requests by strategy",
		}, []string{"strategy"}),
		QuotaExceededTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_ratelimit_quota_exceeded_total",
			Help: "Total number of quota increments that crossed the limit",
		}, []string{"period"}),
		ActiveRules: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gatekeeper_ratelimit_active_rules",
			Help: "Current number of enabled rate limit rules",
		}),
	}
}

func (m *Metrics) IncrementCheck(scope string, allowed bool) {
	outcome := "allowed"
	if !allowed {
		outcome = "blocked"
	}
	m.ChecksTotal.WithLabelValues(scope, outcome).Inc()
}

func (m *Metrics) IncrementDenial(strategy string) {
	m.DenialsTotal.WithLabelValues(strategy).Inc()
}

func (m *Metrics) IncrementQuotaExceeded(period string) {
	m.QuotaExceededTotal.WithLabelValues(period).Inc()
}

func (m *Metrics) SetActiveRules(count int) {
	m.ActiveRules.Set(float64(count))
}
