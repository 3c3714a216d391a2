// Package metrics exposes Prometheus metrics for strategy attempts, the
// resolved usage windows and the HTTP API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/denysvitali/codexbar/internal/provider"
)

var (
	strategyAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "codexbar",
			Name:      "strategy_attempts_total",
			Help:      "Strategy attempts by outcome",
		},
		[]string{"provider", "source", "outcome"},
	)

	strategyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "codexbar",
			Name:      "strategy_duration_seconds",
			Help:      "Strategy fetch duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"provider", "source"},
	)

	windowUsedPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "codexbar",
			Name:      "window_used_percent",
			Help:      "Last resolved used percentage per window",
		},
		[]string{"provider", "window"},
	)

	creditsRemaining = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "codexbar",
			Name:      "credits_remaining",
			Help:      "Last resolved credit balance",
		},
		[]string{"provider"},
	)
)

func init() {
	prometheus.MustRegister(strategyAttemptsTotal)
	prometheus.MustRegister(strategyDuration)
	prometheus.MustRegister(windowUsedPercent)
	prometheus.MustRegister(creditsRemaining)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(httpRequestsTotal)
}

// Recorder implements usage.Observer
type Recorder struct{}

// ObserveStrategy counts one strategy attempt
func (Recorder) ObserveStrategy(providerID, source, outcome string, elapsed time.Duration) {
	strategyAttemptsTotal.WithLabelValues(providerID, source, outcome).Inc()
	strategyDuration.WithLabelValues(providerID, source).Observe(elapsed.Seconds())
}

// ObserveStats publishes the windows and credits of resolved providers
func ObserveStats(stats *provider.UsageStats) {
	if stats == nil {
		return
	}
	for _, r := range stats.Providers {
		for label, w := range map[string]*provider.UsageWindow{
			"primary":   r.Primary,
			"secondary": r.Secondary,
			"tertiary":  r.Tertiary,
		} {
			if w != nil && w.UsedPercent != nil {
				windowUsedPercent.WithLabelValues(r.Provider, label).Set(*w.UsedPercent)
			}
		}
		if r.CreditsRemaining != nil {
			creditsRemaining.WithLabelValues(r.Provider).Set(*r.CreditsRemaining)
		}
	}
}
