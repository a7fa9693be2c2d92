package controller

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

const metricsNamespace = "ddns_helper"

var (
	registerOnce sync.Once

	passesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "passes_total",
			Help:      "Reconciliation passes by result.",
		},
		[]string{"result"},
	)
	passDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "pass_duration_seconds",
			Help:      "Reconciliation pass duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	actionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "record_actions_total",
			Help:      "Address record actions applied, by action and outcome.",
		},
		[]string{"action", "success"},
	)
	ownedDomains = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "owned_domains",
			Help:      "Domains owned by this tenant after the last pass.",
		},
	)
	lastSuccess = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful pass.",
		},
	)
)

// RegisterMetrics adds the helper's collectors to the controller-runtime
// metrics registry.
func RegisterMetrics() {
	registerOnce.Do(func() {
		ctrlmetrics.Registry.MustRegister(passesTotal, passDuration, actionsTotal, ownedDomains, lastSuccess)
	})
}

func observePass(res Result, err error, d time.Duration) {
	switch {
	case res.Skipped:
		passesTotal.WithLabelValues("skipped").Inc()
		return
	case err != nil:
		passesTotal.WithLabelValues("error").Inc()
	default:
		passesTotal.WithLabelValues("success").Inc()
		lastSuccess.SetToCurrentTime()
	}
	passDuration.Observe(d.Seconds())
}

func observeAction(action string, err error) {
	actionsTotal.WithLabelValues(action, strconv.FormatBool(err == nil)).Inc()
}
