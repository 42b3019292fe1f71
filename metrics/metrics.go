// Package metrics holds the provisioning counters and the server exposing them.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ruteri/tba-provisioner/common"
	"github.com/ruteri/tba-provisioner/interfaces"
)

// Registry collects every metric of the process. It is separate from the
// prometheus default registry so tests and embedders see only ours.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Outcome labels.
const (
	OutcomeCreated  = "created"
	OutcomeExisting = "existing"
	OutcomeDeployed = "deployed"
	OutcomeReused   = "reused"
	OutcomeCached   = "cached"
)

// Throughput
var (
	AccountsEnsured = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: common.PackageName,
			Name:      "accounts_ensured_total",
			Help:      "Accounts ensured, by whether this call created them",
		},
		[]string{"outcome"},
	)

	ImplementationsProvisioned = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: common.PackageName,
			Name:      "implementations_provisioned_total",
			Help:      "Implementations provisioned, by source",
		},
		[]string{"outcome"},
	)

	Failures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: common.PackageName,
			Name:      "failures_total",
			Help:      "Failed operations by operation and error kind",
		},
		[]string{"op", "kind"},
	)
)

// Latency
var (
	OperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: common.PackageName,
			Name:      "operation_duration_seconds",
			Help:      "Time taken by provisioning operations including receipt waits",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"op"},
	)
)

// State
var (
	BuildInfo = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: common.PackageName,
			Name:      "build_info",
			Help:      "Always 1, labelled with the running version",
		},
		[]string{"version"},
	)
)

// RecordAccount counts an ensured account.
func RecordAccount(record *interfaces.TbaRecord) {
	if record.Created {
		AccountsEnsured.WithLabelValues(OutcomeCreated).Inc()
		return
	}
	AccountsEnsured.WithLabelValues(OutcomeExisting).Inc()
}

// RecordFailure counts err under op, labelled with its error kind.
func RecordFailure(op string, err error) {
	Failures.WithLabelValues(op, interfaces.ErrorKind(err)).Inc()
}

// ObserveDuration records the time elapsed since start for op.
func ObserveDuration(op string, start time.Time) {
	OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
