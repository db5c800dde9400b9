// Package metrics exposes build and rebuild counters for prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bundle outcomes for a rebuild.
const (
	BundleRebuilt  = "rebuilt"
	BundleRetained = "retained"
	BundleCarried  = "carried"
	BundleDropped  = "dropped"
)

// Recorder groups the collectors. A nil *Recorder records nothing, so callers
// never need to check whether metrics are enabled.
type Recorder struct {
	contractsBuilt  prometheus.Counter
	filesSkipped    *prometheus.CounterVec
	falsePositives  prometheus.Counter
	bundles         *prometheus.CounterVec
	rebuildDuration prometheus.Histogram
	rebuilds        *prometheus.CounterVec
}

// NewRecorder registers the collectors on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		contractsBuilt: f.NewCounter(prometheus.CounterOpts{
			Name: "ctxpack_contracts_built_total",
			Help: "Contracts built from source",
		}),
		filesSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ctxpack_files_skipped_total",
			Help: "Files skipped by reason",
		}, []string{"reason"}),
		falsePositives: f.NewCounter(prometheus.CounterOpts{
			Name: "ctxpack_false_positive_changes_total",
			Help: "Change notifications whose file hash did not move",
		}),
		bundles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ctxpack_bundles_total",
			Help: "Bundles handled by incremental rebuilds, by outcome",
		}, []string{"outcome"}),
		rebuildDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ctxpack_rebuild_duration_seconds",
			Help:    "Incremental rebuild duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		}),
		rebuilds: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ctxpack_rebuilds_total",
			Help: "Incremental rebuilds by result",
		}, []string{"result"}),
	}
}

func (r *Recorder) ContractBuilt() {
	if r == nil {
		return
	}
	r.contractsBuilt.Inc()
}

func (r *Recorder) FileSkipped(reason string) {
	if r == nil {
		return
	}
	r.filesSkipped.WithLabelValues(reason).Inc()
}

func (r *Recorder) FalsePositive() {
	if r == nil {
		return
	}
	r.falsePositives.Inc()
}

func (r *Recorder) Bundles(outcome string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.bundles.WithLabelValues(outcome).Add(float64(n))
}

// ObserveRebuild records one rebuild. result is "ok", "error" or "cancelled".
func (r *Recorder) ObserveRebuild(result string, d time.Duration) {
	if r == nil {
		return
	}
	r.rebuilds.WithLabelValues(result).Inc()
	r.rebuildDuration.Observe(d.Seconds())
}
