// Package metrics exports sync engine observations to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"boneguide-go/internal/guide"
)

// Recorder implements guide.Metrics on its own registry so that several
// recorders can coexist in one process.
type Recorder struct {
	registry *prometheus.Registry

	phase              *prometheus.GaugeVec
	phaseTransitions   *prometheus.CounterVec
	versionChecks      *prometheus.CounterVec
	replications       *prometheus.CounterVec
	replicationSeconds prometheus.Histogram
	nodesWritten       prometheus.Counter
	nodesFailed        prometheus.Counter
	imagesDownloaded   prometheus.Counter
	imagesFailed       prometheus.Counter
}

var phases = []guide.Phase{
	guide.PhaseInit,
	guide.PhaseChecking,
	guide.PhaseUpToDate,
	guide.PhaseNeedsDownload,
	guide.PhaseDownloadFailed,
	guide.PhaseNeverSyncedOffline,
	guide.PhaseStaleOffline,
}

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		phase: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "boneguide_sync_phase",
			Help: "1 for the current sync phase of the selected hospital, 0 otherwise",
		}, []string{"phase"}),
		phaseTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "boneguide_sync_phase_transitions_total",
			Help: "Published status transitions by phase",
		}, []string{"phase"}),
		versionChecks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "boneguide_version_checks_total",
			Help: "Remote version checks by outcome",
		}, []string{"outcome"}),
		replications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "boneguide_replications_total",
			Help: "Hospital replications by outcome",
		}, []string{"outcome"}),
		replicationSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "boneguide_replication_duration_seconds",
			Help:    "Time spent replicating one hospital",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		nodesWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "boneguide_nodes_written_total",
			Help: "Guide nodes written to the local mirror",
		}),
		nodesFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "boneguide_nodes_failed_total",
			Help: "Guide nodes skipped because they could not be written",
		}),
		imagesDownloaded: f.NewCounter(prometheus.CounterOpts{
			Name: "boneguide_images_downloaded_total",
			Help: "Images stored locally",
		}),
		imagesFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "boneguide_images_failed_total",
			Help: "Images left pointing at their remote URL",
		}),
	}
}

func (r *Recorder) ObservePhase(hospitalID int64, phase guide.Phase) {
	for _, p := range phases {
		v := 0.0
		if p == phase {
			v = 1
		}
		r.phase.WithLabelValues(p.String()).Set(v)
	}
	r.phaseTransitions.WithLabelValues(phase.String()).Inc()
}

func (r *Recorder) ObserveVersionCheck(outcome string) {
	r.versionChecks.WithLabelValues(outcome).Inc()
}

func (r *Recorder) ObserveReplication(outcome string, elapsed time.Duration, nodesWritten, nodesFailed int) {
	r.replications.WithLabelValues(outcome).Inc()
	r.replicationSeconds.Observe(elapsed.Seconds())
	r.nodesWritten.Add(float64(nodesWritten))
	r.nodesFailed.Add(float64(nodesFailed))
}

func (r *Recorder) ObserveImages(downloaded, failed int) {
	r.imagesDownloaded.Add(float64(downloaded))
	r.imagesFailed.Add(float64(failed))
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the recorder's metrics in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Compile-time check that Recorder implements guide.Metrics.
var _ guide.Metrics = (*Recorder)(nil)
