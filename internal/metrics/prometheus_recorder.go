package metrics

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	observations     *prom.CounterVec
	storeLive        prom.Gauge
	frameSize        prom.Histogram
	frameResults     *prom.CounterVec
	recordsRelayed   prom.Counter
	sweepReclaimed   prom.Counter
	healthResets     prom.Counter
	activeBroadcasts prom.Gauge
}

// NewPrometheusRecorder constructs and registers relay metrics on the given
// registry. A nil registry gets a fresh one.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}

	pr := &PrometheusRecorder{
		observations: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "brc",
			Name:      "observations_total",
			Help:      "Ingested advertisements by outcome",
		}, []string{"outcome"}),
		storeLive: prom.NewGauge(prom.GaugeOpts{
			Namespace: "brc",
			Name:      "store_live_entries",
			Help:      "Live entries in the observation store",
		}),
		frameSize: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "brc",
			Name:      "frame_size_bytes",
			Help:      "Size of dispatched relay frames",
			Buckets:   prom.LinearBuckets(5, 24, 9),
		}),
		frameResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "brc",
			Name:      "frame_results_total",
			Help:      "Dispatch attempts by result",
		}, []string{"result"}),
		recordsRelayed: prom.NewCounter(prom.CounterOpts{
			Namespace: "brc",
			Name:      "records_relayed_total",
			Help:      "Observation records packed into dispatched frames",
		}),
		sweepReclaimed: prom.NewCounter(prom.CounterOpts{
			Namespace: "brc",
			Name:      "sweep_reclaimed_total",
			Help:      "Entries reclaimed by the eviction sweeper",
		}),
		healthResets: prom.NewCounter(prom.CounterOpts{
			Namespace: "brc",
			Name:      "health_resets_total",
			Help:      "Full medium resets triggered by the recovery watchdog",
		}),
		activeBroadcasts: prom.NewGauge(prom.GaugeOpts{
			Namespace: "brc",
			Name:      "active_broadcast_sets",
			Help:      "Advertising sets currently broadcasting",
		}),
	}

	reg.MustRegister(
		pr.observations, pr.storeLive, pr.frameSize, pr.frameResults,
		pr.recordsRelayed, pr.sweepReclaimed, pr.healthResets, pr.activeBroadcasts,
	)
	return pr
}

func (p *PrometheusRecorder) IncObservation(outcome Outcome) {
	p.observations.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) SetStoreLive(n int) {
	p.storeLive.Set(float64(n))
}

func (p *PrometheusRecorder) ObserveFrameSize(bytes int) {
	p.frameSize.Observe(float64(bytes))
}

func (p *PrometheusRecorder) IncFrameResult(result string) {
	p.frameResults.WithLabelValues(result).Inc()
}

func (p *PrometheusRecorder) AddRecordsRelayed(n int) {
	p.recordsRelayed.Add(float64(n))
}

func (p *PrometheusRecorder) AddSweepReclaimed(n int) {
	p.sweepReclaimed.Add(float64(n))
}

func (p *PrometheusRecorder) IncHealthReset() {
	p.healthResets.Inc()
}

func (p *PrometheusRecorder) SetActiveBroadcasts(n int) {
	p.activeBroadcasts.Set(float64(n))
}

// HTTPHandler returns an http.Handler serving the registry in the Prometheus
// exposition format.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
