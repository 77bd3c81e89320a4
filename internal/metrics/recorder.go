// Package metrics exposes Prometheus instrumentation for store queries,
// chunk fetches and reassembly.
package metrics

import (
	"net/http"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels.
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
)

// Recorder implements the engine's metric hooks using Prometheus collectors.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	once             sync.Once
	reg              *prom.Registry
	queryResults     *prom.CounterVec
	queryDuration    *prom.HistogramVec
	fetchResults     *prom.CounterVec
	retries          *prom.CounterVec
	reassembled      *prom.CounterVec
	reassembledBytes prom.Counter
	selections       *prom.CounterVec
	backendUp        *prom.GaugeVec
}

// NewRecorder constructs and registers collectors on reg (a fresh registry when nil).
func NewRecorder(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	r := &Recorder{reg: reg}
	r.once.Do(func() {
		r.queryResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "scivault",
			Name:      "store_query_results_total",
			Help:      "Tag queries by storage-format version and outcome",
		}, []string{"version", "result"})
		r.queryDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "scivault",
			Name:      "store_query_duration_seconds",
			Help:      "Duration of tag queries including retries",
			Buckets:   prom.DefBuckets,
		}, []string{"version"})
		r.fetchResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "scivault",
			Name:      "chunk_fetch_results_total",
			Help:      "Chunk byte fetches by outcome",
		}, []string{"result"})
		r.retries = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "scivault",
			Name:      "retries_total",
			Help:      "Retried attempts by operation",
		}, []string{"operation"})
		r.reassembled = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "scivault",
			Name:      "reassembly_results_total",
			Help:      "Document reassemblies by outcome",
		}, []string{"result"})
		r.reassembledBytes = prom.NewCounter(prom.CounterOpts{
			Namespace: "scivault",
			Name:      "reassembled_bytes_total",
			Help:      "Bytes delivered by successful reassemblies",
		})
		r.selections = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "scivault",
			Name:      "chunk_selections_total",
			Help:      "Chunk group selections by kind (complete, best_effort, empty)",
		}, []string{"kind"})
		r.backendUp = prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "scivault",
			Name:      "backend_up",
			Help:      "1 when the storage backend was reachable on the last query",
		}, []string{"backend"})
		reg.MustRegister(r.queryResults, r.queryDuration, r.fetchResults, r.retries,
			r.reassembled, r.reassembledBytes, r.selections, r.backendUp)
	})
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil || r.reg == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ObserveQuery records one executed query.
func (r *Recorder) ObserveQuery(version string, d time.Duration, ok bool) {
	if r == nil || r.queryResults == nil {
		return
	}
	r.queryResults.WithLabelValues(version, result(ok)).Inc()
	r.queryDuration.WithLabelValues(version).Observe(d.Seconds())
}

// IncFetch records one chunk fetch outcome.
func (r *Recorder) IncFetch(ok bool) {
	if r == nil || r.fetchResults == nil {
		return
	}
	r.fetchResults.WithLabelValues(result(ok)).Inc()
}

// IncRetry records a retried attempt of operation.
func (r *Recorder) IncRetry(operation string) {
	if r == nil || r.retries == nil {
		return
	}
	r.retries.WithLabelValues(operation).Inc()
}

// ObserveReassembly records a reassembly outcome and its size.
func (r *Recorder) ObserveReassembly(size int, ok bool) {
	if r == nil || r.reassembled == nil {
		return
	}
	r.reassembled.WithLabelValues(result(ok)).Inc()
	if ok {
		r.reassembledBytes.Add(float64(size))
	}
}

// IncSelection records which selection variant was produced.
func (r *Recorder) IncSelection(kind string) {
	if r == nil || r.selections == nil {
		return
	}
	r.selections.WithLabelValues(kind).Inc()
}

// SetBackendUp sets the reachability gauge for backend.
func (r *Recorder) SetBackendUp(backend string, up bool) {
	if r == nil || r.backendUp == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	r.backendUp.WithLabelValues(backend).Set(v)
}

func result(ok bool) string {
	if ok {
		return ResultSuccess
	}
	return ResultFailed
}
