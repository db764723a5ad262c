// Package metrics provides Prometheus instrumentation for the key lifecycle
// stages and the HTTP server that exposes it.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Namespace prefixes every metric exported by the agent.
	Namespace = "sea"

	LabelStage  = "stage"
	LabelStatus = "status"
	LabelSlot   = "slot"

	StatusSuccess   = "success"
	StatusParameter = "parameter_error"
	StatusError     = "error"
)

var (
	// StageTotal counts key lifecycle stage executions by outcome.
	StageTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "stage_total",
			Help:      "Total number of key lifecycle stage executions by stage and status",
		},
		[]string{LabelStage, LabelStatus},
	)

	// StageDuration tracks how long each stage spends in the crypto provider.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of key lifecycle stages in seconds",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{LabelStage},
	)

	// KeysDestroyed counts native keys destroyed per virtual slot.
	KeysDestroyed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "keys_destroyed_total",
			Help:      "Total number of native keys destroyed by virtual key slot",
		},
		[]string{LabelSlot},
	)
)

// RecordStage records the outcome and duration of one stage execution.
func RecordStage(stage, status string, elapsed time.Duration) {
	StageTotal.WithLabelValues(stage, status).Inc()
	StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// RecordKeyDestroyed increments the destroyed key counter for a slot.
func RecordKeyDestroyed(slot string) {
	KeysDestroyed.WithLabelValues(slot).Inc()
}

// MetricsServer serves the default Prometheus registry on /metrics.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server for listenAddr. Besides the default registry it
// exposes a <namespace>_build_info gauge carrying the agent version.
func New(namespace, listenAddr string) (*MetricsServer, error) {
	return NewWithVersion(namespace, listenAddr, "")
}

func NewWithVersion(namespace, listenAddr, version string) (*MetricsServer, error) {
	reg := prometheus.NewRegistry()
	buildInfo := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "build_info",
		Help:        "Build information of the running agent",
		ConstLabels: prometheus.Labels{"version": version},
	})
	if err := reg.Register(buildInfo); err != nil {
		return nil, err
	}
	buildInfo.Set(1)

	gatherers := prometheus.Gatherers{prometheus.DefaultGatherer, reg}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}))

	return &MetricsServer{
		srv: &http.Server{
			Addr:              listenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Handler returns the HTTP handler serving /metrics.
func (m *MetricsServer) Handler() http.Handler {
	return m.srv.Handler
}

func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
