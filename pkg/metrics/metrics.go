package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

var Module = fx.Module("metrics",
	fx.Provide(ProvideRegistry, New, Handler),
)

// Metrics holds the pipeline's prometheus collectors.
type Metrics struct {
	EventsVerified   *prometheus.CounterVec
	AuthFailures     prometheus.Counter
	DuplicateHits    *prometheus.CounterVec
	StageFailures    *prometheus.CounterVec
	AssetsProcessed  *prometheus.CounterVec
	RunDuration      *prometheus.HistogramVec
	BackgroundActive prometheus.Gauge
}

func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		EventsVerified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_events_verified_total",
			Help: "Total number of payment events that passed signature verification",
		}, []string{"mode"}),
		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payment_events_auth_failures_total",
			Help: "Total number of payment events rejected by signature verification",
		}),
		DuplicateHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fulfillment_duplicate_hits_total",
			Help: "Total number of runs skipped because the session was already recorded",
		}, []string{"source"}),
		StageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fulfillment_stage_failures_total",
			Help: "Total number of failed fulfillment stages",
		}, []string{"stage"}),
		AssetsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_assets_processed_total",
			Help: "Total number of media assets processed, by asset key and outcome",
		}, []string{"asset", "outcome"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fulfillment_run_duration_seconds",
			Help:    "Duration of fulfillment runs",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind", "final_state"}),
		BackgroundActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fulfillment_background_tasks",
			Help: "Number of fulfillment runs still executing after their request returned",
		}),
	}

	reg.MustRegister(
		m.EventsVerified,
		m.AuthFailures,
		m.DuplicateHits,
		m.StageFailures,
		m.AssetsProcessed,
		m.RunDuration,
		m.BackgroundActive,
	)
	return m
}

// NewNop returns collectors bound to a throwaway registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
