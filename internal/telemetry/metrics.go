package telemetry

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	DispatchCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "printq_dispatch_cycles_total",
		Help: "Dispatcher cycles by outcome (idle, printed, failed, error, panic)",
	}, []string{"outcome"})
	DispatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "printq_dispatch_cycle_seconds",
		Help:    "Duration of dispatcher cycles that claimed a job",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	})
	QueueDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "printq_queue_depth",
		Help: "Live queue entries (pending and in progress)",
	})
	EnqueueCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "printq_enqueue_total",
		Help: "Enqueue attempts by outcome",
	}, []string{"outcome"})
	RefundCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "printq_terminations_total",
		Help: "Terminations by refund outcome (none, local, gateway, failed, aborted)",
	}, []string{"outcome"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "printq_rate_limit_rejects_total",
		Help: "Submissions rejected by the rate limiter",
	})
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "printq_http_requests_total",
		Help: "HTTP requests by route and status code",
	}, []string{"method", "route", "status"})
)

// Register adds the collectors to the default registry once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			DispatchCycles,
			DispatchDuration,
			QueueDepthGauge,
			EnqueueCounter,
			RefundCounter,
			RateLimitRejects,
			HTTPRequests,
		)
	})
}

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}

// Metrics feeds queue engine events into the collectors above.
type Metrics struct{}

func NewMetrics() *Metrics {
	Register()
	return &Metrics{}
}

func (*Metrics) ObserveCycle(outcome string, d time.Duration) {
	DispatchCycles.WithLabelValues(outcome).Inc()
	if outcome != "idle" {
		DispatchDuration.Observe(d.Seconds())
	}
}

func (*Metrics) SetQueueDepth(n int) {
	QueueDepthGauge.Set(float64(n))
}

func (*Metrics) IncRefund(outcome string) {
	RefundCounter.WithLabelValues(outcome).Inc()
}

func (*Metrics) IncEnqueue(outcome string) {
	EnqueueCounter.WithLabelValues(outcome).Inc()
}
