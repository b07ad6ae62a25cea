// Package metrics exposes relay counters and gauges in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"net/http"
	hpprof "net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"notifyrelay/internal/notify"
	logx "notifyrelay/pkg/logx"
)

const namespace = "notifyrelay"

type Metrics struct {
	reg *prometheus.Registry

	attempts       *prometheus.CounterVec
	attemptLatency *prometheus.HistogramVec
	outcomes       *prometheus.CounterVec
	digests        *prometheus.CounterVec
	digestSize     prometheus.Histogram
	requests       *prometheus.CounterVec
	intake         *prometheus.CounterVec
}

// New registers every collector on a fresh registry (plus Go and process collectors).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_attempts_total",
			Help:      "Provider send attempts by channel and result.",
		}, []string{"channel", "result"}),
		attemptLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "channel_attempt_seconds",
			Help:      "Provider send attempt latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unit_outcomes_total",
			Help:      "Per (contact, channel) outcomes by status and regulation.",
		}, []string{"channel", "status", "regulation"}),
		digests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "digests_emitted_total",
			Help:      "Consolidated digests emitted, by result.",
		}, []string{"result"}),
		digestSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "digest_units",
			Help:      "Units consolidated per digest.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 1000},
		}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Notify requests by result.",
		}, []string{"result"}),
		intake: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intake_messages_total",
			Help:      "Queue messages consumed, by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveAttempt implements channel.Observer.
func (m *Metrics) ObserveAttempt(ch notify.Channel, err error, took time.Duration) {
	m.attempts.WithLabelValues(string(ch), result(err)).Inc()
	m.attemptLatency.WithLabelValues(string(ch)).Observe(took.Seconds())
}

func (m *Metrics) ObserveOutcome(o notify.Outcome) {
	m.outcomes.WithLabelValues(string(o.Channel), string(o.Status), o.Regulation.String()).Inc()
}

func (m *Metrics) ObserveDigest(total int, err error) {
	m.digests.WithLabelValues(result(err)).Inc()
	m.digestSize.Observe(float64(total))
}

// ObserveRequest classifies a Notify result.
func (m *Metrics) ObserveRequest(err error) {
	label := "ok"
	switch {
	case err == nil:
	case errors.Is(err, notify.ErrInvalidRequest):
		label = "invalid"
	case errors.Is(err, notify.ErrNotFound):
		label = "not_found"
	case errors.Is(err, notify.ErrDeliveryFailed):
		label = "failed"
	default:
		label = "error"
	}
	m.requests.WithLabelValues(label).Inc()
}

func (m *Metrics) ObserveIntake(label string) { m.intake.WithLabelValues(label).Inc() }

// Gauge registers a callback gauge, e.g. open digest buckets.
func (m *Metrics) Gauge(name, help string, fn func() float64) {
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, fn)
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Mux routes /metrics and /healthz, plus /debug/pprof/ when withPprof is set.
func (m *Metrics) Mux(withPprof bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if withPprof {
		mux.HandleFunc("/debug/pprof/", hpprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)
	}
	return mux
}

// Serve runs the HTTP endpoint until ctx ends.
func (m *Metrics) Serve(ctx context.Context, addr string, withPprof bool, log logx.Logger) error {
	srv := &http.Server{Addr: addr, Handler: m.Mux(withPprof), ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info("metrics listening", logx.String("addr", addr), logx.Bool("pprof", withPprof))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	}
}
