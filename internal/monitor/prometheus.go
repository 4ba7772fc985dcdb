package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type PrometheusMonitor struct {
	executions  *prometheus.GaugeVec
	corpus      *prometheus.GaugeVec
	objectives  *prometheus.GaugeVec
	execsPerSec *prometheus.GaugeVec
	execTime    *prometheus.GaugeVec
	events      *prometheus.CounterVec
}

func NewPrometheusMonitor(reg prometheus.Registerer) (*PrometheusMonitor, error) {
	gauge := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: "corrfuzz", Name: name, Help: help}, labels)
	}
	m := &PrometheusMonitor{
		gauge("executions", "Target executions performed.", "worker"),
		gauge("corpus_size", "Testcases in the corpus.", "worker"),
		gauge("objectives", "Crashing or hanging inputs found.", "worker"),
		gauge("execs_per_second", "Average execution rate.", "worker"),
		gauge("exec_time_ms", "Execution time quantiles in milliseconds.", "worker", "quantile"),
		prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corrfuzz",
			Name:      "events_total",
			Help:      "Monitor events by kind.",
		}, []string{"worker", "event"}),
	}
	for _, c := range []prometheus.Collector{m.executions, m.corpus, m.objectives, m.execsPerSec, m.execTime, m.events} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}
	return m, nil
}

func (m *PrometheusMonitor) Display(event string, stats *ClientStats) {
	worker := strconv.Itoa(stats.Worker)
	m.executions.WithLabelValues(worker).Set(float64(stats.Executions))
	m.corpus.WithLabelValues(worker).Set(float64(stats.Corpus))
	m.objectives.WithLabelValues(worker).Set(float64(stats.Objectives))
	m.execsPerSec.WithLabelValues(worker).Set(stats.ExecsPerSec)
	m.execTime.WithLabelValues(worker, "0.5").Set(stats.ExecTimeP50)
	m.execTime.WithLabelValues(worker, "0.99").Set(stats.ExecTimeP99)
	m.events.WithLabelValues(worker, event).Inc()
}

// WorkerAddr offsets the port of addr by the worker id so that workers
// sharing one configured address do not collide.
func WorkerAddr(addr string, worker int) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("invalid metrics address %q: %w", addr, err)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return "", fmt.Errorf("invalid metrics port %q: %w", port, err)
	}
	return net.JoinHostPort(host, strconv.Itoa(p+worker)), nil
}

// ServeMetrics exposes gatherer on addr under /metrics until ctx is done.
func ServeMetrics(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	go func() {
		logger.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}
