package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	lifecycleOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "craftd",
			Subsystem: "server",
			Name:      "operations_total",
			Help:      "Lifecycle operations by server, operation and result.",
		}, []string{"server", "op", "result"},
	)
	startDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "craftd",
			Subsystem: "server",
			Name:      "start_verify_seconds",
			Help:      "Time from spawn until the server was observed running.",
			Buckets:   []float64{0.5, 1, 2, 3, 5, 8, 10, 15},
		}, []string{"server"},
	)
	jobOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "craftd",
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Jobs reaching a terminal status.",
		}, []string{"queue", "type", "status"},
	)
	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "craftd",
			Subsystem: "jobs",
			Name:      "queue_depth",
			Help:      "Jobs waiting in each queue.",
		}, []string{"queue"},
	)
	serverUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "craftd",
			Subsystem: "server",
			Name:      "up",
			Help:      "1 when the last sample considered the server up.",
		}, []string{"server"},
	)
	serverCPU = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "craftd",
			Subsystem: "server",
			Name:      "cpu_percent",
			Help:      "CPU usage of the server process over the last sample interval.",
		}, []string{"server"},
	)
	serverRSS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "craftd",
			Subsystem: "server",
			Name:      "resident_memory_bytes",
			Help:      "Resident memory of the server process.",
		}, []string{"server"},
	)
	serverPlayers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "craftd",
			Subsystem: "server",
			Name:      "players_online",
			Help:      "Players reported by the status handshake.",
		}, []string{"server"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{lifecycleOps, startDuration, jobOutcomes, queueDepth, serverUp, serverCPU, serverRSS, serverPlayers}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves the metrics of a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// The helpers below no-op until Register has succeeded.

func ObserveOperation(server, op string, err error) {
	if !regOK.Load() {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	lifecycleOps.WithLabelValues(server, op, result).Inc()
}

func ObserveStartDuration(server string, seconds float64) {
	if regOK.Load() {
		startDuration.WithLabelValues(server).Observe(seconds)
	}
}

func ObserveJob(queue, jobType, status string) {
	if regOK.Load() {
		jobOutcomes.WithLabelValues(queue, jobType, status).Inc()
	}
}

func SetQueueDepth(queue string, n int) {
	if regOK.Load() {
		queueDepth.WithLabelValues(queue).Set(float64(n))
	}
}

// SetSample publishes the latest sample of a server. cpu is nil when the
// sample had no CPU reading.
func SetSample(server string, up bool, cpu *float64, rss uint64, players int) {
	if !regOK.Load() {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	serverUp.WithLabelValues(server).Set(v)
	if cpu != nil {
		serverCPU.WithLabelValues(server).Set(*cpu)
	}
	serverRSS.WithLabelValues(server).Set(float64(rss))
	serverPlayers.WithLabelValues(server).Set(float64(players))
}
