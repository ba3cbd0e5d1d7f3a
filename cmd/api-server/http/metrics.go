package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	eventsReceivedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "covey_events_received_total",
		Help: "Repository events received, by event type.",
	}, []string{"type"})

	runsQueuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "covey_runs_queued_total",
		Help: "Workflow run requests placed on the queue.",
	})
)

func init() {
	registry.MustRegister(eventsReceivedTotal, runsQueuedTotal)
}

func metricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
