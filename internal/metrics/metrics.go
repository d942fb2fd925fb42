// Package metrics exposes Prometheus counters and gauges for the
// ticketing workflow. All collectors are registered on the default
// registry and served from /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticketsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "walkin",
		Name:      "tickets_issued_total",
		Help:      "Tickets issued, labelled by client type.",
	}, []string{"client_type"})

	ticketsCalled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "walkin",
		Name:      "tickets_called_total",
		Help:      "Tickets dispatched to a window, labelled by client type.",
	}, []string{"client_type"})

	ticketActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "walkin",
		Name:      "ticket_actions_total",
		Help:      "Lifecycle actions applied to tickets.",
	}, []string{"action"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "walkin",
		Name:      "queue_depth",
		Help:      "Waiting tickets observed at the last overview read.",
	})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "walkin",
		Name:      "http_requests_total",
		Help:      "HTTP requests served, labelled by path and status class.",
	}, []string{"path", "status"})
)

func TicketIssued(clientType string) {
	ticketsIssued.WithLabelValues(clientType).Inc()
}

func TicketCalled(clientType string) {
	ticketsCalled.WithLabelValues(clientType).Inc()
}

func TicketAction(action string) {
	ticketActions.WithLabelValues(action).Inc()
}

func SetQueueDepth(depth int) {
	queueDepth.Set(float64(depth))
}

func HTTPRequest(path, statusClass string) {
	httpRequests.WithLabelValues(path, statusClass).Inc()
}
