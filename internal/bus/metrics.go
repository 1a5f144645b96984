package bus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	published = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "regwatchd_bus_published_total",
		Help: "Messages published per topic.",
	}, []string{"topic"})

	publishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "regwatchd_bus_publish_failures_total",
		Help: "Publish attempts that failed per topic.",
	}, []string{"topic"})

	delivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "regwatchd_bus_delivered_total",
		Help: "Messages handled without error per topic.",
	}, []string{"topic"})

	handlerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "regwatchd_bus_handler_failures_total",
		Help: "Handler errors and panics per topic.",
	}, []string{"topic"})
)
