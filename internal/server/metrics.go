package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	messages    *prometheus.CounterVec
	rateLimited prometheus.Counter
	clients     prometheus.GaugeFunc
}

func newMetrics(reg prometheus.Registerer, clients func() float64) *metrics {
	m := &metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chativa",
			Subsystem: "server",
			Name:      "messages_total",
			Help:      "Messages handled by the sandbox server.",
		}, []string{"from"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chativa",
			Subsystem: "server",
			Name:      "rate_limited_total",
			Help:      "Send requests rejected by the rate limiter.",
		}),
		clients: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "chativa",
			Subsystem: "server",
			Name:      "stream_clients",
			Help:      "Connected event stream clients.",
		}, clients),
	}
	reg.MustRegister(m.messages, m.rateLimited, m.clients)
	return m
}
