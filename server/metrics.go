package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gin-gonic/gin"
)

// Metrics holds the service's prometheus collectors on a private registry.
type Metrics struct {
	Registry       *prometheus.Registry
	Authentication *prometheus.CounterVec
	Authorization  *prometheus.CounterVec
	Logins         *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Authentication: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "access",
			Name:      "authentication_total",
			Help:      "Bearer token authentications by result.",
		}, []string{"result"}),
		Authorization: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "access",
			Name:      "authorization_total",
			Help:      "Permission checks at the gate by module and decision.",
		}, []string{"module", "decision"}),
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "access",
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
	}
	m.Registry.MustRegister(
		m.Authentication,
		m.Authorization,
		m.Logins,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}
