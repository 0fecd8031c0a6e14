package metrics

import (
	grpcprometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Registry = prometheus.NewRegistry()

	// GRPCClientMetrics instruments the sdk's tablet-node connections.
	GRPCClientMetrics = grpcprometheus.NewClientMetrics(
		func(c *prometheus.CounterOpts) {
			c.Namespace = "Tera"
		},
	)
)

func init() {
	Registry.MustRegister(
		GRPCClientMetrics,
	)
}

// NewCounter registers a namespaced counter.
func NewCounter(subsystem, name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "Tera",
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
	Registry.MustRegister(c)
	return c
}

// NewGaugeVec registers a namespaced gauge vector.
func NewGaugeVec(subsystem, name, help string, labels ...string) *prometheus.GaugeVec {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "Tera",
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
	Registry.MustRegister(g)
	return g
}
