package client

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zmyer/tera/metrics"
)

// Per-table sdk counters, the prometheus rendering of the perf-counter log
// the original client dumped periodically.
var (
	mutateCommitCount  = newPerfCounter("mutate_commit_total", "mutation rpc batches issued")
	mutateRetryCount   = newPerfCounter("mutate_retry_total", "mutation retries")
	mutateTimeoutCount = newPerfCounter("mutate_timeout_total", "mutations finished by deadline")
	readCommitCount    = newPerfCounter("read_commit_total", "reader rpc batches issued")
	readRetryCount     = newPerfCounter("read_retry_total", "reader retries")
	readTimeoutCount   = newPerfCounter("read_timeout_total", "readers finished by deadline")
	metaScanCount      = newPerfCounter("meta_scan_total", "meta table scans issued")
	metaStaleCount     = newPerfCounter("meta_scan_stale_total", "meta scans flagged stale")
)

func newPerfCounter(name, help string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "Tera",
		Subsystem: "sdk",
		Name:      name,
		Help:      help,
	}, []string{"table"})
	metrics.Registry.MustRegister(c)
	return c
}
