package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Lookups counts cache reads.
	// Labels: cache (extraction, embedding), backend, result (hit, miss)
	Lookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "truthd",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Total number of cache lookups by result",
		},
		[]string{"cache", "backend", "result"},
	)

	// WriteErrors counts failed advisory writes.
	WriteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "truthd",
			Subsystem: "cache",
			Name:      "write_errors_total",
			Help:      "Total number of failed cache writes",
		},
		[]string{"cache", "backend"},
	)
)

const (
	kindExtraction = "extraction"
	kindEmbedding  = "embedding"
)

func observe(kind, backend string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	Lookups.WithLabelValues(kind, backend, result).Inc()
}

func observeWrite(kind, backend string, err error) error {
	if err != nil {
		WriteErrors.WithLabelValues(kind, backend).Inc()
	}
	return err
}
