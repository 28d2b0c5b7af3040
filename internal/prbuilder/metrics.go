package prbuilder

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var buildsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "truthd",
		Subsystem: "pipeline",
		Name:      "pr_builds_total",
		Help:      "Knowledge PR builds by result",
	},
	[]string{"result"},
)

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
