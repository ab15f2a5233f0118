package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StatementsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pgops_statements_total",
		Help: "Total number of SQL statements executed through the handle",
	})

	ScriptRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pgops_script_runs_total",
		Help: "Total number of SQL script files executed",
	})

	ViewRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pgops_view_refreshes_total",
		Help: "Total number of materialized view refreshes",
	}, []string{"view"})

	ReadinessAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pgops_readiness_attempts_total",
		Help: "Total number of server readiness probe attempts",
	}, []string{"result"})
)
