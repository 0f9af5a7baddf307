// Package metrics exports batch progress as Prometheus collectors.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"detbatch/internal/dao"
)

type Collector struct {
	RowsTotal     *prometheus.CounterVec
	RowDuration   prometheus.Histogram
	PublishErrors prometheus.Counter
}

func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		RowsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "detbatch_rows_total",
			Help: "Total number of index rows handled, by status",
		}, []string{"status"}),
		RowDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "detbatch_row_duration_seconds",
			Help:    "Duration of the video pipeline process of one row",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		PublishErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "detbatch_publish_errors_total",
			Help: "Total number of rows whose outputs could not be published",
		}),
	}
}

func (c *Collector) ObserveRow(_ context.Context, row *dao.RowResult) {
	c.RowsTotal.WithLabelValues(string(row.Status)).Inc()
	if row.Status == dao.RowStatusSkipped {
		return
	}
	c.RowDuration.Observe(row.Duration.Seconds())
	if row.PublishError != "" {
		c.PublishErrors.Inc()
	}
}
