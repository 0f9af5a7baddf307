package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"detbatch/internal/dao"
)

func TestCollectorObserveRow(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())
	ctx := context.Background()

	c.ObserveRow(ctx, &dao.RowResult{Status: dao.RowStatusSucceeded})
	c.ObserveRow(ctx, &dao.RowResult{Status: dao.RowStatusSucceeded, PublishError: "nsq down"})
	c.ObserveRow(ctx, &dao.RowResult{Status: dao.RowStatusFailed})
	c.ObserveRow(ctx, &dao.RowResult{Status: dao.RowStatusSkipped})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.RowsTotal.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.RowsTotal.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.RowsTotal.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.PublishErrors))
}
