package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"detbatch/internal/dao"
)

type BatchStatsResponse struct {
	BatchId string           `json:"batchId"`
	Start   string           `json:"start"`
	End     string           `json:"end"`
	Labels  []dao.LabelCount `json:"labels"`
}

// handleBatchStats returns the detections of a batch counted per label,
// from its start to its finish, or to now while it runs.
func (s *Server) handleBatchStats(c *gin.Context) {
	if s.stats == nil {
		s.writeError(c, http.StatusBadRequest, fmt.Errorf("influxdb not enabled"))
		return
	}

	run := c.MustGet(batchKey).(*dao.BatchRun)
	end := time.Now().UTC()
	if run.FinishTime != nil {
		end = run.FinishTime.UTC()
	}

	labels, err := s.stats.LabelCounts(c.Request.Context(), run.Id, run.StartTime, end)
	if err != nil {
		s.writeError(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, BatchStatsResponse{
		BatchId: run.Id,
		Start:   run.StartTime.UTC().Format(time.RFC3339),
		End:     end.Format(time.RFC3339),
		Labels:  labels,
	})
}
