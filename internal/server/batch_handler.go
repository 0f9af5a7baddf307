package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"detbatch/internal/dao"
)

const batchKey = "batch"

type ListRequest struct {
	Start int `form:"start" binding:"gte=0"`
	Limit int `form:"limit" binding:"gte=0,lte=1000"`
}

type ListBatchesResponse struct {
	Items []*dao.BatchRun `json:"items"`
	Total int             `json:"total"`
}

type ListRowsRequest struct {
	ListRequest
	Status dao.RowStatus `form:"status" binding:"omitempty,oneof=pending running succeeded failed skipped"`
}

type ListRowsResponse struct {
	Items []*dao.RowResult `json:"items"`
	Total int              `json:"total"`
}

func (s *Server) SetBatchToContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		batchId := c.Param("batch_id")
		run, err := s.ledger.GetBatch(batchId)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
				Error: "internal server error",
			})
			return
		} else if run == nil {
			c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{
				Error: fmt.Sprintf("batch %s not found", batchId),
			})
			return
		}
		c.Set(batchKey, run)
		c.Next()
	}
}

func page[T any](items []T, start, limit int) []T {
	if limit == 0 {
		limit = 10
	}
	if start >= len(items) {
		return []T{}
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func (s *Server) handleListBatches(c *gin.Context) {
	req := &ListRequest{}
	if err := c.ShouldBindQuery(req); err != nil {
		s.writeError(c, http.StatusBadRequest, err)
		return
	}

	runs, err := s.ledger.ListBatches()
	if err != nil {
		s.writeError(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, ListBatchesResponse{
		Items: page(runs, req.Start, req.Limit),
		Total: len(runs),
	})
}

func (s *Server) handleGetBatch(c *gin.Context) {
	run := c.MustGet(batchKey).(*dao.BatchRun)
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleListRows(c *gin.Context) {
	run := c.MustGet(batchKey).(*dao.BatchRun)
	req := &ListRowsRequest{}
	if err := c.ShouldBindQuery(req); err != nil {
		s.writeError(c, http.StatusBadRequest, err)
		return
	}

	rows, err := s.ledger.GetRows(run.Id)
	if err != nil {
		s.writeError(c, http.StatusInternalServerError, err)
		return
	}
	if req.Status != "" {
		filtered := make([]*dao.RowResult, 0, len(rows))
		for _, row := range rows {
			if row.Status == req.Status {
				filtered = append(filtered, row)
			}
		}
		rows = filtered
	}

	c.JSON(http.StatusOK, ListRowsResponse{
		Items: page(rows, req.Start, req.Limit),
		Total: len(rows),
	})
}
