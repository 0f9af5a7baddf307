package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) SetUpRouter() *gin.Engine {
	router := gin.New()
	router.Use(RequestId())
	router.Use(Logger(s.logger))
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "ok",
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	apiV1 := router.Group("/api/v1")
	s.SetUpApiV1Router(apiV1)

	return router
}

func (s *Server) SetUpApiV1Router(apiV1 *gin.RouterGroup) {
	apiV1.GET("/batches", s.handleListBatches)

	v1Batch := apiV1.Group("/batches/:batch_id")
	v1Batch.Use(s.SetBatchToContext())
	v1Batch.GET("", s.handleGetBatch)
	v1Batch.GET("/rows", s.handleListRows)
	v1Batch.GET("/stats", s.handleBatchStats)
}
