// Package server exposes the batch ledger over HTTP while a batch runs.
package server

import (
	"context"
	goerrors "errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"detbatch/internal/dao"
	"detbatch/pkg/log"
)

const httpXRequestId = "X-Request-Id"

type Ledger interface {
	GetBatch(id string) (*dao.BatchRun, error)
	ListBatches() ([]*dao.BatchRun, error)
	GetRows(batchId string) ([]*dao.RowResult, error)
}

// Stats answers per-label detection counts of a batch.
type Stats interface {
	LabelCounts(ctx context.Context, batchId string, start, end time.Time) ([]dao.LabelCount, error)
}

type Server struct {
	addr       string
	ledger     Ledger
	stats      Stats
	httpServer *http.Server
	logger     *logrus.Entry
}

// NewServer builds the server and its router. Call SetStats before Start.
func NewServer(ctx context.Context, addr string, ledger Ledger) *Server {
	s := &Server{
		addr:   addr,
		ledger: ledger,
		logger: log.GetLogger(ctx),
	}
	gin.SetMode(gin.ReleaseMode)
	router := s.SetUpRouter()
	pprof.Register(router)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: router,
	}
	return s
}

func (s *Server) SetStats(stats Stats) {
	s.stats = stats
}

func RequestId() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestId := c.GetHeader(httpXRequestId)
		if requestId == "" {
			requestId = strings.ReplaceAll(uuid.New().String(), "-", "")
		}
		c.Set(log.CtxRequestId, requestId)
		c.Header(httpXRequestId, requestId)
		c.Next()
	}
}

func Logger(logger *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		t := time.Now()
		c.Next()
		latency := time.Since(t)
		status := c.Writer.Status()

		logger.WithField(log.CtxRequestId, c.GetString(log.CtxRequestId)).Info("ip: ", c.ClientIP(),
			" method: ", c.Request.Method, " path: ", c.Request.URL.Path, " status: ", status, " latency: ", latency)
	}
}

// Start serves until Shutdown is called. It returns nil at once when Shutdown
// ran first.
func (s *Server) Start() error {
	s.logger.Infof("start status server on %s", s.addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && !goerrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(c *gin.Context, code int, err error) {
	c.JSON(code, ErrorResponse{
		Error: err.Error(),
	})
}
