package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"detbatch/internal/dao"
)

type memLedger struct {
	runs []*dao.BatchRun
	rows map[string][]*dao.RowResult
	err  error
}

func (m *memLedger) GetBatch(id string) (*dao.BatchRun, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, run := range m.runs {
		if run.Id == id {
			return run, nil
		}
	}
	return nil, nil
}

func (m *memLedger) ListBatches() ([]*dao.BatchRun, error) {
	return m.runs, m.err
}

func (m *memLedger) GetRows(batchId string) ([]*dao.RowResult, error) {
	return m.rows[batchId], m.err
}

func newTestLedger() *memLedger {
	now := time.Now()
	ledger := &memLedger{rows: map[string][]*dao.RowResult{}}
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("b%d", i)
		ledger.runs = append(ledger.runs, &dao.BatchRun{
			Id:        id,
			Status:    dao.BatchStatusFinished,
			StartTime: now.Add(-time.Duration(i) * time.Hour),
			Total:     2,
		})
		ledger.rows[id] = []*dao.RowResult{
			{BatchId: id, Seq: 0, RelativePath: "a.mp4", Status: dao.RowStatusSucceeded},
			{BatchId: id, Seq: 1, RelativePath: "b.mp4", Status: dao.RowStatusFailed, ExitCode: 1},
		}
	}
	return ledger
}

func doGet(t *testing.T, s *Server, url string, v any) *httptest.ResponseRecorder {
	router := s.SetUpRouter()
	w := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	router.ServeHTTP(w, req)
	if v != nil {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
	}
	return w
}

func TestHealthz(t *testing.T) {
	s := NewServer(context.Background(), ":0", newTestLedger())
	w := doGet(t, s, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(httpXRequestId))
}

func TestListBatches(t *testing.T) {
	s := NewServer(context.Background(), ":0", newTestLedger())

	resp := ListBatchesResponse{}
	w := doGet(t, s, "/api/v1/batches", &resp)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, resp.Total)
	require.Len(t, resp.Items, 3)
	assert.Equal(t, "b0", resp.Items[0].Id)

	resp = ListBatchesResponse{}
	doGet(t, s, "/api/v1/batches?start=1&limit=1", &resp)
	assert.Equal(t, 3, resp.Total)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "b1", resp.Items[0].Id)

	resp = ListBatchesResponse{}
	doGet(t, s, "/api/v1/batches?start=10", &resp)
	assert.Empty(t, resp.Items)

	w = doGet(t, s, "/api/v1/batches?start=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetBatch(t *testing.T) {
	s := NewServer(context.Background(), ":0", newTestLedger())

	run := dao.BatchRun{}
	w := doGet(t, s, "/api/v1/batches/b1", &run)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "b1", run.Id)
	assert.Equal(t, dao.BatchStatusFinished, run.Status)

	errResp := ErrorResponse{}
	w = doGet(t, s, "/api/v1/batches/missing", &errResp)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, errResp.Error, "missing")
}

func TestListRows(t *testing.T) {
	s := NewServer(context.Background(), ":0", newTestLedger())

	resp := ListRowsResponse{}
	w := doGet(t, s, "/api/v1/batches/b0/rows", &resp)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, resp.Total)

	resp = ListRowsResponse{}
	doGet(t, s, "/api/v1/batches/b0/rows?status=failed", &resp)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "b.mp4", resp.Items[0].RelativePath)
	assert.Equal(t, 1, resp.Items[0].ExitCode)

	w = doGet(t, s, "/api/v1/batches/b0/rows?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLedgerError(t *testing.T) {
	ledger := newTestLedger()
	ledger.err = errors.New("db closed")
	s := NewServer(context.Background(), ":0", ledger)

	w := doGet(t, s, "/api/v1/batches", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	w = doGet(t, s, "/api/v1/batches/b0", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestUnknownRoute(t *testing.T) {
	s := NewServer(context.Background(), ":0", newTestLedger())
	w := doGet(t, s, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type fakeStats struct {
	batchId string
	err     error
}

func (f *fakeStats) LabelCounts(ctx context.Context, batchId string, start, end time.Time) ([]dao.LabelCount, error) {
	f.batchId = batchId
	if f.err != nil {
		return nil, f.err
	}
	return []dao.LabelCount{{Label: "person", Count: 12}, {Label: "car", Count: 3}}, nil
}

func TestBatchStats(t *testing.T) {
	s := NewServer(context.Background(), ":0", newTestLedger())

	w := doGet(t, s, "/api/v1/batches/b0/stats", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	stats := &fakeStats{}
	s.SetStats(stats)
	resp := BatchStatsResponse{}
	w = doGet(t, s, "/api/v1/batches/b0/stats", &resp)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "b0", stats.batchId)
	assert.Equal(t, "b0", resp.BatchId)
	require.Len(t, resp.Labels, 2)
	assert.Equal(t, int64(12), resp.Labels[0].Count)

	stats.err = errors.New("influx down")
	w = doGet(t, s, "/api/v1/batches/b0/stats", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := NewServer(context.Background(), ":0", newTestLedger())
	w := doGet(t, s, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func freeAddr(t *testing.T) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func startServer(s *Server) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Start()
	}()
	return errCh
}

func TestShutdownBeforeStart(t *testing.T) {
	s := NewServer(context.Background(), freeAddr(t), newTestLedger())
	require.NoError(t, s.Shutdown(context.Background()))

	select {
	case err := <-startServer(s):
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start kept serving after Shutdown")
	}
}

func TestShutdownRightAfterStart(t *testing.T) {
	addr := freeAddr(t)
	s := NewServer(context.Background(), addr, newTestLedger())
	errCh := startServer(s)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start kept serving after Shutdown")
	}
	_, err := http.Get("http://" + addr + "/healthz")
	assert.Error(t, err)
}

func TestShutdownWhileServing(t *testing.T) {
	addr := freeAddr(t)
	s := NewServer(context.Background(), addr, newTestLedger())
	errCh := startServer(s)

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, s.Shutdown(context.Background()))
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Shutdown")
	}
}
