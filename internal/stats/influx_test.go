package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"detbatch/internal/dao"
)

type fakeWriter struct {
	points []*write.Point
	err    error
}

func (w *fakeWriter) WritePoint(ctx context.Context, point ...*write.Point) error {
	if w.err != nil {
		return w.err
	}
	w.points = append(w.points, point...)
	return nil
}

func lines(points []*write.Point) []string {
	ret := make([]string, 0, len(points))
	for _, p := range points {
		ret = append(ret, write.PointToLineProtocol(p, time.Second))
	}
	return ret
}

func testRow(status dao.RowStatus) *dao.RowResult {
	return &dao.RowResult{
		BatchId:      "b1",
		Seq:          4,
		RelativePath: "cam/clip.mp4",
		Path:         "/data/cam/clip.mp4",
		Status:       status,
		StartTime:    time.Unix(1700000000, 0),
		Duration:     1500 * time.Millisecond,
		TablePath:    "pred-clip.csv",
	}
}

func TestRowPoint(t *testing.T) {
	line := write.PointToLineProtocol(RowPoint(testRow(dao.RowStatusFailed)), time.Second)
	assert.Contains(t, line, "detbatch_row,batch_id=b1,status=failed ")
	assert.Contains(t, line, "duration_ms=1500i")
	assert.Contains(t, line, `video="cam/clip.mp4"`)
	assert.Contains(t, line, " 1700000000")
}

func TestLabelPoints(t *testing.T) {
	records := []dao.DetectionRecord{
		{FrameCount: 0, Score: 0.5, Label: "person"},
		{FrameCount: 3, Score: 0.75, Label: "person"},
		{FrameCount: 3, Score: 0.5, CategoryId: 7},
		{FrameCount: 6, Score: 0.5, Label: "car"},
	}
	ls := lines(LabelPoints(testRow(dao.RowStatusSucceeded), records, time.Unix(1700000002, 0)))
	require.Len(t, ls, 3)
	assert.Contains(t, ls[0], "label=car")
	assert.Contains(t, ls[1], "label=class_7")
	assert.Contains(t, ls[2], "detbatch_detection,batch_id=b1,label=person,video=clip ")
	assert.Contains(t, ls[2], "count=2i")
	assert.Contains(t, ls[2], "max_score=0.75")
	assert.Contains(t, ls[2], "mean_score=0.625")

	assert.Empty(t, LabelPoints(testRow(dao.RowStatusSucceeded), nil, time.Now()))
}

func newTestRecorder(w *fakeWriter, records []dao.DetectionRecord) *Recorder {
	return &Recorder{
		writer: w,
		readTable: func(p string) ([]dao.DetectionRecord, error) {
			if records == nil {
				return nil, errors.New("no table")
			}
			return records, nil
		},
		logger: logrus.NewEntry(logrus.StandardLogger()),
	}
}

func TestObserveRow(t *testing.T) {
	records := []dao.DetectionRecord{{Score: 0.5, Label: "person"}}

	w := &fakeWriter{}
	newTestRecorder(w, records).ObserveRow(context.Background(), testRow(dao.RowStatusSucceeded))
	ls := lines(w.points)
	require.Len(t, ls, 2)
	assert.Contains(t, ls[0], MeasurementRow)
	assert.Contains(t, ls[1], MeasurementDetection)

	w = &fakeWriter{}
	newTestRecorder(w, records).ObserveRow(context.Background(), testRow(dao.RowStatusFailed))
	assert.Len(t, w.points, 1)

	w = &fakeWriter{}
	newTestRecorder(w, nil).ObserveRow(context.Background(), testRow(dao.RowStatusSucceeded))
	assert.Len(t, w.points, 1, "unreadable table only drops the label points")

	w = &fakeWriter{err: errors.New("influx down")}
	newTestRecorder(w, records).ObserveRow(context.Background(), testRow(dao.RowStatusSucceeded))
	assert.Empty(t, w.points)
}
