// Package stats writes batch outcomes and detection counts to InfluxDB and
// queries them back.
package stats

import (
	"context"
	"fmt"
	"sort"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"

	"detbatch/internal/config"
	"detbatch/internal/dao"
	"detbatch/internal/table"
)

const (
	MeasurementRow       = "detbatch_row"
	MeasurementDetection = "detbatch_detection"
)

type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

type Recorder struct {
	client    influxdb2.Client
	writer    pointWriter
	query     api.QueryAPI
	bucket    string
	readTable func(p string) ([]dao.DetectionRecord, error)
	logger    *logrus.Entry
}

func NewRecorder(conf config.InfluxDBConfig, logger *logrus.Entry) *Recorder {
	client := influxdb2.NewClient(conf.URL, conf.Token)
	return &Recorder{
		client:    client,
		writer:    client.WriteAPIBlocking(conf.Org, conf.Bucket),
		query:     client.QueryAPI(conf.Org),
		bucket:    conf.Bucket,
		readTable: table.ReadDetectionsFile,
		logger:    logger,
	}
}

func (r *Recorder) Close() {
	if r.client != nil {
		r.client.Close()
	}
}

func RowPoint(row *dao.RowResult) *write.Point {
	return influxdb2.NewPoint(MeasurementRow,
		map[string]string{
			"batch_id": row.BatchId,
			"status":   string(row.Status),
		},
		map[string]interface{}{
			"video":       row.RelativePath,
			"seq":         row.Seq,
			"exit_code":   row.ExitCode,
			"duration_ms": row.Duration.Milliseconds(),
			"count":       1,
		},
		row.StartTime)
}

// LabelPoints aggregates records per label, one point per label at ts.
func LabelPoints(row *dao.RowResult, records []dao.DetectionRecord, ts time.Time) []*write.Point {
	type agg struct {
		count int64
		sum   float64
		max   float64
	}
	byLabel := map[string]*agg{}
	for _, rec := range records {
		label := rec.Label
		if label == "" {
			label = fmt.Sprintf("class_%d", rec.CategoryId)
		}
		a, ok := byLabel[label]
		if !ok {
			a = &agg{}
			byLabel[label] = a
		}
		a.count++
		a.sum += float64(rec.Score)
		if float64(rec.Score) > a.max {
			a.max = float64(rec.Score)
		}
	}

	labels := make([]string, 0, len(byLabel))
	for label := range byLabel {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	points := make([]*write.Point, 0, len(labels))
	for _, label := range labels {
		a := byLabel[label]
		points = append(points, influxdb2.NewPoint(MeasurementDetection,
			map[string]string{
				"batch_id": row.BatchId,
				"video":    dao.Stem(row.Path),
				"label":    label,
			},
			map[string]interface{}{
				"count":      a.count,
				"mean_score": a.sum / float64(a.count),
				"max_score":  a.max,
			},
			ts))
	}
	return points
}

// ObserveRow records the row outcome and, for a succeeded row, the label
// counts of its detection table. Failures are logged only.
func (r *Recorder) ObserveRow(ctx context.Context, row *dao.RowResult) {
	logger := r.logger.WithField("seq", row.Seq)
	if err := r.writer.WritePoint(ctx, RowPoint(row)); err != nil {
		logger.WithError(err).Warn("write row point to influxdb")
		return
	}
	if row.Status != dao.RowStatusSucceeded || row.TablePath == "" {
		return
	}

	records, err := r.readTable(row.TablePath)
	if err != nil {
		logger.WithError(err).Warn("read detection table for stats")
		return
	}
	points := LabelPoints(row, records, row.StartTime.Add(row.Duration))
	if len(points) == 0 {
		return
	}
	if err := r.writer.WritePoint(ctx, points...); err != nil {
		logger.WithError(err).Warn("write detection points to influxdb")
	}
}

// LabelCounts sums the detections of a batch per label between start and end.
func (r *Recorder) LabelCounts(ctx context.Context, batchId string, start, end time.Time) ([]dao.LabelCount, error) {
	flux := fmt.Sprintf(
		`from(bucket: "%s")
      |> range(start: time(v: "%s"), stop: time(v: "%s"))
      |> filter(fn: (r) => r["_measurement"] == "%s")
      |> filter(fn: (r) => r["batch_id"] == "%s")
      |> filter(fn: (r) => r["_field"] == "count")
      |> group(columns: ["label"])
      |> sum()`,
		r.bucket,
		start.UTC().Format(time.RFC3339),
		end.UTC().Add(time.Second).Format(time.RFC3339),
		MeasurementDetection,
		batchId,
	)

	res, err := r.query.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("query label counts: %w", err)
	}
	defer res.Close()

	items := make([]dao.LabelCount, 0, 16)
	for res.Next() {
		rec := res.Record()
		label, _ := rec.ValueByKey("label").(string)
		items = append(items, dao.LabelCount{Label: label, Count: toInt64(rec.Value())})
	}
	if res.Err() != nil {
		return nil, fmt.Errorf("query label counts result error: %w", res.Err())
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].Count > items[j].Count
	})
	return items, nil
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case uint64:
		return int64(t)
	case float64:
		return int64(t)
	case int:
		return int64(t)
	default:
		return 0
	}
}
