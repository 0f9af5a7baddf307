// Package table reads batch index tables and writes per-video detection tables.
package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"detbatch/internal/dao"
)

const RelativePathColumn = "relative_path"

var ErrMissingColumn = errors.New("missing column")

var DetectionHeader = []string{
	"frame_count", "filename", "x0", "y0", "x1", "y1", "score", "category_id", "label",
}

// WriteDetections writes records with a header row to w, in the given order.
func WriteDetections(w io.Writer, records []dao.DetectionRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(DetectionHeader); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			strconv.Itoa(r.FrameCount),
			r.Filename,
			formatFloat(r.X0),
			formatFloat(r.Y0),
			formatFloat(r.X1),
			formatFloat(r.Y1),
			formatFloat(r.Score),
			strconv.Itoa(r.CategoryId),
			r.Label,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteDetectionsFile writes the table to a temp file next to p and renames it into place.
func WriteDetectionsFile(p string, records []dao.DetectionRecord) error {
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("create table dir: %w", err)
	}
	tmpPath := p + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create table file: %w", err)
	}
	if err := WriteDetections(f, records); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write table file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close table file: %w", err)
	}
	if err := os.Rename(tmpPath, p); err != nil {
		return fmt.Errorf("rename table file: %w", err)
	}
	return nil
}

// ReadDetections parses a table produced by WriteDetections.
func ReadDetections(r io.Reader) ([]dao.DetectionRecord, error) {
	rows, columns, err := readAll(r)
	if err != nil {
		return nil, err
	}
	for _, name := range DetectionHeader {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("%w %q", ErrMissingColumn, name)
		}
	}

	records := make([]dao.DetectionRecord, 0, len(rows))
	for i, row := range rows {
		get := func(name string) string { return row[columns[name]] }
		var rec dao.DetectionRecord
		var perr error
		if rec.FrameCount, perr = strconv.Atoi(get("frame_count")); perr != nil {
			return nil, fmt.Errorf("row %d: frame_count: %w", i+1, perr)
		}
		rec.Filename = get("filename")
		for _, f := range []struct {
			name string
			dst  *float32
		}{
			{"x0", &rec.X0}, {"y0", &rec.Y0}, {"x1", &rec.X1}, {"y1", &rec.Y1}, {"score", &rec.Score},
		} {
			v, err := strconv.ParseFloat(get(f.name), 32)
			if err != nil {
				return nil, fmt.Errorf("row %d: %s: %w", i+1, f.name, err)
			}
			*f.dst = float32(v)
		}
		if rec.CategoryId, perr = strconv.Atoi(get("category_id")); perr != nil {
			return nil, fmt.Errorf("row %d: category_id: %w", i+1, perr)
		}
		rec.Label = get("label")
		records = append(records, rec)
	}
	return records, nil
}

func ReadDetectionsFile(p string) ([]dao.DetectionRecord, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadDetections(f)
}

// ReadIndex reads the batch index table. Only the relative_path column is
// required; other columns are ignored. Every data row becomes a job, including
// rows with an empty path.
func ReadIndex(r io.Reader, rootDir string) ([]dao.VideoJob, error) {
	rows, columns, err := readAll(r)
	if err != nil {
		return nil, err
	}
	col, ok := columns[RelativePathColumn]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrMissingColumn, RelativePathColumn)
	}

	jobs := make([]dao.VideoJob, 0, len(rows))
	for _, row := range rows {
		rel := ""
		if col < len(row) {
			rel = strings.TrimSpace(row[col])
		}
		jobs = append(jobs, dao.NewVideoJob(len(jobs), rootDir, rel))
	}
	return jobs, nil
}

func ReadIndexFile(p, rootDir string) ([]dao.VideoJob, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open index table: %w", err)
	}
	defer f.Close()
	return ReadIndex(f, rootDir)
}

func readAll(r io.Reader) ([][]string, map[string]int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, fmt.Errorf("%w: empty table", ErrMissingColumn)
		}
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}

	var rows [][]string
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		if len(row) < len(header) {
			padded := make([]string, len(header))
			copy(padded, row)
			row = padded
		}
		rows = append(rows, row)
	}
	return rows, columns, nil
}

func formatFloat(v float32) string {
	return strconv.FormatFloat(float64(v), 'f', -1, 32)
}
