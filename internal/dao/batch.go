package dao

import (
	"path/filepath"
	"time"
)

// VideoJob is one row of the batch index table.
type VideoJob struct {
	Seq          int    `json:"seq"`
	RelativePath string `json:"relativePath"`
	Path         string `json:"path"`
}

// NewVideoJob resolves relativePath against rootDir. An empty relativePath
// gives a job with an empty Path.
func NewVideoJob(seq int, rootDir, relativePath string) VideoJob {
	if relativePath == "" {
		return VideoJob{Seq: seq}
	}
	p := relativePath
	if !filepath.IsAbs(p) {
		p = filepath.Join(rootDir, relativePath)
	}
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return VideoJob{
		Seq:          seq,
		RelativePath: relativePath,
		Path:         p,
	}
}

type RowStatus string

const (
	RowStatusPending   RowStatus = "pending"
	RowStatusRunning   RowStatus = "running"
	RowStatusSucceeded RowStatus = "succeeded"
	RowStatusFailed    RowStatus = "failed"
	RowStatusSkipped   RowStatus = "skipped"
)

type BatchStatus string

const (
	BatchStatusRunning  BatchStatus = "running"
	BatchStatusFinished BatchStatus = "finished"
	BatchStatusAborted  BatchStatus = "aborted"
)

type BatchRun struct {
	Id         string      `json:"id"`
	IndexFile  string      `json:"indexFile"`
	RootDir    string      `json:"rootDir"`
	ResumeOf   string      `json:"resumeOf,omitempty"`
	Status     BatchStatus `json:"status"`
	StartTime  time.Time   `json:"startTime"`
	FinishTime *time.Time  `json:"finishTime,omitempty"`
	Total      int         `json:"total"`
	Succeeded  int         `json:"succeeded"`
	Failed     int         `json:"failed"`
	Skipped    int         `json:"skipped"`
}

// Count folds a finished row into the batch totals.
func (b *BatchRun) Count(status RowStatus) {
	switch status {
	case RowStatusSucceeded:
		b.Succeeded++
	case RowStatusFailed:
		b.Failed++
	case RowStatusSkipped:
		b.Skipped++
	}
}

type RowResult struct {
	BatchId      string        `json:"batchId"`
	Seq          int           `json:"seq"`
	RelativePath string        `json:"relativePath"`
	Path         string        `json:"path"`
	Status       RowStatus     `json:"status"`
	ExitCode     int           `json:"exitCode"`
	Error        string        `json:"error,omitempty"`
	PublishError string        `json:"publishError,omitempty"`
	StartTime    time.Time     `json:"startTime"`
	Duration     time.Duration `json:"duration"`
	OutputPath   string        `json:"outputPath,omitempty"`
	TablePath    string        `json:"tablePath,omitempty"`
}

// LabelCount is the number of kept detections of one label.
type LabelCount struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}
