// Package batch fans the single-video pipeline out over the rows of an
// index table.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"detbatch/internal/dao"
)

// ErrEmptyPath marks an index row whose relative_path is blank.
var ErrEmptyPath = errors.New("empty video path")

type Ledger interface {
	PutBatch(run *dao.BatchRun) error
	PutRow(row *dao.RowResult) error
	SucceededRows(batchId string) (map[string]bool, error)
}

type Publisher interface {
	Publish(ctx context.Context, row *dao.RowResult) error
}

// Observer is told about every row that reached a final status.
type Observer interface {
	ObserveRow(ctx context.Context, row *dao.RowResult)
}

type Options struct {
	IndexFile string
	RootDir   string
	// Workers above 1 runs rows concurrently; dispatch stays in table order.
	Workers   int
	ResumeOf  string
	DryRun    bool
	ListFiles bool
	// OutputPath and TablePath are the {stem} templates handed to each row.
	OutputPath string
	TablePath  string
	// Stdout receives each row's relative path, in table order, before the
	// row is processed. Only the dispatching goroutine writes to it.
	Stdout io.Writer
}

type Driver struct {
	runner    Runner
	ledger    Ledger
	publisher Publisher
	observers []Observer
	opts      Options
	logger    *logrus.Entry

	mu  sync.Mutex
	run *dao.BatchRun
}

// NewDriver builds a driver. ledger and publisher may be nil.
func NewDriver(runner Runner, ledger Ledger, publisher Publisher, opts Options, logger *logrus.Entry) *Driver {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Driver{
		runner:    runner,
		ledger:    ledger,
		publisher: publisher,
		opts:      opts,
		logger:    logger,
	}
}

func (d *Driver) AddObserver(o Observer) {
	d.observers = append(d.observers, o)
}

// Run processes every job and returns the batch summary. A failing row never
// stops the batch; only cancellation of ctx does.
func (d *Driver) Run(ctx context.Context, jobs []dao.VideoJob) (*dao.BatchRun, error) {
	run := &dao.BatchRun{
		Id:        uuid.New().String(),
		IndexFile: d.opts.IndexFile,
		RootDir:   d.opts.RootDir,
		ResumeOf:  d.opts.ResumeOf,
		Status:    dao.BatchStatusRunning,
		StartTime: time.Now(),
		Total:     len(jobs),
	}
	d.run = run
	logger := d.logger.WithField("batch", run.Id)

	done := map[string]bool{}
	if d.opts.ResumeOf != "" && d.ledger != nil {
		var err error
		done, err = d.ledger.SucceededRows(d.opts.ResumeOf)
		if err != nil {
			return nil, fmt.Errorf("load rows of batch %s: %w", d.opts.ResumeOf, err)
		}
		logger.Infof("resuming batch %s, %d rows already done", d.opts.ResumeOf, len(done))
	}

	if err := d.putBatch(); err != nil {
		return nil, err
	}
	logger.Infof("batch started: %d rows, %d workers", len(jobs), d.opts.Workers)

	if d.opts.Workers == 1 {
		for _, job := range jobs {
			if ctx.Err() != nil {
				break
			}
			d.announce(job)
			d.process(ctx, logger, job, done[job.RelativePath])
		}
	} else {
		d.runPool(ctx, logger, jobs, done)
	}

	d.mu.Lock()
	finish := time.Now()
	run.FinishTime = &finish
	if ctx.Err() != nil {
		run.Status = dao.BatchStatusAborted
	} else {
		run.Status = dao.BatchStatusFinished
	}
	d.mu.Unlock()
	if err := d.putBatch(); err != nil {
		logger.WithError(err).Error("save batch summary")
	}

	logger.WithFields(logrus.Fields{
		"total":     run.Total,
		"succeeded": run.Succeeded,
		"failed":    run.Failed,
		"skipped":   run.Skipped,
		"elapsed":   finish.Sub(run.StartTime).Round(time.Millisecond),
	}).Infof("batch %s", run.Status)

	if ctx.Err() != nil {
		return run, ctx.Err()
	}
	return run, nil
}

func (d *Driver) runPool(ctx context.Context, logger *logrus.Entry, jobs []dao.VideoJob, done map[string]bool) {
	jobCh := make(chan dao.VideoJob)
	wg := &sync.WaitGroup{}
	for i := 0; i < d.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				d.process(ctx, logger, job, done[job.RelativePath])
			}
		}()
	}

dispatch:
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		d.announce(job)
		select {
		case <-ctx.Done():
			break dispatch
		case jobCh <- job:
		}
	}
	close(jobCh)
	wg.Wait()
}

func (d *Driver) announce(job dao.VideoJob) {
	fmt.Fprintln(d.opts.Stdout, job.RelativePath)
}

func (d *Driver) process(ctx context.Context, logger *logrus.Entry, job dao.VideoJob, alreadyDone bool) {
	row := &dao.RowResult{
		BatchId:      d.run.Id,
		Seq:          job.Seq,
		RelativePath: job.RelativePath,
		Path:         job.Path,
		Status:       dao.RowStatusRunning,
		StartTime:    time.Now(),
	}
	logger = logger.WithFields(logrus.Fields{"seq": job.Seq, "video": job.RelativePath})

	if job.Path == "" {
		logger.Warn("index row has no relative_path")
		if d.opts.DryRun {
			return
		}
		row.Status = dao.RowStatusFailed
		row.ExitCode = -1
		row.Error = ErrEmptyPath.Error()
		d.finish(ctx, logger, row)
		return
	}

	paths := dao.PipelineConfig{OutputPath: d.opts.OutputPath, TablePath: d.opts.TablePath}.ForVideo(job.Path)
	row.OutputPath = paths.OutputPath
	row.TablePath = paths.TablePath

	if alreadyDone {
		logger.Info("already processed, skipped")
		row.Status = dao.RowStatusSkipped
		d.finish(ctx, logger, row)
		return
	}

	if d.opts.ListFiles {
		listFile(logger, job.Path)
	}

	if d.opts.DryRun {
		return
	}

	d.putRow(logger, row)

	exitCode, err := d.runner.Run(ctx, job)
	row.Duration = time.Since(row.StartTime)
	row.ExitCode = exitCode
	if err != nil {
		row.Status = dao.RowStatusFailed
		row.Error = err.Error()
		logger.WithError(err).Errorf("pipeline failed with exit code %d", exitCode)
	} else {
		row.Status = dao.RowStatusSucceeded
		logger.Infof("pipeline finished in %v", row.Duration.Round(time.Millisecond))
		if d.publisher != nil {
			if perr := d.publisher.Publish(ctx, row); perr != nil {
				row.PublishError = perr.Error()
				logger.WithError(perr).Error("publish outputs failed")
			}
		}
	}
	d.finish(ctx, logger, row)
}

func (d *Driver) finish(ctx context.Context, logger *logrus.Entry, row *dao.RowResult) {
	d.putRow(logger, row)
	if !d.opts.DryRun {
		for _, o := range d.observers {
			o.ObserveRow(ctx, row)
		}
	}
	d.mu.Lock()
	d.run.Count(row.Status)
	d.mu.Unlock()
	if err := d.putBatch(); err != nil {
		logger.WithError(err).Error("save batch progress")
	}
}

func (d *Driver) putRow(logger *logrus.Entry, row *dao.RowResult) {
	if d.ledger == nil || d.opts.DryRun {
		return
	}
	if err := d.ledger.PutRow(row); err != nil {
		logger.WithError(err).Error("save row result")
	}
}

func (d *Driver) putBatch() error {
	if d.ledger == nil || d.opts.DryRun {
		return nil
	}
	d.mu.Lock()
	snapshot := *d.run
	d.mu.Unlock()
	return d.ledger.PutBatch(&snapshot)
}

// listFile logs the file's mode, size and modification time, like `ls -o`.
func listFile(logger *logrus.Entry, p string) {
	info, err := os.Stat(p)
	if err != nil {
		logger.WithError(err).Warn("list file")
		return
	}
	logger.Infof("%s %d %s %s", info.Mode(), info.Size(), info.ModTime().Format("2006-01-02 15:04"), p)
}
