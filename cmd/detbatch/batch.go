package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"detbatch/internal/batch"
	"detbatch/internal/config"
	"detbatch/internal/dao"
	"detbatch/internal/metrics"
	"detbatch/internal/publish"
	"detbatch/internal/server"
	"detbatch/internal/stats"
	"detbatch/internal/store"
	"detbatch/internal/table"
	"detbatch/pkg/log"
)

const resumeLast = "last"

var (
	rootDir     string
	workers     int
	resumeOf    string
	dryRun      bool
	failOnError bool
	statusAddr  string
	listFiles   bool
)

var batchCmd = &cobra.Command{
	Use:   "batch <index.csv>",
	Short: "Run the video pipeline for every row of an index table",
	Long: `Read the relative_path column of the index table and run
"detbatch video" once per row, in table order, as a separate process.
A failing row is recorded and the batch moves on.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runBatch(cmd, args[0]); err != nil {
			logrus.WithError(err).Fatal("batch failed")
		}
	},
}

func ledgerDir(conf *config.Config) string {
	return path.Join(conf.DataDir(), "ledger")
}

func runBatch(cmd *cobra.Command, indexFile string) error {
	conf, err := loadConfig()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("root") {
		conf.Batch.RootDir = rootDir
	}
	if flags.Changed("workers") {
		conf.Batch.Workers = workers
	}
	if flags.Changed("ls") {
		conf.Batch.ListFiles = listFiles
	}
	if flags.Changed("status-addr") {
		conf.Status.Addr = statusAddr
	}
	if err := conf.Validate(); err != nil {
		return err
	}
	if conf.Batch.RootDir == "" {
		conf.Batch.RootDir = filepath.Dir(indexFile)
	}

	runner, err := newProcessRunner(conf)
	if err != nil {
		return err
	}

	jobs, err := table.ReadIndexFile(indexFile, conf.Batch.RootDir)
	if err != nil {
		return err
	}

	ledger, err := store.NewLedger(ledgerDir(conf), logrus.WithField("component", "ledger"))
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer ledger.Close()

	if resumeOf == resumeLast {
		resumeOf, err = ledger.LastBatchId()
		if err != nil {
			return err
		}
		if resumeOf == "" {
			return errors.New("no previous batch to resume")
		}
	}

	var pub batch.Publisher
	if conf.Publish.Enabled && !dryRun {
		p, err := publish.NewPublisher(conf.Publish, logrus.WithField("component", "publisher"))
		if err != nil {
			return fmt.Errorf("init publisher: %w", err)
		}
		defer p.Close()
		pub = p
	}

	var recorder *stats.Recorder
	if conf.InfluxDB.Enabled && !dryRun {
		recorder = stats.NewRecorder(conf.InfluxDB, logrus.WithField("component", "stats"))
		defer recorder.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if conf.Status.Addr != "" {
		srv := server.NewServer(ctx, conf.Status.Addr, ledger)
		if recorder != nil {
			srv.SetStats(recorder)
		}
		go func() {
			if err := srv.Start(); err != nil {
				logrus.WithError(err).Error("status server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logrus.WithError(err).Error("shutdown status server")
			}
		}()
	}

	driver := batch.NewDriver(runner, ledger, pub, batch.Options{
		IndexFile:  indexFile,
		RootDir:    conf.Batch.RootDir,
		Workers:    conf.Batch.Workers,
		ResumeOf:   resumeOf,
		DryRun:     dryRun,
		ListFiles:  conf.Batch.ListFiles,
		OutputPath: conf.Output.VideoPath,
		TablePath:  conf.Output.TablePath,
		Stdout:     os.Stdout,
	}, logrus.WithField("component", "batch"))
	driver.AddObserver(metrics.NewCollector(prometheus.DefaultRegisterer))
	if recorder != nil {
		driver.AddObserver(recorder)
	}

	run, err := driver.Run(ctx, jobs)
	if err != nil {
		return err
	}
	log.GetLogger(log.WithBatchId(ctx, run.Id)).Infof("%d/%d rows succeeded", run.Succeeded, run.Total)
	if failOnError && run.Failed > 0 {
		return fmt.Errorf("%d rows failed", run.Failed)
	}
	return nil
}

// newProcessRunner builds the child command line from the fixed model
// arguments of the config. Children never show frames, so an output video
// path is required.
func newProcessRunner(conf *config.Config) (*batch.ProcessRunner, error) {
	if conf.Output.VideoPath == "" {
		return nil, fmt.Errorf("output.videoPath is empty: %w", dao.ErrNoOutput)
	}
	executable := conf.Batch.Executable
	if executable == "" {
		var err error
		executable, err = os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
	}

	det := conf.Detector
	flags := []string{
		"--table", conf.Output.TablePath,
		"--out", conf.Output.VideoPath,
		"--device", det.Device,
		"--score-thr", strconv.FormatFloat(float64(det.ScoreThreshold), 'f', -1, 32),
		"--stride", strconv.Itoa(det.Stride),
		"--backend", det.Backend,
		"--log-level", logLevel,
	}
	if det.LabelsFile != "" {
		flags = append(flags, "--labels", det.LabelsFile)
	}
	if rootCmd.PersistentFlags().Changed("config") {
		flags = append(flags, "--config", configFile)
	}

	return &batch.ProcessRunner{
		Executable: executable,
		Prefix:     []string{"video"},
		Fixed:      []string{det.ModelConfig, det.Checkpoint},
		Flags:      flags,
		Timeout:    time.Duration(conf.Batch.RowTimeout) * time.Second,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		Logger:     logrus.WithField("component", "runner"),
	}, nil
}

func init() {
	batchCmd.Flags().StringVar(&rootDir, "root", "", "Directory the relative paths are resolved against (default: the index file's directory)")
	batchCmd.Flags().IntVar(&workers, "workers", 1, "Number of videos processed at once")
	batchCmd.Flags().StringVar(&resumeOf, "resume", "", `Skip rows that succeeded in this batch id ("last" for the most recent batch)`)
	batchCmd.Flags().BoolVar(&dryRun, "dry-run", false, "List the rows without running them")
	batchCmd.Flags().BoolVar(&failOnError, "fail-on-error", false, "Exit non-zero when any row failed")
	batchCmd.Flags().StringVar(&statusAddr, "status-addr", "", "Serve batch status over HTTP on this address while running")
	batchCmd.Flags().BoolVar(&listFiles, "ls", true, "Log size, mode and modification time of each video")
}
