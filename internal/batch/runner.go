package batch

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"

	"detbatch/internal/dao"
)

// Runner processes one video. A non-zero exit code comes with a non-nil error.
type Runner interface {
	Run(ctx context.Context, job dao.VideoJob) (int, error)
}

// ProcessRunner runs the single-video pipeline as a child process:
// <Executable> <Prefix...> <video path> <Fixed...> <Flags...>
type ProcessRunner struct {
	Executable string
	Prefix     []string
	Fixed      []string
	Flags      []string
	Timeout    time.Duration
	Stdout     io.Writer
	Stderr     io.Writer
	Logger     *logrus.Entry
}

func (r *ProcessRunner) Args(job dao.VideoJob) []string {
	args := make([]string, 0, len(r.Prefix)+1+len(r.Fixed)+len(r.Flags))
	args = append(args, r.Prefix...)
	args = append(args, job.Path)
	args = append(args, r.Fixed...)
	args = append(args, r.Flags...)
	return args
}

func (r *ProcessRunner) Run(ctx context.Context, job dao.VideoJob) (int, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	args := r.Args(job)
	cmd := exec.CommandContext(ctx, r.Executable, args...)
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	logger := r.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	logger.WithFields(logrus.Fields{
		"seq":  job.Seq,
		"args": args,
	}).Debug("starting pipeline process")

	if err := cmd.Start(); err != nil {
		return -1, err
	}
	logger.WithField("pid", cmd.Process.Pid).Debug("pipeline process started")

	err := cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), err
	}
	return -1, err
}
