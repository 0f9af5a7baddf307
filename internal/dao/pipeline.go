package dao

import (
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultStride         = 3
	DefaultScoreThreshold = 0.3
	DefaultWaitTime       = 1.0
	DefaultDevice         = "cuda:0"
	DefaultOutputPath     = "pred-output/movie/pred-{stem}.mp4"
	DefaultTablePath      = "pred-output/csv/pred-{stem}.csv"

	// UnboundedFrameCount disables the frame index cap.
	UnboundedFrameCount = -1

	stemPlaceholder = "{stem}"
)

var ErrNoOutput = errors.New(`please specify at least one operation (save/show the video) with the argument "--out" or "--show"`)

var validate = validator.New()

// PipelineConfig holds the settings of one single-video run.
type PipelineConfig struct {
	Device         string  `json:"device" validate:"required"`
	ScoreThreshold float32 `json:"scoreThreshold" validate:"gte=0,lte=1"`
	OutputPath     string  `json:"outputPath,omitempty"`
	Show           bool    `json:"show"`
	Stride         int     `json:"stride" validate:"gt=0"`
	WaitTime       float64 `json:"waitTime" validate:"gte=0"`
	MaxFrameCount  int     `json:"maxFrameCount" validate:"gte=-1"`
	TablePath      string  `json:"tablePath" validate:"required"`
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Device:         DefaultDevice,
		ScoreThreshold: DefaultScoreThreshold,
		Stride:         DefaultStride,
		WaitTime:       DefaultWaitTime,
		MaxFrameCount:  UnboundedFrameCount,
		TablePath:      DefaultTablePath,
	}
}

func (c PipelineConfig) Validate() error {
	if c.OutputPath == "" && !c.Show {
		return ErrNoOutput
	}
	return validate.Struct(c)
}

// Bounded reports whether frames past MaxFrameCount must be dropped.
func (c PipelineConfig) Bounded() bool {
	return c.MaxFrameCount >= 0
}

// Sampled reports whether the detector runs on frame index i.
func (c PipelineConfig) Sampled(i int) bool {
	return i%c.Stride == 0
}

// WaitDuration converts WaitTime to the delay used by the display. Zero blocks.
func (c PipelineConfig) WaitDuration() time.Duration {
	return time.Duration(c.WaitTime * float64(time.Second))
}

// ForVideo resolves the {stem} placeholders of the output and table paths.
func (c PipelineConfig) ForVideo(videoPath string) PipelineConfig {
	stem := Stem(videoPath)
	c.OutputPath = strings.ReplaceAll(c.OutputPath, stemPlaceholder, stem)
	c.TablePath = strings.ReplaceAll(c.TablePath, stemPlaceholder, stem)
	return c
}

// StemFromPath inverts a {stem} template on the file name of p. It matches
// the base names only, so a table moved to another directory still resolves.
func StemFromPath(template, p string) (string, bool) {
	prefix, suffix, ok := strings.Cut(filepath.Base(template), stemPlaceholder)
	if !ok {
		return "", false
	}
	base := filepath.Base(p)
	if len(base) <= len(prefix)+len(suffix) || !strings.HasPrefix(base, prefix) || !strings.HasSuffix(base, suffix) {
		return "", false
	}
	return base[len(prefix) : len(base)-len(suffix)], true
}

// Stem returns the file name of p without directory and final extension.
func Stem(p string) string {
	base := filepath.Base(p)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
