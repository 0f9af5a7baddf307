// Package pipeline runs the per-video sample, detect, filter, accumulate and
// render loop.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"detbatch/internal/dao"
	"detbatch/internal/table"
)

const progressEvery = 30

type VideoProps struct {
	FPS        float64 `json:"fps"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FrameCount int     `json:"frameCount"`
}

// Source is a forward-only frame reader. Read returns false at end of stream.
type Source interface {
	Props() VideoProps
	Read(frame *gocv.Mat) bool
	Close() error
}

type Detector interface {
	Detect(ctx context.Context, frame gocv.Mat) ([]dao.Box, error)
	Close() error
}

// Annotator returns a new Mat owned by the caller.
type Annotator interface {
	Annotate(frame gocv.Mat, boxes []dao.Box) gocv.Mat
}

type Sink interface {
	Write(frame gocv.Mat) error
	Close() error
}

// SinkOpener opens a sink at path with the source's frame rate and size.
type SinkOpener func(path string, props VideoProps) (Sink, error)

type Display interface {
	Show(frame gocv.Mat, wait time.Duration)
	Close() error
}

type Deps struct {
	Source    Source
	Detector  Detector
	Annotator Annotator
	// OpenSink is required when the config has an output path.
	OpenSink SinkOpener
	// Display is required when the config enables show.
	Display Display
}

type Result struct {
	Props         VideoProps            `json:"props"`
	FramesRead    int                   `json:"framesRead"`
	FramesSampled int                   `json:"framesSampled"`
	FramesWritten int                   `json:"framesWritten"`
	Records       []dao.DetectionRecord `json:"-"`
	TablePath     string                `json:"tablePath"`
	OutputPath    string                `json:"outputPath,omitempty"`
}

type Pipeline struct {
	deps   Deps
	conf   dao.PipelineConfig
	stem   string
	logger *logrus.Entry
}

// New checks conf and deps. Paths in conf must already be resolved for the video.
func New(deps Deps, conf dao.PipelineConfig, videoPath string, logger *logrus.Entry) (*Pipeline, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if deps.Source == nil || deps.Detector == nil || deps.Annotator == nil {
		return nil, errors.New("pipeline needs a source, a detector and an annotator")
	}
	if conf.OutputPath != "" && deps.OpenSink == nil {
		return nil, errors.New("output path set but no sink opener")
	}
	if conf.Show && deps.Display == nil {
		return nil, errors.New("show enabled but no display")
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	stem := dao.Stem(videoPath)
	return &Pipeline{
		deps:   deps,
		conf:   conf,
		stem:   stem,
		logger: logger.WithField("video", stem),
	}, nil
}

// Run drives the loop to the end of the source and writes the detection
// table. The source and detector stay owned by the caller.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	props := p.deps.Source.Props()
	p.logger.Infof("Video properties: %dx%d @ %.2f FPS, %d frames", props.Width, props.Height, props.FPS, props.FrameCount)

	res := &Result{
		Props:      props,
		TablePath:  p.conf.TablePath,
		OutputPath: p.conf.OutputPath,
	}

	var sink Sink
	display := p.deps.Display
	if p.conf.OutputPath != "" {
		var err error
		sink, err = p.deps.OpenSink(p.conf.OutputPath, props)
		if err != nil {
			return nil, fmt.Errorf("open output video: %w", err)
		}
	}
	defer func() {
		if sink != nil {
			sink.Close()
		}
		if display != nil {
			display.Close()
		}
	}()

	if err := p.loop(ctx, sink, res); err != nil {
		return nil, err
	}

	if sink != nil {
		err := sink.Close()
		sink = nil
		if err != nil {
			return nil, fmt.Errorf("release output video: %w", err)
		}
	}
	if display != nil {
		display.Close()
		display = nil
	}

	if err := table.WriteDetectionsFile(p.conf.TablePath, res.Records); err != nil {
		return nil, err
	}
	p.logger.WithFields(logrus.Fields{
		"framesRead":    res.FramesRead,
		"framesSampled": res.FramesSampled,
		"framesWritten": res.FramesWritten,
		"records":       len(res.Records),
	}).Infof("detection table written to %s", p.conf.TablePath)
	return res, nil
}

func (p *Pipeline) loop(ctx context.Context, sink Sink, res *Result) error {
	frame := gocv.NewMat()
	defer frame.Close()

	totalInferenceTime := time.Duration(0)
	wait := p.conf.WaitDuration()

	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if p.conf.Bounded() && i > p.conf.MaxFrameCount {
			break
		}
		if ok := p.deps.Source.Read(&frame); !ok {
			break
		}
		res.FramesRead++
		p.logger.Debugf("frame_count %d", i)

		if !p.conf.Sampled(i) {
			continue
		}
		if frame.Empty() {
			p.logger.Warnf("frame %d is empty, skipped", i)
			continue
		}
		res.FramesSampled++

		start := time.Now()
		boxes, err := p.deps.Detector.Detect(ctx, frame)
		if err != nil {
			return fmt.Errorf("detect frame %d: %w", i, err)
		}
		totalInferenceTime += time.Since(start)

		kept := dao.FilterByScore(boxes, p.conf.ScoreThreshold)
		for _, box := range kept {
			res.Records = append(res.Records, dao.NewDetectionRecord(i, p.stem, box))
		}

		annotated := p.deps.Annotator.Annotate(frame, kept)
		if p.conf.Show {
			p.deps.Display.Show(annotated, wait)
		}
		if sink != nil {
			if err := sink.Write(annotated); err != nil {
				annotated.Close()
				return fmt.Errorf("write frame %d: %w", i, err)
			}
			res.FramesWritten++
		}
		annotated.Close()

		if res.FramesSampled%progressEvery == 0 {
			p.logger.Infof("Processed %d frames, avg inference time: %.2fms",
				res.FramesSampled, float64(totalInferenceTime.Nanoseconds())/float64(res.FramesSampled)/1e6)
		}
	}

	if res.FramesSampled > 0 {
		p.logger.Infof("Total frames processed: %d, average inference time: %.2fms",
			res.FramesSampled, float64(totalInferenceTime.Nanoseconds())/float64(res.FramesSampled)/1e6)
	}
	return nil
}
