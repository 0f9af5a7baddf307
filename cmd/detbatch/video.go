package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"detbatch/internal/config"
	"detbatch/internal/dao"
	"detbatch/internal/detector"
	"detbatch/internal/pipeline"
	"detbatch/internal/video"
)

var (
	device        string
	scoreThr      float32
	outputPath    string
	show          bool
	waitTime      float64
	stride        int
	maxFrameCount int
	tablePath     string
	backend       string
	labelsFile    string
)

var videoCmd = &cobra.Command{
	Use:   "video <video> <config> <checkpoint>",
	Short: "Detect objects in one video",
	Long: `Run the detector over every stride-th frame of a video, write the annotated
frames to --out and/or show them, and write the kept detections to --table.
For the triton backend <config> is the model name and <checkpoint> its version.
--out and --table accept a {stem} placeholder for the video file name.`,
	Args: cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		conf, err := loadConfig()
		if err != nil {
			logrus.WithError(err).Fatal("load config")
		}
		pipeConf := videoPipelineConfig(cmd, conf).ForVideo(args[0])

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		res, err := runVideo(ctx, cmd, conf, pipeConf, args[0], args[1], args[2])
		if err != nil {
			logrus.WithError(err).Fatalf("process video %s", args[0])
		}
		logrus.Infof("video processed: %d frames read, %d sampled, %d detections",
			res.FramesRead, res.FramesSampled, len(res.Records))
	},
}

// videoPipelineConfig takes config file values, overridden by flags given
// on the command line.
func videoPipelineConfig(cmd *cobra.Command, conf *config.Config) dao.PipelineConfig {
	pc := dao.DefaultPipelineConfig()
	pc.Device = conf.Detector.Device
	pc.ScoreThreshold = conf.Detector.ScoreThreshold
	pc.Stride = conf.Detector.Stride
	pc.TablePath = conf.Output.TablePath

	flags := cmd.Flags()
	if flags.Changed("device") {
		pc.Device = device
	}
	if flags.Changed("score-thr") {
		pc.ScoreThreshold = scoreThr
	}
	if flags.Changed("stride") {
		pc.Stride = stride
	}
	if flags.Changed("table") {
		pc.TablePath = tablePath
	}
	pc.OutputPath = outputPath
	pc.Show = show
	pc.WaitTime = waitTime
	pc.MaxFrameCount = maxFrameCount
	return pc
}

func runVideo(ctx context.Context, cmd *cobra.Command, conf *config.Config, pc dao.PipelineConfig, videoPath, modelConfig, checkpoint string) (*pipeline.Result, error) {
	if err := pc.Validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(videoPath); err != nil {
		return nil, err
	}

	opts := detector.Options{
		Backend:    conf.Detector.Backend,
		Device:     pc.Device,
		Config:     modelConfig,
		Checkpoint: checkpoint,
		LabelsFile: conf.Detector.LabelsFile,
		TritonAddr: conf.Detector.TritonAddr,
	}
	if cmd.Flags().Changed("backend") {
		opts.Backend = backend
	}
	if cmd.Flags().Changed("labels") {
		opts.LabelsFile = labelsFile
	}
	det, err := detector.Open(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("init detector: %w", err)
	}
	defer det.Close()

	src, err := video.OpenFile(videoPath)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	deps := pipeline.Deps{
		Source:    src,
		Detector:  det,
		Annotator: video.BoxPainter{},
		OpenSink:  video.OpenFileSink,
	}
	if pc.Show {
		deps.Display = video.NewWindow()
	}

	p, err := pipeline.New(deps, pc, videoPath, logrus.WithField("component", "pipeline"))
	if err != nil {
		return nil, err
	}
	return p.Run(ctx)
}

func init() {
	videoCmd.Flags().StringVar(&device, "device", dao.DefaultDevice, "Device used for inference (cpu, cuda, cuda:N, cuda-fp16, opencl, opencl-fp16, vulkan)")
	videoCmd.Flags().Float32Var(&scoreThr, "score-thr", dao.DefaultScoreThreshold, "Detections with a score not above this are dropped")
	videoCmd.Flags().StringVar(&outputPath, "out", "", "Output video file, {stem} is replaced by the input name")
	videoCmd.Flags().BoolVar(&show, "show", false, "Show the annotated video in a window")
	videoCmd.Flags().Float64Var(&waitTime, "wait-time", dao.DefaultWaitTime, "Seconds each shown frame stays on screen, 0 waits for a key")
	videoCmd.Flags().IntVar(&stride, "stride", dao.DefaultStride, "Run detection on every n-th frame")
	videoCmd.Flags().IntVar(&maxFrameCount, "max-frame-count", dao.UnboundedFrameCount, "Stop after this frame index, -1 reads the whole video")
	videoCmd.Flags().StringVar(&tablePath, "table", dao.DefaultTablePath, "Detection table file, {stem} is replaced by the input name")
	videoCmd.Flags().StringVar(&backend, "backend", config.BackendDNN, "Detector backend (dnn, triton)")
	videoCmd.Flags().StringVar(&labelsFile, "labels", "", "Label names file, one per line (default COCO)")
}
