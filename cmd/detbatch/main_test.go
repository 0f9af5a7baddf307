package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"detbatch/internal/config"
	"detbatch/internal/dao"
)

func TestNewProcessRunner(t *testing.T) {
	conf := config.DefaultConfig()
	conf.Batch.Executable = "/usr/local/bin/detbatch"
	conf.Batch.RowTimeout = 90
	conf.Detector.Device = "cpu"
	conf.Detector.LabelsFile = "labels.txt"

	r, err := newProcessRunner(conf)
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/detbatch", r.Executable)
	assert.Equal(t, 90.0, r.Timeout.Seconds())

	args := r.Args(dao.NewVideoJob(0, "/videos", "a/clip.mp4"))
	assert.Equal(t, []string{"video", "/videos/a/clip.mp4", conf.Detector.ModelConfig, conf.Detector.Checkpoint}, args[:4])
	assert.Subset(t, args, []string{
		"--table", conf.Output.TablePath,
		"--out", conf.Output.VideoPath,
		"--device", "cpu",
		"--score-thr", "0.3",
		"--stride", "3",
		"--backend", "dnn",
		"--labels", "labels.txt",
	})
	assert.NotContains(t, args, "--config")
}

func TestNewProcessRunnerNeedsOutputVideo(t *testing.T) {
	conf := config.DefaultConfig()
	conf.Batch.Executable = "/usr/local/bin/detbatch"
	conf.Output.VideoPath = ""

	_, err := newProcessRunner(conf)
	assert.ErrorIs(t, err, dao.ErrNoOutput)
}

func TestTableFilename(t *testing.T) {
	records := []dao.DetectionRecord{{Filename: "cam_b"}}
	assert.Equal(t, "cam_b", tableFilename(dao.DefaultTablePath, "pred-cam_a.csv", records))
	assert.Equal(t, "cam_a", tableFilename(dao.DefaultTablePath, "out/pred-cam_a.csv", nil))
	assert.Empty(t, tableFilename(dao.DefaultTablePath, "out/cam_a.csv", nil))
}

func TestVideoPipelineConfig(t *testing.T) {
	conf := config.DefaultConfig()
	conf.Detector.Stride = 5
	conf.Detector.Device = "cpu"

	pc := videoPipelineConfig(videoCmd, conf)
	assert.Equal(t, 5, pc.Stride)
	assert.Equal(t, "cpu", pc.Device)
	assert.Equal(t, conf.Output.TablePath, pc.TablePath)
	assert.Equal(t, dao.UnboundedFrameCount, pc.MaxFrameCount)

	require.NoError(t, videoCmd.Flags().Set("stride", "2"))
	require.NoError(t, videoCmd.Flags().Set("out", "out/{stem}.mp4"))
	t.Cleanup(func() {
		videoCmd.Flags().Lookup("stride").Changed = false
		stride = dao.DefaultStride
		outputPath = ""
	})

	pc = videoPipelineConfig(videoCmd, conf).ForVideo("/videos/clip.mp4")
	assert.Equal(t, 2, pc.Stride)
	assert.Equal(t, "out/clip.mp4", pc.OutputPath)
	assert.NoError(t, pc.Validate())
}
