package dao

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *PipelineConfig)
		wantErr bool
		noOut   bool
	}{
		{name: "output only", mutate: func(c *PipelineConfig) { c.OutputPath = "out.mp4" }},
		{name: "show only", mutate: func(c *PipelineConfig) { c.Show = true }},
		{name: "neither output nor show", mutate: func(c *PipelineConfig) {}, wantErr: true, noOut: true},
		{name: "zero stride", mutate: func(c *PipelineConfig) { c.Show = true; c.Stride = 0 }, wantErr: true},
		{name: "threshold above one", mutate: func(c *PipelineConfig) { c.Show = true; c.ScoreThreshold = 1.5 }, wantErr: true},
		{name: "negative wait", mutate: func(c *PipelineConfig) { c.Show = true; c.WaitTime = -1 }, wantErr: true},
		{name: "max frame below unbounded", mutate: func(c *PipelineConfig) { c.Show = true; c.MaxFrameCount = -2 }, wantErr: true},
		{name: "empty device", mutate: func(c *PipelineConfig) { c.Show = true; c.Device = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := DefaultPipelineConfig()
			tt.mutate(&conf)
			err := conf.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.noOut, errors.Is(err, ErrNoOutput))
		})
	}
}

func TestPipelineConfigSampled(t *testing.T) {
	conf := DefaultPipelineConfig()
	var sampled []int
	for i := 0; i < 10; i++ {
		if conf.Sampled(i) {
			sampled = append(sampled, i)
		}
	}
	assert.Equal(t, []int{0, 3, 6, 9}, sampled)
}

func TestPipelineConfigForVideo(t *testing.T) {
	conf := DefaultPipelineConfig()
	conf.OutputPath = DefaultOutputPath

	resolved := conf.ForVideo("/data/items/scene-01/cam_a.mp4")
	assert.Equal(t, "pred-output/movie/pred-cam_a.mp4", resolved.OutputPath)
	assert.Equal(t, "pred-output/csv/pred-cam_a.csv", resolved.TablePath)
	assert.Equal(t, DefaultOutputPath, conf.OutputPath, "receiver must not change")

	conf.OutputPath = "fixed.mp4"
	assert.Equal(t, "fixed.mp4", conf.ForVideo("x.avi").OutputPath)
}

func TestWaitDuration(t *testing.T) {
	conf := DefaultPipelineConfig()
	assert.Equal(t, time.Second, conf.WaitDuration())
	conf.WaitTime = 0.04
	assert.Equal(t, 40*time.Millisecond, conf.WaitDuration())
}

func TestStem(t *testing.T) {
	assert.Equal(t, "clip", Stem("a/b/clip.mp4"))
	assert.Equal(t, "clip.part", Stem("clip.part.mov"))
	assert.Equal(t, "noext", Stem("noext"))
}

func TestStemFromPath(t *testing.T) {
	stem, ok := StemFromPath(DefaultTablePath, "/tmp/out/pred-cam_a.csv")
	assert.True(t, ok)
	assert.Equal(t, "cam_a", stem)

	stem, ok = StemFromPath("{stem}.csv", "clip.part.csv")
	assert.True(t, ok)
	assert.Equal(t, "clip.part", stem)

	_, ok = StemFromPath(DefaultTablePath, "pred-.csv")
	assert.False(t, ok)
	_, ok = StemFromPath(DefaultTablePath, "other.csv")
	assert.False(t, ok)
	_, ok = StemFromPath("fixed.csv", "fixed.csv")
	assert.False(t, ok)
}

func TestFilterByScore(t *testing.T) {
	boxes := []Box{{Score: 0.3}, {Score: 0.31}, {Score: 0.9}, {Score: 0.1}}
	kept := FilterByScore(boxes, 0.3)
	require.Len(t, kept, 2)
	assert.Equal(t, float32(0.31), kept[0].Score)
	assert.Equal(t, float32(0.9), kept[1].Score)
}

func TestNewVideoJob(t *testing.T) {
	job := NewVideoJob(2, "/mnt/items", "scene/a.mp4")
	assert.Equal(t, 2, job.Seq)
	assert.Equal(t, filepath.Join("/mnt/items", "scene/a.mp4"), job.Path)

	abs := NewVideoJob(0, "/mnt/items", "/other/b.mp4")
	assert.Equal(t, "/other/b.mp4", abs.Path)

	empty := NewVideoJob(3, "/mnt/items", "")
	assert.Equal(t, 3, empty.Seq)
	assert.Empty(t, empty.Path)
}

func TestBatchRunCount(t *testing.T) {
	var run BatchRun
	run.Count(RowStatusSucceeded)
	run.Count(RowStatusFailed)
	run.Count(RowStatusFailed)
	run.Count(RowStatusSkipped)
	run.Count(RowStatusRunning)
	assert.Equal(t, 1, run.Succeeded)
	assert.Equal(t, 2, run.Failed)
	assert.Equal(t, 1, run.Skipped)
}
