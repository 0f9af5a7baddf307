package table

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"detbatch/internal/dao"
)

func TestWriteDetections(t *testing.T) {
	records := []dao.DetectionRecord{
		{FrameCount: 0, Filename: "cam_a", X0: 1, Y0: 2, X1: 30.5, Y1: 40, Score: 0.5, CategoryId: 2, Label: "car"},
		{FrameCount: 3, Filename: "cam_a", X0: 5, Y0: 6, X1: 7, Y1: 8, Score: 0.75, CategoryId: 0, Label: "person"},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteDetections(&buf, records))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "frame_count,filename,x0,y0,x1,y1,score,category_id,label", lines[0])
	assert.Equal(t, "0,cam_a,1,2,30.5,40,0.5,2,car", lines[1])
	assert.Equal(t, "3,cam_a,5,6,7,8,0.75,0,person", lines[2])
}

func TestWriteDetectionsFileEmpty(t *testing.T) {
	p := filepath.Join(t.TempDir(), "csv", "pred-x.csv")
	require.NoError(t, WriteDetectionsFile(p, nil))

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, strings.Join(DetectionHeader, ",")+"\n", string(data))

	_, err = os.Stat(p + ".tmp")
	assert.True(t, os.IsNotExist(err))

	records, err := ReadDetectionsFile(p)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestReadDetectionsFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "pred.csv")
	in := []dao.DetectionRecord{
		{FrameCount: 9, Filename: "v", X0: 0.25, Y0: 1, X1: 2, Y1: 3, Score: 0.9, CategoryId: 7, Label: "truck"},
	}
	require.NoError(t, WriteDetectionsFile(p, in))

	out, err := ReadDetectionsFile(p)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestReadIndex(t *testing.T) {
	index := "\ufeffscene,relative_path,note\n" +
		"s1,day/a.mp4,first\n" +
		"s1,,empty\n" +
		"s2,/abs/b.mp4\n" +
		"s3,night/c.mp4,last\n" +
		"s4\n"

	jobs, err := ReadIndex(strings.NewReader(index), "/mnt/items")
	require.NoError(t, err)
	require.Len(t, jobs, 5)

	for i, job := range jobs {
		assert.Equal(t, i, job.Seq)
	}
	assert.Equal(t, "day/a.mp4", jobs[0].RelativePath)
	assert.Equal(t, "/mnt/items/day/a.mp4", jobs[0].Path)
	assert.Empty(t, jobs[1].RelativePath)
	assert.Empty(t, jobs[1].Path)
	assert.Equal(t, "/abs/b.mp4", jobs[2].Path)
	assert.Equal(t, "/mnt/items/night/c.mp4", jobs[3].Path)
	assert.Empty(t, jobs[4].Path)
}

func TestReadIndexKeepsQuotedEmptyPath(t *testing.T) {
	jobs, err := ReadIndex(strings.NewReader("relative_path\na.mp4\n\"\"\nc.mp4\n"), "/v")
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "/v/a.mp4", jobs[0].Path)
	assert.Empty(t, jobs[1].Path)
	assert.Equal(t, "/v/c.mp4", jobs[2].Path)
}

func TestReadIndexMissingColumn(t *testing.T) {
	_, err := ReadIndex(strings.NewReader("path\na.mp4\n"), "/")
	assert.True(t, errors.Is(err, ErrMissingColumn))

	_, err = ReadIndex(strings.NewReader(""), "/")
	assert.True(t, errors.Is(err, ErrMissingColumn))
}
