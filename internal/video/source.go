// Package video adapts gocv capture, writer and window handles to the
// pipeline's source, sink and display.
package video

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gocv.io/x/gocv"

	"detbatch/internal/pipeline"
)

const (
	Codec      = "mp4v"
	WindowName = "video"
)

type FileSource struct {
	capture *gocv.VideoCapture
}

func OpenFile(path string) (*FileSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to open input video: %w", err)
	}
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input video: %w", err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("failed to open input video: %s is not readable", path)
	}
	return &FileSource{capture: capture}, nil
}

func (s *FileSource) Props() pipeline.VideoProps {
	return pipeline.VideoProps{
		FPS:        s.capture.Get(gocv.VideoCaptureFPS),
		Width:      int(s.capture.Get(gocv.VideoCaptureFrameWidth)),
		Height:     int(s.capture.Get(gocv.VideoCaptureFrameHeight)),
		FrameCount: int(s.capture.Get(gocv.VideoCaptureFrameCount)),
	}
}

func (s *FileSource) Read(frame *gocv.Mat) bool {
	return s.capture.Read(frame)
}

func (s *FileSource) Close() error {
	return s.capture.Close()
}

type FileSink struct {
	writer *gocv.VideoWriter
}

// OpenFileSink matches pipeline.SinkOpener.
func OpenFileSink(path string, props pipeline.VideoProps) (pipeline.Sink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	writer, err := gocv.VideoWriterFile(path, Codec, props.FPS, props.Width, props.Height, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create output video writer: %w", err)
	}
	if !writer.IsOpened() {
		writer.Close()
		return nil, fmt.Errorf("failed to create output video writer for %s", path)
	}
	return &FileSink{writer: writer}, nil
}

func (s *FileSink) Write(frame gocv.Mat) error {
	return s.writer.Write(frame)
}

func (s *FileSink) Close() error {
	return s.writer.Close()
}

type Window struct {
	window *gocv.Window
}

func NewWindow() *Window {
	w := gocv.NewWindow(WindowName)
	w.SetWindowProperty(gocv.WindowPropertyAutosize, gocv.WindowNormal)
	return &Window{window: w}
}

func (w *Window) Show(frame gocv.Mat, wait time.Duration) {
	w.window.IMShow(frame)
	w.window.WaitKey(WaitKeyDelay(wait))
}

func (w *Window) Close() error {
	return w.window.Close()
}

// WaitKeyDelay converts a display wait to the millisecond delay of WaitKey,
// where 0 blocks until a key is pressed.
func WaitKeyDelay(wait time.Duration) int {
	if wait <= 0 {
		return 0
	}
	ms := int(wait / time.Millisecond)
	if ms == 0 {
		return 1
	}
	return ms
}
