package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"

	"gocv.io/x/gocv"

	"detbatch/internal/dao"
)

// values per detection of an OpenCV DetectionOutput blob:
// image id, class id, score, left, top, right, bottom (normalized)
const detectionOutputStride = 7

type DNNOptions struct {
	InputSize image.Point
	Scale     float64
	Mean      gocv.Scalar
	SwapRB    bool
}

func DefaultDNNOptions() DNNOptions {
	return DNNOptions{
		InputSize: image.Pt(300, 300),
		Scale:     1.0 / 127.5,
		Mean:      gocv.NewScalar(127.5, 127.5, 127.5, 0),
		SwapRB:    true,
	}
}

// DNNDetector runs a network loaded by OpenCV's dnn module.
type DNNDetector struct {
	net    gocv.Net
	opts   DNNOptions
	labels Labels
}

// NewDNN loads the trained weights in checkpoint with the network
// description in config and binds it to device.
func NewDNN(config, checkpoint string, device Device, labels Labels, opts DNNOptions) (*DNNDetector, error) {
	for _, p := range []string{config, checkpoint} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("model file unreadable: %w", err)
		}
	}
	mask, maskSet := os.LookupEnv("CUDA_VISIBLE_DEVICES")
	visible, ok, err := VisibleDevices(device, mask, maskSet)
	if err != nil {
		return nil, err
	}
	if ok {
		os.Setenv("CUDA_VISIBLE_DEVICES", visible)
	}

	net := gocv.ReadNet(checkpoint, config)
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("failed to load network from %s and %s", checkpoint, config)
	}
	if err := net.SetPreferableBackend(device.Backend); err != nil {
		net.Close()
		return nil, fmt.Errorf("set backend for device %s: %w", device.Name, err)
	}
	if err := net.SetPreferableTarget(device.Target); err != nil {
		net.Close()
		return nil, fmt.Errorf("set target for device %s: %w", device.Name, err)
	}

	return &DNNDetector{
		net:    net,
		opts:   opts,
		labels: labels,
	}, nil
}

func (d *DNNDetector) Detect(_ context.Context, frame gocv.Mat) ([]dao.Box, error) {
	blob := gocv.BlobFromImage(frame, d.opts.Scale, d.opts.InputSize, d.opts.Mean, d.opts.SwapRB, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()
	if out.Empty() {
		return nil, errors.New("empty network output")
	}

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read network output: %w", err)
	}
	return DecodeDetectionOutput(data, frame.Cols(), frame.Rows(), d.labels), nil
}

func (d *DNNDetector) Close() error {
	return d.net.Close()
}

// DecodeDetectionOutput converts a flattened [1,1,N,7] blob into boxes in
// pixel coordinates, clamped to the frame.
func DecodeDetectionOutput(data []float32, width, height int, labels Labels) []dao.Box {
	boxes := make([]dao.Box, 0, len(data)/detectionOutputStride)
	w, h := float32(width), float32(height)
	for i := 0; i+detectionOutputStride <= len(data); i += detectionOutputStride {
		classId := int(data[i+1])
		if classId < 0 {
			continue
		}
		boxes = append(boxes, dao.Box{
			X0:         clamp(data[i+3]*w, w),
			Y0:         clamp(data[i+4]*h, h),
			X1:         clamp(data[i+5]*w, w),
			Y1:         clamp(data[i+6]*h, h),
			Score:      data[i+2],
			CategoryId: classId,
			Label:      labels.Name(classId),
		})
	}
	return boxes
}

func clamp(v, max float32) float32 {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}
