// Package detector loads the object detector used by the video pipeline.
package detector

import (
	"context"
	"fmt"

	"detbatch/internal/config"
	"detbatch/internal/pipeline"
)

type Options struct {
	Backend    string
	Device     string
	Config     string
	Checkpoint string
	LabelsFile string
	TritonAddr string
}

// Open builds the detector selected by opts.Backend. For the dnn backend
// Config and Checkpoint are the network description and weights files; for
// the triton backend they are the served model name and version.
func Open(ctx context.Context, opts Options) (pipeline.Detector, error) {
	labels, err := LoadLabels(opts.LabelsFile)
	if err != nil {
		return nil, err
	}

	switch opts.Backend {
	case config.BackendDNN, "":
		device, err := ParseDevice(opts.Device)
		if err != nil {
			return nil, err
		}
		return NewDNN(opts.Config, opts.Checkpoint, device, labels, DefaultDNNOptions())
	case config.BackendTriton:
		tritonCli, err := NewTritonClient(opts.TritonAddr)
		if err != nil {
			return nil, fmt.Errorf("create triton client: %w", err)
		}
		return NewTriton(ctx, tritonCli, opts.Config, opts.Checkpoint, labels)
	default:
		return nil, fmt.Errorf("unknown detector backend %q", opts.Backend)
	}
}
