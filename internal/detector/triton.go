package detector

import (
	"context"
	"errors"
	"fmt"

	"github.com/Trendyol/go-triton-client/base"
	tritonGrpc "github.com/Trendyol/go-triton-client/client/grpc"
	"gocv.io/x/gocv"

	"detbatch/internal/dao"
)

// values per detection of the DETECTIONS tensor: x1, y1, x2, y2, score, class id
const tritonDetectionStride = 6

// TritonDetector sends frames to a model served by Triton Inference Server.
type TritonDetector struct {
	tritonCli    base.Client
	modelName    string
	modelVersion string
	labels       Labels
}

func NewTritonClient(serverAddr string) (base.Client, error) {
	return tritonGrpc.NewClient(
		serverAddr,
		false, // verbose logging
		30,    // connection timeout in seconds
		30,    // network timeout in seconds
		false, // use ssl
		true,  // insecure connection
		nil,   // existing grpc connection
		nil,   // logger
	)
}

// NewTriton checks that the server and the model are ready before returning.
func NewTriton(ctx context.Context, tritonCli base.Client, modelName, modelVersion string, labels Labels) (*TritonDetector, error) {
	if modelVersion == "" {
		modelVersion = "1"
	}

	if isLive, err := tritonCli.IsServerLive(ctx, nil); err != nil {
		return nil, err
	} else if !isLive {
		return nil, errors.New("triton server is not live")
	}

	if isReady, err := tritonCli.IsServerReady(ctx, nil); err != nil {
		return nil, err
	} else if !isReady {
		return nil, errors.New("triton server is not ready")
	}

	if isReady, err := tritonCli.IsModelReady(ctx, modelName, modelVersion, nil); err != nil {
		return nil, err
	} else if !isReady {
		return nil, fmt.Errorf("triton model %s/%s is not ready", modelName, modelVersion)
	}

	return &TritonDetector{
		tritonCli:    tritonCli,
		modelName:    modelName,
		modelVersion: modelVersion,
		labels:       labels,
	}, nil
}

func (d *TritonDetector) Detect(ctx context.Context, frame gocv.Mat) ([]dao.Box, error) {
	frameBytes := frame.ToBytes()

	frameInput := tritonGrpc.NewInferInput("FRAME", "BYTES", []int64{int64(frame.Rows()), int64(frame.Cols()), 3}, nil)
	if err := frameInput.SetData(frameBytes, true); err != nil {
		return nil, fmt.Errorf("failed to set FRAME input data: %w", err)
	}
	frameInput.SetDatatype("UINT8")

	outputs := []base.InferOutput{
		tritonGrpc.NewInferOutput("DETECTIONS", map[string]any{"binary_data": false}),
	}

	response, err := d.tritonCli.Infer(
		ctx,
		d.modelName,
		d.modelVersion,
		[]base.InferInput{frameInput},
		outputs,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	detections, err := response.AsFloat32Slice("DETECTIONS")
	if err != nil {
		return nil, fmt.Errorf("failed to get detection data: %w", err)
	}
	return DecodeTritonDetections(detections, d.labels), nil
}

func (d *TritonDetector) Close() error {
	return nil
}

// DecodeTritonDetections converts a flattened [N,6] tensor into boxes.
func DecodeTritonDetections(detections []float32, labels Labels) []dao.Box {
	boxes := make([]dao.Box, 0, len(detections)/tritonDetectionStride)
	for i := 0; i+tritonDetectionStride <= len(detections); i += tritonDetectionStride {
		classId := int(detections[i+5])
		boxes = append(boxes, dao.Box{
			X0:         detections[i],
			Y0:         detections[i+1],
			X1:         detections[i+2],
			Y1:         detections[i+3],
			Score:      detections[i+4],
			CategoryId: classId,
			Label:      labels.Name(classId),
		})
	}
	return boxes
}
