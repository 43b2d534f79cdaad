package onnx

import (
	"context"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/facepass-data/facetrack/internal/pipeline"
)

const poseInputSize = 224

// PoseEstimator runs a head pose ONNX model producing Euler angles in
// degrees: [pitch, yaw, roll].
type PoseEstimator struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

var _ pipeline.PoseEstimator = (*PoseEstimator)(nil)

// NewPoseEstimator creates a pose session for the model at modelPath.
func NewPoseEstimator(modelPath string) (*PoseEstimator, error) {
	options, err := newSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, poseInputSize, poseInputSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create pose input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("failed to create pose output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"input"},
		[]string{"angles"},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("failed to create pose session: %w", err)
	}
	return &PoseEstimator{session: session, input: input, output: output}, nil
}

// Close releases the session and its tensors.
func (p *PoseEstimator) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session.Destroy()
	p.input.Destroy()
	p.output.Destroy()
}

// Pose estimates head pose for a face crop. ok is false when the model
// returns non-finite angles, which it does for crops it cannot fit
// landmarks to.
func (p *PoseEstimator) Pose(ctx context.Context, crop image.Image) (pipeline.PoseAngles, bool, error) {
	if err := ctx.Err(); err != nil {
		return pipeline.PoseAngles{}, false, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	resized := imaging.Resize(crop, poseInputSize, poseInputSize, imaging.Lanczos)
	fillCHW(resized, p.input.GetData(), poseInputSize, poseInputSize, func(v uint8) float32 {
		return (float32(v) - 127.5) / 128.0
	})

	if err := p.session.Run(); err != nil {
		return pipeline.PoseAngles{}, false, fmt.Errorf("pose inference failed: %w", err)
	}

	out := p.output.GetData()
	angles := pipeline.PoseAngles{
		Pitch: float64(out[0]),
		Yaw:   float64(out[1]),
		Roll:  float64(out[2]),
	}
	if math.IsNaN(angles.Pitch) || math.IsNaN(angles.Yaw) || math.IsNaN(angles.Roll) {
		return pipeline.PoseAngles{}, false, nil
	}
	return angles, true, nil
}
