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

// ArcFace-style input: 112x112 RGB, components normalized to [-1, 1).
const (
	embedderInputSize = 112
)

// Embedder runs a face embedding ONNX model producing fixed-length
// vectors. Output vectors are L2-normalized before being returned.
type Embedder struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	dim     int
}

var _ pipeline.Embedder = (*Embedder)(nil)

// NewEmbedder creates an embedder session for the model at modelPath.
// dim is the model's output dimensionality.
func NewEmbedder(modelPath string, dim int) (*Embedder, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", dim)
	}
	options, err := newSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, embedderInputSize, embedderInputSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(dim)))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("failed to create embedder output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"input"},
		[]string{"embedding"},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("failed to create embedder session: %w", err)
	}
	return &Embedder{session: session, input: input, output: output, dim: dim}, nil
}

// Close releases the session and its tensors.
func (e *Embedder) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.Destroy()
	e.input.Destroy()
	e.output.Destroy()
}

// Dim returns the output vector length.
func (e *Embedder) Dim() int { return e.dim }

// Embed runs one face crop through the model.
func (e *Embedder) Embed(ctx context.Context, crop image.Image) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	resized := imaging.Resize(crop, embedderInputSize, embedderInputSize, imaging.Lanczos)
	fillCHW(resized, e.input.GetData(), embedderInputSize, embedderInputSize, func(v uint8) float32 {
		return (float32(v) - 127.5) / 128.0
	})

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("embedder inference failed: %w", err)
	}

	vector := make([]float32, e.dim)
	copy(vector, e.output.GetData())
	l2Normalize(vector)
	return vector, nil
}

func l2Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}
