package onnx

import (
	"context"
	"fmt"
	"image"
	"sort"
	"sync"

	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/facepass-data/facetrack/internal/facetrack"
	"github.com/facepass-data/facetrack/internal/pipeline"
)

// YOLO-face input resolution and output layout: (1, 5, 8400) as
// [cx, cy, w, h, confidence] per anchor, coordinates normalized to the
// input resolution.
const (
	detectorInputWidth  = 640
	detectorInputHeight = 640
	detectorAnchors     = 8400

	defaultConfThreshold = 0.45
	defaultNMSThreshold  = 0.45
)

// Detector runs a YOLO-face ONNX model.
type Detector struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]

	confThreshold float32
	nmsThreshold  float64
}

var _ pipeline.Detector = (*Detector)(nil)

// NewDetector creates a detector session for the model at modelPath.
// Thresholds of zero select the defaults.
func NewDetector(modelPath string, confThreshold float32, nmsThreshold float64) (*Detector, error) {
	options, err := newSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, detectorInputHeight, detectorInputWidth))
	if err != nil {
		return nil, fmt.Errorf("failed to create detector input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 5, detectorAnchors))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("failed to create detector output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("failed to create detector session: %w", err)
	}

	if confThreshold <= 0 {
		confThreshold = defaultConfThreshold
	}
	if nmsThreshold <= 0 {
		nmsThreshold = defaultNMSThreshold
	}
	return &Detector{
		session:       session,
		input:         input,
		output:        output,
		confThreshold: confThreshold,
		nmsThreshold:  nmsThreshold,
	}, nil
}

// Close releases the session and its tensors.
func (d *Detector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.session.Destroy()
	d.input.Destroy()
	d.output.Destroy()
}

// Detect runs one frame through the model and returns scored face boxes
// in the frame's pixel coordinates.
func (d *Detector) Detect(ctx context.Context, img image.Image) ([]facetrack.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	resized := imaging.Resize(img, detectorInputWidth, detectorInputHeight, imaging.Lanczos)
	fillCHW(resized, d.input.GetData(), detectorInputWidth, detectorInputHeight, func(v uint8) float32 {
		return float32(v) / 255.0
	})

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("detector inference failed: %w", err)
	}

	bounds := img.Bounds()
	raw := d.decode(d.output.GetData(), float64(bounds.Dx()), float64(bounds.Dy()))
	return nonMaxSuppress(raw, d.nmsThreshold), nil
}

// decode converts the raw (5, 8400) output into detections scaled back to
// the original frame size, keeping anchors above the confidence threshold.
func (d *Detector) decode(predictions []float32, origWidth, origHeight float64) []facetrack.Detection {
	scaleX := origWidth / detectorInputWidth
	scaleY := origHeight / detectorInputHeight

	dets := make([]facetrack.Detection, 0, 32)
	for i := 0; i < detectorAnchors; i++ {
		conf := predictions[4*detectorAnchors+i]
		if conf < d.confThreshold {
			continue
		}
		cx := float64(predictions[i])
		cy := float64(predictions[detectorAnchors+i])
		w := float64(predictions[2*detectorAnchors+i])
		h := float64(predictions[3*detectorAnchors+i])

		dets = append(dets, facetrack.Detection{
			Box: facetrack.Box{
				X1: max(0, (cx-w/2)*scaleX),
				Y1: max(0, (cy-h/2)*scaleY),
				X2: min(origWidth, (cx+w/2)*scaleX),
				Y2: min(origHeight, (cy+h/2)*scaleY),
			},
			Confidence: float64(conf),
		})
	}
	return dets
}

// nonMaxSuppress keeps the highest-confidence box of each overlapping
// cluster, greedily by descending confidence.
func nonMaxSuppress(dets []facetrack.Detection, iouThreshold float64) []facetrack.Detection {
	if len(dets) <= 1 {
		return dets
	}
	sort.Slice(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})

	kept := make([]facetrack.Detection, 0, len(dets))
	suppressed := make([]bool, len(dets))
	for i := range dets {
		if suppressed[i] {
			continue
		}
		kept = append(kept, dets[i])
		for j := i + 1; j < len(dets); j++ {
			if suppressed[j] {
				continue
			}
			if facetrack.IoU(dets[i].Box, dets[j].Box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

// fillCHW writes the image into dst in NCHW planar layout, one plane per
// RGB channel, applying normalize to each 8-bit component.
func fillCHW(img image.Image, dst []float32, width, height int, normalize func(uint8) float32) {
	planeSize := width * height
	for y := 0; y < height; y++ {
		offset := y * width
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			i := offset + x
			dst[i] = normalize(uint8(r >> 8))
			dst[planeSize+i] = normalize(uint8(g >> 8))
			dst[2*planeSize+i] = normalize(uint8(b >> 8))
		}
	}
}
