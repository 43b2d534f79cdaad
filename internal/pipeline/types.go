package pipeline

import (
	"context"
	"image"
	"time"

	"github.com/facepass-data/facetrack/internal/facetrack"
)

// Frame is one raw video frame delivered by the transport boundary.
type Frame struct {
	StreamID  string
	Index     int64
	Timestamp time.Time
	Image     image.Image
}

// PoseAngles are head pose angles in degrees. Negative pitch is looking
// down; positive yaw is looking right.
type PoseAngles struct {
	Pitch float64
	Yaw   float64
	Roll  float64
}

// Detector is the external face detection model: one frame in, zero or
// more scored boxes out. Calls may block on model inference; the pipeline
// bounds them with a per-call timeout.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]facetrack.Detection, error)
}

// Embedder is the external embedding model: a cropped, aligned face in, a
// fixed-length vector out. Must be deterministic for identical input.
type Embedder interface {
	Embed(ctx context.Context, crop image.Image) ([]float32, error)
}

// PoseEstimator is the external head pose model. ok is false when pose is
// unavailable for the given crop (no landmarks found).
type PoseEstimator interface {
	Pose(ctx context.Context, crop image.Image) (angles PoseAngles, ok bool, err error)
}

// ResultPublisher receives the per-frame record for downstream consumers
// (the administrative boundary marking attendance). Publishing is
// best-effort: errors are logged, never fed back into tracking.
type ResultPublisher interface {
	PublishResult(record *FrameRecord) error
}

// FaceResult is one identified (or unidentified) face in a frame record.
type FaceResult struct {
	TrackID    int64                `json:"track_id"`
	Box        facetrack.Box        `json:"box"`
	State      facetrack.TrackState `json:"state"`
	PersonID   string               `json:"person_id,omitempty"`
	Score      float64              `json:"score,omitempty"`
	Pitch      float64              `json:"pitch"`
	Yaw        float64              `json:"yaw"`
	Roll       float64              `json:"roll"`
	Engagement string               `json:"engagement"`
}

// StageTimings records per-stage elapsed time for one frame.
type StageTimings struct {
	Detect    time.Duration `json:"detect"`
	Track     time.Duration `json:"track"`
	Recognize time.Duration `json:"recognize"`
	Behave    time.Duration `json:"behave"`
	Total     time.Duration `json:"total"`
}

// FrameRecord is the structured result of processing one frame.
type FrameRecord struct {
	StreamID   string       `json:"stream_id"`
	FrameIndex int64        `json:"frame_index"`
	Timestamp  time.Time    `json:"timestamp"`
	Faces      []FaceResult `json:"faces"`
	Timings    StageTimings `json:"timings"`
}
