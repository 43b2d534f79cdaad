// Package pipeline orchestrates the per-frame face analysis sequence:
// detection, motion prediction, association, lifecycle commit, cached
// re-identification, and behaviour annotation.
//
// This package is the composition root: it imports the tracking core and
// the reid components, but neither of those imports pipeline.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"reflect"
	"time"

	"github.com/disintegration/imaging"

	"github.com/facepass-data/facetrack/internal/facetrack"
	"github.com/facepass-data/facetrack/internal/reid"
)

// isNilInterface checks if an interface value is nil or contains a nil
// pointer. Handles the Go interface nil pitfall for optional dependencies.
func isNilInterface(i interface{}) bool {
	if i == nil {
		return true
	}
	v := reflect.ValueOf(i)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// Config holds the collaborators and tuning for one pipeline instance.
// The configuration is immutable after New; per-stream instances share
// only the read-mostly similarity index.
type Config struct {
	StreamID string

	Detector  Detector                   // required
	Tracker   facetrack.TrackerInterface // required
	Embedder  Embedder                   // optional: nil disables identity resolution
	Index     *reid.Index                // optional: pairs with Embedder
	Cache     *reid.EmbeddingCache       // created on demand when nil
	Pose      PoseEstimator              // optional: nil reports zero angles
	Publisher ResultPublisher            // optional

	// EmbedInterval is the identity refresh interval in frames. A track's
	// identity is re-resolved only when its cache entry is at least this
	// old, or on first confirmation.
	EmbedInterval int64

	// MinFaceSize gates detections whose box is smaller than this many
	// pixels on a side: they keep tracks alive but never spawn tracks or
	// get embedded.
	MinFaceSize float64

	// Engagement thresholds in degrees.
	YawThreshold   float64
	PitchThreshold float64

	// Per-call budgets for the external model calls, the pipeline's only
	// suspension points.
	DetectTimeout time.Duration
	EmbedTimeout  time.Duration
	PoseTimeout   time.Duration
}

// Pipeline processes frames from a single stream strictly sequentially.
// It is not safe for concurrent ProcessFrame calls on one instance; use a
// Runner per stream.
type Pipeline struct {
	cfg Config
}

// New validates the configuration and creates a pipeline instance.
func New(cfg Config) (*Pipeline, error) {
	if isNilInterface(cfg.Detector) {
		return nil, fmt.Errorf("pipeline: Detector is required")
	}
	if isNilInterface(cfg.Tracker) {
		return nil, fmt.Errorf("pipeline: Tracker is required")
	}
	if !isNilInterface(cfg.Embedder) && cfg.Index == nil {
		return nil, fmt.Errorf("pipeline: Embedder configured without an Index")
	}
	if cfg.Cache == nil {
		cfg.Cache = reid.NewEmbeddingCache()
	}
	if cfg.EmbedInterval <= 0 {
		cfg.EmbedInterval = 15
	}
	if cfg.YawThreshold == 0 {
		cfg.YawThreshold = 20.0
	}
	if cfg.PitchThreshold == 0 {
		cfg.PitchThreshold = -10.0
	}
	if cfg.DetectTimeout <= 0 {
		cfg.DetectTimeout = 2 * time.Second
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = time.Second
	}
	if cfg.PoseTimeout <= 0 {
		cfg.PoseTimeout = time.Second
	}
	return &Pipeline{cfg: cfg}, nil
}

// ProcessFrame runs one frame through the full stage sequence and returns
// its structured record. Transient collaborator failures degrade the
// affected stage for this frame only; the only returned error is context
// cancellation.
func (p *Pipeline) ProcessFrame(ctx context.Context, frame Frame) (*FrameRecord, error) {
	tTotal := time.Now()
	record := &FrameRecord{
		StreamID:   frame.StreamID,
		FrameIndex: frame.Index,
		Timestamp:  frame.Timestamp,
	}

	// Malformed input: reject the single frame, emit an empty record,
	// keep the stream alive.
	if frame.Image == nil || frame.Image.Bounds().Empty() {
		opsf("[%s][frame=%d] empty frame payload rejected", frame.StreamID, frame.Index)
		record.Timings.Total = time.Since(tTotal)
		return record, nil
	}

	// Stage 1: detection (external, suspension point).
	t0 := time.Now()
	dets := p.detect(ctx, frame)
	record.Timings.Detect = time.Since(t0)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Stage 2-4: predict, associate, lifecycle commit.
	t0 = time.Now()
	step := p.cfg.Tracker.Step(dets, frame.Index)
	record.Timings.Track = time.Since(t0)

	for _, id := range step.Removed {
		p.cfg.Cache.Invalidate(id)
	}
	promoted := make(map[int64]bool, len(step.Promoted))
	for _, id := range step.Promoted {
		promoted[id] = true
	}

	// Stage 5: identity resolution for eligible confirmed tracks.
	t0 = time.Now()
	crops := make(map[int64]image.Image)
	for _, snap := range step.Tracks {
		if snap.State != facetrack.TrackConfirmed {
			continue
		}
		p.resolveIdentity(ctx, frame, snap, promoted[snap.TrackID], crops)
	}
	record.Timings.Recognize = time.Since(t0)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Stage 6: behaviour annotation and result assembly. Tentative tracks
	// never appear in results; lost tracks are coasting on prediction and
	// are withheld until re-acquired.
	t0 = time.Now()
	for _, snap := range step.Tracks {
		if snap.State != facetrack.TrackConfirmed {
			continue
		}
		face := FaceResult{
			TrackID: snap.TrackID,
			Box:     snap.Box,
			State:   snap.State,
		}
		if entry, _, ok := p.cfg.Cache.Get(snap.TrackID, frame.Index); ok && entry.PersonID != "" {
			face.PersonID = entry.PersonID
			face.Score = entry.Score
		}
		angles := p.estimatePose(ctx, frame, snap, crops)
		face.Pitch = angles.Pitch
		face.Yaw = angles.Yaw
		face.Roll = angles.Roll
		face.Engagement = ClassifyEngagement(angles.Pitch, angles.Yaw, p.cfg.YawThreshold, p.cfg.PitchThreshold)
		record.Faces = append(record.Faces, face)
	}
	record.Timings.Behave = time.Since(t0)
	record.Timings.Total = time.Since(tTotal)

	diagf("[%s][frame=%d] faces=%d | detect=%.1fms track=%.1fms recog=%.1fms behav=%.1fms | total=%.1fms",
		frame.StreamID, frame.Index, len(record.Faces),
		record.Timings.Detect.Seconds()*1000,
		record.Timings.Track.Seconds()*1000,
		record.Timings.Recognize.Seconds()*1000,
		record.Timings.Behave.Seconds()*1000,
		record.Timings.Total.Seconds()*1000)

	if !isNilInterface(p.cfg.Publisher) {
		if err := p.cfg.Publisher.PublishResult(record); err != nil {
			opsf("[%s][frame=%d] result publish failed: %v", frame.StreamID, frame.Index, err)
		}
	}
	return record, nil
}

// detect calls the external detector with its timeout budget. A detector
// failure is treated as zero detections for this frame: tracking continues
// on prediction-only state.
func (p *Pipeline) detect(ctx context.Context, frame Frame) []facetrack.Detection {
	dctx, cancel := context.WithTimeout(ctx, p.cfg.DetectTimeout)
	defer cancel()
	dets, err := p.cfg.Detector.Detect(dctx, frame.Image)
	if err != nil {
		opsf("[%s][frame=%d] detector failed, coasting on prediction: %v", frame.StreamID, frame.Index, err)
		return nil
	}
	return facetrack.ApplyQualityGate(dets, p.cfg.MinFaceSize)
}

// resolveIdentity runs the embed-then-search path for one track when the
// cache policy calls for it. A no-match result is cached with an empty
// person ID so unknown faces are not re-embedded every frame.
func (p *Pipeline) resolveIdentity(ctx context.Context, frame Frame, snap facetrack.TrackSnapshot, justPromoted bool, crops map[int64]image.Image) {
	if isNilInterface(p.cfg.Embedder) || p.cfg.Index == nil {
		return
	}
	if !p.cfg.Cache.NeedsRefresh(snap.TrackID, frame.Index, p.cfg.EmbedInterval, justPromoted) {
		return
	}

	crop := p.cropFace(frame, snap, crops)
	if crop == nil {
		return
	}

	ectx, cancel := context.WithTimeout(ctx, p.cfg.EmbedTimeout)
	vec, err := p.cfg.Embedder.Embed(ectx, crop)
	cancel()
	if err != nil {
		diagf("[%s][frame=%d] embed failed for track %d, identity refresh skipped: %v",
			frame.StreamID, frame.Index, snap.TrackID, err)
		return
	}

	if match, ok := p.cfg.Index.Query(vec); ok {
		p.cfg.Cache.Put(snap.TrackID, match.PersonID, match.Similarity, frame.Index)
		p.cfg.Tracker.SetIdentity(snap.TrackID, match.PersonID, match.Similarity, frame.Index)
		tracef("[%s][frame=%d] track %d resolved to %s (sim=%.4f)",
			frame.StreamID, frame.Index, snap.TrackID, match.PersonID, match.Similarity)
	} else {
		p.cfg.Cache.Put(snap.TrackID, "", 0, frame.Index)
		tracef("[%s][frame=%d] track %d: no identity match", frame.StreamID, frame.Index, snap.TrackID)
	}
}

// estimatePose calls the external pose model for one track. Unavailable or
// failed estimation reports zero angles.
func (p *Pipeline) estimatePose(ctx context.Context, frame Frame, snap facetrack.TrackSnapshot, crops map[int64]image.Image) PoseAngles {
	if isNilInterface(p.cfg.Pose) {
		return PoseAngles{}
	}
	crop := p.cropFace(frame, snap, crops)
	if crop == nil {
		return PoseAngles{}
	}
	pctx, cancel := context.WithTimeout(ctx, p.cfg.PoseTimeout)
	defer cancel()
	angles, ok, err := p.cfg.Pose.Pose(pctx, crop)
	if err != nil {
		diagf("[%s][frame=%d] pose failed for track %d: %v", frame.StreamID, frame.Index, snap.TrackID, err)
		return PoseAngles{}
	}
	if !ok {
		return PoseAngles{}
	}
	return angles
}

// cropFace extracts the face region for a track, clamped to the frame
// bounds, memoised per frame so recognition and pose share one crop.
// Returns nil for degenerate regions.
func (p *Pipeline) cropFace(frame Frame, snap facetrack.TrackSnapshot, crops map[int64]image.Image) image.Image {
	if crop, ok := crops[snap.TrackID]; ok {
		return crop
	}
	bounds := frame.Image.Bounds()
	rect := image.Rect(int(snap.Box.X1), int(snap.Box.Y1), int(snap.Box.X2), int(snap.Box.Y2)).Intersect(bounds)
	if rect.Empty() {
		tracef("[%s][frame=%d] degenerate crop region for track %d skipped", frame.StreamID, frame.Index, snap.TrackID)
		crops[snap.TrackID] = nil
		return nil
	}
	crop := imaging.Crop(frame.Image, rect)
	crops[snap.TrackID] = crop
	return crop
}
