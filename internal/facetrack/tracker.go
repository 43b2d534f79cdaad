package facetrack

import (
	"sort"
	"sync"
	"sync/atomic"
)

// TrackState represents the lifecycle state of a track.
type TrackState string

const (
	TrackTentative TrackState = "tentative" // New track, needs confirmation
	TrackConfirmed TrackState = "confirmed" // Stable track with sufficient history
	TrackLost      TrackState = "lost"      // Confirmed track coasting unobserved
	TrackRemoved   TrackState = "removed"   // Evicted; the ID is never reused
)

// TrackerConfig holds configuration parameters for the tracker.
type TrackerConfig struct {
	MaxTracks          int     // Maximum number of concurrent live tracks
	MinHits            int     // Consecutive hits needed for confirmation
	ConfirmedMissGrace int     // Consecutive misses before Confirmed demotes to Lost (1 = demote on first miss)
	MaxLostFrames      int     // Frames since last hit before a Lost track is removed
	CreationConfidence float64 // Minimum detection confidence to spawn a track
	MinIoU             float64 // Minimum overlap for association candidates
}

// DefaultTrackerConfig returns default tracker configuration.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MaxTracks:          64,
		MinHits:            3,
		ConfirmedMissGrace: 1,
		MaxLostFrames:      30,
		CreationConfidence: 0.5,
		MinIoU:             0.3,
	}
}

// Identity is a track's resolved person identity: who the similarity
// search last said this track is, how sure it was, and when.
type Identity struct {
	PersonID string
	Score    float64
	Frame    int64 // frame index at which the identity was resolved
}

// Track is a tracked individual across frames. Tracks are owned exclusively
// by the Tracker; other components only ever see TrackSnapshot copies.
type Track struct {
	TrackID int64
	State   TrackState
	Motion  *MotionState

	Age             int // frames since creation
	Hits            int // frames successfully associated
	TimeSinceUpdate int // frames since last successful association

	consecMisses int
	Identity     *Identity
}

// clone deep-copies a track so a lifecycle pass can mutate freely and the
// caller-visible state only changes on commit.
func (t *Track) clone() *Track {
	c := *t
	c.Motion = t.Motion.Clone()
	if t.Identity != nil {
		id := *t.Identity
		c.Identity = &id
	}
	return &c
}

// TrackSnapshot is a caller-facing copy of one track's per-frame state.
type TrackSnapshot struct {
	TrackID         int64
	Box             Box
	State           TrackState
	Age             int
	Hits            int
	TimeSinceUpdate int
	Identity        *Identity
}

// StepResult is the outcome of one frame's lifecycle commit.
type StepResult struct {
	// Tracks are the live tracks after the commit, sorted by TrackID.
	Tracks []TrackSnapshot
	// Promoted lists tracks confirmed this frame (first-contact identity
	// resolution trigger).
	Promoted []int64
	// Removed lists tracks evicted this frame, reported exactly once so
	// downstream caches can invalidate.
	Removed []int64
}

// TrackerInterface abstracts the tracking implementation for dependency
// injection and replay testing.
type TrackerInterface interface {
	// Step is the single mutating entry point. It is called exactly once
	// per frame and is not reentrant.
	Step(dets []Detection, frameIndex int64) StepResult

	// SetIdentity records a resolved identity on a live track. All
	// identity writes go through the tracker so no other component holds
	// track references across frames.
	SetIdentity(trackID int64, personID string, score float64, frameIndex int64)

	// Snapshot returns copies of all live tracks, sorted by TrackID.
	Snapshot() []TrackSnapshot

	// TrackCount returns counts of live tracks by state.
	TrackCount() (total, tentative, confirmed, lost int)
}

// Tracker owns the set of live tracks and applies the tentative →
// confirmed → lost → removed state machine each frame.
type Tracker struct {
	config TrackerConfig
	motion MotionModel
	assoc  Associator

	mu       sync.RWMutex
	tracks   map[int64]*Track
	nextID   int64
	stepping atomic.Bool
}

// Verify at compile time that *Tracker implements TrackerInterface.
var _ TrackerInterface = (*Tracker)(nil)

// NewTracker creates a tracker with the specified configuration, a
// constant-velocity motion model and exact IoU assignment.
func NewTracker(config TrackerConfig) *Tracker {
	return &Tracker{
		config: config,
		motion: ConstantVelocity{},
		assoc:  IoUAssociator{MinIoU: config.MinIoU},
		tracks: make(map[int64]*Track),
		nextID: 1,
	}
}

// NewTrackerWithStrategies creates a tracker with explicit motion and
// association strategies. Used by tests and parameter sweeps.
func NewTrackerWithStrategies(config TrackerConfig, motion MotionModel, assoc Associator) *Tracker {
	t := NewTracker(config)
	t.motion = motion
	t.assoc = assoc
	return t
}

// Step processes one frame's detections and commits lifecycle transitions.
//
// The pass runs on cloned tracks and swaps the live set in at the end, so
// an abandoned frame never leaves the tracker partially updated. Concurrent
// calls violate the single-writer contract and panic immediately.
func (t *Tracker) Step(dets []Detection, frameIndex int64) StepResult {
	if !t.stepping.CompareAndSwap(false, true) {
		panic("facetrack: concurrent Step calls on the same Tracker")
	}
	defer t.stepping.Store(false)

	t.mu.RLock()
	next := make(map[int64]*Track, len(t.tracks))
	order := make([]int64, 0, len(t.tracks))
	for id, tr := range t.tracks {
		next[id] = tr.clone()
		order = append(order, id)
	}
	t.mu.RUnlock()
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	var result StepResult

	// Stage 1: predict every live track one frame forward.
	predicted := make([]Box, len(order))
	for i, id := range order {
		tr := next[id]
		t.motion.Predict(tr.Motion)
		tr.Age++
		predicted[i] = tr.Motion.Box()
	}

	// Stage 2: optimal assignment of detections to predicted boxes.
	assoc := t.assoc.Associate(predicted, dets)

	// Stage 3: matched tracks fuse their observation and advance the
	// state machine toward Confirmed.
	for _, m := range assoc.Matches {
		tr := next[order[m.TrackIdx]]
		det := dets[m.DetIdx]
		t.motion.Update(tr.Motion, det.Box, det.Confidence)
		tr.Hits++
		lostFor := tr.TimeSinceUpdate
		tr.TimeSinceUpdate = 0
		tr.consecMisses = 0

		switch tr.State {
		case TrackTentative:
			if tr.Hits >= t.config.MinHits {
				tr.State = TrackConfirmed
				result.Promoted = append(result.Promoted, tr.TrackID)
				Diagf("track %d confirmed after %d hits", tr.TrackID, tr.Hits)
			}
		case TrackLost:
			// Re-association within the lost window restores the track
			// under its original ID.
			tr.State = TrackConfirmed
			Diagf("track %d re-acquired after %d lost frames", tr.TrackID, lostFor)
		}
	}

	// Stage 4: unmatched tracks miss one frame.
	for _, idx := range assoc.UnmatchedTracks {
		tr := next[order[idx]]
		tr.TimeSinceUpdate++
		tr.consecMisses++

		switch tr.State {
		case TrackTentative:
			// Detector flicker: a tentative track that misses before
			// confirmation is discarded without ever appearing in results.
			tr.State = TrackRemoved
		case TrackConfirmed:
			if tr.consecMisses >= t.config.ConfirmedMissGrace {
				tr.State = TrackLost
			}
		case TrackLost:
			if tr.TimeSinceUpdate > t.config.MaxLostFrames {
				tr.State = TrackRemoved
			}
		}
	}

	// Stage 5: unmatched high-confidence detections spawn tentative tracks.
	live := 0
	for _, tr := range next {
		if tr.State != TrackRemoved {
			live++
		}
	}
	for _, idx := range assoc.UnmatchedDetections {
		det := dets[idx]
		if det.Gated || det.Confidence < t.config.CreationConfidence {
			continue
		}
		if live >= t.config.MaxTracks {
			Opsf("track budget exhausted (%d), dropping new detection", t.config.MaxTracks)
			break
		}
		tr := &Track{
			TrackID: t.nextID,
			State:   TrackTentative,
			Motion:  t.motion.Initiate(det.Box),
			Age:     1,
			Hits:    1,
		}
		t.nextID++
		next[tr.TrackID] = tr
		live++
	}

	// Stage 6: evict removed tracks, reporting each ID exactly once.
	for id, tr := range next {
		if tr.State == TrackRemoved {
			result.Removed = append(result.Removed, id)
			delete(next, id)
		}
	}
	sort.Slice(result.Removed, func(i, j int) bool { return result.Removed[i] < result.Removed[j] })

	// Commit: swap the new track set in atomically.
	t.mu.Lock()
	t.tracks = next
	t.mu.Unlock()

	result.Tracks = t.Snapshot()
	return result
}

// SetIdentity records a resolved identity on a live track. Unknown IDs are
// ignored: the track may have been removed between resolution and write.
func (t *Tracker) SetIdentity(trackID int64, personID string, score float64, frameIndex int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.tracks[trackID]
	if !ok {
		return
	}
	tr.Identity = &Identity{PersonID: personID, Score: score, Frame: frameIndex}
}

// Snapshot returns copies of all live tracks, sorted by TrackID.
func (t *Tracker) Snapshot() []TrackSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snaps := make([]TrackSnapshot, 0, len(t.tracks))
	for _, tr := range t.tracks {
		s := TrackSnapshot{
			TrackID:         tr.TrackID,
			Box:             tr.Motion.Box(),
			State:           tr.State,
			Age:             tr.Age,
			Hits:            tr.Hits,
			TimeSinceUpdate: tr.TimeSinceUpdate,
		}
		if tr.Identity != nil {
			id := *tr.Identity
			s.Identity = &id
		}
		snaps = append(snaps, s)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].TrackID < snaps[j].TrackID })
	return snaps
}

// TrackCount returns counts of live tracks by state.
func (t *Tracker) TrackCount() (total, tentative, confirmed, lost int) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, tr := range t.tracks {
		total++
		switch tr.State {
		case TrackTentative:
			tentative++
		case TrackConfirmed:
			confirmed++
		case TrackLost:
			lost++
		}
	}
	return
}
