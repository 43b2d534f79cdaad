package facetrack

import (
	"sync"
	"testing"
)

func det(b Box, conf float64) Detection {
	return Detection{Box: b, Confidence: conf}
}

func boxAt(x float64) Box {
	return Box{X1: x, Y1: 100, X2: x + 60, Y2: 220}
}

func singleState(t *testing.T, result StepResult) TrackState {
	t.Helper()
	if len(result.Tracks) != 1 {
		t.Fatalf("expected exactly 1 live track, got %d", len(result.Tracks))
	}
	return result.Tracks[0].State
}

func TestTracker_ConfirmationAfterMinHits(t *testing.T) {
	cfg := DefaultTrackerConfig()
	cfg.MinHits = 3
	tr := NewTracker(cfg)

	d := []Detection{det(boxAt(100), 0.9)}

	if got := singleState(t, tr.Step(d, 1)); got != TrackTentative {
		t.Errorf("frame 1: expected tentative, got %s", got)
	}
	if got := singleState(t, tr.Step(d, 2)); got != TrackTentative {
		t.Errorf("frame 2: expected tentative, got %s", got)
	}

	result := tr.Step(d, 3)
	if got := singleState(t, result); got != TrackConfirmed {
		t.Errorf("frame 3: expected confirmed, got %s", got)
	}
	if len(result.Promoted) != 1 {
		t.Errorf("expected 1 promotion on confirming frame, got %v", result.Promoted)
	}
}

func TestTracker_TentativeDiesOnFirstMiss(t *testing.T) {
	cfg := DefaultTrackerConfig()
	cfg.MinHits = 3
	tr := NewTracker(cfg)

	tr.Step([]Detection{det(boxAt(100), 0.9)}, 1)
	result := tr.Step(nil, 2)

	if len(result.Tracks) != 0 {
		t.Errorf("expected tentative track discarded on first miss, got %+v", result.Tracks)
	}
	if len(result.Removed) != 1 {
		t.Errorf("expected 1 removal reported, got %v", result.Removed)
	}
}

func TestTracker_LowConfidenceNeverSpawns(t *testing.T) {
	cfg := DefaultTrackerConfig()
	cfg.CreationConfidence = 0.5
	tr := NewTracker(cfg)

	result := tr.Step([]Detection{det(boxAt(100), 0.3)}, 1)
	if len(result.Tracks) != 0 {
		t.Errorf("expected no track from low-confidence detection, got %+v", result.Tracks)
	}
}

func TestTracker_GatedDetectionMatchesButNeverSpawns(t *testing.T) {
	cfg := DefaultTrackerConfig()
	cfg.MinHits = 2
	tr := NewTracker(cfg)

	// Gated detection must not spawn.
	gated := det(boxAt(100), 0.9)
	gated.Gated = true
	if result := tr.Step([]Detection{gated}, 1); len(result.Tracks) != 0 {
		t.Fatalf("gated detection spawned a track: %+v", result.Tracks)
	}

	// But a gated detection still keeps an existing track alive.
	tr.Step([]Detection{det(boxAt(100), 0.9)}, 2)
	result := tr.Step([]Detection{gated}, 3)
	if len(result.Tracks) != 1 || result.Tracks[0].TimeSinceUpdate != 0 {
		t.Errorf("gated detection should update the existing track: %+v", result.Tracks)
	}
}

func TestTracker_ConfirmedToLostToReacquired(t *testing.T) {
	cfg := DefaultTrackerConfig()
	cfg.MinHits = 2
	cfg.ConfirmedMissGrace = 1
	cfg.MaxLostFrames = 10
	tr := NewTracker(cfg)

	d := []Detection{det(boxAt(100), 0.9)}
	tr.Step(d, 1)
	result := tr.Step(d, 2)
	if got := singleState(t, result); got != TrackConfirmed {
		t.Fatalf("expected confirmed after 2 hits, got %s", got)
	}
	id := result.Tracks[0].TrackID

	// Miss: confirmed demotes to lost within the grace.
	result = tr.Step(nil, 3)
	if got := singleState(t, result); got != TrackLost {
		t.Fatalf("expected lost after miss, got %s", got)
	}

	// Reappears near the prediction: same ID, confirmed again.
	result = tr.Step(d, 4)
	if got := singleState(t, result); got != TrackConfirmed {
		t.Fatalf("expected re-acquired confirmed, got %s", got)
	}
	if result.Tracks[0].TrackID != id {
		t.Errorf("re-acquisition changed track ID: %d -> %d", id, result.Tracks[0].TrackID)
	}
	if len(result.Promoted) != 0 {
		t.Errorf("re-acquisition must not re-promote, got %v", result.Promoted)
	}
}

func TestTracker_LostRemovedAfterMaxLostFrames(t *testing.T) {
	cfg := DefaultTrackerConfig()
	cfg.MinHits = 2
	cfg.ConfirmedMissGrace = 1
	cfg.MaxLostFrames = 5
	tr := NewTracker(cfg)

	d := []Detection{det(boxAt(100), 0.9)}
	tr.Step(d, 1)
	result := tr.Step(d, 2)
	if got := singleState(t, result); got != TrackConfirmed {
		t.Fatalf("expected confirmed, got %s", got)
	}
	id := result.Tracks[0].TrackID

	// Misses accumulate until TimeSinceUpdate exceeds the lost budget.
	frame := int64(3)
	for ; frame <= 7; frame++ {
		result = tr.Step(nil, frame)
		if len(result.Tracks) != 1 {
			t.Fatalf("frame %d: track removed too early (%+v)", frame, result)
		}
		if got := result.Tracks[0].State; got != TrackLost {
			t.Fatalf("frame %d: expected lost, got %s", frame, got)
		}
	}

	result = tr.Step(nil, frame)
	if len(result.Tracks) != 0 {
		t.Fatalf("frame %d: expected removal after lost budget, got %+v", frame, result.Tracks)
	}
	if len(result.Removed) != 1 || result.Removed[0] != id {
		t.Errorf("expected removal of track %d reported once, got %v", id, result.Removed)
	}

	// The removal is reported exactly once.
	result = tr.Step(nil, frame+1)
	if len(result.Removed) != 0 {
		t.Errorf("removal reported twice: %v", result.Removed)
	}
}

func TestTracker_IDsNeverReused(t *testing.T) {
	cfg := DefaultTrackerConfig()
	cfg.MinHits = 1
	tr := NewTracker(cfg)

	d := []Detection{det(boxAt(100), 0.9)}

	first := tr.Step(d, 1)
	firstID := first.Tracks[0].TrackID

	// Kill it, then spawn a fresh track in the same place.
	tr.Step(nil, 2)
	tr.Step(nil, 3)
	for i := int64(4); i < 40; i++ {
		tr.Step(nil, i)
	}
	second := tr.Step(d, 40)
	if len(second.Tracks) != 1 {
		t.Fatalf("expected fresh track, got %+v", second.Tracks)
	}
	if second.Tracks[0].TrackID <= firstID {
		t.Errorf("track ID reused or non-monotonic: first=%d second=%d", firstID, second.Tracks[0].TrackID)
	}
}

func TestTracker_TwoCrossingTracksKeepIdentity(t *testing.T) {
	cfg := DefaultTrackerConfig()
	cfg.MinHits = 1
	tr := NewTracker(cfg)

	left := 100.0
	right := 400.0
	result := tr.Step([]Detection{det(boxAt(left), 0.9), det(boxAt(right), 0.9)}, 1)
	if len(result.Tracks) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(result.Tracks))
	}

	// Walk them toward each other; each stays with its own detection.
	idByStart := map[int64]float64{}
	for _, s := range result.Tracks {
		idByStart[s.TrackID] = s.Box.X1
	}
	for frame := int64(2); frame <= 10; frame++ {
		left += 10
		right -= 10
		result = tr.Step([]Detection{det(boxAt(left), 0.9), det(boxAt(right), 0.9)}, frame)
		if len(result.Tracks) != 2 {
			t.Fatalf("frame %d: expected 2 tracks, got %d", frame, len(result.Tracks))
		}
	}

	for _, s := range result.Tracks {
		start := idByStart[s.TrackID]
		if start < 200 && s.Box.X1 < 150 {
			t.Errorf("left-starting track %d did not advance: at %v", s.TrackID, s.Box.X1)
		}
		if start > 300 && s.Box.X1 > 350 {
			t.Errorf("right-starting track %d did not advance: at %v", s.TrackID, s.Box.X1)
		}
	}
}

func TestTracker_MaxTracksBudget(t *testing.T) {
	cfg := DefaultTrackerConfig()
	cfg.MaxTracks = 2
	tr := NewTracker(cfg)

	dets := []Detection{
		det(boxAt(0), 0.9),
		det(boxAt(200), 0.9),
		det(boxAt(400), 0.9),
	}
	result := tr.Step(dets, 1)
	if len(result.Tracks) != 2 {
		t.Errorf("expected track budget of 2 enforced, got %d tracks", len(result.Tracks))
	}
}

func TestTracker_SetIdentityVisibleInSnapshot(t *testing.T) {
	cfg := DefaultTrackerConfig()
	cfg.MinHits = 1
	tr := NewTracker(cfg)

	result := tr.Step([]Detection{det(boxAt(100), 0.9)}, 1)
	id := result.Tracks[0].TrackID

	tr.SetIdentity(id, "person-7", 0.83, 1)

	snaps := tr.Snapshot()
	if len(snaps) != 1 || snaps[0].Identity == nil {
		t.Fatalf("expected identity on snapshot, got %+v", snaps)
	}
	if snaps[0].Identity.PersonID != "person-7" || snaps[0].Identity.Score != 0.83 {
		t.Errorf("unexpected identity: %+v", snaps[0].Identity)
	}

	// Unknown IDs are ignored, not fatal.
	tr.SetIdentity(9999, "ghost", 0.5, 1)
}

func TestTracker_SnapshotIsolation(t *testing.T) {
	cfg := DefaultTrackerConfig()
	cfg.MinHits = 1
	tr := NewTracker(cfg)

	tr.Step([]Detection{det(boxAt(100), 0.9)}, 1)
	snaps := tr.Snapshot()
	snaps[0].Identity = &Identity{PersonID: "tampered"}
	snaps[0].Hits = 999

	fresh := tr.Snapshot()
	if fresh[0].Identity != nil || fresh[0].Hits == 999 {
		t.Errorf("snapshot mutation leaked into tracker state: %+v", fresh[0])
	}
}

func TestTracker_TrackCount(t *testing.T) {
	cfg := DefaultTrackerConfig()
	cfg.MinHits = 2
	tr := NewTracker(cfg)

	dets := []Detection{det(boxAt(0), 0.9), det(boxAt(300), 0.9)}
	tr.Step(dets, 1)

	total, tentative, confirmed, lost := tr.TrackCount()
	if total != 2 || tentative != 2 || confirmed != 0 || lost != 0 {
		t.Errorf("unexpected counts after frame 1: total=%d tent=%d conf=%d lost=%d",
			total, tentative, confirmed, lost)
	}

	tr.Step(dets, 2)
	tr.Step(nil, 3)

	total, tentative, confirmed, lost = tr.TrackCount()
	if total != 2 || lost != 2 {
		t.Errorf("unexpected counts after miss: total=%d tent=%d conf=%d lost=%d",
			total, tentative, confirmed, lost)
	}
}

func TestTracker_ConcurrentStepPanics(t *testing.T) {
	cfg := DefaultTrackerConfig()
	blocker := make(chan struct{})
	release := make(chan struct{})
	tr := NewTrackerWithStrategies(cfg, ConstantVelocity{}, blockingAssociator{entered: blocker, release: release})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		tr.Step([]Detection{det(boxAt(100), 0.9)}, 1)
	}()
	<-blocker

	func() {
		defer func() {
			if recover() == nil {
				t.Errorf("expected panic on concurrent Step")
			}
			close(release)
		}()
		tr.Step(nil, 2)
	}()
	wg.Wait()
}

// blockingAssociator parks inside Associate so a second Step can be
// attempted while the first is mid-pass.
type blockingAssociator struct {
	entered chan struct{}
	release chan struct{}
}

func (b blockingAssociator) Associate(predicted []Box, dets []Detection) AssociationResult {
	b.entered <- struct{}{}
	<-b.release
	return IoUAssociator{MinIoU: 0.3}.Associate(predicted, dets)
}
