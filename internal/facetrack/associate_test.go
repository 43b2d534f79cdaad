package facetrack

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestIoUAssociator_EmptyInputs(t *testing.T) {
	a := IoUAssociator{MinIoU: 0.3}

	res := a.Associate(nil, nil)
	if len(res.Matches) != 0 || len(res.UnmatchedTracks) != 0 || len(res.UnmatchedDetections) != 0 {
		t.Errorf("expected all-empty result, got %+v", res)
	}

	res = a.Associate([]Box{{X1: 0, Y1: 0, X2: 10, Y2: 10}}, nil)
	if len(res.UnmatchedTracks) != 1 {
		t.Errorf("expected 1 unmatched track, got %+v", res)
	}

	res = a.Associate(nil, []Detection{{Box: Box{X1: 0, Y1: 0, X2: 10, Y2: 10}}})
	if len(res.UnmatchedDetections) != 1 {
		t.Errorf("expected 1 unmatched detection, got %+v", res)
	}
}

func TestIoUAssociator_ExactOverlap(t *testing.T) {
	a := IoUAssociator{MinIoU: 0.3}
	tracks := []Box{
		{X1: 0, Y1: 0, X2: 50, Y2: 50},
		{X1: 100, Y1: 100, X2: 150, Y2: 150},
	}
	dets := []Detection{
		{Box: Box{X1: 100, Y1: 100, X2: 150, Y2: 150}, Confidence: 0.9},
		{Box: Box{X1: 0, Y1: 0, X2: 50, Y2: 50}, Confidence: 0.9},
	}

	res := a.Associate(tracks, dets)
	if len(res.Matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(res.Matches))
	}
	for _, m := range res.Matches {
		if m.TrackIdx == 0 && m.DetIdx != 1 {
			t.Errorf("track 0 should match detection 1, got %d", m.DetIdx)
		}
		if m.TrackIdx == 1 && m.DetIdx != 0 {
			t.Errorf("track 1 should match detection 0, got %d", m.DetIdx)
		}
		if m.IoU < 0.99 {
			t.Errorf("expected IoU ~1.0, got %v", m.IoU)
		}
	}
}

func TestIoUAssociator_BelowThresholdUnmatched(t *testing.T) {
	a := IoUAssociator{MinIoU: 0.5}
	tracks := []Box{{X1: 0, Y1: 0, X2: 10, Y2: 10}}
	// Overlap exists but IoU ≈ 0.05, below threshold.
	dets := []Detection{{Box: Box{X1: 8, Y1: 8, X2: 20, Y2: 20}, Confidence: 0.9}}

	res := a.Associate(tracks, dets)
	if len(res.Matches) != 0 {
		t.Errorf("expected no matches below threshold, got %+v", res.Matches)
	}
	if len(res.UnmatchedTracks) != 1 || len(res.UnmatchedDetections) != 1 {
		t.Errorf("expected both sides unmatched, got %+v", res)
	}
}

func TestIoUAssociator_OptimalOverGreedy(t *testing.T) {
	a := IoUAssociator{MinIoU: 0.1}
	// Both tracks overlap both detections; the total-overlap optimum is
	// the crossed pairing 0→1, 1→0.
	tracks := []Box{
		{X1: 0, Y1: 0, X2: 100, Y2: 100},
		{X1: 0, Y1: 0, X2: 60, Y2: 100},
	}
	dets := []Detection{
		{Box: Box{X1: 0, Y1: 0, X2: 62, Y2: 100}, Confidence: 0.9},
		{Box: Box{X1: 0, Y1: 0, X2: 95, Y2: 100}, Confidence: 0.9},
	}

	res := a.Associate(tracks, dets)
	if len(res.Matches) != 2 {
		t.Fatalf("expected 2 matches, got %d (%+v)", len(res.Matches), res)
	}
	got := map[int]int{}
	for _, m := range res.Matches {
		got[m.TrackIdx] = m.DetIdx
	}
	if got[0] != 1 || got[1] != 0 {
		t.Errorf("expected optimal assignment {0:1, 1:0}, got %v", got)
	}
}

func TestIoUAssociator_ConfidenceTieBreak(t *testing.T) {
	a := IoUAssociator{MinIoU: 0.1}
	track := []Box{{X1: 0, Y1: 0, X2: 50, Y2: 50}}
	// Two detections with identical geometry; the higher-confidence one
	// must win regardless of input order.
	box := Box{X1: 0, Y1: 0, X2: 50, Y2: 50}

	res := a.Associate(track, []Detection{
		{Box: box, Confidence: 0.6},
		{Box: box, Confidence: 0.9},
	})
	if len(res.Matches) != 1 || res.Matches[0].DetIdx != 1 {
		t.Errorf("expected higher-confidence detection 1 to win, got %+v", res.Matches)
	}

	res = a.Associate(track, []Detection{
		{Box: box, Confidence: 0.9},
		{Box: box, Confidence: 0.6},
	})
	if len(res.Matches) != 1 || res.Matches[0].DetIdx != 0 {
		t.Errorf("expected higher-confidence detection 0 to win, got %+v", res.Matches)
	}
}

func TestIoUAssociator_Deterministic(t *testing.T) {
	a := IoUAssociator{MinIoU: 0.2}
	tracks := []Box{
		{X1: 0, Y1: 0, X2: 40, Y2: 40},
		{X1: 30, Y1: 30, X2: 70, Y2: 70},
		{X1: 60, Y1: 60, X2: 100, Y2: 100},
	}
	dets := []Detection{
		{Box: Box{X1: 5, Y1: 5, X2: 45, Y2: 45}, Confidence: 0.8},
		{Box: Box{X1: 32, Y1: 32, X2: 72, Y2: 72}, Confidence: 0.8},
		{Box: Box{X1: 58, Y1: 58, X2: 98, Y2: 98}, Confidence: 0.8},
	}

	first := a.Associate(tracks, dets)
	for i := 0; i < 20; i++ {
		if diff := cmp.Diff(first, a.Associate(tracks, dets)); diff != "" {
			t.Fatalf("association not deterministic on run %d (-first +got):\n%s", i, diff)
		}
	}
}
