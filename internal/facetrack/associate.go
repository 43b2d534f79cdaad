package facetrack

// Match pairs a track index with a detection index for one frame.
type Match struct {
	TrackIdx int
	DetIdx   int
	IoU      float64
}

// AssociationResult is the outcome of one frame's association pass:
// a one-to-one matching plus the explicitly unmatched leftovers.
type AssociationResult struct {
	Matches             []Match
	UnmatchedTracks     []int
	UnmatchedDetections []int
}

// Associator produces a one-to-one pairing between predicted track boxes
// and current-frame detections. An abstraction point so the assignment
// strategy can be swapped without touching the lifecycle state machine.
type Associator interface {
	Associate(predicted []Box, dets []Detection) AssociationResult
}

// IoUAssociator matches by geometric overlap: cost is 1 − IoU, pairs below
// MinIoU are forbidden, and the optimal assignment is solved exactly with
// the Hungarian algorithm.
type IoUAssociator struct {
	// MinIoU is the minimum overlap for a candidate pair. Pairs below it
	// are excluded from the cost matrix entirely.
	MinIoU float64
}

var _ Associator = IoUAssociator{}

// confidenceTieBreak is subtracted from the cost, scaled by detection
// confidence. It is far below any meaningful IoU difference, so it only
// decides between assignments whose geometric cost is identical: the
// higher-confidence detection wins, deterministically.
const confidenceTieBreak = 1e-9

// Associate solves the assignment for one frame. Zero tracks or zero
// detections are valid inputs and short-circuit to all-unmatched.
func (a IoUAssociator) Associate(predicted []Box, dets []Detection) AssociationResult {
	res := AssociationResult{}

	if len(predicted) == 0 || len(dets) == 0 {
		for i := range predicted {
			res.UnmatchedTracks = append(res.UnmatchedTracks, i)
		}
		for j := range dets {
			res.UnmatchedDetections = append(res.UnmatchedDetections, j)
		}
		return res
	}

	cost := make([][]float64, len(predicted))
	overlap := make([][]float64, len(predicted))
	for i, box := range predicted {
		cost[i] = make([]float64, len(dets))
		overlap[i] = make([]float64, len(dets))
		for j, det := range dets {
			iou := IoU(box, det.Box)
			overlap[i][j] = iou
			if iou < a.MinIoU {
				cost[i][j] = costForbidden
				continue
			}
			c := 1 - iou
			if c < 0 {
				c = 0
			} else if c > 1 {
				c = 1
			}
			cost[i][j] = c - confidenceTieBreak*det.Confidence
		}
	}

	assignments := hungarianAssign(cost)

	matchedDet := make([]bool, len(dets))
	for i, j := range assignments {
		if j < 0 {
			res.UnmatchedTracks = append(res.UnmatchedTracks, i)
			continue
		}
		res.Matches = append(res.Matches, Match{TrackIdx: i, DetIdx: j, IoU: overlap[i][j]})
		matchedDet[j] = true
	}
	for j := range dets {
		if !matchedDet[j] {
			res.UnmatchedDetections = append(res.UnmatchedDetections, j)
		}
	}
	return res
}
