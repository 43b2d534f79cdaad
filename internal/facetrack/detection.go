package facetrack

// Detection is a single frame-local face observation from the external
// detector. Detections are ephemeral: they exist only for the current
// frame's association pass and are never retained across frames.
type Detection struct {
	Box        Box
	Confidence float64

	// Gated marks a detection that failed the quality gate (too small,
	// too oblique). Gated detections may still keep an existing track
	// alive through association, but never spawn new tracks.
	Gated bool
}

// ApplyQualityGate marks detections whose box is degenerate or whose
// shorter side is below minSize pixels. The slice is modified in place
// and returned for convenience.
func ApplyQualityGate(dets []Detection, minSize float64) []Detection {
	for i := range dets {
		b := dets[i].Box
		if b.IsDegenerate() || b.Width() < minSize || b.Height() < minSize {
			dets[i].Gated = true
		}
	}
	return dets
}
