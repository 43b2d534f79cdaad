package facetrack

// Box is an axis-aligned bounding box in pixel coordinates.
// X1,Y1 is the top-left corner and X2,Y2 the bottom-right corner.
type Box struct {
	X1 float64
	Y1 float64
	X2 float64
	Y2 float64
}

// Width returns the horizontal extent of the box.
func (b Box) Width() float64 { return b.X2 - b.X1 }

// Height returns the vertical extent of the box.
func (b Box) Height() float64 { return b.Y2 - b.Y1 }

// Area returns the box area in square pixels.
func (b Box) Area() float64 { return b.Width() * b.Height() }

// Center returns the box centre point.
func (b Box) Center() (cx, cy float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// IsDegenerate reports whether the box has non-positive width or height.
// Degenerate boxes must not be cropped or fed to the motion model.
func (b Box) IsDegenerate() bool {
	return b.X2 <= b.X1 || b.Y2 <= b.Y1
}

// IoU computes the intersection-over-union overlap ratio between two boxes.
// Returns a value in [0, 1]; non-overlapping or degenerate boxes yield 0.
func IoU(a, b Box) float64 {
	if a.IsDegenerate() || b.IsDegenerate() {
		return 0
	}
	ix1 := max(a.X1, b.X1)
	iy1 := max(a.Y1, b.Y1)
	ix2 := min(a.X2, b.X2)
	iy2 := min(a.Y2, b.Y2)
	iw := ix2 - ix1
	ih := iy2 - iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// ToXYAH converts the box to the affine-invariant (cx, cy, aspect, height)
// parameterisation used by the motion model. Aspect is width/height, which
// keeps the constant-velocity estimator linear under scale changes.
func (b Box) ToXYAH() (cx, cy, aspect, height float64) {
	cx, cy = b.Center()
	height = b.Height()
	if height > 0 {
		aspect = b.Width() / height
	}
	return cx, cy, aspect, height
}

// BoxFromXYAH reconstructs a pixel box from the (cx, cy, aspect, height)
// parameterisation.
func BoxFromXYAH(cx, cy, aspect, height float64) Box {
	width := aspect * height
	return Box{
		X1: cx - width/2,
		Y1: cy - height/2,
		X2: cx + width/2,
		Y2: cy + height/2,
	}
}
