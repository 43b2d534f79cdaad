package facetrack

import (
	"math"
	"testing"
)

func TestConstantVelocity_InitiateRecoversBox(t *testing.T) {
	cv := ConstantVelocity{}
	box := Box{X1: 100, Y1: 60, X2: 160, Y2: 180}
	s := cv.Initiate(box)

	got := s.Box()
	if math.Abs(got.X1-box.X1) > 1e-6 || math.Abs(got.Y1-box.Y1) > 1e-6 ||
		math.Abs(got.X2-box.X2) > 1e-6 || math.Abs(got.Y2-box.Y2) > 1e-6 {
		t.Errorf("initiated state does not recover box: %+v vs %+v", got, box)
	}
}

func TestConstantVelocity_PredictGrowsUncertainty(t *testing.T) {
	cv := ConstantVelocity{}
	s := cv.Initiate(Box{X1: 0, Y1: 0, X2: 50, Y2: 100})

	before := s.PositionUncertainty()
	for i := 0; i < 5; i++ {
		cv.Predict(s)
	}
	after := s.PositionUncertainty()

	if after <= before {
		t.Errorf("uncertainty should grow under predict-only: before=%v after=%v", before, after)
	}
}

func TestConstantVelocity_PredictHoldsPositionWithZeroVelocity(t *testing.T) {
	cv := ConstantVelocity{}
	box := Box{X1: 20, Y1: 20, X2: 60, Y2: 100}
	s := cv.Initiate(box)

	cv.Predict(s)
	got := s.Box()
	cx0, cy0 := box.Center()
	cx1, cy1 := got.Center()
	if math.Abs(cx1-cx0) > 1e-6 || math.Abs(cy1-cy0) > 1e-6 {
		t.Errorf("zero-velocity predict moved the box: (%v,%v) -> (%v,%v)", cx0, cy0, cx1, cy1)
	}
}

func TestConstantVelocity_UpdateShrinksUncertainty(t *testing.T) {
	cv := ConstantVelocity{}
	s := cv.Initiate(Box{X1: 0, Y1: 0, X2: 50, Y2: 100})

	cv.Predict(s)
	afterPredict := s.PositionUncertainty()

	cv.Update(s, Box{X1: 2, Y1: 2, X2: 52, Y2: 102}, 0.9)
	afterUpdate := s.PositionUncertainty()

	if afterUpdate >= afterPredict {
		t.Errorf("update should shrink uncertainty: predict=%v update=%v", afterPredict, afterUpdate)
	}
}

func TestConstantVelocity_UpdatePullsTowardMeasurement(t *testing.T) {
	cv := ConstantVelocity{}
	s := cv.Initiate(Box{X1: 0, Y1: 0, X2: 50, Y2: 100})

	meas := Box{X1: 10, Y1: 10, X2: 60, Y2: 110}
	cv.Predict(s)
	cv.Update(s, meas, 0.9)

	cx, cy := s.Box().Center()
	mx, my := meas.Center()
	px, py := Box{X1: 0, Y1: 0, X2: 50, Y2: 100}.Center()

	// Posterior center must lie strictly between prior and measurement.
	if !(cx > px && cx <= mx) || !(cy > py && cy <= my) {
		t.Errorf("posterior center (%v,%v) not between prior (%v,%v) and measurement (%v,%v)",
			cx, cy, px, py, mx, my)
	}
}

func TestConstantVelocity_LearnsVelocity(t *testing.T) {
	cv := ConstantVelocity{}
	s := cv.Initiate(Box{X1: 0, Y1: 0, X2: 40, Y2: 80})

	// Feed a constant rightward motion of 10px/frame.
	for i := 1; i <= 10; i++ {
		cv.Predict(s)
		off := float64(i * 10)
		cv.Update(s, Box{X1: off, Y1: 0, X2: off + 40, Y2: 80}, 0.9)
	}

	// Predict-only: the learned velocity should carry the box forward.
	beforeX, _ := s.Box().Center()
	cv.Predict(s)
	afterX, _ := s.Box().Center()

	if afterX-beforeX < 5 {
		t.Errorf("expected learned velocity to carry box forward by ~10px, moved %v", afterX-beforeX)
	}
}

func TestConstantVelocity_ConfidenceScalesTrust(t *testing.T) {
	cv := ConstantVelocity{}
	meas := Box{X1: 20, Y1: 0, X2: 70, Y2: 100}

	high := cv.Initiate(Box{X1: 0, Y1: 0, X2: 50, Y2: 100})
	cv.Predict(high)
	cv.Update(high, meas, 0.99)

	low := cv.Initiate(Box{X1: 0, Y1: 0, X2: 50, Y2: 100})
	cv.Predict(low)
	cv.Update(low, meas, 0.2)

	hx, _ := high.Box().Center()
	lx, _ := low.Box().Center()
	mx, _ := meas.Center()

	// The high-confidence update should land closer to the measurement.
	if math.Abs(hx-mx) >= math.Abs(lx-mx) {
		t.Errorf("high-confidence update (%v) should be closer to measurement (%v) than low-confidence (%v)",
			hx, mx, lx)
	}
}

func TestMotionState_CloneIsIndependent(t *testing.T) {
	cv := ConstantVelocity{}
	s := cv.Initiate(Box{X1: 0, Y1: 0, X2: 50, Y2: 100})
	c := s.Clone()

	cv.Predict(s)
	cv.Update(s, Box{X1: 30, Y1: 30, X2: 80, Y2: 130}, 0.9)

	got := c.Box()
	if math.Abs(got.X1) > 1e-6 || math.Abs(got.Y1) > 1e-6 {
		t.Errorf("mutating the original changed the clone: %+v", got)
	}
}
