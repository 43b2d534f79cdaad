package facetrack

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Motion model state layout: [cx, cy, a, h, vcx, vcy, va, vh].
// Position channels are the (centre-x, centre-y, aspect, height) box
// parameterisation; velocity channels are their per-frame derivatives.
const (
	motionStateDim = 8
	motionMeasDim  = 4
)

// Noise weights relative to box height. Larger faces move more pixels per
// frame, so process and measurement noise scale with the observed height.
const (
	stdWeightPosition = 1.0 / 20.0
	stdWeightVelocity = 1.0 / 160.0
)

// minConfidenceNoiseScale bounds how far a high-confidence observation can
// shrink the measurement noise. Prevents a zero observation covariance.
const minConfidenceNoiseScale = 0.01

// MotionState holds a track's position/velocity estimate and its
// uncertainty. It is owned by a single Track and must be cloned before a
// speculative lifecycle pass mutates it.
type MotionState struct {
	mean *mat.VecDense // 8-vector
	cov  *mat.Dense    // 8x8 covariance
}

// Clone returns a deep copy of the motion state.
func (s *MotionState) Clone() *MotionState {
	return &MotionState{
		mean: mat.VecDenseCopyOf(s.mean),
		cov:  mat.DenseCopyOf(s.cov),
	}
}

// Box returns the current state estimate as a pixel box.
func (s *MotionState) Box() Box {
	return BoxFromXYAH(s.mean.AtVec(0), s.mean.AtVec(1), s.mean.AtVec(2), s.mean.AtVec(3))
}

// PositionUncertainty returns the root sum of the centre-position variances.
// It grows monotonically while a track coasts unobserved.
func (s *MotionState) PositionUncertainty() float64 {
	return math.Sqrt(s.cov.At(0, 0) + s.cov.At(1, 1))
}

// MotionModel abstracts the per-track state estimator so alternative
// estimators can be swapped without touching the lifecycle state machine.
type MotionModel interface {
	// Initiate creates the state for a newly observed box. Velocity
	// channels start at zero with high uncertainty.
	Initiate(box Box) *MotionState

	// Predict advances the state one frame under the motion assumption,
	// inflating uncertainty by the process noise.
	Predict(s *MotionState)

	// Update fuses an observed box into the state. Confidence in (0, 1]
	// scales the observation noise: higher confidence corrects harder.
	Update(s *MotionState, box Box, confidence float64)
}

// ConstantVelocity is the default motion model: a linear Kalman filter
// with a constant-velocity transition, the same estimator shape used for
// every tracked object class.
type ConstantVelocity struct{}

var _ MotionModel = ConstantVelocity{}

// Initiate creates a motion state centred on the observed box.
func (ConstantVelocity) Initiate(box Box) *MotionState {
	cx, cy, a, h := box.ToXYAH()

	mean := mat.NewVecDense(motionStateDim, []float64{cx, cy, a, h, 0, 0, 0, 0})

	std := []float64{
		2 * stdWeightPosition * h,
		2 * stdWeightPosition * h,
		1e-2,
		2 * stdWeightPosition * h,
		10 * stdWeightVelocity * h,
		10 * stdWeightVelocity * h,
		1e-5,
		10 * stdWeightVelocity * h,
	}
	cov := mat.NewDense(motionStateDim, motionStateDim, nil)
	for i, v := range std {
		cov.Set(i, i, v*v)
	}

	return &MotionState{mean: mean, cov: cov}
}

// transition returns the constant-velocity state transition matrix for a
// one-frame step: identity with unit coupling from velocity to position.
func transition() *mat.Dense {
	f := mat.NewDense(motionStateDim, motionStateDim, nil)
	for i := 0; i < motionStateDim; i++ {
		f.Set(i, i, 1)
	}
	for i := 0; i < motionMeasDim; i++ {
		f.Set(i, i+motionMeasDim, 1)
	}
	return f
}

// observation returns the measurement matrix extracting the position block.
func observation() *mat.Dense {
	h := mat.NewDense(motionMeasDim, motionStateDim, nil)
	for i := 0; i < motionMeasDim; i++ {
		h.Set(i, i, 1)
	}
	return h
}

// processNoise builds Q for the current height estimate.
func processNoise(height float64) *mat.Dense {
	std := []float64{
		stdWeightPosition * height,
		stdWeightPosition * height,
		1e-2,
		stdWeightPosition * height,
		stdWeightVelocity * height,
		stdWeightVelocity * height,
		1e-5,
		stdWeightVelocity * height,
	}
	q := mat.NewDense(motionStateDim, motionStateDim, nil)
	for i, v := range std {
		q.Set(i, i, v*v)
	}
	return q
}

// measurementNoise builds R for the current height estimate, scaled down
// for high-confidence observations.
func measurementNoise(height, confidence float64) *mat.Dense {
	scale := 1 - confidence
	if scale < minConfidenceNoiseScale {
		scale = minConfidenceNoiseScale
	}
	std := []float64{
		stdWeightPosition * height,
		stdWeightPosition * height,
		1e-1,
		stdWeightPosition * height,
	}
	r := mat.NewDense(motionMeasDim, motionMeasDim, nil)
	for i, v := range std {
		r.Set(i, i, v*v*scale)
	}
	return r
}

// Predict advances the state one frame: x' = F x, P' = F P Fᵀ + Q.
func (ConstantVelocity) Predict(s *MotionState) {
	f := transition()

	var predicted mat.VecDense
	predicted.MulVec(f, s.mean)
	s.mean.CopyVec(&predicted)

	var fp, fpft mat.Dense
	fp.Mul(f, s.cov)
	fpft.Mul(&fp, f.T())

	q := processNoise(s.mean.AtVec(3))
	fpft.Add(&fpft, q)
	s.cov.Copy(&fpft)
}

// Update fuses an observed box: the standard predict-then-correct linear
// estimator with gain K = P Hᵀ (H P Hᵀ + R)⁻¹. A singular innovation
// covariance leaves the state unchanged rather than corrupting it.
func (ConstantVelocity) Update(s *MotionState, box Box, confidence float64) {
	zx, zy, za, zh := box.ToXYAH()
	h := observation()

	// Innovation y = z - H x.
	var hx mat.VecDense
	hx.MulVec(h, s.mean)
	y := mat.NewVecDense(motionMeasDim, []float64{
		zx - hx.AtVec(0),
		zy - hx.AtVec(1),
		za - hx.AtVec(2),
		zh - hx.AtVec(3),
	})

	// S = H P Hᵀ + R.
	var pht, hpht mat.Dense
	pht.Mul(s.cov, h.T())
	hpht.Mul(h, &pht)
	r := measurementNoise(s.mean.AtVec(3), confidence)
	hpht.Add(&hpht, r)

	// K = P Hᵀ S⁻¹, via solving Sᵀ Kᵀ = (P Hᵀ)ᵀ.
	var kt mat.Dense
	if err := kt.Solve(hpht.T(), pht.T()); err != nil {
		return
	}
	k := kt.T()

	// x' = x + K y.
	var ky mat.VecDense
	ky.MulVec(k, y)
	s.mean.AddVec(s.mean, &ky)

	// P' = (I - K H) P.
	var kh mat.Dense
	kh.Mul(k, h)
	ikh := mat.NewDense(motionStateDim, motionStateDim, nil)
	for i := 0; i < motionStateDim; i++ {
		ikh.Set(i, i, 1)
	}
	ikh.Sub(ikh, &kh)

	var newCov mat.Dense
	newCov.Mul(ikh, s.cov)
	s.cov.Copy(&newCov)
}
