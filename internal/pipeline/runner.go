package pipeline

import (
	"context"
	"errors"
	"sync"
)

// ErrFrameDropped reports that a submitted frame was displaced by a newer
// one before processing began. The caller is informed, not silently
// starved.
var ErrFrameDropped = errors.New("pipeline: frame dropped by newer submission")

// ErrRunnerStopped reports that the runner shut down before the frame was
// processed.
var ErrRunnerStopped = errors.New("pipeline: runner stopped")

// Result delivers the outcome of one submitted frame.
type Result struct {
	Record *FrameRecord
	Err    error
}

type submission struct {
	frame Frame
	out   chan Result
}

// Runner drives one pipeline instance over a single stream with bounded
// backpressure: at most one frame in flight and one pending. A frame
// arriving while both slots are occupied replaces the pending slot
// (newest wins) and the displaced submission resolves with
// ErrFrameDropped.
type Runner struct {
	pipeline *Pipeline

	mu      sync.Mutex
	pending *submission
	notify  chan struct{}

	dropped uint64
}

// NewRunner creates a runner for the given pipeline.
func NewRunner(p *Pipeline) *Runner {
	return &Runner{
		pipeline: p,
		notify:   make(chan struct{}, 1),
	}
}

// Submit queues a frame for processing and returns a channel that receives
// exactly one Result. If a frame is already pending, the older one is
// displaced and its channel resolves with ErrFrameDropped.
func (r *Runner) Submit(frame Frame) <-chan Result {
	s := &submission{frame: frame, out: make(chan Result, 1)}

	r.mu.Lock()
	if r.pending != nil {
		r.dropped++
		r.pending.out <- Result{Err: ErrFrameDropped}
		tracef("[%s] frame %d displaced by frame %d (dropped=%d)",
			r.pending.frame.StreamID, r.pending.frame.Index, frame.Index, r.dropped)
	}
	r.pending = s
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
	return s.out
}

// Dropped returns the number of frames displaced so far.
func (r *Runner) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Run processes submissions until the context is cancelled. Frames are
// processed strictly sequentially: frame N+1 never begins before frame
// N's lifecycle commit completes. On shutdown the pending frame (if any)
// resolves with ErrRunnerStopped; an in-flight frame finishes its current
// stage sequence via context cancellation between commits.
func (r *Runner) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return
		case <-r.notify:
		}

		r.mu.Lock()
		s := r.pending
		r.pending = nil
		r.mu.Unlock()
		if s == nil {
			continue
		}

		record, err := r.pipeline.ProcessFrame(ctx, s.frame)
		s.out <- Result{Record: record, Err: err}
	}
}

// drain resolves any still-pending submission on shutdown.
func (r *Runner) drain() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending != nil {
		r.pending.out <- Result{Err: ErrRunnerStopped}
		r.pending = nil
	}
}
