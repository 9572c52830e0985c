package mailbox

import (
	"sync/atomic"
	"time"
)

// edgeCell latches one physical-input edge with its timestamp. The
// signal side runs in interrupt-like context and must do the minimum
// possible: set the stamp, set the flag, nothing else.
type edgeCell struct {
	pending atomic.Bool
	stamp   atomic.Int64 // unix nanoseconds of the latest edge
}

func (c *edgeCell) signal(now time.Time) {
	c.stamp.Store(now.UnixNano())
	c.pending.Store(true)
}

func (c *edgeCell) take() (time.Time, bool) {
	if !c.pending.Swap(false) {
		return time.Time{}, false
	}
	return time.Unix(0, c.stamp.Load()), true
}

// InputLatch holds the pending-edge cells for the two physical buttons.
// Edges collapse until drained; debouncing happens at the consumer.
type InputLatch struct {
	capture edgeCell
	mode    edgeCell
}

// NewInputLatch returns a latch with no pending edges.
func NewInputLatch() *InputLatch {
	return &InputLatch{}
}

// SignalCaptureEdge records a capture-button edge.
func (l *InputLatch) SignalCaptureEdge(now time.Time) { l.capture.signal(now) }

// SignalModeEdge records a mode-button edge.
func (l *InputLatch) SignalModeEdge(now time.Time) { l.mode.signal(now) }

// TakeCaptureEdge drains the capture cell, returning the edge timestamp.
func (l *InputLatch) TakeCaptureEdge() (time.Time, bool) { return l.capture.take() }

// TakeModeEdge drains the mode cell.
func (l *InputLatch) TakeModeEdge() (time.Time, bool) { return l.mode.take() }
