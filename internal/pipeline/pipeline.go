// Package pipeline runs the hardware-context loop: one capture + decode
// + present cycle per iteration, then a request check, then a brief
// yield. The loop itself is the retry policy - a failed cycle is simply
// dropped and the display keeps the last good frame.
package pipeline

import (
	"context"
	"log"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/Dannycyd/ECE4180-Camera/internal/frame"
)

// Camera is the blocking capture contract (the capture engine).
type Camera interface {
	Capture() ([]byte, error)
}

// Decoder expands a compressed payload into the shared pixel frame.
type Decoder interface {
	Decode(payload []byte) error
}

// Presenter pushes the pixel frame to the panel.
type Presenter interface {
	Present(pf *frame.Pixel) error
}

// Coordinator handles per-iteration request draining and capture modes.
type Coordinator interface {
	Tick(now time.Time)
	ModeText() string
	StateText() string
}

// Store exposes the persistence facts the loop and status query need.
type Store interface {
	Saving() bool
	Count() uint32
	Available() bool
}

// Status is the snapshot handed to the control surface.
type Status struct {
	Mode            string `json:"mode"`
	State           string `json:"status"`
	Photos          uint32 `json:"photos"`
	SDAvailable     bool   `json:"sdAvailable"`
	CameraAvailable bool   `json:"cameraAvailable"`
}

// Deps wires the pipeline's collaborators.
type Deps struct {
	Camera      Camera
	Decoder     Decoder
	Presenter   Presenter
	Coordinator Coordinator
	Store       Store

	Compressed *frame.Compressed
	Pixel      *frame.Pixel

	// CameraAvailable is the startup probe result; without a camera the
	// loop still services requests and the control surface.
	CameraAvailable bool

	// Yield between iterations; keeps the context cooperative without
	// starving the network context's snapshot reads.
	Yield time.Duration
}

// Pipeline is the owner of the hardware context.
type Pipeline struct {
	d Deps

	cycles      atomic.Uint64
	presented   atomic.Uint64
	captureErrs atomic.Uint64
	decodeErrs  atomic.Uint64
	presentErrs atomic.Uint64

	// statsLogged is only touched by the loop goroutine.
	statsLogged uint64
}

// New creates a pipeline. All buffers in d must already be allocated;
// the loop never allocates on the hot path.
func New(d Deps) *Pipeline {
	if d.Yield <= 0 {
		d.Yield = 5 * time.Millisecond
	}
	return &Pipeline{d: d}
}

// Run executes the loop until ctx is canceled. It pins the hardware
// context to one OS thread for the lifetime of the loop.
func (p *Pipeline) Run(ctx context.Context) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	log.Printf("[Pipeline] Hardware loop started (camera=%v, storage=%v)",
		p.d.CameraAvailable, p.d.Store.Available())

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Pipeline] Hardware loop stopped: %v", ctx.Err())
			return
		default:
		}

		p.runCycle(time.Now())
		time.Sleep(p.d.Yield)
	}
}

// runCycle performs one loop iteration. Split out so tests can drive the
// loop with a controlled clock.
func (p *Pipeline) runCycle(now time.Time) {
	p.cycles.Add(1)

	// While a save is in flight the preview must not touch the shared
	// bus; the skipped iterations are the mutual exclusion.
	if p.d.CameraAvailable && !p.d.Store.Saving() {
		p.previewCycle()
	}

	p.d.Coordinator.Tick(now)
	p.maybeLogStats()
}

func (p *Pipeline) previewCycle() {
	payload, err := p.d.Camera.Capture()
	if err != nil {
		if n := p.captureErrs.Add(1); n == 1 || n%50 == 0 {
			log.Printf("[Pipeline] Capture failed (#%d): %v", n, err)
		}
		return
	}
	if err := p.d.Decoder.Decode(payload); err != nil {
		if n := p.decodeErrs.Add(1); n == 1 || n%50 == 0 {
			log.Printf("[Pipeline] Decode failed (#%d): %v", n, err)
		}
		return
	}
	if err := p.d.Presenter.Present(p.d.Pixel); err != nil {
		if n := p.presentErrs.Add(1); n == 1 || n%50 == 0 {
			log.Printf("[Pipeline] Present failed (#%d): %v", n, err)
		}
		return
	}
	p.presented.Add(1)
}

// maybeLogStats emits a health line every 150 presented frames.
func (p *Pipeline) maybeLogStats() {
	n := p.presented.Load()
	if n == 0 || n%150 != 0 || n == p.statsLogged {
		return
	}
	p.statsLogged = n
	log.Printf("[Pipeline] Frames: %d presented / %d cycles (capture errs: %d, decode errs: %d)",
		n, p.cycles.Load(), p.captureErrs.Load(), p.decodeErrs.Load())
}

// Status returns the snapshot the control surface serves.
func (p *Pipeline) Status() Status {
	return Status{
		Mode:            p.d.Coordinator.ModeText(),
		State:           p.d.Coordinator.StateText(),
		Photos:          p.d.Store.Count(),
		SDAvailable:     p.d.Store.Available(),
		CameraAvailable: p.d.CameraAvailable,
	}
}

// LatestFrame returns a copy of the most recent validated compressed
// frame, or nil when none exists. Safe from the network context.
func (p *Pipeline) LatestFrame() []byte {
	return p.d.Compressed.Snapshot()
}
