// Package coordinator merges debounced physical-input edges and
// network-issued requests into capture actions: instant, or after a
// counted-down delay during which the preview keeps streaming.
package coordinator

import (
	"log"
	"sync/atomic"
	"time"

	"github.com/Dannycyd/ECE4180-Camera/internal/indicator"
	"github.com/Dannycyd/ECE4180-Camera/internal/mailbox"
)

// Mode selects how an accepted capture event is executed.
type Mode int32

const (
	Instant Mode = iota
	Countdown
)

func (m Mode) String() string {
	if m == Countdown {
		return "Countdown"
	}
	return "Instant"
}

type phase int

const (
	phaseIdle phase = iota
	phaseCounting
)

// Camera is the synchronous capture contract the coordinator drives.
type Camera interface {
	Capture() ([]byte, error)
}

// Saver persists a captured payload. The coordinator is the sole caller.
type Saver interface {
	Save(payload []byte) (string, error)
}

// Config holds coordinator timing.
type Config struct {
	DebounceWindow time.Duration // minimum spacing between accepted edges per source
	CountdownSteps int
	StepInterval   time.Duration
}

// debounce tracks the last accepted edge for one source.
type debounce struct {
	window time.Duration
	last   time.Time
}

func (d *debounce) accept(t time.Time) bool {
	if !d.last.IsZero() && t.Sub(d.last) < d.window {
		return false
	}
	d.last = t
	return true
}

// Coordinator is the {Instant,Countdown} x {idle,counting} state machine.
// Tick is called once per hardware-loop iteration; all capture and save
// work happens synchronously inside it.
type Coordinator struct {
	mb     *mailbox.Mailbox
	inputs *mailbox.InputLatch
	cam    Camera
	saver  Saver
	led    *indicator.LED
	cfg    Config

	// Each trigger source debounces independently before merging.
	dbBtnCapture debounce
	dbBtnMode    debounce
	dbNetCapture debounce
	dbNetToggle  debounce
	dbNetCount   debounce

	mode  atomic.Int32
	state atomic.Value // string, read by the status query

	phase     phase
	stepsLeft int
	nextStep  time.Time
}

// New creates a coordinator in Instant mode, idle.
func New(mb *mailbox.Mailbox, inputs *mailbox.InputLatch, cam Camera, saver Saver, led *indicator.LED, cfg Config) *Coordinator {
	c := &Coordinator{
		mb:           mb,
		inputs:       inputs,
		cam:          cam,
		saver:        saver,
		led:          led,
		cfg:          cfg,
		dbBtnCapture: debounce{window: cfg.DebounceWindow},
		dbBtnMode:    debounce{window: cfg.DebounceWindow},
		dbNetCapture: debounce{window: cfg.DebounceWindow},
		dbNetToggle:  debounce{window: cfg.DebounceWindow},
		dbNetCount:   debounce{window: cfg.DebounceWindow},
	}
	c.state.Store("idle")
	return c
}

// Mode returns the current capture mode.
func (c *Coordinator) Mode() Mode { return Mode(c.mode.Load()) }

// ModeText returns the mode name for the status query.
func (c *Coordinator) ModeText() string { return c.Mode().String() }

// StateText returns the textual state for the status query.
func (c *Coordinator) StateText() string { return c.state.Load().(string) }

// Tick drains pending requests, advances a running countdown, and runs
// capture+save pairs when due.
func (c *Coordinator) Tick(now time.Time) {
	c.drainModeToggle(now)

	capture, countdown := c.drainTriggers(now)

	switch c.phase {
	case phaseIdle:
		switch {
		case countdown || (capture && c.Mode() == Countdown):
			c.startCountdown(now)
		case capture:
			c.captureAndSave()
		}
	case phaseCounting:
		// Extra triggers during a countdown collapse into the one
		// already running.
		c.advanceCountdown(now)
	}
}

func (c *Coordinator) drainModeToggle(now time.Time) {
	toggled := false
	if ts, ok := c.inputs.TakeModeEdge(); ok && c.dbBtnMode.accept(ts) {
		toggled = true
	}
	if c.mb.TakeModeToggle() && c.dbNetToggle.accept(now) {
		toggled = true
	}
	if !toggled {
		return
	}
	next := Instant
	if c.Mode() == Instant {
		next = Countdown
	}
	c.mode.Store(int32(next))
	log.Printf("[Coordinator] Mode -> %s", next)
	c.led.Blink(indicator.Cyan, 1, 100*time.Millisecond)
}

func (c *Coordinator) drainTriggers(now time.Time) (capture, countdown bool) {
	if ts, ok := c.inputs.TakeCaptureEdge(); ok && c.dbBtnCapture.accept(ts) {
		capture = true
	}
	if c.mb.TakeCapture() && c.dbNetCapture.accept(now) {
		capture = true
	}
	if c.mb.TakeCountdown() && c.dbNetCount.accept(now) {
		countdown = true
	}
	return capture, countdown
}

func (c *Coordinator) startCountdown(now time.Time) {
	c.phase = phaseCounting
	c.stepsLeft = c.cfg.CountdownSteps
	c.nextStep = now
	c.state.Store("counting")
	log.Printf("[Coordinator] Countdown started (%d steps)", c.stepsLeft)
}

func (c *Coordinator) advanceCountdown(now time.Time) {
	if now.Before(c.nextStep) {
		return
	}
	if c.stepsLeft > 0 {
		log.Printf("[Coordinator] Countdown: %d", c.stepsLeft)
		c.led.Pulse(indicator.Blue)
		c.stepsLeft--
		c.nextStep = c.nextStep.Add(c.cfg.StepInterval)
		return
	}
	c.phase = phaseIdle
	c.captureAndSave()
}

// captureAndSave performs exactly one capture()+save() pair.
func (c *Coordinator) captureAndSave() {
	c.state.Store("capturing")
	c.led.Set(indicator.Red)

	payload, err := c.cam.Capture()
	if err != nil {
		log.Printf("[Coordinator] Capture failed: %v", err)
		c.fail()
		return
	}

	c.state.Store("saving")
	c.led.Set(indicator.Yellow)

	name, err := c.saver.Save(payload)
	if err != nil {
		log.Printf("[Coordinator] Save failed: %v", err)
		c.fail()
		return
	}

	log.Printf("[Coordinator] Saved %s", name)
	c.led.Set(indicator.Green)
	c.state.Store("idle")
}

func (c *Coordinator) fail() {
	c.led.Set(indicator.Red)
	c.state.Store("idle")
}
