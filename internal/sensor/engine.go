// Package sensor drives the camera module's internal-buffer protocol:
// trigger a capture, poll for completion, read the FIFO length, burst
// the payload out, validate the header.
package sensor

import (
	"errors"
	"fmt"
	"log"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/Dannycyd/ECE4180-Camera/internal/frame"
	"github.com/Dannycyd/ECE4180-Camera/internal/spibus"
)

var (
	// ErrCaptureTimeout means the completion bit never set within the
	// configured bound. Transient: the preview loop retries next cycle.
	ErrCaptureTimeout = errors.New("sensor: capture completion timed out")
	// ErrInvalidLength means the FIFO reported zero bytes or more than
	// the compressed buffer can hold.
	ErrInvalidLength = errors.New("sensor: FIFO length out of range")
	// ErrValidationFailed means the payload does not start with the
	// format magic.
	ErrValidationFailed = errors.New("sensor: payload failed header validation")

	ErrProbeFailed = errors.New("sensor: module did not echo probe pattern")
)

// Config holds capture-engine tuning. ConfigClock is used for register
// traffic, BurstClock for the payload read; the module tolerates a much
// higher clock once it is streaming.
type Config struct {
	ConfigClock  physic.Frequency
	BurstClock   physic.Frequency
	Timeout      time.Duration // bound on completion polling
	PollInterval time.Duration

	// Clock source, injectable so tests can fail a timeout instantly.
	Now func() time.Time
}

// Engine owns the capture state machine and is the sole writer of the
// shared compressed frame. Capture is synchronous by design: its cadence
// paces the whole preview loop.
type Engine struct {
	bus *spibus.Arbiter
	out *frame.Compressed
	cfg Config

	// Burst scratch, sized once: command byte + full FIFO capacity.
	burstTx []byte
	burstRx []byte
}

// New creates a capture engine writing into out.
func New(bus *spibus.Arbiter, out *frame.Compressed, cfg Config) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		bus:     bus,
		out:     out,
		cfg:     cfg,
		burstTx: make([]byte, out.Capacity()+1),
		burstRx: make([]byte, out.Capacity()+1),
	}
}

// Probe writes a test pattern to the scratch register and reads it back,
// confirming the module is present on the bus before the pipeline starts.
func (e *Engine) Probe() error {
	return e.bus.WithTransaction(spibus.Sensor, e.cfg.ConfigClock, func(s spibus.Session) error {
		if err := e.writeReg(s, regTest, probePattern); err != nil {
			return err
		}
		got, err := e.readReg(s, regTest)
		if err != nil {
			return err
		}
		if got != probePattern {
			return fmt.Errorf("%w: got 0x%02X", ErrProbeFailed, got)
		}
		return nil
	})
}

// Capture runs one full acquisition and returns a view of the validated
// payload. The view aliases the shared buffer and must not be retained
// past the next Capture call. Any failure leaves the frame invalid.
func (e *Engine) Capture() ([]byte, error) {
	e.out.Invalidate()

	// Idle -> Triggered: flush stale FIFO contents and start a capture.
	err := e.bus.WithTransaction(spibus.Sensor, e.cfg.ConfigClock, func(s spibus.Session) error {
		if err := e.writeReg(s, regFIFOCtl, fifoClearMask); err != nil {
			return err
		}
		return e.writeReg(s, regFIFOCtl, fifoStartMask)
	})
	if err != nil {
		return nil, err
	}

	// AwaitingCompletion: bounded poll of the capture-done bit. The bus
	// is released between polls so a concurrent transaction attempt
	// fails fast instead of stalling behind the sensor.
	if err := e.awaitCompletion(); err != nil {
		return nil, err
	}

	// ReadingLength.
	n, err := e.readLength()
	if err != nil {
		return nil, err
	}
	if n == 0 || n > e.out.Capacity() {
		return nil, fmt.Errorf("%w: %d bytes (cap %d)", ErrInvalidLength, n, e.out.Capacity())
	}

	// Bursting: stream the payload at the high clock, then drop the
	// consumed frame from the FIFO.
	if err := e.burstRead(n); err != nil {
		return nil, err
	}

	// Validated: the committed frame must carry the format magic.
	if err := e.out.Commit(n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	return e.out.Payload(), nil
}

func (e *Engine) awaitCompletion() error {
	deadline := e.cfg.Now().Add(e.cfg.Timeout)
	for {
		var trig byte
		err := e.bus.WithTransaction(spibus.Sensor, e.cfg.ConfigClock, func(s spibus.Session) error {
			var err error
			trig, err = e.readReg(s, regTrigger)
			return err
		})
		if err != nil {
			return err
		}
		if trig&captureDoneMask != 0 {
			return nil
		}
		if !e.cfg.Now().Before(deadline) {
			return ErrCaptureTimeout
		}
		time.Sleep(e.cfg.PollInterval)
	}
}

func (e *Engine) readLength() (int, error) {
	var n int
	err := e.bus.WithTransaction(spibus.Sensor, e.cfg.ConfigClock, func(s spibus.Session) error {
		low, err := e.readReg(s, regFIFOSizeLow)
		if err != nil {
			return err
		}
		mid, err := e.readReg(s, regFIFOSizeMid)
		if err != nil {
			return err
		}
		high, err := e.readReg(s, regFIFOSizeHigh)
		if err != nil {
			return err
		}
		n = int(high&0x7F)<<16 | int(mid)<<8 | int(low)
		return nil
	})
	return n, err
}

func (e *Engine) burstRead(n int) error {
	return e.bus.WithTransaction(spibus.Sensor, e.cfg.BurstClock, func(s spibus.Session) error {
		tx := e.burstTx[:n+1]
		rx := e.burstRx[:n+1]
		tx[0] = cmdBurstRead
		for i := 1; i < len(tx); i++ {
			tx[i] = 0
		}
		if err := s.Tx(tx, rx); err != nil {
			return err
		}
		copy(e.out.Buffer(), rx[1:])
		// Clear the FIFO so the next capture starts from an empty buffer
		// even if this frame ends up failing validation.
		if err := e.writeReg(s, regFIFOCtl, fifoClearMask); err != nil {
			log.Printf("[Sensor] WARNING: FIFO clear after burst failed: %v", err)
		}
		return nil
	})
}
