// Package display streams the pixel frame to the panel controller over
// the bulk SPI path, applying the rotation transform on the fly. There is
// no spare memory for a rotated copy of the frame, so the transform runs
// per pixel while the bytes are staged into the transfer chunk.
package display

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/Dannycyd/ECE4180-Camera/internal/frame"
	"github.com/Dannycyd/ECE4180-Camera/internal/spibus"
)

// Panel controller commands (ST7789-class).
const (
	cmdSleepOut   = 0x11
	cmdInvertOn   = 0x21
	cmdDisplayOn  = 0x29
	cmdColumnAddr = 0x2A
	cmdRowAddr    = 0x2B
	cmdMemWrite   = 0x2C
	cmdMADCTL     = 0x36
	cmdCOLMOD     = 0x3A

	colmod16bpp = 0x55
)

// OutPin is the narrow write-only pin contract for DC and RST lines.
type OutPin interface {
	Out(l gpio.Level) error
}

// BacklightPin drives the panel backlight with a PWM duty cycle.
type BacklightPin interface {
	PWM(duty gpio.Duty, f physic.Frequency) error
}

// Config holds panel geometry and transfer tuning.
type Config struct {
	// Source frame geometry; the panel is its transpose.
	SourceWidth  int
	SourceHeight int

	Rotation Rotation

	// ChunkSize is the transfer staging buffer in bytes. The chunk
	// accumulates across row boundaries and flushes only when full (plus
	// one final partial flush), so a full frame costs exactly
	// ceil(W*H*2/ChunkSize) bulk writes.
	ChunkSize int

	Clock physic.Frequency
}

// Streamer owns the panel: init sequence, window addressing and the
// chunked bulk write path.
type Streamer struct {
	bus *spibus.Arbiter
	dc  OutPin
	rst OutPin
	bl  BacklightPin
	cfg Config

	panelW, panelH int
	chunk          []byte
}

// New creates a streamer. rst and bl may be nil when the lines are not
// wired (bench rigs drive reset manually and tie the backlight on).
func New(bus *spibus.Arbiter, dc OutPin, rst OutPin, bl BacklightPin, cfg Config) (*Streamer, error) {
	if !cfg.Rotation.Valid() {
		return nil, fmt.Errorf("display: invalid rotation %q", cfg.Rotation)
	}
	if cfg.ChunkSize <= 0 || cfg.ChunkSize%2 != 0 {
		return nil, errors.New("display: chunk size must be a positive even byte count")
	}
	panelW, panelH := cfg.SourceHeight, cfg.SourceWidth
	if err := validateGeometry(cfg.SourceWidth, cfg.SourceHeight, panelW, panelH); err != nil {
		return nil, err
	}
	return &Streamer{
		bus:    bus,
		dc:     dc,
		rst:    rst,
		bl:     bl,
		cfg:    cfg,
		panelW: panelW,
		panelH: panelH,
		chunk:  make([]byte, 0, cfg.ChunkSize),
	}, nil
}

// Init resets the controller and runs the vendor register sequence, then
// turns the display on.
func (s *Streamer) Init() error {
	s.reset()
	return s.bus.WithTransaction(spibus.Display, s.cfg.Clock, func(sess spibus.Session) error {
		if err := s.command(sess, cmdMADCTL, 0x00); err != nil {
			return err
		}
		if err := s.command(sess, cmdCOLMOD, colmod16bpp); err != nil {
			return err
		}
		// Porch, gate and power settings straight from the panel vendor.
		steps := []struct {
			cmd  byte
			args []byte
		}{
			{0xB2, []byte{0x0C, 0x0C, 0x00, 0x33, 0x33}},
			{0xB7, []byte{0x35}},
			{0xBB, []byte{0x13}},
			{0xC0, []byte{0x2C}},
			{0xC2, []byte{0x01}},
			{0xC3, []byte{0x0B}},
			{0xC4, []byte{0x20}},
			{0xC6, []byte{0x0F}},
			{0xD0, []byte{0xA4, 0xA1}},
			{0xD6, []byte{0xA1}},
			{0xE0, []byte{0x00, 0x03, 0x07, 0x08, 0x07, 0x15, 0x2A, 0x44, 0x42, 0x0A, 0x17, 0x18, 0x25, 0x27}},
			{0xE1, []byte{0x00, 0x03, 0x08, 0x07, 0x07, 0x23, 0x2A, 0x43, 0x42, 0x09, 0x18, 0x17, 0x25, 0x27}},
		}
		for _, st := range steps {
			if err := s.command(sess, st.cmd, st.args...); err != nil {
				return err
			}
		}
		if err := s.command(sess, cmdInvertOn); err != nil {
			return err
		}
		if err := s.command(sess, cmdSleepOut); err != nil {
			return err
		}
		time.Sleep(120 * time.Millisecond)
		return s.command(sess, cmdDisplayOn)
	})
}

// SetBacklight sets brightness as a percentage.
func (s *Streamer) SetBacklight(percent int) error {
	if s.bl == nil {
		return nil
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	duty := gpio.Duty(int64(gpio.DutyMax) * int64(percent) / 100)
	return s.bl.PWM(duty, 5*physic.KiloHertz)
}

// Present streams one complete snapshot of pf to the panel: one window
// set and one bulk-write session for the whole frame. The caller must
// not mutate pf until Present returns.
func (s *Streamer) Present(pf *frame.Pixel) error {
	if pf.Width() != s.cfg.SourceWidth || pf.Height() != s.cfg.SourceHeight {
		return fmt.Errorf("display: frame %dx%d does not match configured source %dx%d",
			pf.Width(), pf.Height(), s.cfg.SourceWidth, s.cfg.SourceHeight)
	}
	return s.bus.WithTransaction(spibus.Display, s.cfg.Clock, func(sess spibus.Session) error {
		if err := s.setWindow(sess, 0, 0, s.panelW-1, s.panelH-1); err != nil {
			return err
		}
		if err := s.dc.Out(gpio.High); err != nil {
			return err
		}
		s.chunk = s.chunk[:0]
		srcW, srcH := s.cfg.SourceWidth, s.cfg.SourceHeight
		for dstRow := 0; dstRow < s.panelH; dstRow++ {
			for dstCol := 0; dstCol < s.panelW; dstCol++ {
				x, y := s.cfg.Rotation.source(dstRow, dstCol, srcW, srcH)
				px := pf.At(x, y)
				s.chunk = append(s.chunk, byte(px>>8), byte(px))
				if len(s.chunk) == s.cfg.ChunkSize {
					if err := sess.Write(s.chunk); err != nil {
						return err
					}
					s.chunk = s.chunk[:0]
				}
			}
		}
		if len(s.chunk) > 0 {
			err := sess.Write(s.chunk)
			s.chunk = s.chunk[:0]
			return err
		}
		return nil
	})
}

// Clear floods the panel with one color through the same chunked path.
func (s *Streamer) Clear(color uint16) error {
	return s.bus.WithTransaction(spibus.Display, s.cfg.Clock, func(sess spibus.Session) error {
		if err := s.setWindow(sess, 0, 0, s.panelW-1, s.panelH-1); err != nil {
			return err
		}
		if err := s.dc.Out(gpio.High); err != nil {
			return err
		}
		s.chunk = s.chunk[:0]
		remaining := s.panelW * s.panelH
		for remaining > 0 {
			s.chunk = append(s.chunk, byte(color>>8), byte(color))
			remaining--
			if len(s.chunk) == s.cfg.ChunkSize || remaining == 0 {
				if err := sess.Write(s.chunk); err != nil {
					return err
				}
				s.chunk = s.chunk[:0]
			}
		}
		return nil
	})
}

// setWindow makes the whole addressable area the write target and opens
// memory write mode.
func (s *Streamer) setWindow(sess spibus.Session, x0, y0, x1, y1 int) error {
	if err := s.command(sess, cmdColumnAddr,
		byte(x0>>8), byte(x0), byte(x1>>8), byte(x1)); err != nil {
		return err
	}
	if err := s.command(sess, cmdRowAddr,
		byte(y0>>8), byte(y0), byte(y1>>8), byte(y1)); err != nil {
		return err
	}
	return s.command(sess, cmdMemWrite)
}

// command sends one controller command with optional data bytes, toggling
// the DC line around them.
func (s *Streamer) command(sess spibus.Session, cmd byte, args ...byte) error {
	if err := s.dc.Out(gpio.Low); err != nil {
		return err
	}
	if err := sess.Write([]byte{cmd}); err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}
	if err := s.dc.Out(gpio.High); err != nil {
		return err
	}
	return sess.Write(args)
}

// reset pulses the hardware reset line with the vendor timing.
func (s *Streamer) reset() {
	if s.rst == nil {
		return
	}
	s.rst.Out(gpio.Low)
	time.Sleep(120 * time.Millisecond)
	s.rst.Out(gpio.High)
	time.Sleep(150 * time.Millisecond)
}
