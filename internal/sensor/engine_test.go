package sensor

import (
	"errors"
	"testing"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"github.com/Dannycyd/ECE4180-Camera/internal/frame"
	"github.com/Dannycyd/ECE4180-Camera/internal/spibus"
)

// fakeModule simulates the camera chip's register file and FIFO behind
// the SPI wire protocol.
type fakeModule struct {
	regs [0x80]byte

	// fifo is the payload the module pretends to have captured.
	fifo []byte

	// pollsUntilDone counts trigger-register reads before the done bit
	// appears. Negative means the bit never sets.
	pollsUntilDone int

	burstReads int
	clears     int
}

func (m *fakeModule) String() string                 { return "fakemodule" }
func (m *fakeModule) Duplex() conn.Duplex            { return conn.Full }
func (m *fakeModule) TxPackets(p []spi.Packet) error { return nil }

func (m *fakeModule) Tx(w, r []byte) error {
	switch {
	case w[0] == cmdBurstRead:
		m.burstReads++
		for i := 1; i < len(r) && i-1 < len(m.fifo); i++ {
			r[i] = m.fifo[i-1]
		}
	case w[0]&writeFlag != 0:
		addr, val := w[0]&^byte(writeFlag), w[1]
		m.regs[addr] = val
		if addr == regFIFOCtl && val&fifoClearMask != 0 {
			m.clears++
		}
		if addr == regFIFOCtl && val&fifoStartMask != 0 {
			m.setLength(len(m.fifo))
		}
	default:
		addr := w[0]
		v := m.regs[addr]
		if addr == regTrigger {
			if m.pollsUntilDone == 0 {
				v |= captureDoneMask
			} else if m.pollsUntilDone > 0 {
				m.pollsUntilDone--
			}
		}
		if len(r) > 1 {
			r[1] = v
		}
	}
	return nil
}

func (m *fakeModule) setLength(n int) {
	m.regs[regFIFOSizeLow] = byte(n)
	m.regs[regFIFOSizeMid] = byte(n >> 8)
	m.regs[regFIFOSizeHigh] = byte(n>>16) & 0x7F
}

// fakePort serves the same module conn at every frequency.
type fakePort struct {
	mod *fakeModule
}

func (p *fakePort) String() string { return "fakeport" }

func (p *fakePort) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	return p.mod, nil
}

type nopCS struct{}

func (nopCS) Out(l gpio.Level) error { return nil }

// fakeClock advances a fixed step per reading so timeout paths run
// without wall-clock sleeps.
type fakeClock struct {
	t    time.Time
	step time.Duration
}

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(c.step)
	return c.t
}

func newEngine(t *testing.T, mod *fakeModule, capacity int) (*Engine, *frame.Compressed) {
	t.Helper()
	bus := spibus.New()
	if err := bus.Register(spibus.Sensor, &fakePort{mod: mod}, nopCS{}, spi.Mode0); err != nil {
		t.Fatalf("Register: %v", err)
	}
	out := frame.NewCompressed(capacity, [2]byte{0xFF, 0xD8})
	clock := &fakeClock{t: time.Unix(0, 0), step: 10 * time.Millisecond}
	eng := New(bus, out, Config{
		ConfigClock:  physic.MegaHertz,
		BurstClock:   8 * physic.MegaHertz,
		Timeout:      time.Second,
		PollInterval: time.Microsecond,
		Now:          clock.now,
	})
	return eng, out
}

func TestProbe(t *testing.T) {
	mod := &fakeModule{}
	eng, _ := newEngine(t, mod, 64)
	if err := eng.Probe(); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if mod.regs[regTest] != probePattern {
		t.Fatalf("test register = %02X, want %02X", mod.regs[regTest], probePattern)
	}
}

func TestCaptureHappyPath(t *testing.T) {
	payload := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03}
	mod := &fakeModule{fifo: payload, pollsUntilDone: 2}
	eng, out := newEngine(t, mod, 64)

	got, err := eng.Capture()
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if len(got) != len(payload) {
		t.Fatalf("payload length = %d, want %d", len(got), len(payload))
	}
	for i := range payload {
		if got[i] != payload[i] {
			t.Fatalf("payload[%d] = %02X, want %02X", i, got[i], payload[i])
		}
	}
	if out.Len() != len(payload) {
		t.Fatalf("committed length = %d, want %d", out.Len(), len(payload))
	}
	if mod.burstReads != 1 {
		t.Fatalf("burst reads = %d, want 1", mod.burstReads)
	}
	// Flush before the capture plus the post-burst clear.
	if mod.clears < 2 {
		t.Fatalf("FIFO clears = %d, want at least 2", mod.clears)
	}
}

func TestCaptureTimeout(t *testing.T) {
	mod := &fakeModule{fifo: []byte{0xFF, 0xD8}, pollsUntilDone: -1}
	eng, out := newEngine(t, mod, 64)

	_, err := eng.Capture()
	if !errors.Is(err, ErrCaptureTimeout) {
		t.Fatalf("Capture = %v, want ErrCaptureTimeout", err)
	}
	if out.Len() != 0 {
		t.Fatal("timed-out capture left a valid frame behind")
	}
	if mod.burstReads != 0 {
		t.Fatal("timed-out capture burst-read the FIFO")
	}
}

func TestCaptureRejectsOversizedLength(t *testing.T) {
	mod := &fakeModule{fifo: make([]byte, 100), pollsUntilDone: 0}
	eng, out := newEngine(t, mod, 64)

	_, err := eng.Capture()
	if !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("Capture = %v, want ErrInvalidLength", err)
	}
	if out.Len() != 0 {
		t.Fatal("invalid-length capture left a valid frame behind")
	}
}

func TestCaptureRejectsZeroLength(t *testing.T) {
	mod := &fakeModule{fifo: nil, pollsUntilDone: 0}
	eng, _ := newEngine(t, mod, 64)

	if _, err := eng.Capture(); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("Capture = %v, want ErrInvalidLength", err)
	}
}

func TestCaptureRejectsBadHeader(t *testing.T) {
	mod := &fakeModule{fifo: []byte{0x00, 0x11, 0x22}, pollsUntilDone: 0}
	eng, out := newEngine(t, mod, 64)

	_, err := eng.Capture()
	if !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("Capture = %v, want ErrValidationFailed", err)
	}
	if out.Len() != 0 {
		t.Fatal("rejected capture left a valid frame behind")
	}
}

func TestCaptureInvalidatesPreviousFrame(t *testing.T) {
	mod := &fakeModule{fifo: []byte{0xFF, 0xD8, 0x01}, pollsUntilDone: 0}
	eng, out := newEngine(t, mod, 64)

	if _, err := eng.Capture(); err != nil {
		t.Fatalf("first Capture: %v", err)
	}

	// Second capture never completes; the previous frame must not
	// survive as a stale "latest".
	mod.pollsUntilDone = -1
	if _, err := eng.Capture(); !errors.Is(err, ErrCaptureTimeout) {
		t.Fatalf("second Capture = %v, want ErrCaptureTimeout", err)
	}
	if out.Len() != 0 {
		t.Fatal("failed capture left the previous frame valid")
	}
}
