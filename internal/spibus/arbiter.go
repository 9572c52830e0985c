// Package spibus arbitrates the shared serial buses between the camera
// and the display panel.
//
// Every peripheral access goes through WithTransaction, which selects the
// peripheral's chip-select line, hands the caller a Session bound to the
// right clock and mode, and always deselects on exit. The Session value
// is unreachable outside the callback, so "forgot to deselect" cannot be
// written at all.
package spibus

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// Peripheral identifies one chip-select owner on the bus.
type Peripheral int

const (
	Sensor Peripheral = iota
	Display
)

var peripheralNames = [...]string{"sensor", "display"}

func (p Peripheral) String() string {
	if int(p) < len(peripheralNames) {
		return peripheralNames[p]
	}
	return "unknown"
}

var (
	ErrUnknownPeripheral = errors.New("spibus: peripheral not registered")
	// ErrNestedTransaction means a transaction was opened inside another
	// one for a different peripheral. Only same-peripheral nesting is
	// valid; everything else would glitch two chip selects at once.
	ErrNestedTransaction = errors.New("spibus: nested transaction for different peripheral")
)

// SelectPin is the subset of gpio.PinOut the arbiter needs, kept narrow
// so tests can fake a chip-select line with one method.
type SelectPin interface {
	Out(l gpio.Level) error
}

// Session is the per-transaction view of the bus. It is only valid for
// the duration of the WithTransaction callback that produced it.
type Session interface {
	// Tx runs a full-duplex transfer.
	Tx(w, r []byte) error
	// Write sends bytes, discarding anything clocked back.
	Write(p []byte) error
}

type session struct {
	conn spi.Conn
}

func (s *session) Tx(w, r []byte) error { return s.conn.Tx(w, r) }

func (s *session) Write(p []byte) error { return s.conn.Tx(p, nil) }

type device struct {
	port  spi.Port
	cs    SelectPin
	mode  spi.Mode
	conns map[physic.Frequency]spi.Conn
}

// Arbiter guarantees at most one peripheral is selected at any instant.
// All transactions originate from the single hardware-context goroutine;
// the mutex exists so a misbehaving second caller blocks instead of
// corrupting a transfer.
type Arbiter struct {
	mu      sync.Mutex
	devices map[Peripheral]*device

	// current is the selected peripheral + 1, or 0 when the bus is idle.
	// Read before taking the mutex to detect same-context nesting.
	current atomic.Int32
}

// New creates an empty arbiter. Peripherals are attached with Register
// and their chip selects are driven inactive immediately.
func New() *Arbiter {
	return &Arbiter{devices: make(map[Peripheral]*device)}
}

// Register attaches a peripheral to the arbiter. The chip select is
// forced high (deselected) right away, matching the all-CS-high rule the
// hardware needs before any transaction runs.
func (a *Arbiter) Register(p Peripheral, port spi.Port, cs SelectPin, mode spi.Mode) error {
	if err := cs.Out(gpio.High); err != nil {
		return fmt.Errorf("spibus: deselect %s: %w", p, err)
	}
	a.devices[p] = &device{
		port:  port,
		cs:    cs,
		mode:  mode,
		conns: make(map[physic.Frequency]spi.Conn),
	}
	return nil
}

// WithTransaction selects p, runs fn with a Session clocked at freq, and
// deselects even if fn fails. Nesting is allowed only when the inner
// peripheral equals the outer one; the inner call then reuses the open
// selection (re-clocking the connection if the frequency differs).
func (a *Arbiter) WithTransaction(p Peripheral, freq physic.Frequency, fn func(Session) error) error {
	dev, ok := a.devices[p]
	if !ok {
		return ErrUnknownPeripheral
	}

	if cur := a.current.Load(); cur != 0 {
		if cur != int32(p)+1 {
			return ErrNestedTransaction
		}
		// Same peripheral already selected by this context: run inside
		// the open transaction without touching the chip select.
		conn, err := a.connect(dev, freq)
		if err != nil {
			return err
		}
		return fn(&session{conn: conn})
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	conn, err := a.connect(dev, freq)
	if err != nil {
		return err
	}

	if err := dev.cs.Out(gpio.Low); err != nil {
		return fmt.Errorf("spibus: select %s: %w", p, err)
	}
	a.current.Store(int32(p) + 1)
	defer func() {
		a.current.Store(0)
		dev.cs.Out(gpio.High)
	}()

	return fn(&session{conn: conn})
}

// connect returns the cached connection for (device, freq), dialing it on
// first use. Peripherals are addressed at more than one clock (low for
// configuration, high for bursts), so each speed keeps its own conn.
func (a *Arbiter) connect(dev *device, freq physic.Frequency) (spi.Conn, error) {
	if c, ok := dev.conns[freq]; ok {
		return c, nil
	}
	c, err := dev.port.Connect(freq, dev.mode, 8)
	if err != nil {
		return nil, fmt.Errorf("spibus: connect at %s: %w", freq, err)
	}
	dev.conns[freq] = c
	return c, nil
}
