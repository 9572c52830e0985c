package spibus

import (
	"errors"
	"testing"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// fakeConn records every transfer.
type fakeConn struct {
	freq   physic.Frequency
	writes [][]byte
}

func (c *fakeConn) String() string { return "fake" }

func (c *fakeConn) Tx(w, r []byte) error {
	cp := make([]byte, len(w))
	copy(cp, w)
	c.writes = append(c.writes, cp)
	return nil
}

func (c *fakeConn) Duplex() conn.Duplex { return conn.Full }

func (c *fakeConn) TxPackets(p []spi.Packet) error { return nil }

// fakePort hands out one fakeConn per requested frequency.
type fakePort struct {
	conns    map[physic.Frequency]*fakeConn
	connects int
}

func newFakePort() *fakePort {
	return &fakePort{conns: map[physic.Frequency]*fakeConn{}}
}

func (p *fakePort) String() string { return "fakeport" }

func (p *fakePort) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	p.connects++
	c := &fakeConn{freq: f}
	p.conns[f] = c
	return c, nil
}

// fakeCS records the level history of one chip-select line.
type fakeCS struct {
	levels []gpio.Level
}

func (f *fakeCS) Out(l gpio.Level) error {
	f.levels = append(f.levels, l)
	return nil
}

func (f *fakeCS) last() gpio.Level {
	return f.levels[len(f.levels)-1]
}

func TestRegisterDeselectsImmediately(t *testing.T) {
	a := New()
	cs := &fakeCS{}
	if err := a.Register(Sensor, newFakePort(), cs, spi.Mode0); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if len(cs.levels) != 1 || cs.levels[0] != gpio.High {
		t.Fatalf("chip select history = %v, want [High]", cs.levels)
	}
}

func TestTransactionSelectsAndDeselects(t *testing.T) {
	a := New()
	cs := &fakeCS{}
	a.Register(Sensor, newFakePort(), cs, spi.Mode0)

	err := a.WithTransaction(Sensor, physic.MegaHertz, func(s Session) error {
		if cs.last() != gpio.Low {
			t.Error("chip select not asserted inside transaction")
		}
		return s.Write([]byte{0x01})
	})
	if err != nil {
		t.Fatalf("WithTransaction: %v", err)
	}
	if cs.last() != gpio.High {
		t.Fatal("chip select still asserted after transaction")
	}
}

func TestTransactionDeselectsOnError(t *testing.T) {
	a := New()
	cs := &fakeCS{}
	a.Register(Sensor, newFakePort(), cs, spi.Mode0)

	boom := errors.New("boom")
	err := a.WithTransaction(Sensor, physic.MegaHertz, func(s Session) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTransaction = %v, want boom", err)
	}
	if cs.last() != gpio.High {
		t.Fatal("chip select left asserted after failed transaction")
	}
}

func TestUnknownPeripheral(t *testing.T) {
	a := New()
	err := a.WithTransaction(Display, physic.MegaHertz, func(Session) error { return nil })
	if !errors.Is(err, ErrUnknownPeripheral) {
		t.Fatalf("WithTransaction = %v, want ErrUnknownPeripheral", err)
	}
}

func TestSamePeripheralNestingAllowed(t *testing.T) {
	a := New()
	cs := &fakeCS{}
	a.Register(Sensor, newFakePort(), cs, spi.Mode0)

	err := a.WithTransaction(Sensor, physic.MegaHertz, func(s Session) error {
		// Inner transaction at a different clock reuses the selection.
		return a.WithTransaction(Sensor, 8*physic.MegaHertz, func(inner Session) error {
			if cs.last() != gpio.Low {
				t.Error("inner transaction released the chip select")
			}
			return inner.Write([]byte{0x3C})
		})
	})
	if err != nil {
		t.Fatalf("nested same-peripheral transaction: %v", err)
	}
	if cs.last() != gpio.High {
		t.Fatal("chip select left asserted after outer transaction")
	}
}

func TestCrossPeripheralNestingRejected(t *testing.T) {
	a := New()
	a.Register(Sensor, newFakePort(), &fakeCS{}, spi.Mode0)
	displayCS := &fakeCS{}
	a.Register(Display, newFakePort(), displayCS, spi.Mode0)

	err := a.WithTransaction(Sensor, physic.MegaHertz, func(s Session) error {
		return a.WithTransaction(Display, physic.MegaHertz, func(Session) error {
			t.Error("cross-peripheral inner transaction ran")
			return nil
		})
	})
	if !errors.Is(err, ErrNestedTransaction) {
		t.Fatalf("WithTransaction = %v, want ErrNestedTransaction", err)
	}
	if displayCS.last() != gpio.High {
		t.Fatal("rejected transaction touched the display chip select")
	}
}

func TestConnectionCachedPerFrequency(t *testing.T) {
	a := New()
	port := newFakePort()
	a.Register(Sensor, port, &fakeCS{}, spi.Mode0)

	for i := 0; i < 3; i++ {
		a.WithTransaction(Sensor, physic.MegaHertz, func(s Session) error { return nil })
	}
	a.WithTransaction(Sensor, 8*physic.MegaHertz, func(s Session) error { return nil })

	if port.connects != 2 {
		t.Fatalf("port dialed %d times, want 2 (one per frequency)", port.connects)
	}
}
