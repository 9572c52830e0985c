// Package input watches the physical buttons and latches their edges
// into the mailbox. The edge handler does the minimum possible - record
// a timestamped flag - because on the target hardware it stands in for
// an interrupt service routine: no buffer access, no locking.
package input

import (
	"context"
	"fmt"
	"log"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Pin is the subset of gpio.PinIn a button needs.
type Pin interface {
	In(pull gpio.Pull, edge gpio.Edge) error
	WaitForEdge(timeout time.Duration) bool
}

// Button watches one active-low input and signals each falling edge.
type Button struct {
	name   string
	pin    Pin
	signal func(now time.Time)
}

// NewButton configures pin with a pull-up and falling-edge detection.
// signal is invoked once per detected edge with its timestamp.
func NewButton(name string, pin Pin, signal func(now time.Time)) (*Button, error) {
	if err := pin.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return nil, fmt.Errorf("input: configure %s: %w", name, err)
	}
	return &Button{name: name, pin: pin, signal: signal}, nil
}

// Watch blocks on edge detection until ctx is canceled. Run it on its
// own goroutine per button.
func (b *Button) Watch(ctx context.Context) {
	log.Printf("[Input] Watching %s button", b.name)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		// Bounded wait so cancellation is observed between edges.
		if b.pin.WaitForEdge(500 * time.Millisecond) {
			b.signal(time.Now())
		}
	}
}
