// Package mailbox carries requests between the network context and the
// hardware context. Each request is a single-slot pending-event cell:
// writes from the producer side collapse until the consumer drains the
// cell, so rapid repeated triggers fold into one action - a queue here
// would replay them instead.
package mailbox

import (
	"sync/atomic"
)

// Mailbox holds the three command cells the control surface writes and
// the hardware loop drains. Single producer, single consumer per cell.
type Mailbox struct {
	capture   atomic.Bool
	toggle    atomic.Bool
	countdown atomic.Bool
}

// New returns a mailbox with all cells cleared.
func New() *Mailbox {
	return &Mailbox{}
}

// RequestCapture marks a capture-now request pending.
func (m *Mailbox) RequestCapture() { m.capture.Store(true) }

// RequestModeToggle marks a mode-toggle request pending.
func (m *Mailbox) RequestModeToggle() { m.toggle.Store(true) }

// RequestCountdown marks a start-countdown request pending.
func (m *Mailbox) RequestCountdown() { m.countdown.Store(true) }

// TakeCapture drains the capture cell, reporting whether a request was
// pending.
func (m *Mailbox) TakeCapture() bool { return m.capture.Swap(false) }

// TakeModeToggle drains the mode-toggle cell.
func (m *Mailbox) TakeModeToggle() bool { return m.toggle.Swap(false) }

// TakeCountdown drains the countdown cell.
func (m *Mailbox) TakeCountdown() bool { return m.countdown.Swap(false) }
