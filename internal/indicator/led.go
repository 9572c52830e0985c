// Package indicator drives the tri-color status LED. Write-only: the
// pipeline signals state through it and never reads anything back.
package indicator

import (
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Color names the displayable LED states.
type Color int

const (
	Off Color = iota
	Red
	Green
	Blue
	Yellow
	Cyan
	Magenta
	White
)

// channel bitmasks: red, green, blue.
var colorBits = map[Color][3]bool{
	Off:     {false, false, false},
	Red:     {true, false, false},
	Green:   {false, true, false},
	Blue:    {false, false, true},
	Yellow:  {true, true, false},
	Cyan:    {false, true, true},
	Magenta: {true, false, true},
	White:   {true, true, true},
}

// Pin is the write-only contract for one LED channel.
type Pin interface {
	Out(l gpio.Level) error
}

// LED is the tri-color indicator. A nil *LED, or one built with nil
// pins, is a no-op so headless test rigs need no wiring.
type LED struct {
	r, g, b Pin
}

// New creates an LED on the three channel pins and switches it off.
func New(r, g, b Pin) *LED {
	l := &LED{r: r, g: g, b: b}
	l.Set(Off)
	return l
}

// Set drives the LED to one solid color.
func (l *LED) Set(c Color) {
	if l == nil {
		return
	}
	bits := colorBits[c]
	l.write(l.r, bits[0])
	l.write(l.g, bits[1])
	l.write(l.b, bits[2])
}

// Blink flashes the LED n times with the given on/off period, ending
// off. Blocking; callers time their own loops around it.
func (l *LED) Blink(c Color, n int, period time.Duration) {
	if l == nil {
		return
	}
	for i := 0; i < n; i++ {
		l.Set(c)
		time.Sleep(period / 2)
		l.Set(Off)
		time.Sleep(period / 2)
	}
}

// Pulse gives one short flash, used for countdown steps.
func (l *LED) Pulse(c Color) {
	l.Blink(c, 1, 100*time.Millisecond)
}

func (l *LED) write(p Pin, on bool) {
	if p == nil {
		return
	}
	if on {
		p.Out(gpio.High)
	} else {
		p.Out(gpio.Low)
	}
}
