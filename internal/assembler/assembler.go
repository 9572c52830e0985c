// Package assembler turns a validated compressed payload into the
// display-ready pixel frame. The decoder delivers pixels one rectangular
// tile at a time; each tile is written into the fixed frame with edge
// clipping before decode returns.
package assembler

import (
	"errors"
	"fmt"

	"github.com/Dannycyd/ECE4180-Camera/internal/frame"
)

// ErrMalformed means the payload could not be decoded. The cycle is
// abandoned and the display keeps its last good frame.
var ErrMalformed = errors.New("assembler: malformed compressed payload")

// TileFunc receives one decoded tile: its top-left position, its
// dimensions, and w*h RGB565 pixels in row-major order. Tiles are
// block-aligned and may overhang the image edges.
type TileFunc func(x, y, w, h int, pix []uint16)

// Decoder is the decompression service. Decode invokes emit zero or more
// times synchronously before returning.
type Decoder interface {
	Decode(payload []byte, emit TileFunc) error
}

// Assembler feeds payloads to the decoder and lands the tiles in the
// pixel frame.
type Assembler struct {
	dec Decoder
	pf  *frame.Pixel
}

// New creates an assembler writing into pf.
func New(dec Decoder, pf *frame.Pixel) *Assembler {
	return &Assembler{dec: dec, pf: pf}
}

// Decode decompresses payload into the pixel frame. Only the region the
// decoder actually emits is overwritten; overhanging tile parts are
// clipped by the frame itself.
func (a *Assembler) Decode(payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	if err := a.dec.Decode(payload, a.pf.WriteTile); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
