package frame

// Pixel is the fixed decoded frame: width*height RGB565 pixels stored
// big-endian, two bytes each. The assembler is its only writer; the
// display streamer reads it without copying. Contents are overwritten in
// place each cycle.
type Pixel struct {
	w, h int
	buf  []byte
}

// NewPixel allocates a pixel frame for the given geometry.
func NewPixel(width, height int) *Pixel {
	return &Pixel{
		w:   width,
		h:   height,
		buf: make([]byte, width*height*2),
	}
}

// Width returns the frame width in pixels.
func (p *Pixel) Width() int { return p.w }

// Height returns the frame height in pixels.
func (p *Pixel) Height() int { return p.h }

// Bytes returns the raw big-endian RGB565 buffer.
func (p *Pixel) Bytes() []byte { return p.buf }

// At returns the pixel at (x, y). Callers must stay in bounds; the
// display streamer only generates in-bounds coordinates by construction.
func (p *Pixel) At(x, y int) uint16 {
	i := (y*p.w + x) * 2
	return uint16(p.buf[i])<<8 | uint16(p.buf[i+1])
}

// Set stores one pixel. Out-of-bounds coordinates are dropped.
func (p *Pixel) Set(x, y int, v uint16) {
	if x < 0 || y < 0 || x >= p.w || y >= p.h {
		return
	}
	i := (y*p.w + x) * 2
	p.buf[i] = byte(v >> 8)
	p.buf[i+1] = byte(v)
}

// WriteTile copies one decoded tile into the frame, clipping any part
// that overhangs the fixed geometry. Decoders emit block-aligned tiles
// that can overshoot the image edges, so the clip is a correctness
// requirement, not an optimization: no tile write may ever touch memory
// outside the frame.
func (p *Pixel) WriteTile(x, y, w, h int, pix []uint16) {
	for row := 0; row < h; row++ {
		dy := y + row
		if dy < 0 || dy >= p.h {
			continue
		}
		for col := 0; col < w; col++ {
			dx := x + col
			if dx < 0 || dx >= p.w {
				continue
			}
			v := pix[row*w+col]
			i := (dy*p.w + dx) * 2
			p.buf[i] = byte(v >> 8)
			p.buf[i+1] = byte(v)
		}
	}
}
