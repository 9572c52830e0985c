package assembler

import (
	"bytes"
	"image"
	"image/jpeg"
)

// tileSize matches the MCU block size of baseline JPEG with 2x2
// subsampling. Emitting full blocks means edge tiles overshoot images
// whose dimensions are not multiples of 16, exactly like a hardware
// decoder, which is what keeps the frame's clipping path honest.
const tileSize = 16

// JPEG decodes baseline JPEG payloads and emits RGB565 tiles.
type JPEG struct {
	// tile is reused across calls; Decode is never concurrent.
	tile [tileSize * tileSize]uint16
}

// NewJPEG returns the JPEG decompression service.
func NewJPEG() *JPEG {
	return &JPEG{}
}

// Decode parses payload and emits 16x16 block-aligned tiles covering the
// decoded image. Pixels past the image edge within a tile are zero; the
// receiving frame clips anything past its own geometry.
func (d *JPEG) Decode(payload []byte, emit TileFunc) error {
	img, err := jpeg.Decode(bytes.NewReader(payload))
	if err != nil {
		return err
	}
	b := img.Bounds()
	for ty := 0; ty < b.Dy(); ty += tileSize {
		for tx := 0; tx < b.Dx(); tx += tileSize {
			d.fillTile(img, tx, ty)
			emit(tx, ty, tileSize, tileSize, d.tile[:])
		}
	}
	return nil
}

func (d *JPEG) fillTile(img image.Image, tx, ty int) {
	b := img.Bounds()
	for row := 0; row < tileSize; row++ {
		for col := 0; col < tileSize; col++ {
			x, y := tx+col, ty+row
			var v uint16
			if x < b.Dx() && y < b.Dy() {
				r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				v = rgb565(r, g, bl)
			}
			d.tile[row*tileSize+col] = v
		}
	}
}

// rgb565 packs 16-bit color channels into RGB565.
func rgb565(r, g, b uint32) uint16 {
	return uint16(r>>11)<<11 | uint16(g>>10)<<5 | uint16(b>>11)
}
