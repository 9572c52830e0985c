package display

import "fmt"

// Rotation selects the fixed 90-degree mapping applied while streaming.
// The two camera orientations shipped in the field disagree on direction,
// so it is a validated configuration constant rather than a hard-coded
// assumption.
type Rotation string

const (
	RotateCW  Rotation = "cw"
	RotateCCW Rotation = "ccw"
)

// Valid reports whether r names a supported rotation.
func (r Rotation) Valid() bool {
	return r == RotateCW || r == RotateCCW
}

// source maps a destination panel coordinate to the source pixel, for a
// srcW x srcH frame feeding a srcH x srcW panel. Both mappings are
// bounds-exact: dstRow in [0,srcW), dstCol in [0,srcH).
func (r Rotation) source(dstRow, dstCol, srcW, srcH int) (x, y int) {
	if r == RotateCCW {
		return srcW - 1 - dstRow, dstCol
	}
	return dstRow, srcH - 1 - dstCol
}

// validateGeometry rejects any panel that is not the transpose of the
// source frame; the rotation math above relies on it.
func validateGeometry(srcW, srcH, panelW, panelH int) error {
	if panelW != srcH || panelH != srcW {
		return fmt.Errorf("display: panel %dx%d is not the transpose of source %dx%d",
			panelW, panelH, srcW, srcH)
	}
	return nil
}
