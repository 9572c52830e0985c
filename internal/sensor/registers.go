package sensor

// ArduChip register map for the SPI camera module. Single-register reads
// clear bit 7 of the address; writes set it. The FIFO holds exactly one
// captured frame's compressed bytes pending read-out.
const (
	regTest    = 0x00 // scratch register used by Probe
	regFIFOCtl = 0x04 // FIFO control: clear flags / start capture
	regTrigger = 0x41 // status bits, including capture-done

	// 24-bit FIFO length, low byte first. Only the low 7 bits of the
	// top register are significant.
	regFIFOSizeLow  = 0x42
	regFIFOSizeMid  = 0x43
	regFIFOSizeHigh = 0x44

	cmdBurstRead = 0x3C // streams the FIFO contents continuously

	writeFlag = 0x80

	fifoClearMask = 0x01
	fifoStartMask = 0x02

	captureDoneMask = 0x08

	probePattern = 0x55
)

func (e *Engine) writeReg(s txer, addr, val byte) error {
	return s.Write([]byte{addr | writeFlag, val})
}

func (e *Engine) readReg(s txer, addr byte) (byte, error) {
	var r [2]byte
	if err := s.Tx([]byte{addr &^ writeFlag, 0x00}, r[:]); err != nil {
		return 0, err
	}
	return r[1], nil
}

// txer matches spibus.Session; declared locally so the register helpers
// read as plain bus operations.
type txer interface {
	Tx(w, r []byte) error
	Write(p []byte) error
}
