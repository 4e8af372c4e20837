package testcontrollers

import "github.com/nbeddows/meen"

// cpmUUID identifies CpmIoController, ported verbatim from
// CpmIoController.py's Uuid().
var cpmUUID = [16]byte{
	0x32, 0x8C, 0xCF, 0x78, 0x76, 0x1B, 0x48, 0xA4,
	0x98, 0x2C, 0x1A, 0xAA, 0x5F, 0x14, 0x31, 0x24,
}

// CpmIoController emulates just enough of the CP/M BDOS (function 2,
// console character out, and function 9, console string out) to run the
// classic 8080 instruction-set exercisers. They CALL 5, and the BdosShim
// installed there forwards the call onto a three-port protocol: OUT 0
// selects the BDOS function, OUT 1 sets the high byte of a DE-style pointer argument, and
// OUT 2 (with the function already selected) triggers the call, reading
// the argument out of memory via the peer MemoryController. Ported from
// CpmIoController.py.
type CpmIoController struct {
	base
	message   string
	function  uint8
	addrHi    uint8
}

// NewCpmIoController creates a CpmIoController with no captured output.
func NewCpmIoController() *CpmIoController {
	return &CpmIoController{}
}

// Read always returns 0: this shim has no readable device registers.
func (c *CpmIoController) Read(port uint16, peer meen.Controller) uint8 {
	return 0
}

// Write implements the BDOS function-2/function-9 protocol on ports 0-2,
// falling back to base's Load/Save/Quit latch for every other port.
func (c *CpmIoController) Write(port uint16, value uint8, peer meen.Controller) {
	switch port {
	case 0:
		c.function = value
	case 1:
		c.addrHi = value
	case 2:
		switch c.function {
		case 9:
			addr := uint16(c.addrHi)<<8 | uint16(value)
			ch := peer.Read(addr, nil)
			for ch != '$' {
				c.message += string(rune(ch))
				addr++
				ch = peer.Read(addr, nil)
			}
		case 2:
			c.message += string(rune(value))
		}
	default:
		c.base.Write(port, value)
	}
}

// GenerateInterrupt defers entirely to base's Load/Save/Quit latch; CP/M
// emulation is not itself an interrupt source.
func (c *CpmIoController) GenerateInterrupt(currentNs int64, cycles uint64, peer meen.Controller) meen.Interrupt {
	return c.base.GenerateInterrupt(currentNs, cycles)
}

// UUID identifies this IoController implementation.
func (c *CpmIoController) UUID() [16]byte { return cpmUUID }

// Message returns everything written to the console so far, for test
// assertions against the exerciser's expected banner text.
func (c *CpmIoController) Message() string { return c.message }
