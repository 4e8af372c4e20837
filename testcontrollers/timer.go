package testcontrollers

import "github.com/nbeddows/meen"

// timerUUID identifies TimerIoController, ported verbatim from
// TestIoController.py's Uuid().
var timerUUID = [16]byte{
	0xD8, 0x62, 0xFA, 0xBD, 0xDE, 0xDD, 0x47, 0xB7,
	0x8C, 0x38, 0xD0, 0xDE, 0xB5, 0xCC, 0x45, 0xBE,
}

// TimerIoController is a single readable/writable device register plus a
// once-per-second RST 1 interrupt source, used to exercise isrFreq
// granularity and clock pacing. Ported from TestIoController.py (named
// TestIoController there; renamed here since "Test" would collide with Go
// test-file conventions).
type TimerIoController struct {
	base
	deviceData uint8
	lastNs     int64
}

// NewTimerIoController creates a TimerIoController with its device
// register initialized to 0xAA, matching the reference implementation.
func NewTimerIoController() *TimerIoController {
	return &TimerIoController{deviceData: 0xAA}
}

// Read returns the device register on port 0, 0 otherwise.
func (t *TimerIoController) Read(port uint16, peer meen.Controller) uint8 {
	if port == 0 {
		return t.deviceData
	}
	return 0
}

// Write stores to the device register on port 0, falling back to base's
// Load/Save/Quit latch for every other port.
func (t *TimerIoController) Write(port uint16, value uint8, peer meen.Controller) {
	if port == 0 {
		t.deviceData = value
		return
	}
	t.base.Write(port, value)
}

// GenerateInterrupt raises RST 1 once per second of elapsed wall-clock
// time, deferring to base's Load/Save/Quit latch first.
func (t *TimerIoController) GenerateInterrupt(currentNs int64, cycles uint64, peer meen.Controller) meen.Interrupt {
	isr := t.base.GenerateInterrupt(currentNs, cycles)
	if isr != meen.NoInterrupt {
		return isr
	}

	elapsed := currentNs - t.lastNs
	if elapsed < 0 {
		t.lastNs = currentNs
		return meen.NoInterrupt
	}
	if elapsed > 1_000_000_000 {
		t.lastNs = currentNs
		return meen.InterruptOne
	}
	return meen.NoInterrupt
}

// UUID identifies this IoController implementation.
func (t *TimerIoController) UUID() [16]byte { return timerUUID }
