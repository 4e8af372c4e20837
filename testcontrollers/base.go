package testcontrollers

import "github.com/nbeddows/meen"

// base implements the Load/Save/Quit signaling shared by every reference
// IoController in this package, ported from BaseIoController.py: a write
// to port 0xFD/0xFE/0xFF latches a pending Load/Save/Quit respectively,
// and GenerateInterrupt drains the latch (Load wins if both Load and Save
// are pending, matching the Machine's own precedence). Embed base in an
// IoController to get this behavior; override Write and GenerateInterrupt
// to add device-specific handling, calling base's versions for any port
// or condition not otherwise recognized.
type base struct {
	saveCycleCount uint64
	saveArmed      bool
	load           bool
	save           bool
	quit           bool
}

// GenerateInterrupt drains the Load/Save/Quit latch. A Save can also be
// scheduled for a specific tick count via SaveStateOn, independent of the
// 0xFE port write.
func (b *base) GenerateInterrupt(currentNs int64, cycles uint64) meen.Interrupt {
	switch {
	case b.load:
		b.load = false
		return meen.InterruptLoad
	case b.save || (b.saveArmed && cycles == b.saveCycleCount):
		b.save = false
		return meen.InterruptSave
	case b.quit:
		b.quit = false
		return meen.InterruptQuit
	default:
		return meen.NoInterrupt
	}
}

// Write latches a pending Quit/Save/Load on the well-known control ports.
// A latch already pending is not cleared by a write to a different port.
func (b *base) Write(port uint16, value uint8) {
	if !b.quit {
		b.quit = port == 0xFF
	}
	if !b.save {
		b.save = port == 0xFE
	}
	if !b.load {
		b.load = port == 0xFD
	}
}

// SaveStateOn schedules a Save interrupt the next time GenerateInterrupt
// observes the given cycle count, independent of any port-triggered save.
func (b *base) SaveStateOn(cycleCount uint64) {
	b.saveArmed = true
	b.saveCycleCount = cycleCount
}
