package meen

// Controller is the capability set a user-supplied Memory or I/O endpoint
// must satisfy. Memory and I/O controllers share exactly this shape — the
// peer argument gives an I/O controller read/write access to memory, which
// CP/M BDOS emulation requires (console output routines read the caller's
// string argument straight out of RAM).
type Controller interface {
	// Read returns the byte at the given memory address or I/O port.
	Read(addr uint16, peer Controller) uint8
	// Write stores value at the given memory address or I/O port.
	Write(addr uint16, value uint8, peer Controller)
	// GenerateInterrupt is polled by the Machine's main loop at the
	// configured isrFreq granularity. currentNs is wall-clock elapsed
	// nanoseconds since Run started; cycles is the CPU's total tick count.
	GenerateInterrupt(currentNs int64, cycles uint64, peer Controller) Interrupt
	// UUID identifies the controller implementation for save/load integrity.
	UUID() [16]byte
}

// MemoryController is the Controller role attached via
// Machine.AttachMemoryController. It is a type alias rather than a
// distinct interface because the engine, like the controllers it drives,
// treats memory and I/O endpoints identically.
type MemoryController = Controller

// IoController is the Controller role attached via Machine.AttachIoController.
type IoController = Controller

// Interrupt is the tagged value an IoController's GenerateInterrupt
// returns: either one of the eight 8080 restart vectors, or one of the
// three non-numeric Machine-level signals (Load, Save, Quit). The CPU only
// ever sees the restart-vector variants; Load/Save/Quit are intercepted and
// handled by the Machine before they would otherwise reach Cpu.Interrupt.
type Interrupt int

const (
	// NoInterrupt means nothing is pending this boundary.
	NoInterrupt Interrupt = iota
	// InterruptOne through InterruptSeven request RST 1 through RST 7
	// (CALL 0x0008 through CALL 0x0038). RST 0 is not requestable via
	// interrupt — it is only reachable as an executed instruction.
	InterruptOne
	InterruptTwo
	InterruptThree
	InterruptFour
	InterruptFive
	InterruptSix
	InterruptSeven
	// InterruptLoad asks the Machine to invoke onLoad at this boundary.
	InterruptLoad
	// InterruptSave asks the Machine to invoke onSave at this boundary.
	InterruptSave
	// InterruptQuit asks the Machine to terminate Run.
	InterruptQuit
)

// restartVector returns the 8080 restart address (CALL target) for the
// given restart-number interrupt, and whether the interrupt is in fact a
// restart-vector variant.
func (i Interrupt) restartVector() (addr uint16, isRst bool) {
	switch i {
	case InterruptOne:
		return 0x08, true
	case InterruptTwo:
		return 0x10, true
	case InterruptThree:
		return 0x18, true
	case InterruptFour:
		return 0x20, true
	case InterruptFive:
		return 0x28, true
	case InterruptSix:
		return 0x30, true
	case InterruptSeven:
		return 0x38, true
	default:
		return 0, false
	}
}

// SystemBus dispatches the address/data path between the Cpu and whichever
// MemoryController and IoController are currently attached to the Machine.
// It generalizes the teacher's SMSBus (emu/bus.go), which adapted a fixed
// Memory+SMSIO pair to the go-chip-z80 Bus interface, to the spec's
// generic, swappable controller pair.
type SystemBus struct {
	mem MemoryController
	io  IoController
}

// NewSystemBus creates a bus with no controllers attached. Memory reads
// return 0 and memory writes are discarded until a memory controller is
// attached; port reads return 0xFF and port writes are discarded until an
// I/O controller is attached.
func NewSystemBus() *SystemBus {
	return &SystemBus{}
}

// SetMemoryController swaps the attached memory controller. Callers must
// only do this while the owning Machine is Idle.
func (b *SystemBus) SetMemoryController(c MemoryController) {
	b.mem = c
}

// SetIoController swaps the attached I/O controller. Callers must only do
// this while the owning Machine is Idle.
func (b *SystemBus) SetIoController(c IoController) {
	b.io = c
}

// MemoryController returns the currently attached memory controller, or nil.
func (b *SystemBus) MemoryController() MemoryController {
	return b.mem
}

// IoController returns the currently attached I/O controller, or nil.
func (b *SystemBus) IoController() IoController {
	return b.io
}

// Read fetches a byte from the address space via the memory controller.
func (b *SystemBus) Read(addr uint16) uint8 {
	if b.mem == nil {
		return 0
	}
	return b.mem.Read(addr, b.io)
}

// Write stores a byte into the address space via the memory controller.
func (b *SystemBus) Write(addr uint16, value uint8) {
	if b.mem == nil {
		return
	}
	b.mem.Write(addr, value, b.io)
}

// In reads a byte from an I/O port via the I/O controller.
func (b *SystemBus) In(port uint8) uint8 {
	if b.io == nil {
		return 0xFF
	}
	return b.io.Read(uint16(port), b.mem)
}

// Out writes a byte to an I/O port via the I/O controller.
func (b *SystemBus) Out(port uint8, value uint8) {
	if b.io == nil {
		return
	}
	b.io.Write(uint16(port), value, b.mem)
}

// GenerateInterrupt polls the I/O controller, the sole interrupt source.
func (b *SystemBus) GenerateInterrupt(currentNs int64, cycles uint64) Interrupt {
	if b.io == nil {
		return NoInterrupt
	}
	return b.io.GenerateInterrupt(currentNs, cycles, b.mem)
}
