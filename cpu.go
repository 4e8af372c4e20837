package meen

import "math/bits"

// Flag bit positions in the 8080 program status word (the "S" byte of
// spec.md's CpuState). Bits 1, 3 and 5 are not user-visible flags; bit 1 is
// always 1 and bits 3/5 are always 0 on real hardware, and this
// implementation preserves that layout so PUSH PSW / POP PSW round-trip
// exactly as the Intel data book describes.
const (
	flagCY uint8 = 1 << 0
	flagP  uint8 = 1 << 2
	flagAC uint8 = 1 << 4
	flagZ  uint8 = 1 << 6
	flagS  uint8 = 1 << 7

	flagsAlwaysOne  uint8 = 1 << 1
	flagsResetValue uint8 = flagsAlwaysOne
)

var parityEven [256]bool

func init() {
	for i := 0; i < 256; i++ {
		parityEven[i] = bits.OnesCount8(uint8(i))%2 == 0
	}
}

// Registers is the externally visible, read/write snapshot of a Cpu's
// architectural state, used both by the state codec and by test harnesses
// that want to inspect or force CPU state directly (spec.md §4.1
// "registers()").
type Registers struct {
	A, B, C, D, E, H, L uint8
	S                   uint8 // packed flags: S Z 0 AC 0 P 1 CY
	PC, SP              uint16
}

// Cpu is the contract every CPU family in this engine implements. The
// engine currently ships exactly one: Cpu8080.
type Cpu interface {
	// Step executes one instruction and returns the number of T-states
	// (ticks) it consumed.
	Step() int
	// Interrupt delivers an 8080 restart vector (RST 0..7, encoded as the
	// byte 0, 8, 16, ... 56) and reports whether it was honored. It is
	// ignored (returns false) when interrupts are disabled, except that
	// HLT is always broken by an accepted interrupt.
	Interrupt(vector uint8) bool
	// Reset returns the CPU to its power-on state. The tick counter is
	// NOT reset — it is a monotonic count of every instruction the Cpu has
	// ever executed since construction or explicit zeroing by the Machine.
	Reset()
	// Registers returns a copy of the current register file.
	Registers() Registers
	// SetRegisters overwrites the register file, e.g. when restoring a
	// save state.
	SetRegisters(Registers)
	// Halted reports whether the CPU is parked in a HLT instruction
	// awaiting an interrupt.
	Halted() bool
	// Ticks returns the monotonically increasing T-state counter.
	Ticks() uint64
	// UUID identifies the CPU family for save-state integrity checks.
	UUID() [16]byte
}

// Cpu8080 is an instruction-accurate interpreter for the Intel 8080,
// documented opcodes only (undocumented MOV-pattern duplicates execute as
// their documented equivalent; any opcode this table does not recognize
// executes as a 4-tick NOP, per the real hardware's behavior).
type Cpu8080 struct {
	reg   Registers
	inte  bool
	halt  bool
	ticks uint64
	bus   *SystemBus
}

// NewCpu8080 creates an 8080 interpreter driving the given bus.
func NewCpu8080(bus *SystemBus) *Cpu8080 {
	c := &Cpu8080{bus: bus}
	c.Reset()
	return c
}

// UUID identifies the i8080 CPU family.
func (c *Cpu8080) UUID() [16]byte { return cpuI8080UUID }

// Reset parks the CPU in its power-on state: PC=0, SP=0, flags with only
// the always-one bit set, interrupts disabled, not halted.
func (c *Cpu8080) Reset() {
	c.reg = Registers{S: flagsResetValue}
	c.inte = false
	c.halt = false
}

// Registers returns a copy of the current register file. INTE is not part
// of it (query it via InterruptsEnabled): the packed flags byte carries
// only S/Z/AC/P/CY per the 8080 PSW.
func (c *Cpu8080) Registers() Registers { return c.reg }

// SetRegisters overwrites the register file. INTE and HALT are left
// untouched: they are runtime context, not persisted architectural state.
func (c *Cpu8080) SetRegisters(r Registers) { c.reg = r }

// Halted reports whether the CPU is parked awaiting an interrupt.
func (c *Cpu8080) Halted() bool { return c.halt }

// Ticks returns the cumulative T-state count.
func (c *Cpu8080) Ticks() uint64 { return c.ticks }

// InterruptsEnabled reports the current state of INTE, set by EI/DI and
// cleared on interrupt acceptance.
func (c *Cpu8080) InterruptsEnabled() bool { return c.inte }

// Interrupt accepts an 8080 restart vector if interrupts are enabled. The
// vector is the byte-sized restart address (0, 8, 16, ..., 56). HLT is
// broken by any accepted interrupt.
func (c *Cpu8080) Interrupt(vector uint8) bool {
	if !c.inte {
		return false
	}
	c.inte = false
	c.halt = false
	c.push16(c.reg.PC)
	c.reg.PC = uint16(vector)
	return true
}

// Step executes one instruction, returning its T-state cost. A HLT-parked
// CPU consumes 4 ticks per Step without advancing PC, mirroring the real
// chip's behavior of looping on the HLT bus cycle until an interrupt wakes
// it.
func (c *Cpu8080) Step() int {
	if c.halt {
		c.ticks += 4
		return 4
	}
	op := c.fetch8()
	ticks := c.execute(op)
	c.ticks += uint64(ticks)
	return ticks
}

// ---- fetch / memory helpers ----

func (c *Cpu8080) fetch8() uint8 {
	v := c.bus.Read(c.reg.PC)
	c.reg.PC++
	return v
}

func (c *Cpu8080) fetch16() uint16 {
	lo := c.fetch8()
	hi := c.fetch8()
	return uint16(hi)<<8 | uint16(lo)
}

func (c *Cpu8080) hl() uint16 { return uint16(c.reg.H)<<8 | uint16(c.reg.L) }
func (c *Cpu8080) setHL(v uint16) {
	c.reg.H = uint8(v >> 8)
	c.reg.L = uint8(v)
}
func (c *Cpu8080) bc() uint16 { return uint16(c.reg.B)<<8 | uint16(c.reg.C) }
func (c *Cpu8080) setBC(v uint16) {
	c.reg.B = uint8(v >> 8)
	c.reg.C = uint8(v)
}
func (c *Cpu8080) de() uint16 { return uint16(c.reg.D)<<8 | uint16(c.reg.E) }
func (c *Cpu8080) setDE(v uint16) {
	c.reg.D = uint8(v >> 8)
	c.reg.E = uint8(v)
}

func (c *Cpu8080) push16(v uint16) {
	c.reg.SP -= 2
	c.bus.Write(c.reg.SP, uint8(v))
	c.bus.Write(c.reg.SP+1, uint8(v>>8))
}

func (c *Cpu8080) pop16() uint16 {
	lo := c.bus.Read(c.reg.SP)
	hi := c.bus.Read(c.reg.SP + 1)
	c.reg.SP += 2
	return uint16(hi)<<8 | uint16(lo)
}

// getReg/setReg address an 8080 register operand by its 3-bit encoding:
// 0=B 1=C 2=D 3=E 4=H 5=L 6=M(memory at HL) 7=A.
func (c *Cpu8080) getReg(i int) uint8 {
	switch i {
	case 0:
		return c.reg.B
	case 1:
		return c.reg.C
	case 2:
		return c.reg.D
	case 3:
		return c.reg.E
	case 4:
		return c.reg.H
	case 5:
		return c.reg.L
	case 6:
		return c.bus.Read(c.hl())
	default:
		return c.reg.A
	}
}

func (c *Cpu8080) setReg(i int, v uint8) {
	switch i {
	case 0:
		c.reg.B = v
	case 1:
		c.reg.C = v
	case 2:
		c.reg.D = v
	case 3:
		c.reg.E = v
	case 4:
		c.reg.H = v
	case 5:
		c.reg.L = v
	case 6:
		c.bus.Write(c.hl(), v)
	default:
		c.reg.A = v
	}
}

// ---- flag helpers ----

func (c *Cpu8080) setFlag(mask uint8, v bool) {
	if v {
		c.reg.S |= mask
	} else {
		c.reg.S &^= mask
	}
}

func (c *Cpu8080) flag(mask uint8) bool { return c.reg.S&mask != 0 }

// setZSP updates Z, S and P from the given result byte; callers apply AC
// and CY separately since those depend on the operation, not just the
// result.
func (c *Cpu8080) setZSP(v uint8) {
	c.setFlag(flagZ, v == 0)
	c.setFlag(flagS, v&0x80 != 0)
	c.setFlag(flagP, parityEven[v])
}

// ---- arithmetic ----

func (c *Cpu8080) add(a, b uint8, carryIn uint8) uint8 {
	sum := uint16(a) + uint16(b) + uint16(carryIn)
	result := uint8(sum)
	c.setFlag(flagCY, sum > 0xFF)
	c.setFlag(flagAC, (a&0x0F)+(b&0x0F)+carryIn > 0x0F)
	c.setZSP(result)
	return result
}

// subtract performs a - b - borrowIn with correct 8080 AC/CY (borrow)
// semantics: CY is set when a borrow occurred, AC is set when a borrow
// occurred out of bit 4.
func (c *Cpu8080) subtract(a, b uint8, borrowIn uint8) uint8 {
	diff := int16(a) - int16(b) - int16(borrowIn)
	result := uint8(diff)
	c.setFlag(flagCY, diff < 0)
	c.setFlag(flagAC, int16(a&0x0F)-int16(b&0x0F)-int16(borrowIn) < 0)
	c.setZSP(result)
	return result
}

func (c *Cpu8080) inr(v uint8) uint8 {
	result := v + 1
	c.setFlag(flagAC, v&0x0F == 0x0F)
	c.setZSP(result)
	return result
}

func (c *Cpu8080) dcr(v uint8) uint8 {
	result := v - 1
	c.setFlag(flagAC, v&0x0F != 0)
	c.setZSP(result)
	return result
}

func (c *Cpu8080) dad(v uint16) {
	sum := uint32(c.hl()) + uint32(v)
	c.setFlag(flagCY, sum > 0xFFFF)
	c.setHL(uint16(sum))
}

// daa applies decimal adjust per the published algorithm: the aux-carry
// nibble test followed by the carry nibble test, each independently able
// to set CY (CY only ever goes from 0 to 1 here, never back to 0).
func (c *Cpu8080) daa() {
	a := c.reg.A
	cy := c.flag(flagCY)
	correction := uint8(0)
	if c.flag(flagAC) || a&0x0F > 9 {
		correction |= 0x06
	}
	if cy || a>>4 > 9 || (a>>4 == 9 && a&0x0F > 9) {
		correction |= 0x60
		cy = true
	}
	result := c.add(a, correction, 0)
	c.setFlag(flagCY, cy)
	c.reg.A = result
}

// ---- conditions ----

func (c *Cpu8080) condition(code int) bool {
	switch code {
	case 0:
		return !c.flag(flagZ) // NZ
	case 1:
		return c.flag(flagZ) // Z
	case 2:
		return !c.flag(flagCY) // NC
	case 3:
		return c.flag(flagCY) // C
	case 4:
		return !c.flag(flagP) // PO
	case 5:
		return c.flag(flagP) // PE
	case 6:
		return !c.flag(flagS) // P (plus sign)
	default:
		return c.flag(flagS) // M (minus sign)
	}
}

// execute dispatches a single fetched opcode and returns its T-state cost,
// including the branch penalty for conditional CALL/RET instructions when
// taken (Jcc timing does not vary on real 8080 hardware).
func (c *Cpu8080) execute(op uint8) int {
	// MOV r,r' occupies the entire 0x40-0x7F block except 0x76 (HLT).
	if op >= 0x40 && op <= 0x7F {
		if op == 0x76 {
			c.halt = true
			return 7
		}
		dst := int(op>>3) & 7
		src := int(op) & 7
		v := c.getReg(src)
		c.setReg(dst, v)
		if dst == 6 || src == 6 {
			return 7
		}
		return 5
	}

	switch op {
	case 0x00, 0x08, 0x10, 0x18, 0x20, 0x28, 0x30, 0x38: // undocumented NOP dupes + NOP
		return 4
	case 0x01, 0x11, 0x21, 0x31: // LXI rp,d16
		v := c.fetch16()
		switch op {
		case 0x01:
			c.setBC(v)
		case 0x11:
			c.setDE(v)
		case 0x21:
			c.setHL(v)
		case 0x31:
			c.reg.SP = v
		}
		return 10
	case 0x02: // STAX B
		c.bus.Write(c.bc(), c.reg.A)
		return 7
	case 0x12: // STAX D
		c.bus.Write(c.de(), c.reg.A)
		return 7
	case 0x0A: // LDAX B
		c.reg.A = c.bus.Read(c.bc())
		return 7
	case 0x1A: // LDAX D
		c.reg.A = c.bus.Read(c.de())
		return 7
	case 0x22: // SHLD addr
		addr := c.fetch16()
		c.bus.Write(addr, c.reg.L)
		c.bus.Write(addr+1, c.reg.H)
		return 16
	case 0x2A: // LHLD addr
		addr := c.fetch16()
		c.reg.L = c.bus.Read(addr)
		c.reg.H = c.bus.Read(addr + 1)
		return 16
	case 0x32: // STA addr
		addr := c.fetch16()
		c.bus.Write(addr, c.reg.A)
		return 13
	case 0x3A: // LDA addr
		addr := c.fetch16()
		c.reg.A = c.bus.Read(addr)
		return 13
	case 0x03, 0x13, 0x23, 0x33: // INX rp
		switch op {
		case 0x03:
			c.setBC(c.bc() + 1)
		case 0x13:
			c.setDE(c.de() + 1)
		case 0x23:
			c.setHL(c.hl() + 1)
		case 0x33:
			c.reg.SP++
		}
		return 5
	case 0x0B, 0x1B, 0x2B, 0x3B: // DCX rp
		switch op {
		case 0x0B:
			c.setBC(c.bc() - 1)
		case 0x1B:
			c.setDE(c.de() - 1)
		case 0x2B:
			c.setHL(c.hl() - 1)
		case 0x3B:
			c.reg.SP--
		}
		return 5
	case 0x09: // DAD B
		c.dad(c.bc())
		return 10
	case 0x19: // DAD D
		c.dad(c.de())
		return 10
	case 0x29: // DAD H
		c.dad(c.hl())
		return 10
	case 0x39: // DAD SP
		c.dad(c.reg.SP)
		return 10
	case 0x04, 0x0C, 0x14, 0x1C, 0x24, 0x2C, 0x34, 0x3C: // INR r
		r := int(op>>3) & 7
		c.setReg(r, c.inr(c.getReg(r)))
		if r == 6 {
			return 10
		}
		return 5
	case 0x05, 0x0D, 0x15, 0x1D, 0x25, 0x2D, 0x35, 0x3D: // DCR r
		r := int(op>>3) & 7
		c.setReg(r, c.dcr(c.getReg(r)))
		if r == 6 {
			return 10
		}
		return 5
	case 0x06, 0x0E, 0x16, 0x1E, 0x26, 0x2E, 0x36, 0x3E: // MVI r,d8
		r := int(op>>3) & 7
		v := c.fetch8()
		c.setReg(r, v)
		if r == 6 {
			return 10
		}
		return 7
	case 0x07: // RLC
		cy := c.reg.A&0x80 != 0
		c.reg.A = c.reg.A<<1 | boolBit(cy)
		c.setFlag(flagCY, cy)
		return 4
	case 0x0F: // RRC
		cy := c.reg.A&0x01 != 0
		c.reg.A = c.reg.A>>1 | boolBit(cy)<<7
		c.setFlag(flagCY, cy)
		return 4
	case 0x17: // RAL
		cy := c.reg.A&0x80 != 0
		c.reg.A = c.reg.A<<1 | boolBit(c.flag(flagCY))
		c.setFlag(flagCY, cy)
		return 4
	case 0x1F: // RAR
		cy := c.reg.A&0x01 != 0
		c.reg.A = c.reg.A>>1 | boolBit(c.flag(flagCY))<<7
		c.setFlag(flagCY, cy)
		return 4
	case 0x27: // DAA
		c.daa()
		return 4
	case 0x2F: // CMA
		c.reg.A = ^c.reg.A
		return 4
	case 0x37: // STC
		c.setFlag(flagCY, true)
		return 4
	case 0x3F: // CMC
		c.setFlag(flagCY, !c.flag(flagCY))
		return 4
	case 0xC6: // ADI d8
		c.reg.A = c.add(c.reg.A, c.fetch8(), 0)
		return 7
	case 0xCE: // ACI d8
		c.reg.A = c.add(c.reg.A, c.fetch8(), boolBit(c.flag(flagCY)))
		return 7
	case 0xD6: // SUI d8
		c.reg.A = c.subtract(c.reg.A, c.fetch8(), 0)
		return 7
	case 0xDE: // SBI d8
		c.reg.A = c.subtract(c.reg.A, c.fetch8(), boolBit(c.flag(flagCY)))
		return 7
	case 0xE6: // ANI d8
		operand := c.fetch8()
		result := c.reg.A & operand
		c.setFlag(flagCY, false)
		// ANA/ANI set AC from the OR of the two operands' bit 3, a
		// documented quirk of the real ALU, not from the result.
		c.setFlag(flagAC, (c.reg.A|operand)&0x08 != 0)
		c.setZSP(result)
		c.reg.A = result
		return 7
	case 0xEE: // XRI d8
		c.reg.A ^= c.fetch8()
		c.setFlag(flagCY, false)
		c.setFlag(flagAC, false)
		c.setZSP(c.reg.A)
		return 7
	case 0xF6: // ORI d8
		c.reg.A |= c.fetch8()
		c.setFlag(flagCY, false)
		c.setFlag(flagAC, false)
		c.setZSP(c.reg.A)
		return 7
	case 0xFE: // CPI d8
		c.subtract(c.reg.A, c.fetch8(), 0)
		return 7
	case 0xC3, 0xCB: // JMP addr (0xCB undocumented dup)
		c.reg.PC = c.fetch16()
		return 10
	case 0xC2, 0xCA, 0xD2, 0xDA, 0xE2, 0xEA, 0xF2, 0xFA: // Jcc addr
		addr := c.fetch16()
		if c.condition(int(op>>3) & 7) {
			c.reg.PC = addr
		}
		return 10
	case 0xCD, 0xDD, 0xED, 0xFD: // CALL addr (undocumented dups)
		addr := c.fetch16()
		c.push16(c.reg.PC)
		c.reg.PC = addr
		return 17
	case 0xC4, 0xCC, 0xD4, 0xDC, 0xE4, 0xEC, 0xF4, 0xFC: // Ccc addr
		addr := c.fetch16()
		if c.condition(int(op>>3) & 7) {
			c.push16(c.reg.PC)
			c.reg.PC = addr
			return 17
		}
		return 11
	case 0xC9, 0xD9: // RET (0xD9 undocumented dup)
		c.reg.PC = c.pop16()
		return 10
	case 0xC0, 0xC8, 0xD0, 0xD8, 0xE0, 0xE8, 0xF0, 0xF8: // Rcc
		if c.condition(int(op>>3) & 7) {
			c.reg.PC = c.pop16()
			return 11
		}
		return 5
	case 0xC7, 0xCF, 0xD7, 0xDF, 0xE7, 0xEF, 0xF7, 0xFF: // RST n
		c.push16(c.reg.PC)
		c.reg.PC = uint16(op & 0x38)
		return 11
	case 0xC1, 0xD1, 0xE1, 0xF1: // POP rp (F1 = PSW)
		v := c.pop16()
		switch op {
		case 0xC1:
			c.setBC(v)
		case 0xD1:
			c.setDE(v)
		case 0xE1:
			c.setHL(v)
		case 0xF1:
			c.reg.A = uint8(v >> 8)
			// Bits 1/3/5 are fixed regardless of what was pushed.
			c.reg.S = uint8(v)&(flagS|flagZ|flagAC|flagP|flagCY) | flagsAlwaysOne
		}
		return 10
	case 0xC5, 0xD5, 0xE5, 0xF5: // PUSH rp (F5 = PSW)
		var v uint16
		switch op {
		case 0xC5:
			v = c.bc()
		case 0xD5:
			v = c.de()
		case 0xE5:
			v = c.hl()
		case 0xF5:
			v = uint16(c.reg.A)<<8 | uint16(c.reg.S)
		}
		c.push16(v)
		return 11
	case 0xE9: // PCHL
		c.reg.PC = c.hl()
		return 5
	case 0xF9: // SPHL
		c.reg.SP = c.hl()
		return 5
	case 0xE3: // XTHL
		lo := c.bus.Read(c.reg.SP)
		hi := c.bus.Read(c.reg.SP + 1)
		c.bus.Write(c.reg.SP, c.reg.L)
		c.bus.Write(c.reg.SP+1, c.reg.H)
		c.reg.L = lo
		c.reg.H = hi
		return 18
	case 0xEB: // XCHG
		c.reg.H, c.reg.D = c.reg.D, c.reg.H
		c.reg.L, c.reg.E = c.reg.E, c.reg.L
		return 4
	case 0xF3: // DI
		c.inte = false
		return 4
	case 0xFB: // EI
		c.inte = true
		return 4
	case 0xD3: // OUT d8
		c.bus.Out(c.fetch8(), c.reg.A)
		return 10
	case 0xDB: // IN d8
		c.reg.A = c.bus.In(c.fetch8())
		return 10
	}

	// ALU r / ALU M, op encodings 0x80-0xBF.
	if op >= 0x80 && op <= 0xBF {
		r := int(op) & 7
		v := c.getReg(r)
		ticks := 4
		if r == 6 {
			ticks = 7
		}
		switch op >> 3 & 7 {
		case 0: // ADD
			c.reg.A = c.add(c.reg.A, v, 0)
		case 1: // ADC
			c.reg.A = c.add(c.reg.A, v, boolBit(c.flag(flagCY)))
		case 2: // SUB
			c.reg.A = c.subtract(c.reg.A, v, 0)
		case 3: // SBB
			c.reg.A = c.subtract(c.reg.A, v, boolBit(c.flag(flagCY)))
		case 4: // ANA
			result := c.reg.A & v
			c.setFlag(flagCY, false)
			c.setFlag(flagAC, (c.reg.A|v)&0x08 != 0)
			c.setZSP(result)
			c.reg.A = result
		case 5: // XRA
			c.reg.A ^= v
			c.setFlag(flagCY, false)
			c.setFlag(flagAC, false)
			c.setZSP(c.reg.A)
		case 6: // ORA
			c.reg.A |= v
			c.setFlag(flagCY, false)
			c.setFlag(flagAC, false)
			c.setZSP(c.reg.A)
		case 7: // CMP
			c.subtract(c.reg.A, v, 0)
		}
		return ticks
	}

	// Unknown/unimplemented opcode: executes as NOP, 4 ticks (hardware
	// behavior for the handful of 8080 byte values with no defined
	// instruction — none remain unreached above, but this is the
	// documented fallback per spec.md §4.1).
	return 4
}

func boolBit(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
