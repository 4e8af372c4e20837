// Package testcontrollers provides reference MemoryController and
// IoController implementations used by the engine's own test suite (and
// suitable as a starting point for a caller's own controllers): a flat
// 64 KiB memory with a ROM/RAM partition, a CP/M BDOS shim sufficient to
// run the classic 8080 instruction-set exercisers, and a timer-interrupt
// source. Ported from original_source/tests/source/test_controllers/
// (MemoryController.py, CpmIoController.py, BaseIoController.py,
// TestIoController.py) into the engine's Controller contract, in the
// style of the teacher's emu.Memory (a flat addressable array with a
// ROM/RAM split and no locking, since the engine drives every controller
// method from a single execution thread).
package testcontrollers

import (
	"crypto/md5"

	"github.com/nbeddows/meen"
)

// memoryUUID identifies this reference MemoryController implementation,
// ported verbatim from MemoryController.py's Uuid().
var memoryUUID = [16]byte{
	0xCD, 0x18, 0xD8, 0x67, 0xDD, 0xBF, 0x4D, 0xAA,
	0xAD, 0x5A, 0xBA, 0x1C, 0xEB, 0xAE, 0xB0, 0x31,
}

// Memory is a flat 64 KiB address space split into a ROM region
// [romOffset, romOffset+len(rom)) and everything else treated as RAM.
// Writes into the ROM region are silently discarded, per spec.md §3.
type Memory struct {
	bytes     [0x10000]uint8
	romOffset int
	romSize   int
}

// NewMemory creates a Memory with rom installed at romOffset. Addresses
// outside [0, 0x10000) in rom are truncated.
func NewMemory(rom []byte, romOffset int) *Memory {
	m := &Memory{romOffset: romOffset, romSize: len(rom)}
	for i, b := range rom {
		addr := romOffset + i
		if addr < 0 || addr >= len(m.bytes) {
			break
		}
		m.bytes[addr] = b
	}
	return m
}

// Read returns the byte at addr. peer is unused: memory never needs to
// consult the I/O controller to satisfy a read.
func (m *Memory) Read(addr uint16, peer meen.Controller) uint8 {
	return m.bytes[addr]
}

// Write stores value at addr, unless addr falls inside the ROM region.
func (m *Memory) Write(addr uint16, value uint8, peer meen.Controller) {
	if m.inRom(int(addr)) {
		return
	}
	m.bytes[addr] = value
}

func (m *Memory) inRom(addr int) bool {
	return addr >= m.romOffset && addr < m.romOffset+m.romSize
}

// LoadAt installs data at addr, bypassing ROM write protection. It is
// meant for assembling a test fixture out of the program image plus the
// BDOS/exit shims that stand in for CP/M at addresses outside the ROM
// region, before the Machine starts running.
func (m *Memory) LoadAt(addr int, data []byte) {
	for i, b := range data {
		a := addr + i
		if a < 0 || a >= len(m.bytes) {
			break
		}
		m.bytes[a] = b
	}
}

// GenerateInterrupt never raises an interrupt; memory is not an interrupt
// source in this reference implementation.
func (m *Memory) GenerateInterrupt(currentNs int64, cycles uint64, peer meen.Controller) meen.Interrupt {
	return meen.NoInterrupt
}

// UUID identifies this MemoryController implementation.
func (m *Memory) UUID() [16]byte { return memoryUUID }

// RomImage returns the bytes currently installed in the ROM region, for
// the state codec's Save path.
func (m *Memory) RomImage() []byte {
	return append([]byte(nil), m.bytes[m.romOffset:m.romOffset+m.romSize]...)
}

// RomMD5 returns the MD5 digest of the installed ROM image.
func (m *Memory) RomMD5() [16]byte {
	return md5.Sum(m.bytes[m.romOffset : m.romOffset+m.romSize])
}

// RamImage returns a copy of the entire 64 KiB address space, which the
// state codec treats as RAM content outside the caller's declared ROM
// bounds.
func (m *Memory) RamImage() []byte {
	return append([]byte(nil), m.bytes[:]...)
}

// WriteRam overwrites the address space with a restored RAM image,
// leaving the ROM region untouched so a Load can never corrupt the
// program image it is itself being verified against.
func (m *Memory) WriteRam(ram []byte) {
	for addr := 0; addr < len(ram) && addr < len(m.bytes); addr++ {
		if m.inRom(addr) {
			continue
		}
		m.bytes[addr] = ram[addr]
	}
}
