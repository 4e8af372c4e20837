package testcontrollers

import (
	"testing"

	"github.com/nbeddows/meen"
)

func TestMemory_RomWriteProtected(t *testing.T) {
	m := NewMemory([]byte{0xAA, 0xBB}, 0x0100)
	m.Write(0x0100, 0xFF, nil)
	if got := m.Read(0x0100, nil); got != 0xAA {
		t.Fatalf("rom byte after write = 0x%02X, want unchanged 0xAA", got)
	}
}

func TestMemory_RamWritable(t *testing.T) {
	m := NewMemory([]byte{0xAA}, 0x0100)
	m.Write(0x2000, 0x42, nil)
	if got := m.Read(0x2000, nil); got != 0x42 {
		t.Fatalf("ram byte = 0x%02X, want 0x42", got)
	}
}

func TestMemory_LoadAtBypassesRomProtection(t *testing.T) {
	m := NewMemory(nil, 0)
	m.LoadAt(0x0005, BdosShim())
	if got := m.Read(0x0005, nil); got != BdosShim()[0] {
		t.Fatalf("shim byte = 0x%02X, want 0x%02X", got, BdosShim()[0])
	}
}

func TestMemory_RomMD5MatchesInstalledImage(t *testing.T) {
	rom := []byte{1, 2, 3, 4}
	m := NewMemory(rom, 0)
	got := m.RomMD5()
	want := NewMemory(rom, 0).RomMD5()
	if got != want {
		t.Fatal("RomMD5 not deterministic for identical rom content")
	}
}

func TestCpmIoController_BdosFunction9PrintsUntilDollarSign(t *testing.T) {
	mem := NewMemory(nil, 0)
	mem.LoadAt(0x0200, []byte("HI$"))

	io := NewCpmIoController()
	io.Write(0, 9, mem)    // select function 9
	io.Write(1, 0x02, mem) // DE high byte
	io.Write(2, 0x00, mem) // DE low byte, triggers the call

	if got := io.Message(); got != "HI" {
		t.Fatalf("Message() = %q, want %q", got, "HI")
	}
}

func TestCpmIoController_Function2PrintsSingleChar(t *testing.T) {
	io := NewCpmIoController()
	io.Write(0, 2, nil)
	io.Write(1, 0, nil)
	io.Write(2, 'X', nil)
	if got := io.Message(); got != "X" {
		t.Fatalf("Message() = %q, want %q", got, "X")
	}
}

func TestBaseLatch_LoadWinsOverSave(t *testing.T) {
	io := NewCpmIoController()
	io.Write(0xFE, 0, nil) // request save
	io.Write(0xFD, 0, nil) // request load
	if isr := io.GenerateInterrupt(0, 0, nil); isr != meen.InterruptLoad {
		t.Fatalf("GenerateInterrupt = %v, want Load", isr)
	}
}

func TestTimerIoController_RaisesRstOneAfterOneSecond(t *testing.T) {
	tm := NewTimerIoController()
	if isr := tm.GenerateInterrupt(0, 0, nil); isr != meen.NoInterrupt {
		t.Fatalf("first poll = %v, want NoInterrupt", isr)
	}
	if isr := tm.GenerateInterrupt(2_000_000_000, 0, nil); isr != meen.InterruptOne {
		t.Fatalf("poll after 2s = %v, want InterruptOne", isr)
	}
}
