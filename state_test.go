package meen

import (
	"crypto/md5"
	"errors"
	"strings"
	"testing"
)

func TestEncodeDecodeSnapshot_RoundTrip(t *testing.T) {
	cpu, _ := newTestCpu()
	regs := Registers{A: 1, B: 2, C: 3, D: 4, E: 5, H: 6, L: 7, S: flagsResetValue, PC: 0x1234, SP: 0xABCD}
	cpu.SetRegisters(regs)

	rom := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	ram := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 0}
	memUUID := [16]byte{9, 9, 9}

	doc, err := EncodeSnapshot(cpu, cpu.UUID(), memUUID, rom, ram)
	if err != nil {
		t.Fatalf("EncodeSnapshot: %v", err)
	}
	if !strings.Contains(doc, `"pc":4660`) { // 0x1234 == 4660
		t.Fatalf("encoded doc missing expected pc: %s", doc)
	}

	snap, err := DecodeSnapshot(doc)
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}
	if snap.CpuUUID != cpu.UUID() {
		t.Fatalf("decoded cpu uuid mismatch")
	}
	if snap.MemoryUUID != memUUID {
		t.Fatalf("decoded memory uuid mismatch")
	}
	if snap.PC != regs.PC || snap.SP != regs.SP {
		t.Fatalf("decoded pc/sp = %04X/%04X, want %04X/%04X", snap.PC, snap.SP, regs.PC, regs.SP)
	}
	if snap.Registers != regs {
		t.Fatalf("decoded registers = %+v, want %+v", snap.Registers, regs)
	}
	if string(snap.Ram) != string(ram) {
		t.Fatalf("decoded ram = %v, want %v", snap.Ram, ram)
	}
	if snap.RomMD5 != md5.Sum(rom) {
		t.Fatalf("decoded rom md5 mismatch")
	}
}

func TestDecodeSnapshot_MalformedJsonIsJsonConfig(t *testing.T) {
	_, err := DecodeSnapshot("not json")
	if !errors.Is(err, JsonConfig) {
		t.Fatalf("DecodeSnapshot on malformed JSON = %v, want JsonConfig", err)
	}
}

func TestResolveURI_UnknownSchemeFails(t *testing.T) {
	_, _, err := resolveURI("ftp://nope")
	if err == nil {
		t.Fatal("expected an error for an unrecognized scheme")
	}
}

func TestResolveURI_Base64RoundTrip(t *testing.T) {
	payload := []byte("hello")
	uri := base64URI("", payload)
	got, isMD5, err := resolveURI(uri)
	if err != nil {
		t.Fatalf("resolveURI: %v", err)
	}
	if isMD5 {
		t.Fatal("plain base64:// payload should not be reported as md5")
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}
