package meen_test

import (
	"strings"
	"testing"

	"github.com/nbeddows/meen"
	"github.com/nbeddows/meen/testcontrollers"
)

// TestEndToEnd_CpmHelloWorld assembles a tiny hand-written program that
// prints a banner via the classic CP/M BDOS function-9 convention (C=9,
// DE->message terminated by '$'), using the BDOS/exit shims every real
// 8080 instruction-set exerciser in this family relies on, and checks
// that the engine runs it to completion and captures the expected output.
func TestEndToEnd_CpmHelloWorld(t *testing.T) {
	program := []byte{
		0x11, 0x0B, 0x01, // LXI D,0x010B  (message address)
		0x0E, 0x09, // MVI C,9
		0xCD, 0x05, 0x00, // CALL 0x0005 (BDOS)
		0xC3, 0x00, 0x00, // JMP 0x0000 (exit)
	}
	message := append([]byte("CPU IS OPERATIONAL"), '$')

	mem := testcontrollers.NewMemory(program, 0x0100)
	mem.LoadAt(0x0100+len(program), message)
	mem.LoadAt(0x0000, testcontrollers.ExitShim())
	mem.LoadAt(0x0005, testcontrollers.BdosShim())

	io := testcontrollers.NewCpmIoController()

	m, err := meen.NewMachine(meen.CpuI8080)
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	if err := m.AttachMemoryController(mem); err != nil {
		t.Fatalf("AttachMemoryController: %v", err)
	}
	if err := m.AttachIoController(io); err != nil {
		t.Fatalf("AttachIoController: %v", err)
	}
	if err := m.SetOptions(`{"isrFreq":0,"clockResolution":-1}`); err != nil {
		t.Fatalf("SetOptions: %v", err)
	}

	if _, err := m.Run(0x0100); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := io.Message(); !strings.Contains(got, "CPU IS OPERATIONAL") {
		t.Fatalf("console output = %q, want it to contain %q", got, "CPU IS OPERATIONAL")
	}
}

// TestEndToEnd_SaveTriggeredMidRun drives a small loop that signals Save
// via the same OUT-0xFE convention testcontrollers.CpmIoController (and
// the real reference engine's BaseIoController) recognizes, then exits
// via the exit shim, and checks the Run completes with a save document
// captured partway through.
func TestEndToEnd_SaveTriggeredMidRun(t *testing.T) {
	program := []byte{
		0x06, 0x05, // MVI B,5
		0x05,             // DCR B        <- loop target (0x0102)
		0xC2, 0x02, 0x01, // JNZ 0x0102
		0xD3, 0xFE, // OUT 0xFE (request save)
		0xC3, 0x00, 0x00, // JMP 0x0000 (exit shim: OUT 0xFF; HLT)
	}

	mem := testcontrollers.NewMemory(program, 0x0100)
	mem.LoadAt(0x0000, testcontrollers.ExitShim())
	io := testcontrollers.NewCpmIoController()

	m, err := meen.NewMachine(meen.CpuI8080)
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	if err := m.AttachMemoryController(mem); err != nil {
		t.Fatalf("AttachMemoryController: %v", err)
	}
	if err := m.AttachIoController(io); err != nil {
		t.Fatalf("AttachIoController: %v", err)
	}
	if err := m.SetOptions(`{"isrFreq":0,"clockResolution":-1}`); err != nil {
		t.Fatalf("SetOptions: %v", err)
	}

	var saveDoc string
	if err := m.OnSave(func(doc string) { saveDoc = doc }); err != nil {
		t.Fatalf("OnSave: %v", err)
	}

	if _, err := m.Run(0x0100); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if saveDoc == "" {
		t.Fatal("expected onSave to have captured a snapshot mid-run")
	}
	if !strings.Contains(saveDoc, `"pc"`) {
		t.Fatalf("save document missing expected cpu state: %s", saveDoc)
	}
}
