package meen

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// loopbackIo is a minimal IoController used only by these unit tests: it
// answers Quit immediately, or after a configured number of GenerateInterrupt
// polls, whichever a given test needs.
type loopbackIo struct {
	quitAfterPolls int
	polls          int
	out            []byte
}

func (l *loopbackIo) Read(port uint16, peer Controller) uint8 { return 0 }
func (l *loopbackIo) Write(port uint16, value uint8, peer Controller) {
	l.out = append(l.out, value)
}
func (l *loopbackIo) GenerateInterrupt(currentNs int64, cycles uint64, peer Controller) Interrupt {
	l.polls++
	if l.polls >= l.quitAfterPolls {
		return InterruptQuit
	}
	return NoInterrupt
}
func (l *loopbackIo) UUID() [16]byte { return [16]byte{1} }

func newIdleMachine(t *testing.T) (*Machine, *flatMemory, *loopbackIo) {
	t.Helper()
	m, err := NewMachine(CpuI8080)
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	mem := &flatMemory{}
	io := &loopbackIo{quitAfterPolls: 1}
	if err := m.AttachMemoryController(mem); err != nil {
		t.Fatalf("AttachMemoryController: %v", err)
	}
	if err := m.AttachIoController(io); err != nil {
		t.Fatalf("AttachIoController: %v", err)
	}
	if err := m.SetOptions(`{"isrFreq":0}`); err != nil {
		t.Fatalf("SetOptions: %v", err)
	}
	return m, mem, io
}

func TestMachine_UnsupportedFamily(t *testing.T) {
	if _, err := NewMachine(CpuFamily("z80")); err == nil {
		t.Fatal("expected error for unsupported family")
	}
}

func TestMachine_AttachNilControllerIsInvalidArgument(t *testing.T) {
	m, err := NewMachine(CpuI8080)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.AttachMemoryController(nil); err != InvalidArgument {
		t.Fatalf("AttachMemoryController(nil) = %v, want InvalidArgument", err)
	}
	if err := m.AttachIoController(nil); err != InvalidArgument {
		t.Fatalf("AttachIoController(nil) = %v, want InvalidArgument", err)
	}
}

func TestMachine_NegativeIsrFreqIsJsonConfig(t *testing.T) {
	m, err := NewMachine(CpuI8080)
	if err != nil {
		t.Fatal(err)
	}
	err = m.SetOptions(`{"isrFreq":-1}`)
	if !errors.Is(err, JsonConfig) {
		t.Fatalf("SetOptions with negative isrFreq = %v, want JsonConfig", err)
	}
}

func TestMachine_RunToQuitStopsWithinOneBoundary(t *testing.T) {
	m, mem, io := newIdleMachine(t)
	mem.bytes[0] = 0x00 // NOP, endlessly

	ns, err := m.Run(0x0000)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ns < 0 {
		t.Fatalf("Run returned negative ns: %d", ns)
	}
	if io.polls != 1 {
		t.Fatalf("GenerateInterrupt polled %d times, want 1 (Run must stop at the first Quit)", io.polls)
	}
}

func TestMachine_BusyWhileRunningAsync(t *testing.T) {
	m, mem, io := newIdleMachine(t)
	io.quitAfterPolls = 1 << 20 // keep running long enough to observe Busy
	mem.bytes[0] = 0x00         // NOP loop

	if err := m.SetOptions(`{"runAsync":true,"clockResolution":-1}`); err != nil {
		t.Fatalf("SetOptions: %v", err)
	}

	if _, err := m.Run(0x0000); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The worker is almost certainly still Running immediately after Run
	// returns for an async Machine; Busy-gated mutators must reject.
	if err := m.SetOptions(`{"isrFreq":1}`); err != Busy {
		t.Fatalf("SetOptions while running = %v, want Busy", err)
	}
	if err := m.AttachMemoryController(mem); err != Busy {
		t.Fatalf("AttachMemoryController while running = %v, want Busy", err)
	}

	io.quitAfterPolls = 0 // force the next poll to report Quit
	m.WaitForCompletion()

	if err := m.SetOptions(`{"isrFreq":1}`); err != nil {
		t.Fatalf("SetOptions after completion = %v, want nil", err)
	}
}

func TestMachine_SaveLoadRoundTrip(t *testing.T) {
	m, mem, _ := newIdleMachine(t)
	regs := Registers{A: 0x12, B: 0x34, PC: 0x0010, SP: 0x2000, S: flagsResetValue}

	var saved string
	if err := m.OnSave(func(doc string) { saved = doc }); err != nil {
		t.Fatalf("OnSave: %v", err)
	}

	m.cpu.SetRegisters(regs)
	m.handleSave()
	if saved == "" {
		t.Fatal("expected onSave to capture a document")
	}
	if !strings.Contains(saved, `"pc":16`) {
		t.Fatalf("saved doc missing expected pc: %s", saved)
	}

	m.cpu.Reset()
	if err := m.OnLoad(func() string { return saved }); err != nil {
		t.Fatalf("OnLoad: %v", err)
	}
	m.handleLoad()

	got := m.cpu.Registers()
	if got.A != regs.A || got.B != regs.B || got.PC != regs.PC || got.SP != regs.SP {
		t.Fatalf("restored registers = %+v, want %+v", got, regs)
	}
	_ = mem
}

func TestComputeIsrGranularity(t *testing.T) {
	if g := computeIsrGranularity(0, 2_000_000); g != 1 {
		t.Fatalf("isrFreq=0 granularity = %d, want 1", g)
	}
	g := computeIsrGranularity(1, 2_000_000)
	want := uint64(2_000_000 / 60)
	if g < want || g > want+1 {
		t.Fatalf("isrFreq=1 granularity = %d, want ~%d", g, want)
	}
}

func TestCpuClock_PacesWithinTolerance(t *testing.T) {
	// 1-second Run at 2 MHz, 60 Hz sampling: wall-clock error must fall
	// within [0, 500us], per spec.md §4.2 and §8.
	const cpuHz = 2_000_000.0
	clock := NewCpuClock(1e9/cpuHz, 60)
	clock.Reset()

	start := time.Now()
	var ticks uint64
	for elapsed := 0; elapsed < int(cpuHz); elapsed += 4 {
		ticks += 4
		clock.Sample(ticks)
	}
	elapsed := time.Since(start)

	if elapsed < time.Second {
		t.Fatalf("paced run finished early: %v", elapsed)
	}
	if over := elapsed - time.Second; over > 500*time.Microsecond {
		t.Fatalf("paced run overshot by %v", over)
	}
}
