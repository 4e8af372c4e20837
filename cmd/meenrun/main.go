// Command meenrun is a smoke-test runner: it loads an 8080 .COM image at
// 0x0100, wires up a CP/M BDOS shim on the I/O bus, and runs it to
// completion, printing whatever the guest program wrote to its console.
// Adapted from the teacher's cmd/standalone (flag.Parse, construct,
// Run, log.Fatal on error).
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/nbeddows/meen"
	"github.com/nbeddows/meen/testcontrollers"
)

func main() {
	romPath := flag.String("rom", "", "path to an 8080 .COM image")
	isrFreq := flag.Float64("isr-freq", 0, "interrupt-service granularity (0 = every instruction)")
	flag.Parse()

	if *romPath == "" {
		log.Fatal("missing -rom")
	}

	rom, err := os.ReadFile(*romPath)
	if err != nil {
		log.Fatalf("reading rom: %v", err)
	}

	m, err := meen.NewMachine(meen.CpuI8080)
	if err != nil {
		log.Fatal(err)
	}

	mem := testcontrollers.NewMemory(rom, 0x0100)
	mem.LoadAt(0x0000, testcontrollers.ExitShim())
	mem.LoadAt(0x0005, testcontrollers.BdosShim())
	io := testcontrollers.NewCpmIoController()

	if err := m.AttachMemoryController(mem); err != nil {
		log.Fatal(err)
	}
	if err := m.AttachIoController(io); err != nil {
		log.Fatal(err)
	}
	if err := m.SetOptions(fmt.Sprintf(`{"isrFreq":%v}`, *isrFreq)); err != nil {
		log.Fatal(err)
	}

	if _, err := m.Run(0x0100); err != nil {
		log.Fatal(err)
	}

	fmt.Print(io.Message())

	if strings.Contains(io.Message(), "ERROR") {
		os.Exit(1)
	}
}
