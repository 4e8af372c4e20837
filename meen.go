// Package meen is a machine emulator engine: an instruction-accurate Intel
// 8080 interpreter driven by a clock-paced, interrupt-dispatching main loop
// against pluggable memory and I/O controllers.
//
// A Machine owns the Cpu, the CpuClock and the SystemBus. Callers attach a
// MemoryController and an IoController, set options, optionally register
// save/load callbacks, then Run the machine from a starting program counter.
// The CPU family is fixed at construction; everything else may be
// reconfigured whenever the Machine is not running.
package meen

import "fmt"

// Version is the engine's semantic version.
const Version = "1.0.0"

// ErrorCode is the engine's explicit, returned-not-thrown error type.
type ErrorCode int

const (
	// NoError indicates success.
	NoError ErrorCode = iota
	// InvalidArgument is returned for a nil controller or similar bad argument.
	InvalidArgument
	// JsonConfig is returned for malformed or out-of-range option/state JSON.
	JsonConfig
	// Busy is returned when a mutator is called while the Machine is Running.
	Busy
	// NotImplemented is returned by a callback registrar the build doesn't support.
	NotImplemented
	// ClockResolution is returned for an invalid clock pacing configuration.
	ClockResolution
	// Unknown covers any condition not otherwise enumerated.
	Unknown
)

func (e ErrorCode) String() string {
	switch e {
	case NoError:
		return "NoError"
	case InvalidArgument:
		return "InvalidArgument"
	case JsonConfig:
		return "JsonConfig"
	case Busy:
		return "Busy"
	case NotImplemented:
		return "NotImplemented"
	case ClockResolution:
		return "ClockResolution"
	default:
		return "Unknown"
	}
}

// Error implements the error interface so ErrorCode can be returned or
// wrapped with fmt.Errorf("%w", ...) where a richer diagnostic is useful.
func (e ErrorCode) Error() string {
	return e.String()
}

// CpuFamily names a supported CPU architecture. The engine currently
// implements a single family; the type exists so additional families can be
// added without changing the Machine construction API.
type CpuFamily string

// CpuI8080 is the only CpuFamily this engine implements.
const CpuI8080 CpuFamily = "i8080"

// cpuI8080UUID is the stable 128-bit identifier for the i8080 CPU family,
// embedded in every save-state envelope produced by a Machine running it.
var cpuI8080UUID = [16]byte{
	0x3b, 0xe8, 0x4f, 0x1f, 0x9e, 0x7a, 0x4b, 0x70,
	0xa5, 0x45, 0xd9, 0xf3, 0x49, 0x12, 0xfc, 0xad,
}

// newUnsupportedFamilyError formats the error for an unrecognized CPU family.
func newUnsupportedFamilyError(family CpuFamily) error {
	return fmt.Errorf("%w: unsupported cpu family %q", JsonConfig, family)
}
