package meen

import (
	"bytes"
	"crypto/md5"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"
	"github.com/spf13/afero"
)

// The state codec turns a running Machine's CPU/memory state into a
// self-describing JSON envelope and back, generalizing the teacher's flat
// binary snapshot (emu/emulator.go's Serialize/Deserialize/VerifyState,
// which wrote a magic+version+CRC header around a raw register/RAM dump)
// to the URI-tagged JSON schema spec.md §4.4 requires: ROM integrity via
// MD5 digest only (bytes are never carried), RAM via zlib-then-base64.

// cpuStateJSON mirrors the "cpu" object of the save envelope.
type cpuStateJSON struct {
	UUID      string          `json:"uuid"`
	Registers registersJSON   `json:"registers"`
	PC        uint16          `json:"pc"`
	SP        uint16          `json:"sp"`
}

type registersJSON struct {
	A uint8 `json:"a"`
	B uint8 `json:"b"`
	C uint8 `json:"c"`
	D uint8 `json:"d"`
	E uint8 `json:"e"`
	H uint8 `json:"h"`
	L uint8 `json:"l"`
	S uint8 `json:"s"`
}

// memoryStateJSON mirrors the "memory" object of the save envelope.
type memoryStateJSON struct {
	UUID string      `json:"uuid"`
	Rom  romJSON     `json:"rom"`
	Ram  ramJSON     `json:"ram"`
}

type romJSON struct {
	// Bytes carries "base64://md5://<16B>" on Save, or any of the
	// documented URI schemes on Load (file://, base64://, base64://md5://).
	Bytes string `json:"bytes"`
}

type ramJSON struct {
	Size  int    `json:"size"`
	Bytes string `json:"bytes"`
}

// snapshotJSON is the full envelope of spec.md §4.4.
type snapshotJSON struct {
	Cpu    cpuStateJSON    `json:"cpu"`
	Memory memoryStateJSON `json:"memory"`
}

// Snapshot is the engine-internal decoded form of a save/load envelope,
// produced by DecodeSnapshot. EncodeSnapshot writes the same envelope
// directly from a Cpu and the ROM/RAM images, without a Snapshot.
type Snapshot struct {
	CpuUUID    [16]byte
	Registers  Registers
	PC, SP     uint16
	MemoryUUID [16]byte
	RomMD5     [16]byte
	RamSize    int
	Ram        []byte
}

// fs is the filesystem used to resolve file:// URIs. Overridable in tests
// for an in-memory afero.Fs.
var fs afero.Fs = afero.NewOsFs()

func base64URI(scheme string, payload []byte) string {
	enc := base64.StdEncoding.EncodeToString(payload)
	if scheme == "" {
		return "base64://" + enc
	}
	return "base64://" + scheme + "://" + enc
}

// EncodeSnapshot produces the JSON string onSave receives: CPU registers,
// PC/SP and UUID; the memory controller's UUID; the current ROM image's
// MD5 (never the ROM bytes themselves); and the RAM image zlib-compressed
// then base64-encoded.
func EncodeSnapshot(cpu Cpu, cpuUUID [16]byte, memUUID [16]byte, rom []byte, ram []byte) (string, error) {
	regs := cpu.Registers()
	sum := md5.Sum(rom)

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(ram); err != nil {
		return "", fmt.Errorf("%w: compressing ram: %v", JsonConfig, err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("%w: compressing ram: %v", JsonConfig, err)
	}

	env := snapshotJSON{
		Cpu: cpuStateJSON{
			UUID: base64URI("", cpuUUID[:]),
			Registers: registersJSON{
				A: regs.A, B: regs.B, C: regs.C, D: regs.D,
				E: regs.E, H: regs.H, L: regs.L, S: regs.S,
			},
			PC: regs.PC,
			SP: regs.SP,
		},
		Memory: memoryStateJSON{
			UUID: base64URI("", memUUID[:]),
			Rom:  romJSON{Bytes: base64URI("md5", sum[:])},
			Ram: ramJSON{
				Size:  len(ram),
				Bytes: base64URI("zlib", compressed.Bytes()),
			},
		},
	}

	b, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("%w: %v", JsonConfig, err)
	}
	return string(b), nil
}

// DecodeSnapshot parses a save/load JSON document and resolves its ROM and
// RAM byte payloads, but does not itself apply them to a CPU or memory
// image — callers (the Machine's loop) do that after validating UUIDs and
// the ROM MD5 against the currently installed image.
func DecodeSnapshot(doc string) (Snapshot, error) {
	var env snapshotJSON
	if err := json.Unmarshal([]byte(doc), &env); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", JsonConfig, err)
	}

	var snap Snapshot
	snap.Registers = Registers{
		A: env.Cpu.Registers.A, B: env.Cpu.Registers.B,
		C: env.Cpu.Registers.C, D: env.Cpu.Registers.D,
		E: env.Cpu.Registers.E, H: env.Cpu.Registers.H,
		L: env.Cpu.Registers.L, S: env.Cpu.Registers.S,
	}
	snap.PC = env.Cpu.PC
	snap.SP = env.Cpu.SP

	cpuUUID, err := decodeUUID(env.Cpu.UUID)
	if err != nil {
		return Snapshot{}, err
	}
	snap.CpuUUID = cpuUUID

	memUUID, err := decodeUUID(env.Memory.UUID)
	if err != nil {
		return Snapshot{}, err
	}
	snap.MemoryUUID = memUUID

	if env.Memory.Rom.Bytes != "" {
		romBytes, isMD5, err := resolveURI(env.Memory.Rom.Bytes)
		if err != nil {
			return Snapshot{}, err
		}
		if isMD5 {
			if len(romBytes) != 16 {
				return Snapshot{}, fmt.Errorf("%w: rom md5 digest must be 16 bytes, got %d", JsonConfig, len(romBytes))
			}
			copy(snap.RomMD5[:], romBytes)
		} else {
			// ROM bytes given inline or by file are only hashed for the
			// integrity check; they are never written into memory.
			snap.RomMD5 = md5.Sum(romBytes)
		}
	}

	if env.Memory.Ram.Bytes != "" {
		ramBytes, _, err := resolveURI(env.Memory.Ram.Bytes)
		if err != nil {
			return Snapshot{}, err
		}
		zr, err := zlib.NewReader(bytes.NewReader(ramBytes))
		if err != nil {
			return Snapshot{}, fmt.Errorf("%w: decompressing ram: %v", JsonConfig, err)
		}
		defer zr.Close()
		decompressed, err := io.ReadAll(zr)
		if err != nil {
			return Snapshot{}, fmt.Errorf("%w: decompressing ram: %v", JsonConfig, err)
		}
		snap.Ram = decompressed
	}
	snap.RamSize = env.Memory.Ram.Size

	return snap, nil
}

func decodeUUID(uri string) ([16]byte, error) {
	b, _, err := resolveURI(uri)
	if err != nil {
		return [16]byte{}, err
	}
	if len(b) != 16 {
		return [16]byte{}, fmt.Errorf("%w: uuid must be 16 bytes, got %d", JsonConfig, len(b))
	}
	var out [16]byte
	copy(out[:], b)
	return out, nil
}

// resolveURI resolves one of the documented load schemes:
// file://<path>[?size=N], base64://<data>, base64://md5://<16B>,
// base64://zlib://<payload>. It reports whether the payload was tagged as
// an md5 digest, since the caller needs that to tell a ROM digest from raw
// ROM bytes (which it hashes instead — ROM bytes are never restored from a
// snapshot).
func resolveURI(uri string) (payload []byte, isMD5 bool, err error) {
	switch {
	case strings.HasPrefix(uri, "file://"):
		rest := strings.TrimPrefix(uri, "file://")
		path, query, _ := strings.Cut(rest, "?")
		b, readErr := afero.ReadFile(fs, path)
		if readErr != nil {
			return nil, false, fmt.Errorf("%w: reading %q: %v", JsonConfig, path, readErr)
		}
		if query != "" {
			if v, parseErr := url.ParseQuery(query); parseErr == nil {
				if sizeStr := v.Get("size"); sizeStr != "" {
					if n, convErr := strconv.Atoi(sizeStr); convErr == nil && n <= len(b) {
						b = b[:n]
					}
				}
			}
		}
		return b, false, nil
	case strings.HasPrefix(uri, "base64://md5://"):
		b, decErr := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, "base64://md5://"))
		if decErr != nil {
			return nil, false, fmt.Errorf("%w: decoding md5 payload: %v", JsonConfig, decErr)
		}
		return b, true, nil
	case strings.HasPrefix(uri, "base64://zlib://"):
		b, decErr := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, "base64://zlib://"))
		if decErr != nil {
			return nil, false, fmt.Errorf("%w: decoding zlib payload: %v", JsonConfig, decErr)
		}
		return b, false, nil
	case strings.HasPrefix(uri, "base64://"):
		b, decErr := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, "base64://"))
		if decErr != nil {
			return nil, false, fmt.Errorf("%w: decoding base64 payload: %v", JsonConfig, decErr)
		}
		return b, false, nil
	default:
		return nil, false, fmt.Errorf("%w: unrecognized uri scheme %q", JsonConfig, uri)
	}
}
