package sim

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/Blodus/2025-ikt218-osdev/kernel/mem"
	"github.com/BurntSushi/toml"
)

const (
	// DefaultKernelBase is the kernel half boundary used when the config
	// does not set one.
	DefaultKernelBase = 0xc0000000

	defaultRAMSize     = 32 * mem.Mb
	defaultReservedLow = 1 * mem.Mb
)

// MachineConfig describes a simulated machine. It is usually loaded from a
// TOML file:
//
//	ram_size = 33554432
//	nx = true
//
//	[proc]
//	kernel_stack_size = 16384
//	stack_arena_policy = "recycle"
type MachineConfig struct {
	// RAMSize is the amount of simulated physical memory in bytes.
	RAMSize uint64 `toml:"ram_size"`

	// ReservedLow is the amount of memory at physical address 0 that the
	// frame allocator never hands out.
	ReservedLow uint64 `toml:"reserved_low"`

	// NX enables the no-execute bit.
	NX bool `toml:"nx"`

	Proc ProcConfig `toml:"proc"`
}

// ProcConfig holds overrides for the process layout. Zero values keep the
// kernel defaults.
type ProcConfig struct {
	KernelBase       uint64 `toml:"kernel_base"`
	KernelStackSize  uint64 `toml:"kernel_stack_size"`
	StackArenaStart  uint64 `toml:"stack_arena_start"`
	StackArenaEnd    uint64 `toml:"stack_arena_end"`
	StackArenaPolicy string `toml:"stack_arena_policy"`
	UserStackBottom  uint64 `toml:"user_stack_bottom"`
	UserStackTop     uint64 `toml:"user_stack_top"`
	MaxProcesses     int    `toml:"max_processes"`
}

// DefaultMachineConfig returns a 32MiB machine with NX support.
func DefaultMachineConfig() MachineConfig {
	return MachineConfig{
		RAMSize:     uint64(defaultRAMSize),
		ReservedLow: uint64(defaultReservedLow),
		NX:          true,
	}
}

// KernelBase returns the configured kernel base or DefaultKernelBase.
func (c MachineConfig) KernelBase() uintptr {
	if c.Proc.KernelBase != 0 {
		return uintptr(c.Proc.KernelBase)
	}
	return DefaultKernelBase
}

// LoadMachineConfig reads a TOML machine description from path. Keys that
// are not set keep their default value.
func LoadMachineConfig(path string) (MachineConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return MachineConfig{}, fmt.Errorf("opening machine config: %w", err)
	}
	defer f.Close()

	cfg, err := DecodeMachineConfig(f)
	if err != nil {
		return MachineConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// DecodeMachineConfig decodes a TOML machine description on top of
// DefaultMachineConfig. Unknown keys are rejected.
func DecodeMachineConfig(r io.Reader) (MachineConfig, error) {
	cfg := DefaultMachineConfig()

	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return MachineConfig{}, fmt.Errorf("decoding machine config: %w", err)
	}

	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		sort.Strings(keys)
		return MachineConfig{}, fmt.Errorf("unknown machine config keys: %s", strings.Join(keys, ", "))
	}

	return cfg, nil
}
