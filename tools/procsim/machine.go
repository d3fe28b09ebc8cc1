package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Blodus/2025-ikt218-osdev/kernel/mem"
	"github.com/Blodus/2025-ikt218-osdev/kernel/proc"
	"github.com/Blodus/2025-ikt218-osdev/kernel/trace"
	"github.com/Blodus/2025-ikt218-osdev/sim"
	"github.com/sirupsen/logrus"
)

// loadConfig returns the machine description at path, or the default
// machine when path is empty.
func loadConfig(path string) (sim.MachineConfig, error) {
	if path == "" {
		return sim.DefaultMachineConfig(), nil
	}
	return sim.LoadMachineConfig(path)
}

// procConfig applies the overrides in raw to the default process layout.
func procConfig(raw sim.ProcConfig) (proc.Config, error) {
	cfg := proc.DefaultConfig()

	if raw.KernelBase != 0 {
		cfg.KernelBase = uintptr(raw.KernelBase)
	}
	if raw.KernelStackSize != 0 {
		cfg.KernelStackSize = mem.Size(raw.KernelStackSize)
	}
	if raw.StackArenaStart != 0 {
		cfg.StackArenaStart = uintptr(raw.StackArenaStart)
	}
	if raw.StackArenaEnd != 0 {
		cfg.StackArenaEnd = uintptr(raw.StackArenaEnd)
	}
	if raw.StackArenaPolicy != "" {
		policy, err := proc.ParseArenaPolicy(raw.StackArenaPolicy)
		if err != nil {
			return proc.Config{}, fmt.Errorf("stack_arena_policy %q: %w", raw.StackArenaPolicy, err)
		}
		cfg.StackArenaPolicy = policy
	}
	if raw.UserStackBottom != 0 {
		cfg.UserStackBottom = uintptr(raw.UserStackBottom)
	}
	if raw.UserStackTop != 0 {
		cfg.UserStackTop = uintptr(raw.UserStackTop)
	}
	if raw.MaxProcesses != 0 {
		cfg.MaxProcesses = raw.MaxProcesses
	}

	if err := cfg.Validate(); err != nil {
		return proc.Config{}, err
	}
	return cfg, nil
}

// session is a booted machine with a process manager serving a single
// executable.
type session struct {
	machine *sim.Machine
	mgr     *proc.Manager
	ring    *trace.Ring

	// path is the name of the executable inside the manager's file system.
	path string
}

func newSession(cfgPath, exe string, log *logrus.Logger) (*session, error) {
	mcfg, err := loadConfig(cfgPath)
	if err != nil {
		return nil, err
	}

	cfg, err := procConfig(mcfg.Proc)
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(exe)
	if err != nil {
		return nil, err
	}

	machine, kerr := sim.NewMachine(mcfg)
	if kerr != nil {
		return nil, kerr
	}

	s := &session{
		machine: machine,
		ring:    &trace.Ring{},
		path:    "/" + filepath.Base(abs),
	}

	logTracer := sim.LogrusTracer{Logger: log}
	mgr, kerr := proc.NewManager(cfg, proc.Deps{
		Paging: machine.Paging,
		Frames: machine.Frames,
		Files:  sim.FSReader{FS: os.DirFS(filepath.Dir(abs))},
		Stack:  &machine.TSS,
		Tracer: trace.TracerFunc(func(ev trace.Event) {
			s.ring.Trace(ev)
			logTracer.Trace(ev)
		}),
	})
	if kerr != nil {
		_ = machine.Close()
		return nil, kerr
	}
	s.mgr = mgr

	log.WithFields(logrus.Fields{
		"ram":         mem.Size(mcfg.RAMSize),
		"nx":          mcfg.NX,
		"free_frames": machine.Frames.FreeCount(),
		"kernel_base": fmt.Sprintf("0x%x", cfg.KernelBase),
	}).Debug("machine booted")

	return s, nil
}

func (s *session) close() {
	_ = s.machine.Close()
}
