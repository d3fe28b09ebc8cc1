package main

import (
	"context"
	"flag"
	"fmt"
	"runtime"
	"sync"

	"github.com/Blodus/2025-ikt218-osdev/kernel/proc"
	ksync "github.com/Blodus/2025-ikt218-osdev/kernel/sync"
	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// stressCmd creates and destroys processes from several goroutines and checks
// that PIDs stay unique and no frame leaks.
type stressCmd struct {
	config  string
	count   int
	workers int
}

// Name implements subcommands.Command.
func (*stressCmd) Name() string { return "stress" }

// Synopsis implements subcommands.Command.
func (*stressCmd) Synopsis() string { return "create and destroy processes concurrently" }

// Usage implements subcommands.Command.
func (*stressCmd) Usage() string {
	return "stress [-config machine.toml] [-n count] [-workers n] <elf>\n"
}

// SetFlags implements subcommands.Command.
func (c *stressCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.config, "config", "", "TOML machine description")
	f.IntVar(&c.count, "n", 256, "number of processes to create")
	f.IntVar(&c.workers, "workers", 8, "number of concurrent creators")
}

// Execute implements subcommands.Command.
func (c *stressCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	log := loggerFrom(args)
	if f.NArg() != 1 || c.count <= 0 || c.workers <= 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	s, err := newSession(c.config, f.Arg(0), log)
	if err != nil {
		log.WithError(err).Error("booting machine")
		return subcommands.ExitFailure
	}
	defer s.close()

	if err := s.stress(ctx, c.count, c.workers); err != nil {
		log.WithError(err).Error("stress failed")
		return subcommands.ExitFailure
	}

	log.WithFields(logrus.Fields{"processes": c.count, "workers": c.workers}).Info("stress passed")
	return subcommands.ExitSuccess
}

// stress creates and destroys count processes using workers goroutines.
func (s *session) stress(ctx context.Context, count, workers int) error {
	ksync.SetYieldFn(runtime.Gosched)
	defer ksync.SetYieldFn(nil)

	var (
		baseline = s.machine.Frames.FreeCount()
		mu       sync.Mutex
		seen     = make(map[proc.PID]bool, count)
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := 0; i < count; i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			p, kerr := s.mgr.Create(s.path)
			if kerr != nil {
				return fmt.Errorf("creating process: %w", kerr)
			}
			defer s.mgr.Destroy(p)

			mu.Lock()
			defer mu.Unlock()
			if seen[p.PID] {
				return fmt.Errorf("pid %d handed out twice", p.PID)
			}
			seen[p.PID] = true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if got := s.machine.Frames.FreeCount(); got != baseline {
		return fmt.Errorf("frame leak: %d frames free after stress, %d before", got, baseline)
	}
	return nil
}
