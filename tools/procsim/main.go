// Command procsim builds processes from i386 ELF executables on a simulated
// machine. It is used to inspect executables and to exercise process creation
// and teardown outside the kernel.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/Blodus/2025-ikt218-osdev/kernel"
	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

func main() {
	var (
		debug  = flag.Bool("debug", false, "log trace events at debug level")
		logFmt = flag.String("log-format", "text", "log format: text or json")
	)

	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(inspectCmd), "")
	subcommands.Register(new(runCmd), "")
	subcommands.Register(new(stressCmd), "")

	flag.Parse()
	kernel.SetPanicSink(os.Stderr)

	log := newLogger(*debug, *logFmt)
	os.Exit(int(subcommands.Execute(context.Background(), log)))
}

func newLogger(debug bool, format string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if debug {
		log.SetLevel(logrus.DebugLevel)
	}
	if format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}

// loggerFrom extracts the logger passed to subcommands.Execute.
func loggerFrom(args []interface{}) *logrus.Logger {
	for _, arg := range args {
		if log, ok := arg.(*logrus.Logger); ok {
			return log
		}
	}
	return logrus.StandardLogger()
}
