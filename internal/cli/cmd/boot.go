package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/smoynes/rvemu/internal/bus"
	"github.com/smoynes/rvemu/internal/cli"
	"github.com/smoynes/rvemu/internal/console"
	"github.com/smoynes/rvemu/internal/cpu"
	"github.com/smoynes/rvemu/internal/log"
)

// Boot returns the "boot" sub-command, which loads a kernel image (and, optionally, a disk image)
// and runs it to completion.
func Boot() cli.Command {
	return &booter{log: log.DefaultLogger()}
}

type booter struct {
	logLevel slog.Level
	timeout  time.Duration
	log      *log.Logger
}

func (booter) Description() string {
	return "boot a kernel image"
}

func (booter) Usage(out io.Writer) error {
	_, err := fmt.Fprintln(out, `boot kernel.bin [disk.img]

Loads a kernel image into DRAM and runs it until it halts, traps fatally, or the timeout (if set)
elapses.
A disk image, if given, is exposed to the guest as a virtio block device.`)

	return err
}

func (b *booter) FlagSet() *cli.FlagSet {
	fs := flag.NewFlagSet("boot", flag.ExitOnError)

	fs.Func("loglevel", "set log `level`", func(s string) error {
		return b.logLevel.UnmarshalText([]byte(s))
	})

	fs.DurationVar(&b.timeout, "timeout", b.timeout, "stop the machine after `duration` (0 means no limit)")

	return fs
}

// Run loads the kernel (and optional disk) image named by args and runs the hart until it halts,
// traps fatally, or the configured timeout elapses.
func (b *booter) Run(ctx context.Context, args []string, stdout io.Writer, logger *log.Logger) int {
	log.LogLevel.Set(b.logLevel)

	if len(args) == 0 {
		logger.Error("boot: missing kernel image argument")
		return 1
	}

	kernel, err := os.ReadFile(args[0])
	if err != nil {
		logger.Error("boot: error loading kernel", "err", err)
		return 1
	}

	var disk []byte

	if len(args) > 1 {
		disk, err = os.ReadFile(args[1])
		if err != nil {
			logger.Error("boot: error loading disk image", "err", err)
			return 1
		}
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(context.Canceled)

	if b.timeout > 0 {
		var cancelTimeout context.CancelFunc

		ctx, cancelTimeout = context.WithTimeout(ctx, b.timeout)
		defer cancelTimeout()
	}

	logger.Debug("Initializing machine", "kernel", args[0], "kernel bytes", len(kernel))

	mmu := bus.New(kernel, disk)
	hart := cpu.New(mmu, logger)

	restore, consoleErr := console.Attach(ctx, mmu.Uart)
	defer restore()

	if consoleErr != nil {
		logger.Warn("Console not attached", "err", consoleErr)
	}

	logger.Info("Starting machine")

	go func(cancel context.CancelCauseFunc) {
		err := hart.Run(ctx)

		switch {
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			return
		case err != nil:
			logger.Error("Machine halted", "err", err)
			cancel(err)

			return
		default:
			cancel(context.Canceled)
		}
	}(cancel)

	<-ctx.Done()

	b.dumpState(stdout, hart)

	switch err := context.Cause(ctx); {
	case errors.Is(err, context.DeadlineExceeded):
		logger.Error("Boot timeout")
		return 2
	case errors.Is(err, context.Canceled):
		logger.Info("Machine stopped")
		return 0
	default:
		logger.Error("Machine error", "err", err)
		return 2
	}
}

func (b *booter) dumpState(out io.Writer, h *cpu.Hart) {
	fmt.Fprintf(out, "pc  : %#018x  mode: %s\n", h.PC, h.Mode)

	for i := 0; i < 32; i += 4 {
		fmt.Fprintf(out, "x%-2d : %#018x  x%-2d : %#018x  x%-2d : %#018x  x%-2d : %#018x\n",
			i, h.Regs[i], i+1, h.Regs[i+1], i+2, h.Regs[i+2], i+3, h.Regs[i+3])
	}
}
