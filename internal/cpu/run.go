package cpu

import (
	"context"
	"errors"

	"github.com/smoynes/rvemu/internal/trap"
)

// Step fetches, decodes, and executes exactly one instruction, then arbitrates pending
// interrupts. It returns the fatal exception that should stop the run loop, if any; recoverable
// exceptions and taken interrupts are handled internally and Step returns nil.
func (h *Hart) Step() error {
	pc := h.PC

	inst, err := h.Fetch()
	if err != nil {
		var exc trap.Exception
		if errors.As(err, &exc) {
			h.TakeTrap(exc, pc)

			if exc.Fatal() {
				return err
			}

			return nil
		}

		return err
	}

	h.PC += 4

	if err := h.Execute(inst); err != nil {
		var exc trap.Exception
		if !errors.As(err, &exc) {
			return err
		}

		h.TakeTrap(exc, pc)

		if exc.Fatal() {
			return err
		}
	}

	if intr, ok := h.CheckPendingInterrupt(); ok {
		h.TakeTrap(intr, h.PC-4)
	}

	return nil
}

// Run steps the hart until a fatal exception occurs or ctx is cancelled.
func (h *Hart) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := h.Step(); err != nil {
			return err
		}
	}
}
