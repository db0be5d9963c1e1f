package main_test

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/smoynes/rvemu/internal/bus"
	"github.com/smoynes/rvemu/internal/cpu"
	"github.com/smoynes/rvemu/internal/log"
)

type testHarness struct {
	*testing.T
}

var timeout = 1 * time.Second

func (testHarness) Context() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return ctx, cancel
}

// assemble little-endian encodes a sequence of raw RV64 instruction words into a kernel image.
func assemble(words ...uint32) []byte {
	buf := make([]byte, 4*len(words))

	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}

	return buf
}

// TestMain boots a tiny hand-assembled program (addi, addi, add, then an infinite self-jump) and
// confirms the hart reaches a stable register state before the test's timeout fires.
func TestMain(tt *testing.T) {
	t := testHarness{tt}
	log.LogLevel.Set(log.Error)

	kernel := assemble(
		0x00500093, // addi x1, x0, 5
		0x00a00113, // addi x2, x0, 10
		0x002081b3, // add  x3, x1, x2
		0x0000006f, // jal  x0, 0  (spin)
	)

	machine := bus.New(kernel, nil)
	hart := cpu.New(machine, log.DefaultLogger())

	ctx, cancel := t.Context()
	defer cancel()

	done := make(chan error, 1)

	go func() {
		done <- hart.Run(ctx)
	}()

	err := <-done

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("unexpected run error: %v", err)
	}

	if got, want := hart.Regs[3], uint64(15); got != want {
		t.Errorf("x3 = %d, want %d", got, want)
	}

	if got, want := hart.Regs[1], uint64(5); got != want {
		t.Errorf("x1 = %d, want %d", got, want)
	}

	if got, want := hart.Regs[2], uint64(10); got != want {
		t.Errorf("x2 = %d, want %d", got, want)
	}
}
