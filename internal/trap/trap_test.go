package trap

import (
	"errors"
	"fmt"
	"testing"
)

func TestExceptionFatal(t *testing.T) {
	fatal := []Exception{
		InstructionAddressMisaligned,
		InstructionAccessFault,
		LoadAccessFault,
		StoreAMOAddressMisaligned,
		StoreAMOAccessFault,
	}

	for _, exc := range fatal {
		if !exc.Fatal() {
			t.Errorf("%s: want fatal", exc)
		}
	}

	recoverable := []Exception{
		IllegalInstruction,
		Breakpoint,
		EcallFromUMode,
		EcallFromSMode,
		EcallFromMMode,
		InstructionPageFault,
		LoadPageFault,
		StoreAMOPageFault,
	}

	for _, exc := range recoverable {
		if exc.Fatal() {
			t.Errorf("%s: want recoverable", exc)
		}
	}
}

func TestExceptionIs(t *testing.T) {
	wrapped := fmt.Errorf("wrapped: %w", LoadPageFault)

	if !errors.Is(wrapped, LoadPageFault) {
		t.Error("errors.Is failed to match wrapped exception")
	}

	if errors.Is(wrapped, StoreAMOPageFault) {
		t.Error("errors.Is matched the wrong exception")
	}
}

func TestInterruptCode(t *testing.T) {
	if code := MachineTimerInterrupt.Code(); code&interruptBit == 0 {
		t.Errorf("interrupt code %#x missing interrupt bit", code)
	}

	if code := SupervisorExternalInterrupt.Code(); code&^interruptBit != uint64(SupervisorExternalInterrupt) {
		t.Errorf("interrupt code %#x has wrong cause number", code)
	}
}

func TestInterruptMIPBit(t *testing.T) {
	cases := map[Interrupt]uint{
		SupervisorSoftwareInterrupt: 1,
		MachineSoftwareInterrupt:    3,
		SupervisorTimerInterrupt:    5,
		MachineTimerInterrupt:       7,
		SupervisorExternalInterrupt: 9,
		MachineExternalInterrupt:    11,
	}

	for intr, want := range cases {
		if got := intr.MIPBit(); got != want {
			t.Errorf("%s: MIPBit() = %d, want %d", intr, got, want)
		}
	}
}
