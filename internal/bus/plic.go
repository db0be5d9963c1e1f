package bus

import (
	"fmt"

	"github.com/smoynes/rvemu/internal/trap"
)

// PLIC register offsets from PLICBase. Only the supervisor-context registers are modeled; there is
// no priority arbitration, and at most one IRQ is signaled per step by the CPU's interrupt
// arbiter.
const (
	plicPending   = PLICBase + 0x1000
	plicSEnable   = PLICBase + 0x2080
	plicSPriority = PLICBase + 0x201000
	plicSClaim    = PLICBase + 0x201004
)

// Plic is the platform-level interrupt controller.
type Plic struct {
	pending   uint64
	senable   uint64
	spriority uint64
	sclaim    uint64
}

// NewPlic creates a Plic with all registers zeroed.
func NewPlic() *Plic {
	return &Plic{}
}

func (p *Plic) Load(addr uint64, size uint8) (uint64, error) {
	if size != 32 {
		return 0, fmt.Errorf("plic: load %#x: size %d: %w", addr, size, trap.LoadAccessFault)
	}

	switch addr {
	case plicPending:
		return p.pending, nil
	case plicSEnable:
		return p.senable, nil
	case plicSPriority:
		return p.spriority, nil
	case plicSClaim:
		return p.sclaim, nil
	default:
		return 0, nil
	}
}

func (p *Plic) Store(addr uint64, size uint8, value uint64) error {
	if size != 32 {
		return fmt.Errorf("plic: store %#x: size %d: %w", addr, size, trap.StoreAMOAccessFault)
	}

	switch addr {
	case plicPending:
		p.pending = value
	case plicSEnable:
		p.senable = value
	case plicSPriority:
		p.spriority = value
	case plicSClaim:
		p.sclaim = value
	}

	return nil
}

// Claim signals the kernel which IRQ to service by writing to the claim register, as the CPU's
// interrupt arbiter does when it observes a device interrupt.
func (p *Plic) Claim(irq uint64) {
	p.sclaim = irq
}
