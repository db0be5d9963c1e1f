package bus

import (
	"fmt"

	"github.com/smoynes/rvemu/internal/trap"
)

// CLINT register offsets from CLINTBase.
const (
	clintMtimecmp = CLINTBase + 0x4000
	clintMtime    = CLINTBase + 0xbff8
)

// Clint is the core-local interruptor: it holds the machine timer compare register and the
// free-running timer register. Only 64-bit accesses are accepted; the emulator does not advance
// mtime on its own.
type Clint struct {
	mtime    uint64
	mtimecmp uint64
}

// NewClint creates a Clint with both registers zeroed.
func NewClint() *Clint {
	return &Clint{}
}

func (c *Clint) Load(addr uint64, size uint8) (uint64, error) {
	if size != 64 {
		return 0, fmt.Errorf("clint: load %#x: size %d: %w", addr, size, trap.LoadAccessFault)
	}

	switch addr {
	case clintMtimecmp:
		return c.mtimecmp, nil
	case clintMtime:
		return c.mtime, nil
	default:
		return 0, nil
	}
}

func (c *Clint) Store(addr uint64, size uint8, value uint64) error {
	if size != 64 {
		return fmt.Errorf("clint: store %#x: size %d: %w", addr, size, trap.StoreAMOAccessFault)
	}

	switch addr {
	case clintMtimecmp:
		c.mtimecmp = value
	case clintMtime:
		c.mtime = value
	}

	return nil
}
