package bus

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/smoynes/rvemu/internal/trap"
)

// UartIRQ is the interrupt request line the UART signals on.
const UartIRQ = 10

// UART register offsets from UARTBase.
const (
	uartRHR = UARTBase + 0 // Receive holding register.
	uartTHR = UARTBase + 0 // Transmit holding register, aliased over RHR.
	uartLCR = UARTBase + 3 // Line control register.
	uartLSR = UARTBase + 5 // Line status register.
)

// Line status register bits.
const (
	uartLSRRX = 1 << 0 // Data has arrived in RHR.
	uartLSRTX = 1 << 5 // THR is empty; always asserted since writes complete synchronously.
)

// Uart emulates just enough of a 16550a for an OS console: one receive holding register, one
// transmit holding register, and a line-status register. A reader goroutine (started by
// internal/console) pumps stdin bytes into the RX path; the CPU goroutine drains RHR and writes
// THR. The two sides rendezvous through a mutex and condition variable on the register file, and an
// atomic flag for interrupt delivery.
type Uart struct {
	mut  sync.Mutex
	cond *sync.Cond
	regs [UARTSize]byte

	interrupting atomic.Bool

	// out receives bytes written to THR. Defaults to nil: callers that want a TX sink must set it
	// before the first store (internal/console does, wiring it to stdout).
	out func(byte)
}

// NewUart creates a Uart with TX-empty asserted and RX-ready clear.
func NewUart() *Uart {
	u := &Uart{}
	u.cond = sync.NewCond(&u.mut)
	u.regs[uartLSR-UARTBase] = uartLSRTX

	return u
}

// SetOutput configures where bytes written to THR are delivered.
func (u *Uart) SetOutput(out func(byte)) {
	u.mut.Lock()
	defer u.mut.Unlock()

	u.out = out
}

// Receive is called by the console's stdin reader goroutine for every byte read. It blocks until
// the guest has drained the previous byte, then deposits the new one and raises an interrupt.
func (u *Uart) Receive(b byte) {
	u.mut.Lock()
	defer u.mut.Unlock()

	for u.regs[uartLSR-UARTBase]&uartLSRRX != 0 {
		u.cond.Wait()
	}

	u.regs[uartRHR-UARTBase] = b
	u.interrupting.Store(true)
	u.regs[uartLSR-UARTBase] |= uartLSRRX
}

// IsInterrupting reports whether the UART has a pending interrupt, clearing the flag.
func (u *Uart) IsInterrupting() bool {
	return u.interrupting.Swap(false)
}

func (u *Uart) Load(addr uint64, size uint8) (uint64, error) {
	if size != 8 {
		return 0, fmt.Errorf("uart: load %#x: size %d: %w", addr, size, trap.LoadAccessFault)
	}

	u.mut.Lock()
	defer u.mut.Unlock()

	switch addr {
	case uartRHR:
		u.cond.Signal()
		u.regs[uartLSR-UARTBase] &^= uartLSRRX

		return uint64(u.regs[uartRHR-UARTBase]), nil
	default:
		return uint64(u.regs[addr-UARTBase]), nil
	}
}

func (u *Uart) Store(addr uint64, size uint8, value uint64) error {
	if size != 8 {
		return fmt.Errorf("uart: store %#x: size %d: %w", addr, size, trap.StoreAMOAccessFault)
	}

	u.mut.Lock()
	defer u.mut.Unlock()

	switch addr {
	case uartTHR:
		if u.out != nil {
			u.out(byte(value))
		}
	default:
		u.regs[addr-UARTBase] = byte(value)
	}

	return nil
}
