// Package bus implements the memory-mapped address space the hart issues loads and stores
// against: DRAM plus the CLINT, PLIC, UART, and virtio-block MMIO devices.
package bus

import (
	"fmt"

	"github.com/smoynes/rvemu/internal/trap"
)

// Address ranges. Each device claims a fixed base and size; addresses outside any range fault.
const (
	CLINTBase = 0x0200_0000
	CLINTSize = 0x10000

	PLICBase = 0x0c00_0000
	PLICSize = 0x400_0000

	UARTBase = 0x1000_0000
	UARTSize = 0x100

	VirtioBase = 0x1000_1000
	VirtioSize = 0x1000

	DRAMBase = 0x8000_0000
	DRAMSize = 128 * 1024 * 1024
)

// Bus dispatches loads and stores to the device that owns the target address. It is the only
// component permitted to mutate DRAM or device state; the MMU calls through it but never mutates
// anything directly.
type Bus struct {
	Dram   *Dram
	Clint  *Clint
	Plic   *Plic
	Uart   *Uart
	Virtio *VirtioBlockDevice
}

// New creates a Bus with all devices initialized and a kernel image loaded at DRAMBase.
func New(kernel, disk []byte) *Bus {
	b := &Bus{
		Dram:   NewDram(),
		Clint:  NewClint(),
		Plic:   NewPlic(),
		Uart:   NewUart(),
		Virtio: NewVirtioBlockDevice(disk),
	}

	copy(b.Dram.mem, kernel)

	return b
}

// Load reads size bits (8, 16, 32, or 64) from addr.
func (b *Bus) Load(addr uint64, size uint8) (uint64, error) {
	switch {
	case addr >= CLINTBase && addr < CLINTBase+CLINTSize:
		return b.Clint.Load(addr, size)
	case addr >= PLICBase && addr < PLICBase+PLICSize:
		return b.Plic.Load(addr, size)
	case addr >= UARTBase && addr < UARTBase+UARTSize:
		return b.Uart.Load(addr, size)
	case addr >= VirtioBase && addr < VirtioBase+VirtioSize:
		return b.Virtio.Load(addr, size)
	case addr >= DRAMBase && addr < DRAMBase+DRAMSize:
		return b.Dram.Load(addr, size)
	default:
		return 0, fmt.Errorf("bus: load %#x: %w", addr, trap.LoadAccessFault)
	}
}

// Store writes size bits of value to addr.
func (b *Bus) Store(addr uint64, size uint8, value uint64) error {
	switch {
	case addr >= CLINTBase && addr < CLINTBase+CLINTSize:
		return b.Clint.Store(addr, size, value)
	case addr >= PLICBase && addr < PLICBase+PLICSize:
		return b.Plic.Store(addr, size, value)
	case addr >= UARTBase && addr < UARTBase+UARTSize:
		return b.Uart.Store(addr, size, value)
	case addr >= VirtioBase && addr < VirtioBase+VirtioSize:
		return b.Virtio.Store(addr, size, value)
	case addr >= DRAMBase && addr < DRAMBase+DRAMSize:
		return b.Dram.Store(addr, size, value)
	default:
		return fmt.Errorf("bus: store %#x: %w", addr, trap.StoreAMOAccessFault)
	}
}

// ServiceVirtIO performs the DMA transfer a pending virtio notification requests. The CPU's
// interrupt arbiter calls this once per step when VirtioBlockDevice.IsInterrupting reports a
// pending request. It is a method on Bus, not the device, because it needs to read the descriptor
// ring from DRAM and copy bytes to or from the device's disk buffer: both live behind the bus, and
// a free function taking a CPU pointer (as the reference implementation does) would just
// reintroduce the same dependency through a side door.
func (b *Bus) ServiceVirtIO() error {
	return b.Virtio.diskAccess(b)
}
