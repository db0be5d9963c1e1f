package bus

import (
	"fmt"

	"github.com/smoynes/rvemu/internal/trap"
)

// VirtioIRQ is the interrupt request line the virtio block device signals on.
const VirtioIRQ = 1

// descSize is the byte size of one VRingDesc entry (addr:64, len:32, flags:16, next:16).
const descSize = 16

// descNum is the number of descriptors per queue. Must be a power of two.
const descNum = 8

// notifyIdle is the sentinel queue_notify value meaning "no pending notification". It mirrors the
// reference device's choice of 9999, an otherwise-unreachable queue index.
const notifyIdle = 9999

// Virtio register offsets from VirtioBase.
const (
	virtioMagic           = VirtioBase + 0x000
	virtioVersion         = VirtioBase + 0x004
	virtioDeviceID        = VirtioBase + 0x008
	virtioVendorID        = VirtioBase + 0x00c
	virtioDeviceFeatures  = VirtioBase + 0x010
	virtioDriverFeatures  = VirtioBase + 0x020
	virtioGuestPageSize   = VirtioBase + 0x028
	virtioQueueSel        = VirtioBase + 0x030
	virtioQueueNumMax     = VirtioBase + 0x034
	virtioQueueNum        = VirtioBase + 0x038
	virtioQueuePFN        = VirtioBase + 0x040
	virtioQueueNotify     = VirtioBase + 0x050
	virtioStatus          = VirtioBase + 0x070
)

// VirtioBlockDevice is a legacy MMIO virtio transport exposing a single disk. It processes
// descriptor chains via direct DMA against the bus when notified.
type VirtioBlockDevice struct {
	id             uint64
	driverFeatures uint32
	pageSize       uint32
	queueSel       uint32
	queueNum       uint32
	queuePFN       uint32
	queueNotify    uint32
	status         uint32
	disk           []byte
}

// NewVirtioBlockDevice creates a block device backed by disk. A nil or empty disk is valid; it
// simply has no blocks to serve.
func NewVirtioBlockDevice(disk []byte) *VirtioBlockDevice {
	return &VirtioBlockDevice{
		queueNotify: notifyIdle,
		disk:        disk,
	}
}

// IsInterrupting reports whether a notification is pending, consuming it.
func (v *VirtioBlockDevice) IsInterrupting() bool {
	if v.queueNotify != notifyIdle {
		v.queueNotify = notifyIdle
		return true
	}

	return false
}

func (v *VirtioBlockDevice) Load(addr uint64, size uint8) (uint64, error) {
	if size != 32 {
		return 0, fmt.Errorf("virtio: load %#x: size %d: %w", addr, size, trap.LoadAccessFault)
	}

	switch addr {
	case virtioMagic:
		return 0x74726976, nil
	case virtioVersion:
		return 1, nil
	case virtioDeviceID:
		return 2, nil
	case virtioVendorID:
		return 0x554d4551, nil
	case virtioDeviceFeatures:
		return 0, nil
	case virtioDriverFeatures:
		return uint64(v.driverFeatures), nil
	case virtioQueueNumMax:
		return 8, nil
	case virtioQueuePFN:
		return uint64(v.queuePFN), nil
	case virtioStatus:
		return uint64(v.status), nil
	default:
		return 0, nil
	}
}

func (v *VirtioBlockDevice) Store(addr uint64, size uint8, value uint64) error {
	if size != 32 {
		return fmt.Errorf("virtio: store %#x: size %d: %w", addr, size, trap.StoreAMOAccessFault)
	}

	val := uint32(value)

	switch addr {
	case virtioDeviceFeatures:
		v.driverFeatures = val
	case virtioGuestPageSize:
		v.pageSize = val
	case virtioQueueSel:
		v.queueSel = val
	case virtioQueueNum:
		v.queueNum = val
	case virtioQueuePFN:
		v.queuePFN = val
	case virtioQueueNotify:
		v.queueNotify = val
	case virtioStatus:
		v.status = val
	}

	return nil
}

func (v *VirtioBlockDevice) newID() uint64 {
	v.id++
	return v.id
}

func (v *VirtioBlockDevice) descAddr() uint64 {
	return uint64(v.queuePFN) * uint64(v.pageSize)
}

func (v *VirtioBlockDevice) readDisk(addr uint64) uint64 {
	if addr >= uint64(len(v.disk)) {
		return 0
	}

	return uint64(v.disk[addr])
}

func (v *VirtioBlockDevice) writeDisk(addr uint64, value uint64) {
	if addr >= uint64(len(v.disk)) {
		return
	}

	v.disk[addr] = byte(value)
}

// diskAccess follows the descriptor chain the driver has armed and performs the requested DMA
// transfer. See the virtio legacy block spec and
// https://github.com/mit-pdos/xv6-riscv/blob/riscv/kernel/virtio_disk.c for the wire layout: a
// three-descriptor chain of (request header, data buffer, status byte), of which only the first
// two matter here.
func (v *VirtioBlockDevice) diskAccess(b *Bus) error {
	descAddr := v.descAddr()
	availAddr := descAddr + 0x40
	usedAddr := descAddr + 4096

	offset, err := b.Load(availAddr+2, 16)
	if err != nil {
		return fmt.Errorf("virtio: disk access: avail.idx: %w", err)
	}

	index, err := b.Load(availAddr+4+2*(offset%descNum), 16)
	if err != nil {
		return fmt.Errorf("virtio: disk access: avail.ring: %w", err)
	}

	descAddr0 := descAddr + descSize*index

	addr0, err := b.Load(descAddr0, 64)
	if err != nil {
		return fmt.Errorf("virtio: disk access: desc[0].addr: %w", err)
	}

	next0, err := b.Load(descAddr0+14, 16)
	if err != nil {
		return fmt.Errorf("virtio: disk access: desc[0].next: %w", err)
	}

	descAddr1 := descAddr + descSize*next0

	addr1, err := b.Load(descAddr1, 64)
	if err != nil {
		return fmt.Errorf("virtio: disk access: desc[1].addr: %w", err)
	}

	len1, err := b.Load(descAddr1+8, 32)
	if err != nil {
		return fmt.Errorf("virtio: disk access: desc[1].len: %w", err)
	}

	flags1, err := b.Load(descAddr1+12, 16)
	if err != nil {
		return fmt.Errorf("virtio: disk access: desc[1].flags: %w", err)
	}

	sector, err := b.Load(addr0+8, 64)
	if err != nil {
		return fmt.Errorf("virtio: disk access: request.sector: %w", err)
	}

	if flags1&2 == 0 {
		// Write to disk: copy DRAM -> disk.
		for i := uint64(0); i < len1; i++ {
			data, err := b.Load(addr1+i, 8)
			if err != nil {
				return fmt.Errorf("virtio: disk access: read dram: %w", err)
			}

			v.writeDisk(sector*512+i, data)
		}
	} else {
		// Read from disk: copy disk -> DRAM.
		for i := uint64(0); i < len1; i++ {
			data := v.readDisk(sector*512 + i)

			if err := b.Store(addr1+i, 8, data); err != nil {
				return fmt.Errorf("virtio: disk access: write dram: %w", err)
			}
		}
	}

	newID := v.newID()

	if err := b.Store(usedAddr+2, 16, newID%8); err != nil {
		return fmt.Errorf("virtio: disk access: used.id: %w", err)
	}

	return nil
}
