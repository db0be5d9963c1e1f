package cpu

import "fmt"

// Translate converts a virtual address to a physical address under Sv39 paging. If paging is
// disabled, the address passes through unchanged.
//
// This implements only the page-walk steps the reference emulator implements (RISC-V privileged
// spec 4.3.2, steps 1-4 and 8); permission checks, A/D-bit enforcement, and superpage-alignment
// checks (steps 5-7) are deliberately omitted.
func (h *Hart) Translate(addr uint64, access AccessType) (uint64, error) {
	if !h.pagingEnabled {
		return addr, nil
	}

	vpn := [3]uint64{
		(addr >> 12) & 0x1ff,
		(addr >> 21) & 0x1ff,
		(addr >> 30) & 0x1ff,
	}

	a := h.pageTable
	i := 2

	var pte uint64

	for {
		loaded, err := h.Bus.Load(a+vpn[i]*8, 64)
		if err != nil {
			return 0, fmt.Errorf("mmu: walk: %w", err)
		}

		pte = loaded

		v := pte & 1
		r := (pte >> 1) & 1
		w := (pte >> 2) & 1
		x := (pte >> 3) & 1

		if v == 0 || (r == 0 && w == 1) {
			return 0, access.pageFault()
		}

		if r == 1 || x == 1 {
			break
		}

		i--

		ppn := (pte >> 10) & 0x0fff_ffff_ffff
		a = ppn * pageSize

		if i < 0 {
			return 0, access.pageFault()
		}
	}

	ppn := [3]uint64{
		(pte >> 10) & 0x1ff,
		(pte >> 19) & 0x1ff,
		(pte >> 28) & 0x03ff_ffff,
	}

	offset := addr & 0xfff

	switch i {
	case 0:
		leaf := (pte >> 10) & 0x0fff_ffff_ffff
		return (leaf << 12) | offset, nil
	case 1:
		return (ppn[2] << 30) | (ppn[1] << 21) | (vpn[0] << 12) | offset, nil
	case 2:
		return (ppn[2] << 30) | (vpn[1] << 21) | (vpn[0] << 12) | offset, nil
	default:
		return 0, access.pageFault()
	}
}
