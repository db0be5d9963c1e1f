// Package cpu implements the RV64IMA hart: the integer register file, CSR file, Sv39 MMU,
// fetch-decode-execute loop, and trap/interrupt machinery needed to boot an xv6-riscv kernel image.
package cpu

import (
	"fmt"

	"github.com/smoynes/rvemu/internal/bus"
	"github.com/smoynes/rvemu/internal/log"
	"github.com/smoynes/rvemu/internal/trap"
)

// Mode is the hart's current privilege level.
type Mode uint8

const (
	User       Mode = 0
	Supervisor Mode = 1
	Machine    Mode = 3
)

func (m Mode) String() string {
	switch m {
	case User:
		return "U"
	case Supervisor:
		return "S"
	case Machine:
		return "M"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// AccessType parameterizes which page-fault exception a failed translation raises.
type AccessType uint8

const (
	AccessInstruction AccessType = iota
	AccessLoad
	AccessStore
)

func (a AccessType) pageFault() trap.Exception {
	switch a {
	case AccessInstruction:
		return trap.InstructionPageFault
	case AccessLoad:
		return trap.LoadPageFault
	default:
		return trap.StoreAMOPageFault
	}
}

// Hart is a single RISC-V hardware thread: register file, program counter, privilege mode, CSR
// file, paging state, and the bus it executes against.
type Hart struct {
	Regs [32]uint64
	PC   uint64
	Mode Mode

	CSR CSRFile

	pagingEnabled bool
	pageTable     uint64

	Bus *bus.Bus

	log *log.Logger
}

// New creates a Hart wired to bus, with the stack pointer at the top of DRAM, PC at DRAMBase, in
// machine mode, with paging disabled — the reset state an xv6-riscv image expects.
func New(b *bus.Bus, logger *log.Logger) *Hart {
	h := &Hart{
		Bus: b,
		PC:  bus.DRAMBase,
		Mode: Machine,
		log: logger,
	}
	h.Regs[2] = bus.DRAMBase + bus.DRAMSize // sp

	return h
}

// updatePaging recomputes pagingEnabled and pageTable from satp after any CSR write; a no-op for
// every CSR other than satp.
func (h *Hart) updatePaging(addr uint64) {
	if addr != satp {
		return
	}

	v := h.CSR.Load(satp)
	h.pageTable = (v & ((1 << 44) - 1)) * pageSize
	h.pagingEnabled = (v >> 60) == 8
}

// Load reads size bits from the virtual address addr, translating first.
func (h *Hart) Load(addr uint64, size uint8) (uint64, error) {
	pa, err := h.Translate(addr, AccessLoad)
	if err != nil {
		return 0, err
	}

	v, err := h.Bus.Load(pa, size)
	if err != nil {
		return 0, fmt.Errorf("cpu: load %#x: %w", addr, trap.LoadAccessFault)
	}

	return v, nil
}

// Store writes size bits of value to the virtual address addr, translating first.
func (h *Hart) Store(addr uint64, size uint8, value uint64) error {
	pa, err := h.Translate(addr, AccessStore)
	if err != nil {
		return err
	}

	if err := h.Bus.Store(pa, size, value); err != nil {
		return fmt.Errorf("cpu: store %#x: %w", addr, trap.StoreAMOAccessFault)
	}

	return nil
}

// Fetch reads the 32-bit instruction at PC, translating for an instruction access. A bus load
// failure is remapped to InstructionAccessFault; a translation failure is already the correct
// InstructionPageFault.
func (h *Hart) Fetch() (uint32, error) {
	pa, err := h.Translate(h.PC, AccessInstruction)
	if err != nil {
		return 0, err
	}

	v, err := h.Bus.Load(pa, 32)
	if err != nil {
		return 0, trap.InstructionAccessFault
	}

	return uint32(v), nil
}
