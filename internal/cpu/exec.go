package cpu

import "github.com/smoynes/rvemu/internal/trap"

// Execute decodes and runs one instruction word. Register x0 is re-zeroed before and after every
// execute so that writes targeting it never stick, per the architecture's read-only-zero register
// invariant.
//
// Dispatch is a single large switch on opcode, then funct3/funct7, the same shape the reference
// emulator uses: the RV64 opcode space is irregular enough that a table-driven decoder buys little
// and a switch reads closer to the manual's own instruction listing.
func (h *Hart) Execute(inst uint32) error {
	opcode := inst & 0x7f
	rd := (inst >> 7) & 0x1f
	rs1 := (inst >> 15) & 0x1f
	rs2 := (inst >> 20) & 0x1f
	funct3 := (inst >> 12) & 0x7
	funct7 := (inst >> 25) & 0x7f

	h.Regs[0] = 0

	switch opcode {
	case 0x03: // LOAD
		imm := signExtend(inst>>20, 12)
		addr := h.Regs[rs1] + imm

		switch funct3 {
		case 0x0: // lb
			v, err := h.Load(addr, 8)
			if err != nil {
				return err
			}

			h.Regs[rd] = signExtend64(v, 8)
		case 0x1: // lh
			v, err := h.Load(addr, 16)
			if err != nil {
				return err
			}

			h.Regs[rd] = signExtend64(v, 16)
		case 0x2: // lw
			v, err := h.Load(addr, 32)
			if err != nil {
				return err
			}

			h.Regs[rd] = signExtend64(v, 32)
		case 0x3: // ld
			v, err := h.Load(addr, 64)
			if err != nil {
				return err
			}

			h.Regs[rd] = v
		case 0x4: // lbu
			v, err := h.Load(addr, 8)
			if err != nil {
				return err
			}

			h.Regs[rd] = v
		case 0x5: // lhu
			v, err := h.Load(addr, 16)
			if err != nil {
				return err
			}

			h.Regs[rd] = v
		case 0x6: // lwu
			v, err := h.Load(addr, 32)
			if err != nil {
				return err
			}

			h.Regs[rd] = v
		default:
			return trap.IllegalInstruction
		}

	case 0x0f: // FENCE
		if funct3 != 0x0 {
			return trap.IllegalInstruction
		}
		// Single hart: nothing to order.

	case 0x13: // OP-IMM
		imm := signExtend(inst>>20, 12)
		shamt := uint(imm & 0x3f)

		switch funct3 {
		case 0x0: // addi
			h.Regs[rd] = h.Regs[rs1] + imm
		case 0x1: // slli
			h.Regs[rd] = h.Regs[rs1] << shamt
		case 0x2: // slti
			h.Regs[rd] = boolU64(int64(h.Regs[rs1]) < int64(imm))
		case 0x3: // sltiu
			h.Regs[rd] = boolU64(h.Regs[rs1] < imm)
		case 0x4: // xori
			h.Regs[rd] = h.Regs[rs1] ^ imm
		case 0x5:
			switch funct7 >> 1 {
			case 0x00: // srli
				h.Regs[rd] = h.Regs[rs1] >> shamt
			case 0x10: // srai
				h.Regs[rd] = uint64(int64(h.Regs[rs1]) >> shamt)
			default:
				return trap.IllegalInstruction
			}
		case 0x6: // ori
			h.Regs[rd] = h.Regs[rs1] | imm
		case 0x7: // andi
			h.Regs[rd] = h.Regs[rs1] & imm
		}

	case 0x17: // AUIPC
		imm := uint64(int64(int32(inst & 0xfffff000)))
		h.Regs[rd] = h.PC + imm - 4

	case 0x1b: // OP-IMM-32
		imm := signExtend(inst>>20, 12)
		shamt := uint(imm & 0x1f)

		switch funct3 {
		case 0x0: // addiw
			h.Regs[rd] = uint64(int64(int32(h.Regs[rs1] + imm)))
		case 0x1: // slliw
			h.Regs[rd] = uint64(int64(int32(uint32(h.Regs[rs1]) << shamt)))
		case 0x5:
			switch funct7 {
			case 0x00: // srliw
				h.Regs[rd] = uint64(int64(int32(uint32(h.Regs[rs1]) >> shamt)))
			case 0x20: // sraiw
				h.Regs[rd] = uint64(int64(int32(h.Regs[rs1]) >> shamt))
			default:
				return trap.IllegalInstruction
			}
		default:
			return trap.IllegalInstruction
		}

	case 0x23: // STORE
		imm := signExtend((inst>>25)<<5|((inst>>7)&0x1f), 12)
		addr := h.Regs[rs1] + imm

		switch funct3 {
		case 0x0: // sb
			if err := h.Store(addr, 8, h.Regs[rs2]); err != nil {
				return err
			}
		case 0x1: // sh
			if err := h.Store(addr, 16, h.Regs[rs2]); err != nil {
				return err
			}
		case 0x2: // sw
			if err := h.Store(addr, 32, h.Regs[rs2]); err != nil {
				return err
			}
		case 0x3: // sd
			if err := h.Store(addr, 64, h.Regs[rs2]); err != nil {
				return err
			}
		default:
			return trap.IllegalInstruction
		}

	case 0x2f: // AMO
		funct5 := (funct7 & 0b1111100) >> 2

		switch {
		case funct3 == 0x2 && funct5 == 0x00: // amoadd.w
			t, err := h.Load(h.Regs[rs1], 32)
			if err != nil {
				return err
			}

			if err := h.Store(h.Regs[rs1], 32, t+h.Regs[rs2]); err != nil {
				return err
			}

			h.Regs[rd] = t
		case funct3 == 0x3 && funct5 == 0x00: // amoadd.d
			t, err := h.Load(h.Regs[rs1], 64)
			if err != nil {
				return err
			}

			if err := h.Store(h.Regs[rs1], 64, t+h.Regs[rs2]); err != nil {
				return err
			}

			h.Regs[rd] = t
		case funct3 == 0x2 && funct5 == 0x01: // amoswap.w
			t, err := h.Load(h.Regs[rs1], 32)
			if err != nil {
				return err
			}

			if err := h.Store(h.Regs[rs1], 32, h.Regs[rs2]); err != nil {
				return err
			}

			h.Regs[rd] = t
		case funct3 == 0x3 && funct5 == 0x01: // amoswap.d
			t, err := h.Load(h.Regs[rs1], 64)
			if err != nil {
				return err
			}

			if err := h.Store(h.Regs[rs1], 64, h.Regs[rs2]); err != nil {
				return err
			}

			h.Regs[rd] = t
		default:
			return trap.IllegalInstruction
		}

	case 0x33: // OP
		shamt := uint(h.Regs[rs2] & 0x3f)

		switch {
		case funct3 == 0x0 && funct7 == 0x00: // add
			h.Regs[rd] = h.Regs[rs1] + h.Regs[rs2]
		case funct3 == 0x0 && funct7 == 0x01: // mul
			h.Regs[rd] = h.Regs[rs1] * h.Regs[rs2]
		case funct3 == 0x0 && funct7 == 0x20: // sub
			h.Regs[rd] = h.Regs[rs1] - h.Regs[rs2]
		case funct3 == 0x1 && funct7 == 0x00: // sll
			h.Regs[rd] = h.Regs[rs1] << shamt
		case funct3 == 0x2 && funct7 == 0x00: // slt
			h.Regs[rd] = boolU64(int64(h.Regs[rs1]) < int64(h.Regs[rs2]))
		case funct3 == 0x3 && funct7 == 0x00: // sltu
			h.Regs[rd] = boolU64(h.Regs[rs1] < h.Regs[rs2])
		case funct3 == 0x4 && funct7 == 0x00: // xor
			h.Regs[rd] = h.Regs[rs1] ^ h.Regs[rs2]
		case funct3 == 0x5 && funct7 == 0x00: // srl
			h.Regs[rd] = h.Regs[rs1] >> shamt
		case funct3 == 0x5 && funct7 == 0x20: // sra
			h.Regs[rd] = uint64(int64(h.Regs[rs1]) >> shamt)
		case funct3 == 0x6 && funct7 == 0x00: // or
			h.Regs[rd] = h.Regs[rs1] | h.Regs[rs2]
		case funct3 == 0x7 && funct7 == 0x00: // and
			h.Regs[rd] = h.Regs[rs1] & h.Regs[rs2]
		default:
			return trap.IllegalInstruction
		}

	case 0x37: // LUI
		h.Regs[rd] = uint64(int64(int32(inst & 0xfffff000)))

	case 0x3b: // OP-32
		shamt := uint(h.Regs[rs2] & 0x1f)

		switch {
		case funct3 == 0x0 && funct7 == 0x00: // addw
			h.Regs[rd] = uint64(int64(int32(h.Regs[rs1] + h.Regs[rs2])))
		case funct3 == 0x0 && funct7 == 0x20: // subw
			h.Regs[rd] = uint64(int64(int32(h.Regs[rs1] - h.Regs[rs2])))
		case funct3 == 0x1 && funct7 == 0x00: // sllw
			h.Regs[rd] = uint64(int64(int32(uint32(h.Regs[rs1]) << shamt)))
		case funct3 == 0x5 && funct7 == 0x00: // srlw
			h.Regs[rd] = uint64(int64(int32(uint32(h.Regs[rs1]) >> shamt)))
		case funct3 == 0x5 && funct7 == 0x01: // divu
			if h.Regs[rs2] == 0 {
				h.Regs[rd] = 0xffff_ffff_ffff_ffff
			} else {
				h.Regs[rd] = h.Regs[rs1] / h.Regs[rs2]
			}
		case funct3 == 0x5 && funct7 == 0x20: // sraw
			h.Regs[rd] = uint64(int32(h.Regs[rs1]) >> shamt)
		case funct3 == 0x7 && funct7 == 0x01: // remuw
			if h.Regs[rs2] == 0 {
				h.Regs[rd] = h.Regs[rs1]
			} else {
				dividend := uint32(h.Regs[rs1])
				divisor := uint32(h.Regs[rs2])
				h.Regs[rd] = uint64(int64(int32(dividend % divisor)))
			}
		default:
			return trap.IllegalInstruction
		}

	case 0x63: // BRANCH
		imm := signExtend(
			((inst>>31)&1)<<12|((inst>>7)&1)<<11|((inst>>25)&0x3f)<<5|((inst>>8)&0xf)<<1,
			13,
		)

		var taken bool

		switch funct3 {
		case 0x0: // beq
			taken = h.Regs[rs1] == h.Regs[rs2]
		case 0x1: // bne
			taken = h.Regs[rs1] != h.Regs[rs2]
		case 0x4: // blt
			taken = int64(h.Regs[rs1]) < int64(h.Regs[rs2])
		case 0x5: // bge
			taken = int64(h.Regs[rs1]) >= int64(h.Regs[rs2])
		case 0x6: // bltu
			taken = h.Regs[rs1] < h.Regs[rs2]
		case 0x7: // bgeu
			taken = h.Regs[rs1] >= h.Regs[rs2]
		default:
			return trap.IllegalInstruction
		}

		if taken {
			h.PC = h.PC + imm - 4
		}

	case 0x67: // JALR
		if funct3 != 0 {
			return trap.IllegalInstruction
		}

		t := h.PC
		imm := signExtend(inst>>20, 12)
		h.PC = (h.Regs[rs1] + imm) &^ 1
		h.Regs[rd] = t

	case 0x6f: // JAL
		imm := signExtend(
			((inst>>31)&1)<<20|((inst>>12)&0xff)<<12|((inst>>20)&1)<<11|((inst>>21)&0x3ff)<<1,
			21,
		)
		h.Regs[rd] = h.PC
		h.PC = h.PC + imm - 4

	case 0x73: // SYSTEM
		csrAddr := uint64(inst>>20) & 0xfff

		switch funct3 {
		case 0x0:
			switch {
			case rs2 == 0x0 && funct7 == 0x0: // ecall
				switch h.Mode {
				case User:
					return trap.EcallFromUMode
				case Supervisor:
					return trap.EcallFromSMode
				default:
					return trap.EcallFromMMode
				}
			case rs2 == 0x1 && funct7 == 0x0: // ebreak
				return trap.Breakpoint
			case rs2 == 0x2 && funct7 == 0x8: // sret
				h.execSret()
			case rs2 == 0x2 && funct7 == 0x18: // mret
				h.execMret()
			case funct7 == 0x9: // sfence.vma
				// No TLB to flush.
			default:
				return trap.IllegalInstruction
			}
		case 0x1: // csrrw
			t := h.CSR.Load(csrAddr)
			h.CSR.Store(csrAddr, h.Regs[rs1])
			h.Regs[rd] = t
			h.updatePaging(csrAddr)
		case 0x2: // csrrs
			t := h.CSR.Load(csrAddr)
			h.CSR.Store(csrAddr, t|h.Regs[rs1])
			h.Regs[rd] = t
			h.updatePaging(csrAddr)
		case 0x3: // csrrc
			t := h.CSR.Load(csrAddr)
			h.CSR.Store(csrAddr, t&^h.Regs[rs1])
			h.Regs[rd] = t
			h.updatePaging(csrAddr)
		case 0x5: // csrrwi
			zimm := uint64(rs1)
			h.Regs[rd] = h.CSR.Load(csrAddr)
			h.CSR.Store(csrAddr, zimm)
			h.updatePaging(csrAddr)
		case 0x6: // csrrsi
			zimm := uint64(rs1)
			t := h.CSR.Load(csrAddr)
			h.CSR.Store(csrAddr, t|zimm)
			h.Regs[rd] = t
			h.updatePaging(csrAddr)
		case 0x7: // csrrci
			zimm := uint64(rs1)
			t := h.CSR.Load(csrAddr)
			h.CSR.Store(csrAddr, t&^zimm)
			h.Regs[rd] = t
			h.updatePaging(csrAddr)
		default:
			return trap.IllegalInstruction
		}

	default:
		return trap.IllegalInstruction
	}

	h.Regs[0] = 0

	return nil
}

// execSret implements the SRET system instruction: return from a supervisor trap handler. The
// write-unconditionally-even-for-x0 CSR semantics used elsewhere don't apply here; this sequence
// updates sstatus one field at a time with a separate CSR.Store each, the way the reference
// emulator does.
func (h *Hart) execSret() {
	h.PC = h.CSR.Load(sepc)

	if (h.CSR.Load(sstatus)>>sstatusSPPBit)&1 == 1 {
		h.Mode = Supervisor
	} else {
		h.Mode = User
	}

	if (h.CSR.Load(sstatus)>>sstatusSPIEBit)&1 == 1 {
		h.CSR.Store(sstatus, h.CSR.Load(sstatus)|(1<<sstatusSIEBit))
	} else {
		h.CSR.Store(sstatus, h.CSR.Load(sstatus)&^(1<<sstatusSIEBit))
	}

	h.CSR.Store(sstatus, h.CSR.Load(sstatus)|(1<<sstatusSPIEBit))
	h.CSR.Store(sstatus, h.CSR.Load(sstatus)&^(1<<sstatusSPPBit))
}

// execMret implements the MRET system instruction: return from a machine trap handler. MPP is
// cleared to 0 (User) rather than restored to the mode recorded before the trap; this is the
// source's behavior, not the privileged spec's, and xv6 depends on it.
func (h *Hart) execMret() {
	h.PC = h.CSR.Load(mepc)

	switch (h.CSR.Load(mstatus) >> mstatusMPPLow) & 0b11 {
	case 3:
		h.Mode = Machine
	case 1:
		h.Mode = Supervisor
	default:
		h.Mode = User
	}

	if (h.CSR.Load(mstatus)>>mstatusMPIEBit)&1 == 1 {
		h.CSR.Store(mstatus, h.CSR.Load(mstatus)|(1<<mstatusMIEBit))
	} else {
		h.CSR.Store(mstatus, h.CSR.Load(mstatus)&^(1<<mstatusMIEBit))
	}

	h.CSR.Store(mstatus, h.CSR.Load(mstatus)|(1<<mstatusMPIEBit))
	h.CSR.Store(mstatus, h.CSR.Load(mstatus)&^(0b11<<mstatusMPPLow))
}

// signExtend sign-extends the bottom n bits of v (held in the low bits of a uint32) to 64 bits.
func signExtend(v uint32, n uint8) uint64 {
	shift := 32 - n
	return uint64(int64(int32(v<<shift)) >> shift)
}

// signExtend64 sign-extends the bottom n bits of v to 64 bits.
func signExtend64(v uint64, n uint8) uint64 {
	shift := 64 - n
	return uint64(int64(v<<shift) >> shift)
}

func boolU64(b bool) uint64 {
	if b {
		return 1
	}

	return 0
}
