package cpu

// CSR addresses. RISC-V sets aside a 12-bit encoding space for up to 4096 control and status
// registers; this hart implements only the subset the trap and paging machinery need.
const (
	// Machine-level CSRs.
	mstatus = 0x300
	medeleg = 0x302
	mideleg = 0x303
	mie     = 0x304
	mtvec   = 0x305
	mepc    = 0x341
	mcause  = 0x342
	mtval   = 0x343
	mip     = 0x344

	// Supervisor-level CSRs.
	sstatus = 0x100
	sie     = 0x104
	stvec   = 0x105
	sepc    = 0x141
	scause  = 0x142
	stval   = 0x143
	sip     = 0x144
	satp    = 0x180
)

// mstatus/sstatus bit positions.
const (
	sstatusSIEBit  = 1
	sstatusSPPBit  = 8
	sstatusSPIEBit = 5

	mstatusMIEBit  = 3
	mstatusMPIEBit = 7
	mstatusMPPLow  = 11
)

// mip/mie bit positions, by interrupt code.
const (
	mipSSIP = 1 << 1
	mipMSIP = 1 << 3
	mipSTIP = 1 << 5
	mipMTIP = 1 << 7
	mipSEIP = 1 << 9
	mipMEIP = 1 << 11
)

// pageSize is the Sv39 page size.
const pageSize = 4096

// CSRFile is the hart's control-and-status-register bank. sie and sip are computed views over the
// underlying M-mode registers masked by the delegation registers rather than independently stored,
// matching how the wider RISC-V privileged architecture treats them.
type CSRFile struct {
	regs [4096]uint64
}

// Load reads a CSR, resolving the sie/sip aliases.
func (c *CSRFile) Load(addr uint64) uint64 {
	switch addr {
	case sie:
		return c.regs[mie] & c.regs[mideleg]
	case sip:
		return c.regs[mip] & c.regs[mideleg]
	default:
		return c.regs[addr]
	}
}

// Store writes a CSR, resolving the sie/sip aliases so only the bits mideleg permits are updated in
// the backing M-mode register.
func (c *CSRFile) Store(addr uint64, value uint64) {
	switch addr {
	case sie:
		c.regs[mie] = (c.regs[mie] &^ c.regs[mideleg]) | (value & c.regs[mideleg])
	case sip:
		c.regs[mip] = (c.regs[mip] &^ c.regs[mideleg]) | (value & c.regs[mideleg])
	default:
		c.regs[addr] = value
	}
}
