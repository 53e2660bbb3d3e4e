package mcp2515

// Addr is a register address inside the controller.
type Addr uint8

// SPI instructions.
const (
	cmdReset     = 0xC0
	cmdRead      = 0x03
	cmdWrite     = 0x02
	cmdBitModify = 0x05
	cmdReadRxB0  = 0x90 // READ RX BUFFER starting at RXB0SIDH
	cmdReadStat  = 0xA0
)

// Registers used by the driver. CANSTAT and CANCTRL are mirrored in every
// 0xXE/0xXF slot; the 0x0E/0x0F copies are used here.
const (
	RXF0SIDH Addr = 0x00
	CANSTAT  Addr = 0x0E
	CANCTRL  Addr = 0x0F
	RXM0SIDH Addr = 0x20
	RXM1EID0 Addr = 0x27
	CNF3     Addr = 0x28
	CNF2     Addr = 0x29
	CNF1     Addr = 0x2A
	CANINTE  Addr = 0x2B
	CANINTF  Addr = 0x2C
	EFLG     Addr = 0x2D
	RXB0CTRL Addr = 0x60
	RXB0SIDH Addr = 0x61
	RXB1CTRL Addr = 0x70
)

// Bit fields.
const (
	// CANCTRL / CANSTAT
	reqopMask = 7 << 5

	// RXBnCTRL
	rxmAny = 3 << 5 // receive any message, filters off

	// CANINTE / CANINTF
	rx0IE = 1 << 0
	rx1IE = 1 << 1

	// RXBnSIDL
	exide = 1 << 3
)

// rxBufLen is SIDH, SIDL, EID8, EID0, DLC and eight data bytes.
const rxBufLen = 13

// configOnly reports whether addr may only be written in Config mode: the
// bit-timing registers and the acceptance filter, mask and receive-control
// registers.
func configOnly(a Addr) bool {
	switch {
	case a == CNF1, a == CNF2, a == CNF3:
		return true
	case a >= RXF0SIDH && a <= 0x0B, a >= 0x10 && a <= 0x1B:
		return true
	case a >= RXM0SIDH && a <= RXM1EID0:
		return true
	case a == RXB0CTRL, a == RXB1CTRL:
		return true
	}
	return false
}
