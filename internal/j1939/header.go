package j1939

import (
	"fmt"
	"strconv"
	"strings"
)

// pgnMask selects the 18-bit PGN field (EDP, DP, PF, PS) after the source
// address has been shifted out.
const pgnMask = 0x3FFFF

// Header holds the J1939 fields carried in a 29-bit CAN identifier.
type Header struct {
	Priority uint8  `json:"priority"` // 0 (highest) .. 7
	PGN      uint32 `json:"pgn"`
	Source   uint8  `json:"source"`
}

// ExtractHeader splits a 29-bit identifier into priority, PGN and source
// address.
func ExtractHeader(id uint32) Header {
	return Header{
		Priority: uint8((id >> 26) & 0x7),
		PGN:      (id >> 8) & pgnMask,
		Source:   uint8(id & 0xFF),
	}
}

// ID rebuilds the 29-bit identifier for h.
func (h Header) ID() uint32 {
	return uint32(h.Priority&0x7)<<26 | (h.PGN&pgnMask)<<8 | uint32(h.Source)
}

// FormatPGN renders pgn the way the dashboard and gateways exchange it,
// e.g. "0xFEF1".
func FormatPGN(pgn uint32) string {
	return fmt.Sprintf("0x%04X", pgn)
}

// ParsePGN accepts "0xFEF1", "FEF1" or a decimal "65265".
func ParsePGN(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	var (
		v   uint64
		err error
	)
	switch {
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		v, err = strconv.ParseUint(s[2:], 16, 32)
	case strings.IndexAny(s, "abcdefABCDEF") >= 0:
		v, err = strconv.ParseUint(s, 16, 32)
	default:
		v, err = strconv.ParseUint(s, 10, 32)
	}
	if err != nil {
		return 0, fmt.Errorf("j1939: bad pgn %q: %w", s, err)
	}
	if v > pgnMask {
		return 0, fmt.Errorf("j1939: pgn %q exceeds 18 bits", s)
	}
	return uint32(v), nil
}
