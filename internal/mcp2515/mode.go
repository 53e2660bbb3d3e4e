package mcp2515

import "fmt"

// Mode is the controller operating mode.
type Mode uint8

const (
	ModeNormal Mode = iota
	ModeSleep
	ModeLoopback
	ModeListen
	ModeConfig
)

// reqop returns the CANCTRL REQOP encoding for m.
func (m Mode) reqop() (byte, bool) {
	switch m {
	case ModeNormal:
		return 0x00, true
	case ModeSleep:
		return 0x20, true
	case ModeLoopback:
		return 0x40, true
	case ModeListen:
		return 0x60, true
	case ModeConfig:
		return 0x80, true
	}
	return 0, false
}

// modeFromBits decodes the REQOP/OPMOD field of CANCTRL or CANSTAT.
func modeFromBits(v byte) (Mode, bool) {
	switch v & reqopMask {
	case 0x00:
		return ModeNormal, true
	case 0x20:
		return ModeSleep, true
	case 0x40:
		return ModeLoopback, true
	case 0x60:
		return ModeListen, true
	case 0x80:
		return ModeConfig, true
	}
	return 0, false
}

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeSleep:
		return "sleep"
	case ModeLoopback:
		return "loopback"
	case ModeListen:
		return "listen"
	case ModeConfig:
		return "config"
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}

// ParseMode accepts the lower-case names printed by Mode.String.
func ParseMode(s string) (Mode, error) {
	for m := ModeNormal; m <= ModeConfig; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
}
