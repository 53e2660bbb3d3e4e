package mcp2515

import "fmt"

// Profile is a fixed set of bit-timing register values for one oscillator
// frequency and bus bitrate.
type Profile struct {
	Name    string `yaml:"name" json:"name"`
	ClockHz int    `yaml:"clock_hz" json:"clockHz"`
	Bitrate int    `yaml:"bitrate" json:"bitrate"`
	CNF1    byte   `yaml:"cnf1" json:"cnf1"`
	CNF2    byte   `yaml:"cnf2" json:"cnf2"`
	CNF3    byte   `yaml:"cnf3" json:"cnf3"`
}

// Profile8MHz250k is the register set used on the ESP32 boards in the field:
// an 8 MHz crystal on the 250 kbit/s J1939 bus.
var Profile8MHz250k = Profile{
	Name:    "j1939-8mhz-250k",
	ClockHz: 8_000_000,
	Bitrate: 250_000,
	CNF1:    0x00,
	CNF2:    0x90,
	CNF3:    0x02,
}

var profiles = []Profile{
	Profile8MHz250k,
}

// LookupProfile finds the profile for an oscillator and bitrate. Bit timing
// is never computed; unknown combinations need an explicit Profile.
func LookupProfile(clockHz, bitrate int) (Profile, error) {
	for _, p := range profiles {
		if p.ClockHz == clockHz && p.Bitrate == bitrate {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("%w: %d Hz clock at %d bit/s", ErrUnsupportedTiming, clockHz, bitrate)
}

// ProfileByName finds a built-in profile by name.
func ProfileByName(name string) (Profile, bool) {
	for _, p := range profiles {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}
