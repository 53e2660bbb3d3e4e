package j1939

import (
	"fmt"
	"math"
)

// Value is one decoded, scaled parameter.
type Value struct {
	Value float64    `json:"value"`
	Unit  string     `json:"unit"`
	Range [2]float64 `json:"range"`
}

// Message is the decoded form of a single-frame PGN.
type Message struct {
	Name   string           `json:"name"`
	Values map[string]Value `json:"values"`

	// Skipped lists parameters whose bytes were not present in the payload.
	Skipped []*BoundsError `json:"-"`
}

// BoundsError reports a parameter whose byte range lies outside the payload.
type BoundsError struct {
	PGN    uint32
	Param  string
	Start  int
	Length int
	Have   int
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("j1939: %s param %s needs bytes [%d,%d) but payload has %d",
		FormatPGN(e.PGN), e.Param, e.Start, e.Start+e.Length, e.Have)
}

// Decode converts payload using the definition registered for pgn. ok is
// false when no definition exists; that is the normal outcome for the many
// PGNs on a tractor bus the dashboard does not display.
//
// A parameter that does not fit in payload is left out of Values and
// recorded in Skipped; the remaining parameters are still decoded.
func Decode(pgn uint32, payload []byte) (msg *Message, ok bool) {
	def, ok := Lookup(pgn)
	if !ok {
		return nil, false
	}
	msg = &Message{
		Name:   def.Name,
		Values: make(map[string]Value, len(def.Params)),
	}
	for _, p := range def.Params {
		raw, err := extract(payload, p)
		if err != nil {
			err.PGN = pgn
			msg.Skipped = append(msg.Skipped, err)
			continue
		}
		msg.Values[p.Name] = Value{
			Value: Scale(raw, p),
			Unit:  p.Unit,
			Range: [2]float64{p.Min, p.Max},
		}
	}
	return msg, true
}

// DecodeHex is Decode keyed by the "0xHHHH" form used on the wire.
func DecodeHex(pgnHex string, payload []byte) (*Message, bool, error) {
	pgn, err := ParsePGN(pgnHex)
	if err != nil {
		return nil, false, err
	}
	msg, ok := Decode(pgn, payload)
	return msg, ok, nil
}

// extract assembles p.Length bytes starting at p.Start, least significant
// byte first.
func extract(payload []byte, p Param) (uint32, *BoundsError) {
	if p.Start < 0 || p.Length < 1 || p.Length > 4 || p.Start+p.Length > len(payload) {
		return 0, &BoundsError{Param: p.Name, Start: p.Start, Length: p.Length, Have: len(payload)}
	}
	var v uint32
	for i := 0; i < p.Length; i++ {
		v |= uint32(payload[p.Start+i]) << (8 * i)
	}
	return v, nil
}

// Scale applies resolution and offset to raw and rounds to two decimals.
func Scale(raw uint32, p Param) float64 {
	return round2(float64(raw)*p.Resolution + p.Offset)
}

// round2 rounds half to even at the second decimal.
func round2(v float64) float64 {
	return math.RoundToEven(v*100) / 100
}
