// Package frame holds the CAN frame records passed between frame sources,
// the decode pipeline and the dashboard.
package frame

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/knieriem/can"
	"github.com/shaunagostinho/agdash/internal/j1939"
)

// MaxLen is the classical CAN payload limit.
const MaxLen = 8

const maxExtID = 0x1FFFFFFF

var (
	ErrInvalidID  = errors.New("frame: invalid identifier")
	ErrInvalidLen = errors.New("frame: invalid data length")
)

// Raw is one frame as received from the bus.
type Raw struct {
	ID       uint32 // 29-bit identifier
	Extended bool
	DLC      uint8 // 0..8
	Data     [MaxLen]byte
	Time     time.Time
}

// Payload returns the valid payload bytes. A DLC above 8 is treated as 8.
func (r Raw) Payload() []byte {
	n := r.DLC
	if n > MaxLen {
		n = MaxLen
	}
	return r.Data[:n]
}

// Header returns the J1939 fields of the identifier.
func (r Raw) Header() j1939.Header {
	return j1939.ExtractHeader(r.ID)
}

// Validate returns an error if the frame is not a valid classical CAN frame.
func (r Raw) Validate() error {
	if r.DLC > MaxLen {
		return ErrInvalidLen
	}
	if r.ID > maxExtID || (!r.Extended && r.ID > 0x7FF) {
		return ErrInvalidID
	}
	return nil
}

// String formats the frame like candump: "0CFEF100 [8] 10 00 32 ...".
func (r Raw) String() string {
	return fmt.Sprintf("%08X [%d] % X", r.ID, len(r.Payload()), r.Payload())
}

// FromMsg converts a driver message received at t.
func FromMsg(m *can.Msg, t time.Time) Raw {
	n := m.Len
	if n < 0 {
		n = 0
	}
	if n > MaxLen {
		n = MaxLen
	}
	r := Raw{
		ID:       m.Id,
		Extended: m.ExtFrame(),
		DLC:      uint8(n),
		Time:     t,
	}
	copy(r.Data[:], m.Data[:n])
	return r
}

// Msg converts r into a driver message.
func (r Raw) Msg() can.Msg {
	var m can.Msg
	m.Id = r.ID
	if r.Extended {
		m.Flags = can.ExtFrame
	}
	p := r.Payload()
	m.Len = len(p)
	copy(m.Data[:], p)
	return m
}

// Record is the JSON shape frames take on the wire and in history:
//
//	{"pgn":"0xFEF1","data":[16,0,50],"timestamp":1700000000000,"source":0,"priority":3}
type Record struct {
	PGN       string         `json:"pgn"`
	Data      Payload        `json:"data"`
	Timestamp int64          `json:"timestamp"` // Unix ms
	Source    uint8          `json:"source"`
	Priority  uint8          `json:"priority"`
	Decoded   *j1939.Message `json:"decoded,omitempty"`
}

// NewRecord builds the wire record for r. Decoded is left empty.
func NewRecord(r Raw) Record {
	h := r.Header()
	return Record{
		PGN:       j1939.FormatPGN(h.PGN),
		Data:      append(Payload(nil), r.Payload()...),
		Timestamp: r.Time.UnixMilli(),
		Source:    h.Source,
		Priority:  h.Priority,
	}
}

// Raw rebuilds a bus frame from a record received from a gateway.
func (rec Record) Raw() (Raw, error) {
	pgn, err := j1939.ParsePGN(rec.PGN)
	if err != nil {
		return Raw{}, err
	}
	if len(rec.Data) > MaxLen {
		return Raw{}, ErrInvalidLen
	}
	h := j1939.Header{Priority: rec.Priority, PGN: pgn, Source: rec.Source}
	r := Raw{
		ID:       h.ID(),
		Extended: true,
		DLC:      uint8(len(rec.Data)),
		Time:     time.UnixMilli(rec.Timestamp),
	}
	copy(r.Data[:], rec.Data)
	return r, nil
}

// Payload is a byte slice that encodes as a JSON array of numbers rather
// than base64.
type Payload []byte

func (p Payload) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(p))
	for i, b := range p {
		ints[i] = int(b)
	}
	return json.Marshal(ints)
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return err
	}
	out := make(Payload, len(ints))
	for i, v := range ints {
		if v < 0 || v > 0xFF {
			return fmt.Errorf("frame: data[%d]=%d is not a byte", i, v)
		}
		out[i] = byte(v)
	}
	*p = out
	return nil
}
