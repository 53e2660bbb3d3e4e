package frame

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/knieriem/can"
)

func TestRecordJSONShape(t *testing.T) {
	r := Raw{
		ID:       0x0CFEF117,
		Extended: true,
		DLC:      3,
		Data:     [8]byte{0x10, 0x00, 0x32},
		Time:     time.UnixMilli(1700000000123),
	}
	b, err := json.Marshal(NewRecord(r))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"pgn":"0xFEF1","data":[16,0,50],"timestamp":1700000000123,"source":23,"priority":3}`
	if string(b) != want {
		t.Fatalf("got  %s\nwant %s", b, want)
	}
}

func TestRecordRaw(t *testing.T) {
	var rec Record
	err := json.Unmarshal([]byte(`{"pgn":"0xFEE8","data":[200,120,75],"timestamp":42,"source":0,"priority":6}`), &rec)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	r, err := rec.Raw()
	if err != nil {
		t.Fatalf("raw: %v", err)
	}
	if r.ID != 0x18FEE800 || !r.Extended || r.DLC != 3 {
		t.Fatalf("raw = %+v", r)
	}
	if h := r.Header(); h.PGN != 0xFEE8 || h.Priority != 6 {
		t.Fatalf("header = %+v", h)
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestPayloadRejectsNonBytes(t *testing.T) {
	var rec Record
	err := json.Unmarshal([]byte(`{"pgn":"0xFEE8","data":[256]}`), &rec)
	if err == nil || !strings.Contains(err.Error(), "not a byte") {
		t.Fatalf("err = %v", err)
	}
}

func TestRecordRawTooLong(t *testing.T) {
	rec := Record{PGN: "0xFEF1", Data: make(Payload, 9)}
	if _, err := rec.Raw(); err != ErrInvalidLen {
		t.Fatalf("err = %v, want ErrInvalidLen", err)
	}
}

func TestPayloadClampsDLC(t *testing.T) {
	r := Raw{DLC: 15}
	if n := len(r.Payload()); n != 8 {
		t.Fatalf("payload len = %d, want 8", n)
	}
	if err := r.Validate(); err != ErrInvalidLen {
		t.Fatalf("validate = %v", err)
	}
}

func TestMsgRoundTrip(t *testing.T) {
	r := Raw{ID: 0x18F00403, Extended: true, DLC: 2, Data: [8]byte{1, 2}}
	m := r.Msg()
	if !m.ExtFrame() || m.Id != r.ID || m.Len != 2 {
		t.Fatalf("msg = %+v", m)
	}
	ts := time.Unix(10, 0)
	got := FromMsg(&m, ts)
	r.Time = ts
	if got != r {
		t.Fatalf("got %+v, want %+v", got, r)
	}

	var big can.Msg
	big.Len = 12
	if n := FromMsg(&big, ts).DLC; n != 8 {
		t.Fatalf("DLC = %d, want clamp to 8", n)
	}
}

func TestString(t *testing.T) {
	r := Raw{ID: 0x0CFEF100, Extended: true, DLC: 2, Data: [8]byte{0x10, 0xAB}}
	if s := r.String(); s != "0CFEF100 [2] 10 AB" {
		t.Fatalf("String() = %q", s)
	}
}
