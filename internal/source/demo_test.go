package source

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/shaunagostinho/agdash/internal/j1939"
)

func TestDemoEmitsDecodableFrames(t *testing.T) {
	d := NewDemo(10 * time.Millisecond)
	clock := time.Unix(1700000000, 0)
	d.now = func() time.Time { return clock }

	if _, _, err := d.Poll(); err != ErrNotConnected {
		t.Fatalf("poll before connect: %v", err)
	}
	if err := d.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	seen := map[uint32]bool{}
	for i := 0; i < 6; i++ {
		f, ok, err := d.Poll()
		if err != nil || !ok {
			t.Fatalf("poll %d: %v, %v", i, ok, err)
		}
		// Same instant: rate limited.
		if _, ok, _ := d.Poll(); ok {
			t.Fatal("second frame within one interval")
		}
		clock = clock.Add(10 * time.Millisecond)

		h := f.Header()
		seen[h.PGN] = true
		msg, ok := j1939.Decode(h.PGN, f.Payload())
		if !ok {
			t.Fatalf("demo pgn %s not decodable", j1939.FormatPGN(h.PGN))
		}
		if len(msg.Skipped) != 0 {
			t.Fatalf("skipped params: %v", msg.Skipped)
		}
		def, _ := j1939.Lookup(h.PGN)
		for _, p := range def.Params {
			v := msg.Values[p.Name].Value
			if v < p.Min || v > p.Max {
				t.Errorf("%s/%s = %v outside [%v,%v]", def.Name, p.Name, v, p.Min, p.Max)
			}
		}
	}
	if len(seen) != 3 {
		t.Fatalf("pgns seen = %v", seen)
	}
}

func TestEncodeParamInvertsDecode(t *testing.T) {
	def, _ := j1939.Lookup(0xFEE8)
	data := make([]byte, 8)
	for _, p := range def.Params {
		encodeParam(data, p, map[string]float64{
			"nivel_combustivel": 50,
			"temp_motor":        -10,
			"pressao_oleo":      2000, // saturates
		}[p.Name])
	}
	msg, _ := j1939.Decode(0xFEE8, data)
	want := map[string]float64{"nivel_combustivel": 50, "temp_motor": -10, "pressao_oleo": 1020}
	for k, v := range want {
		if got := msg.Values[k].Value; math.Abs(got-v) > 1e-9 {
			t.Errorf("%s = %v, want %v", k, got, v)
		}
	}
}
