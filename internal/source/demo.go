package source

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/shaunagostinho/agdash/internal/frame"
	"github.com/shaunagostinho/agdash/internal/j1939"
)

// demoNode is one simulated ECU broadcasting a single PGN.
type demoNode struct {
	pgn      uint32
	source   uint8
	priority uint8
}

var demoNodes = []demoNode{
	{pgn: 0xFEF1, source: 0x00, priority: 3}, // engine
	{pgn: 0xF004, source: 0x80, priority: 6}, // implement controller
	{pgn: 0xFEE8, source: 0x00, priority: 6},
}

// Demo generates simulated tractor traffic for development and testing.
type Demo struct {
	mu       sync.Mutex
	running  bool
	t        float64 // virtual time accumulator
	area     float64 // ha worked so far
	next     time.Time
	interval time.Duration
	i        int
	now      func() time.Time
}

// NewDemo returns a demo source emitting one frame per interval.
func NewDemo(interval time.Duration) *Demo {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &Demo{interval: interval, now: time.Now}
}

func (d *Demo) Name() string { return "Demo (Simulated)" }

func (d *Demo) Connect(context.Context) error {
	d.mu.Lock()
	d.running = true
	d.mu.Unlock()
	return nil
}

func (d *Demo) Close() error {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
	return nil
}

func (d *Demo) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *Demo) Poll() (frame.Raw, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return frame.Raw{}, false, ErrNotConnected
	}
	now := d.now()
	if now.Before(d.next) {
		return frame.Raw{}, false, nil
	}
	d.next = now.Add(d.interval)

	node := demoNodes[d.i%len(demoNodes)]
	d.i++
	d.t += d.interval.Seconds()

	var vals map[string]float64
	switch node.pgn {
	case 0xFEF1:
		// Engine cycling between idle and working load
		load := math.Sin(d.t*0.2) * math.Sin(d.t*0.2)
		vals = map[string]float64{
			"rpm":       850 + 1350*load + rand.Float64()*20,
			"torque":    20 + 70*load,
			"fuel_rate": 6 + 40*load + rand.Float64(),
		}
	case 0xF004:
		speed := 6 + 2*math.Sin(d.t*0.05) + rand.Float64()*0.2
		d.area += speed * 6 / 3600 * d.interval.Seconds() * float64(len(demoNodes)) // 6 m implement
		vals = map[string]float64{
			"velocidade":   speed,
			"area_total":   d.area,
			"profundidade": 25 + 3*math.Sin(d.t*0.3),
		}
	case 0xFEE8:
		vals = map[string]float64{
			"nivel_combustivel": math.Max(5, 90-d.t*0.01),
			"temp_motor":        88 + rand.Float64()*4,
			"pressao_oleo":      320 + rand.Float64()*40,
		}
	}

	def, _ := j1939.Lookup(node.pgn)
	h := j1939.Header{Priority: node.priority, PGN: node.pgn, Source: node.source}
	f := frame.Raw{ID: h.ID(), Extended: true, DLC: frame.MaxLen, Time: now}
	for i := range f.Data {
		f.Data[i] = 0xFF // not available
	}
	for _, p := range def.Params {
		encodeParam(f.Data[:], p, vals[p.Name])
	}
	return f, true, nil
}

// encodeParam is the inverse of the decode table: it writes v into data as
// p.Length little-endian bytes.
func encodeParam(data []byte, p j1939.Param, v float64) {
	raw := math.Round((v - p.Offset) / p.Resolution)
	max := math.Pow(2, float64(8*p.Length)) - 1
	raw = math.Max(0, math.Min(raw, max))
	u := uint32(raw)
	for i := 0; i < p.Length; i++ {
		data[p.Start+i] = byte(u >> (8 * i))
	}
}
