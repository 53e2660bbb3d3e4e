package mcp2515

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/knieriem/can"
)

func TestInit(t *testing.T) {
	chip := newFakeChip()
	d := New(chip.hal())
	if err := d.Init(context.Background(), Profile8MHz250k); err != nil {
		t.Fatalf("init: %v", err)
	}
	if d.Mode() != ModeNormal {
		t.Fatalf("mode = %s, want normal", d.Mode())
	}
	checks := []struct {
		a    Addr
		want byte
	}{
		{CNF1, 0x00},
		{CNF2, 0x90},
		{CNF3, 0x02},
		{RXB0CTRL, 0x60},
		{CANINTE, 0x01},
		{CANCTRL, 0x00},
	}
	for _, c := range checks {
		if got := chip.reg(c.a); got != c.want {
			t.Errorf("reg %#02x = %#02x, want %#02x", byte(c.a), got, c.want)
		}
	}
	if chip.txns[0][0] != cmdReset {
		t.Errorf("first instruction = %#02x, want RESET", chip.txns[0][0])
	}
}

func TestInitWaitsForConfigMode(t *testing.T) {
	chip := newFakeChip()
	chip.modeLag = 3
	d := New(chip.hal())
	if err := d.Init(context.Background(), Profile8MHz250k); err != nil {
		t.Fatalf("init: %v", err)
	}
}

func TestInitGivesUp(t *testing.T) {
	chip := newFakeChip()
	chip.modeLag = 1000
	d := New(chip.hal())
	err := d.Init(context.Background(), Profile8MHz250k)
	if !errors.Is(err, ErrModeTimeout) {
		t.Fatalf("err = %v, want ErrModeTimeout", err)
	}
}

func TestResetHonoursCancel(t *testing.T) {
	chip := newFakeChip()
	d := New(chip.hal())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Reset(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestBaudRateThenNormal(t *testing.T) {
	chip := newFakeChip()
	d := New(chip.hal())
	if err := d.SetMode(ModeNormal); err != nil {
		t.Fatal(err)
	}
	if err := d.ConfigureBaudRate(8_000_000, 250_000); err != nil {
		t.Fatalf("baud: %v", err)
	}
	if d.Mode() != ModeConfig {
		t.Fatalf("mode after baud = %s, want config", d.Mode())
	}
	if err := d.SetMode(ModeNormal); err != nil {
		t.Fatal(err)
	}
	if d.Mode() != ModeNormal {
		t.Fatalf("mode = %s, want normal", d.Mode())
	}
	if got := chip.reg(CANCTRL) & reqopMask; got != 0x00 {
		t.Fatalf("CANCTRL reqop = %#02x, want normal", got)
	}
	if chip.reg(CNF2) != 0x90 {
		t.Fatalf("CNF2 = %#02x", chip.reg(CNF2))
	}
}

func TestConfigureBaudRateUnsupported(t *testing.T) {
	d := New(newFakeChip().hal())
	err := d.ConfigureBaudRate(16_000_000, 500_000)
	if !errors.Is(err, ErrUnsupportedTiming) {
		t.Fatalf("err = %v", err)
	}
}

func TestSetModeEncoding(t *testing.T) {
	tests := []struct {
		m    Mode
		want byte
	}{
		{ModeNormal, 0x00},
		{ModeSleep, 0x20},
		{ModeLoopback, 0x40},
		{ModeListen, 0x60},
		{ModeConfig, 0x80},
	}
	chip := newFakeChip()
	d := New(chip.hal())
	for _, tt := range tests {
		if err := d.SetMode(tt.m); err != nil {
			t.Fatalf("SetMode(%s): %v", tt.m, err)
		}
		last := chip.txns[len(chip.txns)-1]
		if last[0] != cmdWrite || Addr(last[1]) != CANCTRL || last[2] != tt.want {
			t.Errorf("SetMode(%s) sent % X", tt.m, last)
		}
		if d.Mode() != tt.m {
			t.Errorf("Mode() = %s, want %s", d.Mode(), tt.m)
		}
	}
}

func TestSetModeInvalid(t *testing.T) {
	chip := newFakeChip()
	d := New(chip.hal())
	n := len(chip.txns)
	if err := d.SetMode(Mode(9)); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("err = %v, want ErrInvalidMode", err)
	}
	if len(chip.txns) != n {
		t.Fatal("invalid mode reached the bus")
	}
	if _, err := ParseMode("turbo"); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("ParseMode err = %v", err)
	}
	if m, err := ParseMode("listen"); err != nil || m != ModeListen {
		t.Fatalf("ParseMode(listen) = %v, %v", m, err)
	}
}

func TestConfigRegistersGuarded(t *testing.T) {
	chip := newFakeChip()
	d := New(chip.hal())
	if err := d.SetMode(ModeNormal); err != nil {
		t.Fatal(err)
	}
	for _, a := range []Addr{CNF1, CNF2, CNF3, RXB0CTRL, RXM0SIDH, RXF0SIDH} {
		if err := d.WriteRegister(a, 0x55); !errors.Is(err, ErrNotConfigMode) {
			t.Errorf("write %#02x in normal mode: err = %v", byte(a), err)
		}
	}
	if err := d.ConfigureFilters(); !errors.Is(err, ErrNotConfigMode) {
		t.Errorf("ConfigureFilters in normal mode: err = %v", err)
	}
	if err := d.BitModify(CNF3, 0x07, 0x02); !errors.Is(err, ErrNotConfigMode) {
		t.Errorf("BitModify CNF3 in normal mode: err = %v", err)
	}
	if err := d.WriteRegister(CANINTF, 0); err != nil {
		t.Errorf("CANINTF write: %v", err)
	}
}

func TestReadWriteRegisterFraming(t *testing.T) {
	chip := newFakeChip()
	d := New(chip.hal())
	if err := d.WriteRegister(CNF1, 0x41); err != nil {
		t.Fatal(err)
	}
	v, err := d.ReadRegister(CNF1)
	if err != nil || v != 0x41 {
		t.Fatalf("read = %#02x, %v", v, err)
	}
	w := chip.txns[len(chip.txns)-2]
	r := chip.txns[len(chip.txns)-1]
	if len(w) != 3 || w[0] != 0x02 || w[1] != 0x2A || w[2] != 0x41 {
		t.Errorf("write frame = % X", w)
	}
	if len(r) != 3 || r[0] != 0x03 || r[1] != 0x2A {
		t.Errorf("read frame = % X", r)
	}
	if err := d.BitModify(CNF1, 0x0F, 0x02); err != nil {
		t.Fatal(err)
	}
	if got := chip.reg(CNF1); got != 0x42 {
		t.Errorf("after bit modify CNF1 = %#02x, want 0x42", got)
	}
}

func TestPollFrameNone(t *testing.T) {
	chip := newFakeChip()
	d := New(chip.hal())
	_, ok, err := d.PollFrame()
	if err != nil || ok {
		t.Fatalf("PollFrame = %v, %v; want no frame", ok, err)
	}
	if len(chip.txns) != 0 {
		t.Fatalf("idle poll touched the bus: %d transfers", len(chip.txns))
	}
	var m can.Msg
	if err := d.Read(&m); !errors.Is(err, ErrNoMsg) {
		t.Fatalf("Read err = %v", err)
	}
}

func TestPollFrameExtended(t *testing.T) {
	chip := newFakeChip()
	d := New(chip.hal())
	// 0x0CFEF100: SIDH=0x67, SIDL=0xEA (SID2:0=7, EXIDE, EID17:16=2), EID8=0xF1, EID0=0x00.
	chip.loadRx(0x67, 0xEA, 0xF1, 0x00, 0x08, 0x10, 0x00, 0x32, 0x00, 0x00, 0, 0, 0)
	f, ok, err := d.PollFrame()
	if err != nil || !ok {
		t.Fatalf("PollFrame = %v, %v", ok, err)
	}
	if f.ID != 0x0CFEF100 || !f.Extended {
		t.Fatalf("id = %#x ext=%v", f.ID, f.Extended)
	}
	h := f.Header()
	if h.PGN != 0xFEF1 || h.Priority != 3 || h.Source != 0 {
		t.Fatalf("header = %+v", h)
	}
	if p := f.Payload(); len(p) != 8 || p[0] != 0x10 || p[2] != 0x32 {
		t.Fatalf("payload = % X", p)
	}
	if f.Time.Unix() != 1700000000 {
		t.Fatalf("time = %v", f.Time)
	}
	if chip.reg(CANINTF) != 0 {
		t.Fatal("CANINTF not cleared")
	}
	last := chip.txns[len(chip.txns)-1]
	if last[0] != cmdWrite || Addr(last[1]) != CANINTF || last[2] != 0 {
		t.Fatalf("last transfer = % X, want CANINTF clear", last)
	}
}

func TestPollFrameStandardID(t *testing.T) {
	chip := newFakeChip()
	d := New(chip.hal())
	// 0x123 standard: SIDH=0x24, SIDL=0x60.
	chip.loadRx(0x24, 0x60, 0, 0, 0x02, 0xAA, 0xBB)
	f, ok, err := d.PollFrame()
	if err != nil || !ok {
		t.Fatalf("PollFrame = %v, %v", ok, err)
	}
	if f.ID != 0x123 || f.Extended || f.DLC != 2 {
		t.Fatalf("frame = %+v", f)
	}
}

func TestPollFrameClampsDLC(t *testing.T) {
	chip := newFakeChip()
	d := New(chip.hal())
	chip.loadRx(0x67, 0xEA, 0xF1, 0x00, 0x4F, 1, 2, 3, 4, 5, 6, 7, 8)
	f, _, err := d.PollFrame()
	if err != nil {
		t.Fatal(err)
	}
	if f.DLC != 8 || len(f.Payload()) != 8 {
		t.Fatalf("DLC = %d", f.DLC)
	}
}

func TestPollFrameShortRead(t *testing.T) {
	chip := newFakeChip()
	chip.truncate = 10
	d := New(chip.hal())
	chip.loadRx(0x67, 0xEA, 0xF1, 0x00, 0x08)
	_, ok, err := d.PollFrame()
	if !errors.Is(err, ErrShortRead) || ok {
		t.Fatalf("PollFrame = %v, %v; want ErrShortRead", ok, err)
	}
	if _, err := d.ReadRegister(CNF1); err != nil {
		t.Fatalf("3-byte read should survive truncate=10: %v", err)
	}
}

func TestIOFailures(t *testing.T) {
	boom := errors.New("boom")

	chip := newFakeChip()
	chip.failBus = boom
	d := New(chip.hal())
	if _, err := d.ReadRegister(CANSTAT); !errors.Is(err, ErrIO) || !errors.Is(err, boom) {
		t.Errorf("bus failure: err = %v", err)
	}
	if chip.selected {
		t.Error("chip select left asserted after failed transfer")
	}

	chip = newFakeChip()
	chip.failCS = boom
	d = New(chip.hal())
	if err := d.SetMode(ModeNormal); !errors.Is(err, ErrIO) {
		t.Errorf("cs failure: err = %v", err)
	}
	if d.Mode() != ModeConfig {
		t.Errorf("mode changed despite failed write: %s", d.Mode())
	}

	chip = newFakeChip()
	chip.failINT = boom
	d = New(chip.hal())
	if _, _, err := d.PollFrame(); !errors.Is(err, ErrIO) {
		t.Errorf("int failure: err = %v", err)
	}
}

func TestStatus(t *testing.T) {
	chip := newFakeChip()
	d := New(chip.hal())
	chip.loadRx(0, 0, 0, 0, 0)
	st, err := d.Status()
	if err != nil || st&rx0IE == 0 {
		t.Fatalf("status = %#02x, %v", st, err)
	}
}

func TestConcurrentAccessDoesNotInterleave(t *testing.T) {
	chip := newFakeChip()
	d := New(chip.hal())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if err := d.WriteRegister(CANINTE, byte(i)); err != nil {
					t.Error(err)
					return
				}
				if _, err := d.ReadRegister(CANSTAT); err != nil {
					t.Error(err)
					return
				}
				if _, _, err := d.PollFrame(); err != nil {
					t.Error(err)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	if chip.overlaps != 0 {
		t.Fatalf("%d overlapping chip-select windows", chip.overlaps)
	}
}

func TestLookupProfile(t *testing.T) {
	p, err := LookupProfile(8_000_000, 250_000)
	if err != nil || p.Name != "j1939-8mhz-250k" {
		t.Fatalf("LookupProfile = %+v, %v", p, err)
	}
	if _, ok := ProfileByName("j1939-8mhz-250k"); !ok {
		t.Fatal("ProfileByName failed")
	}
}
