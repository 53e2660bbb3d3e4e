// Package mcp2515 drives a Microchip MCP2515 stand-alone CAN controller over
// SPI.
package mcp2515

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/knieriem/can"
	"github.com/shaunagostinho/agdash/internal/frame"
)

var (
	ErrIO                = errors.New("mcp2515: bus i/o failure")
	ErrShortRead         = errors.New("mcp2515: short read")
	ErrInvalidMode       = errors.New("mcp2515: invalid mode")
	ErrNotConfigMode     = errors.New("mcp2515: register is only writable in config mode")
	ErrUnsupportedTiming = errors.New("mcp2515: no timing profile")
	ErrModeTimeout       = errors.New("mcp2515: controller did not enter requested mode")
	ErrNoMsg             = errors.New("mcp2515: no message available")
)

const (
	// ResetSettle is the wait after RESET before registers are valid.
	ResetSettle = 100 * time.Millisecond

	modeAttempts = 10
	modePoll     = 10 * time.Millisecond
)

// Driver owns one controller: its SPI bus, chip select and INT line. All
// register traffic is serialized so that chip-select windows never overlap.
type Driver struct {
	mu    sync.Mutex
	bus   Transferer
	cs    SelectLine
	irq   ReadyLine
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
	mode  Mode
}

// New returns a driver for the controller behind hal. The controller is
// assumed to be in its power-on Config mode until told otherwise.
func New(hal HAL) *Driver {
	d := &Driver{
		bus:   hal.Bus,
		cs:    hal.CS,
		irq:   hal.INT,
		sleep: hal.Sleep,
		now:   hal.Now,
		mode:  ModeConfig,
	}
	if d.sleep == nil {
		d.sleep = sleepCtx
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// Mode returns the mode most recently requested from the controller.
func (d *Driver) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// Init runs the full bring-up: reset, wait for Config mode, bit timing,
// accept-all filters, receive interrupt, Normal mode.
func (d *Driver) Init(ctx context.Context, p Profile) error {
	if err := d.Reset(ctx); err != nil {
		return err
	}
	if err := d.WaitMode(ctx, ModeConfig, modeAttempts); err != nil {
		return err
	}
	if err := d.ApplyProfile(p); err != nil {
		return err
	}
	if err := d.ConfigureFilters(); err != nil {
		return err
	}
	if err := d.WriteRegister(CANINTE, rx0IE); err != nil {
		return err
	}
	if err := d.SetMode(ModeNormal); err != nil {
		return err
	}
	if err := d.WaitMode(ctx, ModeNormal, modeAttempts); err != nil {
		return err
	}
	log.Printf("[mcp2515] ready (%s, %d bit/s)", p.Name, p.Bitrate)
	return nil
}

// Reset sends the RESET instruction and waits ResetSettle. Register access
// before the wait has elapsed is not valid.
func (d *Driver) Reset(ctx context.Context) error {
	d.mu.Lock()
	_, err := d.transact([]byte{cmdReset})
	if err == nil {
		d.mode = ModeConfig
	}
	d.mu.Unlock()
	if err != nil {
		return err
	}
	return d.sleep(ctx, ResetSettle)
}

// WaitMode polls CANSTAT until the controller reports want, giving up after
// attempts reads.
func (d *Driver) WaitMode(ctx context.Context, want Mode, attempts int) error {
	for i := 0; i < attempts; i++ {
		v, err := d.ReadRegister(CANSTAT)
		if err != nil {
			return err
		}
		if got, ok := modeFromBits(v); ok && got == want {
			return nil
		}
		if err := d.sleep(ctx, modePoll); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: %s after %d checks", ErrModeTimeout, want, attempts)
}

// SetMode requests operating mode m.
func (d *Driver) SetMode(m Mode) error {
	v, ok := m.reqop()
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidMode, uint8(m))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.write(CANCTRL, v); err != nil {
		return err
	}
	d.mode = m
	return nil
}

// ConfigureBaudRate enters Config mode and loads the timing profile for the
// given oscillator and bitrate.
func (d *Driver) ConfigureBaudRate(clockHz, bitrate int) error {
	p, err := LookupProfile(clockHz, bitrate)
	if err != nil {
		return err
	}
	return d.ApplyProfile(p)
}

// ApplyProfile enters Config mode and writes CNF1..CNF3 from p.
func (d *Driver) ApplyProfile(p Profile) error {
	if err := d.SetMode(ModeConfig); err != nil {
		return err
	}
	for _, w := range []struct {
		a Addr
		v byte
	}{{CNF1, p.CNF1}, {CNF2, p.CNF2}, {CNF3, p.CNF3}} {
		if err := d.WriteRegister(w.a, w.v); err != nil {
			return err
		}
	}
	return nil
}

// ConfigureFilters turns off acceptance filtering on receive buffer 0; PGN
// selection is done in software after decode. Requires Config mode.
func (d *Driver) ConfigureFilters() error {
	return d.WriteRegister(RXB0CTRL, rxmAny)
}

// ReadRegister reads one register.
func (d *Driver) ReadRegister(a Addr) (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, err := d.transact([]byte{cmdRead, byte(a), 0})
	if err != nil {
		return 0, err
	}
	if len(r) < 3 {
		return 0, fmt.Errorf("%w: register %#02x: got %d of 3 bytes", ErrShortRead, byte(a), len(r))
	}
	return r[2], nil
}

// WriteRegister writes one register. Writing a timing, filter or
// receive-control register outside Config mode is rejected with
// ErrNotConfigMode since the controller would silently ignore it.
func (d *Driver) WriteRegister(a Addr, v byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.write(a, v)
}

// BitModify changes the bits of a selected by mask.
func (d *Driver) BitModify(a Addr, mask, v byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if configOnly(a) && d.mode != ModeConfig {
		return fmt.Errorf("%w: %#02x in %s mode", ErrNotConfigMode, byte(a), d.mode)
	}
	_, err := d.transact([]byte{cmdBitModify, byte(a), mask, v})
	return err
}

// Status reads the quick-poll status byte (READ STATUS instruction).
func (d *Driver) Status() (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, err := d.transact([]byte{cmdReadStat, 0})
	if err != nil {
		return 0, err
	}
	if len(r) < 2 {
		return 0, fmt.Errorf("%w: status: got %d of 2 bytes", ErrShortRead, len(r))
	}
	return r[1], nil
}

// PollFrame returns the frame waiting in receive buffer 0, if the INT line
// says there is one. It never waits: ok is false when nothing is pending.
func (d *Driver) PollFrame() (f frame.Raw, ok bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ready, err := d.irq.Ready()
	if err != nil {
		return frame.Raw{}, false, fmt.Errorf("%w: int line: %w", ErrIO, err)
	}
	if !ready {
		return frame.Raw{}, false, nil
	}
	var m can.Msg
	if err := d.readRx(&m); err != nil {
		return frame.Raw{}, false, err
	}
	if err := d.write(CANINTF, 0); err != nil {
		return frame.Raw{}, false, err
	}
	return frame.FromMsg(&m, d.now()), true, nil
}

// Read fills m with the next pending message, or returns ErrNoMsg.
func (d *Driver) Read(m *can.Msg) error {
	f, ok, err := d.PollFrame()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoMsg
	}
	*m = f.Msg()
	return nil
}

func (d *Driver) readRx(m *can.Msg) error {
	w := make([]byte, 1+rxBufLen)
	w[0] = cmdReadRxB0
	r, err := d.transact(w)
	if err != nil {
		return err
	}
	if len(r) < 1+rxBufLen {
		return fmt.Errorf("%w: rx buffer: got %d of %d bytes", ErrShortRead, len(r)-1, rxBufLen)
	}
	buf := r[1 : 1+rxBufLen]
	id, ext := decodeID(buf)
	m.Flags = 0
	if ext {
		m.Flags = can.ExtFrame
	}
	m.Id = id
	// DLC is the low nibble; the controller never stores more than 8 bytes.
	m.Len = int(buf[4] & 0x0F)
	if m.Len > frame.MaxLen {
		m.Len = frame.MaxLen
	}
	copy(m.Data[:], buf[5:5+m.Len])
	return nil
}

// decodeID assembles the identifier from SIDH, SIDL, EID8 and EID0.
func decodeID(buf []byte) (id uint32, ext bool) {
	if buf[1]&exide != 0 {
		id = uint32(buf[0])<<21 | uint32(buf[1]&(7<<5))<<13 | uint32(buf[1]&3)<<16 | uint32(buf[2])<<8 | uint32(buf[3])
		return id, true
	}
	return uint32(buf[0])<<3 | uint32(buf[1])>>5, false
}

// write is WriteRegister without locking.
func (d *Driver) write(a Addr, v byte) error {
	if configOnly(a) && d.mode != ModeConfig {
		return fmt.Errorf("%w: %#02x in %s mode", ErrNotConfigMode, byte(a), d.mode)
	}
	if _, err := d.transact([]byte{cmdWrite, byte(a), v}); err != nil {
		return err
	}
	if a == CANCTRL {
		if m, ok := modeFromBits(v); ok {
			d.mode = m
		}
	}
	return nil
}

// transact runs one chip-select window. The caller holds d.mu.
func (d *Driver) transact(w []byte) ([]byte, error) {
	if err := d.cs.Select(true); err != nil {
		return nil, fmt.Errorf("%w: select: %w", ErrIO, err)
	}
	r, err := d.bus.Transfer(w)
	if derr := d.cs.Select(false); derr != nil && err == nil {
		err = fmt.Errorf("deselect: %w", derr)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	return r, nil
}
