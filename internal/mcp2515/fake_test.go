package mcp2515

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeChip emulates the register file and SPI instruction set closely enough
// to exercise the driver.
type fakeChip struct {
	mu       sync.Mutex
	regs     [0x80]byte
	selected bool
	overlaps int
	txns     [][]byte

	// modeLag delays CANSTAT following CANCTRL by this many reads.
	modeLag  int
	lagLeft  int
	truncate int // if > 0, responses are cut to this many bytes
	failBus  error
	failCS   error
	failINT  error
}

func newFakeChip() *fakeChip {
	c := &fakeChip{}
	c.reset()
	return c
}

func (c *fakeChip) reset() {
	c.regs = [0x80]byte{}
	c.regs[CANCTRL] = 0x87
	c.lagLeft = c.modeLag
}

func (c *fakeChip) hal() HAL {
	return HAL{
		Bus:   c,
		CS:    c,
		INT:   c,
		Sleep: func(ctx context.Context, d time.Duration) error { return ctx.Err() },
		Now:   func() time.Time { return time.Unix(1700000000, 0) },
	}
}

func (c *fakeChip) Select(active bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failCS != nil {
		return c.failCS
	}
	if active && c.selected {
		c.overlaps++
	}
	c.selected = active
	return nil
}

func (c *fakeChip) Ready() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failINT != nil {
		return false, c.failINT
	}
	return c.regs[CANINTF]&rx0IE != 0, nil
}

func (c *fakeChip) Transfer(w []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failBus != nil {
		return nil, c.failBus
	}
	if !c.selected {
		return nil, errors.New("transfer without chip select")
	}
	c.txns = append(c.txns, append([]byte(nil), w...))
	r := make([]byte, len(w))
	switch w[0] {
	case cmdReset:
		c.reset()
	case cmdRead:
		a := w[1]
		for i := 2; i < len(w); i++ {
			r[i] = c.readReg(Addr(a))
			a++
		}
	case cmdWrite:
		a := w[1]
		for _, v := range w[2:] {
			c.regs[a&0x7F] = v
			a++
		}
		c.lagLeft = c.modeLag
	case cmdBitModify:
		a, mask, v := w[1]&0x7F, w[2], w[3]
		c.regs[a] = c.regs[a]&^mask | v&mask
	case cmdReadStat:
		r[1] = c.regs[CANINTF] & (rx0IE | rx1IE)
	case cmdReadRxB0:
		copy(r[1:], c.regs[RXB0SIDH:RXB0SIDH+rxBufLen])
	}
	if c.truncate > 0 && len(r) > c.truncate {
		r = r[:c.truncate]
	}
	return r, nil
}

func (c *fakeChip) readReg(a Addr) byte {
	if a == CANSTAT {
		if c.lagLeft > 0 {
			c.lagLeft--
			return 0xE0 // an invalid OPMOD value
		}
		return c.regs[CANCTRL] & reqopMask
	}
	return c.regs[a&0x7F]
}

// loadRx places a frame in receive buffer 0 and raises RX0IF.
func (c *fakeChip) loadRx(sidh, sidl, eid8, eid0, dlc byte, data ...byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.regs[RXB0SIDH:]
	b[0], b[1], b[2], b[3], b[4] = sidh, sidl, eid8, eid0, dlc
	copy(b[5:13], data)
	c.regs[CANINTF] |= rx0IE
}

func (c *fakeChip) reg(a Addr) byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regs[a]
}
