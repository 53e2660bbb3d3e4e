package mcp2515

import (
	"fmt"
	"io"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// PeriphConfig selects the SPI port and GPIO lines on a Linux board.
type PeriphConfig struct {
	SPIPort string // e.g. "SPI0.0" or "/dev/spidev0.0"; "" picks the first port
	SpeedHz int64
	CSPin   string // e.g. "GPIO8"
	IntPin  string // e.g. "GPIO25"
}

// OpenPeriph opens the SPI port and GPIO lines through periph.io. The
// returned Closer releases the SPI port.
func OpenPeriph(cfg PeriphConfig) (HAL, io.Closer, error) {
	if _, err := host.Init(); err != nil {
		return HAL{}, nil, fmt.Errorf("mcp2515: host init: %w", err)
	}
	if cfg.SpeedHz == 0 {
		cfg.SpeedHz = 10_000_000
	}
	port, err := spireg.Open(cfg.SPIPort)
	if err != nil {
		return HAL{}, nil, fmt.Errorf("mcp2515: open spi %q: %w", cfg.SPIPort, err)
	}
	conn, err := port.Connect(physic.Frequency(cfg.SpeedHz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return HAL{}, nil, fmt.Errorf("mcp2515: configure spi: %w", err)
	}

	cs := gpioreg.ByName(cfg.CSPin)
	if cs == nil {
		port.Close()
		return HAL{}, nil, fmt.Errorf("mcp2515: no gpio %q for chip select", cfg.CSPin)
	}
	if err := cs.Out(gpio.High); err != nil {
		port.Close()
		return HAL{}, nil, fmt.Errorf("mcp2515: chip select %s: %w", cfg.CSPin, err)
	}
	irq := gpioreg.ByName(cfg.IntPin)
	if irq == nil {
		port.Close()
		return HAL{}, nil, fmt.Errorf("mcp2515: no gpio %q for interrupt", cfg.IntPin)
	}
	if err := irq.In(gpio.PullUp, gpio.NoEdge); err != nil {
		port.Close()
		return HAL{}, nil, fmt.Errorf("mcp2515: interrupt %s: %w", cfg.IntPin, err)
	}

	return HAL{
		Bus: spiBus{conn},
		CS:  csLine{cs},
		INT: intLine{irq},
	}, port, nil
}

type spiBus struct{ c spi.Conn }

func (b spiBus) Transfer(w []byte) ([]byte, error) {
	r := make([]byte, len(w))
	if err := b.c.Tx(w, r); err != nil {
		return nil, err
	}
	return r, nil
}

type csLine struct{ p gpio.PinOut }

func (c csLine) Select(active bool) error {
	if active {
		return c.p.Out(gpio.Low)
	}
	return c.p.Out(gpio.High)
}

type intLine struct{ p gpio.PinIn }

func (i intLine) Ready() (bool, error) {
	return i.p.Read() == gpio.Low, nil
}
