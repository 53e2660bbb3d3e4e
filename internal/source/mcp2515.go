package source

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/shaunagostinho/agdash/internal/frame"
	"github.com/shaunagostinho/agdash/internal/mcp2515"
)

// MCP2515Config holds the SPI wiring and bus timing for the controller.
type MCP2515Config struct {
	SPIPort string
	SpeedHz int64
	CSPin   string
	IntPin  string
	Profile mcp2515.Profile
}

// MCP2515 reads frames from an MCP2515 controller on the local SPI bus.
type MCP2515 struct {
	cfg MCP2515Config

	mu     sync.Mutex
	dev    *mcp2515.Driver
	closer io.Closer

	// open is replaced in tests.
	open func(mcp2515.PeriphConfig) (mcp2515.HAL, io.Closer, error)
}

// NewMCP2515 creates an MCP2515 source.
func NewMCP2515(cfg MCP2515Config) *MCP2515 {
	if cfg.Profile.Name == "" {
		cfg.Profile = mcp2515.Profile8MHz250k
	}
	return &MCP2515{cfg: cfg, open: mcp2515.OpenPeriph}
}

func (m *MCP2515) Name() string { return "MCP2515 (" + m.cfg.SPIPort + ")" }

// Connect opens SPI and GPIO and runs the controller bring-up sequence.
func (m *MCP2515) Connect(ctx context.Context) error {
	hal, closer, err := m.open(mcp2515.PeriphConfig{
		SPIPort: m.cfg.SPIPort,
		SpeedHz: m.cfg.SpeedHz,
		CSPin:   m.cfg.CSPin,
		IntPin:  m.cfg.IntPin,
	})
	if err != nil {
		return err
	}
	dev := mcp2515.New(hal)
	if err := dev.Init(ctx, m.cfg.Profile); err != nil {
		closer.Close()
		return fmt.Errorf("mcp2515 init: %w", err)
	}
	m.mu.Lock()
	m.dev, m.closer = dev, closer
	m.mu.Unlock()
	log.Printf("[source] mcp2515 on %s (cs=%s int=%s)", m.cfg.SPIPort, m.cfg.CSPin, m.cfg.IntPin)
	return nil
}

func (m *MCP2515) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dev = nil
	if m.closer != nil {
		err := m.closer.Close()
		m.closer = nil
		return err
	}
	return nil
}

func (m *MCP2515) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dev != nil
}

func (m *MCP2515) Poll() (frame.Raw, bool, error) {
	m.mu.Lock()
	dev := m.dev
	m.mu.Unlock()
	if dev == nil {
		return frame.Raw{}, false, ErrNotConnected
	}
	return dev.PollFrame()
}
