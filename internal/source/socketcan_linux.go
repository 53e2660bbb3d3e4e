//go:build linux

package source

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/brutella/can"
	"github.com/shaunagostinho/agdash/internal/frame"
)

const (
	canEFFFlag = 0x80000000
	canEFFMask = 0x1FFFFFFF
	canSFFMask = 0x7FF
)

// SocketCAN reads frames from a Linux CAN network interface, e.g. an
// MCP2515 handled by the kernel's mcp251x driver.
type SocketCAN struct {
	iface string

	mu        sync.Mutex
	bus       *can.Bus
	q         queue
	connected bool
}

// NewSocketCAN creates a source for the named interface ("can0").
func NewSocketCAN(iface string) *SocketCAN {
	if iface == "" {
		iface = "can0"
	}
	return &SocketCAN{iface: iface}
}

func (s *SocketCAN) Name() string { return "SocketCAN (" + s.iface + ")" }

func (s *SocketCAN) Connect(ctx context.Context) error {
	bus, err := can.NewBusForInterfaceWithName(s.iface)
	if err != nil {
		return fmt.Errorf("socketcan: open %s: %w", s.iface, err)
	}
	q := make(queue, queueLen)
	bus.SubscribeFunc(func(f can.Frame) {
		q.push(fromSocketCAN(f, time.Now()))
	})

	s.mu.Lock()
	s.bus, s.q, s.connected = bus, q, true
	s.mu.Unlock()

	go func() {
		err := bus.ConnectAndPublish()
		s.mu.Lock()
		was := s.connected
		s.connected = false
		s.mu.Unlock()
		if was && err != nil {
			log.Printf("[source] socketcan %s stopped: %v", s.iface, err)
		}
	}()
	log.Printf("[source] socketcan on %s", s.iface)
	return nil
}

func (s *SocketCAN) Close() error {
	s.mu.Lock()
	bus := s.bus
	s.bus = nil
	s.connected = false
	s.mu.Unlock()
	if bus == nil {
		return nil
	}
	return bus.Disconnect()
}

func (s *SocketCAN) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *SocketCAN) Poll() (frame.Raw, bool, error) {
	s.mu.Lock()
	q, connected := s.q, s.connected
	s.mu.Unlock()
	if q == nil {
		return frame.Raw{}, false, ErrNotConnected
	}
	if f, ok := q.pop(); ok {
		return f, true, nil
	}
	if !connected {
		return frame.Raw{}, false, ErrNotConnected
	}
	return frame.Raw{}, false, nil
}

// fromSocketCAN strips the kernel flag bits from the identifier.
func fromSocketCAN(f can.Frame, t time.Time) frame.Raw {
	r := frame.Raw{
		Extended: f.ID&canEFFFlag != 0,
		DLC:      f.Length,
		Data:     f.Data,
		Time:     t,
	}
	if r.Extended {
		r.ID = f.ID & canEFFMask
	} else {
		r.ID = f.ID & canSFFMask
	}
	if r.DLC > frame.MaxLen {
		r.DLC = frame.MaxLen
	}
	return r
}
