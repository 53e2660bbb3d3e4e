package source

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/shaunagostinho/agdash/internal/frame"
	"go.bug.st/serial"
)

// SerialGatewayConfig holds configuration for the serial gateway source.
type SerialGatewayConfig struct {
	PortPath string `yaml:"port_path" json:"portPath"`
	BaudRate int    `yaml:"baud_rate" json:"baudRate"`
}

// SerialGateway reads frames from a microcontroller that owns the CAN
// controller and streams each received frame as one JSON line:
//
//	{"pgn":"0xFEF1","data":[16,0,50,0,0,0,0,0],"timestamp":123456,"source":0,"priority":3}
type SerialGateway struct {
	portPath string
	baudRate int

	mu        sync.Mutex
	port      io.ReadCloser
	connected bool
	q         queue
	done      chan struct{}
	bad       int // malformed lines since connect
}

// NewSerialGateway creates a serial gateway source.
func NewSerialGateway(cfg SerialGatewayConfig) *SerialGateway {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	return &SerialGateway{
		portPath: cfg.PortPath,
		baudRate: cfg.BaudRate,
	}
}

func (g *SerialGateway) Name() string { return "Serial gateway (" + g.portPath + ")" }

func (g *SerialGateway) Connect(ctx context.Context) error {
	mode := &serial.Mode{
		BaudRate: g.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(g.portPath, mode)
	if err != nil {
		return fmt.Errorf("gateway: failed to open %s: %w", g.portPath, err)
	}
	if err := port.SetReadTimeout(500 * time.Millisecond); err != nil {
		port.Close()
		return fmt.Errorf("gateway: failed to set timeout: %w", err)
	}
	log.Printf("[source] serial gateway on %s at %d baud", g.portPath, g.baudRate)
	g.attach(port)
	return nil
}

// attach starts reading lines from r.
func (g *SerialGateway) attach(r io.ReadCloser) {
	g.mu.Lock()
	g.port = r
	g.q = make(queue, queueLen)
	g.done = make(chan struct{})
	g.connected = true
	g.bad = 0
	q, done := g.q, g.done
	g.mu.Unlock()

	go g.readLoop(r, q, done)
}

func (g *SerialGateway) readLoop(r io.Reader, q queue, done chan struct{}) {
	defer close(done)
	sc := bufio.NewScanner(r)
	for {
		for sc.Scan() {
			g.handleLine(sc.Text(), q)
		}
		err := sc.Err()

		g.mu.Lock()
		open := g.connected
		// go.bug.st/serial returns 0, nil on read timeout; the scanner gives
		// up after enough of those on an idle bus. Start a fresh one.
		if open && errors.Is(err, io.ErrNoProgress) {
			g.mu.Unlock()
			sc = bufio.NewScanner(r)
			continue
		}
		g.connected = false
		g.mu.Unlock()

		if open {
			if err == nil {
				err = io.EOF
			}
			log.Printf("[source] serial gateway closed: %v", err)
		}
		return
	}
}

func (g *SerialGateway) handleLine(line string, q queue) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") {
		return // boot banner or debug print
	}
	var rec frame.Record
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		g.malformed(line, err)
		return
	}
	f, err := rec.Raw()
	if err != nil {
		g.malformed(line, err)
		return
	}
	// Gateway timestamps count from its boot; stamp on arrival instead.
	f.Time = time.Now()
	q.push(f)
}

func (g *SerialGateway) malformed(line string, err error) {
	g.mu.Lock()
	g.bad++
	n := g.bad
	g.mu.Unlock()
	if n <= 5 {
		log.Printf("[source] serial gateway: bad line %q: %v", line, err)
	}
}

func (g *SerialGateway) Close() error {
	g.mu.Lock()
	port, done := g.port, g.done
	g.port = nil
	g.connected = false
	g.mu.Unlock()
	if port == nil {
		return nil
	}
	err := port.Close()
	<-done
	return err
}

func (g *SerialGateway) IsConnected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

func (g *SerialGateway) Poll() (frame.Raw, bool, error) {
	g.mu.Lock()
	q, ok := g.q, g.connected
	g.mu.Unlock()
	if q == nil {
		return frame.Raw{}, false, ErrNotConnected
	}
	if f, got := q.pop(); got {
		return f, true, nil
	}
	if !ok {
		return frame.Raw{}, false, ErrNotConnected
	}
	return frame.Raw{}, false, nil
}
