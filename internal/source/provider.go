// Package source provides the frame sources the dashboard can read from.
package source

import (
	"context"
	"errors"

	"github.com/shaunagostinho/agdash/internal/frame"
)

// Provider is the interface that all frame sources implement.
type Provider interface {
	// Name returns the human-readable name of this source.
	Name() string
	// Connect opens the underlying device and brings it to a receiving state.
	Connect(ctx context.Context) error
	// Close releases the device.
	Close() error
	// IsConnected returns whether the source has an active connection.
	IsConnected() bool
	// Poll returns the next received frame without blocking. ok is false
	// when nothing is pending, which is the normal idle state.
	Poll() (f frame.Raw, ok bool, err error)
}

var (
	ErrNotConnected = errors.New("source: not connected")
	ErrUnsupported  = errors.New("source: not supported on this platform")
)

// queueLen bounds the frames buffered by the goroutine-fed sources.
const queueLen = 256

// queue is the non-blocking hand-off between a reader goroutine and Poll.
type queue chan frame.Raw

func (q queue) push(f frame.Raw) bool {
	select {
	case q <- f:
		return true
	default:
		return false // consumer too slow, drop
	}
}

func (q queue) pop() (frame.Raw, bool) {
	select {
	case f := <-q:
		return f, true
	default:
		return frame.Raw{}, false
	}
}
