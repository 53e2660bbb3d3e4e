//go:build !linux

package source

import (
	"context"

	"github.com/shaunagostinho/agdash/internal/frame"
)

// SocketCAN is only available on Linux.
type SocketCAN struct{ iface string }

func NewSocketCAN(iface string) *SocketCAN { return &SocketCAN{iface: iface} }

func (s *SocketCAN) Name() string                   { return "SocketCAN (" + s.iface + ")" }
func (s *SocketCAN) Connect(context.Context) error  { return ErrUnsupported }
func (s *SocketCAN) Close() error                   { return nil }
func (s *SocketCAN) IsConnected() bool              { return false }
func (s *SocketCAN) Poll() (frame.Raw, bool, error) { return frame.Raw{}, false, ErrNotConnected }
