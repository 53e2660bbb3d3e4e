package mcp2515

import (
	"context"
	"time"
)

// Transferer performs one full-duplex SPI transfer and returns the bytes
// clocked in while w was clocked out.
type Transferer interface {
	Transfer(w []byte) ([]byte, error)
}

// SelectLine drives the active-low chip select.
type SelectLine interface {
	Select(active bool) error
}

// ReadyLine reports the active-low INT output of the controller.
type ReadyLine interface {
	Ready() (bool, error)
}

// HAL is the hardware the driver needs. Sleep and Now may be nil.
type HAL struct {
	Bus   Transferer
	CS    SelectLine
	INT   ReadyLine
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
