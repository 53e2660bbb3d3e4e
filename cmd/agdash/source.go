package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shaunagostinho/agdash/internal/server"
	"github.com/shaunagostinho/agdash/internal/source"
)

// buildSource creates the frame source selected by cfg.CAN.Source.
func buildSource(cfg *server.Config) (source.Provider, error) {
	c := cfg.CAN
	switch c.Source {
	case "mcp2515":
		profile, err := cfg.TimingProfile()
		if err != nil {
			return nil, err
		}
		return source.NewMCP2515(source.MCP2515Config{
			SPIPort: c.SPIPort,
			SpeedHz: c.SPISpeedHz,
			CSPin:   c.CSPin,
			IntPin:  c.IntPin,
			Profile: profile,
		}), nil
	case "serial":
		return source.NewSerialGateway(source.SerialGatewayConfig{
			PortPath: c.SerialPort,
			BaudRate: c.SerialBaud,
		}), nil
	case "socketcan":
		return source.NewSocketCAN(c.Interface), nil
	case "remote":
		return source.NewRemote(source.RemoteConfig{
			URL:      c.RemoteURL,
			Interval: time.Duration(c.RemoteIntervalMs) * time.Millisecond,
		}), nil
	case "demo", "":
		return source.NewDemo(0), nil
	default:
		return nil, fmt.Errorf("unknown CAN source %q", c.Source)
	}
}

// connectWithRetry attempts to connect with exponential backoff.
// Starts at 1s, doubles each attempt up to 60s. A positive maxAttempts
// bounds the attempts; zero retries until ctx is done.
func connectWithRetry(ctx context.Context, p source.Provider, maxAttempts int) error {
	delay := 1 * time.Second
	maxDelay := 60 * time.Second
	attempt := 0

	for {
		err := p.Connect(ctx)
		if err == nil && ctx.Err() != nil {
			// Connected during shutdown; the caller will not use it.
			p.Close()
			return ctx.Err()
		}
		if err == nil {
			log.Printf("[main] %s connected (attempt %d)", p.Name(), attempt+1)
			return nil
		}
		attempt++
		if maxAttempts > 0 && attempt >= maxAttempts {
			return fmt.Errorf("%s: giving up after %d attempts: %w", p.Name(), attempt, err)
		}
		log.Printf("[main] %s connect attempt %d failed: %v (retry in %v)",
			p.Name(), attempt, err, delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
