package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "agdash",
	Short: "J1939 telemetry dashboard for agricultural equipment",
	Long: `agdash reads J1939 traffic from a tractor's CAN bus (MCP2515 over SPI,
SocketCAN, a serial gateway or a networked gateway), decodes the engine,
implement and fluid PGNs and serves a live dashboard.

Examples:
  agdash serve --demo                        # Dashboard with simulated traffic
  agdash sniff --count 20                    # Print frames from the configured source
  agdash decode 0xFEF1 "10 00 32 00 00"      # Decode one payload offline
  agdash pgns                                # List the decode table`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/agdash/config.yaml", "Path to config file")
	rootCmd.AddCommand(serveCmd, sniffCmd, decodeCmd, pgnsCmd)
}

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.Printf("[main] received %v, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
