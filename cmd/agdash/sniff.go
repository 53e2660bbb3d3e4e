package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/shaunagostinho/agdash/internal/frame"
	"github.com/shaunagostinho/agdash/internal/j1939"
	"github.com/shaunagostinho/agdash/internal/server"
	"github.com/spf13/cobra"
)

var (
	sniffCount int
	sniffRaw   bool
	sniffDemo  bool
)

var sniffCmd = &cobra.Command{
	Use:   "sniff",
	Short: "Print frames from the configured source",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := server.LoadConfig(configPath)
		if sniffDemo {
			cfg.CAN.Source = "demo"
		}
		src, err := buildSource(cfg)
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		if err := connectWithRetry(ctx, src, cfg.CAN.ConnectAttempts); err != nil {
			return err
		}
		defer src.Close()

		hz := cfg.CAN.PollHz
		if hz <= 0 {
			hz = 100
		}
		ticker := time.NewTicker(time.Second / time.Duration(hz))
		defer ticker.Stop()

		out := cmd.OutOrStdout()
		n := 0
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
			for {
				f, ok, err := src.Poll()
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				printFrame(out, f, sniffRaw)
				n++
				if sniffCount > 0 && n >= sniffCount {
					return nil
				}
			}
		}
	},
}

func init() {
	sniffCmd.Flags().IntVar(&sniffCount, "count", 0, "Stop after this many frames (0 = until interrupted)")
	sniffCmd.Flags().BoolVar(&sniffRaw, "raw", false, "Print frames without decoding")
	sniffCmd.Flags().BoolVar(&sniffDemo, "demo", false, "Sniff simulated traffic")
}

// printFrame writes one line per frame:
//
//	12:00:00.000 0CFEF100 [5] 10 00 32 00 00  Motor fuel_rate=0.00 L/h rpm=2.00 RPM torque=50.00 %
func printFrame(w io.Writer, f frame.Raw, raw bool) {
	line := f.Time.Format("15:04:05.000") + " " + f.String()
	if !raw {
		h := f.Header()
		if msg, ok := j1939.Decode(h.PGN, f.Payload()); ok {
			names := make([]string, 0, len(msg.Values))
			for name := range msg.Values {
				names = append(names, name)
			}
			sort.Strings(names)
			parts := []string{msg.Name}
			for _, name := range names {
				v := msg.Values[name]
				parts = append(parts, fmt.Sprintf("%s=%.2f %s", name, v.Value, v.Unit))
			}
			line += "  " + strings.Join(parts, " ")
		}
	}
	fmt.Fprintln(w, line)
}
