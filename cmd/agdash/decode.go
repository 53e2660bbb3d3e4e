package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/shaunagostinho/agdash/internal/frame"
	"github.com/shaunagostinho/agdash/internal/j1939"
	"github.com/spf13/cobra"
)

var decodeCmd = &cobra.Command{
	Use:   "decode <pgn> <hex bytes>",
	Short: "Decode one payload with the PGN table",
	Example: `  agdash decode 0xFEF1 "10 00 32 00 00"
  agdash decode 65265 100032`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pgn, err := j1939.ParsePGN(args[0])
		if err != nil {
			return err
		}
		payload, err := parseHexBytes(args[1])
		if err != nil {
			return err
		}
		msg, ok := j1939.Decode(pgn, payload)
		if !ok {
			return fmt.Errorf("no decoder for %s", j1939.FormatPGN(pgn))
		}
		for _, e := range msg.Skipped {
			fmt.Fprintln(os.Stderr, "warning:", e)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(msg)
	},
}

// parseHexBytes accepts "10 00 32", "10:00:32" or "100032".
func parseHexBytes(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ":", "", ",", "", "0x", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("bad payload: %w", err)
	}
	if len(b) > frame.MaxLen {
		return nil, fmt.Errorf("bad payload: %d bytes: %w", len(b), frame.ErrInvalidLen)
	}
	return b, nil
}
