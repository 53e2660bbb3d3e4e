package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/shaunagostinho/agdash/internal/j1939"
	"github.com/spf13/cobra"
)

var pgnsCmd = &cobra.Command{
	Use:   "pgns",
	Short: "List the PGNs and parameters the dashboard decodes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PGN\tLABEL\tPARAM\tBYTES\tRESOLUTION\tOFFSET\tUNIT\tRANGE")
		for _, d := range j1939.Definitions() {
			for _, p := range d.Params {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d-%d\t%g\t%g\t%s\t%g..%g\n",
					j1939.FormatPGN(d.PGN), d.Name, p.Name,
					p.Start, p.Start+p.Length-1, p.Resolution, p.Offset, p.Unit, p.Min, p.Max)
			}
		}
		return w.Flush()
	},
}
