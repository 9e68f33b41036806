package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/moffa90/go-trustm/manifest"
)

// newInspectCmd prints a manifest summary without touching the device.
func newInspectCmd() *cobra.Command {
	var show int
	noop := func(*cobra.Command, []string) error { return nil }

	cmd := &cobra.Command{
		Use:                "inspect <manifest>",
		Short:              "Parse and validate a manifest file offline",
		Args:               cobra.ExactArgs(1),
		PersistentPreRunE:  noop,
		PersistentPostRunE: noop,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.Parse(args[0])
			if err != nil {
				return fmt.Errorf("failed to parse manifest: %w", err)
			}
			if err := m.Validate(); err != nil {
				return fmt.Errorf("invalid manifest: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Manifest Information:\n")
			fmt.Fprintf(out, "  Version:     0x%02X\n", m.Version)
			fmt.Fprintf(out, "  Protection:  %s\n", m.Protection)
			fmt.Fprintf(out, "  Total Rows:  %d\n", len(m.Rows))
			fmt.Fprintln(out)

			n := min(show, len(m.Rows))
			for i, row := range m.Rows[:n] {
				kind := "data"
				if row.Metadata() {
					kind = "metadata"
				}
				fmt.Fprintf(out, "  Row %d: oid=0x%04X mode=0x%02X offset=%d len=%d (%s)\n",
					i, row.OID, row.Mode, row.Offset, len(row.Data), kind)
				preview := row.Data[:min(16, len(row.Data))]
				fmt.Fprintf(out, "    Data: % 02X", preview)
				if len(row.Data) > len(preview) {
					fmt.Fprintf(out, "... (%d more bytes)", len(row.Data)-len(preview))
				}
				fmt.Fprintln(out)
			}
			if len(m.Rows) > n {
				fmt.Fprintf(out, "\n  ... and %d more rows\n", len(m.Rows)-n)
			}

			fmt.Fprintf(out, "\nTotal data: %d bytes\n", m.Bytes())
			return nil
		},
	}
	cmd.Flags().IntVar(&show, "rows", 5, "rows to display")
	return cmd
}
