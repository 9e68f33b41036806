package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/moffa90/go-trustm/manifest"
	"github.com/moffa90/go-trustm/trustm"
)

func newProvisionCmd(a *app) *cobra.Command {
	var noVerify bool
	cmd := &cobra.Command{
		Use:   "provision <manifest>",
		Short: "Write the data objects listed in a manifest file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.Parse(args[0])
			if err != nil {
				return fmt.Errorf("failed to parse manifest: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Manifest: %d rows, %d bytes, protection %s\n", len(m.Rows), m.Bytes(), m.Protection)

			lastPhase := ""
			dev := trustm.New(a.sched,
				trustm.WithLogger(a.logger.With("component", "provision")),
				trustm.WithVerifyAfterWrite(!noVerify),
				trustm.WithProgressCallback(func(p trustm.Progress) {
					if p.Phase != lastPhase {
						fmt.Fprintf(out, "\n[%s]\n", p.Phase)
						lastPhase = p.Phase
					}
					if p.Phase == trustm.PhaseWriting {
						fmt.Fprintf(out, "\r  %5.1f%%  row %d/%d  %d bytes", p.Percentage, p.CurrentRow+1, p.TotalRows, p.BytesWritten)
					}
				}),
			)

			ctx, cancel := a.context(cmd)
			defer cancel()
			if err := dev.Provision(ctx, m); err != nil {
				fmt.Fprintln(out)
				return fmt.Errorf("provisioning failed: %w", err)
			}
			fmt.Fprintln(out, "\nProvisioning complete")
			return nil
		},
	}
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "skip read-back verification")
	return cmd
}
