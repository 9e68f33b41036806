package main

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/moffa90/go-trustm/protocol"
	"github.com/moffa90/go-trustm/shielded"
)

var errShieldedDisabled = errors.New("shielded channel is not enabled (use --shielded)")

func newEstablishCmd(a *app) *cobra.Command {
	var save bool
	cmd := &cobra.Command{
		Use:   "establish",
		Short: "Run the shielded handshake",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.sched.Channel() == nil {
				return errShieldedDisabled
			}

			ctx, cancel := a.context(cmd)
			defer cancel()
			if err := a.dev.OpenApplication(ctx); err != nil {
				return err
			}
			if err := a.dev.Establish(ctx); err != nil {
				return err
			}
			tx, rx := a.sched.Channel().Sequence()
			fmt.Fprintf(cmd.OutOrStdout(), "session %s (tx=%d rx=%d)\n", a.sched.Channel().State(), tx, rx)

			if save {
				if _, err := a.sched.SessionSave(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "session saved to %s\n", a.cfg.Shielded.ContextStore)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "save the session to the context store")
	return cmd
}

func newSessionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Save or resume a shielded session",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "save",
		Short: "Establish a session and save it to the context store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.sched.Channel() == nil {
				return errShieldedDisabled
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			if a.sched.Channel().State() != shielded.StateEstablished {
				if err := a.dev.Establish(ctx); err != nil {
					return err
				}
			}
			blob, err := a.sched.SessionSave()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %d byte session\n", len(blob))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "resume",
		Short: "Restore the saved session and draw protected random bytes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.sched.Channel() == nil {
				return errShieldedDisabled
			}
			if err := a.sched.SessionRestore(nil); err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			out, err := a.dev.GetRandom(ctx, protocol.ParamRandomDRNG, 8)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session resumed, random %s\n", hex.EncodeToString(out))
			return nil
		},
	})
	return cmd
}
