package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/moffa90/go-trustm/protocol"
)

func newRandomCmd(a *app) *cobra.Command {
	var drng bool
	cmd := &cobra.Command{
		Use:   "random <bytes>",
		Short: "Draw 8 to 256 random bytes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid length %q", args[0])
			}
			source := byte(protocol.ParamRandomTRNG)
			if drng {
				source = protocol.ParamRandomDRNG
			}

			ctx, cancel := a.context(cmd)
			defer cancel()
			if err := a.dev.OpenApplication(ctx); err != nil {
				return err
			}
			out, err := a.dev.GetRandom(ctx, source, n)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(out))
			return nil
		},
	}
	cmd.Flags().BoolVar(&drng, "drng", false, "use the deterministic generator")
	return cmd
}

func newReadCmd(a *app) *cobra.Command {
	var (
		offset   int
		length   int
		metadata bool
	)
	cmd := &cobra.Command{
		Use:   "read <oid>",
		Short: "Read a data object (or its metadata) as hex",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			oid, err := parseOID(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := a.context(cmd)
			defer cancel()
			if err := a.dev.OpenApplication(ctx); err != nil {
				return err
			}

			var out []byte
			if metadata {
				out, err = a.dev.ReadMetadata(ctx, oid)
			} else {
				out, err = a.dev.ReadDataAt(ctx, oid, offset, length)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(out))
			return nil
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "start offset")
	cmd.Flags().IntVar(&length, "length", 0, "bytes to read (0 reads to the end)")
	cmd.Flags().BoolVar(&metadata, "metadata", false, "read the object's metadata")
	return cmd
}

func newWriteCmd(a *app) *cobra.Command {
	var (
		offset int
		erase  bool
		file   string
	)
	cmd := &cobra.Command{
		Use:   "write <oid> [hex]",
		Short: "Write hex data (or --file) to a data object",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			oid, err := parseOID(args[0])
			if err != nil {
				return err
			}
			data, err := inputData(args[1:], file)
			if err != nil {
				return err
			}
			if offset < 0 || offset > protocol.MaxPayloadLength {
				return fmt.Errorf("offset %d out of range", offset)
			}
			mode := byte(protocol.ParamWrite)
			if erase {
				mode = protocol.ParamEraseAndWrite
			}

			ctx, cancel := a.context(cmd)
			defer cancel()
			if err := a.dev.OpenApplication(ctx); err != nil {
				return err
			}
			if err := a.dev.WriteData(ctx, oid, mode, uint16(offset), data); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to 0x%04X\n", len(data), oid)
			return nil
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "start offset")
	cmd.Flags().BoolVar(&erase, "erase", false, "erase the object before writing")
	cmd.Flags().StringVar(&file, "file", "", "read raw data from this file ('-' for stdin)")
	return cmd
}

func newHashCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "hash [hex]",
		Short: "SHA-256 of hex data (or --file) computed on the element",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := inputData(args, file)
			if err != nil {
				return err
			}

			ctx, cancel := a.context(cmd)
			defer cancel()
			if err := a.dev.OpenApplication(ctx); err != nil {
				return err
			}
			digest, err := a.dev.Hash(ctx, data)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(digest))
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "read raw data from this file ('-' for stdin)")
	return cmd
}

func newLastErrorCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "last-error",
		Short: "Show the element's last error code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()
			code, err := a.dev.LastError(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "0x%02X %s\n", code, protocol.ErrorCodeName(code))
			return nil
		},
	}
}

func newResetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Reset the element and clear an unresponsive condition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()
			if err := a.sched.Reinitialize(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "element reset")
			return nil
		},
	}
}

func parseOID(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid object id %q", s)
	}
	return uint16(v), nil
}

// inputData takes data from a hex argument or from file, not both.
func inputData(args []string, file string) ([]byte, error) {
	switch {
	case file != "" && len(args) > 0:
		return nil, fmt.Errorf("give either hex data or --file")
	case file == "-":
		return io.ReadAll(os.Stdin)
	case file != "":
		return os.ReadFile(file)
	case len(args) == 0:
		return nil, nil
	}
	data, err := hex.DecodeString(args[0])
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	return data, nil
}
