package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jiayi-1994/piesss-binder/pkg/binding"
	"github.com/jiayi-1994/piesss-binder/pkg/segment"
	"github.com/jiayi-1994/piesss-binder/pkg/types"
	"github.com/jiayi-1994/piesss-binder/pkg/util"
)

func newBindCmd(opts *rootOptions) *cobra.Command {
	var (
		host           string
		segmentID      string
		networkType    string
		segmentationID int
		delegated      string
	)

	cmd := &cobra.Command{
		Use:   "bind PORT",
		Short: "Bind a port on a segment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := binding.BindRequest{
				PortID:   args[0],
				HostID:   host,
				Segments: []segment.Segment{segment.New(segmentID, networkType, segmentationID)},
			}
			if delegated != "" {
				addr, err := util.ParseIPv6(delegated)
				if err != nil {
					return err
				}
				req.DelegatedAddress = addr
			}

			ctx, cancel := opts.context()
			defer cancel()

			out, err := opts.client().Bind(ctx, req)
			if err != nil {
				return fmt.Errorf("failed to bind port %s: %w", args[0], err)
			}
			return printOutcome(cmd.OutOrStdout(), opts.output, out)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Host to bind on (required)")
	cmd.Flags().StringVar(&segmentID, "segment", "", "Segment id (required)")
	cmd.Flags().StringVar(&networkType, "network-type", types.NetworkTypePiesss, "Segment network type")
	cmd.Flags().IntVar(&segmentationID, "segmentation-id", 0, "Segment segmentation id")
	cmd.Flags().StringVar(&delegated, "delegated-address", "", "Delegated IPv6 address; binder default when empty")
	_ = cmd.MarkFlagRequired("host")
	_ = cmd.MarkFlagRequired("segment")
	return cmd
}

func newUnbindCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unbind PORT",
		Short: "Release the bandwidth of a port",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context()
			defer cancel()

			released, err := opts.client().Unbind(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to unbind port %s: %w", args[0], err)
			}
			if released {
				fmt.Fprintf(cmd.OutOrStdout(), "Port %s released\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Port %s held no bandwidth\n", args[0])
			}
			return nil
		},
	}
}

func newAllocationsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "allocations",
		Aliases: []string{"usage"},
		Short:   "Show capacity and committed bandwidth of every uplink",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context()
			defer cancel()

			usage, err := opts.client().Allocations(ctx)
			if err != nil {
				return fmt.Errorf("failed to get allocations: %w", err)
			}
			return printUsage(cmd.OutOrStdout(), opts.output, usage)
		},
	}
}
