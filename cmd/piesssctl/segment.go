package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jiayi-1994/piesss-binder/pkg/segment"
	"github.com/jiayi-1994/piesss-binder/pkg/types"
)

// segmentFlags describes one segment on the command line.
type segmentFlags struct {
	id              string
	networkType     string
	physicalNetwork string
	segmentationID  int
}

func (f *segmentFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.id, "segment", "", "Segment id")
	cmd.Flags().StringVar(&f.networkType, "network-type", types.NetworkTypePiesss, "Segment network type")
	cmd.Flags().StringVar(&f.physicalNetwork, "physical-network", "", "Physical network label")
	cmd.Flags().IntVar(&f.segmentationID, "segmentation-id", -1, "Segmentation id; unset when negative")
}

func (f *segmentFlags) segment() segment.Segment {
	seg := segment.Segment{
		ID:              f.id,
		NetworkType:     f.networkType,
		PhysicalNetwork: f.physicalNetwork,
	}
	if f.segmentationID >= 0 {
		id := f.segmentationID
		seg.SegmentationID = &id
	}
	return seg
}

func newCheckSegmentCmd(opts *rootOptions) *cobra.Command {
	flags := &segmentFlags{}
	cmd := &cobra.Command{
		Use:   "check-segment",
		Short: "Check whether the binder can bind on a segment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context()
			defer cancel()

			seg := flags.segment()
			ok, err := opts.client().CheckSegment(ctx, seg)
			if err != nil {
				return err
			}
			if ok {
				fmt.Fprintf(cmd.OutOrStdout(), "Segment %s is handled\n", seg)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Segment %s is not handled\n", seg)
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newSegmentCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "segment",
		Short: "Manage provider segments",
	}

	op := func(use, short, done string, call func(*rootOptions, segment.Segment) error) *cobra.Command {
		flags := &segmentFlags{}
		c := &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				seg := flags.segment()
				if err := call(opts, seg); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Segment %s %s\n", seg, done)
				return nil
			},
		}
		flags.register(c)
		return c
	}

	cmd.AddCommand(op("validate", "Validate a provider segment", "is valid", func(o *rootOptions, seg segment.Segment) error {
		ctx, cancel := o.context()
		defer cancel()
		return o.client().ValidateSegment(ctx, seg)
	}))
	cmd.AddCommand(op("reserve", "Reserve a provider segment", "reserved", func(o *rootOptions, seg segment.Segment) error {
		ctx, cancel := o.context()
		defer cancel()
		return o.client().ReserveSegment(ctx, seg)
	}))
	cmd.AddCommand(op("release", "Release a segment", "released", func(o *rootOptions, seg segment.Segment) error {
		ctx, cancel := o.context()
		defer cancel()
		return o.client().ReleaseSegment(ctx, seg)
	}))

	var networkType string
	allocate := &cobra.Command{
		Use:   "allocate-tenant",
		Short: "Allocate a tenant segment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context()
			defer cancel()
			seg, err := opts.client().AllocateTenant(ctx, networkType)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Allocated %s\n", seg)
			return nil
		},
	}
	allocate.Flags().StringVar(&networkType, "network-type", types.NetworkTypePiesss, "Segment network type")
	cmd.AddCommand(allocate)

	return cmd
}
