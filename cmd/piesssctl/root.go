package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jiayi-1994/piesss-binder/pkg/server"
	"github.com/jiayi-1994/piesss-binder/pkg/types"
)

type rootOptions struct {
	socket  string
	output  string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "piesssctl",
		Short:         "piesss binder client",
		Long:          "Command line interface to the piesss-binder binding API",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch opts.output {
			case outputTable, outputJSON, outputYAML:
				return nil
			default:
				return fmt.Errorf("unknown output format %q (must be table, json or yaml)", opts.output)
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.socket, "socket", types.DefaultSocketPath,
		"Binding API socket path")
	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", outputTable,
		"Output format: table, json or yaml")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second,
		"Request timeout")

	cmd.AddCommand(newBindCmd(opts))
	cmd.AddCommand(newUnbindCmd(opts))
	cmd.AddCommand(newCheckSegmentCmd(opts))
	cmd.AddCommand(newSegmentCmd(opts))
	cmd.AddCommand(newAllocationsCmd(opts))
	return cmd
}

func (o *rootOptions) client() *server.Client {
	return server.NewClient(o.socket)
}

func (o *rootOptions) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), o.timeout)
}
