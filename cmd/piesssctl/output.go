package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/jiayi-1994/piesss-binder/pkg/binding"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

func printStructured(w io.Writer, format string, v interface{}) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	}
	return fmt.Errorf("unknown output format %q", format)
}

func printOutcome(w io.Writer, format string, out *binding.Outcome) error {
	if format != outputTable {
		return printStructured(w, format, out)
	}
	if out.State != binding.StateBound || out.VIFDetails == nil {
		_, err := fmt.Fprintf(w, "State: %s\n", out.State)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "State:\t%s\n", out.State)
	fmt.Fprintf(tw, "Segment:\t%s\n", out.SegmentID)
	fmt.Fprintf(tw, "Uplink:\t%s\n", out.VIFDetails.Port)
	fmt.Fprintf(tw, "Address:\t%s\n", out.VIFDetails.IP)
	fmt.Fprintf(tw, "VLAN:\t%d\n", out.VIFDetails.VLAN)
	fmt.Fprintf(tw, "Bandwidth:\t%g Gbps\n", out.VIFDetails.Gbps)
	if out.VIFDetails.VhostUserSocket != "" {
		fmt.Fprintf(tw, "Socket:\t%s (%s)\n", out.VIFDetails.VhostUserSocket, out.VIFDetails.VhostUserMode)
	}
	return tw.Flush()
}

func printUsage(w io.Writer, format string, usage []binding.UplinkUsage) error {
	if format != outputTable {
		if usage == nil {
			usage = []binding.UplinkUsage{}
		}
		return printStructured(w, format, usage)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HOST\tUPLINK\tVLAN\tCOMMITTED\tCAPACITY")
	for _, u := range usage {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%g\t%d\n", u.Host, u.Uplink, u.VLAN, u.CommittedGbps, u.CapacityGbps)
	}
	return tw.Flush()
}
