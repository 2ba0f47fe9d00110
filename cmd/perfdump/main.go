// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command perfdump prints the raw contents of a perf.data profile.
package main

import (
	"fmt"
	"os"
	"reflect"

	"github.com/spf13/cobra"

	"github.com/go-perfcore/perfcore/perffile"
)

func main() {
	var order string

	cmd := &cobra.Command{
		Use:           "perfdump [file]",
		Short:         "Dump the contents of a perf.data profile",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			input := "perf.data"
			if len(args) == 1 {
				input = args[0]
			}
			ord, ok := parseOrder(order)
			if !ok {
				return fmt.Errorf("unknown order %q; must be one of: file, time, causal", order)
			}
			return dump(cmd, input, ord)
		},
	}
	cmd.Flags().StringVarP(&order, "order", "o", "time", "sort `order`; one of: file, time, causal")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func dump(cmd *cobra.Command, input string, order perffile.RecordsOrder) error {
	f, err := perffile.Open(input)
	if err != nil {
		return err
	}
	defer f.Close()

	cmd.Printf("%+v\n", f)

	cmd.Printf("events:\n")
	for _, event := range f.Events {
		cmd.Printf("  %p=%+v\n", event, *event)
	}

	if f.Meta.BuildIDs != nil {
		cmd.Printf("build IDs:\n")
		for _, bid := range f.Meta.BuildIDs {
			cmd.Printf("  %v\n", bid)
		}
	}

	for _, hdr := range []struct {
		label string
		val   interface{}
	}{
		{"hostname", f.Meta.Hostname},
		{"OS release", f.Meta.OSRelease},
		{"version", f.Meta.Version},
		{"arch", f.Meta.Arch},
		{"CPUs online", f.Meta.CPUsOnline},
		{"CPUs available", f.Meta.CPUsAvail},
		{"CPU desc", f.Meta.CPUDesc},
		{"CPUID", f.Meta.CPUID},
		{"total memory", f.Meta.TotalMem},
		{"cmdline", f.Meta.CmdLine},
		{"core groups", f.Meta.CoreGroups},
		{"thread groups", f.Meta.ThreadGroups},
		{"NUMA nodes", f.Meta.NUMANodes},
		{"PMU mappings", f.Meta.PMUMappings},
		{"groups", f.Meta.Groups},
	} {
		if hdr.val == reflect.Zero(reflect.ValueOf(hdr.val).Type()).Interface() {
			continue
		}
		cmd.Printf("%s: %v\n", hdr.label, hdr.val)
	}

	rs := f.Records(order)
	for rs.Next() {
		cmd.Printf("%v %+v\n", rs.Record.Type(), rs.Record)
	}
	return rs.Err()
}

func parseOrder(order string) (perffile.RecordsOrder, bool) {
	switch order {
	case "file":
		return perffile.RecordsFileOrder, true
	case "time":
		return perffile.RecordsTimeOrder, true
	case "causal":
		return perffile.RecordsCausalOrder, true
	}
	return 0, false
}
