// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"net/netip"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newLookupCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup ADDR...",
		Short: "Print the next hop of the longest matching route",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addrs := make([]netip.Addr, 0, len(args))
			for _, arg := range args {
				addr, err := netip.ParseAddr(arg)
				if err != nil {
					return errors.Wrap(err, "lookup")
				}
				addrs = append(addrs, addr)
			}

			tbl, _, err := loadTable(opts, nil)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for _, addr := range addrs {
				if h, ok := tbl.Get(addr); ok {
					fmt.Fprintf(w, "%s %s\n", addr, h)
				} else {
					fmt.Fprintf(w, "%s no route\n", addr)
				}
			}
			return nil
		},
	}
}
