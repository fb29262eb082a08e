// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newStatsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the table internals as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tbl, _, err := loadTable(opts, nil)
			if err != nil {
				return err
			}

			var json = jsoniter.ConfigCompatibleWithStandardLibrary
			b, err := json.MarshalIndent(tbl.Stats(), "", "  ")
			if err != nil {
				return errors.Wrap(err, "stats")
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}
}
