// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newBenchCmd(opts *options) *cobra.Command {
	var (
		lookups uint
		seed    uint64
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure the lookup rate with random addresses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tbl, _, err := loadTable(opts, nil)
			if err != nil {
				return err
			}

			// precomputed, the prng must not be measured
			prng := rand.New(rand.NewPCG(seed, seed))
			keys := make([]uint32, 1<<16)
			for i := range keys {
				keys[i] = prng.Uint32()
			}

			workers := max(opts.workers, 1)
			perWorker := int(lookups) / workers

			var (
				g    errgroup.Group
				hits atomic.Int64
			)

			start := time.Now()
			for w := range workers {
				g.Go(func() error {
					n := 0
					for i := range perWorker {
						if tbl.Lookup(keys[(i+w*7919)&(len(keys)-1)]) != "" {
							n++
						}
					}
					hits.Add(int64(n))
					return nil
				})
			}
			_ = g.Wait()
			elapsed := time.Since(start)

			total := perWorker * workers
			rate := float64(total) / elapsed.Seconds()

			log.WithFields(log.Fields{
				"lookups":  total,
				"hits":     hits.Load(),
				"workers":  workers,
				"duration": elapsed,
			}).Debug("bench done")

			fmt.Fprintf(cmd.OutOrStdout(), "%d lookups, %d workers, %v, %.2f Mlps\n",
				total, workers, elapsed.Round(time.Millisecond), rate/1e6)
			return nil
		},
	}

	cmd.Flags().UintVar(&lookups, "lookups", 10_000_000, "total number of lookups")
	cmd.Flags().Uint64Var(&seed, "seed", 42, "prng seed")

	return cmd
}
