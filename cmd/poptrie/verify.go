// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gaissmai/poptrie"
	"github.com/gaissmai/poptrie/internal/routefile"
)

// errMismatch is returned when the lookup index and the route trie disagree
var errMismatch = errors.New("lookup mismatch")

func newVerifyCmd(opts *options) *cobra.Command {
	var (
		random uint
		seed   uint64
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the lookup index against the route trie",
		Long: `Looks up the first and last address of every route, their neighbours
and random addresses, in parallel, and compares every answer with the
route trie.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tbl, routes, err := loadTable(opts, nil)
			if err != nil {
				return err
			}

			prng := rand.New(rand.NewPCG(seed, seed))
			keys := probeKeys(routes, int(random), prng)

			start := time.Now()
			if err := verify(cmd.Context(), tbl, keys, opts.workers); err != nil {
				return err
			}

			log.WithFields(log.Fields{
				"probes":   len(keys),
				"workers":  opts.workers,
				"duration": time.Since(start),
			}).Info("verified")
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d routes, %d probes\n", tbl.Len(), len(keys))

			return nil
		},
	}

	cmd.Flags().UintVar(&random, "random", 1_000_000, "random probe addresses")
	cmd.Flags().Uint64Var(&seed, "seed", 42, "prng seed")

	return cmd
}

// probeKeys returns the boundary addresses of all routes and n random ones.
func probeKeys(routes []routefile.Route, n int, prng *rand.Rand) []uint32 {
	keys := make([]uint32, 0, 4*len(routes)+n)
	for _, r := range routes {
		first := toKey(r.Prefix.Addr())
		last := first | ^uint32(0)>>r.Prefix.Bits()
		keys = append(keys, first, last, first-1, last+1)
	}
	for range n {
		keys = append(keys, prng.Uint32())
	}
	return keys
}

// verify compares Lookup and RIBLookup for all keys, split among workers.
// The table must not be modified meanwhile.
func verify(ctx context.Context, tbl *poptrie.Table[string], keys []uint32, workers int) error {
	workers = max(workers, 1)
	chunk := (len(keys) + workers - 1) / workers

	var checked atomic.Int64
	g, ctx := errgroup.WithContext(ctx)

	for lo := 0; lo < len(keys); lo += chunk {
		part := keys[lo:min(lo+chunk, len(keys))]
		g.Go(func() error {
			for i, k := range part {
				if i%4096 == 0 && ctx.Err() != nil {
					return ctx.Err()
				}
				if got, want := tbl.Lookup(k), tbl.RIBLookup(k); got != want {
					return errors.Wrapf(errMismatch, "%s: lookup %q, rib %q", fromKey(k), got, want)
				}
			}
			checked.Add(int64(len(part)))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	log.WithField("checked", checked.Load()).Debug("all workers done")
	return nil
}

func toKey(a netip.Addr) uint32 {
	b := a.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func fromKey(k uint32) netip.Addr {
	return netip.AddrFrom4([4]byte{byte(k >> 24), byte(k >> 16), byte(k >> 8), byte(k)})
}
