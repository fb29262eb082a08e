// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package poptrie

import (
	"fmt"
	"math/rand/v2"
	"net/netip"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// readers must always see the stable routes while a writer churns
// routes in an unrelated region, including dir swaps.
func TestConcurrentLookup(t *testing.T) {
	t.Parallel()

	tbl := newTable[string](t)
	require.NoError(t, tbl.InsertPrefix(mpp("10.0.0.0/8"), "stable"))
	require.NoError(t, tbl.InsertPrefix(mpp("10.1.2.0/24"), "stable24"))
	require.NoError(t, tbl.InsertPrefix(mpp("10.1.2.3/32"), "stable32"))

	// a reader racing a rebuild may see any handle of the table
	known := map[string]bool{"": true, "stable": true, "stable24": true, "stable32": true}
	for i := range 4 {
		known[fmt.Sprintf("churn%d", i)] = true
	}

	var stop atomic.Bool
	var g errgroup.Group

	for r := range 4 {
		g.Go(func() error {
			prng := rand.New(rand.NewPCG(uint64(r), 42))
			for !stop.Load() {
				if h := tbl.Lookup(key("10.0.0.1")); h != "stable" {
					return fmt.Errorf("10.0.0.1: got %q", h)
				}
				if h := tbl.Lookup(key("10.1.2.4")); h != "stable24" {
					return fmt.Errorf("10.1.2.4: got %q", h)
				}
				if h, ok := tbl.Get(mpa("10.1.2.3")); !ok || h != "stable32" {
					return fmt.Errorf("10.1.2.3: got %q", h)
				}

				k := 0xac10_0000 | prng.Uint32()&0x000f_ffff
				if h := tbl.Lookup(k); !known[h] {
					return fmt.Errorf("%#x: got %q", k, h)
				}
			}
			return nil
		})
	}

	prng := rand.New(rand.NewPCG(42, 42))
	for range 10 * workLoadN() {
		// 172.16.0.0/12 and below
		k := 0xac10_0000 | prng.Uint32()&0x000f_ffff
		a := netip.AddrFrom4([4]byte{byte(k >> 24), byte(k >> 16), byte(k >> 8), byte(k)})
		pfx, _ := a.Prefix(12 + prng.IntN(21))
		h := fmt.Sprintf("churn%d", prng.IntN(4))

		if prng.IntN(3) == 0 {
			_ = tbl.DeletePrefix(pfx)
			continue
		}
		require.NoError(t, tbl.UpdatePrefix(pfx, h))
	}

	stop.Store(true)
	require.NoError(t, g.Wait())
}
