// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package poptrie

import (
	"fmt"
	"math/rand/v2"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaissmai/poptrie/internal/golden"
)

func TestGoldenRandomMutations(t *testing.T) {
	t.Parallel()

	prng := rand.New(rand.NewPCG(42, 42))

	tbl := newTable[string](t)
	initial := tbl.Stats()

	gold := new(golden.Table[string])

	n := workLoadN()
	for i := range n {
		pfx := densePrefix(prng)
		h := fmt.Sprintf("nh%d", prng.IntN(8))

		switch prng.IntN(4) {
		case 0, 1:
			err := tbl.InsertPrefix(pfx, h)
			if gold.Insert(pfx, h) {
				require.NoError(t, err, "insert %s", pfx)
			} else {
				require.ErrorIs(t, err, ErrDuplicateRoute, "insert %s", pfx)
			}

		case 2:
			// change an existing route most of the time
			if len(*gold) > 0 && prng.IntN(4) != 0 {
				pfx = (*gold)[prng.IntN(len(*gold))].Pfx
			}
			err := tbl.ChangePrefix(pfx, h)
			if gold.Change(pfx, h) {
				require.NoError(t, err, "change %s", pfx)
			} else {
				require.ErrorIs(t, err, ErrNoSuchRoute, "change %s", pfx)
			}

		case 3:
			if len(*gold) > 0 && prng.IntN(4) != 0 {
				pfx = (*gold)[prng.IntN(len(*gold))].Pfx
			}
			err := tbl.DeletePrefix(pfx)
			if gold.Delete(pfx) {
				require.NoError(t, err, "delete %s", pfx)
			} else {
				require.ErrorIs(t, err, ErrNoSuchRoute, "delete %s", pfx)
			}
		}

		if i%50 == 0 {
			checkGolden(t, tbl, gold, probes(prng, gold, 20))
		}
	}

	checkGolden(t, tbl, gold, probes(prng, gold, 1_000))

	// all routes in sort order
	var got []netip.Prefix
	for pfx, h := range tbl.All() {
		want, ok := gold.Get(pfx)
		require.True(t, ok)
		require.Equal(t, want, h)
		got = append(got, pfx)
	}
	assert.Equal(t, gold.AllSorted(), got)

	// delete everything, nothing may leak
	for _, item := range *gold {
		require.NoError(t, tbl.DeletePrefix(item.Pfx))
	}

	s := tbl.Stats()
	assert.Equal(t, initial.Nodes.UsedSlots, s.Nodes.UsedSlots, "node arena leaks")
	assert.Equal(t, initial.Leaves.UsedSlots, s.Leaves.UsedSlots, "leaf arena leaks")
	assert.Equal(t, initial.Nodes.FreeBlocks, s.Nodes.FreeBlocks)
	assert.Equal(t, initial.Leaves.FreeBlocks, s.Leaves.FreeBlocks)
	assert.Zero(t, s.DirNodes)
	assert.Zero(t, s.Nexthops)
	assert.Equal(t, 1, s.RIBNodes)
}

func TestGoldenUpsert(t *testing.T) {
	t.Parallel()

	prng := rand.New(rand.NewPCG(4711, 42))

	tbl := newTable[string](t)
	gold := new(golden.Table[string])

	for range workLoadN() {
		pfx := densePrefix(prng)
		h := fmt.Sprintf("nh%d", prng.IntN(4))

		require.NoError(t, tbl.UpdatePrefix(pfx, h))
		gold.Upsert(pfx, h)
	}

	checkGolden(t, tbl, gold, probes(prng, gold, 1_000))
}

func TestGoldenRandomSpace(t *testing.T) {
	t.Parallel()

	prng := rand.New(rand.NewPCG(42, 4711))

	tbl := newTable[string](t)
	gold := new(golden.Table[string])

	// sparse prefixes all over the address space
	for range workLoadN() {
		pfx := golden.RandomPrefix(prng)
		h := fmt.Sprintf("nh%d", prng.IntN(16))

		err := tbl.InsertPrefix(pfx, h)
		if gold.Insert(pfx, h) {
			require.NoError(t, err)
		} else {
			require.ErrorIs(t, err, ErrDuplicateRoute)
		}
	}

	checkGolden(t, tbl, gold, probes(prng, gold, 1_000))
}

func TestSharedRunsAreReclaimed(t *testing.T) {
	t.Parallel()

	prng := rand.New(rand.NewPCG(1, 2))

	tbl := newTable[string](t)
	gold := new(golden.Table[string])

	for range workLoadN() {
		pfx := densePrefix(prng)
		if gold.Insert(pfx, "A") {
			require.NoError(t, tbl.InsertPrefix(pfx, "A"))
		}
	}
	before := tbl.Stats()

	// flip every route back and forth, the shape never changes
	for _, item := range *gold {
		require.NoError(t, tbl.ChangePrefix(item.Pfx, "B"))
		require.NoError(t, tbl.ChangePrefix(item.Pfx, "A"))
	}

	after := tbl.Stats()
	assert.Equal(t, before.Nodes.UsedSlots, after.Nodes.UsedSlots)
	assert.Equal(t, before.Leaves.UsedSlots, after.Leaves.UsedSlots)
	assert.Equal(t, before.DirNodes, after.DirNodes)

	checkGolden(t, tbl, gold, probes(prng, gold, 100))
}
