// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package buddy

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	a, err := New(10, 4)
	require.NoError(t, err)
	assert.Equal(t, 1024, a.Capacity())
	assert.Equal(t, uint(4), a.Level())

	// the arena is seeded as 2^(10-3) blocks of order 3
	assert.Equal(t, 128, a.FreeBlocks(3))
	for k := uint(0); k < 3; k++ {
		assert.Zero(t, a.FreeBlocks(k))
	}

	// level is clamped
	a, err = New(3, 10)
	require.NoError(t, err)
	assert.Equal(t, uint(4), a.Level())
	assert.Equal(t, 1, a.FreeBlocks(3))

	_, err = New(32, 4)
	require.Error(t, err)

	_, err = New(8, 0)
	require.Error(t, err)
}

func TestOrderFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		n    int
		want uint
	}{
		{0, 0}, {1, 0}, {2, 1}, {3, 2}, {4, 2}, {5, 3}, {8, 3}, {9, 4}, {33, 6}, {64, 6},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, OrderFor(tt.n), "OrderFor(%d)", tt.n)
	}
}

func TestAllocateSplit(t *testing.T) {
	t.Parallel()

	a, err := New(4, 5)
	require.NoError(t, err)

	// first order 0 allocation splits the single order 4 block down
	i, err := a.Allocate(0)
	require.NoError(t, err)
	assert.Equal(t, Index(0), i)

	// the split left one free block on every order below the top
	for k := uint(0); k < 4; k++ {
		assert.Equal(t, 1, a.FreeBlocks(k), "order %d", k)
	}

	j, err := a.Allocate(0)
	require.NoError(t, err)
	assert.Equal(t, Index(1), j)

	k, err := a.Allocate(2)
	require.NoError(t, err)
	assert.Equal(t, Index(4), k)
	assert.Zero(t, k%4, "order 2 block must be 2-aligned")
}

func TestAllocateErrors(t *testing.T) {
	t.Parallel()

	a, err := New(3, 3)
	require.NoError(t, err)

	_, err = a.Allocate(3)
	require.ErrorIs(t, err, ErrOrder)

	// 8 slots, order 2 blocks: two of them
	_, err = a.Allocate(2)
	require.NoError(t, err)
	_, err = a.Allocate(2)
	require.NoError(t, err)

	_, err = a.Allocate(0)
	require.ErrorIs(t, err, ErrExhausted)
}

func TestFreeErrors(t *testing.T) {
	t.Parallel()

	a, err := New(4, 3)
	require.NoError(t, err)

	require.ErrorIs(t, a.Free(16), ErrInvalidIndex)
	require.ErrorIs(t, a.Free(0), ErrNotAllocated)

	i, err := a.Allocate(1)
	require.NoError(t, err)

	// inside the block, not its start
	require.ErrorIs(t, a.Free(i+1), ErrNotAllocated)

	require.NoError(t, a.Free(i))
	require.ErrorIs(t, a.Free(i), ErrNotAllocated, "double free")
}

func TestFreeMerge(t *testing.T) {
	t.Parallel()

	a, err := New(4, 5)
	require.NoError(t, err)
	initial := a.Stats()

	var idx []Index
	for range 16 {
		i, err := a.Allocate(0)
		require.NoError(t, err)
		idx = append(idx, i)
	}
	assert.Equal(t, 16, a.Stats().UsedSlots)

	// free the odd ones first, no merge possible
	for _, i := range idx {
		if i%2 == 1 {
			require.NoError(t, a.Free(i))
		}
	}
	assert.Equal(t, 8, a.FreeBlocks(0))

	// now the even ones, everything merges back to one block
	for _, i := range idx {
		if i%2 == 0 {
			require.NoError(t, a.Free(i))
		}
	}
	assert.Equal(t, initial, a.Stats())
}

func TestMergeCeiling(t *testing.T) {
	t.Parallel()

	// level 2: blocks never merge beyond order 1
	a, err := New(3, 2)
	require.NoError(t, err)
	initial := a.Stats()
	assert.Equal(t, 4, a.FreeBlocks(1))

	var idx []Index
	for range 8 {
		i, err := a.Allocate(0)
		require.NoError(t, err)
		idx = append(idx, i)
	}
	for _, i := range idx {
		require.NoError(t, a.Free(i))
	}

	assert.Equal(t, initial, a.Stats())
	assert.Zero(t, a.FreeBlocks(0))
}

func TestRoundTripRandom(t *testing.T) {
	t.Parallel()

	prng := rand.New(rand.NewPCG(42, 42))

	a, err := New(12, 7)
	require.NoError(t, err)
	initial := a.Stats()

	type block struct {
		idx   Index
		order uint
	}

	live := map[Index]block{}
	owner := make([]bool, a.Capacity())

	n := 20_000
	if testing.Short() {
		n = 2_000
	}

	for range n {
		if len(live) > 0 && prng.IntN(3) == 0 {
			// free a random live block
			var victim block
			k := prng.IntN(len(live))
			for _, b := range live {
				if k == 0 {
					victim = b
					break
				}
				k--
			}
			require.NoError(t, a.Free(victim.idx))
			for s := range 1 << victim.order {
				owner[int(victim.idx)+s] = false
			}
			delete(live, victim.idx)
			continue
		}

		order := uint(prng.IntN(7))
		i, err := a.Allocate(order)
		if err != nil {
			require.ErrorIs(t, err, ErrExhausted)
			continue
		}

		require.Zero(t, int(i)%(1<<order), "block %d of order %d not aligned", i, order)
		for s := range 1 << order {
			require.False(t, owner[int(i)+s], "slot %d handed out twice", int(i)+s)
			owner[int(i)+s] = true
		}
		live[i] = block{i, order}
	}

	for _, b := range live {
		require.NoError(t, a.Free(b.idx))
	}

	assert.Equal(t, initial, a.Stats(), "leaked blocks")
}

func TestFreedIndexReusable(t *testing.T) {
	t.Parallel()

	a, err := New(2, 1)
	require.NoError(t, err)

	var idx []Index
	for range 4 {
		i, err := a.Allocate(0)
		require.NoError(t, err)
		idx = append(idx, i)
	}
	_, err = a.Allocate(0)
	require.ErrorIs(t, err, ErrExhausted)

	require.NoError(t, a.Free(idx[2]))

	i, err := a.Allocate(0)
	require.NoError(t, err)
	assert.Equal(t, idx[2], i)
}

func TestStaleStackCompaction(t *testing.T) {
	t.Parallel()

	a, err := New(10, 2)
	require.NoError(t, err)

	// repeated split and merge leaves stale entries on the order 0 stack
	for range 1_000 {
		i, err := a.Allocate(0)
		require.NoError(t, err)
		require.NoError(t, a.Free(i))
	}

	assert.LessOrEqual(t, len(a.free[0].stack), 2*a.free[0].n+64)
	assert.LessOrEqual(t, len(a.free[1].stack), 2*a.free[1].n+64)
	assert.Equal(t, 512, a.FreeBlocks(1))
}
