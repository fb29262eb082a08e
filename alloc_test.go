// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package poptrie

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// a node arena of four slots, slot 0 reserved, holds exactly
// one /32 below a dir entry: root, child and grandchild
func tinyTable(t *testing.T) *Table[string] {
	t.Helper()
	return newTable[string](t, WithNodeArenaBits(2), WithLeafArenaBits(8))
}

func TestAllocationFailureSlot(t *testing.T) {
	t.Parallel()
	tbl := tinyTable(t)

	require.NoError(t, tbl.InsertPrefix(mpp("10.0.0.1/32"), "A"))
	assert.Equal(t, 4, tbl.Stats().Nodes.UsedSlots)

	before := tbl.Stats()

	err := tbl.InsertPrefix(mpp("192.168.0.1/32"), "B")
	require.ErrorIs(t, err, ErrAllocationFailure)

	// nothing changed, pending blocks are returned
	assert.Equal(t, before, tbl.Stats())
	assert.Equal(t, 1, tbl.Len())
	assert.Equal(t, "", tbl.Lookup(key("192.168.0.1")))
	assert.Equal(t, "A", tbl.Lookup(key("10.0.0.1")))
	assert.Equal(t, "", tbl.Lookup(key("10.0.0.0")))

	// make room and retry
	require.NoError(t, tbl.DeletePrefix(mpp("10.0.0.1/32")))
	require.NoError(t, tbl.InsertPrefix(mpp("192.168.0.1/32"), "B"))

	assert.Equal(t, "B", tbl.Lookup(key("192.168.0.1")))
	assert.Equal(t, "", tbl.Lookup(key("10.0.0.1")))
	assert.Equal(t, 1, tbl.Stats().Nexthops)
}

func TestAllocationFailureDir(t *testing.T) {
	t.Parallel()
	tbl := tinyTable(t)

	require.NoError(t, tbl.InsertPrefix(mpp("192.168.0.1/32"), "B"))
	before := tbl.Stats()

	// the covering route rewrites the leaves below the /32,
	// the new nodes don't fit while the old ones are live
	err := tbl.InsertPrefix(mpp("192.168.0.0/16"), "C")
	require.ErrorIs(t, err, ErrAllocationFailure)

	assert.Equal(t, before, tbl.Stats())
	assert.Equal(t, "", tbl.Lookup(key("192.168.1.1")))
	assert.Equal(t, "", tbl.Lookup(key("192.168.0.0")))
	assert.Equal(t, "B", tbl.Lookup(key("192.168.0.1")))

	_, ok := tbl.Get(mpa("192.168.0.2"))
	assert.False(t, ok)

	// a short route in another region needs no nodes
	require.NoError(t, tbl.InsertPrefix(mpp("10.0.0.0/8"), "C"))
	assert.Equal(t, "C", tbl.Lookup(key("10.1.2.3")))
}

func TestAllocationFailureChange(t *testing.T) {
	t.Parallel()
	tbl := tinyTable(t)

	require.NoError(t, tbl.InsertPrefix(mpp("192.168.0.1/32"), "B"))
	before := tbl.Stats()

	// the new root can't be allocated before the old one is reclaimed
	err := tbl.ChangePrefix(mpp("192.168.0.1/32"), "X")
	require.ErrorIs(t, err, ErrAllocationFailure)

	assert.Equal(t, before, tbl.Stats())
	assert.Equal(t, "B", tbl.Lookup(key("192.168.0.1")))

	// the failed change must not leak its next hop
	assert.Equal(t, 1, tbl.fib.Len())
}
