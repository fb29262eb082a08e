// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package poptrie

import "github.com/gaissmai/poptrie/internal/buddy"

// Stats is a snapshot of the table internals.
type Stats struct {
	Routes   int `json:"routes"`
	Nexthops int `json:"nexthops"` // referenced next-hop slots
	FIBSize  int `json:"fibSize"`
	RIBNodes int `json:"ribNodes"`

	// dir entries pointing to a node instead of holding a leaf
	DirNodes int `json:"dirNodes"`

	Nodes  ArenaStats `json:"nodes"`
	Leaves ArenaStats `json:"leaves"`
}

// ArenaStats describes the block usage of one arena.
type ArenaStats struct {
	Capacity   int    `json:"capacity"`
	UsedSlots  int    `json:"usedSlots"`
	LiveBlocks int    `json:"liveBlocks"`
	FreeBlocks []int  `json:"freeBlocks"` // per order
	Reclaimed  uint64 `json:"reclaimed"`
}

// Stats returns a snapshot of the table internals.
//
// Stats is a writer side method.
func (t *Table[H]) Stats() Stats {
	s := Stats{
		Routes:   t.rib.Len(),
		Nexthops: t.fib.Len(),
		FIBSize:  t.fib.Cap(),
		RIBNodes: t.rib.Nodes(),
		Nodes:    arenaStats(t.nodes.alloc.Stats(), t.reclaimedNodes),
		Leaves:   arenaStats(t.leaves.alloc.Stats(), t.reclaimedLeafs),
	}

	dir := t.dir.Load()
	for i := range uint32(len(dir)) {
		if !isLeaf(dir.load(i)) {
			s.DirNodes++
		}
	}

	return s
}

func arenaStats(bs buddy.Stats, reclaimed uint64) ArenaStats {
	return ArenaStats{
		Capacity:   bs.Capacity,
		UsedSlots:  bs.UsedSlots,
		LiveBlocks: bs.LiveBlocks,
		FreeBlocks: bs.FreeBlocks,
		Reclaimed:  reclaimed,
	}
}
