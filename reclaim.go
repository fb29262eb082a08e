// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package poptrie

import (
	"math/bits"

	"github.com/gaissmai/poptrie/internal/buddy"
)

// reclaimEntry frees everything below the replaced dir entry old that
// the new entry cur does not share.
func (t *Table[H]) reclaimEntry(old, cur uint32) {
	if old == cur || isLeaf(old) {
		return
	}

	var curRec record
	hasCur := !isLeaf(cur)
	if hasCur {
		curRec = t.nodes.load(cur)
	}

	t.reclaimNode(t.nodes.load(old), curRec, hasCur)
	t.free(block{kind: nodeKind, idx: buddy.Index(old)}, true)
}

// reclaimNode diffs the old node against its replacement cur, slot by
// slot. Runs are shared only as a whole, a shared base means the run and
// everything below it is still referenced.
func (t *Table[H]) reclaimNode(old, cur record, hasCur bool) {
	if hasCur && old == cur {
		return
	}

	if old.vector != 0 && !(hasCur && cur.base1 == old.base1) {
		for v := old.vector; v != 0; v &= v - 1 {
			s := uint32(bits.TrailingZeros64(v))
			oc := t.nodes.load(old.base1 + uint32(rank(old.vector, s)) - 1)

			var nc record
			ok := hasCur && cur.vector&(1<<s) != 0
			if ok {
				nc = t.nodes.load(cur.base1 + uint32(rank(cur.vector, s)) - 1)
			}
			t.reclaimNode(oc, nc, ok)
		}
		t.free(block{kind: nodeKind, idx: buddy.Index(old.base1)}, true)
	}

	if old.leafvec != 0 && !(hasCur && cur.base0 == old.base0) {
		t.free(block{kind: leafKind, idx: buddy.Index(old.base0)}, true)
	}
}
