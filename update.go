// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package poptrie

import (
	"github.com/pkg/errors"

	"github.com/gaissmai/poptrie/internal/buddy"
	"github.com/gaissmai/poptrie/internal/fib"
	"github.com/gaissmai/poptrie/internal/rib"
)

type arenaKind uint8

const (
	nodeKind arenaKind = iota
	leafKind
)

func (k arenaKind) String() string {
	if k == nodeKind {
		return "node"
	}
	return "leaf"
}

// block is an allocated run in one of the arenas.
type block struct {
	kind arenaKind
	idx  buddy.Index
}

// built is a rebuilt subtree, either a single uniform leaf or a node.
type built struct {
	rec    record
	leaf   fib.Index
	isLeaf bool
}

// update rebuilds the part of the lookup structure affected by m and
// publishes it. On error all blocks allocated so far are returned and
// nothing is published.
func (t *Table[H]) update(m *rib.Mutation) error {
	t.pending = t.pending[:0]

	var err error
	if m.Length < dirBits {
		err = t.updateDir(m)
	} else {
		err = t.updateSlot(m)
	}

	if err != nil {
		for _, b := range t.pending {
			t.free(b, false)
		}
	}
	t.pending = t.pending[:0]

	return err
}

// updateSlot handles routes of length >= dirBits, they live below
// exactly one dir entry, published with a single atomic store.
func (t *Table[H]) updateSlot(m *rib.Mutation) error {
	dir := t.dir.Load()
	i := m.Prefix >> (keyBits - dirBits)

	old := dir.load(i)
	entry, err := t.buildEntry(m.Path(dirBits), old)
	if err != nil {
		return err
	}
	if entry == old {
		return nil
	}

	dir.store(i, entry)
	t.reclaimEntry(old, entry)

	return nil
}

// updateDir handles routes shorter than dirBits. Every dir entry covered
// by the route is rebuilt into the scratch table, then the tables are
// swapped.
func (t *Table[H]) updateDir(m *rib.Mutation) error {
	live := t.dir.Load()
	alt := t.alt

	for i := range uint32(len(alt)) {
		alt.store(i, live.load(i))
	}

	if err := t.fillDir(alt, live, m.Node, m.Length, m.Prefix, fib.NoRoute); err != nil {
		return err
	}

	t.dir.Store(alt)
	t.alt = live

	lo := m.Prefix >> (keyBits - dirBits)
	hi := lo + 1<<(dirBits-m.Length)
	for i := lo; i < hi; i++ {
		if old, cur := live.load(i), alt.load(i); old != cur {
			t.reclaimEntry(old, cur)
		}
	}

	return nil
}

// fillDir writes the dir entries below the trie node tn at depth.
// Clean subtrees keep the entries copied from the live table.
func (t *Table[H]) fillDir(alt, live *dirTable, tn rib.NodeID, depth uint8, key uint32, cover fib.Index) error {
	if tn != rib.Nil {
		cover = t.rib.Cover(tn)
	}

	if depth == dirBits {
		i := key >> (keyBits - dirBits)
		switch {
		case !t.rib.HasChildren(tn):
			alt.store(i, leafFlag|uint32(cover))
		case t.rib.Dirty(tn):
			entry, err := t.buildEntry(tn, live.load(i))
			if err != nil {
				return err
			}
			alt.store(i, entry)
		}
		return nil
	}

	if tn == rib.Nil {
		lo := key >> (keyBits - dirBits)
		for i := lo; i < lo+1<<(dirBits-depth); i++ {
			alt.store(i, leafFlag|uint32(cover))
		}
		return nil
	}

	if !t.rib.Dirty(tn) {
		return nil
	}

	left, right := t.rib.Children(tn)
	if err := t.fillDir(alt, live, left, depth+1, key, cover); err != nil {
		return err
	}
	return t.fillDir(alt, live, right, depth+1, key|1<<(keyBits-1-depth), cover)
}

// buildEntry returns the dir entry for the trie node tn at depth dirBits,
// old is the current entry. An unchanged root keeps its block.
func (t *Table[H]) buildEntry(tn rib.NodeID, old uint32) (uint32, error) {
	if !t.rib.HasChildren(tn) {
		return leafFlag | uint32(t.rib.Cover(tn)), nil
	}

	var oldRec record
	hasOld := !isLeaf(old)
	if hasOld {
		oldRec = t.nodes.load(old)
	}

	b, err := t.build(tn, oldRec, hasOld)
	if err != nil {
		return 0, err
	}
	if b.isLeaf {
		return leafFlag | uint32(b.leaf), nil
	}
	if hasOld && b.rec == oldRec {
		return old, nil
	}

	i, err := t.allocate(nodeKind, 1)
	if err != nil {
		return 0, err
	}
	t.nodes.store(i, b.rec)

	return i, nil
}

// build compresses the six trie levels below tn into one node and
// recurses into the slots whose subtree changed. Clean slots are taken
// over from old.
func (t *Table[H]) build(tn rib.NodeID, old record, hasOld bool) (built, error) {
	var (
		tnodes [fanout]rib.NodeID
		covers [fanout]fib.Index
	)
	t.flatten(tn, &tnodes, &covers)

	var (
		vector, leafvec uint64
		children        [fanout]record
		leaves          [fanout]fib.Index
		nvec, nleaf     int
		prev            fib.Index
	)

	for s := range uint32(fanout) {
		c := tnodes[s]
		oldInternal := hasOld && old.vector&(1<<s) != 0

		var leaf fib.Index
		switch {
		case !t.rib.HasChildren(c):
			leaf = covers[s]

		case hasOld && !t.rib.Dirty(c):
			if oldInternal {
				children[nvec] = t.nodes.load(old.base1 + uint32(rank(old.vector, s)) - 1)
				vector |= 1 << s
				nvec++
				continue
			}
			leaf = t.leaves.load(old.base0 + uint32(rank(old.leafvec, s)) - 1)

		default:
			var oldChild record
			if oldInternal {
				oldChild = t.nodes.load(old.base1 + uint32(rank(old.vector, s)) - 1)
			}
			b, err := t.build(c, oldChild, oldInternal)
			if err != nil {
				return built{}, err
			}
			if !b.isLeaf {
				children[nvec] = b.rec
				vector |= 1 << s
				nvec++
				continue
			}
			leaf = b.leaf
		}

		// consecutive equal leaves share one entry
		if nleaf == 0 || leaf != prev {
			leafvec |= 1 << s
			leaves[nleaf] = leaf
			nleaf++
			prev = leaf
		}
	}

	if nvec == 0 && nleaf == 1 {
		return built{leaf: leaves[0], isLeaf: true}, nil
	}

	rec := record{vector: vector, leafvec: leafvec}

	var err error
	if rec.base1, err = t.storeChildren(children[:nvec], vector, old, hasOld); err != nil {
		return built{}, err
	}
	if rec.base0, err = t.storeLeaves(leaves[:nleaf], leafvec, old, hasOld); err != nil {
		return built{}, err
	}

	return built{rec: rec}, nil
}

// flatten collects the trie nodes six levels below tn and the cover of
// every slot, absent nodes inherit the cover of their deepest ancestor.
func (t *Table[H]) flatten(tn rib.NodeID, tnodes *[fanout]rib.NodeID, covers *[fanout]fib.Index) {
	var (
		cur, next  [fanout]rib.NodeID
		ccov, ncov [fanout]fib.Index
	)
	cur[0] = tn
	ccov[0] = t.rib.Cover(tn)

	for level := range stride {
		for j := range 1 << level {
			left, right := t.rib.Children(cur[j])
			next[2*j], next[2*j+1] = left, right
			ncov[2*j], ncov[2*j+1] = ccov[j], ccov[j]
			if left != rib.Nil {
				ncov[2*j] = t.rib.Cover(left)
			}
			if right != rib.Nil {
				ncov[2*j+1] = t.rib.Cover(right)
			}
		}
		cur, next = next, cur
		ccov, ncov = ncov, ccov
	}

	*tnodes = cur
	*covers = ccov
}

// storeChildren returns the node arena base of the child run. The old run
// is shared if it holds the same records in the same slots.
func (t *Table[H]) storeChildren(children []record, vector uint64, old record, hasOld bool) (uint32, error) {
	if len(children) == 0 {
		return 0, nil
	}

	if hasOld && old.vector == vector {
		same := true
		for k, c := range children {
			if t.nodes.load(old.base1+uint32(k)) != c {
				same = false
				break
			}
		}
		if same {
			return old.base1, nil
		}
	}

	base, err := t.allocate(nodeKind, len(children))
	if err != nil {
		return 0, err
	}
	for k, c := range children {
		t.nodes.store(base+uint32(k), c)
	}
	return base, nil
}

// storeLeaves returns the leaf arena base of the leaf run. The old run
// is shared if it holds the same leaves with the same run starts.
func (t *Table[H]) storeLeaves(leaves []fib.Index, leafvec uint64, old record, hasOld bool) (uint32, error) {
	if len(leaves) == 0 {
		return 0, nil
	}

	if hasOld && old.leafvec == leafvec {
		same := true
		for k, v := range leaves {
			if t.leaves.load(old.base0+uint32(k)) != v {
				same = false
				break
			}
		}
		if same {
			return old.base0, nil
		}
	}

	base, err := t.allocate(leafKind, len(leaves))
	if err != nil {
		return 0, err
	}
	for k, v := range leaves {
		t.leaves.store(base+uint32(k), v)
	}
	return base, nil
}

// allocate takes a block for n entries and records it as pending.
func (t *Table[H]) allocate(kind arenaKind, n int) (uint32, error) {
	a := t.allocator(kind)

	i, err := a.Allocate(buddy.OrderFor(n))
	if err != nil {
		return 0, errors.Wrapf(ErrAllocationFailure, "%s arena, %d entries: %v", kind, n, err)
	}
	t.pending = append(t.pending, block{kind: kind, idx: i})

	return uint32(i), nil
}

// free returns b to its arena, reclaimed blocks are counted.
func (t *Table[H]) free(b block, reclaimed bool) {
	if err := t.allocator(b.kind).Free(b.idx); err != nil {
		// the arenas and the published structure disagree
		t.log.WithError(err).WithField("arena", b.kind.String()).Error("free failed")
		return
	}
	if !reclaimed {
		return
	}

	t.metrics.reclaimed.WithLabelValues(b.kind.String()).Inc()
	if b.kind == nodeKind {
		t.reclaimedNodes++
	} else {
		t.reclaimedLeafs++
	}
}

func (t *Table[H]) allocator(kind arenaKind) *buddy.Allocator {
	if kind == nodeKind {
		return t.nodes.alloc
	}
	return t.leaves.alloc
}
