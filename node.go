// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package poptrie

import (
	"math/bits"
	"sync/atomic"

	"github.com/gaissmai/poptrie/internal/buddy"
	"github.com/gaissmai/poptrie/internal/fib"
)

const (
	keyBits = 32
	dirBits = 18
	stride  = 6
	fanout  = 1 << stride

	// ceil((keyBits - dirBits) / stride)
	maxHops = (keyBits - dirBits + stride - 1) / stride

	// a dir entry with leafFlag set holds a fib index,
	// otherwise the node index of a root node
	leafFlag = 1 << 31

	// arenas are padded so a reader following a stale base
	// never indexes out of range
	arenaPad = fanout
)

// node is the compressed 64-ary node as stored in the node arena.
// Fields are accessed atomically, readers run concurrently with the writer.
type node struct {
	vector  uint64 // bit set: slot is an internal child
	leafvec uint64 // bit set: a new leaf run starts at this slot
	base0   uint32 // leaf arena index of the leaf run
	base1   uint32 // node arena index of the child run
}

// record is a plain copy of a node, the unit the writer builds,
// compares and stores.
type record node

func (r record) children() int { return bits.OnesCount64(r.vector) }
func (r record) leaves() int   { return bits.OnesCount64(r.leafvec) }

// rank returns the number of set bits in v up to and including bit.
func rank(v uint64, bit uint32) int {
	return bits.OnesCount64(v & (2<<bit - 1))
}

// chunk returns n bits of addr starting at bit pos, MSB first.
// Bits beyond the key read as zero.
func chunk(addr uint32, pos, n uint) uint32 {
	return uint32(uint64(addr) << 32 >> (64 - (pos + n)) & (1<<n - 1))
}

// nodeArena holds the compressed nodes.
type nodeArena struct {
	alloc *buddy.Allocator
	slots []node
}

func newNodeArena(sz uint) (*nodeArena, error) {
	a, err := buddy.New(sz, maxOrder+1)
	if err != nil {
		return nil, err
	}
	na := &nodeArena{alloc: a, slots: make([]node, a.Capacity()+arenaPad)}

	// index 0 is never handed out, base 0 means "no run"
	if _, err := a.Allocate(0); err != nil {
		return nil, err
	}
	return na, nil
}

func (a *nodeArena) load(i uint32) record {
	n := &a.slots[i]
	return record{
		vector:  atomic.LoadUint64(&n.vector),
		leafvec: atomic.LoadUint64(&n.leafvec),
		base0:   atomic.LoadUint32(&n.base0),
		base1:   atomic.LoadUint32(&n.base1),
	}
}

func (a *nodeArena) store(i uint32, r record) {
	n := &a.slots[i]
	atomic.StoreUint64(&n.vector, r.vector)
	atomic.StoreUint64(&n.leafvec, r.leafvec)
	atomic.StoreUint32(&n.base0, r.base0)
	atomic.StoreUint32(&n.base1, r.base1)
}

// leafArena holds the compressed leaves, fib indices.
type leafArena struct {
	alloc *buddy.Allocator
	slots []uint32
}

func newLeafArena(sz uint) (*leafArena, error) {
	a, err := buddy.New(sz, maxOrder+1)
	if err != nil {
		return nil, err
	}
	la := &leafArena{alloc: a, slots: make([]uint32, a.Capacity()+arenaPad)}

	if _, err := a.Allocate(0); err != nil {
		return nil, err
	}
	return la, nil
}

func (a *leafArena) load(i uint32) fib.Index {
	return fib.Index(atomic.LoadUint32(&a.slots[i]))
}

func (a *leafArena) store(i uint32, v fib.Index) {
	atomic.StoreUint32(&a.slots[i], uint32(v))
}

// dirTable is the direct index over the top dirBits of the key.
type dirTable [1 << dirBits]uint32

func newDirTable() *dirTable {
	d := new(dirTable)
	for i := range d {
		d[i] = leafFlag | uint32(fib.NoRoute)
	}
	return d
}

func (d *dirTable) load(i uint32) uint32 {
	return atomic.LoadUint32(&d[i])
}

func (d *dirTable) store(i, v uint32) {
	atomic.StoreUint32(&d[i], v)
}

func isLeaf(entry uint32) bool { return entry&leafFlag != 0 }
