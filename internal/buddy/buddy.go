// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

// Package buddy implements a power-of-two block allocator over an index
// space of 2^sz slots.
//
// Blocks are identified by the index of their first slot, never by address.
// A block of order k spans 2^k slots and is always k-aligned. The slots
// themselves live in arenas owned by the caller; the allocator only hands
// out and takes back index ranges.
//
// Per order the free blocks are kept in an index stack together with a
// membership bitmap, so the buddy test on free is O(1). Stale stack entries,
// left behind by merges, are skipped on pop and compacted away lazily.
//
// The allocator is not safe for concurrent use.
package buddy

import (
	"math/bits"

	"github.com/bits-and-blooms/bitset"
	"github.com/pkg/errors"
)

// maxBits limits the index space, indices must fit into an uint32
// with the top bit reserved by callers for tagging.
const maxBits = 31

var (
	// ErrExhausted is returned when no block of the requested order
	// can be found or split from a larger one.
	ErrExhausted = errors.New("buddy: arena exhausted")

	// ErrOrder is returned for orders outside 0..level-1.
	ErrOrder = errors.New("buddy: order out of range")

	// ErrInvalidIndex is returned when freeing an index outside the arena.
	ErrInvalidIndex = errors.New("buddy: invalid index")

	// ErrNotAllocated is returned when freeing an index that does not
	// start a live block.
	ErrNotAllocated = errors.New("buddy: index not allocated")
)

// Index is the first slot of a block.
type Index uint32

// Allocator is a buddy allocator over 2^sz slots with level orders.
type Allocator struct {
	sz    uint
	level uint

	free []freeList

	// ends marks the last slot of every live block, the order of a block
	// is derived from the distance between its start and its end bit.
	ends *bitset.BitSet

	// starts marks the first slot of every live block, used to reject
	// frees of indices that were never handed out.
	starts *bitset.BitSet

	liveBlocks int
	usedSlots  int
}

// freeList holds the free blocks of one order.
type freeList struct {
	member *bitset.BitSet // bit i>>k set: block i is free at this order
	stack  []Index        // candidates, may contain stale entries
	n      int            // number of members
}

// Stats is a snapshot of the allocator state.
type Stats struct {
	Capacity   int   `json:"capacity"`
	Level      int   `json:"level"`
	LiveBlocks int   `json:"liveBlocks"`
	UsedSlots  int   `json:"usedSlots"`
	FreeSlots  int   `json:"freeSlots"`
	FreeBlocks []int `json:"freeBlocks"` // per order
}

// New returns an allocator for 2^sz slots serving the orders 0..level-1.
// A level larger than sz+1 is clamped, the whole arena is one block then.
func New(sz, level uint) (*Allocator, error) {
	if sz > maxBits {
		return nil, errors.Errorf("buddy: size 2^%d exceeds 2^%d slots", sz, maxBits)
	}
	if level == 0 {
		return nil, errors.New("buddy: level must be positive")
	}
	if level > sz+1 {
		level = sz + 1
	}

	a := &Allocator{
		sz:     sz,
		level:  level,
		free:   make([]freeList, level),
		ends:   bitset.New(1 << sz),
		starts: bitset.New(1 << sz),
	}

	for k := range a.free {
		a.free[k].member = bitset.New(1 << (sz - uint(k)))
	}

	// seed the top order with the whole arena, pushed in reverse
	// so the lowest index is handed out first
	top := level - 1
	n := 1 << (sz - top)
	for i := n - 1; i >= 0; i-- {
		a.push(top, Index(i<<top))
	}

	return a, nil
}

// OrderFor returns the smallest order whose block holds n slots.
func OrderFor(n int) uint {
	if n <= 1 {
		return 0
	}
	return uint(bits.Len(uint(n - 1)))
}

// Capacity returns the number of slots in the arena.
func (a *Allocator) Capacity() int {
	return 1 << a.sz
}

// Level returns the number of orders.
func (a *Allocator) Level() uint {
	return a.level
}

// Allocate returns the first index of a free block of 2^order slots.
func (a *Allocator) Allocate(order uint) (Index, error) {
	if order >= a.level {
		return 0, errors.Wrapf(ErrOrder, "order %d, level %d", order, a.level)
	}

	i, ok := a.take(order)
	if !ok {
		return 0, errors.Wrapf(ErrExhausted, "order %d", order)
	}

	a.starts.Set(uint(i))
	a.ends.Set(uint(i) + 1<<order - 1)
	a.liveBlocks++
	a.usedSlots += 1 << order

	return i, nil
}

// take pops a block of the given order, splitting larger blocks on demand.
func (a *Allocator) take(order uint) (Index, bool) {
	if i, ok := a.pop(order); ok {
		return i, true
	}

	if order+1 >= a.level {
		return 0, false
	}

	i, ok := a.take(order + 1)
	if !ok {
		return 0, false
	}

	// keep the first half, the second half becomes free at this order
	a.push(order, i+Index(1)<<order)

	return i, true
}

// Free returns the block starting at i to the allocator and merges it
// with its buddy as long as both halves are free.
func (a *Allocator) Free(i Index) error {
	if uint(i) >= 1<<a.sz {
		return errors.Wrapf(ErrInvalidIndex, "index %d, capacity %d", i, a.Capacity())
	}
	if !a.starts.Test(uint(i)) {
		return errors.Wrapf(ErrNotAllocated, "index %d", i)
	}

	order, ok := a.orderOf(i)
	if !ok {
		return errors.Wrapf(ErrNotAllocated, "index %d has no block end", i)
	}

	a.starts.Clear(uint(i))
	a.ends.Clear(uint(i) + 1<<order - 1)
	a.liveBlocks--
	a.usedSlots -= 1 << order

	a.push(order, i)
	a.merge(order, i)

	return nil
}

// orderOf finds the smallest order k with the end bit of a block
// of order k starting at i set.
func (a *Allocator) orderOf(i Index) (uint, bool) {
	for k := uint(0); k < a.level; k++ {
		if uint(i)&(1<<k-1) != 0 {
			return 0, false
		}
		end := uint(i) + 1<<k - 1
		if end >= 1<<a.sz {
			return 0, false
		}
		if a.ends.Test(end) {
			return k, true
		}
	}
	return 0, false
}

// merge joins the free block i with its buddy, one order up, until the
// buddy is in use or the level ceiling is reached.
func (a *Allocator) merge(order uint, i Index) {
	for order+1 < a.level {
		buddy := i ^ Index(1)<<order
		if !a.free[order].member.Test(uint(buddy >> order)) {
			return
		}

		a.remove(order, i)
		a.remove(order, buddy)

		i = min(i, buddy)
		order++
		a.push(order, i)
	}
}

func (a *Allocator) push(order uint, i Index) {
	fl := &a.free[order]
	fl.member.Set(uint(i >> order))
	fl.stack = append(fl.stack, i)
	fl.n++

	if len(fl.stack) > 2*fl.n+64 {
		fl.compact(order)
	}
}

func (a *Allocator) pop(order uint) (Index, bool) {
	fl := &a.free[order]
	for len(fl.stack) > 0 {
		last := len(fl.stack) - 1
		i := fl.stack[last]
		fl.stack = fl.stack[:last]

		if fl.member.Test(uint(i >> order)) {
			fl.member.Clear(uint(i >> order))
			fl.n--
			return i, true
		}
	}
	return 0, false
}

// remove drops i from the free list, its stack entry turns stale.
func (a *Allocator) remove(order uint, i Index) {
	fl := &a.free[order]
	fl.member.Clear(uint(i >> order))
	fl.n--
}

// compact drops stale and duplicate entries from the stack.
func (fl *freeList) compact(order uint) {
	keep := fl.stack[:0]
	for _, i := range fl.stack {
		if fl.member.Test(uint(i >> order)) {
			fl.member.Clear(uint(i >> order))
			keep = append(keep, i)
		}
	}
	for _, i := range keep {
		fl.member.Set(uint(i >> order))
	}
	clear(fl.stack[len(keep):])
	fl.stack = keep
}

// FreeBlocks returns the number of free blocks of the given order.
func (a *Allocator) FreeBlocks(order uint) int {
	if order >= a.level {
		return 0
	}
	return a.free[order].n
}

// UsedSlots returns the number of slots in live blocks.
func (a *Allocator) UsedSlots() int {
	return a.usedSlots
}

// Stats returns a snapshot of the allocator state.
func (a *Allocator) Stats() Stats {
	s := Stats{
		Capacity:   a.Capacity(),
		Level:      int(a.level),
		LiveBlocks: a.liveBlocks,
		UsedSlots:  a.usedSlots,
		FreeSlots:  a.Capacity() - a.usedSlots,
		FreeBlocks: make([]int, a.level),
	}
	for k := range a.free {
		s.FreeBlocks[k] = a.free[k].n
	}
	return s
}
