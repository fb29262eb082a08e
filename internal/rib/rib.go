// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

// Package rib implements the authoritative binary route trie.
//
// Every node knows the route that applies to it, its ext, the nearest valid
// node on the path from the root down to and including itself. Mutations
// keep the ext pointers of the affected subtree current and mark every node
// whose compressed representation has to be rebuilt: the path from the root
// to the mutated node and all descendants whose ext changed.
//
// Mutations are two-phased. Insert, Change and Delete return a [Mutation]
// that must be finished with [Trie.Commit] after the compressed index was
// rebuilt, or undone with [Trie.Rollback] if that failed. Nodes emptied by a
// delete are pruned on commit, not earlier, so the rebuild still sees the
// structure the old compressed index was derived from.
//
// The trie is not safe for concurrent use.
package rib

import (
	"net/netip"

	"github.com/pkg/errors"

	"github.com/gaissmai/poptrie/internal/fib"
)

// MaxLength is the longest prefix.
const MaxLength = 32

var (
	// ErrDuplicateRoute is returned when inserting an existing route.
	ErrDuplicateRoute = errors.New("duplicate route")

	// ErrNoSuchRoute is returned when changing or deleting a missing route.
	ErrNoSuchRoute = errors.New("no such route")

	// ErrInvalidPrefix is returned for prefix lengths above MaxLength.
	ErrInvalidPrefix = errors.New("invalid prefix")
)

// NodeID addresses a node in the trie arena.
type NodeID uint32

// Nil is the absent node.
const Nil NodeID = 0

type node struct {
	left, right NodeID
	ext         NodeID // nearest valid ancestor or self
	nexthop     fib.Index
	length      uint8
	valid       bool
	mark        bool
}

// Trie is a binary route trie over 32 bit keys.
type Trie struct {
	nodes []node // nodes[Nil] is a sentinel
	free  []NodeID
	root  NodeID

	routes int
	live   int

	stack []NodeID // scratch for the propagate walks
}

// New returns an empty trie with an allocated root node.
func New() *Trie {
	t := &Trie{nodes: make([]node, 1, 64)}
	t.root = t.alloc(0, Nil)
	return t
}

// Op is the kind of a mutation.
type Op uint8

const (
	OpInsert Op = iota + 1
	OpChange
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpChange:
		return "change"
	case OpDelete:
		return "delete"
	}
	return "unknown"
}

// Mutation is a pending route change, see [Trie.Commit] and [Trie.Rollback].
type Mutation struct {
	Op     Op
	Prefix uint32 // masked
	Length uint8

	// Node is the node of the mutated route.
	Node NodeID

	OldNexthop fib.Index
	NewNexthop fib.Index

	path [MaxLength + 1]NodeID // path[d] is the node at depth d
	next NodeID                // ext of the parent, replaces Node on delete
	done bool
}

// Path returns the node at depth d on the way to the mutated route,
// d must be <= Length.
func (m *Mutation) Path(d int) NodeID {
	return m.path[d]
}

// Mask returns the prefix with all bits beyond length cleared.
func Mask(prefix uint32, length uint8) uint32 {
	return prefix & (^uint32(0) << (MaxLength - uint(length)))
}

// PrefixFrom converts prefix/length to a netip.Prefix.
func PrefixFrom(prefix uint32, length uint8) netip.Prefix {
	addr := netip.AddrFrom4([4]byte{byte(prefix >> 24), byte(prefix >> 16), byte(prefix >> 8), byte(prefix)})
	return netip.PrefixFrom(addr, int(length))
}

func fmtPrefix(prefix uint32, length uint8) string {
	return PrefixFrom(prefix, length).String()
}

// bit returns the bit of key at depth d, MSB first.
func bit(key uint32, d uint8) uint32 {
	return key >> (MaxLength - 1 - d) & 1
}

func (t *Trie) alloc(length uint8, ext NodeID) NodeID {
	var id NodeID
	if n := len(t.free); n > 0 {
		id = t.free[n-1]
		t.free = t.free[:n-1]
		t.nodes[id] = node{}
	} else {
		id = NodeID(len(t.nodes))
		t.nodes = append(t.nodes, node{})
	}
	t.nodes[id].length = length
	t.nodes[id].ext = ext
	t.live++
	return id
}

func (t *Trie) release(id NodeID) {
	t.nodes[id] = node{}
	t.free = append(t.free, id)
	t.live--
}

func (t *Trie) child(id NodeID, b uint32) NodeID {
	if b == 0 {
		return t.nodes[id].left
	}
	return t.nodes[id].right
}

func (t *Trie) setChild(id NodeID, b uint32, c NodeID) {
	if b == 0 {
		t.nodes[id].left = c
	} else {
		t.nodes[id].right = c
	}
}

// find returns the node for prefix/length and fills path, Nil if absent.
func (t *Trie) find(prefix uint32, length uint8, path *[MaxLength + 1]NodeID) NodeID {
	cur := t.root
	path[0] = cur
	for d := uint8(0); d < length; d++ {
		cur = t.child(cur, bit(prefix, d))
		if cur == Nil {
			return Nil
		}
		path[d+1] = cur
	}
	return cur
}

// Insert adds the route prefix/length with next hop nh.
func (t *Trie) Insert(prefix uint32, length uint8, nh fib.Index) (*Mutation, error) {
	if length > MaxLength {
		return nil, errors.Wrapf(ErrInvalidPrefix, "length %d", length)
	}
	prefix = Mask(prefix, length)

	m := &Mutation{Op: OpInsert, Prefix: prefix, Length: length, NewNexthop: nh}

	cur := t.root
	m.path[0] = cur
	for d := uint8(0); d < length; d++ {
		b := bit(prefix, d)
		next := t.child(cur, b)
		if next == Nil {
			next = t.alloc(d+1, t.nodes[cur].ext)
			t.setChild(cur, b, next)
		}
		cur = next
		m.path[d+1] = cur
	}

	if t.nodes[cur].valid {
		return nil, errors.Wrapf(ErrDuplicateRoute, "%s", fmtPrefix(prefix, length))
	}

	t.nodes[cur].valid = true
	t.nodes[cur].nexthop = nh
	t.routes++

	m.Node = cur
	t.markPath(m)
	t.addPropagate(cur)

	return m, nil
}

// Change replaces the next hop of the route prefix/length.
// Changing to the current next hop marks nothing.
func (t *Trie) Change(prefix uint32, length uint8, nh fib.Index) (*Mutation, error) {
	if length > MaxLength {
		return nil, errors.Wrapf(ErrInvalidPrefix, "length %d", length)
	}
	prefix = Mask(prefix, length)

	m := &Mutation{Op: OpChange, Prefix: prefix, Length: length, NewNexthop: nh}

	cur := t.find(prefix, length, &m.path)
	if cur == Nil || !t.nodes[cur].valid {
		return nil, errors.Wrapf(ErrNoSuchRoute, "%s", fmtPrefix(prefix, length))
	}

	m.Node = cur
	m.OldNexthop = t.nodes[cur].nexthop
	if m.OldNexthop == nh {
		return m, nil
	}

	t.nodes[cur].nexthop = nh
	t.markPath(m)
	t.changePropagate(cur)

	return m, nil
}

// Delete removes the route prefix/length.
func (t *Trie) Delete(prefix uint32, length uint8) (*Mutation, error) {
	if length > MaxLength {
		return nil, errors.Wrapf(ErrInvalidPrefix, "length %d", length)
	}
	prefix = Mask(prefix, length)

	m := &Mutation{Op: OpDelete, Prefix: prefix, Length: length}

	cur := t.find(prefix, length, &m.path)
	if cur == Nil || !t.nodes[cur].valid {
		return nil, errors.Wrapf(ErrNoSuchRoute, "%s", fmtPrefix(prefix, length))
	}

	m.Node = cur
	m.OldNexthop = t.nodes[cur].nexthop
	if length > 0 {
		m.next = t.nodes[m.path[length-1]].ext
	}

	t.nodes[cur].valid = false
	t.routes--

	t.markPath(m)
	t.delPropagate(cur, m.next)

	return m, nil
}

// Contains reports whether prefix/length is a route and returns its next hop.
func (t *Trie) Contains(prefix uint32, length uint8) (fib.Index, bool) {
	if length > MaxLength {
		return fib.NoRoute, false
	}
	var path [MaxLength + 1]NodeID
	cur := t.find(Mask(prefix, length), length, &path)
	if cur == Nil || !t.nodes[cur].valid {
		return fib.NoRoute, false
	}
	return t.nodes[cur].nexthop, true
}

// Commit finishes m: marks are cleared and, for deletes, the path is pruned.
func (t *Trie) Commit(m *Mutation) {
	if m == nil || m.done {
		return
	}
	m.done = true

	t.clearMarks()
	if m.Op == OpDelete {
		t.prune(m)
	}
}

// Rollback undoes m, restoring routes, ext pointers and marks.
func (t *Trie) Rollback(m *Mutation) {
	if m == nil || m.done {
		return
	}
	m.done = true

	switch m.Op {
	case OpInsert:
		t.nodes[m.Node].valid = false
		t.nodes[m.Node].nexthop = fib.NoRoute
		t.routes--

		var next NodeID
		if m.Length > 0 {
			next = t.nodes[m.path[m.Length-1]].ext
		}
		t.delPropagate(m.Node, next)
		t.clearMarks()
		t.prune(m)

	case OpChange:
		t.nodes[m.Node].nexthop = m.OldNexthop
		t.clearMarks()

	case OpDelete:
		t.nodes[m.Node].valid = true
		t.nodes[m.Node].nexthop = m.OldNexthop
		t.routes++

		t.addPropagate(m.Node)
		t.clearMarks()
	}
}

func (t *Trie) markPath(m *Mutation) {
	for d := 0; d <= int(m.Length); d++ {
		t.nodes[m.path[d]].mark = true
	}
}

// addPropagate makes n the ext of every node in its subtree not covered by
// a more specific route.
func (t *Trie) addPropagate(n NodeID) {
	length := t.nodes[n].length

	t.stack = append(t.stack[:0], n)
	for len(t.stack) > 0 {
		id := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]

		nd := &t.nodes[id]
		if nd.ext != Nil && t.nodes[nd.ext].length > length {
			continue
		}
		nd.ext = n
		nd.mark = true
		t.push(nd.right, nd.left)
	}
}

// changePropagate marks every node whose ext is n.
func (t *Trie) changePropagate(n NodeID) {
	t.stack = append(t.stack[:0], n)
	for len(t.stack) > 0 {
		id := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]

		nd := &t.nodes[id]
		if nd.ext != n {
			continue
		}
		nd.mark = true
		t.push(nd.right, nd.left)
	}
}

// delPropagate replaces ext n by next in the subtree of n.
func (t *Trie) delPropagate(n, next NodeID) {
	t.stack = append(t.stack[:0], n)
	for len(t.stack) > 0 {
		id := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]

		nd := &t.nodes[id]
		if nd.ext != n {
			continue
		}
		nd.ext = next
		nd.mark = true
		t.push(nd.right, nd.left)
	}
}

func (t *Trie) push(ids ...NodeID) {
	for _, id := range ids {
		if id != Nil {
			t.stack = append(t.stack, id)
		}
	}
}

// clearMarks resets all marks, marked nodes are connected to the root.
func (t *Trie) clearMarks() {
	if !t.nodes[t.root].mark {
		return
	}
	t.stack = append(t.stack[:0], t.root)
	for len(t.stack) > 0 {
		id := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]

		nd := &t.nodes[id]
		nd.mark = false
		for _, c := range [2]NodeID{nd.left, nd.right} {
			if c != Nil && t.nodes[c].mark {
				t.stack = append(t.stack, c)
			}
		}
	}
}

// prune removes invalid leaf nodes bottom-up along the path of m.
func (t *Trie) prune(m *Mutation) {
	for d := int(m.Length); d > 0; d-- {
		id := m.path[d]
		nd := &t.nodes[id]
		if nd.valid || nd.left != Nil || nd.right != Nil {
			return
		}
		t.setChild(m.path[d-1], bit(m.Prefix, uint8(d-1)), Nil)
		t.release(id)
	}
}

// Root returns the root node, it always exists.
func (t *Trie) Root() NodeID {
	return t.root
}

// Children returns the left and right child of id.
func (t *Trie) Children(id NodeID) (left, right NodeID) {
	if id == Nil {
		return Nil, Nil
	}
	return t.nodes[id].left, t.nodes[id].right
}

// HasChildren reports whether id has at least one child.
func (t *Trie) HasChildren(id NodeID) bool {
	if id == Nil {
		return false
	}
	return t.nodes[id].left != Nil || t.nodes[id].right != Nil
}

// Descend follows the next n bits of key below id, starting at depth,
// and returns Nil if the path ends early.
func (t *Trie) Descend(id NodeID, key uint32, depth, n uint8) NodeID {
	for d := depth; d < depth+n && id != Nil; d++ {
		if d >= MaxLength {
			return Nil
		}
		id = t.child(id, bit(key, d))
	}
	return id
}

// Cover returns the next hop of the route that applies at id,
// fib.NoRoute if none.
func (t *Trie) Cover(id NodeID) fib.Index {
	if id == Nil {
		return fib.NoRoute
	}
	ext := t.nodes[id].ext
	if ext == Nil {
		return fib.NoRoute
	}
	return t.nodes[ext].nexthop
}

// Dirty reports whether the subtree of id changed by the pending mutation.
func (t *Trie) Dirty(id NodeID) bool {
	return id != Nil && t.nodes[id].mark
}

// Lookup returns the next hop of the longest route matching addr.
func (t *Trie) Lookup(addr uint32) fib.Index {
	cur := t.root
	for d := uint8(0); d < MaxLength; d++ {
		next := t.child(cur, bit(addr, d))
		if next == Nil {
			break
		}
		cur = next
	}
	return t.Cover(cur)
}

// Walk calls yield for every route in prefix order until yield returns false.
func (t *Trie) Walk(yield func(prefix uint32, length uint8, nh fib.Index) bool) {
	type item struct {
		id     NodeID
		prefix uint32
	}

	stack := []item{{t.root, 0}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		nd := &t.nodes[it.id]
		if nd.valid && !yield(it.prefix, nd.length, nd.nexthop) {
			return
		}

		if nd.right != Nil {
			stack = append(stack, item{nd.right, it.prefix | 1<<(MaxLength-1-nd.length)})
		}
		if nd.left != Nil {
			stack = append(stack, item{nd.left, it.prefix})
		}
	}
}

// Len returns the number of routes.
func (t *Trie) Len() int {
	return t.routes
}

// Nodes returns the number of allocated nodes, the root included.
func (t *Trie) Nodes() int {
	return t.live
}
