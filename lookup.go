// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package poptrie

import (
	"net/netip"

	"github.com/gaissmai/poptrie/internal/fib"
)

// Lookup returns the next hop of the longest prefix matching addr,
// the zero handle if no prefix matches.
//
// Lookup is lock-free and may be called concurrently with one writer.
func (t *Table[H]) Lookup(addr uint32) H {
	return t.fib.Handle(t.lookup(addr))
}

// Get is the netip variant of Lookup, ok is false if no prefix matches.
// IPv6 addresses never match.
func (t *Table[H]) Get(ip netip.Addr) (h H, ok bool) {
	if !ip.Is4() {
		return h, false
	}
	i := t.lookup(addrToKey(ip))
	if i == fib.NoRoute {
		return h, false
	}
	return t.fib.Handle(i), true
}

// lookup returns the fib index for addr, one dir probe and
// at most maxHops node hops.
func (t *Table[H]) lookup(addr uint32) fib.Index {
	entry := t.dir.Load().load(addr >> (keyBits - dirBits))
	if isLeaf(entry) {
		return fib.Index(entry &^ leafFlag)
	}

	idx := entry
	pos := uint(dirBits)
	for range maxHops {
		n := t.nodes.load(idx)
		c := chunk(addr, pos, stride)

		if n.vector&(1<<c) != 0 {
			idx = n.base1 + uint32(rank(n.vector, c)) - 1
			pos += stride
			continue
		}

		r := rank(n.leafvec, c)
		if r == 0 {
			// only seen with a node recycled under the reader
			return fib.NoRoute
		}
		return t.leaves.load(n.base0 + uint32(r) - 1)
	}

	return fib.NoRoute
}

// RIBLookup returns the next hop of the longest prefix matching addr,
// answered by the route trie instead of the lookup structure.
//
// RIBLookup is a writer side method.
func (t *Table[H]) RIBLookup(addr uint32) H {
	return t.fib.Handle(t.rib.Lookup(addr))
}

func addrToKey(ip netip.Addr) uint32 {
	a4 := ip.As4()
	return uint32(a4[0])<<24 | uint32(a4[1])<<16 | uint32(a4[2])<<8 | uint32(a4[3])
}
