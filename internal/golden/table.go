// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

// Package golden implements a simple and slow IPv4 route table,
// a slice of routes, as a golden reference for the forwarding table.
package golden

import (
	"cmp"
	"fmt"
	"math/rand/v2"
	"net/netip"
	"slices"
)

// Table is a linear route table with exact route semantics:
// duplicates are rejected, missing routes can't be changed or deleted.
type Table[V any] []Item[V]

type Item[V any] struct {
	Pfx netip.Prefix
	Val V
}

func (g Item[V]) String() string {
	return fmt.Sprintf("(%s, %v)", g.Pfx, g.Val)
}

// Insert adds pfx, ok is false for an existing route.
func (t *Table[V]) Insert(pfx netip.Prefix, val V) (ok bool) {
	pfx = pfx.Masked()
	if _, exists := t.Get(pfx); exists {
		return false
	}
	*t = append(*t, Item[V]{pfx, val})
	return true
}

// Change replaces the value of pfx, ok is false for a missing route.
func (t *Table[V]) Change(pfx netip.Prefix, val V) (ok bool) {
	pfx = pfx.Masked()
	for i, item := range *t {
		if item.Pfx == pfx {
			(*t)[i].Val = val
			return true
		}
	}
	return false
}

// Upsert inserts or changes pfx.
func (t *Table[V]) Upsert(pfx netip.Prefix, val V) {
	if !t.Change(pfx, val) {
		t.Insert(pfx, val)
	}
}

// Delete removes pfx, exists is false for a missing route.
func (t *Table[V]) Delete(pfx netip.Prefix) (exists bool) {
	pfx = pfx.Masked()
	for i, item := range *t {
		if item.Pfx == pfx {
			*t = slices.Delete(*t, i, i+1)
			return true
		}
	}
	return false
}

func (t Table[V]) Get(pfx netip.Prefix) (val V, ok bool) {
	pfx = pfx.Masked()
	for _, item := range t {
		if item.Pfx == pfx {
			return item.Val, true
		}
	}
	return val, false
}

// Lookup returns the value of the longest prefix containing addr.
func (t Table[V]) Lookup(addr netip.Addr) (val V, ok bool) {
	bestLen := -1

	for _, item := range t {
		if item.Pfx.Contains(addr) && item.Pfx.Bits() > bestLen {
			val = item.Val
			ok = true
			bestLen = item.Pfx.Bits()
		}
	}
	return val, ok
}

// Supernets returns the routes covering pfx, longest first.
func (t Table[V]) Supernets(pfx netip.Prefix) []netip.Prefix {
	pfx = pfx.Masked()
	var result []netip.Prefix

	for _, item := range t {
		if item.Pfx.Overlaps(pfx) && item.Pfx.Bits() <= pfx.Bits() {
			result = append(result, item.Pfx)
		}
	}
	slices.SortFunc(result, CmpPrefix)
	slices.Reverse(result)
	return result
}

// AllSorted returns all prefixes in sort order.
func (t Table[V]) AllSorted() []netip.Prefix {
	var result []netip.Prefix

	for _, item := range t {
		result = append(result, item.Pfx)
	}
	slices.SortFunc(result, CmpPrefix)
	return result
}

// CmpPrefix, helper function, compare func for prefix sort,
// all cidrs are already normalized
func CmpPrefix(a, b netip.Prefix) int {
	if cmpAddr := a.Addr().Compare(b.Addr()); cmpAddr != 0 {
		return cmpAddr
	}

	return cmp.Compare(a.Bits(), b.Bits())
}

// RandomPrefix returns a random masked IPv4 prefix.
func RandomPrefix(prng *rand.Rand) netip.Prefix {
	pfx, err := RandomAddr(prng).Prefix(prng.IntN(33))
	if err != nil {
		panic(err)
	}
	return pfx
}

// RandomAddr returns a random IPv4 address.
func RandomAddr(prng *rand.Rand) netip.Addr {
	var b [4]byte
	for i := range b {
		b[i] = byte(prng.Uint32())
	}
	return netip.AddrFrom4(b)
}
