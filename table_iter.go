// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package poptrie

import (
	"iter"
	"net/netip"

	"github.com/gaissmai/poptrie/internal/fib"
	"github.com/gaissmai/poptrie/internal/rib"
)

// All returns an iterator over all routes in prefix sort order.
//
// The table must not be modified during the iteration.
func (t *Table[H]) All() iter.Seq2[netip.Prefix, H] {
	return func(yield func(netip.Prefix, H) bool) {
		t.rib.Walk(func(prefix uint32, length uint8, nh fib.Index) bool {
			return yield(rib.PrefixFrom(prefix, length), t.fib.Handle(nh))
		})
	}
}

// Supernets returns an iterator over all routes covering pfx,
// from the longest to the shortest.
func (t *Table[H]) Supernets(pfx netip.Prefix) iter.Seq2[netip.Prefix, H] {
	return func(yield func(netip.Prefix, H) bool) {
		prefix, length, err := prefixToKey(pfx)
		if err != nil {
			return
		}

		type hit struct {
			length uint8
			nh     fib.Index
		}

		// collect top down, yield bottom up
		var stack [rib.MaxLength + 1]hit
		n := 0
		for l := uint8(0); l <= length; l++ {
			if nh, ok := t.rib.Contains(prefix, l); ok {
				stack[n] = hit{l, nh}
				n++
			}
		}

		for i := n - 1; i >= 0; i-- {
			h := stack[i]
			if !yield(rib.PrefixFrom(rib.Mask(prefix, h.length), h.length), t.fib.Handle(h.nh)) {
				return
			}
		}
	}
}
