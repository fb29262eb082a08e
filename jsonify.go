// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package poptrie

import (
	"encoding/json"
	"net/netip"
)

// ListElement is a route with its more specific routes nested below.
type ListElement[H any] struct {
	Cidr    netip.Prefix     `json:"cidr"`
	Value   H                `json:"value"`
	Subnets []ListElement[H] `json:"subnets,omitempty"`
}

// MarshalJSON dumps the routes as a list of roots and their subnets,
// an array and not a map because the order matters.
func (t *Table[H]) MarshalJSON() ([]byte, error) {
	list := t.DumpList()
	if list == nil {
		list = []ListElement[H]{}
	}
	return json.Marshal(list)
}

// DumpList returns the routes as a tree of covering and covered prefixes.
func (t *Table[H]) DumpList() []ListElement[H] {
	var items []ListElement[H]
	for pfx, h := range t.All() {
		items = append(items, ListElement[H]{Cidr: pfx, Value: h})
	}

	pos := 0
	return nest(items, &pos, netip.Prefix{})
}

// nest consumes the items covered by parent, items are in prefix sort
// order so the subnets of a route follow it directly.
func nest[H any](items []ListElement[H], pos *int, parent netip.Prefix) []ListElement[H] {
	var out []ListElement[H]
	for *pos < len(items) {
		el := items[*pos]
		if parent.IsValid() && !(parent.Bits() < el.Cidr.Bits() && parent.Contains(el.Cidr.Addr())) {
			break
		}
		*pos++

		el.Subnets = nest(items, pos, el.Cidr)
		out = append(out, el)
	}
	return out
}
