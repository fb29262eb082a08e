// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

// Package poptrie provides an IPv4 forwarding table with lock-free
// longest-prefix-match lookups.
//
// The lookup structure is a poptrie: a direct index table over the top 18
// address bits followed by at most three 64-ary nodes, each a pair of
// bitmaps addressing its children and its compressed leaves by popcount
// rank. Nodes and leaves live in two arenas managed by buddy allocators.
//
// The table keeps an authoritative binary route trie next to the lookup
// structure. Every route mutation updates the trie first and then rebuilds
// only the part of the lookup structure whose routes changed, reusing all
// unchanged nodes, before the new version is published with a single
// atomic store. Blocks no longer referenced are returned to the arenas.
//
// Route values are handles of any comparable type. Equal handles share one
// slot in a refcounted next-hop table, the zero handle means "no route".
//
// Lookups may run concurrently with one writer, all mutating methods must
// be serialized by the caller.
package poptrie
