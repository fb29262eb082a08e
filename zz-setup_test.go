// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package poptrie

import (
	"fmt"
	"io"
	"math/rand/v2"
	"net/netip"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/gaissmai/poptrie/internal/golden"
)

// workLoadN to adjust loops for tests with -short
func workLoadN() int {
	if testing.Short() {
		return 100
	}
	return 1_000
}

// abbreviation
var mpa = netip.MustParseAddr

// abbreviation and panic on non masked input
var mpp = func(s string) netip.Prefix {
	pfx := netip.MustParsePrefix(s)
	if pfx == pfx.Masked() {
		return pfx
	}
	panic(fmt.Sprintf("%s is not canonicalized as %s", s, pfx.Masked()))
}

// key is addrToKey for literals
func key(s string) uint32 {
	return addrToKey(mpa(s))
}

// quietLogger discards all output
func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// newTable with silent logging and smaller arenas
func newTable[H comparable](t *testing.T, opts ...Option) *Table[H] {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger()), WithNodeArenaBits(18), WithLeafArenaBits(18)}, opts...)
	tbl, err := New[H](opts...)
	require.NoError(t, err)
	return tbl
}

// densePrefix returns a random prefix below 10.0.0.0/14, the narrow
// space provokes nested and overlapping routes on all depths.
func densePrefix(prng *rand.Rand) netip.Prefix {
	addr := randomDenseAddr(prng)
	pfx, err := addr.Prefix(prng.IntN(33))
	if err != nil {
		panic(err)
	}
	return pfx
}

func randomDenseAddr(prng *rand.Rand) netip.Addr {
	k := 0x0a00_0000 | prng.Uint32()&0x0003_ffff
	// cluster the host bits, many routes share their deep nodes
	if prng.IntN(2) == 0 {
		k &^= 0x0000_ff00
	}
	return netip.AddrFrom4([4]byte{byte(k >> 24), byte(k >> 16), byte(k >> 8), byte(k)})
}

// probes returns addresses worth looking up for the golden routes:
// first, last and neighbours of every prefix plus random ones.
func probes(prng *rand.Rand, gold *golden.Table[string], n int) []netip.Addr {
	var addrs []netip.Addr
	for _, item := range *gold {
		first := item.Pfx.Addr()
		k := addrToKey(first)
		last := k | ^uint32(0)>>item.Pfx.Bits()
		for _, a := range []uint32{k, last, k - 1, last + 1} {
			addrs = append(addrs, netip.AddrFrom4([4]byte{byte(a >> 24), byte(a >> 16), byte(a >> 8), byte(a)}))
		}
	}
	for range n {
		addrs = append(addrs, randomDenseAddr(prng))
		addrs = append(addrs, golden.RandomAddr(prng))
	}
	return addrs
}

// checkGolden compares the lookup structure and the route trie
// against the golden table.
func checkGolden(t *testing.T, tbl *Table[string], gold *golden.Table[string], addrs []netip.Addr) {
	t.Helper()

	require.Equal(t, len(*gold), tbl.Len())

	for _, a := range addrs {
		want, _ := gold.Lookup(a)
		k := addrToKey(a)

		got := tbl.Lookup(k)
		require.Equal(t, want, got, "Lookup(%s)", a)
		require.Equal(t, want, tbl.RIBLookup(k), "RIBLookup(%s)", a)

		h, ok := tbl.Get(a)
		require.Equal(t, want != "", ok, "Get(%s)", a)
		require.Equal(t, want, h, "Get(%s)", a)
	}
}
