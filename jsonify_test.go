// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package poptrie

import (
	"encoding/json"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type jsonTestElement struct {
	cidr  netip.Prefix
	value int
}

type jsonTest struct {
	elements []jsonTestElement
	want     string
}

func TestJsonEmpty(t *testing.T) {
	t.Parallel()
	checkJson(t, jsonTest{
		elements: []jsonTestElement{},
		want:     "[]",
	})
}

func TestJsonDefaultRoute(t *testing.T) {
	t.Parallel()
	checkJson(t, jsonTest{
		elements: []jsonTestElement{
			{mpp("0.0.0.0/0"), 31337},
		},
		want: `[{"cidr":"0.0.0.0/0","value":31337}]`,
	})
}

func TestJsonSample(t *testing.T) {
	t.Parallel()
	checkJson(t, jsonTest{
		elements: []jsonTestElement{
			{mpp("172.16.0.0/12"), 1},
			{mpp("10.0.0.0/24"), 2},
			{mpp("192.168.0.0/16"), 3},
			{mpp("10.0.0.0/8"), 4},
			{mpp("10.0.1.0/24"), 5},
			{mpp("192.168.1.0/24"), 6},
		},
		want: `[` +
			`{"cidr":"10.0.0.0/8","value":4,"subnets":[` +
			`{"cidr":"10.0.0.0/24","value":2},` +
			`{"cidr":"10.0.1.0/24","value":5}]},` +
			`{"cidr":"172.16.0.0/12","value":1},` +
			`{"cidr":"192.168.0.0/16","value":3,"subnets":[` +
			`{"cidr":"192.168.1.0/24","value":6}]}` +
			`]`,
	})
}

func TestDumpListDeep(t *testing.T) {
	t.Parallel()

	tbl := newTable[int](t)
	for i, s := range []string{"10.0.0.0/8", "10.1.0.0/16", "10.1.1.0/24", "10.1.1.1/32", "10.2.0.0/16"} {
		require.NoError(t, tbl.InsertPrefix(mpp(s), i+1))
	}

	list := tbl.DumpList()
	require.Len(t, list, 1)
	assert.Equal(t, mpp("10.0.0.0/8"), list[0].Cidr)
	require.Len(t, list[0].Subnets, 2)

	sub := list[0].Subnets[0]
	assert.Equal(t, mpp("10.1.0.0/16"), sub.Cidr)
	require.Len(t, sub.Subnets, 1)
	require.Len(t, sub.Subnets[0].Subnets, 1)
	assert.Equal(t, 4, sub.Subnets[0].Subnets[0].Value)

	assert.Equal(t, mpp("10.2.0.0/16"), list[0].Subnets[1].Cidr)
	assert.Empty(t, list[0].Subnets[1].Subnets)
}

func checkJson(t *testing.T, tt jsonTest) {
	t.Helper()

	tbl := newTable[int](t)
	for _, el := range tt.elements {
		require.NoError(t, tbl.InsertPrefix(el.cidr, el.value))
	}

	jsonBuffer, err := json.Marshal(tbl)
	require.NoError(t, err)
	assert.Equal(t, tt.want, string(jsonBuffer))
}
