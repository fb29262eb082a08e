// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"math/rand/v2"
	"net/netip"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gaissmai/poptrie/internal/routefile"
)

type genOptions struct {
	out      string
	count    uint
	nexthops uint
	seq      string
	seed     uint64
}

func newGenCmd() *cobra.Command {
	g := &genOptions{}

	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Write a route file with random or sequential routes",
		Long: `Writes random routes with lengths 8..32, or with --seq sequential
host routes starting at the given address. Files ending in .gz are
gzip compressed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			routes, err := g.generate()
			if err != nil {
				return err
			}

			if err := routefile.WriteFile(g.out, routes); err != nil {
				return err
			}

			log.WithFields(log.Fields{"file": g.out, "routes": len(routes)}).Info("route file written")
			fmt.Fprintf(cmd.OutOrStdout(), "%d routes written to %s\n", len(routes), g.out)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&g.out, "out", "o", "routes.txt", "output file")
	f.UintVarP(&g.count, "count", "n", 100_000, "number of routes")
	f.UintVar(&g.nexthops, "nexthops", 16, "number of distinct next hops")
	f.StringVar(&g.seq, "seq", "", "first address of sequential /32 routes")
	f.Uint64Var(&g.seed, "seed", 42, "prng seed")

	return cmd
}

func (g *genOptions) generate() ([]routefile.Route, error) {
	if g.nexthops == 0 {
		return nil, errors.New("gen: at least one next hop")
	}

	nexthops := make([]netip.Addr, g.nexthops)
	for i := range nexthops {
		nexthops[i] = fromKey(0xc000_0200 + uint32(i) + 1) // 192.0.2.0/24 and up
	}

	routes := make([]routefile.Route, 0, g.count)

	if g.seq != "" {
		start, err := netip.ParseAddr(g.seq)
		if err != nil || !start.Is4() {
			return nil, errors.Errorf("gen: --seq %q is not an IPv4 address", g.seq)
		}
		k := toKey(start)
		if uint64(k)+uint64(g.count) > 1<<32 {
			return nil, errors.Errorf("gen: %d routes from %s overflow the address space", g.count, start)
		}
		for i := range uint32(g.count) {
			routes = append(routes, routefile.Route{
				Prefix:  netip.PrefixFrom(fromKey(k+i), 32),
				Nexthop: nexthops[0],
			})
		}
		return routes, nil
	}

	prng := rand.New(rand.NewPCG(g.seed, g.seed))
	seen := make(map[netip.Prefix]bool, g.count)
	for uint(len(routes)) < g.count {
		pfx, _ := fromKey(prng.Uint32()).Prefix(8 + prng.IntN(25))
		if seen[pfx] {
			continue
		}
		seen[pfx] = true

		routes = append(routes, routefile.Route{
			Prefix:  pfx,
			Nexthop: nexthops[prng.IntN(len(nexthops))],
		})
	}
	return routes, nil
}
