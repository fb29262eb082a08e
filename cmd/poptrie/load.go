// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package main

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/gaissmai/poptrie"
	"github.com/gaissmai/poptrie/internal/routefile"
)

// loadTable builds a table from the route file in opts, later lines
// replace earlier routes for the same prefix.
func loadTable(opts *options, reg prometheus.Registerer) (*poptrie.Table[string], []routefile.Route, error) {
	if opts.routes == "" {
		return nil, nil, errors.New("no route file, use --routes")
	}

	routes, err := routefile.ReadFile(opts.routes)
	if err != nil {
		return nil, nil, err
	}

	tbl, err := poptrie.New[string](
		poptrie.WithNodeArenaBits(opts.nodeBits),
		poptrie.WithLeafArenaBits(opts.leafBits),
		poptrie.WithFIBSize(opts.fibSize),
		poptrie.WithLogger(log.StandardLogger()),
		poptrie.WithRegisterer(reg),
	)
	if err != nil {
		return nil, nil, err
	}

	start := time.Now()
	for _, r := range routes {
		if err := tbl.UpdatePrefix(r.Prefix, r.Handle()); err != nil {
			return nil, nil, errors.WithMessagef(err, "route %s", r)
		}
	}

	log.WithFields(log.Fields{
		"file":     opts.routes,
		"routes":   tbl.Len(),
		"duration": time.Since(start),
	}).Info("routes loaded")

	return tbl, routes, nil
}
