// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package poptrie

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const (
	defaultNodeArenaBits = 20
	defaultLeafArenaBits = 20
	defaultFIBSize       = 4096

	// largest block order the arenas serve, a run never exceeds
	// 64 entries
	maxOrder = 6

	minArenaBits = 1
	maxArenaBits = 28
)

type config struct {
	nodeBits   uint
	leafBits   uint
	fibSize    int
	logger     logrus.FieldLogger
	registerer prometheus.Registerer
}

func defaultConfig() config {
	return config{
		nodeBits: defaultNodeArenaBits,
		leafBits: defaultLeafArenaBits,
		fibSize:  defaultFIBSize,
		logger:   logrus.StandardLogger(),
	}
}

func (c config) validate() error {
	for _, b := range []uint{c.nodeBits, c.leafBits} {
		if b < minArenaBits || b > maxArenaBits {
			return errors.Errorf("poptrie: arena bits %d out of range [%d, %d]", b, minArenaBits, maxArenaBits)
		}
	}
	if c.fibSize < 2 {
		return errors.Errorf("poptrie: fib size %d too small", c.fibSize)
	}
	return nil
}

// Option configures a Table.
type Option func(*config)

// WithNodeArenaBits sets the node arena to 2^bits nodes, default 2^20.
func WithNodeArenaBits(bits uint) Option {
	return func(c *config) { c.nodeBits = bits }
}

// WithLeafArenaBits sets the leaf arena to 2^bits leaves, default 2^20.
func WithLeafArenaBits(bits uint) Option {
	return func(c *config) { c.leafBits = bits }
}

// WithFIBSize sets the number of next-hop slots, default 4096.
// Slot 0 is reserved for the zero handle.
func WithFIBSize(n int) Option {
	return func(c *config) { c.fibSize = n }
}

// WithLogger sets the logger, default is the logrus standard logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRegisterer registers the table metrics with reg.
// Without it the metrics are collected but not registered.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *config) { c.registerer = reg }
}
