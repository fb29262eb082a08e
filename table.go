// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package poptrie

import (
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/gaissmai/poptrie/internal/fib"
	"github.com/gaissmai/poptrie/internal/rib"
)

// Table is an IPv4 forwarding table with next-hop handles of type H.
// The zero value of H is the "no route" handle and can't be stored.
//
// Lookup and Get are lock-free, all other methods must be serialized
// by the caller.
type Table[H comparable] struct {
	log     *logrus.Entry
	metrics *metrics

	// live dir table, swapped for prefixes shorter than dirBits
	dir atomic.Pointer[dirTable]
	alt *dirTable

	nodes  *nodeArena
	leaves *leafArena

	rib *rib.Trie
	fib *fib.Table[H]

	// blocks allocated by the running rebuild, freed if it fails
	pending []block

	reclaimedNodes uint64
	reclaimedLeafs uint64
}

// New returns an empty table configured by opts.
func New[H comparable](opts ...Option) (*Table[H], error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	nodes, err := newNodeArena(cfg.nodeBits)
	if err != nil {
		return nil, errors.Wrap(err, "poptrie: node arena")
	}
	leaves, err := newLeafArena(cfg.leafBits)
	if err != nil {
		return nil, errors.Wrap(err, "poptrie: leaf arena")
	}
	f, err := fib.New[H](cfg.fibSize)
	if err != nil {
		return nil, errors.Wrap(err, "poptrie")
	}

	t := &Table[H]{
		log:     cfg.logger.WithField("component", "poptrie"),
		metrics: newMetrics(cfg.registerer),
		alt:     newDirTable(),
		nodes:   nodes,
		leaves:  leaves,
		rib:     rib.New(),
		fib:     f,
	}
	t.dir.Store(newDirTable())
	t.updateGauges()

	t.log.WithFields(logrus.Fields{
		"nodeArena": nodes.alloc.Capacity(),
		"leafArena": leaves.alloc.Capacity(),
		"fibSize":   f.Cap(),
	}).Debug("table created")

	return t, nil
}

// Insert adds the route prefix/length with next hop h. Bits of prefix
// beyond length are ignored.
//
// Errors: ErrDuplicateRoute, ErrInvalidPrefix, ErrTableFull and
// ErrAllocationFailure. On error the table is unchanged.
func (t *Table[H]) Insert(prefix uint32, length uint8, h H) error {
	start := time.Now()
	err := t.insert(prefix, length, h)
	t.observe(rib.OpInsert, prefix, length, start, err)
	return err
}

func (t *Table[H]) insert(prefix uint32, length uint8, h H) error {
	if length > rib.MaxLength {
		return errors.Wrapf(ErrInvalidPrefix, "length %d", length)
	}

	nh, err := t.fib.Acquire(h)
	if err != nil {
		return err
	}

	m, err := t.rib.Insert(prefix, length, nh)
	if err != nil {
		t.fib.Release(nh)
		return err
	}

	if err := t.update(m); err != nil {
		t.rib.Rollback(m)
		t.fib.Release(nh)
		return err
	}

	t.rib.Commit(m)
	return nil
}

// Change replaces the next hop of the route prefix/length by h.
//
// Errors: ErrNoSuchRoute, ErrInvalidPrefix, ErrTableFull and
// ErrAllocationFailure. On error the table is unchanged.
func (t *Table[H]) Change(prefix uint32, length uint8, h H) error {
	start := time.Now()
	err := t.change(prefix, length, h)
	t.observe(rib.OpChange, prefix, length, start, err)
	return err
}

func (t *Table[H]) change(prefix uint32, length uint8, h H) error {
	if length > rib.MaxLength {
		return errors.Wrapf(ErrInvalidPrefix, "length %d", length)
	}

	nh, err := t.fib.Acquire(h)
	if err != nil {
		return err
	}

	m, err := t.rib.Change(prefix, length, nh)
	if err != nil {
		t.fib.Release(nh)
		return err
	}

	if m.OldNexthop == nh {
		t.rib.Commit(m)
		t.fib.Release(nh)
		return nil
	}

	if err := t.update(m); err != nil {
		t.rib.Rollback(m)
		t.fib.Release(nh)
		return err
	}

	t.rib.Commit(m)
	t.fib.Release(m.OldNexthop)
	return nil
}

// Update sets the next hop of prefix/length to h, inserting the route
// if it does not exist yet.
func (t *Table[H]) Update(prefix uint32, length uint8, h H) error {
	if length > rib.MaxLength {
		return errors.Wrapf(ErrInvalidPrefix, "length %d", length)
	}
	if _, ok := t.rib.Contains(prefix, length); ok {
		return t.Change(prefix, length, h)
	}
	return t.Insert(prefix, length, h)
}

// Delete removes the route prefix/length, addresses fall back to the
// next shorter covering route.
//
// Errors: ErrNoSuchRoute, ErrInvalidPrefix and ErrAllocationFailure.
// On error the table is unchanged.
func (t *Table[H]) Delete(prefix uint32, length uint8) error {
	start := time.Now()
	err := t.delete(prefix, length)
	t.observe(rib.OpDelete, prefix, length, start, err)
	return err
}

func (t *Table[H]) delete(prefix uint32, length uint8) error {
	m, err := t.rib.Delete(prefix, length)
	if err != nil {
		return err
	}

	if err := t.update(m); err != nil {
		t.rib.Rollback(m)
		return err
	}

	t.rib.Commit(m)
	t.fib.Release(m.OldNexthop)
	return nil
}

// InsertPrefix is the netip variant of Insert.
func (t *Table[H]) InsertPrefix(pfx netip.Prefix, h H) error {
	prefix, length, err := prefixToKey(pfx)
	if err != nil {
		return err
	}
	return t.Insert(prefix, length, h)
}

// ChangePrefix is the netip variant of Change.
func (t *Table[H]) ChangePrefix(pfx netip.Prefix, h H) error {
	prefix, length, err := prefixToKey(pfx)
	if err != nil {
		return err
	}
	return t.Change(prefix, length, h)
}

// UpdatePrefix is the netip variant of Update.
func (t *Table[H]) UpdatePrefix(pfx netip.Prefix, h H) error {
	prefix, length, err := prefixToKey(pfx)
	if err != nil {
		return err
	}
	return t.Update(prefix, length, h)
}

// DeletePrefix is the netip variant of Delete.
func (t *Table[H]) DeletePrefix(pfx netip.Prefix) error {
	prefix, length, err := prefixToKey(pfx)
	if err != nil {
		return err
	}
	return t.Delete(prefix, length)
}

// Len returns the number of routes.
func (t *Table[H]) Len() int {
	return t.rib.Len()
}

func prefixToKey(pfx netip.Prefix) (uint32, uint8, error) {
	if !pfx.IsValid() {
		return 0, 0, errors.Wrapf(ErrInvalidPrefix, "%s", pfx)
	}
	if !pfx.Addr().Is4() {
		return 0, 0, errors.Wrapf(ErrIPv6Unsupported, "%s", pfx)
	}
	pfx = pfx.Masked()
	return addrToKey(pfx.Addr()), uint8(pfx.Bits()), nil
}

// observe logs and counts a finished mutation.
func (t *Table[H]) observe(op rib.Op, prefix uint32, length uint8, start time.Time, err error) {
	elapsed := time.Since(start)
	result := resultLabel(err)

	t.metrics.updates.WithLabelValues(op.String(), result).Inc()
	t.metrics.updateDuration.WithLabelValues(op.String()).Observe(elapsed.Seconds())
	t.updateGauges()

	if err == nil && !t.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}

	if length > rib.MaxLength {
		length = rib.MaxLength
	}
	entry := t.log.WithFields(logrus.Fields{
		"op":       op.String(),
		"prefix":   rib.PrefixFrom(rib.Mask(prefix, length), length).String(),
		"duration": elapsed,
	})

	switch {
	case err == nil:
		entry.Debug("route updated")
	case errors.Is(err, ErrAllocationFailure), errors.Is(err, ErrTableFull):
		entry.WithError(err).Warn("route update failed")
	default:
		entry.WithError(err).Debug("route update rejected")
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrDuplicateRoute):
		return "duplicate"
	case errors.Is(err, ErrNoSuchRoute):
		return "no_such_route"
	case errors.Is(err, ErrTableFull):
		return "table_full"
	case errors.Is(err, ErrAllocationFailure):
		return "allocation_failure"
	case errors.Is(err, ErrInvalidPrefix):
		return "invalid_prefix"
	}
	return "error"
}

func (t *Table[H]) updateGauges() {
	t.metrics.routes.Set(float64(t.rib.Len()))
	t.metrics.fibEntries.Set(float64(t.fib.Len()))
	t.metrics.arenaUsed.WithLabelValues(nodeKind.String()).Set(float64(t.nodes.alloc.UsedSlots()))
	t.metrics.arenaUsed.WithLabelValues(leafKind.String()).Set(float64(t.leaves.alloc.UsedSlots()))
}
