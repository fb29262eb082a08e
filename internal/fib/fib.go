// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

// Package fib implements the next-hop table referenced by index from the
// route trie and the compressed lookup index.
//
// Identical next hops share one refcounted slot. Slot 0 is reserved for the
// zero handle, the "no route" result, and is never reassigned.
//
// Acquire and Release belong to the single writer, Handle may be called
// concurrently with them.
package fib

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// ErrTableFull is returned when no slot matches and none is free.
var ErrTableFull = errors.New("fib: table full")

// Index addresses a slot in the table.
type Index uint32

// NoRoute is the reserved slot holding the zero handle.
const NoRoute Index = 0

// Table is a fixed size, refcounted table of next-hop handles.
type Table[H comparable] struct {
	entries []entry[H]
	used    int // slots with refs > 0, without slot 0
}

type entry[H comparable] struct {
	handle atomic.Pointer[H]
	refs   int
}

// New returns a table with size slots, including the reserved slot 0.
func New[H comparable](size int) (*Table[H], error) {
	if size < 2 {
		return nil, errors.Errorf("fib: size %d too small", size)
	}

	t := &Table[H]{entries: make([]entry[H], size)}
	t.entries[NoRoute].handle.Store(new(H))
	t.entries[NoRoute].refs = 1

	return t, nil
}

// Acquire returns the slot for h and takes a reference on it.
// An existing slot with an equal handle is shared, otherwise the first
// unreferenced slot is taken over.
func (t *Table[H]) Acquire(h H) (Index, error) {
	for i := range t.entries {
		e := &t.entries[i]
		if p := e.handle.Load(); p != nil && *p == h {
			if e.refs <= 0 {
				if i != int(NoRoute) {
					t.used++
				}
				e.refs = 0
			}
			e.refs++
			return Index(i), nil
		}
	}

	for i := 1; i < len(t.entries); i++ {
		e := &t.entries[i]
		if e.refs <= 0 {
			hc := h
			e.handle.Store(&hc)
			e.refs = 1
			t.used++
			return Index(i), nil
		}
	}

	return NoRoute, errors.Wrapf(ErrTableFull, "%d slots", len(t.entries))
}

// Release drops one reference of slot i. The handle stays in place until
// the slot is reused, concurrent readers may still resolve it.
func (t *Table[H]) Release(i Index) {
	if int(i) >= len(t.entries) {
		return
	}
	e := &t.entries[i]
	if e.refs <= 0 {
		return
	}
	e.refs--
	if e.refs == 0 && i != NoRoute {
		t.used--
	}
}

// Handle returns the handle stored in slot i, the zero value for
// unknown slots.
func (t *Table[H]) Handle(i Index) H {
	var zero H
	if int(i) >= len(t.entries) {
		return zero
	}
	if p := t.entries[i].handle.Load(); p != nil {
		return *p
	}
	return zero
}

// Refs returns the reference count of slot i.
func (t *Table[H]) Refs(i Index) int {
	if int(i) >= len(t.entries) {
		return 0
	}
	return t.entries[i].refs
}

// Len returns the number of referenced slots, slot 0 not counted.
func (t *Table[H]) Len() int {
	return t.used
}

// Cap returns the number of slots.
func (t *Table[H]) Cap() int {
	return len(t.entries)
}
