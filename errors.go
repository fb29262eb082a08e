// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package poptrie

import (
	"github.com/pkg/errors"

	"github.com/gaissmai/poptrie/internal/fib"
	"github.com/gaissmai/poptrie/internal/rib"
)

var (
	// ErrDuplicateRoute is returned by Insert for an existing route.
	ErrDuplicateRoute = rib.ErrDuplicateRoute

	// ErrNoSuchRoute is returned by Change and Delete for a missing route.
	ErrNoSuchRoute = rib.ErrNoSuchRoute

	// ErrInvalidPrefix is returned for prefix lengths above 32 and
	// invalid netip values.
	ErrInvalidPrefix = rib.ErrInvalidPrefix

	// ErrTableFull is returned when the next-hop table has no slot left.
	ErrTableFull = fib.ErrTableFull

	// ErrAllocationFailure is returned when an arena ran out of blocks
	// during the rebuild. The table is left unchanged.
	ErrAllocationFailure = errors.New("allocation failure")

	// ErrIPv6Unsupported is returned by the netip methods for IPv6 input.
	ErrIPv6Unsupported = errors.New("IPv6 not supported")
)
