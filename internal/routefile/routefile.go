// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

// Package routefile reads and writes IPv4 route lists, one route per line:
//
//	# prefix        nexthop     [interface]
//	10.0.0.0/8      192.0.2.1   eth0
//	10.1.0.0/16     192.0.2.2
//
// Empty lines and lines starting with '#' are skipped. Gzip compressed
// input is detected by its magic bytes.
package routefile

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// ErrSyntax is returned for malformed route lines.
var ErrSyntax = errors.New("routefile: syntax error")

var gzipMagic = []byte{0x1f, 0x8b}

// Route is a single line of a route file.
type Route struct {
	Prefix  netip.Prefix
	Nexthop netip.Addr
	Iface   string
}

// Handle returns the next-hop handle, the nexthop address with the
// interface as zone, e.g. "192.0.2.1%eth0".
func (r Route) Handle() string {
	if r.Iface == "" {
		return r.Nexthop.String()
	}
	return r.Nexthop.String() + "%" + r.Iface
}

func (r Route) String() string {
	if r.Iface == "" {
		return fmt.Sprintf("%s %s", r.Prefix, r.Nexthop)
	}
	return fmt.Sprintf("%s %s %s", r.Prefix, r.Nexthop, r.Iface)
}

// ParseLine parses a single route line, ok is false for empty and
// comment lines. Host bits of the prefix are masked.
func ParseLine(line string) (r Route, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] == '#' {
		return r, false, nil
	}

	fields := strings.Fields(line)
	if len(fields) < 2 || len(fields) > 3 {
		return r, false, errors.Wrapf(ErrSyntax, "want 2 or 3 fields, got %d", len(fields))
	}

	pfx, err := netip.ParsePrefix(fields[0])
	if err != nil {
		return r, false, errors.Wrap(ErrSyntax, err.Error())
	}
	if !pfx.Addr().Is4() {
		return r, false, errors.Wrapf(ErrSyntax, "%s: not an IPv4 prefix", pfx)
	}

	nh, err := netip.ParseAddr(fields[1])
	if err != nil {
		return r, false, errors.Wrap(ErrSyntax, err.Error())
	}

	r = Route{Prefix: pfx.Masked(), Nexthop: nh}
	if len(fields) == 3 {
		r.Iface = fields[2]
	}
	return r, true, nil
}

// Read returns the routes from r, plain text or gzip compressed.
func Read(r io.Reader) ([]Route, error) {
	br := bufio.NewReader(r)

	var src io.Reader = br
	if magic, _ := br.Peek(len(gzipMagic)); bytes.Equal(magic, gzipMagic) {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, errors.Wrap(err, "routefile")
		}
		defer zr.Close()
		src = zr
	}

	var routes []Route
	scanner := bufio.NewScanner(src)
	for n := 1; scanner.Scan(); n++ {
		route, ok, err := ParseLine(scanner.Text())
		if err != nil {
			return nil, errors.WithMessagef(err, "line %d", n)
		}
		if ok {
			routes = append(routes, route)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "routefile")
	}

	return routes, nil
}

// ReadFile reads the routes from the named file.
func ReadFile(name string) ([]Route, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, errors.Wrap(err, "routefile")
	}
	defer f.Close()

	return Read(f)
}

// Write writes routes to w, gzip compressed if compress is set.
func Write(w io.Writer, routes []Route, compress bool) error {
	var zw *gzip.Writer
	if compress {
		zw = gzip.NewWriter(w)
		w = zw
	}

	bw := bufio.NewWriter(w)
	for _, r := range routes {
		if _, err := fmt.Fprintln(bw, r); err != nil {
			return errors.Wrap(err, "routefile")
		}
	}
	if err := bw.Flush(); err != nil {
		return errors.Wrap(err, "routefile")
	}

	if zw != nil {
		return errors.Wrap(zw.Close(), "routefile")
	}
	return nil
}

// WriteFile writes routes to the named file, gzip compressed if the
// name ends with ".gz".
func WriteFile(name string, routes []Route) error {
	f, err := os.Create(name)
	if err != nil {
		return errors.Wrap(err, "routefile")
	}

	if err := Write(f, routes, strings.HasSuffix(name, ".gz")); err != nil {
		f.Close()
		return err
	}
	return errors.Wrap(f.Close(), "routefile")
}
