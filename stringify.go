// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package poptrie

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// MarshalText implements the [encoding.TextMarshaler] interface,
// just a wrapper for [Table.Fprint].
func (t *Table[H]) MarshalText() ([]byte, error) {
	w := new(bytes.Buffer)
	if err := t.Fprint(w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// String returns a hierarchical tree diagram of the routes,
// just a wrapper for [Table.Fprint]. If Fprint returns an error,
// String panics.
func (t *Table[H]) String() string {
	w := new(strings.Builder)
	if err := t.Fprint(w); err != nil {
		panic(err)
	}
	return w.String()
}

// Fprint writes a hierarchical tree diagram of the routes with their
// default formatted handles to w.
//
//	▼
//	├─ 10.0.0.0/8 (eth0)
//	│  ├─ 10.0.0.0/24 (eth1)
//	│  └─ 10.0.1.0/24 (eth1)
//	└─ 192.168.0.0/16 (eth2)
//	   └─ 192.168.1.0/24 (eth3)
func (t *Table[H]) Fprint(w io.Writer) error {
	list := t.DumpList()
	if len(list) == 0 {
		return nil
	}

	if _, err := fmt.Fprint(w, "▼\n"); err != nil {
		return err
	}
	return fprintRec(w, list, "")
}

func fprintRec[H any](w io.Writer, list []ListElement[H], pad string) error {
	glyphe := "├─ "
	spacer := "│  "

	for i, el := range list {
		// last element
		if i == len(list)-1 {
			glyphe = "└─ "
			spacer = "   "
		}

		if _, err := fmt.Fprintf(w, "%s%s (%v)\n", pad+glyphe, el.Cidr, el.Value); err != nil {
			return err
		}
		if err := fprintRec(w, el.Subnets, pad+spacer); err != nil {
			return err
		}
	}
	return nil
}
