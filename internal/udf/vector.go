// Package udf adapts embedding services to a columnar scalar-function contract
// and registers them into an embedded SQL engine.
package udf

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// StringVector is one VARCHAR input column. Bytes may return invalid UTF-8.
type StringVector interface {
	Len() int
	Bytes(i int) []byte
}

// Strings is a StringVector over Go strings.
type Strings []string

func (s Strings) Len() int           { return len(s) }
func (s Strings) Bytes(i int) []byte { return []byte(s[i]) }

// ToStrings copies in into owned strings, replacing invalid UTF-8 with U+FFFD.
func ToStrings(in StringVector) []string {
	out := make([]string, in.Len())
	for i := range out {
		b := in.Bytes(i)
		if utf8.Valid(b) {
			out[i] = string(b)
		} else {
			out[i] = strings.ToValidUTF8(string(b), string(utf8.RuneError))
		}
	}
	return out
}

// ListEntry locates one row's values in a ListVector's child.
type ListEntry struct {
	Offset int
	Length int
}

// ListVector is a LIST(FLOAT) output column: a flat child plus one entry per row.
type ListVector struct {
	Child   []float32
	Entries []ListEntry
	n       int
}

// SetLen sets the number of rows.
func (v *ListVector) SetLen(n int) { v.n = n }

// Len is the number of rows.
func (v *ListVector) Len() int { return v.n }

// Row returns row i's values. It aliases the child.
func (v *ListVector) Row(i int) []float32 {
	e := v.Entries[i]
	return v.Child[e.Offset : e.Offset+e.Length]
}

// WriteLists replaces out's contents with vecs, row i holding vecs[i].
func WriteLists(out *ListVector, vecs [][]float32) error {
	total := 0
	for i, v := range vecs {
		if v == nil {
			return fmt.Errorf("row %d has no vector", i)
		}
		total += len(v)
	}

	out.Child = make([]float32, 0, total)
	out.Entries = make([]ListEntry, len(vecs))
	for i, v := range vecs {
		out.Entries[i] = ListEntry{Offset: len(out.Child), Length: len(v)}
		out.Child = append(out.Child, v...)
	}
	out.SetLen(len(vecs))
	return nil
}
