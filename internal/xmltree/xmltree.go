// Package xmltree turns NETCONF markup fragments into element trees and
// decides whether an accumulated fragment is a complete document.
package xmltree

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/beevik/etree"
)

var (
	// ErrIncomplete is returned by Parse for fragments that are not a
	// single, fully closed document.
	ErrIncomplete = errors.New("xmltree: incomplete document")
	// ErrNoRoot is returned by Recover when no element was ever opened.
	ErrNoRoot = errors.New("xmltree: no root element")
)

// scanState is the result of a strict token scan over a fragment.
type scanState struct {
	open    []xml.Name // elements still open when the scan stopped
	roots   int        // top-level elements started
	stray   bool       // non-whitespace text outside the root
	good    int64      // offset just past the last well-formed token
	rootEnd int64      // offset just past the first root's end tag, or -1
	err     error
}

func scan(s string) scanState {
	dec := xml.NewDecoder(strings.NewReader(s))
	dec.Strict = true
	st := scanState{rootEnd: -1}
	for {
		tok, err := dec.RawToken()
		if err == io.EOF {
			return st
		}
		if err != nil {
			st.err = err
			return st
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if len(st.open) == 0 {
				st.roots++
			}
			st.open = append(st.open, t.Name)
		case xml.EndElement:
			if len(st.open) == 0 || st.open[len(st.open)-1] != t.Name {
				st.err = fmt.Errorf("xmltree: unexpected end tag </%s>", qualified(t.Name))
				return st
			}
			st.open = st.open[:len(st.open)-1]
			if len(st.open) == 0 && st.rootEnd < 0 {
				st.rootEnd = dec.InputOffset()
			}
		case xml.CharData:
			if len(st.open) == 0 && len(bytes.TrimSpace(t)) > 0 {
				st.stray = true
			}
		}
		st.good = dec.InputOffset()
	}
}

func qualified(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

// IsComplete reports whether s is exactly one well-formed element with
// every tag closed. Surrounding whitespace, declarations and comments are
// allowed.
func IsComplete(s string) bool {
	st := scan(s)
	return st.err == nil && len(st.open) == 0 && st.roots == 1 && !st.stray
}

// Parse builds the tree of a complete document and returns its root.
func Parse(s string) (*etree.Element, error) {
	if !IsComplete(s) {
		return nil, ErrIncomplete
	}
	return build(s)
}

// Recover makes a best-effort tree out of a fragment that never became
// complete. The text is cut at the last well-formed token, still-open
// elements are closed in order, and anything after the first root is
// discarded.
func Recover(s string) (*etree.Element, error) {
	st := scan(s)
	if st.roots == 0 {
		return nil, ErrNoRoot
	}
	if st.rootEnd >= 0 {
		return build(s[:st.rootEnd])
	}
	var b strings.Builder
	b.WriteString(s[:st.good])
	for i := len(st.open) - 1; i >= 0; i-- {
		b.WriteString("</")
		b.WriteString(qualified(st.open[i]))
		b.WriteString(">")
	}
	return build(b.String())
}

func build(s string) (*etree.Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(s); err != nil {
		return nil, fmt.Errorf("xmltree: read document: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, ErrNoRoot
	}
	return root, nil
}
