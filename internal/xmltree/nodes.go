package xmltree

import (
	"strings"

	"github.com/beevik/etree"
)

// Child returns the first child element with the given local name.
func Child(e *etree.Element, local string) *etree.Element {
	if e == nil {
		return nil
	}
	for _, c := range e.ChildElements() {
		if c.Tag == local {
			return c
		}
	}
	return nil
}

// Children returns every child element with the given local name, in order.
func Children(e *etree.Element, local string) []*etree.Element {
	if e == nil {
		return nil
	}
	var out []*etree.Element
	for _, c := range e.ChildElements() {
		if c.Tag == local {
			out = append(out, c)
		}
	}
	return out
}

// FirstChildExcept returns the first child element whose local name is not
// in skip.
func FirstChildExcept(e *etree.Element, skip ...string) *etree.Element {
	if e == nil {
		return nil
	}
next:
	for _, c := range e.ChildElements() {
		for _, s := range skip {
			if c.Tag == s {
				continue next
			}
		}
		return c
	}
	return nil
}

// Attr returns the value of the first non-namespace attribute with the given
// local name, whatever its prefix.
func Attr(e *etree.Element, local string) (string, bool) {
	if e == nil {
		return "", false
	}
	for _, a := range e.Attr {
		if isNamespaceDecl(a) {
			continue
		}
		if a.Key == local {
			return a.Value, true
		}
	}
	return "", false
}

// DefaultNamespace returns the value of a default namespace declaration on e.
func DefaultNamespace(e *etree.Element) string {
	if e == nil {
		return ""
	}
	for _, a := range e.Attr {
		if a.Space == "" && a.Key == "xmlns" {
			return a.Value
		}
	}
	return ""
}

// NamespaceDecls returns the URIs of every default and prefixed namespace
// declaration on e, in attribute order.
func NamespaceDecls(e *etree.Element) []string {
	var out []string
	for _, a := range e.Attr {
		if isNamespaceDecl(a) {
			out = append(out, a.Value)
		}
	}
	return out
}

func isNamespaceDecl(a etree.Attr) bool {
	return a.Space == "xmlns" || (a.Space == "" && a.Key == "xmlns")
}

// Text returns the trimmed character data of e. It works for plain leaves
// and for leaves that also carry attributes.
func Text(e *etree.Element) string {
	if e == nil {
		return ""
	}
	return strings.TrimSpace(e.Text())
}

// ChildText returns the text of the first child with the given local name.
func ChildText(e *etree.Element, local string) string {
	return Text(Child(e, local))
}

// IsStructured reports whether e carries attributes or child elements.
func IsStructured(e *etree.Element) bool {
	return e != nil && (len(e.Attr) > 0 || len(e.ChildElements()) > 0)
}

// IsLeaf reports whether e has no child elements.
func IsLeaf(e *etree.Element) bool {
	return e != nil && len(e.ChildElements()) == 0
}
