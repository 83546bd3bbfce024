package netconf

import (
	"strings"

	"github.com/beevik/etree"

	"github.com/tinytelemetry/rutrace/internal/xmltree"
)

const (
	moduleWalkDepth = 10
	maxModules      = 3
)

// Resolver names the protocol modules an operation element belongs to.
type Resolver struct {
	vocab *Vocabulary
}

// NewResolver returns a Resolver over vocab.
func NewResolver(vocab *Vocabulary) Resolver {
	return Resolver{vocab: vocab}
}

// Operation resolves the module of an operation element. The element's own
// non-base namespace wins; otherwise the operation-specific subtree is
// walked. When neither yields a module, the element's own namespace is
// mapped as-is, which can name the base module.
func (r Resolver) Operation(op *etree.Element) string {
	if !xmltree.IsStructured(op) {
		return ""
	}
	if m := r.Specific(op); m != "" {
		return m
	}
	if ns := xmltree.DefaultNamespace(op); ns != "" {
		return r.vocab.Module(ns)
	}
	return ""
}

// Specific is the two-step resolution without the final fallback.
func (r Resolver) Specific(op *etree.Element) string {
	if ns := xmltree.DefaultNamespace(op); ns != "" && ns != BaseNamespace {
		return r.vocab.Module(ns)
	}
	var target *etree.Element
	switch op.Tag {
	case "get", "get-config":
		target = xmltree.Child(op, "filter")
	case "edit-config":
		target = xmltree.Child(op, "config")
	default:
		target = op
	}
	if target == nil {
		return ""
	}
	return r.Collect(target)
}

// Collect walks the subtree rooted at e and returns up to three distinct
// modules declared anywhere in it, joined by ", ".
func (r Resolver) Collect(e *etree.Element) string {
	type frame struct {
		el    *etree.Element
		depth int
	}
	var (
		found []string
		seen  = make(map[string]bool)
	)
	stack := []frame{{e, 0}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.depth > moduleWalkDepth {
			continue
		}
		for _, ns := range xmltree.NamespaceDecls(f.el) {
			if ns == "" || ns == BaseNamespace {
				continue
			}
			m := r.vocab.Module(ns)
			if m == baseModule || seen[m] {
				continue
			}
			seen[m] = true
			found = append(found, m)
		}
		children := f.el.ChildElements()
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, frame{children[i], f.depth + 1})
		}
	}
	if len(found) > maxModules {
		found = found[:maxModules]
	}
	return strings.Join(found, ", ")
}
