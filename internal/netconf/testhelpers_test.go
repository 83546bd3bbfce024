package netconf

import (
	"testing"
	"time"

	"github.com/beevik/etree"

	"github.com/tinytelemetry/rutrace/internal/model"
	"github.com/tinytelemetry/rutrace/internal/xmltree"
)

func mustParse(t *testing.T, markup string) *etree.Element {
	t.Helper()
	root, err := xmltree.Parse(markup)
	if err != nil {
		t.Fatalf("parse %q: %v", markup, err)
	}
	return root
}

func envelope(dir model.Direction, content string) Envelope {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return Envelope{Line: 3, Timestamp: &ts, Host: "10.0.0.2", SessionID: 7, Direction: dir, Content: content}
}

func extract(t *testing.T, dir model.Direction, markup string) Result {
	t.Helper()
	res, ok := NewExtractor(nil).Extract(envelope(dir, markup), mustParse(t, markup))
	if !ok {
		t.Fatalf("Extract(%q) not classified", markup)
	}
	return res
}
