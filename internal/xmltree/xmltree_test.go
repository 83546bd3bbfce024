package xmltree

import (
	"errors"
	"testing"
)

func TestIsComplete(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"self closing", `<ok/>`, true},
		{"nested", `<rpc message-id="1"><get><filter/></get></rpc>`, true},
		{"prefixed", `<nc:rpc xmlns:nc="urn:ietf:params:xml:ns:netconf:base:1.0"><nc:get/></nc:rpc>`, true},
		{"declaration and whitespace", "<?xml version=\"1.0\"?>\n <rpc/> \n", true},
		{"open root", `<rpc message-id="1"><get>`, false},
		{"truncated tag", `<rpc message-id="1"><get><fil`, false},
		{"truncated attribute", `<rpc message-id="1`, false},
		{"mismatched end", `<rpc><get></rpc></get>`, false},
		{"two roots", `<a/><b/>`, false},
		{"stray text", `<a/> trailing`, false},
		{"text only", `hello`, false},
		{"empty", ``, false},
		{"bad entity", `<a>&bogus;</a>`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsComplete(tt.in); got != tt.want {
				t.Errorf("IsComplete(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	root, err := Parse(`<rpc xmlns="urn:ietf:params:xml:ns:netconf:base:1.0" message-id="42"><get/></rpc>`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if root.Tag != "rpc" {
		t.Errorf("root = %q, want rpc", root.Tag)
	}
	if id, _ := Attr(root, "message-id"); id != "42" {
		t.Errorf("message-id = %q", id)
	}
	if ns := DefaultNamespace(root); ns != "urn:ietf:params:xml:ns:netconf:base:1.0" {
		t.Errorf("namespace = %q", ns)
	}

	if _, err := Parse(`<rpc><get>`); !errors.Is(err, ErrIncomplete) {
		t.Errorf("Parse(incomplete) err = %v, want ErrIncomplete", err)
	}
}

func TestRecover(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		root     string
		children []string
	}{
		{"open elements closed", `<rpc message-id="1"><edit-config><config>`, "rpc", []string{"edit-config"}},
		{"cut inside tag", `<rpc><get><filter xmlns="urn:o-ran:fm:1.0`, "rpc", []string{"get"}},
		{"cut inside text", `<rpc-reply><data>partial val`, "rpc-reply", []string{"data"}},
		{"prefixed open elements", `<nc:rpc xmlns:nc="urn:x"><nc:get>`, "rpc", []string{"get"}},
		{"second root dropped", `<rpc><get/></rpc><rpc-reply>`, "rpc", []string{"get"}},
		{"complete input", `<notification><eventTime>t</eventTime></notification>`, "notification", []string{"eventTime"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root, err := Recover(tt.in)
			if err != nil {
				t.Fatalf("Recover(%q): %v", tt.in, err)
			}
			if root.Tag != tt.root {
				t.Errorf("root = %q, want %q", root.Tag, tt.root)
			}
			var got []string
			for _, c := range root.ChildElements() {
				got = append(got, c.Tag)
			}
			if len(got) != len(tt.children) {
				t.Fatalf("children = %v, want %v", got, tt.children)
			}
			for i := range got {
				if got[i] != tt.children[i] {
					t.Errorf("child %d = %q, want %q", i, got[i], tt.children[i])
				}
			}
		})
	}
}

func TestRecoverNoRoot(t *testing.T) {
	for _, in := range []string{"", "plain text", "<"} {
		if _, err := Recover(in); err == nil {
			t.Errorf("Recover(%q) expected error", in)
		}
	}
}

func TestRecoverKeepsText(t *testing.T) {
	root, err := Recover(`<rpc-reply><data><name>cc1</name><state>ACT`)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	data := Child(root, "data")
	if got := ChildText(data, "name"); got != "cc1" {
		t.Errorf("name = %q", got)
	}
	if got := ChildText(data, "state"); got != "ACT" {
		t.Errorf("state = %q", got)
	}
}

func TestNodeHelpers(t *testing.T) {
	root, err := Parse(`<c xmlns="urn:a" xmlns:p="urn:b" p:operation="create" id="x">
		<name>n1</name><msg lang="en">  hello  </msg><list/><list/><sub><v>1</v></sub></c>`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if v, ok := Attr(root, "operation"); !ok || v != "create" {
		t.Errorf("operation attr = %q, %v", v, ok)
	}
	if _, ok := Attr(root, "p"); ok {
		t.Error("namespace declaration returned as attribute")
	}
	decls := NamespaceDecls(root)
	if len(decls) != 2 || decls[0] != "urn:a" || decls[1] != "urn:b" {
		t.Errorf("NamespaceDecls = %v", decls)
	}
	if got := ChildText(root, "msg"); got != "hello" {
		t.Errorf("msg text = %q", got)
	}
	if n := len(Children(root, "list")); n != 2 {
		t.Errorf("list children = %d", n)
	}
	if c := FirstChildExcept(root, "name", "msg"); c == nil || c.Tag != "list" {
		t.Errorf("FirstChildExcept = %v", c)
	}
	if IsStructured(Child(root, "list")) {
		t.Error("empty leaf reported structured")
	}
	if !IsStructured(Child(root, "msg")) {
		t.Error("leaf with attribute should be structured")
	}
	if IsLeaf(Child(root, "sub")) || !IsLeaf(Child(root, "name")) {
		t.Error("IsLeaf mismatch")
	}
}
