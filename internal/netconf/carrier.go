package netconf

import (
	"github.com/beevik/etree"

	"github.com/tinytelemetry/rutrace/internal/model"
	"github.com/tinytelemetry/rutrace/internal/xmltree"
)

const carrierSearchDepth = 15

var (
	carrierNameFields  = []string{"name", "carrier-name", "id", "endpoint-name", "link-name"}
	carrierStateFields = []string{"state", "admin-state", "operational-state", "active"}
	detailExcluded     = map[string]bool{"name": true, "carrier-name": true, "id": true}
)

// carrierScan carries what every event found in one message shares.
type carrierScan struct {
	env       Envelope
	kind      model.CarrierEventKind
	operation string
	msgKind   model.MessageKind
}

// carriers searches the subtree under content for carrier elements and
// returns one event per matched resource, in document order.
func (x *Extractor) carriers(content *etree.Element, s carrierScan) []model.CarrierEvent {
	type frame struct {
		el          *etree.Element
		parentDepth int
	}
	var (
		out   []model.CarrierEvent
		stack []frame
	)
	push := func(parent *etree.Element, depth int) {
		children := parent.ChildElements()
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, frame{children[i], depth})
		}
	}
	push(content, 0)
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if x.vocab.IsCarrier(f.el.Tag) {
			if ev, ok := x.carrierEvent(f.el, s); ok {
				out = append(out, ev)
			}
			continue
		}
		if f.parentDepth+1 <= carrierSearchDepth {
			push(f.el, f.parentDepth+1)
		}
	}
	return out
}

func (x *Extractor) carrierEvent(el *etree.Element, s carrierScan) (model.CarrierEvent, bool) {
	if s.env.Direction == model.FromRadio && x.vocab.IsStatic(el.Tag) {
		return model.CarrierEvent{}, false
	}
	if !xmltree.IsStructured(el) {
		return model.CarrierEvent{}, false
	}

	kind := s.kind
	if op, ok := xmltree.Attr(el, "operation"); ok {
		switch op {
		case "create":
			kind = model.CarrierCreate
		case "delete":
			kind = model.CarrierDelete
		case "merge", "replace":
			kind = model.CarrierUpdate
		}
	}

	name := firstText(el, carrierNameFields)
	if name == "" {
		name = "unknown"
	}

	return model.CarrierEvent{
		LineNumber:  s.env.Line,
		Timestamp:   s.env.Timestamp,
		SessionID:   s.env.SessionID,
		Kind:        kind,
		CarrierType: el.Tag,
		CarrierName: name,
		State:       firstText(el, carrierStateFields),
		Operation:   s.operation,
		Direction:   s.env.Direction,
		MessageKind: s.msgKind,
		Details:     carrierDetails(el),
		Content:     s.env.Content,
	}, true
}

func firstText(el *etree.Element, fields []string) string {
	for _, f := range fields {
		if v := xmltree.ChildText(el, f); v != "" {
			return v
		}
	}
	return ""
}

// carrierDetails collects the scalar children of a carrier element. Leaves
// that repeat are lists, not scalars, and are left out.
func carrierDetails(el *etree.Element) map[string]string {
	counts := make(map[string]int)
	for _, c := range el.ChildElements() {
		counts[c.Tag]++
	}
	var details map[string]string
	for _, c := range el.ChildElements() {
		if detailExcluded[c.Tag] || counts[c.Tag] > 1 || !xmltree.IsLeaf(c) {
			continue
		}
		v := xmltree.Text(c)
		if v == "" {
			continue
		}
		if details == nil {
			details = make(map[string]string)
		}
		details[c.Tag] = v
	}
	return details
}
