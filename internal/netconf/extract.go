package netconf

import (
	"time"

	"github.com/beevik/etree"

	"github.com/tinytelemetry/rutrace/internal/model"
	"github.com/tinytelemetry/rutrace/internal/xmltree"
)

// Envelope is the trace metadata of one reassembled message.
type Envelope struct {
	Line      int
	Timestamp *time.Time
	Host      string
	SessionID int
	Direction model.Direction
	Content   string
}

// Result is everything extracted from one message. Correlation is left to
// the caller, which owns the pending request index.
type Result struct {
	Message  model.Message
	Errors   []model.ErrorEvent
	Carriers []model.CarrierEvent
}

// Extractor classifies message trees and extracts their records. It holds
// no per-run state and may be shared.
type Extractor struct {
	vocab    *Vocabulary
	resolver Resolver
}

// NewExtractor returns an Extractor over vocab. A nil vocab uses
// DefaultVocabulary.
func NewExtractor(vocab *Vocabulary) *Extractor {
	if vocab == nil {
		vocab = DefaultVocabulary()
	}
	return &Extractor{vocab: vocab, resolver: NewResolver(vocab)}
}

// Vocabulary returns the tables the Extractor uses.
func (x *Extractor) Vocabulary() *Vocabulary { return x.vocab }

// Extract classifies root by its element name. It reports false for roots
// other than rpc, rpc-reply and notification.
func (x *Extractor) Extract(env Envelope, root *etree.Element) (Result, bool) {
	if root == nil {
		return Result{}, false
	}
	res := Result{Message: model.Message{
		LineNumber: env.Line,
		Timestamp:  env.Timestamp,
		SessionID:  env.SessionID,
		Host:       env.Host,
		Direction:  env.Direction,
		Content:    env.Content,
	}}
	switch root.Tag {
	case "rpc":
		x.request(env, root, &res)
	case "rpc-reply":
		x.reply(env, root, &res)
	case "notification":
		x.notification(env, root, &res)
	default:
		return Result{}, false
	}
	return res, true
}

func (x *Extractor) request(env Envelope, root *etree.Element, res *Result) {
	msg := &res.Message
	msg.Kind = model.KindRequest
	msg.MessageID, _ = xmltree.Attr(root, "message-id")
	if op := xmltree.FirstChildExcept(root); op != nil {
		msg.Operation = op.Tag
		msg.Module = x.resolver.Operation(op)
	}

	scan := carrierScan{env: env, operation: labelOr(msg.Operation, "unknown"), msgKind: msg.Kind}
	var content *etree.Element
	if edit := xmltree.Child(root, "edit-config"); edit != nil {
		content, scan.kind = xmltree.Child(edit, "config"), model.CarrierUpdate
	} else if get := xmltree.Child(root, "get"); get != nil {
		content, scan.kind = xmltree.Child(get, "filter"), model.CarrierQuery
	} else if getConfig := xmltree.Child(root, "get-config"); getConfig != nil {
		content, scan.kind = xmltree.Child(getConfig, "filter"), model.CarrierQuery
	}
	if content != nil {
		res.Carriers = x.carriers(content, scan)
	}
}

func (x *Extractor) reply(env Envelope, root *etree.Element, res *Result) {
	msg := &res.Message
	msg.Kind = model.KindReply
	msg.MessageID, _ = xmltree.Attr(root, "message-id")

	for _, rpcErr := range xmltree.Children(root, "rpc-error") {
		msg.IsError = true
		res.Errors = append(res.Errors, protocolError(env, rpcErr))
	}

	if sub := xmltree.FirstChildExcept(root, "ok", "rpc-error"); sub != nil {
		msg.Operation = sub.Tag
		if sub.Tag == "data" {
			if xmltree.IsStructured(sub) {
				msg.Module = x.resolver.Collect(sub)
			}
		} else {
			msg.Module = x.resolver.Operation(sub)
		}
	}

	if data := xmltree.Child(root, "data"); data != nil {
		res.Carriers = x.carriers(data, carrierScan{
			env:       env,
			kind:      model.CarrierData,
			operation: labelOr(msg.Operation, "reply"),
			msgKind:   msg.Kind,
		})
	}
}

func (x *Extractor) notification(env Envelope, root *etree.Element, res *Result) {
	msg := &res.Message
	msg.Kind = model.KindNotification

	sub := xmltree.FirstChildExcept(root, "eventTime")
	if sub != nil {
		msg.Operation = sub.Tag
		msg.Module = x.resolver.Operation(sub)
	}

	res.Carriers = x.carriers(root, carrierScan{
		env:       env,
		kind:      model.CarrierStateChange,
		operation: labelOr(msg.Operation, "notification"),
		msgKind:   msg.Kind,
	})

	if sub != nil && sub.Tag == "alarm-notif" {
		msg.IsError = true
		res.Errors = append(res.Errors, faultEvent(env, sub))
	}
}

func labelOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
