package netconf

import (
	"strings"

	"github.com/beevik/etree"

	"github.com/tinytelemetry/rutrace/internal/model"
	"github.com/tinytelemetry/rutrace/internal/xmltree"
)

// protocolError builds the ErrorEvent of one rpc-error element.
func protocolError(env Envelope, rpcErr *etree.Element) model.ErrorEvent {
	return model.ErrorEvent{
		LineNumber: env.Line,
		Timestamp:  env.Timestamp,
		SessionID:  env.SessionID,
		Kind:       model.ErrorProtocol,
		Layer:      xmltree.ChildText(rpcErr, "error-type"),
		Tag:        xmltree.ChildText(rpcErr, "error-tag"),
		Severity:   xmltree.ChildText(rpcErr, "error-severity"),
		Text:       xmltree.ChildText(rpcErr, "error-message"),
		Path:       xmltree.ChildText(rpcErr, "error-path"),
		Content:    env.Content,
	}
}

// faultEvent builds the ErrorEvent of an alarm-notif element.
func faultEvent(env Envelope, alarm *etree.Element) model.ErrorEvent {
	severity := xmltree.ChildText(alarm, "fault-severity")
	return model.ErrorEvent{
		LineNumber:  env.Line,
		Timestamp:   env.Timestamp,
		SessionID:   env.SessionID,
		Kind:        model.ErrorFault,
		Tag:         severity,
		Severity:    severity,
		Text:        xmltree.ChildText(alarm, "fault-text"),
		FaultID:     xmltree.ChildText(alarm, "fault-id"),
		FaultSource: xmltree.ChildText(alarm, "fault-source"),
		Cleared:     strings.EqualFold(xmltree.ChildText(alarm, "is-cleared"), "true"),
		Content:     env.Content,
	}
}
