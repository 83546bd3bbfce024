package duckdb

import (
	"testing"

	"github.com/tinytelemetry/rutrace/internal/model"
)

func TestRunWriterChunks(t *testing.T) {
	s := newTestStore(t)
	id := createFile(t, s, "du_rpc.log")
	w := s.NewRunWriter(id)
	w.chunk = 2

	var msgs []model.Message
	for i := int64(1); i <= 5; i++ {
		msgs = append(msgs, model.Message{ID: i, LineNumber: int(i), SessionID: 1, Kind: model.KindNotification, Direction: model.FromRadio})
	}
	if err := w.AddMessages(msgs); err != nil {
		t.Fatalf("AddMessages: %v", err)
	}
	if err := w.AddMessages(nil); err != nil {
		t.Fatalf("AddMessages(nil): %v", err)
	}

	got, total, err := s.ListMessages(id, model.MessageFilter{})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if total != 5 || len(got) != 5 {
		t.Fatalf("stored %d messages, want 5", total)
	}
	if got[0].Timestamp != nil || got[0].LatencyMS != nil || got[0].MessageID != "" {
		t.Errorf("nullable columns not preserved: %+v", got[0])
	}
}

func TestRunWriterKeepsWideSessionIDs(t *testing.T) {
	s := newTestStore(t)
	id := createFile(t, s, "du_rpc.log")
	const session = 1<<40 + 7

	w := s.NewRunWriter(id)
	if err := w.AddMessages([]model.Message{{ID: 1, LineNumber: 1, SessionID: session,
		Kind: model.KindRequest, Direction: model.ToRadio, Content: "<rpc/>"}}); err != nil {
		t.Fatalf("AddMessages: %v", err)
	}
	if err := w.AddErrors([]model.ErrorEvent{{ID: 1, MessageRef: 1, LineNumber: 1, SessionID: session,
		Kind: model.ErrorProtocol}}); err != nil {
		t.Fatalf("AddErrors: %v", err)
	}
	if err := w.AddCarrierEvents([]model.CarrierEvent{{ID: 1, MessageRef: 1, LineNumber: 1, SessionID: session,
		Kind: model.CarrierCreate, CarrierType: "tx", CarrierName: "txcc0", Direction: model.ToRadio,
		MessageKind: model.KindRequest}}); err != nil {
		t.Fatalf("AddCarrierEvents: %v", err)
	}

	msg, err := s.GetMessage(id, 1)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if msg.SessionID != session {
		t.Errorf("message session = %d, want %d", msg.SessionID, session)
	}
	ev, err := s.GetError(id, 1)
	if err != nil || ev.SessionID != session {
		t.Errorf("error session = %v, %v", ev, err)
	}
	ce, err := s.GetCarrierEvent(id, 1)
	if err != nil || ce.SessionID != session {
		t.Errorf("carrier session = %v, %v", ce, err)
	}
}
