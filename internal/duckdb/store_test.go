package duckdb

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/tinytelemetry/rutrace/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createFile(t *testing.T, s *Store, name string) int64 {
	t.Helper()
	id, err := s.CreateFile(&model.LogFile{
		Filename:         "0000_" + name,
		OriginalFilename: name,
		Path:             "/tmp/rutrace/0000_" + name,
		Size:             42,
	})
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	return id
}

func ts(sec int) *time.Time {
	t := time.Date(2024, 3, 1, 10, 0, sec, 0, time.UTC)
	return &t
}

func ms(v float64) *float64 { return &v }

// seed stores a small run: a get request answered with an error, an
// edit-config with a carrier, and an alarm notification.
func seed(t *testing.T, s *Store, fileID int64) {
	t.Helper()
	w := s.NewRunWriter(fileID)
	msgs := []model.Message{
		{ID: 1, LineNumber: 1, Timestamp: ts(0), SessionID: 7, Host: "du1", MessageID: "101", Kind: model.KindRequest,
			Direction: model.ToRadio, Operation: "get", Module: "o-ran-uplane-conf", LatencyMS: ms(250), Responded: true,
			Content: `<rpc message-id="101"><get/></rpc>`},
		{ID: 2, LineNumber: 3, Timestamp: ts(1), SessionID: 7, MessageID: "101", Kind: model.KindReply,
			Direction: model.FromRadio, LatencyMS: ms(250), Responded: true, IsError: true,
			Content: `<rpc-reply message-id="101"><rpc-error/></rpc-reply>`},
		{ID: 3, LineNumber: 5, Timestamp: ts(2), SessionID: 7, MessageID: "102", Kind: model.KindRequest,
			Direction: model.ToRadio, Operation: "edit-config", LatencyMS: ms(40), Responded: true,
			Content: `<rpc message-id="102"><edit-config/></rpc>`},
		{ID: 4, LineNumber: 8, Timestamp: ts(3), SessionID: 7, Kind: model.KindNotification,
			Direction: model.FromRadio, Operation: "alarm-notif", IsError: true,
			Content: `<notification><alarm-notif/></notification>`},
	}
	errs := []model.ErrorEvent{
		{ID: 1, MessageRef: 2, LineNumber: 3, Timestamp: ts(1), SessionID: 7, Kind: model.ErrorProtocol,
			Layer: "application", Tag: "invalid-value", Severity: "error", Text: "bad", Path: "/x"},
		{ID: 2, MessageRef: 4, LineNumber: 8, Timestamp: ts(3), SessionID: 7, Kind: model.ErrorFault,
			Tag: "MAJOR", Severity: "MAJOR", Text: "link down", FaultID: "17", FaultSource: "port0", Cleared: true},
	}
	carriers := []model.CarrierEvent{
		{ID: 1, MessageRef: 3, LineNumber: 5, Timestamp: ts(2), SessionID: 7, Kind: model.CarrierUpdate,
			CarrierType: "tx-array-carriers", CarrierName: "txcc0", State: "ACTIVE", Operation: "edit-config",
			Direction: model.ToRadio, MessageKind: model.KindRequest, Details: map[string]string{"center-of-channel-bandwidth": "3500000000"}},
		{ID: 2, MessageRef: 4, LineNumber: 8, Timestamp: ts(3), SessionID: 7, Kind: model.CarrierStateChange,
			CarrierType: "tx-array-carriers", CarrierName: "txcc0", State: "INACTIVE", Operation: "notification",
			Direction: model.FromRadio, MessageKind: model.KindNotification},
		{ID: 3, MessageRef: 3, LineNumber: 5, Timestamp: ts(2), SessionID: 7, Kind: model.CarrierUpdate,
			CarrierType: "rx-array-carriers", CarrierName: "rxcc0", Operation: "edit-config",
			Direction: model.ToRadio, MessageKind: model.KindRequest},
	}
	if err := w.AddMessages(msgs); err != nil {
		t.Fatalf("AddMessages: %v", err)
	}
	if err := w.AddErrors(errs); err != nil {
		t.Fatalf("AddErrors: %v", err)
	}
	if err := w.AddCarrierEvents(carriers); err != nil {
		t.Fatalf("AddCarrierEvents: %v", err)
	}
	if err := s.MarkCompleted(fileID, model.Counts{Lines: 9, Messages: 4, Errors: 2}); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
}

func TestFileLifecycle(t *testing.T) {
	s := newTestStore(t)
	id := createFile(t, s, "du_rpc.log")

	f, err := s.GetFile(id)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if f.Status != model.StatusPending || f.OriginalFilename != "du_rpc.log" || f.Size != 42 {
		t.Fatalf("unexpected new file: %+v", f)
	}

	if err := s.MarkParsing(id); err != nil {
		t.Fatalf("MarkParsing: %v", err)
	}
	unfinished, err := s.UnfinishedFiles()
	if err != nil {
		t.Fatalf("UnfinishedFiles: %v", err)
	}
	if len(unfinished) != 1 || unfinished[0].Status != model.StatusParsing || unfinished[0].StartedAt == nil {
		t.Fatalf("unfinished = %+v", unfinished)
	}

	if err := s.MarkFailed(id, model.Counts{Lines: 3, Messages: 1}, errors.New("read trace at line 4: boom")); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	f, _ = s.GetFile(id)
	if f.Status != model.StatusFailed || f.ParseError != "read trace at line 4: boom" || f.Lines != 3 || f.FinishedAt == nil {
		t.Fatalf("failed file: %+v", f)
	}

	unfinished, _ = s.UnfinishedFiles()
	if len(unfinished) != 0 {
		t.Fatalf("failed file still unfinished: %+v", unfinished)
	}
}

func TestMissingFile(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.GetFile(99); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetFile err = %v, want ErrNotFound", err)
	}
	if _, err := s.DeleteFile(99); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteFile err = %v, want ErrNotFound", err)
	}
	if err := s.MarkParsing(99); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkParsing err = %v, want ErrNotFound", err)
	}
	if _, err := s.Statistics(99); !errors.Is(err, ErrNotFound) {
		t.Errorf("Statistics err = %v, want ErrNotFound", err)
	}
}

func TestListFilesNewestFirst(t *testing.T) {
	s := newTestStore(t)
	a := createFile(t, s, "a_rpc.log")
	b := createFile(t, s, "b_rpc.log")

	files, err := s.ListFiles()
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 2 || files[0].ID != b || files[1].ID != a {
		t.Fatalf("files = %+v", files)
	}
}

func TestDeleteFileRemovesRecords(t *testing.T) {
	s := newTestStore(t)
	keep := createFile(t, s, "keep_rpc.log")
	drop := createFile(t, s, "drop_rpc.log")
	seed(t, s, keep)
	seed(t, s, drop)

	f, err := s.DeleteFile(drop)
	if err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if f.Path != "/tmp/rutrace/0000_drop_rpc.log" {
		t.Errorf("deleted path = %q", f.Path)
	}

	counts, err := s.TableRowCounts()
	if err != nil {
		t.Fatalf("TableRowCounts: %v", err)
	}
	want := map[string]int64{"log_files": 1, "rpc_messages": 4, "error_messages": 2, "carrier_events": 3}
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Errorf("row counts (-want +got):\n%s", diff)
	}
}

func TestResetRecords(t *testing.T) {
	s := newTestStore(t)
	id := createFile(t, s, "du_rpc.log")
	seed(t, s, id)

	if err := s.ResetRecords(id); err != nil {
		t.Fatalf("ResetRecords: %v", err)
	}
	f, _ := s.GetFile(id)
	if f.Status != model.StatusPending || f.Messages != 0 || f.FinishedAt != nil {
		t.Fatalf("reset file: %+v", f)
	}
	msgs, total, err := s.ListMessages(id, model.MessageFilter{})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if total != 0 || len(msgs) != 0 {
		t.Fatalf("records survived reset: total=%d", total)
	}

	// Records can be written again under the same ids.
	seed(t, s, id)
	if _, total, _ = s.ListMessages(id, model.MessageFilter{}); total != 4 {
		t.Fatalf("reseeded total = %d, want 4", total)
	}
}
