package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tinytelemetry/rutrace/internal/ingest"
	"github.com/tinytelemetry/rutrace/internal/model"
)

type failingSink struct{ ingest.MemorySink }

func (*failingSink) AddMessages([]model.Message) error { return errors.New("disk full") }

func TestWrapCountsDeliveredRecords(t *testing.T) {
	r := NewRegistry()
	mem := &ingest.MemorySink{}
	sink := r.Wrap(mem)

	latency := 120.0
	msgs := []model.Message{
		{ID: 1, Kind: model.KindRequest, LatencyMS: &latency},
		{ID: 2, Kind: model.KindReply, LatencyMS: &latency},
		{ID: 3, Kind: model.KindNotification},
	}
	if err := sink.AddMessages(msgs); err != nil {
		t.Fatalf("AddMessages: %v", err)
	}
	if err := sink.AddErrors([]model.ErrorEvent{{Kind: model.ErrorFault}}); err != nil {
		t.Fatalf("AddErrors: %v", err)
	}
	if err := sink.AddCarrierEvents([]model.CarrierEvent{{Kind: model.CarrierUpdate}, {Kind: model.CarrierUpdate}}); err != nil {
		t.Fatalf("AddCarrierEvents: %v", err)
	}

	if len(mem.Messages) != 3 {
		t.Fatalf("next sink got %d messages", len(mem.Messages))
	}
	if got := testutil.ToFloat64(r.Messages.WithLabelValues("rpc")); got != 1 {
		t.Errorf("rpc messages = %v", got)
	}
	if got := testutil.ToFloat64(r.Errors.WithLabelValues("fault")); got != 1 {
		t.Errorf("faults = %v", got)
	}
	if got := testutil.ToFloat64(r.CarrierEvents.WithLabelValues("update")); got != 2 {
		t.Errorf("carrier updates = %v", got)
	}
	if got := testutil.CollectAndCount(r.RPCLatency); got != 1 {
		t.Errorf("latency series = %d", got)
	}
}

func TestWrapDoesNotCountFailedDelivery(t *testing.T) {
	r := NewRegistry()
	sink := r.Wrap(&failingSink{})

	if err := sink.AddMessages([]model.Message{{Kind: model.KindRequest}}); err == nil {
		t.Fatal("expected error from next sink")
	}
	if got := testutil.ToFloat64(r.Messages.WithLabelValues("rpc")); got != 0 {
		t.Errorf("rpc messages = %v, want 0", got)
	}
}

func TestHandlerExposesRegistry(t *testing.T) {
	r := NewRegistry()
	r.ObserveRun(model.StatusCompleted, model.Counts{Lines: 10}, 50*time.Millisecond)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`rutrace_parse_runs_total{status="completed"} 1`,
		`rutrace_trace_lines_total 10`,
		`go_goroutines`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
