package ingest

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/beevik/etree"

	"github.com/tinytelemetry/rutrace/internal/logparse"
	"github.com/tinytelemetry/rutrace/internal/model"
	"github.com/tinytelemetry/rutrace/internal/netconf"
	"github.com/tinytelemetry/rutrace/internal/reassembly"
	"github.com/tinytelemetry/rutrace/internal/xmltree"
)

// DefaultMaxLineBytes bounds a single physical trace line.
const DefaultMaxLineBytes = 16 << 20

// Options configures an Engine. The zero value is usable.
type Options struct {
	// MaxLineBytes bounds one physical line. Longer lines fail the run.
	MaxLineBytes int
	// Vocabulary holds the namespace and carrier tables. Nil uses the
	// built-in tables.
	Vocabulary *netconf.Vocabulary
	// Correlation bounds the pending request index.
	Correlation netconf.CorrelatorOptions
	// Complete overrides the markup completeness test.
	Complete reassembly.CompleteFunc
}

// Engine turns trace text into messages, errors and carrier events. An
// Engine holds only configuration; every Parse call owns its own state, so
// one Engine may serve concurrent runs.
type Engine struct {
	opts      Options
	extractor *netconf.Extractor
}

// NewEngine creates an Engine.
func NewEngine(opts Options) *Engine {
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = DefaultMaxLineBytes
	}
	return &Engine{opts: opts, extractor: netconf.NewExtractor(opts.Vocabulary)}
}

// Parse reads one trace from src and hands its records to sink at the end
// of the run. A read failure part-way still finalizes and delivers what was
// reconstructed before returning the error.
func (e *Engine) Parse(src io.Reader, sink RecordSink) (model.Counts, error) {
	r := &run{
		engine: e,
		asm:    reassembly.New(e.opts.Complete),
		corr:   netconf.NewCorrelator(e.opts.Correlation),
	}

	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 0, min(64*1024, e.opts.MaxLineBytes)), e.opts.MaxLineBytes)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		r.line(lineNo, sc.Text())
	}
	readErr := sc.Err()

	if u, ok := r.asm.Flush(); ok {
		r.emit(u)
	}
	if err := r.deliver(sink); err != nil {
		return r.counts, err
	}
	if readErr != nil {
		return r.counts, fmt.Errorf("read trace at line %d: %w", lineNo+1, readErr)
	}
	return r.counts, nil
}

// run is the state of one Parse call.
type run struct {
	engine   *Engine
	asm      *reassembly.Assembler
	corr     *netconf.Correlator
	messages []*model.Message
	errors   []model.ErrorEvent
	carriers []model.CarrierEvent
	counts   model.Counts
}

func (r *run) line(n int, raw string) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return
	}
	r.counts.Lines++

	rec, ok := logparse.MatchLine(text)
	if !ok {
		r.asm.Drop()
		return
	}
	dir, payload, ok := logparse.SplitDirection(rec.Text)
	if !ok {
		r.asm.Drop()
		return
	}
	if payload == "" {
		return
	}

	frag := reassembly.Fragment{
		Line:      n,
		Timestamp: rec.Timestamp,
		Host:      rec.Host,
		SessionID: rec.SessionID,
		Direction: dir,
		Markup:    payload,
	}
	// A flush does not consume the line; it is offered again to the now
	// idle assembler.
	for {
		out := r.asm.Offer(frag)
		switch out.Action {
		case reassembly.Completed:
			r.emit(out.Unit)
			return
		case reassembly.Buffered:
			return
		case reassembly.FlushPending:
			if u, ok := r.asm.Flush(); ok {
				r.emit(u)
			}
		}
	}
}

func (r *run) emit(u reassembly.Unit) {
	var (
		root *etree.Element
		err  error
	)
	if u.Partial {
		root, err = xmltree.Recover(u.Markup)
	} else {
		root, err = xmltree.Parse(u.Markup)
	}
	if err != nil {
		return
	}

	env := netconf.Envelope{
		Line:      u.Line,
		Timestamp: u.Timestamp,
		Host:      u.Host,
		SessionID: u.SessionID,
		Direction: u.Direction,
		Content:   u.Markup,
	}
	res, ok := r.engine.extractor.Extract(env, root)
	if !ok {
		return
	}

	msg := res.Message
	msg.ID = int64(len(r.messages) + 1)
	r.messages = append(r.messages, &msg)
	switch msg.Kind {
	case model.KindRequest:
		r.corr.Track(&msg)
	case model.KindReply:
		r.corr.Resolve(&msg)
	}

	for _, ev := range res.Errors {
		ev.ID = int64(len(r.errors) + 1)
		ev.MessageRef = msg.ID
		r.errors = append(r.errors, ev)
	}
	for _, ev := range res.Carriers {
		ev.ID = int64(len(r.carriers) + 1)
		ev.MessageRef = msg.ID
		r.carriers = append(r.carriers, ev)
	}

	r.counts.Messages++
	if msg.IsError {
		r.counts.Errors++
	}
}

func (r *run) deliver(sink RecordSink) error {
	if sink == nil {
		return nil
	}
	if len(r.messages) > 0 {
		msgs := make([]model.Message, len(r.messages))
		for i, m := range r.messages {
			msgs[i] = *m
		}
		if err := sink.AddMessages(msgs); err != nil {
			return fmt.Errorf("deliver messages: %w", err)
		}
	}
	if len(r.errors) > 0 {
		if err := sink.AddErrors(r.errors); err != nil {
			return fmt.Errorf("deliver errors: %w", err)
		}
	}
	if len(r.carriers) > 0 {
		if err := sink.AddCarrierEvents(r.carriers); err != nil {
			return fmt.Errorf("deliver carrier events: %w", err)
		}
	}
	return nil
}
