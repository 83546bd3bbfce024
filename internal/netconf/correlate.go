package netconf

import (
	"time"

	"github.com/tinytelemetry/rutrace/internal/model"
)

type pendingKey struct {
	session int
	id      string
}

type pendingEntry struct {
	req *model.Message
	seq uint64
}

type orderItem struct {
	key  pendingKey
	seq  uint64
	line int
}

// CorrelatorOptions bounds the pending request index. Zero values leave it
// unbounded.
type CorrelatorOptions struct {
	// MaxPending caps the number of unanswered requests; the oldest is
	// evicted first.
	MaxPending int
	// Horizon expires requests more than this many lines older than the
	// line being processed.
	Horizon int
}

// Correlator pairs replies with the requests they answer by session and
// message-id. A later request with the same key replaces an unanswered
// earlier one. It is owned by a single parse run.
type Correlator struct {
	opts    CorrelatorOptions
	pending map[pendingKey]pendingEntry
	order   []orderItem
	seq     uint64
	evicted int
}

// NewCorrelator returns an empty Correlator.
func NewCorrelator(opts CorrelatorOptions) *Correlator {
	return &Correlator{opts: opts, pending: make(map[pendingKey]pendingEntry)}
}

func (c *Correlator) bounded() bool {
	return c.opts.MaxPending > 0 || c.opts.Horizon > 0
}

// Track records a request awaiting its reply. Requests without a
// message-id cannot be answered and are ignored.
func (c *Correlator) Track(req *model.Message) {
	if req.MessageID == "" {
		return
	}
	c.seq++
	k := pendingKey{req.SessionID, req.MessageID}
	c.pending[k] = pendingEntry{req: req, seq: c.seq}
	if c.bounded() {
		c.order = append(c.order, orderItem{key: k, seq: c.seq, line: req.LineNumber})
		c.trim(req.LineNumber)
	}
}

// Resolve looks up the request a reply answers and removes it from the
// index. When both timestamps are known, the round-trip latency in
// milliseconds is stored on the request and mirrored on the reply.
func (c *Correlator) Resolve(reply *model.Message) (*model.Message, bool) {
	if c.bounded() {
		c.trim(reply.LineNumber)
	}
	if reply.MessageID == "" {
		return nil, false
	}
	k := pendingKey{reply.SessionID, reply.MessageID}
	e, ok := c.pending[k]
	if !ok {
		return nil, false
	}
	delete(c.pending, k)

	req := e.req
	if req.Timestamp != nil && reply.Timestamp != nil {
		req.Responded = true
		ms := float64(reply.Timestamp.Sub(*req.Timestamp)) / float64(time.Millisecond)
		mirrored := ms
		req.LatencyMS = &ms
		reply.LatencyMS = &mirrored
	}
	return req, true
}

// Pending returns the number of unanswered requests.
func (c *Correlator) Pending() int { return len(c.pending) }

// Evicted returns how many requests were dropped by the bounds.
func (c *Correlator) Evicted() int { return c.evicted }

func (c *Correlator) trim(line int) {
	for len(c.order) > 0 {
		front := c.order[0]
		e, ok := c.pending[front.key]
		if !ok || e.seq != front.seq {
			c.order = c.order[1:]
			continue
		}
		expired := c.opts.Horizon > 0 && line-front.line > c.opts.Horizon
		overCap := c.opts.MaxPending > 0 && len(c.pending) > c.opts.MaxPending
		if !expired && !overCap {
			return
		}
		delete(c.pending, front.key)
		c.order = c.order[1:]
		c.evicted++
	}
}
