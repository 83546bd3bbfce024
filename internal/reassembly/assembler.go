// Package reassembly joins markup fragments spread over consecutive trace
// lines into whole messages.
package reassembly

import (
	"strings"
	"time"

	"github.com/tinytelemetry/rutrace/internal/model"
	"github.com/tinytelemetry/rutrace/internal/xmltree"
)

// CompleteFunc decides whether accumulated markup is a finished message.
type CompleteFunc func(markup string) bool

// Fragment is the markup carried by one matched trace line, with the
// metadata needed to describe the message it belongs to.
type Fragment struct {
	Line      int
	Timestamp *time.Time
	Host      string
	SessionID int
	Direction model.Direction
	Markup    string
}

// Unit is a reassembled message. Its metadata is taken from the first
// fragment. Partial is set when the unit was flushed before completing.
type Unit struct {
	Fragment
	Partial bool
}

// Action tells the caller what Offer did with a fragment.
type Action int

const (
	// Completed: Outcome.Unit holds a finished message.
	Completed Action = iota
	// Buffered: the fragment was held for continuation.
	Buffered
	// FlushPending: the fragment belongs to a different message. The caller
	// must Flush the held buffer and offer the same fragment again.
	FlushPending
)

func (a Action) String() string {
	switch a {
	case Completed:
		return "completed"
	case Buffered:
		return "buffered"
	case FlushPending:
		return "flush-pending"
	}
	return "unknown"
}

// Outcome is the result of Offer.
type Outcome struct {
	Action Action
	Unit   Unit
}

// Assembler is the Idle/Buffering state machine. It holds at most one
// pending buffer and is not safe for concurrent use.
type Assembler struct {
	complete CompleteFunc
	pending  *Fragment
	parts    []string
}

// New returns an Assembler using complete as its completeness test. A nil
// complete uses xmltree.IsComplete.
func New(complete CompleteFunc) *Assembler {
	if complete == nil {
		complete = xmltree.IsComplete
	}
	return &Assembler{complete: complete}
}

// Buffering reports whether a pending buffer is held.
func (a *Assembler) Buffering() bool { return a.pending != nil }

// Offer feeds one fragment to the state machine.
func (a *Assembler) Offer(f Fragment) Outcome {
	if a.pending == nil {
		if a.complete(f.Markup) {
			return Outcome{Action: Completed, Unit: Unit{Fragment: f}}
		}
		held := f
		a.pending = &held
		a.parts = append(a.parts[:0], f.Markup)
		return Outcome{Action: Buffered}
	}

	if f.SessionID != a.pending.SessionID || f.Direction != a.pending.Direction {
		return Outcome{Action: FlushPending}
	}

	a.parts = append(a.parts, f.Markup)
	joined := strings.Join(a.parts, " ")
	if !a.complete(joined) {
		return Outcome{Action: Buffered}
	}
	u := Unit{Fragment: *a.pending}
	u.Markup = joined
	a.reset()
	return Outcome{Action: Completed, Unit: u}
}

// Flush releases the pending buffer as-is. It reports false when nothing
// was held.
func (a *Assembler) Flush() (Unit, bool) {
	if a.pending == nil {
		return Unit{}, false
	}
	u := Unit{Fragment: *a.pending, Partial: true}
	u.Markup = strings.Join(a.parts, " ")
	a.reset()
	return u, true
}

// Drop discards the pending buffer without producing anything.
func (a *Assembler) Drop() {
	a.reset()
}

func (a *Assembler) reset() {
	a.pending = nil
	a.parts = a.parts[:0]
}
