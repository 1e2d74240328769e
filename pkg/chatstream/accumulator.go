package chatstream

import (
	"strings"
	"time"

	"github.com/papercomputeco/chatstream/pkg/llm"
	"github.com/papercomputeco/chatstream/pkg/sse"
)

// Snapshot is the immutable view of a message published after each change.
// Terminal snapshots have Done set; Err is nil only for a stream that ended
// on its terminator.
type Snapshot struct {
	Text string
	Done bool
	Err  error
}

// SnapshotFunc receives every published snapshot, synchronously, on the
// goroutine driving the stream.
type SnapshotFunc func(Snapshot)

// Message is the accumulated result of one streamed response.
type Message struct {
	ID           string
	Text         string
	State        State
	FinishReason string
	Usage        *llm.Usage
	Err          error
	StartedAt    time.Time
	CompletedAt  time.Time
}

// Snapshot returns the message as a snapshot.
func (m Message) Snapshot() Snapshot {
	return Snapshot{
		Text: m.Text,
		Done: m.State.Terminal(),
		Err:  m.Err,
	}
}

// Accumulator is the per-request state machine that appends deltas to the
// assistant message and publishes snapshots. It is not safe for concurrent
// use; each in-flight request owns one.
//
// Guarantees:
//   - the text is the in-order concatenation of every applied fragment;
//   - published text never shrinks, and only grows between non-terminal
//     snapshots;
//   - exactly one terminal snapshot is published, and it is the last one.
type Accumulator struct {
	id         string
	onSnapshot SnapshotFunc

	state        State
	text         strings.Builder
	finishReason string
	usage        llm.Usage
	err          error

	startedAt   time.Time
	completedAt time.Time

	placeholder bool
}

// NewAccumulator returns an Empty accumulator for message id. A nil
// onSnapshot is allowed.
func NewAccumulator(id string, onSnapshot SnapshotFunc) *Accumulator {
	return &Accumulator{
		id:         id,
		onSnapshot: onSnapshot,
		startedAt:  time.Now(),
	}
}

// Placeholder publishes an empty, incomplete snapshot so a UI can show a
// loading indicator before any text arrives. It only acts once, and only
// while the message is Empty.
func (a *Accumulator) Placeholder() {
	if a.state != StateEmpty || a.placeholder {
		return
	}
	a.placeholder = true
	a.publish(Snapshot{})
}

// Apply routes a decoded event to Append or Complete.
func (a *Accumulator) Apply(ev sse.Event) {
	switch ev.Kind {
	case sse.KindDelta:
		a.Append(ev.Delta)
	case sse.KindEnd:
		a.absorb(ev.Delta)
		if ev.Delta.Content != "" {
			a.Append(llm.Delta{Content: ev.Delta.Content})
		}
		a.Complete(nil)
	}
}

// Append applies one delta. The first delta moves an Empty message to
// Streaming; a non-empty fragment is appended and published, an empty one
// is accepted silently.
func (a *Accumulator) Append(delta llm.Delta) {
	if a.state.Terminal() {
		return
	}
	a.state = StateStreaming
	a.absorb(delta)

	if delta.Content == "" {
		return
	}
	a.text.WriteString(delta.Content)
	a.publish(Snapshot{Text: a.text.String()})
}

// Complete finalizes the message as Completed and publishes the terminal
// snapshot. err is an indicator carried on the snapshot (ErrNoTerminator
// when the transport closed first), not a failure.
func (a *Accumulator) Complete(err error) {
	a.finish(StateCompleted, err, true)
}

// Fail finalizes the message as Failed, preserving the text accumulated so
// far, and publishes the terminal snapshot.
func (a *Accumulator) Fail(err error) {
	a.finish(StateFailed, err, true)
}

// Cancel finalizes the message as Failed without publishing. It is used
// when the caller abandoned the request and must not be called back.
func (a *Accumulator) Cancel(err error) {
	a.finish(StateFailed, err, false)
}

// State returns the current state.
func (a *Accumulator) State() State {
	return a.state
}

// Message returns the current message.
func (a *Accumulator) Message() Message {
	m := Message{
		ID:           a.id,
		Text:         a.text.String(),
		State:        a.state,
		FinishReason: a.finishReason,
		Err:          a.err,
		StartedAt:    a.startedAt,
		CompletedAt:  a.completedAt,
	}
	if !a.usage.IsZero() {
		u := a.usage
		m.Usage = &u
	}
	return m
}

func (a *Accumulator) absorb(delta llm.Delta) {
	if delta.FinishReason != "" {
		a.finishReason = delta.FinishReason
	}
	a.usage.Merge(delta.Usage)
}

func (a *Accumulator) finish(state State, err error, publish bool) {
	if a.state.Terminal() {
		return
	}
	a.state = state
	a.err = err
	a.completedAt = time.Now()
	if publish {
		a.publish(Snapshot{Text: a.text.String(), Done: true, Err: err})
	}
}

func (a *Accumulator) publish(s Snapshot) {
	if a.onSnapshot != nil {
		a.onSnapshot(s)
	}
}
