// Package confirm implements two-party confirmations: an initiator asks a
// specific responder to approve an action before a deadline, and the action
// runs only on approval.
package confirm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jensholdgaard/discord-scrim-bot/internal/event"
)

// Errors returned by confirmation operations.
var (
	ErrWrongResponder = errors.New("only the addressed user can respond")
	ErrExpired        = errors.New("confirmation has expired")
	ErrResolved       = errors.New("confirmation already resolved")
	ErrNotFound       = errors.New("confirmation not found")
	ErrUnknownKind    = errors.New("no action registered for confirmation kind")

	// ErrPrecondition is wrapped by actions whose preconditions no longer
	// hold at approval time. The confirmation is then declined.
	ErrPrecondition = errors.New("precondition failed")
)

// Preconditionf returns an error wrapping ErrPrecondition with a message
// suitable for showing to users.
func Preconditionf(format string, args ...any) error {
	return &preconditionError{msg: fmt.Sprintf(format, args...)}
}

type preconditionError struct{ msg string }

func (e *preconditionError) Error() string        { return e.msg }
func (e *preconditionError) Is(target error) bool { return target == ErrPrecondition }

// State is the lifecycle position of a confirmation.
type State string

const (
	StatePending  State = "pending"
	StateApproved State = "approved"
	StateDeclined State = "declined"
	StateTimedOut State = "timed_out"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s != StatePending }

// Kind selects the action run on approval.
type Kind string

const (
	KindInvite   Kind = "team_invite"
	KindTransfer Kind = "ownership_transfer"
	KindReset    Kind = "database_reset"
)

// Confirmation is the aggregate for one pending decision. It is safe for
// concurrent use.
type Confirmation struct {
	mu sync.Mutex

	ID        string
	Kind      Kind
	Initiator string
	Responder string
	Payload   json.RawMessage
	Deadline  time.Time

	state   State
	reason  string
	version int
	events  []event.Event
	done    chan struct{}
}

// Snapshot is a copy of a confirmation's fields at one point in time.
type Snapshot struct {
	ID        string
	Kind      Kind
	Initiator string
	Responder string
	Payload   json.RawMessage
	Deadline  time.Time
	State     State
	Reason    string
}

// Decode unmarshals the payload into v.
func (s Snapshot) Decode(v any) error {
	if err := json.Unmarshal(s.Payload, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", s.Kind, err)
	}
	return nil
}

func newConfirmation(id string, kind Kind, initiator, responder string, payload json.RawMessage, deadline time.Time) *Confirmation {
	c := &Confirmation{
		ID:        id,
		Kind:      kind,
		Initiator: initiator,
		Responder: responder,
		Payload:   payload,
		Deadline:  deadline,
		state:     StatePending,
		done:      make(chan struct{}),
	}
	data, _ := json.Marshal(event.ConfirmationRequestedData{
		Kind:      string(kind),
		Initiator: initiator,
		Responder: responder,
		Deadline:  deadline,
		Payload:   payload,
	})
	c.recordEvent(event.ConfirmationRequested, data)
	return c
}

// State returns the current state and, for declined confirmations, the
// reason.
func (c *Confirmation) State() (State, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.reason
}

// Snapshot returns a copy of the confirmation.
func (c *Confirmation) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

func (c *Confirmation) snapshot() Snapshot {
	return Snapshot{
		ID:        c.ID,
		Kind:      c.Kind,
		Initiator: c.Initiator,
		Responder: c.Responder,
		Payload:   c.Payload,
		Deadline:  c.Deadline,
		State:     c.state,
		Reason:    c.reason,
	}
}

// Done is closed once the confirmation reaches a terminal state.
func (c *Confirmation) Done() <-chan struct{} { return c.done }

// Await blocks until the confirmation resolves or ctx ends.
func (c *Confirmation) Await(ctx context.Context) (State, error) {
	select {
	case <-c.done:
		s, _ := c.State()
		return s, nil
	case <-ctx.Done():
		return StatePending, ctx.Err()
	}
}

// resolve moves a pending confirmation to a terminal state. Callers hold mu.
func (c *Confirmation) resolve(s State, by, reason string) {
	if c.state.Terminal() {
		return
	}
	c.state = s
	c.reason = reason

	var t event.Type
	switch s {
	case StateApproved:
		t = event.ConfirmationApproved
	case StateDeclined:
		t = event.ConfirmationDeclined
	case StateTimedOut:
		t = event.ConfirmationTimedOut
	}
	data, _ := json.Marshal(event.ConfirmationResolvedData{By: by, Reason: reason})
	c.recordEvent(t, data)
	close(c.done)
}

// pendingEvents returns unpersisted events and clears the buffer. Callers
// hold mu.
func (c *Confirmation) pendingEvents() []event.Event {
	events := c.events
	c.events = nil
	return events
}

func (c *Confirmation) recordEvent(t event.Type, data json.RawMessage) {
	c.version++
	c.events = append(c.events, event.Event{
		AggregateID: c.ID,
		Type:        t,
		Data:        data,
		Version:     c.version,
	})
}

// Replay reconstructs a confirmation from its event history.
func Replay(events []event.Event) (*Confirmation, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("no events to replay")
	}

	c := &Confirmation{done: make(chan struct{})}
	for _, e := range events {
		switch e.Type {
		case event.ConfirmationRequested:
			var d event.ConfirmationRequestedData
			if err := json.Unmarshal(e.Data, &d); err != nil {
				return nil, fmt.Errorf("unmarshalling requested event: %w", err)
			}
			c.ID = e.AggregateID
			c.Kind = Kind(d.Kind)
			c.Initiator = d.Initiator
			c.Responder = d.Responder
			c.Payload = d.Payload
			c.Deadline = d.Deadline
			c.state = StatePending

		case event.ConfirmationApproved, event.ConfirmationDeclined, event.ConfirmationTimedOut:
			var d event.ConfirmationResolvedData
			_ = json.Unmarshal(e.Data, &d)
			c.reason = d.Reason
			switch e.Type {
			case event.ConfirmationApproved:
				c.state = StateApproved
			case event.ConfirmationDeclined:
				c.state = StateDeclined
			default:
				c.state = StateTimedOut
			}
		}
		c.version = e.Version
	}
	if c.ID == "" {
		return nil, fmt.Errorf("no requested event in history")
	}
	if c.state.Terminal() {
		close(c.done)
	}
	return c, nil
}
