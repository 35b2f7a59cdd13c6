package confirm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/discord-scrim-bot/internal/clock"
	"github.com/jensholdgaard/discord-scrim-bot/internal/event"
)

const instrumentation = "github.com/jensholdgaard/discord-scrim-bot/internal/confirm"

// Action performs the confirmed mutation. It must re-check its preconditions
// against current state and return an error wrapping ErrPrecondition when
// they no longer hold.
type Action func(ctx context.Context, c Snapshot) error

// Manager tracks pending confirmations and runs their actions.
type Manager struct {
	mu      sync.RWMutex
	pending map[string]*Confirmation
	actions map[Kind]Action

	cbMu       sync.RWMutex
	onResolved []func(context.Context, Snapshot)

	events   event.Store
	logger   *slog.Logger
	tracer   trace.Tracer
	resolved metric.Int64Counter
	clock    clock.Clock
}

// NewManager creates a confirmation Manager.
func NewManager(events event.Store, logger *slog.Logger, tp trace.TracerProvider, mp metric.MeterProvider, clk clock.Clock) *Manager {
	resolved, err := mp.Meter(instrumentation).Int64Counter("scrimbot.confirmations.resolved",
		metric.WithDescription("Confirmations reaching a terminal state"),
	)
	if err != nil {
		logger.Warn("creating confirmation counter", slog.Any("error", err))
		resolved = metricnoop.Int64Counter{}
	}
	return &Manager{
		pending:  make(map[string]*Confirmation),
		actions:  make(map[Kind]Action),
		events:   events,
		logger:   logger,
		tracer:   tp.Tracer(instrumentation),
		resolved: resolved,
		clock:    clk,
	}
}

// Handle registers the action run when a confirmation of kind is approved.
func (m *Manager) Handle(kind Kind, action Action) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions[kind] = action
}

// OnResolved registers fn to be called after every terminal transition.
func (m *Manager) OnResolved(fn func(ctx context.Context, s Snapshot)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.onResolved = append(m.onResolved, fn)
}

// Request opens a confirmation addressed to responder that expires after
// timeout. payload is stored as JSON and handed to the action on approval.
func (m *Manager) Request(ctx context.Context, kind Kind, initiator, responder string, payload any, timeout time.Duration) (*Confirmation, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Request",
		trace.WithAttributes(
			attribute.String("confirmation.kind", string(kind)),
			attribute.String("initiator", initiator),
			attribute.String("responder", responder),
		),
	)
	defer span.End()

	m.mu.RLock()
	_, ok := m.actions[kind]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	c := newConfirmation(uuid.NewString(), kind, initiator, responder, data, m.clock.Now().Add(timeout).UTC())
	if err := m.events.Append(ctx, c.pendingEvents()...); err != nil {
		return nil, fmt.Errorf("persisting confirmation: %w", err)
	}

	m.mu.Lock()
	m.pending[c.ID] = c
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "confirmation requested",
		slog.String("confirmation_id", c.ID),
		slog.String("kind", string(kind)),
		slog.String("responder", responder),
		slog.Time("deadline", c.Deadline),
	)
	return c, nil
}

// Get returns a pending confirmation.
func (m *Manager) Get(id string) (*Confirmation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.pending[id]
	return c, ok
}

// Pending returns snapshots of every pending confirmation.
func (m *Manager) Pending() []Snapshot {
	m.mu.RLock()
	cs := make([]*Confirmation, 0, len(m.pending))
	for _, c := range m.pending {
		cs = append(cs, c)
	}
	m.mu.RUnlock()

	out := make([]Snapshot, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Snapshot())
	}
	return out
}

// Respond records responderID's answer. A response from anyone but the
// addressed responder is rejected without changing state. Approval runs the
// registered action: success approves, a precondition failure declines and
// returns the action's error, any other failure leaves the confirmation
// pending so it can be answered again.
func (m *Manager) Respond(ctx context.Context, id, responderID string, approve bool) (State, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Respond",
		trace.WithAttributes(
			attribute.String("confirmation.id", id),
			attribute.String("responder", responderID),
			attribute.Bool("approve", approve),
		),
	)
	defer span.End()

	c, ok := m.Get(id)
	if !ok {
		return "", ErrNotFound
	}

	state, resolved, err := m.respond(ctx, c, responderID, approve)
	if resolved {
		m.finish(ctx, c)
	}
	span.SetAttributes(attribute.String("confirmation.state", string(state)))
	return state, err
}

func (m *Manager) respond(ctx context.Context, c *Confirmation, responderID string, approve bool) (State, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Terminal() {
		return c.state, false, ErrResolved
	}
	if responderID != c.Responder {
		return c.state, false, ErrWrongResponder
	}
	if m.clock.Now().After(c.Deadline) {
		c.resolve(StateTimedOut, "", "")
		return c.state, true, ErrExpired
	}
	if !approve {
		c.resolve(StateDeclined, responderID, "")
		return c.state, true, nil
	}

	m.mu.RLock()
	action, ok := m.actions[c.Kind]
	m.mu.RUnlock()
	if !ok {
		return c.state, false, fmt.Errorf("%w: %s", ErrUnknownKind, c.Kind)
	}

	if err := action(ctx, c.snapshot()); err != nil {
		if errors.Is(err, ErrPrecondition) {
			c.resolve(StateDeclined, responderID, err.Error())
			return c.state, true, err
		}
		m.logger.ErrorContext(ctx, "confirmation action failed",
			slog.String("confirmation_id", c.ID),
			slog.String("kind", string(c.Kind)),
			slog.Any("error", err),
		)
		return c.state, false, fmt.Errorf("running %s action: %w", c.Kind, err)
	}

	c.resolve(StateApproved, responderID, "")
	return c.state, true, nil
}

// Sweep times out every pending confirmation whose deadline has passed and
// returns how many it expired.
func (m *Manager) Sweep(ctx context.Context) int {
	now := m.clock.Now()

	m.mu.RLock()
	cs := make([]*Confirmation, 0, len(m.pending))
	for _, c := range m.pending {
		cs = append(cs, c)
	}
	m.mu.RUnlock()

	expired := 0
	for _, c := range cs {
		c.mu.Lock()
		due := !c.state.Terminal() && now.After(c.Deadline)
		if due {
			c.resolve(StateTimedOut, "", "")
		}
		c.mu.Unlock()

		if due {
			m.finish(ctx, c)
			expired++
		}
	}
	return expired
}

// Run sweeps every interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(ctx); n > 0 {
				m.logger.DebugContext(ctx, "expired confirmations", slog.Int("count", n))
			}
		}
	}
}

// finish persists the terminal transition, forgets the confirmation and
// notifies subscribers. It runs without holding c.mu.
func (m *Manager) finish(ctx context.Context, c *Confirmation) {
	c.mu.Lock()
	events := c.pendingEvents()
	snap := c.snapshot()
	c.mu.Unlock()

	if err := m.events.Append(ctx, events...); err != nil {
		m.logger.ErrorContext(ctx, "failed to persist confirmation events",
			slog.String("confirmation_id", c.ID),
			slog.Any("error", err),
		)
	}

	m.mu.Lock()
	delete(m.pending, c.ID)
	m.mu.Unlock()

	m.resolved.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(snap.Kind)),
		attribute.String("state", string(snap.State)),
	))
	m.logger.InfoContext(ctx, "confirmation resolved",
		slog.String("confirmation_id", snap.ID),
		slog.String("kind", string(snap.Kind)),
		slog.String("state", string(snap.State)),
		slog.String("reason", snap.Reason),
	)

	m.cbMu.RLock()
	callbacks := append([]func(context.Context, Snapshot){}, m.onResolved...)
	m.cbMu.RUnlock()
	for _, fn := range callbacks {
		fn(ctx, snap)
	}
}

// RecoverPending replays confirmation histories from the event store and
// tracks those still pending. Overdue ones are left for the next Sweep.
func (m *Manager) RecoverPending(ctx context.Context) (int, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.RecoverPending")
	defer span.End()

	requested, err := m.events.LoadByType(ctx, event.ConfirmationRequested)
	if err != nil {
		return 0, fmt.Errorf("loading confirmation requests: %w", err)
	}

	recovered := 0
	for _, e := range requested {
		if _, ok := m.Get(e.AggregateID); ok {
			continue
		}
		history, err := m.events.Load(ctx, e.AggregateID)
		if err != nil {
			return recovered, fmt.Errorf("loading confirmation %s: %w", e.AggregateID, err)
		}
		c, err := Replay(history)
		if err != nil {
			m.logger.WarnContext(ctx, "failed to replay confirmation",
				slog.String("confirmation_id", e.AggregateID),
				slog.Any("error", err),
			)
			continue
		}
		if c.state.Terminal() {
			continue
		}

		m.mu.Lock()
		m.pending[c.ID] = c
		m.mu.Unlock()
		recovered++
	}

	m.logger.InfoContext(ctx, "confirmation recovery complete",
		slog.Int("requested", len(requested)),
		slog.Int("recovered", recovered),
	)
	return recovered, nil
}
