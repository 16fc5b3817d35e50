package dispatch

import (
	"context"
	"errors"
	"log"
	"time"

	alarms "chrona-engine/internal/alarms/domain"
	"chrona-engine/internal/eventing"
	"chrona-engine/internal/mission"
	"chrona-engine/internal/observability/metrics"
	"chrona-engine/internal/statestore"
)

const (
	// DefaultDismissWindow suppresses primary redeliveries right after a
	// dismissal.
	DefaultDismissWindow = 10 * time.Second
	// DefaultAckWindow suppresses wake-check follow-ups after a recent
	// acknowledgment.
	DefaultAckWindow = 10 * time.Minute

	processedConsumer = "dispatch"
)

// Registry resolves alarm definitions, with snapshot fallback.
type Registry interface {
	GetOrSnapshot(ctx context.Context, id int, snapshot string) (alarms.Alarm, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Dispatcher routes trigger events. Dedup reads that fail are treated as
// absent records: a broken store must never silence a wake-up.
type Dispatcher struct {
	records  *statestore.Records
	registry Registry
	// processed absorbs exact redeliveries of one scheduled token.
	processed eventing.ProcessedStore
	logger    *log.Logger
	clock     Clock

	dismissWindow time.Duration
	ackWindow     time.Duration
}

// Option customizes the dispatcher.
type Option func(*Dispatcher)

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(d *Dispatcher) {
		d.clock = clock
	}
}

// WithDismissWindow overrides the primary-fire dedup window.
func WithDismissWindow(window time.Duration) Option {
	return func(d *Dispatcher) {
		if window > 0 {
			d.dismissWindow = window
		}
	}
}

// WithAckWindow overrides the acknowledgment dedup window.
func WithAckWindow(window time.Duration) Option {
	return func(d *Dispatcher) {
		if window > 0 {
			d.ackWindow = window
		}
	}
}

// WithProcessedStore enables exact duplicate-token absorption.
func WithProcessedStore(store eventing.ProcessedStore) Option {
	return func(d *Dispatcher) {
		d.processed = store
	}
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(records *statestore.Records, registry Registry, logger *log.Logger, opts ...Option) (*Dispatcher, error) {
	if records == nil {
		return nil, errors.New("dispatch: nil records")
	}
	if registry == nil {
		return nil, errors.New("dispatch: nil registry")
	}
	dispatcher := &Dispatcher{
		records:       records,
		registry:      registry,
		logger:        logger,
		clock:         systemClock{},
		dismissWindow: DefaultDismissWindow,
		ackWindow:     DefaultAckWindow,
	}
	for _, opt := range opts {
		opt(dispatcher)
	}
	return dispatcher, nil
}

// Handle classifies one trigger event. Suppressions come back as decisions,
// not errors; an error here means the event could not be classified at all.
func (d *Dispatcher) Handle(ctx context.Context, ev TriggerEvent) (Decision, error) {
	if d == nil {
		return Decision{}, errors.New("dispatch: nil dispatcher")
	}
	if ev.AlarmID <= 0 {
		return Decision{}, errors.New("dispatch: invalid alarm id")
	}

	if suppressed, err := d.tokenSeen(ctx, ev); err == nil && suppressed {
		return d.decide(ev, Decision{Action: ActionIgnoreDuplicate, Reason: "token"}), nil
	}

	var decision Decision
	var err error
	switch ev.Kind {
	case KindPrimary:
		decision, err = d.handlePrimary(ctx, ev)
	case KindWakeCheck:
		decision, err = d.handleWakeCheck(ctx, ev)
	case KindReschedule:
		decision, err = d.handleReschedule(ctx, ev)
	default:
		return Decision{}, errors.New("dispatch: unknown trigger kind " + ev.Kind)
	}
	if err != nil {
		return Decision{}, err
	}
	d.markToken(ctx, ev)
	return d.decide(ev, decision), nil
}

func (d *Dispatcher) handlePrimary(ctx context.Context, ev TriggerEvent) (Decision, error) {
	now := d.clock.Now().UTC()

	dismissedAt, ok, err := d.records.DismissedAt(ctx, ev.AlarmID)
	if err != nil {
		d.failOpen("dismiss read", err)
	} else if ok && now.Sub(dismissedAt) < d.dismissWindow && now.Sub(dismissedAt) >= 0 {
		metrics.IncDedupSuppressed("dismiss")
		return Decision{Action: ActionIgnoreDuplicate, Reason: "dismiss_window"}, nil
	}

	alarm, err := d.registry.GetOrSnapshot(ctx, ev.AlarmID, ev.Snapshot)
	if err != nil {
		return Decision{}, err
	}

	// A live fire means a session already owns the surface. The engine
	// brings it to the foreground instead of starting a second one. A flag
	// older than the session safety valve is leftover from a crash, not a
	// live session; it gets cleared and the fire goes through.
	if active, startedAt, ferr := d.records.FireInProgress(ctx, ev.AlarmID); ferr != nil {
		d.failOpen("fire flag read", ferr)
	} else if active {
		if startedAt.IsZero() || now.Sub(startedAt) >= mission.SafetyValve {
			if cerr := d.records.ClearFireInProgress(ctx, ev.AlarmID); cerr != nil {
				d.failOpen("stale fire flag clear", cerr)
			}
			if d.logger != nil {
				d.logger.Printf("dispatch stale fire flag cleared alarm_id=%d started_at=%s", ev.AlarmID, startedAt.Format(time.RFC3339))
			}
		} else {
			metrics.IncDedupSuppressed("fire_in_progress")
			return Decision{Action: ActionIgnoreDuplicate, Reason: "fire_in_progress", Alarm: alarm}, nil
		}
	}

	if alarm.Challenge.Normalize().Kind == alarms.ChallengeSequence {
		return Decision{Action: ActionRouteToSequencer, Alarm: alarm}, nil
	}
	return Decision{Action: ActionStartSession, Alarm: alarm}, nil
}

func (d *Dispatcher) handleWakeCheck(ctx context.Context, ev TriggerEvent) (Decision, error) {
	now := d.clock.Now().UTC()

	ackedAt, ok, err := d.records.AcknowledgedAt(ctx, ev.AlarmID)
	if err != nil {
		d.failOpen("ack read", err)
	} else if ok && now.Sub(ackedAt) < d.ackWindow && now.Sub(ackedAt) >= 0 {
		metrics.IncDedupSuppressed("ack")
		return Decision{Action: ActionIgnoreDuplicate, Reason: "ack_window"}, nil
	}

	// Gate-active suppression applies to follow-up events only; a primary
	// fire always gets through.
	if gateActive, gerr := d.records.GateActive(ctx, ev.AlarmID); gerr != nil {
		d.failOpen("gate flag read", gerr)
	} else if gateActive {
		metrics.IncDedupSuppressed("gate_active")
		return Decision{Action: ActionIgnoreDuplicate, Reason: "gate_active"}, nil
	}

	if finalized, ferr := d.records.WakeCheckFinalized(ctx, ev.AlarmID); ferr != nil {
		d.failOpen("finalized flag read", ferr)
	} else if finalized {
		metrics.IncDedupSuppressed("finalized")
		return Decision{Action: ActionIgnoreDuplicate, Reason: "finalized"}, nil
	}

	alarm, err := d.registry.GetOrSnapshot(ctx, ev.AlarmID, ev.Snapshot)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Action: ActionRouteToGate, Alarm: alarm}, nil
}

func (d *Dispatcher) handleReschedule(ctx context.Context, ev TriggerEvent) (Decision, error) {
	// The gate holds every non-primary kind back, not just follow-ups.
	if gateActive, gerr := d.records.GateActive(ctx, ev.AlarmID); gerr != nil {
		d.failOpen("gate flag read", gerr)
	} else if gateActive {
		metrics.IncDedupSuppressed("gate_active")
		return Decision{Action: ActionIgnoreDuplicate, Reason: "gate_active"}, nil
	}

	alarm, err := d.registry.GetOrSnapshot(ctx, ev.AlarmID, ev.Snapshot)
	if err != nil {
		return Decision{}, err
	}
	if !alarm.Enabled {
		return Decision{Action: ActionIgnoreDuplicate, Reason: "disabled"}, nil
	}
	next := alarm.NextTrigger(d.clock.Now().UTC())
	return Decision{Action: ActionReschedule, Alarm: alarm, RescheduleAt: next}, nil
}

func (d *Dispatcher) tokenSeen(ctx context.Context, ev TriggerEvent) (bool, error) {
	if d.processed == nil || ev.Token == "" {
		return false, nil
	}
	seen, err := d.processed.HasProcessed(ctx, ev.Token, processedConsumer)
	if err != nil {
		d.failOpen("token read", err)
		return false, err
	}
	if seen {
		metrics.IncDedupSuppressed("token")
	}
	return seen, nil
}

func (d *Dispatcher) markToken(ctx context.Context, ev TriggerEvent) {
	if d.processed == nil || ev.Token == "" {
		return
	}
	if err := d.processed.MarkProcessed(ctx, ev.Token, processedConsumer); err != nil && d.logger != nil {
		d.logger.Printf("dispatch mark token failed alarm_id=%d err=%v", ev.AlarmID, err)
	}
}

func (d *Dispatcher) failOpen(what string, err error) {
	metrics.IncStoreFailOpen()
	if d.logger != nil {
		d.logger.Printf("dispatch %s failed, letting event through: %v", what, err)
	}
}

func (d *Dispatcher) decide(ev TriggerEvent, decision Decision) Decision {
	metrics.IncTriggerDecision(ev.Kind, decision.Action)
	if d.logger != nil && decision.Action != ActionIgnoreDuplicate {
		d.logger.Printf("dispatch alarm_id=%d kind=%s action=%s", ev.AlarmID, ev.Kind, decision.Action)
	}
	return decision
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
