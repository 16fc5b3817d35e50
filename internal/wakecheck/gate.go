// Package wakecheck verifies the user actually got up. After a dismissal a
// follow-up trigger fires minutes later; the user has a short window to
// acknowledge it or the full challenge starts over.
package wakecheck

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	alarms "chrona-engine/internal/alarms/domain"
	"chrona-engine/internal/audio"
	"chrona-engine/internal/observability/metrics"
	"chrona-engine/internal/scheduler"
	"chrona-engine/internal/statestore"
)

const (
	// GateWindow is how long the acknowledgment gate stays open.
	GateWindow = 20 * time.Second
	// AckWindow is how long a recorded acknowledgment keeps suppressing
	// redelivered follow-ups.
	AckWindow = 10 * time.Minute
	// DuckFactor silences the alarm sound while the gate is open.
	DuckFactor = 0.0
)

// AckResult distinguishes a fresh acknowledgment from a stale one.
type AckResult string

const (
	// Accepted means this call recorded the acknowledgment.
	Accepted AckResult = "accepted"
	// AlreadyAcked means a previous call already did; the caller gets the
	// same outward behavior.
	AlreadyAcked AckResult = "already_acked"
)

// WakeCheckAcknowledged signals the user confirmed being awake.
type WakeCheckAcknowledged struct {
	AlarmID    int       `json:"alarm_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// WakeCheckLapsed signals the gate window expired unanswered.
type WakeCheckLapsed struct {
	AlarmID    int       `json:"alarm_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Registry disables alarms after acknowledgment.
type Registry interface {
	DisableIfOneShot(ctx context.Context, id int) (*alarms.Alarm, error)
}

// Relauncher restarts the full challenge when a gate lapses.
type Relauncher interface {
	Relaunch(ctx context.Context, alarmID int) error
}

// Publisher delivers gate events.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Gate owns the wake-check lifecycle for all alarms.
type Gate struct {
	records    *statestore.Records
	sched      scheduler.Scheduler
	sound      audio.Channel
	registry   Registry
	relauncher Relauncher
	publisher  Publisher
	logger     *log.Logger
	clock      Clock

	window    time.Duration
	ackWindow time.Duration

	// after arms the lapse timer; replaced in tests.
	after func(d time.Duration, fn func()) *time.Timer

	mu     sync.Mutex
	timers map[int]*time.Timer
}

// Option customizes the gate.
type Option func(*Gate)

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(g *Gate) {
		g.clock = clock
	}
}

// WithWindow overrides the gate window.
func WithWindow(window time.Duration) Option {
	return func(g *Gate) {
		if window > 0 {
			g.window = window
		}
	}
}

// WithAckWindow overrides the acknowledgment window.
func WithAckWindow(window time.Duration) Option {
	return func(g *Gate) {
		if window > 0 {
			g.ackWindow = window
		}
	}
}

// WithPublisher assigns an event publisher.
func WithPublisher(publisher Publisher) Option {
	return func(g *Gate) {
		g.publisher = publisher
	}
}

// WithAfterFunc overrides timer creation, for tests.
func WithAfterFunc(after func(d time.Duration, fn func()) *time.Timer) Option {
	return func(g *Gate) {
		if after != nil {
			g.after = after
		}
	}
}

// NewGate constructs a gate.
func NewGate(records *statestore.Records, sched scheduler.Scheduler, sound audio.Channel, registry Registry, relauncher Relauncher, logger *log.Logger, opts ...Option) (*Gate, error) {
	if records == nil {
		return nil, errors.New("wakecheck: nil records")
	}
	if sched == nil {
		return nil, errors.New("wakecheck: nil scheduler")
	}
	if sound == nil {
		return nil, errors.New("wakecheck: nil audio channel")
	}
	gate := &Gate{
		records:    records,
		sched:      sched,
		sound:      sound,
		registry:   registry,
		relauncher: relauncher,
		logger:     logger,
		clock:      systemClock{},
		window:     GateWindow,
		ackWindow:  AckWindow,
		after:      time.AfterFunc,
		timers:     make(map[int]*time.Timer),
	}
	for _, opt := range opts {
		opt(gate)
	}
	return gate, nil
}

// Schedule arms a follow-up check for the alarm. The wake-check records are
// written in one batch before the trigger is scheduled, so a crash between
// the two leaves a pending record and no trigger, never the reverse.
func (g *Gate) Schedule(ctx context.Context, alarm alarms.Alarm, delay time.Duration) error {
	if g == nil {
		return errors.New("wakecheck: nil gate")
	}
	if delay <= 0 {
		delay = time.Duration(alarm.WakeCheckMinutes) * time.Minute
	}
	if delay <= 0 {
		return errors.New("wakecheck: no delay configured")
	}
	if err := g.records.ArmWakeCheck(ctx, alarm.ID); err != nil {
		return err
	}
	snapshot, err := alarms.EncodeSnapshot(alarm)
	if err != nil {
		return err
	}
	at := g.clock.Now().UTC().Add(delay)
	if err := g.sched.Schedule(ctx, scheduler.Request{
		AlarmID:  alarm.ID,
		Kind:     scheduler.KindWakeCheck,
		At:       at,
		Snapshot: snapshot,
	}); err != nil {
		return err
	}
	if g.logger != nil {
		g.logger.Printf("wakecheck scheduled alarm_id=%d at=%s", alarm.ID, at.Format(time.RFC3339))
	}
	return nil
}

// Open raises the acknowledgment gate: sound starts but is ducked to
// silence, and the lapse timer is armed. The window is deliberately short.
func (g *Gate) Open(ctx context.Context, alarmID int) error {
	if g == nil {
		return errors.New("wakecheck: nil gate")
	}
	if err := g.records.OpenGate(ctx, alarmID); err != nil {
		return err
	}
	if err := g.sound.Start(ctx, alarmID); err != nil {
		return err
	}
	if err := g.sound.Duck(ctx, alarmID, DuckFactor, g.window); err != nil {
		return err
	}
	g.armLapse(alarmID)
	metrics.IncGateOutcome("opened")
	if g.logger != nil {
		g.logger.Printf("wakecheck gate open alarm_id=%d window=%s", alarmID, g.window)
	}
	return nil
}

// Acknowledge records that the user is awake. It is idempotent: a second
// call inside the acknowledgment window reports AlreadyAcked and still stops
// the sound, so retrying the button is always safe.
func (g *Gate) Acknowledge(ctx context.Context, alarmID int) (AckResult, error) {
	if g == nil {
		return "", errors.New("wakecheck: nil gate")
	}
	now := g.clock.Now().UTC()
	g.cancelLapse(alarmID)
	_ = g.sound.Stop(ctx, alarmID)

	ackedAt, ok, err := g.records.AcknowledgedAt(ctx, alarmID)
	if err == nil && ok && now.Sub(ackedAt) < g.ackWindow && now.Sub(ackedAt) >= 0 {
		metrics.IncGateOutcome("ack_stale")
		return AlreadyAcked, nil
	}
	if err := g.records.RecordAcknowledged(ctx, alarmID, now); err != nil {
		return "", err
	}
	if g.registry != nil {
		// Only one-shot alarms are switched off; repeating alarms keep
		// their schedule.
		if _, err := g.registry.DisableIfOneShot(ctx, alarmID); err != nil && !errors.Is(err, alarms.ErrNotFound) {
			return "", err
		}
	}
	metrics.IncGateOutcome("acknowledged")
	if g.logger != nil {
		g.logger.Printf("wakecheck acknowledged alarm_id=%d", alarmID)
	}
	if g.publisher != nil {
		if err := g.publisher.Publish(ctx, WakeCheckAcknowledged{AlarmID: alarmID, OccurredAt: now}); err != nil {
			return "", err
		}
	}
	return Accepted, nil
}

// Lapse handles an unanswered gate: the wake-check records are cleared and
// the full challenge starts over. An acknowledgment that raced the timer
// wins; the lapse becomes a no-op.
func (g *Gate) Lapse(ctx context.Context, alarmID int) error {
	if g == nil {
		return errors.New("wakecheck: nil gate")
	}
	g.cancelLapse(alarmID)

	now := g.clock.Now().UTC()
	ackedAt, ok, err := g.records.AcknowledgedAt(ctx, alarmID)
	if err == nil && ok && now.Sub(ackedAt) < g.ackWindow && now.Sub(ackedAt) >= 0 {
		return nil
	}
	if err := g.records.ClearWakeCheck(ctx, alarmID); err != nil {
		return err
	}
	metrics.IncGateOutcome("lapsed")
	if g.logger != nil {
		g.logger.Printf("wakecheck lapsed alarm_id=%d", alarmID)
	}
	if g.publisher != nil {
		if err := g.publisher.Publish(ctx, WakeCheckLapsed{AlarmID: alarmID, OccurredAt: now}); err != nil {
			return err
		}
	}
	if g.relauncher != nil {
		return g.relauncher.Relaunch(ctx, alarmID)
	}
	return nil
}

// Cancel drops a scheduled follow-up and its records, used when the alarm is
// disabled or deleted mid-cycle.
func (g *Gate) Cancel(ctx context.Context, alarmID int) error {
	if g == nil {
		return errors.New("wakecheck: nil gate")
	}
	g.cancelLapse(alarmID)
	if err := g.sched.Cancel(ctx, alarmID, scheduler.KindWakeCheck); err != nil {
		return err
	}
	return g.records.ClearWakeCheck(ctx, alarmID)
}

func (g *Gate) armLapse(alarmID int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if timer, ok := g.timers[alarmID]; ok {
		timer.Stop()
	}
	g.timers[alarmID] = g.after(g.window, func() {
		_ = g.Lapse(context.Background(), alarmID)
	})
}

func (g *Gate) cancelLapse(alarmID int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if timer, ok := g.timers[alarmID]; ok {
		timer.Stop()
		delete(g.timers, alarmID)
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
