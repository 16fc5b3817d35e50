package sequencer

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	alarms "chrona-engine/internal/alarms/domain"
	"chrona-engine/internal/observability/metrics"
)

// SequenceCompleted signals every mission in the chain was solved.
type SequenceCompleted struct {
	AlarmID    int       `json:"alarm_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// SequenceFailed signals the chain was aborted.
type SequenceFailed struct {
	AlarmID    int       `json:"alarm_id"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

// MissionLauncher starts a challenge session for one mission. The timeout is
// the spec's per-attempt bound.
type MissionLauncher interface {
	StartMission(ctx context.Context, alarmID int, challenge alarms.ChallengeConfig, timeout time.Duration) error
}

// Publisher delivers sequence events.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Sequencer drives ordered mission chains, one per alarm at most.
type Sequencer struct {
	store     *QueueStore
	launcher  MissionLauncher
	publisher Publisher
	logger    *log.Logger
	clock     Clock

	// after arms sticky-retry delays; replaced in tests.
	after func(d time.Duration, fn func()) *time.Timer

	mu      sync.Mutex
	running map[int]bool
	// awaiting marks the hand-off between two missions: the previous
	// surface is gone and the next one is not ready to render yet.
	awaiting map[int]bool
	retries  map[int]*time.Timer
}

// Option customizes the sequencer.
type Option func(*Sequencer)

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(s *Sequencer) {
		s.clock = clock
	}
}

// WithPublisher assigns an event publisher.
func WithPublisher(publisher Publisher) Option {
	return func(s *Sequencer) {
		s.publisher = publisher
	}
}

// WithAfterFunc overrides timer creation, for tests.
func WithAfterFunc(after func(d time.Duration, fn func()) *time.Timer) Option {
	return func(s *Sequencer) {
		if after != nil {
			s.after = after
		}
	}
}

// NewSequencer constructs a sequencer.
func NewSequencer(store *QueueStore, launcher MissionLauncher, logger *log.Logger, opts ...Option) (*Sequencer, error) {
	if store == nil {
		return nil, errors.New("sequencer: nil queue store")
	}
	if launcher == nil {
		return nil, errors.New("sequencer: nil launcher")
	}
	sequencer := &Sequencer{
		store:    store,
		launcher: launcher,
		logger:   logger,
		clock:    systemClock{},
		after:    time.AfterFunc,
		running:  make(map[int]bool),
		awaiting: make(map[int]bool),
		retries:  make(map[int]*time.Timer),
	}
	for _, opt := range opts {
		opt(sequencer)
	}
	return sequencer, nil
}

// IsRunning reports whether a sequence is live for the alarm.
func (s *Sequencer) IsRunning(alarmID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[alarmID]
}

// AwaitingNext reports whether the alarm is between missions. Presentation
// must not render a challenge surface while this holds; the timer state
// underneath keeps running regardless.
func (s *Sequencer) AwaitingNext(alarmID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.awaiting[alarmID]
}

// Start enqueues the alarm's missions and launches the first one. A second
// Start for the same alarm is a no-op while the first sequence runs.
func (s *Sequencer) Start(ctx context.Context, alarm alarms.Alarm) error {
	if s == nil {
		return errors.New("sequencer: nil sequencer")
	}
	s.mu.Lock()
	if s.running[alarm.ID] {
		s.mu.Unlock()
		return nil
	}
	s.running[alarm.ID] = true
	s.mu.Unlock()

	specs := SpecsFromChallenge(alarm.ID, alarm.Challenge)
	if len(specs) == 0 {
		s.setRunning(alarm.ID, false)
		return errors.New("sequencer: empty sequence")
	}
	state := QueueState{Specs: specs, Index: 0, Attempts: 0}
	if err := s.store.Save(ctx, alarm.ID, state); err != nil {
		s.setRunning(alarm.ID, false)
		return err
	}
	return s.launch(ctx, alarm.ID, state)
}

// Rebuild restores a sequence after a process restart. The queue comes from
// the durable store when present, otherwise from the alarm's persisted
// challenge list; either way the current mission restarts from its
// beginning.
func (s *Sequencer) Rebuild(ctx context.Context, alarm alarms.Alarm) (bool, error) {
	if s == nil {
		return false, errors.New("sequencer: nil sequencer")
	}
	state, ok, err := s.store.Load(ctx, alarm.ID)
	if err != nil {
		return false, err
	}
	if !ok {
		challenge := alarm.Challenge.Normalize()
		if challenge.Kind != alarms.ChallengeSequence {
			return false, nil
		}
		state = QueueState{Specs: SpecsFromChallenge(alarm.ID, challenge)}
	}
	if state.Index >= len(state.Specs) {
		_ = s.store.Clear(ctx, alarm.ID)
		return false, nil
	}
	s.setRunning(alarm.ID, true)
	state.Attempts = 0
	if err := s.store.Save(ctx, alarm.ID, state); err != nil {
		s.setRunning(alarm.ID, false)
		return false, err
	}
	return true, s.launch(ctx, alarm.ID, state)
}

// OnMissionCompleted advances past the current mission. Between two
// missions the awaiting guard holds until the next surface is launched.
func (s *Sequencer) OnMissionCompleted(ctx context.Context, alarmID int) error {
	if s == nil {
		return errors.New("sequencer: nil sequencer")
	}
	if !s.IsRunning(alarmID) {
		return nil
	}
	state, ok, err := s.store.Load(ctx, alarmID)
	if err != nil {
		return err
	}
	if !ok {
		s.setRunning(alarmID, false)
		return nil
	}
	state.Index++
	state.Attempts = 0
	if state.Index >= len(state.Specs) {
		return s.finish(ctx, alarmID)
	}
	s.setAwaiting(alarmID, true)
	if err := s.store.Save(ctx, alarmID, state); err != nil {
		s.setAwaiting(alarmID, false)
		return err
	}
	return s.launch(ctx, alarmID, state)
}

// OnMissionFailed retries a sticky mission in place up to its retry budget;
// anything else aborts the whole sequence. Retry exhaustion behaves exactly
// like a non-sticky failure.
func (s *Sequencer) OnMissionFailed(ctx context.Context, alarmID int, reason string) error {
	if s == nil {
		return errors.New("sequencer: nil sequencer")
	}
	if !s.IsRunning(alarmID) {
		return nil
	}
	state, ok, err := s.store.Load(ctx, alarmID)
	if err != nil {
		return err
	}
	if !ok || state.Index >= len(state.Specs) {
		s.setRunning(alarmID, false)
		return nil
	}
	spec := state.Specs[state.Index]
	if spec.Sticky && state.Attempts < spec.RetryCount {
		state.Attempts++
		if err := s.store.Save(ctx, alarmID, state); err != nil {
			return err
		}
		metrics.IncMissionRetry()
		if s.logger != nil {
			s.logger.Printf("sequence retry alarm_id=%d mission=%s attempt=%d", alarmID, spec.ID, state.Attempts)
		}
		retryState := state
		s.armRetry(alarmID, spec.RetryDelay(), func() {
			// The sequence may have been aborted during the delay.
			if !s.IsRunning(alarmID) {
				return
			}
			_ = s.launch(context.Background(), alarmID, retryState)
		})
		return nil
	}
	return s.abort(ctx, alarmID, reason)
}

// Abort tears the sequence down.
func (s *Sequencer) Abort(ctx context.Context, alarmID int, reason string) error {
	if s == nil {
		return errors.New("sequencer: nil sequencer")
	}
	if !s.IsRunning(alarmID) {
		return nil
	}
	return s.abort(ctx, alarmID, reason)
}

func (s *Sequencer) launch(ctx context.Context, alarmID int, state QueueState) error {
	spec := state.Specs[state.Index]
	now := s.clock.Now().UTC()
	if err := s.store.SetCurrent(ctx, alarmID, CurrentMission{Spec: spec, StartedAt: now}); err != nil {
		s.setAwaiting(alarmID, false)
		return err
	}
	if err := s.launcher.StartMission(ctx, alarmID, spec.Challenge(), spec.Timeout()); err != nil {
		s.setAwaiting(alarmID, false)
		return err
	}
	s.setAwaiting(alarmID, false)
	if s.logger != nil {
		s.logger.Printf("sequence mission launched alarm_id=%d mission=%s index=%d", alarmID, spec.ID, state.Index)
	}
	return nil
}

func (s *Sequencer) finish(ctx context.Context, alarmID int) error {
	if err := s.store.Clear(ctx, alarmID); err != nil {
		return err
	}
	s.cancelRetry(alarmID)
	s.setRunning(alarmID, false)
	s.setAwaiting(alarmID, false)
	metrics.IncSequenceOutcome("completed")
	if s.logger != nil {
		s.logger.Printf("sequence completed alarm_id=%d", alarmID)
	}
	if s.publisher != nil {
		return s.publisher.Publish(ctx, SequenceCompleted{AlarmID: alarmID, OccurredAt: s.clock.Now().UTC()})
	}
	return nil
}

func (s *Sequencer) abort(ctx context.Context, alarmID int, reason string) error {
	if err := s.store.Clear(ctx, alarmID); err != nil {
		return err
	}
	s.cancelRetry(alarmID)
	s.setRunning(alarmID, false)
	s.setAwaiting(alarmID, false)
	metrics.IncSequenceOutcome("failed")
	if s.logger != nil {
		s.logger.Printf("sequence failed alarm_id=%d reason=%s", alarmID, reason)
	}
	if s.publisher != nil {
		return s.publisher.Publish(ctx, SequenceFailed{AlarmID: alarmID, Reason: reason, OccurredAt: s.clock.Now().UTC()})
	}
	return nil
}

func (s *Sequencer) armRetry(alarmID int, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.retries[alarmID]; ok {
		timer.Stop()
	}
	s.retries[alarmID] = s.after(d, fn)
}

func (s *Sequencer) cancelRetry(alarmID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.retries[alarmID]; ok {
		timer.Stop()
		delete(s.retries, alarmID)
	}
}

func (s *Sequencer) setRunning(alarmID int, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if running {
		s.running[alarmID] = true
		return
	}
	delete(s.running, alarmID)
}

func (s *Sequencer) setAwaiting(alarmID int, awaiting bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if awaiting {
		s.awaiting[alarmID] = true
		return
	}
	delete(s.awaiting, alarmID)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
