// Package engine ties the routing, session, gate, and sequencer layers into
// the alarm lifecycle. It owns the single-active-session invariant: at most
// one live challenge session per alarm, ever.
package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	alarmapp "chrona-engine/internal/alarms/application"
	alarms "chrona-engine/internal/alarms/domain"
	"chrona-engine/internal/audio"
	"chrona-engine/internal/dispatch"
	"chrona-engine/internal/eventing"
	"chrona-engine/internal/mission"
	"chrona-engine/internal/presentation"
	"chrona-engine/internal/scheduler"
	"chrona-engine/internal/sequencer"
	"chrona-engine/internal/statestore"
	"chrona-engine/internal/wakecheck"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Service orchestrates the full firing lifecycle for all alarms.
type Service struct {
	records    *statestore.Records
	registry   *alarmapp.Service
	dispatcher *dispatch.Dispatcher
	gate       *wakecheck.Gate
	seq        *sequencer.Sequencer
	sched      scheduler.Scheduler
	sound      audio.Channel
	presenter  presentation.Presenter
	publisher  mission.Publisher
	auditor    mission.Auditor
	logger     *log.Logger
	clock      Clock

	// runSessions controls whether new sessions get a background runner.
	// Tests drive Advance directly and leave this off.
	runSessions bool
	gateOpts    []wakecheck.Option

	mu       sync.Mutex
	sessions map[int]*mission.Session
}

// Option customizes the service.
type Option func(*Service)

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

// WithAuditor assigns the audit sink handed to sessions.
func WithAuditor(auditor mission.Auditor) Option {
	return func(s *Service) {
		s.auditor = auditor
	}
}

// WithSessionRunners enables background runners for live sessions.
func WithSessionRunners(enabled bool) Option {
	return func(s *Service) {
		s.runSessions = enabled
	}
}

// WithGateOptions forwards options to the wake-check gate built by
// NewService.
func WithGateOptions(opts ...wakecheck.Option) Option {
	return func(s *Service) {
		s.gateOpts = append(s.gateOpts, opts...)
	}
}

// NewService constructs the engine service. The sequencer and gate are
// created here so their launcher callbacks point back at this service.
func NewService(
	records *statestore.Records,
	registry *alarmapp.Service,
	dispatcher *dispatch.Dispatcher,
	sched scheduler.Scheduler,
	sound audio.Channel,
	presenter presentation.Presenter,
	publisher mission.Publisher,
	logger *log.Logger,
	opts ...Option,
) (*Service, error) {
	if records == nil || registry == nil || dispatcher == nil {
		return nil, errors.New("engine: nil core dependency")
	}
	if sched == nil || sound == nil || presenter == nil {
		return nil, errors.New("engine: nil collaborator")
	}
	service := &Service{
		records:    records,
		registry:   registry,
		dispatcher: dispatcher,
		sched:      sched,
		sound:      sound,
		presenter:  presenter,
		publisher:  publisher,
		logger:     logger,
		clock:      systemClock{},
		sessions:   make(map[int]*mission.Session),
	}
	for _, opt := range opts {
		opt(service)
	}

	queueStore, err := sequencer.NewQueueStore(records)
	if err != nil {
		return nil, err
	}
	seqOpts := []sequencer.Option{}
	if publisher != nil {
		seqOpts = append(seqOpts, sequencer.WithPublisher(publisher))
	}
	service.seq, err = sequencer.NewSequencer(queueStore, service, logger, seqOpts...)
	if err != nil {
		return nil, err
	}

	gateOpts := service.gateOpts
	if publisher != nil {
		gateOpts = append(gateOpts, wakecheck.WithPublisher(publisher))
	}
	service.gate, err = wakecheck.NewGate(records, sched, sound, registry, service, logger, gateOpts...)
	if err != nil {
		return nil, err
	}
	return service, nil
}

// Gate exposes the wake-check gate for the ops API.
func (s *Service) Gate() *wakecheck.Gate { return s.gate }

// Sequencer exposes the sequencer for the ops API and tests.
func (s *Service) Sequencer() *sequencer.Sequencer { return s.seq }

// HandleTrigger takes one scheduler delivery through routing and into the
// matching lifecycle action.
func (s *Service) HandleTrigger(ctx context.Context, ev dispatch.TriggerEvent) error {
	if s == nil {
		return errors.New("engine: nil service")
	}
	decision, err := s.dispatcher.Handle(ctx, ev)
	if err != nil {
		return err
	}
	switch decision.Action {
	case dispatch.ActionIgnoreDuplicate:
		if decision.Reason == "fire_in_progress" {
			// The surface may be backgrounded; surface it again.
			return s.presenter.BringToForeground(ctx, ev.AlarmID)
		}
		return nil
	case dispatch.ActionStartSession:
		return s.startSession(ctx, decision.Alarm, decision.Alarm.Challenge)
	case dispatch.ActionRouteToSequencer:
		if err := s.markFiring(ctx, decision.Alarm); err != nil {
			return err
		}
		return s.seq.Start(ctx, decision.Alarm)
	case dispatch.ActionRouteToGate:
		return s.gate.Open(ctx, ev.AlarmID)
	case dispatch.ActionReschedule:
		return s.scheduleNext(ctx, decision.Alarm, decision.RescheduleAt)
	default:
		return errors.New("engine: unknown action " + decision.Action)
	}
}

// StartMission launches one challenge session on behalf of the sequencer.
// The surface is told to resume in place rather than relaunch; the timeout is
// the mission spec's per-attempt bound.
func (s *Service) StartMission(ctx context.Context, alarmID int, challenge alarms.ChallengeConfig, timeout time.Duration) error {
	if s == nil {
		return errors.New("engine: nil service")
	}
	if err := s.presenter.Resume(ctx, alarmID, challenge); err != nil {
		return err
	}
	return s.spawnSession(ctx, alarmID, challenge, timeout)
}

// Relaunch restarts the full challenge after a lapsed wake-check gate. The
// alarm rings again exactly as it did on the primary fire.
func (s *Service) Relaunch(ctx context.Context, alarmID int) error {
	if s == nil {
		return errors.New("engine: nil service")
	}
	alarm, err := s.registry.Get(ctx, alarmID)
	if err != nil {
		return err
	}
	if s.seq.IsRunning(alarmID) {
		_ = s.seq.Abort(ctx, alarmID, "gate_lapsed")
	}
	s.dropSession(alarmID)
	if alarm.Challenge.Normalize().Kind == alarms.ChallengeSequence {
		if err := s.markFiring(ctx, *alarm); err != nil {
			return err
		}
		return s.seq.Start(ctx, *alarm)
	}
	return s.startSession(ctx, *alarm, alarm.Challenge)
}

// Dismiss is the user-facing dismissal path for alarms without a challenge.
// Protected alarms with a real challenge refuse it.
func (s *Service) Dismiss(ctx context.Context, alarmID int) error {
	if s == nil {
		return errors.New("engine: nil service")
	}
	alarm, err := s.registry.Get(ctx, alarmID)
	if err != nil {
		return err
	}
	if err := s.registry.EnsureDismissable(*alarm); err != nil {
		return err
	}
	session := s.session(alarmID)
	if session != nil && !session.Terminal() {
		return session.Dismiss(ctx)
	}
	return s.finishDismissal(ctx, alarmID)
}

// Session returns the live session for the alarm, if any.
func (s *Service) Session(alarmID int) *mission.Session {
	return s.session(alarmID)
}

// startSession begins a fresh challenge session for a primary fire.
func (s *Service) startSession(ctx context.Context, alarm alarms.Alarm, challenge alarms.ChallengeConfig) error {
	if existing := s.session(alarm.ID); existing != nil && !existing.Terminal() {
		return s.presenter.BringToForeground(ctx, alarm.ID)
	}
	if err := s.markFiring(ctx, alarm); err != nil {
		return err
	}
	if err := s.presenter.Launch(ctx, alarm, challenge.Normalize()); err != nil {
		return err
	}
	return s.spawnSession(ctx, alarm.ID, challenge, 0)
}

func (s *Service) markFiring(ctx context.Context, alarm alarms.Alarm) error {
	now := s.clock.Now().UTC()
	if err := s.records.MarkFireInProgress(ctx, alarm.ID, now); err != nil {
		return err
	}
	return s.sound.Start(ctx, alarm.ID)
}

func (s *Service) spawnSession(ctx context.Context, alarmID int, challenge alarms.ChallengeConfig, timeout time.Duration) error {
	opts := []mission.Option{
		mission.WithLogger(s.logger),
		mission.WithClock(missionClock{s.clock}),
	}
	if timeout > 0 {
		opts = append(opts, mission.WithTimeout(timeout))
	}
	if s.publisher != nil {
		opts = append(opts, mission.WithPublisher(s.publisher))
	}
	if s.auditor != nil {
		opts = append(opts, mission.WithAuditor(s.auditor))
	}
	session, err := mission.NewSession(alarmID, challenge, s.records, opts...)
	if err != nil {
		return err
	}
	if err := session.Start(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.sessions[alarmID] = session
	s.mu.Unlock()
	if s.runSessions {
		runner, err := mission.NewRunner(session, mission.WithRunnerLogger(s.logger))
		if err != nil {
			return err
		}
		go func() {
			_ = runner.Run(context.Background())
		}()
	}
	return nil
}

// finishDismissal completes the lifecycle after the challenge is solved:
// record the dismissal, silence everything, then either arm the wake check
// or put the alarm back on the schedule.
func (s *Service) finishDismissal(ctx context.Context, alarmID int) error {
	now := s.clock.Now().UTC()
	if err := s.records.RecordDismissed(ctx, alarmID, now); err != nil {
		return err
	}
	if err := s.records.ClearFireInProgress(ctx, alarmID); err != nil {
		return err
	}
	_ = s.sound.Stop(ctx, alarmID)
	_ = s.presenter.Close(ctx, alarmID)
	s.dropSession(alarmID)

	alarm, err := s.registry.Get(ctx, alarmID)
	if err != nil {
		if errors.Is(err, alarms.ErrNotFound) {
			return nil
		}
		return err
	}

	if alarm.WakeCheckEnabled {
		ackedAt, ok, aerr := s.records.AcknowledgedAt(ctx, alarmID)
		recentAck := aerr == nil && ok && now.Sub(ackedAt) < wakecheck.AckWindow
		if !recentAck {
			if err := s.gate.Schedule(ctx, *alarm, time.Duration(alarm.WakeCheckMinutes)*time.Minute); err != nil {
				return err
			}
		}
	}
	// The wake check rides alongside the regular schedule; the alarm's next
	// occurrence is armed here either way so an acknowledged cycle does not
	// strand a repeating alarm.
	return s.rescheduleAfterRun(ctx, alarmID)
}

// rescheduleAfterRun closes out one firing cycle: a one-shot is switched off,
// a repeating alarm goes back on the schedule for its next occurrence.
func (s *Service) rescheduleAfterRun(ctx context.Context, alarmID int) error {
	alarm, err := s.registry.Get(ctx, alarmID)
	if err != nil {
		if errors.Is(err, alarms.ErrNotFound) {
			return nil
		}
		return err
	}
	if !alarm.Enabled {
		return nil
	}
	if alarm.OneShot() {
		_, err := s.registry.Disable(ctx, alarmID)
		return err
	}
	return s.scheduleNext(ctx, *alarm, alarm.NextTrigger(s.clock.Now().UTC()))
}

func (s *Service) scheduleNext(ctx context.Context, alarm alarms.Alarm, at time.Time) error {
	snapshot, err := alarms.EncodeSnapshot(alarm)
	if err != nil {
		return err
	}
	return s.sched.Schedule(ctx, scheduler.Request{
		AlarmID:  alarm.ID,
		Kind:     scheduler.KindPrimary,
		At:       at,
		Snapshot: snapshot,
	})
}

// handleAbandoned tears down a given-up session without a dismissal record:
// the alarm did not get dismissed, it got abandoned. The alarm itself still
// leaves the cycle the way a dismissal would, disabled or rescheduled.
func (s *Service) handleAbandoned(ctx context.Context, alarmID int) error {
	if err := s.records.ClearFireInProgress(ctx, alarmID); err != nil {
		return err
	}
	_ = s.sound.Stop(ctx, alarmID)
	_ = s.presenter.Close(ctx, alarmID)
	s.dropSession(alarmID)
	if s.seq.IsRunning(alarmID) {
		// The abort publishes SequenceFailed; that handler runs the
		// reschedule tail once the sequence is gone.
		return s.seq.Abort(ctx, alarmID, "session_abandoned")
	}
	return s.rescheduleAfterRun(ctx, alarmID)
}

func (s *Service) session(alarmID int) *mission.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[alarmID]
}

func (s *Service) dropSession(alarmID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, alarmID)
}

// WireEvents subscribes the lifecycle handlers on the bus. The processed
// store keeps redelivered completion signals from double-running the
// dismissal path.
func (s *Service) WireEvents(bus eventing.EventBus, processed eventing.ProcessedStore) {
	eventing.Subscribe(bus, eventing.EventTypeOf[mission.MissionCompleted](), "engine.mission_completed", func(ctx context.Context, event any) error {
		evt, ok := event.(mission.MissionCompleted)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		if s.seq.IsRunning(evt.AlarmID) {
			return s.seq.OnMissionCompleted(ctx, evt.AlarmID)
		}
		return s.finishDismissal(ctx, evt.AlarmID)
	}, processed)

	eventing.Subscribe(bus, eventing.EventTypeOf[mission.MissionFailed](), "engine.mission_failed", func(ctx context.Context, event any) error {
		evt, ok := event.(mission.MissionFailed)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		s.dropSession(evt.AlarmID)
		if s.seq.IsRunning(evt.AlarmID) {
			return s.seq.OnMissionFailed(ctx, evt.AlarmID, evt.Reason)
		}
		return s.handleAbandoned(ctx, evt.AlarmID)
	}, processed)

	eventing.Subscribe(bus, eventing.EventTypeOf[mission.SessionAbandoned](), "engine.session_abandoned", func(ctx context.Context, event any) error {
		evt, ok := event.(mission.SessionAbandoned)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		return s.handleAbandoned(ctx, evt.AlarmID)
	}, processed)

	eventing.Subscribe(bus, eventing.EventTypeOf[sequencer.SequenceCompleted](), "engine.sequence_completed", func(ctx context.Context, event any) error {
		evt, ok := event.(sequencer.SequenceCompleted)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		return s.finishDismissal(ctx, evt.AlarmID)
	}, processed)

	eventing.Subscribe(bus, eventing.EventTypeOf[sequencer.SequenceFailed](), "engine.sequence_failed", func(ctx context.Context, event any) error {
		evt, ok := event.(sequencer.SequenceFailed)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		return s.handleAbandoned(ctx, evt.AlarmID)
	}, processed)
}

// Recover restores engine state after a restart: live sessions resume in
// phase, interrupted sequences rebuild, pending wake checks re-arm, and
// every enabled alarm goes back on the schedule.
func (s *Service) Recover(ctx context.Context) error {
	if s == nil {
		return errors.New("engine: nil service")
	}
	list, err := s.registry.List(ctx)
	if err != nil {
		return err
	}
	now := s.clock.Now().UTC()
	for _, alarm := range list {
		if rebuilt, err := s.seq.Rebuild(ctx, alarm); err != nil {
			if s.logger != nil {
				s.logger.Printf("recover sequence failed alarm_id=%d err=%v", alarm.ID, err)
			}
		} else if rebuilt {
			continue
		}

		if session, ok, err := s.resumeSession(ctx, alarm); err != nil {
			if s.logger != nil {
				s.logger.Printf("recover session failed alarm_id=%d err=%v", alarm.ID, err)
			}
		} else if ok && !session.Terminal() {
			if err := s.presenter.Launch(ctx, alarm, alarm.Challenge.Normalize()); err != nil {
				return err
			}
			continue
		}

		if pending, err := s.records.WakeCheckPending(ctx, alarm.ID); err == nil && pending {
			if finalized, ferr := s.records.WakeCheckFinalized(ctx, alarm.ID); ferr == nil && !finalized {
				if err := s.gate.Schedule(ctx, alarm, time.Duration(alarm.WakeCheckMinutes)*time.Minute); err != nil && s.logger != nil {
					s.logger.Printf("recover wakecheck failed alarm_id=%d err=%v", alarm.ID, err)
				}
				continue
			}
		}

		if alarm.Enabled {
			if err := s.scheduleNext(ctx, alarm, alarm.NextTrigger(now)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) resumeSession(ctx context.Context, alarm alarms.Alarm) (*mission.Session, bool, error) {
	opts := []mission.Option{
		mission.WithLogger(s.logger),
		mission.WithClock(missionClock{s.clock}),
	}
	if s.publisher != nil {
		opts = append(opts, mission.WithPublisher(s.publisher))
	}
	if s.auditor != nil {
		opts = append(opts, mission.WithAuditor(s.auditor))
	}
	session, ok, err := mission.Resume(ctx, alarm.ID, alarm.Challenge, s.records, opts...)
	if err != nil || !ok {
		return nil, false, err
	}
	s.mu.Lock()
	s.sessions[alarm.ID] = session
	s.mu.Unlock()
	return session, true, nil
}

type missionClock struct{ clock Clock }

func (c missionClock) Now() time.Time { return c.clock.Now() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
