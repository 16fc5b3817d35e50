// Package mission runs the wake-up challenge state machine. A session is the
// period between an alarm starting to ring and a terminal outcome; its state
// is persisted on every transition so a killed process resumes in phase.
package mission

import (
	"context"
	"errors"
	"log"
	"time"

	alarms "chrona-engine/internal/alarms/domain"
	"chrona-engine/internal/observability/metrics"
	"chrona-engine/internal/statestore"
)

// Phases.
const (
	PhaseIdle           = "idle"
	PhaseStartupBlocked = "startup_blocked"
	PhaseEntry          = "entry"
	PhaseBlocked        = "blocked"
	PhaseTapping        = "tapping"
	PhaseCompleted      = "completed"
	PhaseFailed         = "failed"
	PhaseAbandoned      = "abandoned"
)

// Timing and goal constants.
const (
	StartupBlockDuration = 90 * time.Second
	EntryDuration        = 30 * time.Second
	RepeatBlockDuration  = 120 * time.Second
	TapWindow            = 105 * time.Second
	TapGoal              = 108
	SafetyValve          = 10 * time.Minute

	// DefaultPassword is used when a password challenge carries no secret.
	DefaultPassword = "IfYouWantYouCanSleep"
)

// Abandon reasons.
const (
	ReasonSafetyValve = "safety_valve"
	ReasonUser        = "user"
	ReasonTapWindow   = "tap_window_expired"
	ReasonTimeout     = "attempt_timeout"
)

// Sentinel errors.
var (
	ErrNotAccepting = errors.New("mission: phase not accepting input")
	ErrTerminal     = errors.New("mission: session already terminal")
)

// Publisher delivers session outcome events.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

// Auditor records outcomes that must survive for later inspection.
type Auditor interface {
	RecordSession(ctx context.Context, alarmID int, action, detail string) error
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Session is one live challenge run for one alarm.
type Session struct {
	alarmID  int
	kind     string
	password string

	phase          string
	startedAt      time.Time
	phaseStartedAt time.Time
	taps           int
	timeout        time.Duration

	records   *statestore.Records
	publisher Publisher
	auditor   Auditor
	logger    *log.Logger
	clock     Clock
}

// Option customizes a session.
type Option func(*Session)

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(s *Session) {
		s.clock = clock
	}
}

// WithTimeout bounds the whole attempt, tighter than the safety valve.
// Sequenced missions carry their spec's timeout through here; zero keeps the
// safety valve as the only bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithPublisher assigns an outcome publisher.
func WithPublisher(publisher Publisher) Option {
	return func(s *Session) {
		s.publisher = publisher
	}
}

// WithAuditor assigns an audit sink.
func WithAuditor(auditor Auditor) Option {
	return func(s *Session) {
		s.auditor = auditor
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// NewSession builds an idle session for the challenge. A missing or unknown
// challenge kind degrades to a plain dismissable session rather than an
// error; configuration gaps must not trap the user in a ringing alarm.
func NewSession(alarmID int, challenge alarms.ChallengeConfig, records *statestore.Records, opts ...Option) (*Session, error) {
	if alarmID <= 0 {
		return nil, errors.New("mission: invalid alarm id")
	}
	if records == nil {
		return nil, errors.New("mission: nil records")
	}
	challenge = challenge.Normalize()
	session := &Session{
		alarmID:  alarmID,
		kind:     challenge.Kind,
		password: challenge.Password,
		phase:    PhaseIdle,
		records:  records,
		clock:    systemClock{},
	}
	if session.kind == alarms.ChallengePassword && session.password == "" {
		session.password = DefaultPassword
	}
	for _, opt := range opts {
		opt(session)
	}
	return session, nil
}

// AlarmID returns the owning alarm.
func (s *Session) AlarmID() int { return s.alarmID }

// Kind returns the challenge kind.
func (s *Session) Kind() string { return s.kind }

// Phase returns the current phase.
func (s *Session) Phase() string { return s.phase }

// Taps returns the current tap count.
func (s *Session) Taps() int { return s.taps }

// Terminal reports whether the session reached an outcome.
func (s *Session) Terminal() bool {
	return s.phase == PhaseCompleted || s.phase == PhaseFailed || s.phase == PhaseAbandoned
}

// Start moves the session out of idle and persists the opening phase.
func (s *Session) Start(ctx context.Context) error {
	if s == nil {
		return errors.New("mission: nil session")
	}
	if s.phase != PhaseIdle {
		return errors.New("mission: already started")
	}
	now := s.clock.Now().UTC()
	s.startedAt = now
	switch s.kind {
	case alarms.ChallengePassword:
		s.setPhase(now, PhaseStartupBlocked)
	case alarms.ChallengeTap:
		s.taps = 0
		s.setPhase(now, PhaseTapping)
	default:
		// No challenge: the surface shows a plain dismiss control.
		s.setPhase(now, PhaseEntry)
	}
	if err := s.persist(ctx); err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.Printf("session start alarm_id=%d kind=%s phase=%s", s.alarmID, s.kind, s.phase)
	}
	return nil
}

// Resume rebuilds a session from its persisted snapshot and catches up to
// now. ok is false when no snapshot exists.
func Resume(ctx context.Context, alarmID int, challenge alarms.ChallengeConfig, records *statestore.Records, opts ...Option) (*Session, bool, error) {
	session, err := NewSession(alarmID, challenge, records, opts...)
	if err != nil {
		return nil, false, err
	}
	snap, ok, err := records.LoadSession(ctx, alarmID)
	if err != nil || !ok {
		return nil, false, err
	}
	session.phase = snap.Phase
	if snap.Kind != "" {
		session.kind = snap.Kind
	}
	session.startedAt = snap.StartedAt
	session.phaseStartedAt = snap.PhaseStartedAt
	session.taps = snap.Taps
	if err := session.Advance(ctx, session.clock.Now().UTC()); err != nil {
		return nil, false, err
	}
	return session, true, nil
}

// Advance applies every transition due by now, including multi-phase
// catch-up after a resume. Timed transitions anchor on the recorded phase
// start, not on tick arrival.
func (s *Session) Advance(ctx context.Context, now time.Time) error {
	if s == nil {
		return errors.New("mission: nil session")
	}
	if s.Terminal() || s.phase == PhaseIdle {
		return nil
	}
	now = now.UTC()

	if !s.startedAt.IsZero() {
		bound, reason := SafetyValve, ReasonSafetyValve
		if s.timeout > 0 && s.timeout < bound {
			bound, reason = s.timeout, ReasonTimeout
		}
		if now.Sub(s.startedAt) >= bound {
			return s.abandon(ctx, now, reason)
		}
	}

	changed := false
	for {
		elapsed := now.Sub(s.phaseStartedAt)
		switch {
		case s.phase == PhaseStartupBlocked && elapsed >= StartupBlockDuration:
			s.setPhase(s.phaseStartedAt.Add(StartupBlockDuration), PhaseEntry)
		case s.phase == PhaseEntry && s.kind == alarms.ChallengePassword && elapsed >= EntryDuration:
			s.setPhase(s.phaseStartedAt.Add(EntryDuration), PhaseBlocked)
		case s.phase == PhaseBlocked && elapsed >= RepeatBlockDuration:
			s.setPhase(s.phaseStartedAt.Add(RepeatBlockDuration), PhaseEntry)
		case s.phase == PhaseTapping && elapsed >= TapWindow:
			return s.fail(ctx, now, ReasonTapWindow)
		default:
			if changed {
				return s.persist(ctx)
			}
			return nil
		}
		changed = true
	}
}

// SubmitPassword checks an attempt. Wrong attempts are not transitions; the
// phase clock keeps running.
func (s *Session) SubmitPassword(ctx context.Context, attempt string) (bool, error) {
	if s == nil {
		return false, errors.New("mission: nil session")
	}
	if s.Terminal() {
		return false, ErrTerminal
	}
	if s.kind != alarms.ChallengePassword || s.phase != PhaseEntry {
		return false, ErrNotAccepting
	}
	if attempt != s.password {
		return false, nil
	}
	return true, s.complete(ctx, s.clock.Now().UTC())
}

// Tap registers one tap. Completing the goal inside the window solves the
// challenge.
func (s *Session) Tap(ctx context.Context) (int, error) {
	if s == nil {
		return 0, errors.New("mission: nil session")
	}
	if s.Terminal() {
		return s.taps, ErrTerminal
	}
	if s.kind != alarms.ChallengeTap || s.phase != PhaseTapping {
		return s.taps, ErrNotAccepting
	}
	now := s.clock.Now().UTC()
	if now.Sub(s.phaseStartedAt) >= TapWindow {
		return s.taps, s.fail(ctx, now, ReasonTapWindow)
	}
	s.taps++
	if s.taps >= TapGoal {
		return s.taps, s.complete(ctx, now)
	}
	return s.taps, s.persist(ctx)
}

// Dismiss completes a session that carries no challenge.
func (s *Session) Dismiss(ctx context.Context) error {
	if s == nil {
		return errors.New("mission: nil session")
	}
	if s.Terminal() {
		return ErrTerminal
	}
	if s.kind != alarms.ChallengeNone {
		return ErrNotAccepting
	}
	return s.complete(ctx, s.clock.Now().UTC())
}

// Abandon gives the session up on the user's behalf.
func (s *Session) Abandon(ctx context.Context, reason string) error {
	if s == nil {
		return errors.New("mission: nil session")
	}
	if s.Terminal() {
		return ErrTerminal
	}
	if reason == "" {
		reason = ReasonUser
	}
	return s.abandon(ctx, s.clock.Now().UTC(), reason)
}

func (s *Session) setPhase(at time.Time, phase string) {
	s.phase = phase
	s.phaseStartedAt = at.UTC()
}

func (s *Session) persist(ctx context.Context) error {
	return s.records.SaveSession(ctx, s.alarmID, statestore.SessionSnapshot{
		Phase:          s.phase,
		Kind:           s.kind,
		StartedAt:      s.startedAt,
		PhaseStartedAt: s.phaseStartedAt,
		Taps:           s.taps,
	})
}

func (s *Session) complete(ctx context.Context, now time.Time) error {
	s.setPhase(now, PhaseCompleted)
	if err := s.records.ClearSession(ctx, s.alarmID); err != nil {
		return err
	}
	metrics.ObserveSessionOutcome(s.kind, "completed", now.Sub(s.startedAt))
	if s.logger != nil {
		s.logger.Printf("session completed alarm_id=%d kind=%s", s.alarmID, s.kind)
	}
	if s.publisher != nil {
		return s.publisher.Publish(ctx, MissionCompleted{AlarmID: s.alarmID, Kind: s.kind, OccurredAt: now})
	}
	return nil
}

func (s *Session) fail(ctx context.Context, now time.Time, reason string) error {
	s.setPhase(now, PhaseFailed)
	if err := s.records.ClearSession(ctx, s.alarmID); err != nil {
		return err
	}
	metrics.ObserveSessionOutcome(s.kind, "failed", now.Sub(s.startedAt))
	if s.logger != nil {
		s.logger.Printf("session failed alarm_id=%d kind=%s reason=%s", s.alarmID, s.kind, reason)
	}
	if s.publisher != nil {
		return s.publisher.Publish(ctx, MissionFailed{AlarmID: s.alarmID, Kind: s.kind, Reason: reason, OccurredAt: now})
	}
	return nil
}

func (s *Session) abandon(ctx context.Context, now time.Time, reason string) error {
	s.setPhase(now, PhaseAbandoned)
	if err := s.records.ClearSession(ctx, s.alarmID); err != nil {
		return err
	}
	metrics.ObserveSessionOutcome(s.kind, "abandoned", now.Sub(s.startedAt))
	if s.logger != nil {
		s.logger.Printf("session abandoned alarm_id=%d kind=%s reason=%s", s.alarmID, s.kind, reason)
	}
	if reason == ReasonSafetyValve && s.auditor != nil {
		if err := s.auditor.RecordSession(ctx, s.alarmID, "session.abandoned", reason); err != nil {
			return err
		}
	}
	if s.publisher != nil {
		return s.publisher.Publish(ctx, SessionAbandoned{AlarmID: s.alarmID, Kind: s.kind, Reason: reason, OccurredAt: now})
	}
	return nil
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
