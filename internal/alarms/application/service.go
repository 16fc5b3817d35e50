package application

import (
	"context"
	"errors"
	"time"

	alarms "chrona-engine/internal/alarms/domain"
	"chrona-engine/internal/observability/metrics"
)

// Repository stores alarm definitions.
type Repository interface {
	GetByID(ctx context.Context, id int) (*alarms.Alarm, error)
	List(ctx context.Context) ([]alarms.Alarm, error)
	Save(ctx context.Context, alarm *alarms.Alarm) error
}

// AlarmNotifier publishes alarm lifecycle events.
type AlarmNotifier interface {
	Notify(ctx context.Context, event AlarmEvent)
}

// AlarmEvent represents a lifecycle update.
type AlarmEvent struct {
	Type  string       `json:"type"`
	Alarm alarms.Alarm `json:"alarm"`
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Service is the alarm registry. The firing engine reads alarm definitions
// through it and flips Enabled; it tolerates an unreachable repository by
// falling back to the event-carried snapshot.
type Service struct {
	repo     Repository
	notifier AlarmNotifier
	clock    Clock
}

// ServiceOption customizes the registry service.
type ServiceOption func(*Service)

// WithNotifier assigns a notifier.
func WithNotifier(notifier AlarmNotifier) ServiceOption {
	return func(s *Service) {
		s.notifier = notifier
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		s.clock = clock
	}
}

// NewService constructs a registry service.
func NewService(repo Repository, opts ...ServiceOption) (*Service, error) {
	if repo == nil {
		return nil, errors.New("alarms: nil repository")
	}
	service := &Service{
		repo:  repo,
		clock: systemClock{},
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Get loads an alarm by id.
func (s *Service) Get(ctx context.Context, id int) (*alarms.Alarm, error) {
	if s == nil {
		return nil, errors.New("alarms: nil service")
	}
	alarm, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if alarm == nil {
		return nil, alarms.ErrNotFound
	}
	return alarm, nil
}

// GetOrSnapshot loads an alarm, falling back to the serialized snapshot
// carried on the trigger event when the repository errors or has no record.
// A trigger must never be dropped just because storage is not readable yet.
func (s *Service) GetOrSnapshot(ctx context.Context, id int, snapshot string) (alarms.Alarm, error) {
	if s == nil {
		return alarms.Alarm{}, errors.New("alarms: nil service")
	}
	alarm, err := s.repo.GetByID(ctx, id)
	if err == nil && alarm != nil {
		return *alarm, nil
	}
	if snapshot == "" {
		if err != nil {
			return alarms.Alarm{}, err
		}
		return alarms.Alarm{}, alarms.ErrNotFound
	}
	fromSnapshot, decodeErr := alarms.DecodeSnapshot(snapshot)
	if decodeErr != nil {
		if err != nil {
			return alarms.Alarm{}, err
		}
		return alarms.Alarm{}, decodeErr
	}
	metrics.IncRegistryFallback()
	return fromSnapshot, nil
}

// List returns all alarms.
func (s *Service) List(ctx context.Context) ([]alarms.Alarm, error) {
	if s == nil {
		return nil, errors.New("alarms: nil service")
	}
	return s.repo.List(ctx)
}

// Save upserts an alarm definition.
func (s *Service) Save(ctx context.Context, alarm *alarms.Alarm) error {
	if s == nil {
		return errors.New("alarms: nil service")
	}
	if alarm == nil {
		return errors.New("alarms: nil alarm")
	}
	now := s.clock.Now().UTC()
	if alarm.CreatedAt.IsZero() {
		alarm.CreatedAt = now
	}
	alarm.UpdatedAt = now
	alarm.Challenge = alarm.Challenge.Normalize()
	if err := s.repo.Save(ctx, alarm); err != nil {
		return err
	}
	s.notify(ctx, "saved", *alarm)
	return nil
}

// Disable turns an alarm off. Used after a one-shot alarm has been
// acknowledged or fully dismissed.
func (s *Service) Disable(ctx context.Context, id int) (*alarms.Alarm, error) {
	if s == nil {
		return nil, errors.New("alarms: nil service")
	}
	alarm, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if alarm == nil {
		return nil, alarms.ErrNotFound
	}
	if !alarm.Enabled {
		return alarm, nil
	}
	alarm.Enabled = false
	alarm.UpdatedAt = s.clock.Now().UTC()
	if err := s.repo.Save(ctx, alarm); err != nil {
		return nil, err
	}
	s.notify(ctx, "disabled", *alarm)
	return alarm, nil
}

// DisableIfOneShot disables the alarm only when it has no repeat schedule.
// Repeating alarms stay enabled across wake-check acknowledgment.
func (s *Service) DisableIfOneShot(ctx context.Context, id int) (*alarms.Alarm, error) {
	if s == nil {
		return nil, errors.New("alarms: nil service")
	}
	alarm, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if alarm == nil {
		return nil, alarms.ErrNotFound
	}
	if !alarm.OneShot() {
		return alarm, nil
	}
	return s.Disable(ctx, id)
}

// EnsureDismissable refuses plain dismissal of a protected alarm that still
// carries a real challenge. The challenge path is the only way out.
func (s *Service) EnsureDismissable(alarm alarms.Alarm) error {
	if alarm.Protected && alarm.Challenge.Normalize().Kind != alarms.ChallengeNone {
		return alarms.ErrProtected
	}
	return nil
}

func (s *Service) notify(ctx context.Context, eventType string, alarm alarms.Alarm) {
	if s == nil || s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, AlarmEvent{Type: eventType, Alarm: alarm})
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
