package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	alarms "chrona-engine/internal/alarms/domain"
)

// AlarmRepository is an in-memory alarm repository for tests and demos.
type AlarmRepository struct {
	mu     sync.RWMutex
	byID   map[int]alarms.Alarm
	failed error
}

// NewAlarmRepository constructs an empty repository.
func NewAlarmRepository() *AlarmRepository {
	return &AlarmRepository{byID: make(map[int]alarms.Alarm)}
}

// FailWith makes every call return err, simulating an unreadable backend.
func (r *AlarmRepository) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = err
}

// GetByID loads an alarm by id. Returns nil when absent.
func (r *AlarmRepository) GetByID(_ context.Context, id int) (*alarms.Alarm, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.failed != nil {
		return nil, r.failed
	}
	alarm, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	copied := alarm
	return &copied, nil
}

// List returns every alarm ordered by id.
func (r *AlarmRepository) List(_ context.Context) ([]alarms.Alarm, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.failed != nil {
		return nil, r.failed
	}
	result := make([]alarms.Alarm, 0, len(r.byID))
	for _, alarm := range r.byID {
		result = append(result, alarm)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Save upserts an alarm definition.
func (r *AlarmRepository) Save(_ context.Context, alarm *alarms.Alarm) error {
	if alarm == nil {
		return errors.New("alarm repo: nil alarm")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failed != nil {
		return r.failed
	}
	r.byID[alarm.ID] = *alarm
	return nil
}
