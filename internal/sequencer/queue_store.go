package sequencer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"chrona-engine/internal/statestore"
)

// QueueState is the durable slice of a running sequence.
type QueueState struct {
	Specs    []MissionSpec `json:"specs"`
	Index    int           `json:"index"`
	Attempts int           `json:"attempts"`
}

// CurrentMission marks the in-flight mission and when it started.
type CurrentMission struct {
	Spec      MissionSpec `json:"spec"`
	StartedAt time.Time   `json:"started_at"`
}

// QueueStore persists sequence progress through the state store.
type QueueStore struct {
	records *statestore.Records
}

// NewQueueStore wraps the records layer.
func NewQueueStore(records *statestore.Records) (*QueueStore, error) {
	if records == nil {
		return nil, errors.New("sequencer: nil records")
	}
	return &QueueStore{records: records}, nil
}

// Save persists the queue state.
func (s *QueueStore) Save(ctx context.Context, alarmID int, state QueueState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.records.SaveQueue(ctx, alarmID, string(raw))
}

// Load reads the queue state. ok is false when no sequence is persisted.
func (s *QueueStore) Load(ctx context.Context, alarmID int) (QueueState, bool, error) {
	raw, ok, err := s.records.LoadQueue(ctx, alarmID)
	if err != nil || !ok || raw == "" {
		return QueueState{}, false, err
	}
	var state QueueState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return QueueState{}, false, err
	}
	return state, true, nil
}

// SetCurrent marks the in-flight mission.
func (s *QueueStore) SetCurrent(ctx context.Context, alarmID int, current CurrentMission) error {
	raw, err := json.Marshal(current)
	if err != nil {
		return err
	}
	return s.records.SaveCurrentMission(ctx, alarmID, string(raw))
}

// Current reads the in-flight mission marker.
func (s *QueueStore) Current(ctx context.Context, alarmID int) (CurrentMission, bool, error) {
	raw, ok, err := s.records.LoadCurrentMission(ctx, alarmID)
	if err != nil || !ok || raw == "" {
		return CurrentMission{}, false, err
	}
	var current CurrentMission
	if err := json.Unmarshal([]byte(raw), &current); err != nil {
		return CurrentMission{}, false, err
	}
	return current, true, nil
}

// Clear drops all sequence state for the alarm.
func (s *QueueStore) Clear(ctx context.Context, alarmID int) error {
	return s.records.ClearQueue(ctx, alarmID)
}
