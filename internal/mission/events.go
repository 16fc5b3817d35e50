package mission

import "time"

// MissionCompleted signals that a session's challenge was solved.
type MissionCompleted struct {
	AlarmID    int       `json:"alarm_id"`
	Kind       string    `json:"kind"`
	OccurredAt time.Time `json:"occurred_at"`
}

// MissionFailed signals that a session's challenge was not solved in time.
type MissionFailed struct {
	AlarmID    int       `json:"alarm_id"`
	Kind       string    `json:"kind"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

// SessionAbandoned signals a terminal give-up, including the safety valve.
type SessionAbandoned struct {
	AlarmID    int       `json:"alarm_id"`
	Kind       string    `json:"kind"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}
