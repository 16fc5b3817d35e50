package alarms

import "time"

// Alarm is a single configured wake-up alarm. The engine reads alarms from a
// registry collaborator and may flip Enabled; everything else is owned by the
// alarm-list UI, which is outside this module.
type Alarm struct {
	ID               int             `json:"id"`
	Hour             int             `json:"hour"`
	Minute           int             `json:"minute"`
	Enabled          bool            `json:"enabled"`
	RepeatDays       []time.Weekday  `json:"repeat_days,omitempty"`
	RepeatDaily      bool            `json:"repeat_daily"`
	Protected        bool            `json:"protected"`
	Challenge        ChallengeConfig `json:"challenge"`
	WakeCheckEnabled bool            `json:"wake_check_enabled"`
	WakeCheckMinutes int             `json:"wake_check_minutes"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// OneShot reports whether the alarm fires once and is then disabled.
func (a Alarm) OneShot() bool {
	return len(a.RepeatDays) == 0 && !a.RepeatDaily
}

// NextTrigger returns the next fire time strictly after now, in now's
// location. For one-shot alarms this is the next occurrence of hour:minute;
// for weekday repeats the next enabled weekday.
func (a Alarm) NextTrigger(now time.Time) time.Time {
	candidate := time.Date(now.Year(), now.Month(), now.Day(), a.Hour, a.Minute, 0, 0, now.Location())
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	if a.RepeatDaily || len(a.RepeatDays) == 0 {
		return candidate
	}
	for i := 0; i < 7; i++ {
		if a.repeatsOn(candidate.Weekday()) {
			return candidate
		}
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

func (a Alarm) repeatsOn(day time.Weekday) bool {
	for _, d := range a.RepeatDays {
		if d == day {
			return true
		}
	}
	return false
}
