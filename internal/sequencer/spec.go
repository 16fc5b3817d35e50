// Package sequencer chains multiple challenges into one ordered wake-up
// routine. Queue position survives restarts; progress inside a challenge
// does not, so a restart resumes at the start of the current mission.
package sequencer

import (
	"strconv"
	"time"

	alarms "chrona-engine/internal/alarms/domain"
)

// Default mission parameters.
const (
	DefaultTimeoutMS    = 180_000
	DefaultRetryDelayMS = 3_000
	DefaultRetryCount   = 2
)

// MissionSpec describes one mission in a sequence.
type MissionSpec struct {
	ID     string            `json:"id"`
	Kind   string            `json:"kind"`
	Params map[string]string `json:"params,omitempty"`
	// TimeoutMS bounds one attempt. RetryDelayMS spaces sticky retries.
	TimeoutMS    int64 `json:"timeout_ms"`
	RetryDelayMS int64 `json:"retry_delay_ms"`
	RetryCount   int   `json:"retry_count"`
	// Sticky missions retry in place on failure instead of aborting the
	// sequence immediately.
	Sticky bool `json:"sticky"`
}

// Timeout returns the attempt timeout.
func (m MissionSpec) Timeout() time.Duration {
	return time.Duration(m.TimeoutMS) * time.Millisecond
}

// RetryDelay returns the pause before a sticky retry.
func (m MissionSpec) RetryDelay() time.Duration {
	return time.Duration(m.RetryDelayMS) * time.Millisecond
}

// Challenge converts the spec back into a challenge config for the session
// layer.
func (m MissionSpec) Challenge() alarms.ChallengeConfig {
	switch m.Kind {
	case alarms.ChallengeTap:
		return alarms.TapChallenge()
	case alarms.ChallengePassword:
		return alarms.PasswordChallenge(m.Params["password"])
	default:
		return alarms.NoChallenge()
	}
}

// SpecsFromChallenge expands a sequence challenge into mission specs. A
// non-sequence challenge becomes a single-entry list.
func SpecsFromChallenge(alarmID int, challenge alarms.ChallengeConfig) []MissionSpec {
	challenge = challenge.Normalize()
	steps := challenge.Sequence
	if challenge.Kind != alarms.ChallengeSequence {
		steps = []alarms.ChallengeConfig{challenge}
	}
	specs := make([]MissionSpec, 0, len(steps))
	for i, step := range steps {
		spec := MissionSpec{
			ID:           missionID(alarmID, i, step.Kind),
			Kind:         step.Kind,
			TimeoutMS:    DefaultTimeoutMS,
			RetryDelayMS: DefaultRetryDelayMS,
			RetryCount:   DefaultRetryCount,
			Sticky:       step.Kind == alarms.ChallengeTap,
		}
		if step.Kind == alarms.ChallengePassword && step.Password != "" {
			spec.Params = map[string]string{"password": step.Password}
		}
		specs = append(specs, spec)
	}
	return specs
}

func missionID(alarmID, index int, kind string) string {
	return "m" + strconv.Itoa(alarmID) + "-" + strconv.Itoa(index) + "-" + kind
}
