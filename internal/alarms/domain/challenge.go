package alarms

import (
	"encoding/json"
	"errors"
	"strings"
)

const (
	ChallengeNone     = "none"
	ChallengeTap      = "tap"
	ChallengePassword = "password"
	ChallengeSequence = "sequence"
)

// ChallengeConfig is the tagged union of challenge kinds. Exactly one of the
// optional fields is meaningful for its kind: Password for password
// challenges, Sequence for ordered multi-mission chains.
type ChallengeConfig struct {
	Kind     string            `json:"kind"`
	Password string            `json:"password,omitempty"`
	Sequence []ChallengeConfig `json:"sequence,omitempty"`
}

// NoChallenge is the zero challenge: dismissal is allowed immediately.
func NoChallenge() ChallengeConfig {
	return ChallengeConfig{Kind: ChallengeNone}
}

// TapChallenge builds a tap-count challenge.
func TapChallenge() ChallengeConfig {
	return ChallengeConfig{Kind: ChallengeTap}
}

// PasswordChallenge builds a password challenge. An empty secret falls back
// to the engine default at session start.
func PasswordChallenge(secret string) ChallengeConfig {
	return ChallengeConfig{Kind: ChallengePassword, Password: secret}
}

// SequenceChallenge builds an ordered chain of challenges.
func SequenceChallenge(steps ...ChallengeConfig) ChallengeConfig {
	return ChallengeConfig{Kind: ChallengeSequence, Sequence: steps}
}

// IsZero reports whether the config carries no usable kind. Callers treat a
// zero config as ChallengeNone rather than raising to the user.
func (c ChallengeConfig) IsZero() bool {
	return c.Kind == ""
}

// Normalize maps unknown or empty kinds to ChallengeNone and filters "none"
// entries out of sequences, mirroring how the engine tolerates missing
// challenge configuration.
func (c ChallengeConfig) Normalize() ChallengeConfig {
	switch c.Kind {
	case ChallengeTap, ChallengePassword:
		return c
	case ChallengeSequence:
		steps := make([]ChallengeConfig, 0, len(c.Sequence))
		for _, step := range c.Sequence {
			step = step.Normalize()
			if step.Kind == ChallengeNone || step.Kind == ChallengeSequence {
				continue
			}
			steps = append(steps, step)
		}
		if len(steps) == 0 {
			return NoChallenge()
		}
		return ChallengeConfig{Kind: ChallengeSequence, Sequence: steps}
	default:
		return NoChallenge()
	}
}

// ChallengeList renders the sequence as the delimited challenge-kind list
// persisted with the alarm. The sequencer rebuilds its queue from this after
// a process restart, because per-mission progress is not durable.
func (c ChallengeConfig) ChallengeList() string {
	if c.Kind != ChallengeSequence {
		return c.Kind
	}
	kinds := make([]string, 0, len(c.Sequence))
	for _, step := range c.Sequence {
		kinds = append(kinds, step.Kind)
	}
	return strings.Join(kinds, ",")
}

// ParseChallengeList parses a delimited challenge-kind list back into a
// config. Single entries collapse to their plain kind.
func ParseChallengeList(list, password string) (ChallengeConfig, error) {
	list = strings.TrimSpace(list)
	if list == "" {
		return NoChallenge(), nil
	}
	parts := strings.Split(list, ",")
	steps := make([]ChallengeConfig, 0, len(parts))
	for _, part := range parts {
		switch strings.TrimSpace(part) {
		case ChallengeNone, "":
			continue
		case ChallengeTap:
			steps = append(steps, TapChallenge())
		case ChallengePassword:
			steps = append(steps, PasswordChallenge(password))
		default:
			return NoChallenge(), errors.New("alarms: unknown challenge kind " + part)
		}
	}
	switch len(steps) {
	case 0:
		return NoChallenge(), nil
	case 1:
		return steps[0], nil
	default:
		return SequenceChallenge(steps...), nil
	}
}

// EncodeChallenge serializes a config for carrying on a trigger event.
func EncodeChallenge(c ChallengeConfig) (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DecodeChallenge is the inverse of EncodeChallenge.
func DecodeChallenge(value string) (ChallengeConfig, error) {
	if value == "" {
		return NoChallenge(), nil
	}
	var c ChallengeConfig
	if err := json.Unmarshal([]byte(value), &c); err != nil {
		return NoChallenge(), err
	}
	return c.Normalize(), nil
}
