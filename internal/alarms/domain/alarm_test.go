package alarms

import (
	"testing"
	"time"
)

func TestNextTriggerSameDayWhenStillAhead(t *testing.T) {
	alarm := Alarm{ID: 1, Hour: 6, Minute: 30, RepeatDaily: true}
	now := time.Date(2025, 6, 1, 5, 0, 0, 0, time.UTC)

	got := alarm.NextTrigger(now)
	want := time.Date(2025, 6, 1, 6, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestNextTriggerRollsToTomorrowAfterFireTime(t *testing.T) {
	alarm := Alarm{ID: 1, Hour: 6, Minute: 30, RepeatDaily: true}
	now := time.Date(2025, 6, 1, 6, 30, 0, 0, time.UTC)

	// Exactly the fire time counts as passed.
	got := alarm.NextTrigger(now)
	want := time.Date(2025, 6, 2, 6, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestNextTriggerScansForEnabledWeekday(t *testing.T) {
	// 2025-06-01 is a Sunday.
	alarm := Alarm{ID: 1, Hour: 6, Minute: 30, RepeatDays: []time.Weekday{time.Wednesday, time.Friday}}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	got := alarm.NextTrigger(now)
	want := time.Date(2025, 6, 4, 6, 30, 0, 0, time.UTC)
	if !got.Equal(want) || got.Weekday() != time.Wednesday {
		t.Fatalf("got %s (%s), want %s", got, got.Weekday(), want)
	}
}

func TestNextTriggerSameWeekdayNextWeek(t *testing.T) {
	// Sunday after the fire time: the next Sunday is seven days out.
	alarm := Alarm{ID: 1, Hour: 6, Minute: 30, RepeatDays: []time.Weekday{time.Sunday}}
	now := time.Date(2025, 6, 1, 7, 0, 0, 0, time.UTC)

	got := alarm.NextTrigger(now)
	want := time.Date(2025, 6, 8, 6, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestOneShotDetection(t *testing.T) {
	if !(Alarm{ID: 1}).OneShot() {
		t.Fatal("no repeat config means one-shot")
	}
	if (Alarm{ID: 1, RepeatDaily: true}).OneShot() {
		t.Fatal("daily alarm is not one-shot")
	}
	if (Alarm{ID: 1, RepeatDays: []time.Weekday{time.Monday}}).OneShot() {
		t.Fatal("weekday alarm is not one-shot")
	}
}

func TestNormalizeMapsUnknownKindsToNone(t *testing.T) {
	got := ChallengeConfig{Kind: "bogus"}.Normalize()
	if got.Kind != ChallengeNone {
		t.Fatalf("got %q, want none", got.Kind)
	}
	if (ChallengeConfig{}).Normalize().Kind != ChallengeNone {
		t.Fatal("zero config must normalize to none")
	}
}

func TestNormalizeFiltersSequenceSteps(t *testing.T) {
	challenge := SequenceChallenge(NoChallenge(), TapChallenge(), SequenceChallenge(TapChallenge()), PasswordChallenge("x"))
	got := challenge.Normalize()
	if got.Kind != ChallengeSequence {
		t.Fatalf("got %q, want sequence", got.Kind)
	}
	if len(got.Sequence) != 2 {
		t.Fatalf("expected tap and password to survive, got %+v", got.Sequence)
	}
	if got.Sequence[0].Kind != ChallengeTap || got.Sequence[1].Kind != ChallengePassword {
		t.Fatalf("step order lost: %+v", got.Sequence)
	}
}

func TestNormalizeCollapsesEmptySequence(t *testing.T) {
	got := SequenceChallenge(NoChallenge(), NoChallenge()).Normalize()
	if got.Kind != ChallengeNone {
		t.Fatalf("sequence of nothing must be none, got %q", got.Kind)
	}
}

func TestChallengeListRoundTrip(t *testing.T) {
	challenge := SequenceChallenge(TapChallenge(), PasswordChallenge("rise"))
	list := challenge.ChallengeList()
	if list != "tap,password" {
		t.Fatalf("got list %q", list)
	}

	parsed, err := ParseChallengeList(list, "rise")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Kind != ChallengeSequence || len(parsed.Sequence) != 2 {
		t.Fatalf("round trip lost shape: %+v", parsed)
	}
	if parsed.Sequence[1].Password != "rise" {
		t.Fatalf("password not restored: %+v", parsed.Sequence[1])
	}
}

func TestParseChallengeListCollapsesSingleEntry(t *testing.T) {
	parsed, err := ParseChallengeList("tap", "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Kind != ChallengeTap {
		t.Fatalf("single entry must collapse to its kind, got %q", parsed.Kind)
	}
}

func TestParseChallengeListRejectsUnknownKind(t *testing.T) {
	if _, err := ParseChallengeList("tap,teleport", ""); err == nil {
		t.Fatal("unknown kind must fail")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	alarm := Alarm{
		ID: 12, Hour: 7, Minute: 15, Enabled: true,
		RepeatDays:       []time.Weekday{time.Monday, time.Thursday},
		Challenge:        SequenceChallenge(TapChallenge(), PasswordChallenge("rise")),
		WakeCheckEnabled: true, WakeCheckMinutes: 7,
	}
	encoded, err := EncodeSnapshot(alarm)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeSnapshot(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != 12 || decoded.Hour != 7 || decoded.Minute != 15 {
		t.Fatalf("identity lost: %+v", decoded)
	}
	if decoded.Challenge.Kind != ChallengeSequence || len(decoded.Challenge.Sequence) != 2 {
		t.Fatalf("challenge lost: %+v", decoded.Challenge)
	}
	if !decoded.WakeCheckEnabled || decoded.WakeCheckMinutes != 7 {
		t.Fatalf("wake-check config lost: %+v", decoded)
	}
}

func TestEncodeChallengeRoundTrip(t *testing.T) {
	encoded, err := EncodeChallenge(PasswordChallenge("rise"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeChallenge(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Kind != ChallengePassword || decoded.Password != "rise" {
		t.Fatalf("round trip lost config: %+v", decoded)
	}
}
