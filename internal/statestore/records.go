package statestore

import (
	"context"
	"strconv"
	"time"
)

// Key builders for the per-alarm firing records. Keys are flat strings so the
// store itself stays schema free.
func dismissKey(alarmID int) string      { return "dismiss_ts_" + strconv.Itoa(alarmID) }
func fireFlagKey(alarmID int) string     { return "fire_in_progress_" + strconv.Itoa(alarmID) }
func fireStartedKey(alarmID int) string  { return "fire_started_ts_" + strconv.Itoa(alarmID) }
func ackKey(alarmID int) string          { return "wakecheck_ack_ts_" + strconv.Itoa(alarmID) }
func pendingKey(alarmID int) string      { return "wakecheck_pending_" + strconv.Itoa(alarmID) }
func finalizedKey(alarmID int) string    { return "wakecheck_finalized_" + strconv.Itoa(alarmID) }
func gateActiveKey(alarmID int) string   { return "wakecheck_gate_active_" + strconv.Itoa(alarmID) }
func sessionPhaseKey(alarmID int) string { return "session_phase_" + strconv.Itoa(alarmID) }
func sessionPhaseAtKey(alarmID int) string {
	return "session_phase_started_ts_" + strconv.Itoa(alarmID)
}
func sessionStartedKey(alarmID int) string { return "session_started_ts_" + strconv.Itoa(alarmID) }
func sessionTapsKey(alarmID int) string    { return "session_taps_" + strconv.Itoa(alarmID) }
func queueKey(alarmID int) string          { return "mission_queue_" + strconv.Itoa(alarmID) }
func currentMissionKey(alarmID int) string { return "mission_current_" + strconv.Itoa(alarmID) }

// Records is a typed view over the per-alarm key space. All timestamps are
// stored as unix milliseconds; booleans as "1".
type Records struct {
	store Store
}

// NewRecords wraps a store.
func NewRecords(store Store) *Records {
	return &Records{store: store}
}

// Store exposes the underlying store for callers that need raw access.
func (r *Records) Store() Store {
	return r.store
}

func (r *Records) timeAt(ctx context.Context, key string) (time.Time, bool, error) {
	raw, ok, err := r.store.Get(ctx, key)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || millis <= 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(millis).UTC(), true, nil
}

func (r *Records) flag(ctx context.Context, key string) (bool, error) {
	raw, ok, err := r.store.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	return raw == "1", nil
}

func encodeTime(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// DismissedAt returns when the alarm was last dismissed.
func (r *Records) DismissedAt(ctx context.Context, alarmID int) (time.Time, bool, error) {
	return r.timeAt(ctx, dismissKey(alarmID))
}

// RecordDismissed stamps the dismissal time used by the primary-fire dedup
// window.
func (r *Records) RecordDismissed(ctx context.Context, alarmID int, at time.Time) error {
	return r.store.Set(ctx, dismissKey(alarmID), encodeTime(at))
}

// FireInProgress reports whether a primary fire is live and when it started.
func (r *Records) FireInProgress(ctx context.Context, alarmID int) (bool, time.Time, error) {
	active, err := r.flag(ctx, fireFlagKey(alarmID))
	if err != nil || !active {
		return false, time.Time{}, err
	}
	started, _, err := r.timeAt(ctx, fireStartedKey(alarmID))
	return true, started, err
}

// MarkFireInProgress records the start of a primary fire atomically with its
// start time.
func (r *Records) MarkFireInProgress(ctx context.Context, alarmID int, at time.Time) error {
	return r.store.SetAll(ctx, map[string]string{
		fireFlagKey(alarmID):    "1",
		fireStartedKey(alarmID): encodeTime(at),
	})
}

// ClearFireInProgress drops the live-fire flag.
func (r *Records) ClearFireInProgress(ctx context.Context, alarmID int) error {
	if err := r.store.Delete(ctx, fireFlagKey(alarmID)); err != nil {
		return err
	}
	return r.store.Delete(ctx, fireStartedKey(alarmID))
}

// AcknowledgedAt returns the last wake-check acknowledgment time.
func (r *Records) AcknowledgedAt(ctx context.Context, alarmID int) (time.Time, bool, error) {
	return r.timeAt(ctx, ackKey(alarmID))
}

// WakeCheckPending reports whether a follow-up check is scheduled and
// unresolved.
func (r *Records) WakeCheckPending(ctx context.Context, alarmID int) (bool, error) {
	return r.flag(ctx, pendingKey(alarmID))
}

// WakeCheckFinalized reports whether the wake-check cycle reached a terminal
// outcome.
func (r *Records) WakeCheckFinalized(ctx context.Context, alarmID int) (bool, error) {
	return r.flag(ctx, finalizedKey(alarmID))
}

// GateActive reports whether the acknowledgment gate is currently open.
func (r *Records) GateActive(ctx context.Context, alarmID int) (bool, error) {
	return r.flag(ctx, gateActiveKey(alarmID))
}

// ArmWakeCheck records, in one batch, that a follow-up check is pending and
// unacknowledged. Partial visibility here would let the dedup logic
// misclassify the follow-up fire.
func (r *Records) ArmWakeCheck(ctx context.Context, alarmID int) error {
	return r.store.SetAll(ctx, map[string]string{
		pendingKey(alarmID):   "1",
		ackKey(alarmID):       "0",
		finalizedKey(alarmID): "0",
	})
}

// OpenGate marks the acknowledgment gate open.
func (r *Records) OpenGate(ctx context.Context, alarmID int) error {
	return r.store.Set(ctx, gateActiveKey(alarmID), "1")
}

// CloseGate marks the acknowledgment gate closed.
func (r *Records) CloseGate(ctx context.Context, alarmID int) error {
	return r.store.Set(ctx, gateActiveKey(alarmID), "0")
}

// RecordAcknowledged finalizes the wake-check cycle with an ack stamp.
func (r *Records) RecordAcknowledged(ctx context.Context, alarmID int, at time.Time) error {
	return r.store.SetAll(ctx, map[string]string{
		ackKey(alarmID):        encodeTime(at),
		pendingKey(alarmID):    "0",
		finalizedKey(alarmID):  "1",
		gateActiveKey(alarmID): "0",
	})
}

// ClearWakeCheck drops every wake-check key for the alarm, used when a lapsed
// gate hands control back to a full mission session.
func (r *Records) ClearWakeCheck(ctx context.Context, alarmID int) error {
	return r.store.SetAll(ctx, map[string]string{
		pendingKey(alarmID):    "0",
		finalizedKey(alarmID):  "0",
		gateActiveKey(alarmID): "0",
	})
}

// SessionSnapshot is the persisted slice of a mission session. It is written
// on every phase transition so a killed process resumes in phase, not at the
// beginning.
type SessionSnapshot struct {
	Phase          string
	Kind           string
	StartedAt      time.Time
	PhaseStartedAt time.Time
	Taps           int
}

// SaveSession persists the snapshot atomically.
func (r *Records) SaveSession(ctx context.Context, alarmID int, snap SessionSnapshot) error {
	return r.store.SetAll(ctx, map[string]string{
		sessionPhaseKey(alarmID):   snap.Phase + "|" + snap.Kind,
		sessionStartedKey(alarmID): encodeTime(snap.StartedAt),
		sessionPhaseAtKey(alarmID): encodeTime(snap.PhaseStartedAt),
		sessionTapsKey(alarmID):    strconv.Itoa(snap.Taps),
	})
}

// LoadSession reads a persisted snapshot. ok is false when no session state
// exists for the alarm.
func (r *Records) LoadSession(ctx context.Context, alarmID int) (SessionSnapshot, bool, error) {
	raw, ok, err := r.store.Get(ctx, sessionPhaseKey(alarmID))
	if err != nil || !ok || raw == "" {
		return SessionSnapshot{}, false, err
	}
	snap := SessionSnapshot{}
	for i := 0; i < len(raw); i++ {
		if raw[i] == '|' {
			snap.Phase = raw[:i]
			snap.Kind = raw[i+1:]
			break
		}
	}
	if snap.Phase == "" {
		snap.Phase = raw
	}
	if snap.StartedAt, _, err = r.timeAt(ctx, sessionStartedKey(alarmID)); err != nil {
		return SessionSnapshot{}, false, err
	}
	if snap.PhaseStartedAt, _, err = r.timeAt(ctx, sessionPhaseAtKey(alarmID)); err != nil {
		return SessionSnapshot{}, false, err
	}
	if taps, _, err := r.store.Get(ctx, sessionTapsKey(alarmID)); err == nil && taps != "" {
		snap.Taps, _ = strconv.Atoi(taps)
	}
	return snap, true, nil
}

// ClearSession drops persisted session state after a terminal outcome.
func (r *Records) ClearSession(ctx context.Context, alarmID int) error {
	for _, key := range []string{
		sessionPhaseKey(alarmID),
		sessionStartedKey(alarmID),
		sessionPhaseAtKey(alarmID),
		sessionTapsKey(alarmID),
	} {
		if err := r.store.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// SaveQueue persists the serialized mission queue for the alarm.
func (r *Records) SaveQueue(ctx context.Context, alarmID int, encoded string) error {
	return r.store.Set(ctx, queueKey(alarmID), encoded)
}

// LoadQueue reads the serialized mission queue.
func (r *Records) LoadQueue(ctx context.Context, alarmID int) (string, bool, error) {
	return r.store.Get(ctx, queueKey(alarmID))
}

// SaveCurrentMission persists the in-flight mission marker.
func (r *Records) SaveCurrentMission(ctx context.Context, alarmID int, encoded string) error {
	return r.store.Set(ctx, currentMissionKey(alarmID), encoded)
}

// LoadCurrentMission reads the in-flight mission marker.
func (r *Records) LoadCurrentMission(ctx context.Context, alarmID int) (string, bool, error) {
	return r.store.Get(ctx, currentMissionKey(alarmID))
}

// ClearQueue drops both queue keys.
func (r *Records) ClearQueue(ctx context.Context, alarmID int) error {
	if err := r.store.Delete(ctx, queueKey(alarmID)); err != nil {
		return err
	}
	return r.store.Delete(ctx, currentMissionKey(alarmID))
}
