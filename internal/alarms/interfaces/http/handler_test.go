package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	alarmapp "chrona-engine/internal/alarms/application"
	alarms "chrona-engine/internal/alarms/domain"
	alarmmemory "chrona-engine/internal/alarms/infrastructure/memory"
	"chrona-engine/internal/statestore"
	statememory "chrona-engine/internal/statestore/memory"
)

type stubDismisser struct {
	err    error
	called []int
}

func (d *stubDismisser) Dismiss(_ context.Context, alarmID int) error {
	d.called = append(d.called, alarmID)
	return d.err
}

type stubSequences struct {
	running  bool
	awaiting bool
}

func (s stubSequences) IsRunning(int) bool    { return s.running }
func (s stubSequences) AwaitingNext(int) bool { return s.awaiting }

func newTestHandler(t *testing.T, dismisser Dismisser, sequences SequenceView, list ...alarms.Alarm) (*Handler, *statestore.Records) {
	t.Helper()
	repo := alarmmemory.NewAlarmRepository()
	ctx := context.Background()
	for i := range list {
		if err := repo.Save(ctx, &list[i]); err != nil {
			t.Fatalf("seed alarm: %v", err)
		}
	}
	service, err := alarmapp.NewService(repo)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	records := statestore.NewRecords(statememory.NewStore())
	handler, err := NewHandler(service, records, dismisser, sequences)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	return handler, records
}

func testAlarm(id int) alarms.Alarm {
	return alarms.Alarm{ID: id, Hour: 6, Minute: 30, Enabled: true, RepeatDaily: true, Challenge: alarms.NoChallenge()}
}

func TestListReturnsSeededAlarms(t *testing.T) {
	handler, _ := newTestHandler(t, nil, nil, testAlarm(1), testAlarm(2))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alarms", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var list []alarms.Alarm
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 2 || list[0].ID != 1 || list[1].ID != 2 {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestSaveValidatesTime(t *testing.T) {
	handler, _ := newTestHandler(t, nil, nil)

	body := strings.NewReader(`{"id":3,"hour":25,"minute":0}`)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/alarms", body))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSaveThenGetRoundTrip(t *testing.T) {
	handler, _ := newTestHandler(t, nil, nil)

	body := strings.NewReader(`{"id":3,"hour":7,"minute":45,"enabled":true,"challenge":{"kind":"tap"}}`)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/alarms", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("save status %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alarms/3", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status %d", rec.Code)
	}
	var alarm alarms.Alarm
	if err := json.Unmarshal(rec.Body.Bytes(), &alarm); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if alarm.Hour != 7 || alarm.Minute != 45 || alarm.Challenge.Kind != alarms.ChallengeTap {
		t.Fatalf("round trip lost config: %+v", alarm)
	}
}

func TestGetMissingAlarmIs404(t *testing.T) {
	handler, _ := newTestHandler(t, nil, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alarms/99", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestStateReflectsRecords(t *testing.T) {
	handler, records := newTestHandler(t, nil, stubSequences{running: true, awaiting: true}, testAlarm(4))
	ctx := context.Background()
	started := time.Date(2025, 6, 1, 6, 30, 0, 0, time.UTC)
	if err := records.MarkFireInProgress(ctx, 4, started); err != nil {
		t.Fatalf("mark fire: %v", err)
	}
	if err := records.SaveSession(ctx, 4, statestore.SessionSnapshot{
		Phase: "tapping", Kind: "tap", StartedAt: started, PhaseStartedAt: started, Taps: 17,
	}); err != nil {
		t.Fatalf("save session: %v", err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alarms/4/state", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var state alarmState
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !state.FireInProgress || state.FireStartedAt == nil {
		t.Fatalf("fire state lost: %+v", state)
	}
	if state.SessionPhase != "tapping" || state.SessionTaps != 17 {
		t.Fatalf("session state lost: %+v", state)
	}
	if !state.SequenceRunning || !state.AwaitingNext {
		t.Fatalf("sequence view lost: %+v", state)
	}
}

func TestDismissMapsProtectedTo409(t *testing.T) {
	dismisser := &stubDismisser{err: alarms.ErrProtected}
	handler, _ := newTestHandler(t, dismisser, nil, testAlarm(5))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/alarms/5/dismiss", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestDismissRunsDismisser(t *testing.T) {
	dismisser := &stubDismisser{}
	handler, _ := newTestHandler(t, dismisser, nil, testAlarm(5))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/alarms/5/dismiss", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if len(dismisser.called) != 1 || dismisser.called[0] != 5 {
		t.Fatalf("dismisser not invoked, got %v", dismisser.called)
	}
}

func TestDisableFlipsEnabled(t *testing.T) {
	handler, _ := newTestHandler(t, nil, nil, testAlarm(6))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/alarms/6/disable", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var alarm alarms.Alarm
	if err := json.Unmarshal(rec.Body.Bytes(), &alarm); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if alarm.Enabled {
		t.Fatal("alarm still enabled after disable")
	}
}
