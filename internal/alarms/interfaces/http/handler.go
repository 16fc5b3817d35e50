package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	alarmapp "chrona-engine/internal/alarms/application"
	alarms "chrona-engine/internal/alarms/domain"
	"chrona-engine/internal/statestore"
)

// Dismisser runs the plain dismissal path for one alarm.
type Dismisser interface {
	Dismiss(ctx context.Context, alarmID int) error
}

// SequenceView reports live sequence status for the state endpoint.
type SequenceView interface {
	IsRunning(alarmID int) bool
	AwaitingNext(alarmID int) bool
}

// Handler provides alarm HTTP endpoints.
type Handler struct {
	service   *alarmapp.Service
	records   *statestore.Records
	dismisser Dismisser
	sequences SequenceView
}

// NewHandler constructs a handler.
func NewHandler(service *alarmapp.Service, records *statestore.Records, dismisser Dismisser, sequences SequenceView) (*Handler, error) {
	if service == nil {
		return nil, errors.New("alarms handler: nil service")
	}
	return &Handler{service: service, records: records, dismisser: dismisser, sequences: sequences}, nil
}

// ServeHTTP handles /api/v1/alarms and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/alarms":
		switch r.Method {
		case http.MethodGet:
			h.handleList(w, r)
		case http.MethodPost:
			h.handleSave(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	case strings.HasPrefix(r.URL.Path, "/api/v1/alarms/"):
		h.handleSubroute(w, r)
		return
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context())
	if err != nil {
		http.Error(w, "list alarms error", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []alarms.Alarm{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	var alarm alarms.Alarm
	if err := json.NewDecoder(r.Body).Decode(&alarm); err != nil {
		http.Error(w, "invalid alarm payload", http.StatusBadRequest)
		return
	}
	if alarm.ID <= 0 {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	if alarm.Hour < 0 || alarm.Hour > 23 || alarm.Minute < 0 || alarm.Minute > 59 {
		http.Error(w, "invalid alarm time", http.StatusBadRequest)
		return
	}
	if err := h.service.Save(r.Context(), &alarm); err != nil {
		http.Error(w, "save alarm error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(alarm)
}

func (h *Handler) handleSubroute(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/alarms/")
	parts := strings.Split(path, "/")

	alarmID, err := strconv.Atoi(parts[0])
	if err != nil || alarmID <= 0 {
		http.Error(w, "invalid alarm id", http.StatusBadRequest)
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleGet(w, r, alarmID)
		return
	}
	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch parts[1] {
	case "state":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleState(w, r, alarmID)
	case "dismiss":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleDismiss(w, r, alarmID)
	case "disable":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleDisable(w, r, alarmID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, alarmID int) {
	alarm, err := h.service.Get(r.Context(), alarmID)
	if err != nil {
		if errors.Is(err, alarms.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, "get alarm error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(alarm)
}

// alarmState is the live firing snapshot for one alarm, assembled from the
// durable records. Session fields reflect the last persisted transition.
type alarmState struct {
	AlarmID            int        `json:"alarm_id"`
	DismissedAt        *time.Time `json:"dismissed_at"`
	FireInProgress     bool       `json:"fire_in_progress"`
	FireStartedAt      *time.Time `json:"fire_started_at"`
	SessionPhase       string     `json:"session_phase,omitempty"`
	SessionKind        string     `json:"session_kind,omitempty"`
	SessionTaps        int        `json:"session_taps,omitempty"`
	WakeCheckPending   bool       `json:"wake_check_pending"`
	WakeCheckFinalized bool       `json:"wake_check_finalized"`
	GateActive         bool       `json:"gate_active"`
	AcknowledgedAt     *time.Time `json:"acknowledged_at"`
	SequenceRunning    bool       `json:"sequence_running"`
	AwaitingNext       bool       `json:"awaiting_next"`
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request, alarmID int) {
	if h.records == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	ctx := r.Context()
	state := alarmState{AlarmID: alarmID}
	if at, ok, err := h.records.DismissedAt(ctx, alarmID); err == nil && ok {
		state.DismissedAt = &at
	}
	if active, startedAt, err := h.records.FireInProgress(ctx, alarmID); err == nil && active {
		state.FireInProgress = true
		if !startedAt.IsZero() {
			state.FireStartedAt = &startedAt
		}
	}
	if snap, ok, err := h.records.LoadSession(ctx, alarmID); err == nil && ok {
		state.SessionPhase = snap.Phase
		state.SessionKind = snap.Kind
		state.SessionTaps = snap.Taps
	}
	if pending, err := h.records.WakeCheckPending(ctx, alarmID); err == nil {
		state.WakeCheckPending = pending
	}
	if finalized, err := h.records.WakeCheckFinalized(ctx, alarmID); err == nil {
		state.WakeCheckFinalized = finalized
	}
	if active, err := h.records.GateActive(ctx, alarmID); err == nil {
		state.GateActive = active
	}
	if at, ok, err := h.records.AcknowledgedAt(ctx, alarmID); err == nil && ok {
		state.AcknowledgedAt = &at
	}
	if h.sequences != nil {
		state.SequenceRunning = h.sequences.IsRunning(alarmID)
		state.AwaitingNext = h.sequences.AwaitingNext(alarmID)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(state)
}

func (h *Handler) handleDismiss(w http.ResponseWriter, r *http.Request, alarmID int) {
	if h.dismisser == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	if err := h.dismisser.Dismiss(r.Context(), alarmID); err != nil {
		switch {
		case errors.Is(err, alarms.ErrProtected):
			http.Error(w, "alarm is protected; solve the challenge", http.StatusConflict)
		case errors.Is(err, alarms.ErrNotFound):
			w.WriteHeader(http.StatusNotFound)
		default:
			http.Error(w, "dismiss error", http.StatusInternalServerError)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "dismissed"})
}

func (h *Handler) handleDisable(w http.ResponseWriter, r *http.Request, alarmID int) {
	alarm, err := h.service.Disable(r.Context(), alarmID)
	if err != nil {
		if errors.Is(err, alarms.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, "disable alarm error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(alarm)
}
