// Package apihttp serves the engine-level API surface: wake-check
// acknowledgment and wake-history exports. Alarm CRUD and live state live
// under the alarms context handler.
package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"chrona-engine/internal/audit"
	"chrona-engine/internal/wakecheck"
)

const timeLayout = time.RFC3339

// AuditReader lists wake-history entries.
type AuditReader interface {
	ListByAlarm(ctx context.Context, alarmID int, from, to time.Time) ([]audit.Entry, error)
}

// AckHandler serves POST /api/v1/wakecheck/{id}/ack.
type AckHandler struct {
	gate *wakecheck.Gate
}

// NewAckHandler constructs an AckHandler.
func NewAckHandler(gate *wakecheck.Gate) *AckHandler {
	return &AckHandler{gate: gate}
}

// ServeHTTP records the acknowledgment. Repeated calls are safe; a stale
// acknowledgment reports the same outward result as a fresh one.
func (h *AckHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.gate == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	alarmID, err := alarmIDFromPath(r.URL.Path, "/api/v1/wakecheck/", "/ack")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	result, err := h.gate.Acknowledge(r.Context(), alarmID)
	if err != nil {
		http.Error(w, "acknowledge error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"result": string(result)})
}

// ReportHandler serves GET /api/v1/reports/{id}/wake-history.pdf and .xlsx.
type ReportHandler struct {
	reader AuditReader
}

// NewReportHandler constructs a ReportHandler.
func NewReportHandler(reader AuditReader) *ReportHandler {
	return &ReportHandler{reader: reader}
}

// ServeHTTP renders the wake-history export for one alarm. The range
// defaults to the last 30 days.
func (h *ReportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.reader == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/reports/")
	var format string
	var idPart string
	switch {
	case strings.HasSuffix(rest, "/wake-history.pdf"):
		format = "pdf"
		idPart = strings.TrimSuffix(rest, "/wake-history.pdf")
	case strings.HasSuffix(rest, "/wake-history.xlsx"):
		format = "xlsx"
		idPart = strings.TrimSuffix(rest, "/wake-history.xlsx")
	default:
		http.Error(w, "unknown report", http.StatusNotFound)
		return
	}
	alarmID, err := strconv.Atoi(idPart)
	if err != nil || alarmID <= 0 {
		http.Error(w, "invalid alarm id", http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30)
	to := now
	if raw := r.URL.Query().Get("from"); raw != "" {
		if from, err = time.Parse(timeLayout, raw); err != nil {
			http.Error(w, "from must be RFC3339", http.StatusBadRequest)
			return
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if to, err = time.Parse(timeLayout, raw); err != nil {
			http.Error(w, "to must be RFC3339", http.StatusBadRequest)
			return
		}
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}

	entries, err := h.reader.ListByAlarm(r.Context(), alarmID, from.UTC(), to.UTC())
	if err != nil {
		http.Error(w, "query audit error", http.StatusInternalServerError)
		return
	}
	header := audit.ReportHeader{AlarmID: alarmID, From: from.UTC(), To: to.UTC(), GeneratedAt: now}

	var data []byte
	switch format {
	case "pdf":
		data, err = audit.BuildWakeHistoryPDF(header, entries)
		w.Header().Set("Content-Type", "application/pdf")
	case "xlsx":
		data, err = audit.BuildWakeHistoryXLSX(header, entries)
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	}
	if err != nil {
		http.Error(w, "render report error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Disposition", "attachment; filename=wake-history-"+strconv.Itoa(alarmID)+"."+format)
	_, _ = w.Write(data)
}

// alarmIDFromPath extracts the integer id between a known prefix and suffix.
func alarmIDFromPath(path, prefix, suffix string) (int, error) {
	rest := strings.TrimPrefix(path, prefix)
	if rest == path || !strings.HasSuffix(rest, suffix) {
		return 0, errors.New("invalid path")
	}
	idPart := strings.TrimSuffix(rest, suffix)
	alarmID, err := strconv.Atoi(idPart)
	if err != nil || alarmID <= 0 {
		return 0, errors.New("invalid alarm id")
	}
	return alarmID, nil
}
