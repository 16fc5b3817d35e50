package audit

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repository writes and reads audit logs in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs an audit repository.
func NewRepository(db *sql.DB) *Repository {
	if db == nil {
		return nil
	}
	return &Repository{db: db}
}

// Log writes an audit entry.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errors.New("audit repo: nil db")
	}
	if entry.ID == "" {
		entry.ID = NewID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.PayloadDigest == "" {
		entry.PayloadDigest = DigestJSON(entry.Metadata)
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO audit_log (
	id, alarm_id, action, detail, metadata, payload_digest, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7
)`, entry.ID, entry.AlarmID, entry.Action, entry.Detail,
		entry.Metadata, entry.PayloadDigest, entry.CreatedAt)
	return err
}

// ListByAlarm returns entries for one alarm inside a time range, oldest
// first.
func (r *Repository) ListByAlarm(ctx context.Context, alarmID int, from, to time.Time) ([]Entry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("audit repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, alarm_id, action, detail, metadata, payload_digest, created_at
FROM audit_log
WHERE alarm_id = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at ASC`, alarmID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Entry
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(
			&entry.ID,
			&entry.AlarmID,
			&entry.Action,
			&entry.Detail,
			&entry.Metadata,
			&entry.PayloadDigest,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
