package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	alarms "chrona-engine/internal/alarms/domain"
)

// AlarmRepository is a Postgres repository for alarm definitions.
type AlarmRepository struct {
	db *sql.DB
}

// NewAlarmRepository constructs a repository.
func NewAlarmRepository(db *sql.DB) *AlarmRepository {
	return &AlarmRepository{db: db}
}

// GetByID loads an alarm by id. Returns nil when absent.
func (r *AlarmRepository) GetByID(ctx context.Context, id int) (*alarms.Alarm, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm repo: nil db")
	}
	if id <= 0 {
		return nil, errors.New("alarm repo: invalid id")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, hour, minute, enabled, repeat_days, repeat_daily, protected, challenge,
	wake_check_enabled, wake_check_minutes, created_at, updated_at
FROM alarms
WHERE id = $1
LIMIT 1`, id)
	alarm, err := scanAlarm(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return alarm, nil
}

// List returns every alarm ordered by id.
func (r *AlarmRepository) List(ctx context.Context) ([]alarms.Alarm, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, hour, minute, enabled, repeat_days, repeat_daily, protected, challenge,
	wake_check_enabled, wake_check_minutes, created_at, updated_at
FROM alarms
ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alarms.Alarm
	for rows.Next() {
		alarm, err := scanAlarm(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *alarm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Save upserts an alarm definition.
func (r *AlarmRepository) Save(ctx context.Context, alarm *alarms.Alarm) error {
	if r == nil || r.db == nil {
		return errors.New("alarm repo: nil db")
	}
	if alarm == nil {
		return errors.New("alarm repo: nil alarm")
	}
	if alarm.CreatedAt.IsZero() {
		alarm.CreatedAt = time.Now().UTC()
	}
	if alarm.UpdatedAt.IsZero() {
		alarm.UpdatedAt = alarm.CreatedAt
	}
	repeatDays, err := json.Marshal(alarm.RepeatDays)
	if err != nil {
		return err
	}
	challenge, err := json.Marshal(alarm.Challenge)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO alarms (
	id, hour, minute, enabled, repeat_days, repeat_daily, protected, challenge,
	wake_check_enabled, wake_check_minutes, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8,
	$9, $10, $11, $12
)
ON CONFLICT (id)
DO UPDATE SET
	hour = EXCLUDED.hour,
	minute = EXCLUDED.minute,
	enabled = EXCLUDED.enabled,
	repeat_days = EXCLUDED.repeat_days,
	repeat_daily = EXCLUDED.repeat_daily,
	protected = EXCLUDED.protected,
	challenge = EXCLUDED.challenge,
	wake_check_enabled = EXCLUDED.wake_check_enabled,
	wake_check_minutes = EXCLUDED.wake_check_minutes,
	updated_at = EXCLUDED.updated_at`,
		alarm.ID, alarm.Hour, alarm.Minute, alarm.Enabled, string(repeatDays), alarm.RepeatDaily,
		alarm.Protected, string(challenge), alarm.WakeCheckEnabled, alarm.WakeCheckMinutes,
		alarm.CreatedAt, alarm.UpdatedAt)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlarm(row rowScanner) (*alarms.Alarm, error) {
	var alarm alarms.Alarm
	var repeatDays, challenge string
	if err := row.Scan(
		&alarm.ID,
		&alarm.Hour,
		&alarm.Minute,
		&alarm.Enabled,
		&repeatDays,
		&alarm.RepeatDaily,
		&alarm.Protected,
		&challenge,
		&alarm.WakeCheckEnabled,
		&alarm.WakeCheckMinutes,
		&alarm.CreatedAt,
		&alarm.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if repeatDays != "" {
		if err := json.Unmarshal([]byte(repeatDays), &alarm.RepeatDays); err != nil {
			return nil, err
		}
	}
	if challenge != "" {
		if err := json.Unmarshal([]byte(challenge), &alarm.Challenge); err != nil {
			return nil, err
		}
	}
	alarm.Challenge = alarm.Challenge.Normalize()
	alarm.CreatedAt = alarm.CreatedAt.UTC()
	alarm.UpdatedAt = alarm.UpdatedAt.UTC()
	return &alarm, nil
}
