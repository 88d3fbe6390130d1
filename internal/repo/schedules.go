package repo

import (
	"context"
	"database/sql"
	"time"

	"gofer/internal/domain"
)

func (r Repo) InsertSchedule(ctx context.Context, s domain.Schedule) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO schedules(id,created_by,channel_id,title,tasks_json,interval_seconds,created_at,disabled_at) VALUES (?,?,?,?,?,?,?,?)`,
		s.ID, s.CreatedBy, nullableStringPtr(s.ChannelID), s.Title, s.TasksJSON, s.IntervalSeconds, s.CreatedAt, nullableStringPtr(s.DisabledAt))
	return err
}

func (r Repo) GetSchedule(ctx context.Context, id string) (domain.Schedule, error) {
	var s domain.Schedule
	var channelID, disabledAt sql.NullString
	err := r.DB.QueryRowContext(ctx,
		`SELECT id,created_by,channel_id,title,tasks_json,interval_seconds,created_at,disabled_at FROM schedules WHERE id=?`, id).
		Scan(&s.ID, &s.CreatedBy, &channelID, &s.Title, &s.TasksJSON, &s.IntervalSeconds, &s.CreatedAt, &disabledAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if channelID.Valid {
		s.ChannelID = &channelID.String
	}
	if disabledAt.Valid {
		s.DisabledAt = &disabledAt.String
	}
	return s, nil
}

func (r Repo) ListSchedules(ctx context.Context, enabledOnly bool) ([]domain.Schedule, error) {
	query := `SELECT id,created_by,channel_id,title,tasks_json,interval_seconds,created_at,disabled_at FROM schedules`
	if enabledOnly {
		query += ` WHERE disabled_at IS NULL`
	}
	query += ` ORDER BY created_at ASC`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Schedule
	for rows.Next() {
		var s domain.Schedule
		var channelID, disabledAt sql.NullString
		if err := rows.Scan(&s.ID, &s.CreatedBy, &channelID, &s.Title, &s.TasksJSON, &s.IntervalSeconds, &s.CreatedAt, &disabledAt); err != nil {
			return nil, err
		}
		if channelID.Valid {
			s.ChannelID = &channelID.String
		}
		if disabledAt.Valid {
			s.DisabledAt = &disabledAt.String
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) DisableSchedule(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := r.DB.ExecContext(ctx, `UPDATE schedules SET disabled_at=? WHERE id=? AND disabled_at IS NULL`, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
