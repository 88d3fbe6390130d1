package repo

import (
	"context"
	"database/sql"
	"errors"

	"gofer/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")

	// ErrUnavailable marks persistence-layer failures that callers surface
	// as-is instead of retrying.
	ErrUnavailable = errors.New("store unavailable")
)

// Users

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,external_id,created_at) VALUES (?,?,?)`,
		u.ID, u.ExternalID, u.CreatedAt)
	return err
}

// EnsureUser upserts a user row keyed by external id. The uniqueness
// constraint is the arbiter under concurrent first-sight resolution: a
// conflicting insert is a no-op and the existing row wins.
func (r Repo) EnsureUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,external_id,created_at) VALUES (?,?,?)
ON CONFLICT(external_id) DO NOTHING`, u.ID, u.ExternalID, u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := r.DB.QueryRowContext(ctx, `SELECT id,external_id,created_at FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.ExternalID, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) GetUserByExternalID(ctx context.Context, externalID string) (domain.User, error) {
	var u domain.User
	err := r.DB.QueryRowContext(ctx, `SELECT id,external_id,created_at FROM users WHERE external_id=?`, externalID).
		Scan(&u.ID, &u.ExternalID, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

// Requests

func (r Repo) InsertRequest(ctx context.Context, tx *sql.Tx, req domain.Request) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO requests(id,created_by,created_at,title,channel_id,schedule_id) VALUES (?,?,?,?,?,?)`,
		req.ID, req.CreatedBy, req.CreatedAt, req.Title, nullableStringPtr(req.ChannelID), nullableStringPtr(req.ScheduleID))
	return err
}

func scanRequest(row *sql.Row) (domain.Request, error) {
	var req domain.Request
	var channelID, scheduleID sql.NullString
	err := row.Scan(&req.ID, &req.CreatedBy, &req.CreatedAt, &req.Title, &channelID, &scheduleID)
	if err == sql.ErrNoRows {
		return req, ErrNotFound
	}
	if err != nil {
		return req, err
	}
	if channelID.Valid {
		req.ChannelID = &channelID.String
	}
	if scheduleID.Valid {
		req.ScheduleID = &scheduleID.String
	}
	return req, nil
}

func (r Repo) GetRequest(ctx context.Context, id string) (domain.Request, error) {
	return scanRequest(r.DB.QueryRowContext(ctx,
		`SELECT id,created_by,created_at,title,channel_id,schedule_id FROM requests WHERE id=?`, id))
}

func (r Repo) GetRequestTx(ctx context.Context, tx *sql.Tx, id string) (domain.Request, error) {
	return scanRequest(tx.QueryRowContext(ctx,
		`SELECT id,created_by,created_at,title,channel_id,schedule_id FROM requests WHERE id=?`, id))
}

func (r Repo) ListRequests(ctx context.Context, limit int) ([]domain.Request, error) {
	query := `SELECT id,created_by,created_at,title,channel_id,schedule_id FROM requests ORDER BY created_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Request
	for rows.Next() {
		var req domain.Request
		var channelID, scheduleID sql.NullString
		if err := rows.Scan(&req.ID, &req.CreatedBy, &req.CreatedAt, &req.Title, &channelID, &scheduleID); err != nil {
			return nil, err
		}
		if channelID.Valid {
			req.ChannelID = &channelID.String
		}
		if scheduleID.Valid {
			req.ScheduleID = &scheduleID.String
		}
		res = append(res, req)
	}
	return res, rows.Err()
}

// LatestRequestForSchedule returns the created_at of the most recent
// request spawned by the given schedule, or ErrNotFound.
func (r Repo) LatestRequestForSchedule(ctx context.Context, scheduleID string) (string, error) {
	var createdAt string
	err := r.DB.QueryRowContext(ctx,
		`SELECT created_at FROM requests WHERE schedule_id=? ORDER BY created_at DESC LIMIT 1`, scheduleID).
		Scan(&createdAt)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return createdAt, err
}

// Tasks

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,request_id,weight,title,assigned_to,started_at,completed_at) VALUES (?,?,?,?,?,?,?)`,
		t.ID, t.RequestID, t.Weight, t.Title, nullableStringPtr(t.AssignedTo), nullableStringPtr(t.StartedAt), nullableStringPtr(t.CompletedAt))
	return err
}

func scanTaskRow(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var assignedTo, startedAt, completedAt sql.NullString
	err := scan(&t.ID, &t.RequestID, &t.Weight, &t.Title, &assignedTo, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if assignedTo.Valid {
		t.AssignedTo = &assignedTo.String
	}
	if startedAt.Valid {
		t.StartedAt = &startedAt.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	return t, nil
}

const taskColumns = `id,request_id,weight,title,assigned_to,started_at,completed_at`

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTaskRow(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id).Scan)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTaskRow(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id).Scan)
}

func (r Repo) ListTasksForRequest(ctx context.Context, requestID string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE request_id=? ORDER BY weight ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTaskRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// NextTaskWeight returns the weight the next task appended to a request
// should carry.
func (r Repo) NextTaskWeight(ctx context.Context, tx *sql.Tx, requestID string) (int, error) {
	var max sql.NullInt64
	err := tx.QueryRowContext(ctx, `SELECT MAX(weight) FROM tasks WHERE request_id=?`, requestID).Scan(&max)
	if err != nil {
		return 0, err
	}
	if !max.Valid {
		return 1, nil
	}
	return int(max.Int64) + 1, nil
}

// ClaimTaskTx assigns an unassigned task. The assigned_to IS NULL guard
// serializes concurrent first claims: exactly one caller observes a row
// change, the rest see the winner's state.
func (r Repo) ClaimTaskTx(ctx context.Context, tx *sql.Tx, taskID, assigneeID, startedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET assigned_to=?, started_at=? WHERE id=? AND assigned_to IS NULL AND completed_at IS NULL`,
		assigneeID, startedAt, taskID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetTaskAssigneeTx overwrites the assignee without touching timestamps.
func (r Repo) SetTaskAssigneeTx(ctx context.Context, tx *sql.Tx, taskID, assigneeID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET assigned_to=? WHERE id=?`, assigneeID, taskID)
	return err
}

// CompleteTaskTx stamps completed_at. The completed_at IS NULL guard makes
// double completion a detectable no-op rather than a lost update.
func (r Repo) CompleteTaskTx(ctx context.Context, tx *sql.Tx, taskID, completedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET completed_at=? WHERE id=? AND completed_at IS NULL`, completedAt, taskID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Events

func (r Repo) ListEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	query := `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events ORDER BY id DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
