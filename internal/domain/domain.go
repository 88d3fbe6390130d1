package domain

type User struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type Request struct {
	ID         string  `json:"id"`
	CreatedBy  string  `json:"created_by"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	Title      string  `json:"title"`
	ChannelID  *string `json:"channel_id,omitempty"`
	ScheduleID *string `json:"schedule_id,omitempty"`
}

type Task struct {
	ID          string  `json:"id"`
	RequestID   string  `json:"request_id"`
	Weight      int     `json:"weight"`
	Title       string  `json:"title"`
	AssignedTo  *string `json:"assigned_to,omitempty"`
	StartedAt   *string `json:"started_at,omitempty" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
}

// Completed reports whether the task has reached its terminal state.
func (t Task) Completed() bool { return t.CompletedAt != nil }

// Assigned reports whether the task has an accountable assignee.
func (t Task) Assigned() bool { return t.AssignedTo != nil }

type Schedule struct {
	ID              string  `json:"id"`
	CreatedBy       string  `json:"created_by"`
	ChannelID       *string `json:"channel_id,omitempty"`
	Title           string  `json:"title"`
	TasksJSON       string  `json:"tasks_json"`
	IntervalSeconds int     `json:"interval_seconds"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	DisabledAt      *string `json:"disabled_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// RequestView is a request joined with its creator and ordered tasks,
// the unit responses are rendered from.
type RequestView struct {
	Request Request    `json:"request"`
	Creator User       `json:"creator"`
	Tasks   []TaskView `json:"tasks"`
}

type TaskView struct {
	Task     Task  `json:"task"`
	Assignee *User `json:"assignee,omitempty"`
}

// ReportRow is one leaderboard entry: an external user identity and a
// request count, produced by the reporting aggregates.
type ReportRow struct {
	ExternalID string `json:"external_id"`
	Count      int    `json:"count"`
}
