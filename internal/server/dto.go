package server

import (
	"time"

	"gofer/internal/dispatch"
	"gofer/internal/domain"
)

// Request payloads

type CommandRequest struct {
	Name    string         `json:"name"`
	Args    map[string]any `json:"args,omitempty"`
	Invoker *string        `json:"invoker,omitempty"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

// Response payloads

type CommandResponse struct {
	Content string   `json:"content"`
	Lines   []string `json:"lines,omitempty"`
}

type RequestViewResponse struct {
	Request domain.Request     `json:"request"`
	Creator domain.User        `json:"creator"`
	Tasks   []TaskViewResponse `json:"tasks"`
}

type TaskViewResponse struct {
	Task     domain.Task  `json:"task"`
	Assignee *domain.User `json:"assignee,omitempty"`
}

type RequestListResponse struct {
	Requests []domain.Request `json:"requests"`
}

type ReportResponse struct {
	Since string             `json:"since" format:"date-time"`
	Rows  []domain.ReportRow `json:"rows"`
}

type ScheduleListResponse struct {
	Schedules []domain.Schedule `json:"schedules"`
}

type EventListResponse struct {
	Events []domain.Event `json:"events"`
}

type CreateAPIKeyResponse struct {
	ID      string `json:"id"`
	ActorID string `json:"actor_id"`
	Key     string `json:"key"`
}

func commandResponse(res dispatch.Response) CommandResponse {
	return CommandResponse{Content: res.Content, Lines: res.Lines}
}

func domainAPIKey(id, actorID, name, hash string) domain.APIKey {
	return domain.APIKey{
		ID:        id,
		ActorID:   actorID,
		Name:      name,
		KeyHash:   hash,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

func viewResponse(view domain.RequestView) RequestViewResponse {
	out := RequestViewResponse{Request: view.Request, Creator: view.Creator}
	for _, tv := range view.Tasks {
		out.Tasks = append(out.Tasks, TaskViewResponse{Task: tv.Task, Assignee: tv.Assignee})
	}
	return out
}
