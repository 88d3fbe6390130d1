package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gofer/internal/domain"
	"gofer/internal/events"
	"gofer/internal/repo"
)

// Transition failures. ErrUnassigned and ErrAlreadyCompleted are the
// invalid-transition kinds; absent rows surface as repo.ErrNotFound.
var (
	ErrUnassigned       = errors.New("task has no assignee")
	ErrAlreadyCompleted = errors.New("task already completed")
	ErrAlreadyAssigned  = errors.New("task already claimed")
)

// Engine owns every mutation of request/task state. Each transition runs
// in one transaction together with its event-log append, so a rejected
// transition is a complete no-op.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Now    func() time.Time
}

func New(db *sql.DB) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx: %v", repo.ErrUnavailable, err)
	}
	return tx, nil
}

// RequestCreateOptions are parameters for creating a request with its
// initial tasks.
type RequestCreateOptions struct {
	CreatorID  string
	Title      string
	TaskTitles []string
	ChannelID  string
	ScheduleID string
}

func (e Engine) CreateRequest(ctx context.Context, opts RequestCreateOptions) (domain.RequestView, error) {
	if opts.Title == "" {
		return domain.RequestView{}, errors.New("title is required")
	}
	if opts.CreatorID == "" {
		return domain.RequestView{}, errors.New("creator is required")
	}
	creator, err := e.Repo.GetUser(ctx, opts.CreatorID)
	if err != nil {
		return domain.RequestView{}, fmt.Errorf("creator %s: %w", opts.CreatorID, err)
	}
	now := e.now().UTC().Format(time.RFC3339)
	req := domain.Request{
		ID:         uuid.New().String(),
		CreatedBy:  creator.ID,
		CreatedAt:  now,
		Title:      opts.Title,
		ChannelID:  optionalString(opts.ChannelID),
		ScheduleID: optionalString(opts.ScheduleID),
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.RequestView{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertRequest(ctx, tx, req); err != nil {
		return domain.RequestView{}, fmt.Errorf("insert request: %w", err)
	}
	for i, title := range opts.TaskTitles {
		t := domain.Task{
			ID:        uuid.New().String(),
			RequestID: req.ID,
			Weight:    i + 1,
			Title:     title,
		}
		if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
			return domain.RequestView{}, fmt.Errorf("insert task: %w", err)
		}
	}
	if err := e.Events.Append(ctx, tx, "request.created", "request", req.ID, creator.ExternalID, events.EventPayload{
		"title": req.Title,
		"tasks": len(opts.TaskTitles),
	}); err != nil {
		return domain.RequestView{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.RequestView{}, err
	}
	return e.View(ctx, req.ID)
}

// CreateTask appends a task to an existing request in Open/Unassigned.
func (e Engine) CreateTask(ctx context.Context, requestID, title, actorExternalID string) (domain.Task, error) {
	if title == "" {
		return domain.Task{}, errors.New("title is required")
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	req, err := e.Repo.GetRequestTx(ctx, tx, requestID)
	if err != nil {
		return domain.Task{}, fmt.Errorf("request %s: %w", requestID, err)
	}
	weight, err := e.Repo.NextTaskWeight(ctx, tx, req.ID)
	if err != nil {
		return domain.Task{}, err
	}
	t := domain.Task{
		ID:        uuid.New().String(),
		RequestID: req.ID,
		Weight:    weight,
		Title:     title,
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "task.created", "task", t.ID, actorExternalID, events.EventPayload{
		"request": req.ID,
		"title":   t.Title,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// Assign claims an unassigned open task for the assignee and stamps
// started_at. Concurrent claims on the same task serialize through the
// store: the loser observes the winner's final state, never a mix.
func (e Engine) Assign(ctx context.Context, taskID string, assignee domain.User) (domain.Task, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	now := e.now().UTC().Format(time.RFC3339)
	claimed, err := e.Repo.ClaimTaskTx(ctx, tx, taskID, assignee.ID, now)
	if err != nil {
		return domain.Task{}, err
	}
	if !claimed {
		t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
		if err != nil {
			return domain.Task{}, fmt.Errorf("task %s: %w", taskID, err)
		}
		if t.Completed() {
			return t, fmt.Errorf("task %s: %w", taskID, ErrAlreadyCompleted)
		}
		return t, fmt.Errorf("task %s: %w", taskID, ErrAlreadyAssigned)
	}
	if err := e.Events.Append(ctx, tx, "task.assigned", "task", taskID, assignee.ExternalID, events.EventPayload{
		"assignee": assignee.ExternalID,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, taskID)
}

// Complete moves an Open/Assigned task to Completed. Completing an
// unassigned task is rejected: completion implies an accountable
// assignee. The completion timestamp never precedes the owning request's
// creation, even under a skewed injected clock.
func (e Engine) Complete(ctx context.Context, taskID, actorExternalID string) (domain.Task, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %s: %w", taskID, err)
	}
	if t.Completed() {
		return t, fmt.Errorf("task %s: %w", taskID, ErrAlreadyCompleted)
	}
	if !t.Assigned() {
		return t, fmt.Errorf("task %s: %w", taskID, ErrUnassigned)
	}
	req, err := e.Repo.GetRequestTx(ctx, tx, t.RequestID)
	if err != nil {
		return t, fmt.Errorf("request %s: %w", t.RequestID, err)
	}
	completedAt := e.now().UTC()
	if created, perr := time.Parse(time.RFC3339, req.CreatedAt); perr == nil && completedAt.Before(created) {
		completedAt = created
	}
	stamp := completedAt.Format(time.RFC3339)
	done, err := e.Repo.CompleteTaskTx(ctx, tx, taskID, stamp)
	if err != nil {
		return t, err
	}
	if !done {
		// lost a completion race after the precondition read
		return t, fmt.Errorf("task %s: %w", taskID, ErrAlreadyCompleted)
	}
	if err := e.Events.Append(ctx, tx, "task.completed", "task", taskID, actorExternalID, events.EventPayload{
		"request":      req.ID,
		"completed_at": stamp,
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	t.CompletedAt = &stamp
	return t, nil
}

// Reassign overwrites the assignee of any existing task. A completed task
// keeps its completed_at; reassignment is attribution-only and never
// reopens work.
func (e Engine) Reassign(ctx context.Context, taskID string, newAssignee domain.User, actorExternalID string) (domain.Task, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %s: %w", taskID, err)
	}
	if err := e.Repo.SetTaskAssigneeTx(ctx, tx, taskID, newAssignee.ID); err != nil {
		return t, err
	}
	if err := e.Events.Append(ctx, tx, "task.reassigned", "task", taskID, actorExternalID, events.EventPayload{
		"assignee":  newAssignee.ExternalID,
		"completed": t.Completed(),
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	t.AssignedTo = &newAssignee.ID
	return t, nil
}

// RepeatRequest clones a request's title and task titles into a fresh
// request owned by the invoker.
func (e Engine) RepeatRequest(ctx context.Context, requestID, creatorID string) (domain.RequestView, error) {
	original, err := e.Repo.GetRequest(ctx, requestID)
	if err != nil {
		return domain.RequestView{}, fmt.Errorf("request %s: %w", requestID, err)
	}
	tasks, err := e.Repo.ListTasksForRequest(ctx, original.ID)
	if err != nil {
		return domain.RequestView{}, err
	}
	titles := make([]string, 0, len(tasks))
	for _, t := range tasks {
		titles = append(titles, t.Title)
	}
	opts := RequestCreateOptions{
		CreatorID:  creatorID,
		Title:      original.Title,
		TaskTitles: titles,
	}
	if original.ChannelID != nil {
		opts.ChannelID = *original.ChannelID
	}
	return e.CreateRequest(ctx, opts)
}

// View assembles the request, its creator, and its ordered tasks with
// their assignees.
func (e Engine) View(ctx context.Context, requestID string) (domain.RequestView, error) {
	req, err := e.Repo.GetRequest(ctx, requestID)
	if err != nil {
		return domain.RequestView{}, fmt.Errorf("request %s: %w", requestID, err)
	}
	creator, err := e.Repo.GetUser(ctx, req.CreatedBy)
	if err != nil {
		return domain.RequestView{}, fmt.Errorf("creator %s: %w", req.CreatedBy, err)
	}
	tasks, err := e.Repo.ListTasksForRequest(ctx, req.ID)
	if err != nil {
		return domain.RequestView{}, err
	}
	view := domain.RequestView{Request: req, Creator: creator}
	for _, t := range tasks {
		tv := domain.TaskView{Task: t}
		if t.AssignedTo != nil {
			u, err := e.Repo.GetUser(ctx, *t.AssignedTo)
			if err == nil {
				tv.Assignee = &u
			} else if !errors.Is(err, repo.ErrNotFound) {
				return domain.RequestView{}, err
			}
		}
		view.Tasks = append(view.Tasks, tv)
	}
	return view, nil
}

// CreateSchedule stores a recurring request template.
func (e Engine) CreateSchedule(ctx context.Context, creatorID, channelID, title string, taskTitles []string, intervalSeconds int) (domain.Schedule, error) {
	if title == "" {
		return domain.Schedule{}, errors.New("title is required")
	}
	if intervalSeconds <= 0 {
		return domain.Schedule{}, errors.New("interval must be positive")
	}
	if _, err := e.Repo.GetUser(ctx, creatorID); err != nil {
		return domain.Schedule{}, fmt.Errorf("creator %s: %w", creatorID, err)
	}
	tasksJSON, err := json.Marshal(taskTitles)
	if err != nil {
		return domain.Schedule{}, err
	}
	s := domain.Schedule{
		ID:              uuid.New().String(),
		CreatedBy:       creatorID,
		ChannelID:       optionalString(channelID),
		Title:           title,
		TasksJSON:       string(tasksJSON),
		IntervalSeconds: intervalSeconds,
		CreatedAt:       e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertSchedule(ctx, s); err != nil {
		return domain.Schedule{}, err
	}
	return s, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
