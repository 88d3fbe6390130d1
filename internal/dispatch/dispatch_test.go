package dispatch_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gofer/internal/config"
	"gofer/internal/db"
	"gofer/internal/dispatch"
	"gofer/internal/engine"
	"gofer/internal/migrate"
	"gofer/internal/repo"
)

func newDispatcher(t *testing.T) *dispatch.Dispatcher {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn)
	eng.Now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return dispatch.New(eng, config.Default())
}

func handle(t *testing.T, d *dispatch.Dispatcher, name, invoker string, args map[string]any) dispatch.Response {
	t.Helper()
	res, err := d.Handle(context.Background(), dispatch.Event{
		Name:              name,
		Args:              args,
		InvokerExternalID: invoker,
	})
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return res
}

func taskID(t *testing.T, d *dispatch.Dispatcher, weight int) string {
	t.Helper()
	reqs, err := d.Engine.Repo.ListRequests(context.Background(), 1)
	if err != nil || len(reqs) == 0 {
		t.Fatalf("list requests: %v", err)
	}
	tasks, err := d.Engine.Repo.ListTasksForRequest(context.Background(), reqs[0].ID)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	for _, task := range tasks {
		if task.Weight == weight {
			return task.ID
		}
	}
	t.Fatalf("no task with weight %d", weight)
	return ""
}

func TestHandleSubmitRendersView(t *testing.T) {
	d := newDispatcher(t)
	res := handle(t, d, "request", "alice", map[string]any{
		"title": "groceries",
		"tasks": "milk;{2x}eggs",
	})
	if !strings.Contains(res.Content, "<@alice>") || !strings.Contains(res.Content, "groceries") {
		t.Fatalf("content = %q", res.Content)
	}
	if len(res.Lines) != 3 {
		t.Fatalf("lines = %v", res.Lines)
	}
	if res.Lines[0] != "1. milk" {
		t.Fatalf("line 0 = %q", res.Lines[0])
	}
	if res.Lines[1] != "2. eggs" || res.Lines[2] != "3. eggs" {
		t.Fatalf("multiplier not expanded: %v", res.Lines)
	}
}

func TestHandleClaimAndComplete(t *testing.T) {
	d := newDispatcher(t)
	handle(t, d, "request", "alice", map[string]any{"title": "help", "tasks": "carry boxes"})
	id := taskID(t, d, 1)

	res := handle(t, d, "claim-task", "bob", map[string]any{"task_id": id})
	if !strings.Contains(res.Lines[0], "claimed at") || !strings.Contains(res.Lines[0], "<@bob>") {
		t.Fatalf("claim line = %q", res.Lines[0])
	}

	res = handle(t, d, "complete-task", "bob", map[string]any{"task_id": id})
	if !strings.Contains(res.Lines[0], "~~carry boxes~~") || !strings.Contains(res.Lines[0], "completed at") {
		t.Fatalf("complete line = %q", res.Lines[0])
	}
}

func TestHandleCompleteUnassignedFails(t *testing.T) {
	d := newDispatcher(t)
	handle(t, d, "request", "alice", map[string]any{"title": "help", "tasks": "carry boxes"})
	id := taskID(t, d, 1)

	res, err := d.Handle(context.Background(), dispatch.Event{
		Name:              "complete-task",
		Args:              map[string]any{"task_id": id},
		InvokerExternalID: "bob",
	})
	if !errors.Is(err, engine.ErrUnassigned) {
		t.Fatalf("err = %v, want ErrUnassigned", err)
	}
	if res.Content == "" {
		t.Fatal("no user-facing failure message")
	}
}

func TestHandleSecondClaimLoses(t *testing.T) {
	d := newDispatcher(t)
	handle(t, d, "request", "alice", map[string]any{"title": "help", "tasks": "carry boxes"})
	id := taskID(t, d, 1)
	handle(t, d, "claim-task", "bob", map[string]any{"task_id": id})

	_, err := d.Handle(context.Background(), dispatch.Event{
		Name:              "claim-task",
		Args:              map[string]any{"task_id": id},
		InvokerExternalID: "carol",
	})
	if !errors.Is(err, engine.ErrAlreadyAssigned) {
		t.Fatalf("err = %v, want ErrAlreadyAssigned", err)
	}
}

func TestHandleReassign(t *testing.T) {
	d := newDispatcher(t)
	handle(t, d, "request", "alice", map[string]any{"title": "help", "tasks": "carry boxes"})
	id := taskID(t, d, 1)
	handle(t, d, "claim-task", "bob", map[string]any{"task_id": id})

	res := handle(t, d, "reassign-task", "alice", map[string]any{"task_id": id, "assignee": "carol"})
	if !strings.Contains(res.Lines[0], "<@carol>") {
		t.Fatalf("reassign line = %q", res.Lines[0])
	}
}

func TestHandleRepeatRequest(t *testing.T) {
	d := newDispatcher(t)
	handle(t, d, "request", "alice", map[string]any{"title": "standup", "tasks": "notes;board"})
	reqs, err := d.Engine.Repo.ListRequests(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	res := handle(t, d, "repeat-request", "bob", map[string]any{"request_id": reqs[0].ID})
	if !strings.Contains(res.Content, "<@bob>") || !strings.Contains(res.Content, "standup") {
		t.Fatalf("content = %q", res.Content)
	}
	if len(res.Lines) != 2 {
		t.Fatalf("lines = %v", res.Lines)
	}
}

func TestHandleUnknownCommand(t *testing.T) {
	d := newDispatcher(t)
	res, err := d.Handle(context.Background(), dispatch.Event{Name: "frobnicate", InvokerExternalID: "alice"})
	if !errors.Is(err, dispatch.ErrUnknownCommand) {
		t.Fatalf("err = %v, want ErrUnknownCommand", err)
	}
	if res.Content != dispatch.FailureMessage(err) {
		t.Fatalf("content = %q", res.Content)
	}
}

func TestHandleUnknownTask(t *testing.T) {
	d := newDispatcher(t)
	_, err := d.Handle(context.Background(), dispatch.Event{
		Name:              "claim-task",
		Args:              map[string]any{"task_id": "no-such-task"},
		InvokerExternalID: "alice",
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestHandleReport(t *testing.T) {
	d := newDispatcher(t)
	// Pull the injected clock into the report window.
	d.Engine.Now = func() time.Time { return time.Now().UTC() }
	handle(t, d, "request", "alice", map[string]any{"title": "one", "tasks": "a"})
	handle(t, d, "request", "alice", map[string]any{"title": "two", "tasks": "b"})
	handle(t, d, "request", "bob", map[string]any{"title": "three", "tasks": "c"})

	res := handle(t, d, "report", "alice", map[string]any{"kind": "created"})
	if !strings.Contains(res.Content, "created") {
		t.Fatalf("content = %q", res.Content)
	}
	if len(res.Lines) != 2 {
		t.Fatalf("lines = %v", res.Lines)
	}
	if !strings.Contains(res.Lines[0], "<@alice>") || !strings.Contains(res.Lines[0], "2 requests") {
		t.Fatalf("line 0 = %q", res.Lines[0])
	}
	if !strings.Contains(res.Lines[1], "<@bob>") || !strings.Contains(res.Lines[1], "1 request ") {
		t.Fatalf("line 1 = %q", res.Lines[1])
	}
}
