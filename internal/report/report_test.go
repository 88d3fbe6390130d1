package report_test

import (
	"context"
	"reflect"
	"testing"
	"time"

	"gofer/internal/db"
	"gofer/internal/domain"
	"gofer/internal/engine"
	"gofer/internal/identity"
	"gofer/internal/migrate"
	"gofer/internal/report"
)

type env struct {
	Engine   engine.Engine
	Resolver identity.Resolver
	Reporter report.Reporter
	Clock    *time.Time
	Ctx      context.Context
}

func newEnv(t *testing.T) *env {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clock := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	eng := engine.New(conn)
	eng.Now = func() time.Time { return clock }
	return &env{
		Engine:   eng,
		Resolver: identity.New(eng.Repo),
		Reporter: report.Reporter{DB: conn},
		Clock:    &clock,
		Ctx:      context.Background(),
	}
}

func (e *env) user(t *testing.T, externalID string) domain.User {
	t.Helper()
	u, err := e.Resolver.Resolve(e.Ctx, externalID)
	if err != nil {
		t.Fatalf("resolve %s: %v", externalID, err)
	}
	return u
}

func (e *env) request(t *testing.T, creator domain.User, title string, tasks ...string) domain.RequestView {
	t.Helper()
	view, err := e.Engine.CreateRequest(e.Ctx, engine.RequestCreateOptions{
		CreatorID:  creator.ID,
		Title:      title,
		TaskTitles: tasks,
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return view
}

func (e *env) finish(t *testing.T, taskID string, who domain.User) {
	t.Helper()
	if _, err := e.Engine.Assign(e.Ctx, taskID, who); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := e.Engine.Complete(e.Ctx, taskID, who.ExternalID); err != nil {
		t.Fatalf("complete: %v", err)
	}
}

func TestRequestsCreatedCountsAndOrders(t *testing.T) {
	e := newEnv(t)
	alice := e.user(t, "alice")
	bob := e.user(t, "bob")
	e.request(t, alice, "r1", "a")
	e.request(t, alice, "r2", "b")
	e.request(t, bob, "r3", "c")

	rows, err := e.Reporter.RequestsCreated(e.Ctx, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	want := []domain.ReportRow{
		{ExternalID: "alice", Count: 2},
		{ExternalID: "bob", Count: 1},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("rows = %v, want %v", rows, want)
	}
}

func TestRequestsCreatedCutoffExcludesOlder(t *testing.T) {
	e := newEnv(t)
	alice := e.user(t, "alice")
	*e.Clock = time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	e.request(t, alice, "old", "a")
	*e.Clock = time.Date(2024, 6, 20, 9, 0, 0, 0, time.UTC)
	e.request(t, alice, "fresh", "b")

	rows, err := e.Reporter.RequestsCreated(e.Ctx, time.Date(2024, 6, 17, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(rows) != 1 || rows[0].Count != 1 {
		t.Fatalf("rows = %v, want alice:1", rows)
	}
}

func TestRequestsCompletedCountsDistinctRequests(t *testing.T) {
	e := newEnv(t)
	alice := e.user(t, "alice")
	bob := e.user(t, "bob")
	r1 := e.request(t, alice, "r1", "t1", "t2")
	r2 := e.request(t, alice, "r2", "t3")

	// bob finishes both tasks of r1 and the single task of r2:
	// two distinct requests, not three completions.
	e.finish(t, r1.Tasks[0].Task.ID, bob)
	e.finish(t, r1.Tasks[1].Task.ID, bob)
	e.finish(t, r2.Tasks[0].Task.ID, bob)

	rows, err := e.Reporter.RequestsCompleted(e.Ctx, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	want := []domain.ReportRow{{ExternalID: "bob", Count: 2}}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("rows = %v, want %v", rows, want)
	}
}

func TestRequestsCompletedUsesCompletionTime(t *testing.T) {
	e := newEnv(t)
	alice := e.user(t, "alice")
	bob := e.user(t, "bob")
	r1 := e.request(t, alice, "r1", "t1")
	r2 := e.request(t, alice, "r2", "t2")

	*e.Clock = time.Date(2024, 6, 12, 9, 0, 0, 0, time.UTC)
	e.finish(t, r1.Tasks[0].Task.ID, bob)
	*e.Clock = time.Date(2024, 6, 20, 9, 0, 0, 0, time.UTC)
	e.finish(t, r2.Tasks[0].Task.ID, bob)

	rows, err := e.Reporter.RequestsCompleted(e.Ctx, time.Date(2024, 6, 17, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	want := []domain.ReportRow{{ExternalID: "bob", Count: 1}}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("rows = %v, want %v", rows, want)
	}
}

func TestRequestsCompletedIgnoresOpenTasks(t *testing.T) {
	e := newEnv(t)
	alice := e.user(t, "alice")
	bob := e.user(t, "bob")
	r1 := e.request(t, alice, "r1", "t1", "t2")
	if _, err := e.Engine.Assign(e.Ctx, r1.Tasks[0].Task.ID, bob); err != nil {
		t.Fatalf("assign: %v", err)
	}

	rows, err := e.Reporter.RequestsCompleted(e.Ctx, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("rows = %v, want none", rows)
	}
}

func TestSummaryLines(t *testing.T) {
	lines := report.SummaryLines([]domain.ReportRow{
		{ExternalID: "alice", Count: 2},
		{ExternalID: "bob", Count: 1},
	}, "<@%s>", "created")
	want := []string{
		"- <@alice> - 2 requests created",
		"- <@bob> - 1 request created",
	}
	if !reflect.DeepEqual(lines, want) {
		t.Fatalf("lines = %v, want %v", lines, want)
	}
}
