package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gofer/internal/config"
	"gofer/internal/domain"
	"gofer/internal/engine"
	"gofer/internal/identity"
	"gofer/internal/repo"
	"gofer/internal/report"
)

// Response is the payload handed back to the gateway collaborator: a
// content line plus optional embed-style body lines.
type Response struct {
	Content string   `json:"content"`
	Lines   []string `json:"lines,omitempty"`
}

type handlerFunc func(ctx context.Context, invoker domain.User, cmd Command) (Response, error)

// Dispatcher routes decoded gateway events to lifecycle operations. The
// handler table is built once at construction and never mutated; Handle
// keeps no shared scratch state, so concurrent invocations from
// independent gateway connections are isolated.
type Dispatcher struct {
	Engine   engine.Engine
	Resolver identity.Resolver
	Reporter report.Reporter
	Config   *config.Config
	handlers map[string]handlerFunc
}

func New(e engine.Engine, cfg *config.Config) *Dispatcher {
	if cfg == nil {
		cfg = config.Default()
	}
	d := &Dispatcher{
		Engine:   e,
		Resolver: identity.New(e.Repo),
		Reporter: report.Reporter{DB: e.DB},
		Config:   cfg,
	}
	d.handlers = map[string]handlerFunc{
		"request":        d.submitRequest,
		"task-add":       d.addTask,
		"claim-task":     d.claimTask,
		"complete-task":  d.completeTask,
		"reassign-task":  d.reassignTask,
		"repeat-request": d.repeatRequest,
		"report":         d.report,
	}
	return d
}

// Handle resolves the invoker, applies exactly one lifecycle mutation
// (or none, when decoding fails), and renders the acknowledgement. On
// failure the returned Response carries the user-facing message and the
// error is returned alongside for the caller's status mapping; no retry
// happens here.
func (d *Dispatcher) Handle(ctx context.Context, evt Event) (Response, error) {
	cmd, err := Decode(evt)
	if err != nil {
		return Response{Content: FailureMessage(err)}, err
	}
	invoker, err := d.Resolver.Resolve(ctx, evt.InvokerExternalID)
	if err != nil {
		return Response{Content: FailureMessage(err)}, err
	}
	h := d.handlers[evt.Name]
	if h == nil {
		err := fmt.Errorf("%w: %s", ErrUnknownCommand, evt.Name)
		return Response{Content: FailureMessage(err)}, err
	}
	resp, err := h(ctx, invoker, cmd)
	if err != nil {
		return Response{Content: FailureMessage(err)}, err
	}
	return resp, nil
}

func (d *Dispatcher) submitRequest(ctx context.Context, invoker domain.User, cmd Command) (Response, error) {
	c := cmd.(SubmitRequest)
	view, err := d.Engine.CreateRequest(ctx, engine.RequestCreateOptions{
		CreatorID:  invoker.ID,
		Title:      c.Title,
		TaskTitles: ParseTasks(c.Tasks),
		ChannelID:  c.ChannelID,
	})
	if err != nil {
		return Response{}, err
	}
	return d.renderView(view), nil
}

func (d *Dispatcher) addTask(ctx context.Context, invoker domain.User, cmd Command) (Response, error) {
	c := cmd.(AddTask)
	t, err := d.Engine.CreateTask(ctx, c.RequestID, c.Title, invoker.ExternalID)
	if err != nil {
		return Response{}, err
	}
	view, err := d.Engine.View(ctx, t.RequestID)
	if err != nil {
		return Response{}, err
	}
	return d.renderView(view), nil
}

func (d *Dispatcher) claimTask(ctx context.Context, invoker domain.User, cmd Command) (Response, error) {
	c := cmd.(ClaimTask)
	t, err := d.Engine.Assign(ctx, c.TaskID, invoker)
	if err != nil {
		return Response{}, err
	}
	view, err := d.Engine.View(ctx, t.RequestID)
	if err != nil {
		return Response{}, err
	}
	return d.renderView(view), nil
}

func (d *Dispatcher) completeTask(ctx context.Context, invoker domain.User, cmd Command) (Response, error) {
	c := cmd.(CompleteTask)
	t, err := d.Engine.Complete(ctx, c.TaskID, invoker.ExternalID)
	if err != nil {
		return Response{}, err
	}
	view, err := d.Engine.View(ctx, t.RequestID)
	if err != nil {
		return Response{}, err
	}
	return d.renderView(view), nil
}

func (d *Dispatcher) reassignTask(ctx context.Context, invoker domain.User, cmd Command) (Response, error) {
	c := cmd.(ReassignTask)
	assignee, err := d.Resolver.Resolve(ctx, c.AssigneeExternalID)
	if err != nil {
		return Response{}, err
	}
	t, err := d.Engine.Reassign(ctx, c.TaskID, assignee, invoker.ExternalID)
	if err != nil {
		return Response{}, err
	}
	view, err := d.Engine.View(ctx, t.RequestID)
	if err != nil {
		return Response{}, err
	}
	return d.renderView(view), nil
}

func (d *Dispatcher) repeatRequest(ctx context.Context, invoker domain.User, cmd Command) (Response, error) {
	c := cmd.(RepeatRequest)
	view, err := d.Engine.RepeatRequest(ctx, c.RequestID, invoker.ID)
	if err != nil {
		return Response{}, err
	}
	return d.renderView(view), nil
}

func (d *Dispatcher) report(ctx context.Context, _ domain.User, cmd Command) (Response, error) {
	c := cmd.(Report)
	since := time.Now().UTC().AddDate(0, 0, -d.Config.Report.WindowDays)
	var (
		rows []domain.ReportRow
		verb string
		err  error
	)
	switch c.Kind {
	case "completed":
		rows, err = d.Reporter.RequestsCompleted(ctx, since)
		verb = "completed"
	default:
		rows, err = d.Reporter.RequestsCreated(ctx, since)
		verb = "created"
	}
	if err != nil {
		return Response{}, err
	}
	return Response{
		Content: fmt.Sprintf("Requests %s since %s", verb, since.Format("2006-01-02")),
		Lines:   report.SummaryLines(rows, d.Config.Report.MentionFormat, verb),
	}, nil
}

// FailureMessage maps an error onto the text shown to the invoking user.
// Store failures collapse to a generic message; transition and lookup
// failures are stated plainly.
func FailureMessage(err error) string {
	switch {
	case errors.Is(err, ErrUnknownCommand):
		return "I don't know that command."
	case errors.Is(err, ErrBadArgument):
		return fmt.Sprintf("That doesn't look right: %v", err)
	case errors.Is(err, repo.ErrNotFound):
		return fmt.Sprintf("Not found: %v", err)
	case errors.Is(err, engine.ErrUnassigned):
		return "That task has no assignee yet; claim it before completing."
	case errors.Is(err, engine.ErrAlreadyCompleted):
		return "That task is already completed."
	case errors.Is(err, engine.ErrAlreadyAssigned):
		return "Someone already claimed that task."
	case errors.Is(err, repo.ErrUnavailable):
		return "Something went wrong, try again later."
	default:
		return fmt.Sprintf("Failed to execute command: %v", err)
	}
}
