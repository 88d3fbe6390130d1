package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"gofer/internal/engine"
	"gofer/internal/repo"
)

// Controller periodically instantiates stored request templates: when a
// schedule's interval has elapsed since its most recent spawned request,
// a fresh request with the template's tasks is created through the
// engine.
type Controller struct {
	Engine   engine.Engine
	Interval time.Duration
	Now      func() time.Time
}

func New(e engine.Engine, interval time.Duration) *Controller {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Controller{Engine: e, Interval: interval, Now: time.Now}
}

func (c *Controller) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Run loops until the context is cancelled.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()
	for {
		if err := c.Tick(ctx); err != nil {
			log.Printf("schedule: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick spawns requests for every due schedule.
func (c *Controller) Tick(ctx context.Context) error {
	schedules, err := c.Engine.Repo.ListSchedules(ctx, true)
	if err != nil {
		return err
	}
	now := c.now().UTC()
	for _, s := range schedules {
		due, err := c.due(ctx, s.ID, s.IntervalSeconds, now)
		if err != nil {
			return err
		}
		if !due {
			continue
		}
		var titles []string
		if err := json.Unmarshal([]byte(s.TasksJSON), &titles); err != nil {
			log.Printf("schedule %s: bad tasks payload: %v", s.ID, err)
			continue
		}
		opts := engine.RequestCreateOptions{
			CreatorID:  s.CreatedBy,
			Title:      s.Title,
			TaskTitles: titles,
			ScheduleID: s.ID,
		}
		if s.ChannelID != nil {
			opts.ChannelID = *s.ChannelID
		}
		if _, err := c.Engine.CreateRequest(ctx, opts); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) due(ctx context.Context, scheduleID string, intervalSeconds int, now time.Time) (bool, error) {
	last, err := c.Engine.Repo.LatestRequestForSchedule(ctx, scheduleID)
	if errors.Is(err, repo.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	lastAt, err := time.Parse(time.RFC3339, last)
	if err != nil {
		return false, err
	}
	return !now.Before(lastAt.Add(time.Duration(intervalSeconds) * time.Second)), nil
}
