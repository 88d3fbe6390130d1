package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"gofer/internal/config"
	"gofer/internal/report"
)

const (
	defaultInterval = time.Hour
	defaultTimeout  = 5 * time.Second
)

// Poster pushes the rendered leaderboard summary to each configured
// chat-platform inbound webhook on a timer. Delivery failures are logged
// and retried on the next tick; nothing here mutates store state.
type Poster struct {
	Reporter report.Reporter
	Config   *config.Config
	Client   *http.Client
}

func NewPoster(r report.Reporter, cfg *config.Config) *Poster {
	return &Poster{
		Reporter: r,
		Config:   cfg,
		Client:   &http.Client{Timeout: defaultTimeout},
	}
}

// Start launches one delivery loop per enabled webhook. No-op when no
// webhooks are configured.
func (p *Poster) Start(ctx context.Context) {
	if p.Config == nil {
		return
	}
	for _, hook := range p.Config.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		go p.run(ctx, hook)
	}
}

func (p *Poster) run(ctx context.Context, hook config.WebhookConfig) {
	interval := defaultInterval
	if hook.IntervalSeconds > 0 {
		interval = time.Duration(hook.IntervalSeconds) * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := p.PostSummary(ctx, hook); err != nil {
			log.Printf("notify: deliver to %s failed: %v", hook.URL, err)
		}
	}
}

type summaryBody struct {
	Content string   `json:"content"`
	Lines   []string `json:"lines"`
}

// PostSummary renders both leaderboards for the configured window and
// delivers them to one webhook.
func (p *Poster) PostSummary(ctx context.Context, hook config.WebhookConfig) error {
	since := time.Now().UTC().AddDate(0, 0, -p.Config.Report.WindowDays)
	created, err := p.Reporter.RequestsCreated(ctx, since)
	if err != nil {
		return err
	}
	completed, err := p.Reporter.RequestsCompleted(ctx, since)
	if err != nil {
		return err
	}
	lines := report.SummaryLines(created, p.Config.Report.MentionFormat, "created")
	lines = append(lines, report.SummaryLines(completed, p.Config.Report.MentionFormat, "completed")...)
	body := summaryBody{
		Content: fmt.Sprintf("Request activity since %s", since.Format("2006-01-02")),
		Lines:   lines,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	timeout := defaultTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := p.Client
	if client == nil || timeout != client.Timeout {
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Gofer-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}
