package gofersdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Gofer HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// CommandResponse is the rendered acknowledgement for a command.
type CommandResponse struct {
	Content string   `json:"content"`
	Lines   []string `json:"lines,omitempty"`
}

// Request represents the API request model.
type Request struct {
	ID        string  `json:"id"`
	CreatedBy string  `json:"created_by"`
	CreatedAt string  `json:"created_at"`
	Title     string  `json:"title"`
	ChannelID *string `json:"channel_id,omitempty"`
}

// Task represents the API task model.
type Task struct {
	ID          string  `json:"id"`
	RequestID   string  `json:"request_id"`
	Weight      int     `json:"weight"`
	Title       string  `json:"title"`
	AssignedTo  *string `json:"assigned_to,omitempty"`
	StartedAt   *string `json:"started_at,omitempty"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

// User represents a resolved chat identity.
type User struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id"`
	CreatedAt  string `json:"created_at"`
}

// RequestView is a request joined with its creator and tasks.
type RequestView struct {
	Request Request `json:"request"`
	Creator User    `json:"creator"`
	Tasks   []struct {
		Task     Task  `json:"task"`
		Assignee *User `json:"assignee,omitempty"`
	} `json:"tasks"`
}

// ReportRow is one leaderboard entry.
type ReportRow struct {
	ExternalID string `json:"external_id"`
	Count      int    `json:"count"`
}

// Report wraps a leaderboard with its cutoff.
type Report struct {
	Since string      `json:"since"`
	Rows  []ReportRow `json:"rows"`
}

// Event represents a lifecycle log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Command sends a gateway command event and returns the rendered
// acknowledgement.
func (c *Client) Command(ctx context.Context, name string, args map[string]any, invoker string) (CommandResponse, error) {
	body := map[string]any{
		"name": name,
		"args": args,
	}
	if invoker != "" {
		body["invoker"] = invoker
	}
	var resp CommandResponse
	err := c.do(ctx, http.MethodPost, "v0/commands", body, &resp)
	return resp, err
}

// GetRequest fetches a request with its tasks.
func (c *Client) GetRequest(ctx context.Context, id string) (RequestView, error) {
	var resp RequestView
	err := c.do(ctx, http.MethodGet, "v0/requests/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListRequests returns recent requests.
func (c *Client) ListRequests(ctx context.Context, limit int) ([]Request, error) {
	endpoint := "v0/requests"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Requests []Request `json:"requests"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Requests, err
}

// RequestsCreated returns the created-requests leaderboard.
func (c *Client) RequestsCreated(ctx context.Context, since time.Time) (Report, error) {
	return c.report(ctx, "requests-created", since)
}

// RequestsCompleted returns the completed-requests leaderboard.
func (c *Client) RequestsCompleted(ctx context.Context, since time.Time) (Report, error) {
	return c.report(ctx, "requests-completed", since)
}

func (c *Client) report(ctx context.Context, kind string, since time.Time) (Report, error) {
	endpoint := "v0/reports/" + kind
	if !since.IsZero() {
		endpoint += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339))
	}
	var resp Report
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent lifecycle events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Events []Event `json:"events"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Events, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
