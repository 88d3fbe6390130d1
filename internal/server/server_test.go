package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"gofer/internal/db"
	"gofer/internal/engine"
	"gofer/internal/migrate"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }

func newTestServer(t *testing.T, auth AuthConfig) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn)
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: auth})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.close)
	return testSrv
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestCommandLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t, AuthConfig{AllowLegacyActorHeader: true})
	client := srv.Client()
	asAlice := map[string]string{"X-Actor-Id": "alice"}
	asBob := map[string]string{"X-Actor-Id": "bob"}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/commands", map[string]any{
		"name": "request",
		"args": map[string]any{"title": "groceries", "tasks": "milk;eggs"},
	}, asAlice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit status = %d, body %s", res.StatusCode, data)
	}
	var cmdRes CommandResponse
	if err := json.Unmarshal(data, &cmdRes); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(cmdRes.Lines) != 2 {
		t.Fatalf("lines = %v", cmdRes.Lines)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/requests?limit=10", nil, asAlice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d, body %s", res.StatusCode, data)
	}
	var list RequestListResponse
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list.Requests) != 1 {
		t.Fatalf("requests = %v", list.Requests)
	}
	requestID := list.Requests[0].ID

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/requests/"+requestID, nil, asAlice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("view status = %d, body %s", res.StatusCode, data)
	}
	var view RequestViewResponse
	if err := json.Unmarshal(data, &view); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(view.Tasks) != 2 {
		t.Fatalf("tasks = %v", view.Tasks)
	}
	taskID := view.Tasks[0].Task.ID

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/commands", map[string]any{
		"name": "claim-task",
		"args": map[string]any{"task_id": taskID},
	}, asBob)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("claim status = %d, body %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/commands", map[string]any{
		"name": "complete-task",
		"args": map[string]any{"task_id": taskID},
	}, asBob)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete status = %d, body %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/reports/requests-completed", nil, asAlice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("report status = %d, body %s", res.StatusCode, data)
	}
	var rep ReportResponse
	if err := json.Unmarshal(data, &rep); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(rep.Rows) != 1 || rep.Rows[0].ExternalID != "bob" || rep.Rows[0].Count != 1 {
		t.Fatalf("rows = %v", rep.Rows)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	srv := newTestServer(t, AuthConfig{AllowLegacyActorHeader: true})
	client := srv.Client()
	asAlice := map[string]string{"X-Actor-Id": "alice"}

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/requests/no-such-request", nil, asAlice)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing request status = %d", res.StatusCode)
	}

	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/commands", map[string]any{
		"name": "frobnicate",
	}, asAlice)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown command status = %d", res.StatusCode)
	}

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/commands", map[string]any{
		"name": "request",
		"args": map[string]any{"title": "help", "tasks": "carry"},
	}, asAlice)
	var cmdRes CommandResponse
	if err := json.Unmarshal(data, &cmdRes); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	reqs, err := srv.Engine.Repo.ListRequests(context.Background(), 1)
	if err != nil || len(reqs) == 0 {
		t.Fatalf("list requests: %v", err)
	}
	tasks, err := srv.Engine.Repo.ListTasksForRequest(context.Background(), reqs[0].ID)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	taskID := tasks[0].ID

	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/commands", map[string]any{
		"name": "complete-task",
		"args": map[string]any{"task_id": taskID},
	}, asAlice)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("unassigned complete status = %d", res.StatusCode)
	}

	doJSON(t, client, http.MethodPost, srv.URL+"/v0/commands", map[string]any{
		"name": "claim-task",
		"args": map[string]any{"task_id": taskID},
	}, asAlice)
	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/commands", map[string]any{
		"name": "claim-task",
		"args": map[string]any{"task_id": taskID},
	}, map[string]string{"X-Actor-Id": "bob"})
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("double claim status = %d", res.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t, AuthConfig{JWTSecret: "test-secret"})
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/requests", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d", res.StatusCode)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", res.StatusCode)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/requests", nil, map[string]string{
		"Authorization": "Bearer " + signed,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("bearer status = %d", res.StatusCode)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/requests", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad bearer status = %d", res.StatusCode)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv := newTestServer(t, AuthConfig{JWTSecret: "test-secret"})
	client := srv.Client()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "admin",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/api-keys", map[string]any{
		"actor_id": "bot-1",
	}, map[string]string{"Authorization": "Bearer " + signed})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key status = %d, body %s", res.StatusCode, data)
	}
	var key CreateAPIKeyResponse
	if err := json.Unmarshal(data, &key); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/requests", nil, map[string]string{
		"X-API-Key": key.Key,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key status = %d", res.StatusCode)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/requests", nil, map[string]string{
		"X-API-Key": "wrong-key",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad api key status = %d", res.StatusCode)
	}
}
