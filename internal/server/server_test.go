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

	"github.com/rs/zerolog"

	"tasktalk/internal/config"
	"tasktalk/internal/db"
	"tasktalk/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
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
	handler, err := New(Config{
		DB:       conn,
		Cfg:      config.Default(),
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: "test-secret", TokenTTL: time.Hour},
		Logger:   zerolog.Nop(),
	})
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
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
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

// registerAndLogin signs up a user and returns the auth header for it.
func registerAndLogin(t *testing.T, srv *testServer, email string) map[string]string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/register", map[string]any{
		"email":    email,
		"password": "hunter2hunter2",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register status %d: %s", res.StatusCode, string(data))
	}
	var tok TokenResponse
	if err := json.Unmarshal(data, &tok); err != nil {
		t.Fatalf("unmarshal token: %v", err)
	}
	if tok.Token == "" {
		t.Fatal("empty token")
	}
	if tok.ExpiresAt == "" {
		t.Fatal("empty expires_at")
	}
	return map[string]string{"Authorization": "Bearer " + tok.Token}
}

func TestHealthIsPublic(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestTasksRequireAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	registerAndLogin(t, srv, "alice@example.com")
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/login", map[string]any{
		"email":    "alice@example.com",
		"password": "wrong-password",
	}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
}

func TestTaskCRUD(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	auth := registerAndLogin(t, srv, "alice@example.com")
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title":    "Ship feature",
		"priority": "high",
	}, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
	}
	var created TaskResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if created.Status != "pending" || created.Priority != "high" {
		t.Fatalf("created = %+v", created)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/tasks/"+created.ID, map[string]any{
		"status": "in-progress",
	}, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update status %d: %s", res.StatusCode, string(data))
	}
	var updated TaskResponse
	_ = json.Unmarshal(data, &updated)
	if updated.Status != "in-progress" {
		t.Fatalf("status = %s", updated.Status)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+created.ID+"/complete", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", res.StatusCode, string(data))
	}
	var completed TaskResponse
	_ = json.Unmarshal(data, &completed)
	if completed.Status != "completed" || completed.CompletedAt == nil {
		t.Fatalf("completed = %+v", completed)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks?status=completed", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var listed paginatedTasks
	_ = json.Unmarshal(data, &listed)
	if listed.Count != 1 {
		t.Fatalf("count = %d, want 1", listed.Count)
	}

	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/tasks/"+created.ID, nil, auth)
	if res.StatusCode != http.StatusNoContent && res.StatusCode != http.StatusOK {
		t.Fatalf("delete status %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/"+created.ID, nil, auth)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", res.StatusCode)
	}
}

func TestTasksScopedToUser(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	alice := registerAndLogin(t, srv, "alice@example.com")
	bob := registerAndLogin(t, srv, "bob@example.com")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{"title": "private"}, alice)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var created TaskResponse
	_ = json.Unmarshal(data, &created)

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/"+created.ID, nil, bob)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for other user, got %d", res.StatusCode)
	}
}

func TestChatEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	auth := registerAndLogin(t, srv, "alice@example.com")
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/chat", map[string]any{
		"message": "create task to buy milk",
	}, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("chat status %d: %s", res.StatusCode, string(data))
	}
	var reply ChatResponse
	if err := json.Unmarshal(data, &reply); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if reply.Intent != "create_task" {
		t.Fatalf("intent = %s", reply.Intent)
	}
	if reply.StateReflection.TaskCount != 1 {
		t.Fatalf("task count = %d", reply.StateReflection.TaskCount)
	}
	if ok, _ := reply.ToolExecutionResult["success"].(bool); !ok {
		t.Fatalf("tool result = %+v, want success=true", reply.ToolExecutionResult)
	}
	if reply.Timestamp == "" {
		t.Fatal("empty timestamp")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/intents", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("intents status %d: %s", res.StatusCode, string(data))
	}
	var logs []IntentLogResponse
	_ = json.Unmarshal(data, &logs)
	if len(logs) != 1 || logs[0].DetectedIntent != "create_task" {
		t.Fatalf("logs = %+v", logs)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/intents/"+logs[0].ID+"/executions", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("executions status %d: %s", res.StatusCode, string(data))
	}
	var execs []ToolExecutionResponse
	_ = json.Unmarshal(data, &execs)
	if len(execs) != 1 || execs[0].ExecutionStatus != "success" {
		t.Fatalf("execs = %+v", execs)
	}
}

func TestStateEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	auth := registerAndLogin(t, srv, "alice@example.com")
	client := srv.Client()

	doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{"title": "one"}, auth)
	doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{"title": "two", "status": "completed"}, auth)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/state", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("state status %d: %s", res.StatusCode, string(data))
	}
	var state StateResponse
	_ = json.Unmarshal(data, &state)
	if state.TaskCount != 2 {
		t.Fatalf("task count = %d", state.TaskCount)
	}
	if state.TaskCountsByStatus["pending"] != 1 || state.TaskCountsByStatus["completed"] != 1 {
		t.Fatalf("counts = %v", state.TaskCountsByStatus)
	}
}
