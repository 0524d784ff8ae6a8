package chat_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tasktalk/internal/chat"
	"tasktalk/internal/config"
	"tasktalk/internal/db"
	"tasktalk/internal/domain"
	"tasktalk/internal/migrate"
	"tasktalk/internal/repo"
)

type testEnv struct {
	Orch   *chat.Orchestrator
	Ctx    context.Context
	UserID string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	orch := chat.New(conn, config.Default(), zerolog.Nop())
	orch.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	user := domain.User{
		ID:           "user-1",
		Email:        "alice@example.com",
		PasswordHash: "x",
		CreatedAt:    "2024-01-01T00:00:00Z",
		UpdatedAt:    "2024-01-01T00:00:00Z",
	}
	if err := (repo.Repo{DB: conn}).InsertUser(ctx, nil, user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return testEnv{Orch: orch, Ctx: ctx, UserID: user.ID}
}

func (env testEnv) countRows(t *testing.T, table string) int {
	t.Helper()
	var n int
	if err := env.Orch.DB.QueryRow("SELECT count(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestCreateTaskFlow(t *testing.T) {
	env := newTestEnv(t)
	reply := env.Orch.ProcessMessage(env.Ctx, env.UserID, "create task to buy milk", "")
	if reply.Intent != "create_task" {
		t.Fatalf("intent = %s", reply.Intent)
	}
	if reply.State.TaskCount != 1 {
		t.Fatalf("task count = %d, want 1", reply.State.TaskCount)
	}
	if reply.State.TaskCountsByStatus["pending"] != 1 {
		t.Fatalf("pending count = %d, want 1", reply.State.TaskCountsByStatus["pending"])
	}
	if reply.Response != "Created task 'buy milk'. You now have 1 tasks." {
		t.Fatalf("response = %q", reply.Response)
	}
	if reply.Timestamp != "2024-01-01T00:00:00Z" {
		t.Fatalf("timestamp = %q", reply.Timestamp)
	}
	if n := env.countRows(t, "intent_logs"); n != 1 {
		t.Fatalf("intent_logs = %d, want 1", n)
	}
	if n := env.countRows(t, "tool_executions"); n != 1 {
		t.Fatalf("tool_executions = %d, want 1", n)
	}
}

func TestCreateCountsExistingTasks(t *testing.T) {
	env := newTestEnv(t)
	env.Orch.ProcessMessage(env.Ctx, env.UserID, "create task to buy milk", "")
	reply := env.Orch.ProcessMessage(env.Ctx, env.UserID, "create task to walk the dog", "")
	if reply.Response != "Created task 'walk the dog'. You now have 2 tasks." {
		t.Fatalf("response = %q", reply.Response)
	}
	if reply.State.TaskCount != 2 {
		t.Fatalf("task count = %d, want 2", reply.State.TaskCount)
	}
}

func TestToolResultCarriesSuccess(t *testing.T) {
	env := newTestEnv(t)
	reply := env.Orch.ProcessMessage(env.Ctx, env.UserID, "create task to buy milk", "")
	if ok, _ := reply.ToolResult["success"].(bool); !ok {
		t.Fatalf("tool result = %+v, want success=true", reply.ToolResult)
	}

	reply = env.Orch.ProcessMessage(env.Ctx, env.UserID, "mark laundry as completed", "")
	if ok, _ := reply.ToolResult["success"].(bool); ok {
		t.Fatalf("tool result = %+v, want success=false", reply.ToolResult)
	}
	if msg, _ := reply.ToolResult["error"].(string); msg == "" {
		t.Fatalf("tool result = %+v, want error message", reply.ToolResult)
	}
}

func TestApologyReflectsState(t *testing.T) {
	env := newTestEnv(t)
	env.Orch.ProcessMessage(env.Ctx, env.UserID, "create task to buy milk", "")
	// Breaking the audit tables forces the pipeline onto the apology path;
	// the reply should still report the real task counts.
	if _, err := env.Orch.DB.Exec("DROP TABLE tool_executions"); err != nil {
		t.Fatalf("drop tool_executions: %v", err)
	}
	if _, err := env.Orch.DB.Exec("DROP TABLE intent_logs"); err != nil {
		t.Fatalf("drop intent_logs: %v", err)
	}
	reply := env.Orch.ProcessMessage(env.Ctx, env.UserID, "create task to walk the dog", "")
	if reply.Intent != "error" {
		t.Fatalf("intent = %s, want error", reply.Intent)
	}
	if reply.Response != "I'm sorry, I encountered an issue processing your request. Please try again." {
		t.Fatalf("response = %q", reply.Response)
	}
	if reply.State.TaskCount != 1 {
		t.Fatalf("task count = %d, want 1", reply.State.TaskCount)
	}
	if reply.State.TaskCountsByStatus["pending"] != 1 {
		t.Fatalf("pending count = %d, want 1", reply.State.TaskCountsByStatus["pending"])
	}
}

func TestPendingTasksEmpty(t *testing.T) {
	env := newTestEnv(t)
	reply := env.Orch.ProcessMessage(env.Ctx, env.UserID, "What are my pending tasks?", "")
	if reply.Intent != "get_pending_tasks" {
		t.Fatalf("intent = %s", reply.Intent)
	}
	if reply.Response != "You have 0 pending tasks: No pending tasks." {
		t.Fatalf("response = %q", reply.Response)
	}
}

func TestCreateRefusal(t *testing.T) {
	env := newTestEnv(t)
	reply := env.Orch.ProcessMessage(env.Ctx, env.UserID, "create task to ", "")
	if reply.Response != "Could not create task: Task title is required" {
		t.Fatalf("response = %q", reply.Response)
	}
	if reply.State.TaskCount != 0 {
		t.Fatalf("task count = %d, want 0", reply.State.TaskCount)
	}
	// The intent is still logged; the tool never runs.
	if n := env.countRows(t, "intent_logs"); n != 1 {
		t.Fatalf("intent_logs = %d, want 1", n)
	}
	if n := env.countRows(t, "tool_executions"); n != 0 {
		t.Fatalf("tool_executions = %d, want 0", n)
	}
}

func TestMalformedInputRefused(t *testing.T) {
	env := newTestEnv(t)
	reply := env.Orch.ProcessMessage(env.Ctx, env.UserID, "DROP TABLE tasks", "")
	if reply.Intent != "error" {
		t.Fatalf("intent = %s, want error", reply.Intent)
	}
	if reply.Response != "Potentially dangerous pattern detected: DROP TABLE" {
		t.Fatalf("response = %q", reply.Response)
	}
	if n := env.countRows(t, "intent_logs"); n != 0 {
		t.Fatalf("intent_logs = %d, want 0", n)
	}
	if n := env.countRows(t, "tool_executions"); n != 0 {
		t.Fatalf("tool_executions = %d, want 0", n)
	}
}

func TestUpdateFlow(t *testing.T) {
	env := newTestEnv(t)
	env.Orch.ProcessMessage(env.Ctx, env.UserID, "create task to buy milk", "")
	reply := env.Orch.ProcessMessage(env.Ctx, env.UserID, "mark buy milk as completed", "")
	if reply.Intent != "update_task" {
		t.Fatalf("intent = %s", reply.Intent)
	}
	if reply.Response != "Marked task 'buy milk' as completed." {
		t.Fatalf("response = %q", reply.Response)
	}
	if reply.State.TaskCountsByStatus["completed"] != 1 {
		t.Fatalf("completed count = %d, want 1", reply.State.TaskCountsByStatus["completed"])
	}
	reply = env.Orch.ProcessMessage(env.Ctx, env.UserID, "completed tasks", "")
	if reply.Intent != "get_completed_tasks" {
		t.Fatalf("intent = %s", reply.Intent)
	}
	if reply.Response != "You have 1 completed tasks: 'buy milk'" {
		t.Fatalf("response = %q", reply.Response)
	}
}

func TestDeleteFlow(t *testing.T) {
	env := newTestEnv(t)
	env.Orch.ProcessMessage(env.Ctx, env.UserID, "create task to buy milk", "")
	reply := env.Orch.ProcessMessage(env.Ctx, env.UserID, "delete the task buy milk", "")
	if reply.Intent != "delete_task" {
		t.Fatalf("intent = %s", reply.Intent)
	}
	if reply.Response != "Deleted task 'buy milk'." {
		t.Fatalf("response = %q", reply.Response)
	}
	if reply.State.TaskCount != 0 {
		t.Fatalf("task count = %d, want 0", reply.State.TaskCount)
	}
}

func TestUpdateMissingTarget(t *testing.T) {
	env := newTestEnv(t)
	reply := env.Orch.ProcessMessage(env.Ctx, env.UserID, "mark buy milk as completed", "")
	if reply.Response != "Could not find task 'buy milk' to update." {
		t.Fatalf("response = %q", reply.Response)
	}
	// The miss is still an audited execution, just a failed one.
	var status string
	if err := env.Orch.DB.QueryRow("SELECT execution_status FROM tool_executions").Scan(&status); err != nil {
		t.Fatalf("read execution: %v", err)
	}
	if status != "failure" {
		t.Fatalf("execution_status = %s, want failure", status)
	}
}

func TestGreetingNoTool(t *testing.T) {
	env := newTestEnv(t)
	reply := env.Orch.ProcessMessage(env.Ctx, env.UserID, "Hello", "")
	if reply.Intent != "greeting" {
		t.Fatalf("intent = %s", reply.Intent)
	}
	if reply.Response == "" {
		t.Fatal("empty greeting response")
	}
	if n := env.countRows(t, "tool_executions"); n != 0 {
		t.Fatalf("tool_executions = %d, want 0", n)
	}
}

func TestUnknownUserFallsBack(t *testing.T) {
	env := newTestEnv(t)
	reply := env.Orch.ProcessMessage(env.Ctx, "no-such-user", "create task to buy milk", "")
	if reply.State.UserID != env.UserID {
		t.Fatalf("user = %s, want %s", reply.State.UserID, env.UserID)
	}
	if reply.State.TaskCount != 1 {
		t.Fatalf("task count = %d, want 1", reply.State.TaskCount)
	}
}

func TestSystemUserCreated(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Orch.DB.Exec("DELETE FROM users"); err != nil {
		t.Fatalf("clear users: %v", err)
	}
	reply := env.Orch.ProcessMessage(env.Ctx, "", "Hello", "")
	if reply.Intent != "greeting" {
		t.Fatalf("intent = %s", reply.Intent)
	}
	var email string
	if err := env.Orch.DB.QueryRow("SELECT email FROM users").Scan(&email); err != nil {
		t.Fatalf("read user: %v", err)
	}
	if email != "system@example.com" {
		t.Fatalf("email = %s", email)
	}
}

func TestRepeatedRequestsStable(t *testing.T) {
	env := newTestEnv(t)
	first := env.Orch.ProcessMessage(env.Ctx, env.UserID, "What are my pending tasks?", "")
	second := env.Orch.ProcessMessage(env.Ctx, env.UserID, "What are my pending tasks?", "")
	if first.Response != second.Response || first.Intent != second.Intent {
		t.Fatalf("replies differ: %q vs %q", first.Response, second.Response)
	}
	if n := env.countRows(t, "intent_logs"); n != 2 {
		t.Fatalf("intent_logs = %d, want 2", n)
	}
}
