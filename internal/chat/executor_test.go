package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"tasktalk/internal/audit"
	"tasktalk/internal/config"
	"tasktalk/internal/db"
	"tasktalk/internal/domain"
	"tasktalk/internal/migrate"
	"tasktalk/internal/repo"
)

func retryConfig(attempts int, baseDelay string) *config.Config {
	cfg := config.Default()
	cfg.Chat.RetryAttempts = attempts
	cfg.Chat.RetryBaseDelay = baseDelay
	return cfg
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	e := Executor{Cfg: retryConfig(3, "1ms")}
	transient := errors.New("database is locked")
	calls := 0
	start := time.Now()
	err := e.withRetry(context.Background(), func(context.Context) error {
		calls++
		return transient
	})
	if !errors.Is(err, transient) {
		t.Fatalf("err = %v, want %v", err, transient)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	// 1ms + 2ms of backoff, nowhere near the full repo timeout.
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("retries took %v", elapsed)
	}
}

func TestWithRetryStopsOnNotFound(t *testing.T) {
	e := Executor{Cfg: retryConfig(5, "1ms")}
	calls := 0
	err := e.withRetry(context.Background(), func(context.Context) error {
		calls++
		return repo.ErrNotFound
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestWithRetryHonorsContext(t *testing.T) {
	e := Executor{Cfg: retryConfig(5, "1h")}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	calls := 0
	err := e.withRetry(ctx, func(context.Context) error {
		calls++
		return errors.New("transient")
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestFailureLoggedAfterDeadline(t *testing.T) {
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	r := repo.Repo{DB: conn}
	user := domain.User{
		ID:           "user-1",
		Email:        "alice@example.com",
		PasswordHash: "x",
		CreatedAt:    "2024-01-01T00:00:00Z",
		UpdatedAt:    "2024-01-01T00:00:00Z",
	}
	if err := r.InsertUser(ctx, nil, user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	aud := audit.Logger{DB: conn}
	logID, err := aud.AppendIntentLog(ctx, nil, audit.IntentEntry{
		UserID:    user.ID,
		InputText: "mark buy milk as completed",
		Intent:    string(IntentUpdateTask),
	})
	if err != nil {
		t.Fatalf("seed intent log: %v", err)
	}

	e := Executor{DB: conn, Repo: r, Audit: aud, Cfg: config.Default()}
	expired, cancel := context.WithTimeout(ctx, time.Nanosecond)
	defer cancel()
	<-expired.Done()

	res, err := e.failure(expired, logID, IntentUpdateTask, audit.Payload{},
		"Error updating task: context deadline exceeded", context.DeadlineExceeded)
	if err != nil {
		t.Fatalf("failure append: %v", err)
	}
	if msg, _ := res.Result["error"].(string); msg == "" {
		t.Fatalf("result = %+v, want error message", res.Result)
	}
	if res.Success {
		t.Fatal("failure marked successful")
	}
	var status string
	if err := conn.QueryRow("SELECT execution_status FROM tool_executions").Scan(&status); err != nil {
		t.Fatalf("read execution: %v", err)
	}
	if status != "failure" {
		t.Fatalf("execution_status = %s, want failure", status)
	}
}
