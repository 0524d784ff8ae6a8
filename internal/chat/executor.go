package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tasktalk/internal/audit"
	"tasktalk/internal/config"
	"tasktalk/internal/domain"
	"tasktalk/internal/repo"
)

// ExecutionResult is the outcome of the single tool call made for an intent.
// Result is never nil; tools with no data return an empty map.
type ExecutionResult struct {
	Response string         `json:"response"`
	Result   map[string]any `json:"result"`
	Success  bool           `json:"success"`
}

// Executor runs exactly one repository-backed tool per intent. Mutations and
// their audit records commit in the same transaction, so a logged success
// implies the state change is durable. Tool-level failures (missing targets,
// repository errors) come back as unsuccessful results, not errors; Execute
// returns an error only when the audit append itself fails.
type Executor struct {
	DB    *sql.DB
	Repo  repo.Repo
	Audit audit.Logger
	Cfg   *config.Config
	Now   func() time.Time
}

func (e Executor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// withRetry re-runs a repository call with exponential backoff. ErrNotFound
// is a definitive answer, not a transient fault, and is returned immediately.
func (e Executor) withRetry(ctx context.Context, fn func(context.Context) error) error {
	attempts := e.Cfg.Chat.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := e.Cfg.RetryBaseDelay() << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err = fn(ctx)
		if err == nil || errors.Is(err, repo.ErrNotFound) {
			return err
		}
	}
	return err
}

// Execute performs the tool call for intent and appends its tool_executions
// record. intentLogID must reference an already-committed intent log row.
func (e Executor) Execute(ctx context.Context, intentLogID, userID string, intent Intent, params map[string]string) (ExecutionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.Cfg.RepoTimeout())
	defer cancel()

	input := audit.Payload{}
	for k, v := range params {
		input[k] = v
	}

	var res ExecutionResult
	var toolErr error
	switch intent {
	case IntentGetPendingTasks:
		res, toolErr = e.listTasks(ctx, userID, domain.StatusPending)
	case IntentGetCompletedTasks:
		res, toolErr = e.listTasks(ctx, userID, domain.StatusCompleted)
	case IntentGetAllTasks:
		res, toolErr = e.listTasks(ctx, userID, "")
	case IntentCreateTask:
		return e.createTask(ctx, intentLogID, userID, input, params)
	case IntentUpdateTask:
		return e.updateTask(ctx, intentLogID, userID, input, params)
	case IntentDeleteTask:
		return e.deleteTask(ctx, intentLogID, userID, input, params)
	default:
		return ExecutionResult{Result: map[string]any{}}, fmt.Errorf("no tool for intent %q", intent)
	}

	if toolErr != nil {
		return e.failure(ctx, intentLogID, intent, input, res.Response, toolErr)
	}
	_, err := e.Audit.AppendToolExecution(ctx, nil, audit.ExecutionEntry{
		IntentLogID: intentLogID,
		ToolName:    toolName(intent),
		Input:       input,
		Result:      audit.Payload(res.Result),
		Status:      audit.StatusSuccess,
	})
	if err != nil {
		return res, err
	}
	return res, nil
}

func (e Executor) listTasks(ctx context.Context, userID, status string) (ExecutionResult, error) {
	var tasks []domain.Task
	err := e.withRetry(ctx, func(ctx context.Context) error {
		var innerErr error
		tasks, innerErr = e.Repo.ListTasks(ctx, repo.TaskFilters{UserID: userID, Status: status})
		return innerErr
	})
	if err != nil {
		return ExecutionResult{
			Response: fmt.Sprintf("Error fetching tasks: %v", err),
			Result:   map[string]any{},
		}, err
	}
	return ExecutionResult{
		Response: listResponse(tasks, status),
		Result:   map[string]any{"tasks": tasks, "count": len(tasks)},
		Success:  true,
	}, nil
}

func listResponse(tasks []domain.Task, status string) string {
	label := "tasks"
	empty := "No tasks."
	switch status {
	case domain.StatusPending:
		label = "pending tasks"
		empty = "No pending tasks."
	case domain.StatusCompleted:
		label = "completed tasks"
		empty = "No completed tasks."
	}
	body := empty
	if len(tasks) > 0 {
		items := make([]string, len(tasks))
		for i, t := range tasks {
			if status == "" {
				items[i] = fmt.Sprintf("'%s' [%s]", t.Title, t.Status)
			} else {
				items[i] = fmt.Sprintf("'%s'", t.Title)
			}
		}
		body = strings.Join(items, ", ")
	}
	return fmt.Sprintf("You have %d %s: %s", len(tasks), label, body)
}

func (e Executor) createTask(ctx context.Context, intentLogID, userID string, input audit.Payload, params map[string]string) (ExecutionResult, error) {
	now := e.now().UTC().Format(time.RFC3339)
	task := domain.Task{
		ID:          uuid.NewString(),
		UserID:      userID,
		Title:       params["title"],
		Description: params["description"],
		Status:      e.Cfg.Chat.DefaultTaskStatus,
		Priority:    e.Cfg.Chat.DefaultPriority,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	var total int
	err := e.withRetry(ctx, func(ctx context.Context) error {
		return e.commitWithLog(ctx, intentLogID, toolName(IntentCreateTask), input,
			audit.Payload{"task": task},
			func(tx *sql.Tx) error {
				if innerErr := e.Repo.InsertTask(ctx, tx, task); innerErr != nil {
					return innerErr
				}
				// Count through the same transaction: a pool read here would
				// block on the write lock the insert still holds.
				var innerErr error
				total, innerErr = e.Repo.CountTasks(ctx, tx, userID)
				return innerErr
			})
	})
	if err != nil {
		return e.failure(ctx, intentLogID, IntentCreateTask, input,
			fmt.Sprintf("Error creating task: %v", err), err)
	}
	return ExecutionResult{
		Response: fmt.Sprintf("Created task '%s'. You now have %d tasks.", task.Title, total),
		Result:   map[string]any{"task": task},
		Success:  true,
	}, nil
}

func (e Executor) updateTask(ctx context.Context, intentLogID, userID string, input audit.Payload, params map[string]string) (ExecutionResult, error) {
	target := params["target"]
	task, err := e.resolveTarget(ctx, userID, target)
	if errors.Is(err, repo.ErrNotFound) {
		return e.failure(ctx, intentLogID, IntentUpdateTask, input,
			fmt.Sprintf("Could not find task '%s' to update.", target), err)
	}
	if err != nil {
		return e.failure(ctx, intentLogID, IntentUpdateTask, input,
			fmt.Sprintf("Error updating task: %v", err), err)
	}

	now := e.now().UTC().Format(time.RFC3339)
	update := repo.TaskUpdate{UpdatedAt: now}
	value := strings.TrimSpace(params["value"])
	var response string
	if status, ok := statusValue(value); ok {
		update.Status = &status
		if status == domain.StatusCompleted {
			update.CompletedAt = &now
		}
		response = fmt.Sprintf("Marked task '%s' as %s.", task.Title, status)
	} else if value != "" {
		update.Title = &value
		response = fmt.Sprintf("Updated task '%s' to '%s'.", task.Title, value)
	} else {
		status := domain.StatusCompleted
		update.Status = &status
		update.CompletedAt = &now
		response = fmt.Sprintf("Marked task '%s' as %s.", task.Title, status)
	}

	err = e.withRetry(ctx, func(ctx context.Context) error {
		return e.commitWithLog(ctx, intentLogID, toolName(IntentUpdateTask), input,
			audit.Payload{"task_id": task.ID, "value": value},
			func(tx *sql.Tx) error {
				return e.Repo.UpdateTask(ctx, tx, task.ID, update)
			})
	})
	if err != nil {
		return e.failure(ctx, intentLogID, IntentUpdateTask, input,
			fmt.Sprintf("Error updating task: %v", err), err)
	}
	return ExecutionResult{
		Response: response,
		Result:   map[string]any{"task_id": task.ID},
		Success:  true,
	}, nil
}

func (e Executor) deleteTask(ctx context.Context, intentLogID, userID string, input audit.Payload, params map[string]string) (ExecutionResult, error) {
	target := params["target"]
	task, err := e.resolveTarget(ctx, userID, target)
	if errors.Is(err, repo.ErrNotFound) {
		return e.failure(ctx, intentLogID, IntentDeleteTask, input,
			fmt.Sprintf("Could not find task '%s' to delete.", target), err)
	}
	if err != nil {
		return e.failure(ctx, intentLogID, IntentDeleteTask, input,
			fmt.Sprintf("Error deleting task: %v", err), err)
	}

	err = e.withRetry(ctx, func(ctx context.Context) error {
		return e.commitWithLog(ctx, intentLogID, toolName(IntentDeleteTask), input,
			audit.Payload{"deleted_id": task.ID},
			func(tx *sql.Tx) error {
				return e.Repo.DeleteTask(ctx, tx, task.ID)
			})
	})
	if err != nil {
		return e.failure(ctx, intentLogID, IntentDeleteTask, input,
			fmt.Sprintf("Error deleting task: %v", err), err)
	}
	return ExecutionResult{
		Response: fmt.Sprintf("Deleted task '%s'.", task.Title),
		Result:   map[string]any{"deleted_id": task.ID},
		Success:  true,
	}, nil
}

func (e Executor) resolveTarget(ctx context.Context, userID, target string) (domain.Task, error) {
	var task domain.Task
	err := e.withRetry(ctx, func(ctx context.Context) error {
		var innerErr error
		task, innerErr = e.Repo.ResolveTask(ctx, userID, target)
		return innerErr
	})
	return task, err
}

// commitWithLog runs a mutation and its success audit record in one
// transaction.
func (e Executor) commitWithLog(ctx context.Context, intentLogID, tool string, input, result audit.Payload, mutate func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := mutate(tx); err != nil {
		return err
	}
	if _, err := e.Audit.AppendToolExecution(ctx, tx, audit.ExecutionEntry{
		IntentLogID: intentLogID,
		ToolName:    tool,
		Input:       input,
		Result:      result,
		Status:      audit.StatusSuccess,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// failure records an unsuccessful tool execution outside any transaction and
// returns the unsuccessful result. The audit append error, if any, is the
// only error surfaced. The append runs on a fresh deadline detached from the
// tool context, so a failure caused by the tool deadline itself still gets
// its row.
func (e Executor) failure(ctx context.Context, intentLogID string, intent Intent, input audit.Payload, response string, cause error) (ExecutionResult, error) {
	msg := cause.Error()
	res := ExecutionResult{Response: response, Result: map[string]any{"error": msg}}
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.Cfg.RepoTimeout())
	defer cancel()
	_, err := e.Audit.AppendToolExecution(auditCtx, nil, audit.ExecutionEntry{
		IntentLogID: intentLogID,
		ToolName:    toolName(intent),
		Input:       input,
		Result:      audit.Payload{"error": msg},
		Status:      audit.StatusFailure,
		ErrorMsg:    msg,
	})
	return res, err
}

// statusValue maps free-text update values onto task statuses. "done" and
// "finished" are common ways users say completed.
func statusValue(v string) (string, bool) {
	switch strings.ToLower(v) {
	case domain.StatusPending:
		return domain.StatusPending, true
	case domain.StatusInProgress, "in progress", "started":
		return domain.StatusInProgress, true
	case domain.StatusCompleted, "done", "finished", "complete":
		return domain.StatusCompleted, true
	case domain.StatusCancelled, "canceled":
		return domain.StatusCancelled, true
	}
	return "", false
}
