package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"tasktalk/internal/config"
	"tasktalk/internal/domain"
	"tasktalk/internal/repo"
)

type toolDeps struct {
	DB   *sql.DB
	Repo repo.Repo
	Cfg  *config.Config
}

// resolveUser maps an optional user_id argument onto a user row, falling
// back to the oldest user when the id is unknown or omitted.
func (d toolDeps) resolveUser(ctx context.Context, userID string) (domain.User, error) {
	if userID != "" {
		u, err := d.Repo.GetUser(ctx, userID)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return domain.User{}, err
		}
	}
	u, err := d.Repo.FirstUser(ctx)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, errors.New("no users exist yet; create one first")
	}
	return u, err
}

func resultJSON(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err))
	}
	return mcp.NewToolResultText(string(data))
}

// AddTaskTool handles the add_task MCP tool.
type AddTaskTool struct {
	deps toolDeps
}

func (t *AddTaskTool) Definition() mcp.Tool {
	return mcp.NewTool("add_task",
		mcp.WithDescription("Create a new task. Returns the created task as JSON."),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Task title."),
		),
		mcp.WithString("description",
			mcp.Description("Longer task description. Defaults to the title."),
		),
		mcp.WithString("priority",
			mcp.Description("One of low, medium, high, urgent."),
			mcp.Enum("low", "medium", "high", "urgent"),
		),
		mcp.WithString("user_id",
			mcp.Description("Owner user id. Defaults to the oldest user."),
		),
	)
}

func (t *AddTaskTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title := req.GetString("title", "")
	if title == "" {
		return mcp.NewToolResultError("title is required"), nil
	}
	user, err := t.deps.resolveUser(ctx, req.GetString("user_id", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	description := req.GetString("description", "")
	if description == "" {
		description = title
	}
	priority := req.GetString("priority", t.deps.Cfg.Chat.DefaultPriority)
	if !domain.ValidPriority(priority) {
		return mcp.NewToolResultError(fmt.Sprintf("invalid priority %q", priority)), nil
	}
	now := time.Now().UTC().Format(time.RFC3339)
	task := domain.Task{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		Title:       title,
		Description: description,
		Status:      t.deps.Cfg.Chat.DefaultTaskStatus,
		Priority:    priority,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := t.deps.Repo.InsertTask(ctx, nil, task); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("creating task: %v", err)), nil
	}
	return resultJSON(map[string]any{
		"success": true,
		"task":    task,
		"message": fmt.Sprintf("Created task '%s'.", task.Title),
	}), nil
}

// ListTasksTool handles the list_tasks MCP tool.
type ListTasksTool struct {
	deps toolDeps
}

func (t *ListTasksTool) Definition() mcp.Tool {
	return mcp.NewTool("list_tasks",
		mcp.WithDescription("List tasks, optionally filtered by status."),
		mcp.WithString("status",
			mcp.Description("Filter by status."),
			mcp.Enum("pending", "in-progress", "completed", "cancelled"),
		),
		mcp.WithString("user_id",
			mcp.Description("Owner user id. Defaults to the oldest user."),
		),
	)
}

func (t *ListTasksTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := t.deps.resolveUser(ctx, req.GetString("user_id", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	status := req.GetString("status", "")
	if status != "" && !domain.ValidStatus(status) {
		return mcp.NewToolResultError(fmt.Sprintf("invalid status %q", status)), nil
	}
	tasks, err := t.deps.Repo.ListTasks(ctx, repo.TaskFilters{UserID: user.ID, Status: status})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("listing tasks: %v", err)), nil
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return resultJSON(map[string]any{
		"success": true,
		"tasks":   tasks,
		"message": fmt.Sprintf("Found %d tasks.", len(tasks)),
	}), nil
}

// UpdateTaskTool handles the update_task MCP tool.
type UpdateTaskTool struct {
	deps toolDeps
}

func (t *UpdateTaskTool) Definition() mcp.Tool {
	return mcp.NewTool("update_task",
		mcp.WithDescription("Update a task's title, description, status or priority. The task is found by id or exact title."),
		mcp.WithString("task",
			mcp.Required(),
			mcp.Description("Task id or exact title."),
		),
		mcp.WithString("title", mcp.Description("New title.")),
		mcp.WithString("description", mcp.Description("New description.")),
		mcp.WithString("status",
			mcp.Description("New status."),
			mcp.Enum("pending", "in-progress", "completed", "cancelled"),
		),
		mcp.WithString("priority",
			mcp.Description("New priority."),
			mcp.Enum("low", "medium", "high", "urgent"),
		),
		mcp.WithString("user_id",
			mcp.Description("Owner user id. Defaults to the oldest user."),
		),
	)
}

func (t *UpdateTaskTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := t.deps.resolveUser(ctx, req.GetString("user_id", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	target := req.GetString("task", "")
	task, err := t.deps.Repo.ResolveTask(ctx, user.ID, target)
	if errors.Is(err, repo.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("task %q not found", target)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("resolving task: %v", err)), nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	update := repo.TaskUpdate{UpdatedAt: now}
	if v := req.GetString("title", ""); v != "" {
		update.Title = &v
	}
	if v := req.GetString("description", ""); v != "" {
		update.Description = &v
	}
	if v := req.GetString("status", ""); v != "" {
		if !domain.ValidStatus(v) {
			return mcp.NewToolResultError(fmt.Sprintf("invalid status %q", v)), nil
		}
		update.Status = &v
		if v == domain.StatusCompleted {
			update.CompletedAt = &now
		}
	}
	if v := req.GetString("priority", ""); v != "" {
		if !domain.ValidPriority(v) {
			return mcp.NewToolResultError(fmt.Sprintf("invalid priority %q", v)), nil
		}
		update.Priority = &v
	}
	if err := t.deps.Repo.UpdateTask(ctx, nil, task.ID, update); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("updating task: %v", err)), nil
	}
	updated, err := t.deps.Repo.GetTask(ctx, task.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("reading task: %v", err)), nil
	}
	return resultJSON(map[string]any{
		"success": true,
		"task":    updated,
		"message": fmt.Sprintf("Updated task '%s'.", updated.Title),
	}), nil
}

// CompleteTaskTool handles the complete_task MCP tool.
type CompleteTaskTool struct {
	deps toolDeps
}

func (t *CompleteTaskTool) Definition() mcp.Tool {
	return mcp.NewTool("complete_task",
		mcp.WithDescription("Mark a task as completed. The task is found by id or exact title."),
		mcp.WithString("task",
			mcp.Required(),
			mcp.Description("Task id or exact title."),
		),
		mcp.WithString("user_id",
			mcp.Description("Owner user id. Defaults to the oldest user."),
		),
	)
}

func (t *CompleteTaskTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := t.deps.resolveUser(ctx, req.GetString("user_id", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	target := req.GetString("task", "")
	task, err := t.deps.Repo.ResolveTask(ctx, user.ID, target)
	if errors.Is(err, repo.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("task %q not found", target)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("resolving task: %v", err)), nil
	}
	now := time.Now().UTC().Format(time.RFC3339)
	status := domain.StatusCompleted
	update := repo.TaskUpdate{Status: &status, UpdatedAt: now, CompletedAt: &now}
	if err := t.deps.Repo.UpdateTask(ctx, nil, task.ID, update); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("completing task: %v", err)), nil
	}
	updated, err := t.deps.Repo.GetTask(ctx, task.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("reading task: %v", err)), nil
	}
	return resultJSON(map[string]any{
		"success": true,
		"task":    updated,
		"message": fmt.Sprintf("Marked task '%s' as completed.", updated.Title),
	}), nil
}

// DeleteTaskTool handles the delete_task MCP tool.
type DeleteTaskTool struct {
	deps toolDeps
}

func (t *DeleteTaskTool) Definition() mcp.Tool {
	return mcp.NewTool("delete_task",
		mcp.WithDescription("Delete a task. The task is found by id or exact title."),
		mcp.WithString("task",
			mcp.Required(),
			mcp.Description("Task id or exact title."),
		),
		mcp.WithString("user_id",
			mcp.Description("Owner user id. Defaults to the oldest user."),
		),
	)
}

func (t *DeleteTaskTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := t.deps.resolveUser(ctx, req.GetString("user_id", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	target := req.GetString("task", "")
	task, err := t.deps.Repo.ResolveTask(ctx, user.ID, target)
	if errors.Is(err, repo.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("task %q not found", target)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("resolving task: %v", err)), nil
	}
	if err := t.deps.Repo.DeleteTask(ctx, nil, task.ID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("deleting task: %v", err)), nil
	}
	return resultJSON(map[string]any{
		"success": true,
		"message": fmt.Sprintf("Deleted task '%s'.", task.Title),
	}), nil
}
