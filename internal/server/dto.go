package server

import (
	"tasktalk/internal/chat"
	"tasktalk/internal/domain"
)

type RegisterRequest struct {
	Email    string `json:"email" format:"email" doc:"Account email"`
	Password string `json:"password" minLength:"8" doc:"Account password"`
}

type LoginRequest struct {
	Email    string `json:"email" format:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token     string       `json:"token" doc:"Bearer token for subsequent requests"`
	ExpiresAt string       `json:"expires_at" doc:"Token expiry, RFC 3339"`
	User      UserResponse `json:"user"`
}

type UserResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type ChatRequest struct {
	Message   string `json:"message" doc:"Natural language message"`
	SessionID string `json:"session_id,omitempty" doc:"Optional client session identifier"`
}

type ChatResponse struct {
	Response            string         `json:"response"`
	Intent              string         `json:"intent"`
	Confidence          float64        `json:"confidence"`
	StateReflection     StateResponse  `json:"state_reflection"`
	ToolExecutionResult map[string]any `json:"tool_execution_result,omitempty" jsonschema:"type=object,additionalProperties=true"`
	Timestamp           string         `json:"timestamp"`
}

type StateResponse struct {
	UserID             string         `json:"user_id"`
	TaskCount          int            `json:"task_count"`
	TaskCountsByStatus map[string]int `json:"task_counts_by_status"`
	LastUpdated        string         `json:"last_updated"`
}

type CreateTaskRequest struct {
	Title       string  `json:"title" doc:"Task title"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty" enum:"pending,in-progress,completed,cancelled"`
	Priority    *string `json:"priority,omitempty" enum:"low,medium,high,urgent"`
}

type UpdateTaskRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty" enum:"pending,in-progress,completed,cancelled"`
	Priority    *string `json:"priority,omitempty" enum:"low,medium,high,urgent"`
}

type TaskResponse struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status"`
	Priority    string  `json:"priority"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

type paginatedTasks struct {
	Items []TaskResponse `json:"items"`
	Count int            `json:"count"`
}

type IntentLogResponse struct {
	ID                  string  `json:"id"`
	InputText           string  `json:"input_text"`
	DetectedIntent      string  `json:"detected_intent"`
	ExtractedParameters string  `json:"extracted_parameters,omitempty"`
	SessionID           *string `json:"session_id,omitempty"`
	ProcessedAt         string  `json:"processed_at"`
}

type ToolExecutionResponse struct {
	ID              string  `json:"id"`
	IntentLogID     string  `json:"intent_log_id"`
	ToolName        string  `json:"tool_name"`
	InputParameters string  `json:"input_parameters,omitempty"`
	ExecutionResult string  `json:"execution_result,omitempty"`
	ExecutionStatus string  `json:"execution_status"`
	ErrorMessage    *string `json:"error_message,omitempty"`
	ExecutedAt      string  `json:"executed_at"`
}

func userResponse(u domain.User) UserResponse {
	return UserResponse{ID: u.ID, Email: u.Email, CreatedAt: u.CreatedAt, UpdatedAt: u.UpdatedAt}
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		Priority:    t.Priority,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
		CompletedAt: t.CompletedAt,
	}
}

func mapTasks(tasks []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		res = append(res, taskResponse(t))
	}
	return res
}

func stateResponse(s domain.StateReflection) StateResponse {
	return StateResponse{
		UserID:             s.UserID,
		TaskCount:          s.TaskCount,
		TaskCountsByStatus: s.TaskCountsByStatus,
		LastUpdated:        s.LastUpdated,
	}
}

func chatResponse(r chat.Reply) ChatResponse {
	return ChatResponse{
		Response:            r.Response,
		Intent:              r.Intent,
		Confidence:          r.Confidence,
		StateReflection:     stateResponse(r.State),
		ToolExecutionResult: r.ToolResult,
		Timestamp:           r.Timestamp,
	}
}

func intentLogResponse(l domain.IntentLog) IntentLogResponse {
	return IntentLogResponse{
		ID:                  l.ID,
		InputText:           l.InputText,
		DetectedIntent:      l.DetectedIntent,
		ExtractedParameters: l.ExtractedParameters,
		SessionID:           l.SessionID,
		ProcessedAt:         l.ProcessedAt,
	}
}

func executionResponse(e domain.ToolExecution) ToolExecutionResponse {
	return ToolExecutionResponse{
		ID:              e.ID,
		IntentLogID:     e.IntentLogID,
		ToolName:        e.ToolName,
		InputParameters: e.InputParameters,
		ExecutionResult: e.ExecutionResult,
		ExecutionStatus: e.ExecutionStatus,
		ErrorMessage:    e.ErrorMessage,
		ExecutedAt:      e.ExecutedAt,
	}
}
