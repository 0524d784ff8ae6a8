package tasktalksdk

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

// Client is a minimal TaskTalk HTTP API client.
type Client struct {
	BaseURL     string
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

// Task represents the API task model.
type Task struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status"`
	Priority    string  `json:"priority"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

// User represents the API user model.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at"`
}

// TokenResponse is returned by register and login.
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
	User      User   `json:"user"`
}

// StateReflection summarizes the caller's task repository.
type StateReflection struct {
	UserID             string         `json:"user_id"`
	TaskCount          int            `json:"task_count"`
	TaskCountsByStatus map[string]int `json:"task_counts_by_status"`
	LastUpdated        string         `json:"last_updated"`
}

// ChatReply is the response to a chat message.
type ChatReply struct {
	Response            string          `json:"response"`
	Intent              string          `json:"intent"`
	Confidence          float64         `json:"confidence"`
	StateReflection     StateReflection `json:"state_reflection"`
	ToolExecutionResult map[string]any  `json:"tool_execution_result,omitempty"`
	Timestamp           string          `json:"timestamp"`
}

// IntentLog is one audit record of a classified message.
type IntentLog struct {
	ID                  string `json:"id"`
	InputText           string `json:"input_text"`
	DetectedIntent      string `json:"detected_intent"`
	ExtractedParameters string `json:"extracted_parameters,omitempty"`
	ProcessedAt         string `json:"processed_at"`
}

// ToolExecution is one audit record of a tool call.
type ToolExecution struct {
	ID              string  `json:"id"`
	IntentLogID     string  `json:"intent_log_id"`
	ToolName        string  `json:"tool_name"`
	ExecutionStatus string  `json:"execution_status"`
	ErrorMessage    *string `json:"error_message,omitempty"`
	ExecutedAt      string  `json:"executed_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedTasks wraps task list responses.
type PaginatedTasks struct {
	Items []Task `json:"items"`
	Count int    `json:"count"`
}

// Register creates a user and stores the returned bearer token on the client.
func (c *Client) Register(ctx context.Context, email, password string) (TokenResponse, error) {
	var resp TokenResponse
	err := c.do(ctx, http.MethodPost, "v0/auth/register", map[string]any{"email": email, "password": password}, &resp)
	if err == nil {
		c.BearerToken = resp.Token
	}
	return resp, err
}

// Login authenticates and stores the returned bearer token on the client.
func (c *Client) Login(ctx context.Context, email, password string) (TokenResponse, error) {
	var resp TokenResponse
	err := c.do(ctx, http.MethodPost, "v0/auth/login", map[string]any{"email": email, "password": password}, &resp)
	if err == nil {
		c.BearerToken = resp.Token
	}
	return resp, err
}

// Chat sends one natural-language message through the pipeline.
func (c *Client) Chat(ctx context.Context, message, sessionID string) (ChatReply, error) {
	body := map[string]any{"message": message}
	if sessionID != "" {
		body["session_id"] = sessionID
	}
	var resp ChatReply
	err := c.do(ctx, http.MethodPost, "v0/chat", body, &resp)
	return resp, err
}

// State returns the caller's current repository snapshot.
func (c *Client) State(ctx context.Context) (StateReflection, error) {
	var resp StateReflection
	err := c.do(ctx, http.MethodGet, "v0/state", nil, &resp)
	return resp, err
}

// CreateTask creates a task directly, bypassing the chat pipeline.
func (c *Client) CreateTask(ctx context.Context, title, description, priority string) (Task, error) {
	body := map[string]any{"title": title}
	if description != "" {
		body["description"] = description
	}
	if priority != "" {
		body["priority"] = priority
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks", body, &resp)
	return resp, err
}

// Tasks lists tasks, optionally filtered by status.
func (c *Client) Tasks(ctx context.Context, status string) ([]Task, error) {
	endpoint := "v0/tasks"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp PaginatedTasks
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "v0/tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// UpdateTask patches a task. Nil fields are left unchanged.
func (c *Client) UpdateTask(ctx context.Context, id string, fields map[string]any) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, "v0/tasks/"+url.PathEscape(id), fields, &resp)
	return resp, err
}

// CompleteTask marks a task completed.
func (c *Client) CompleteTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks/"+url.PathEscape(id)+"/complete", nil, &resp)
	return resp, err
}

// DeleteTask removes a task.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "v0/tasks/"+url.PathEscape(id), nil, nil)
}

// IntentLogs returns the caller's recent audit entries.
func (c *Client) IntentLogs(ctx context.Context, limit int) ([]IntentLog, error) {
	endpoint := "v0/intents"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []IntentLog
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ToolExecutions returns the executions recorded for an intent log entry.
func (c *Client) ToolExecutions(ctx context.Context, intentLogID string) ([]ToolExecution, error) {
	var resp []ToolExecution
	endpoint := "v0/intents/" + url.PathEscape(intentLogID) + "/executions"
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
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
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
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
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
