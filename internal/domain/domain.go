package domain

// Task statuses and priorities are stored as plain strings; the enum tags
// drive the OpenAPI schema.

type Task struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status" enum:"pending,in-progress,completed,cancelled"`
	Priority    string  `json:"priority" enum:"low,medium,high,urgent"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
}

type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

// IntentLog is an append-only audit record of one classified message.
type IntentLog struct {
	ID                  string  `json:"id"`
	UserID              string  `json:"user_id"`
	InputText           string  `json:"input_text"`
	DetectedIntent      string  `json:"detected_intent"`
	ExtractedParameters string  `json:"extracted_parameters,omitempty"`
	SessionID           *string `json:"session_id,omitempty"`
	ProcessedAt         string  `json:"processed_at" format:"date-time"`
}

// ToolExecution is an append-only audit record of the single tool call made
// for an intent log entry.
type ToolExecution struct {
	ID              string  `json:"id"`
	IntentLogID     string  `json:"intent_log_id"`
	ToolName        string  `json:"tool_name"`
	InputParameters string  `json:"input_parameters,omitempty"`
	ExecutionResult string  `json:"execution_result,omitempty"`
	ExecutionStatus string  `json:"execution_status" enum:"success,failure,partial"`
	ErrorMessage    *string `json:"error_message,omitempty"`
	ExecutedAt      string  `json:"executed_at" format:"date-time"`
}

// StateReflection is a per-response snapshot of the user's repository state.
// It is recomputed after every tool execution and never persisted.
type StateReflection struct {
	UserID             string         `json:"user_id"`
	TaskCount          int            `json:"task_count"`
	TaskCountsByStatus map[string]int `json:"task_counts_by_status"`
	LastUpdated        string         `json:"last_updated" format:"date-time"`
}

const (
	StatusPending    = "pending"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// ValidStatus reports whether s is one of the four task statuses.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// ValidPriority reports whether p is one of the four task priorities.
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}
