// Package audit appends intent and tool-execution records. Every processed
// chat message produces exactly one intent log row, and every executed tool
// produces exactly one tool-execution row referencing it.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Logger struct {
	DB  *sql.DB
	Now func() time.Time
}

type Payload map[string]any

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusPartial = "partial"
)

// IntentEntry is the input for one intent-log append.
type IntentEntry struct {
	UserID     string
	InputText  string
	Intent     string
	Parameters Payload
	SessionID  string
}

// ExecutionEntry is the input for one tool-execution append.
type ExecutionEntry struct {
	IntentLogID string
	ToolName    string
	Input       Payload
	Result      Payload
	Status      string
	ErrorMsg    string
}

func (l Logger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// AppendIntentLog inserts an intent-log row and returns its id. When tx is
// nil the insert runs outside any transaction.
func (l Logger) AppendIntentLog(ctx context.Context, tx *sql.Tx, e IntentEntry) (string, error) {
	id := uuid.NewString()
	ts := l.now().UTC().Format(time.RFC3339)
	params := marshalPayload(e.Parameters)
	_, err := l.exec(ctx, tx, `INSERT INTO intent_logs(id,user_id,input_text,detected_intent,extracted_parameters,session_id,processed_at) VALUES (?,?,?,?,?,?,?)`,
		id, e.UserID, e.InputText, e.Intent, params, nullable(e.SessionID), ts)
	if err != nil {
		return "", fmt.Errorf("append intent log: %w", err)
	}
	return id, nil
}

// AppendToolExecution inserts a tool-execution row and returns its id.
func (l Logger) AppendToolExecution(ctx context.Context, tx *sql.Tx, e ExecutionEntry) (string, error) {
	id := uuid.NewString()
	ts := l.now().UTC().Format(time.RFC3339)
	_, err := l.exec(ctx, tx, `INSERT INTO tool_executions(id,intent_log_id,tool_name,input_parameters,execution_result,execution_status,error_message,executed_at) VALUES (?,?,?,?,?,?,?,?)`,
		id, e.IntentLogID, e.ToolName, marshalPayload(e.Input), marshalPayload(e.Result), e.Status, nullable(e.ErrorMsg), ts)
	if err != nil {
		return "", fmt.Errorf("append tool execution: %w", err)
	}
	return id, nil
}

func (l Logger) exec(ctx context.Context, tx *sql.Tx, query string, args ...any) (sql.Result, error) {
	if tx != nil {
		return tx.ExecContext(ctx, query, args...)
	}
	return l.DB.ExecContext(ctx, query, args...)
}

// marshalPayload serializes a payload to JSON. If marshaling fails, a
// structured error object is stored instead so the append never fails on
// serialization alone.
func marshalPayload(p Payload) string {
	if p == nil {
		p = Payload{}
	}
	data, err := json.Marshal(p)
	if err != nil {
		fallback, _ := json.Marshal(map[string]string{"serialization_error": err.Error()})
		return string(fallback)
	}
	return string(data)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
