package repo

import (
	"context"
	"database/sql"

	"tasktalk/internal/domain"
)

// Audit rows are append-only; this file only reads them. Writes go through
// the audit package.

func (r Repo) ListIntentLogs(ctx context.Context, userID string, limit int) ([]domain.IntentLog, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,user_id,input_text,detected_intent,COALESCE(extracted_parameters,''),session_id,processed_at
FROM intent_logs WHERE user_id=? ORDER BY processed_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.IntentLog
	for rows.Next() {
		var e domain.IntentLog
		var session sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &e.InputText, &e.DetectedIntent, &e.ExtractedParameters, &session, &e.ProcessedAt); err != nil {
			return nil, err
		}
		if session.Valid {
			e.SessionID = &session.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) GetIntentLog(ctx context.Context, id string) (domain.IntentLog, error) {
	var e domain.IntentLog
	var session sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,user_id,input_text,detected_intent,COALESCE(extracted_parameters,''),session_id,processed_at
FROM intent_logs WHERE id=?`, id).Scan(&e.ID, &e.UserID, &e.InputText, &e.DetectedIntent, &e.ExtractedParameters, &session, &e.ProcessedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if session.Valid {
		e.SessionID = &session.String
	}
	return e, nil
}

func (r Repo) ListToolExecutions(ctx context.Context, intentLogID string) ([]domain.ToolExecution, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,intent_log_id,tool_name,COALESCE(input_parameters,''),COALESCE(execution_result,''),execution_status,error_message,executed_at
FROM tool_executions WHERE intent_log_id=? ORDER BY executed_at ASC, id ASC`, intentLogID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ToolExecution
	for rows.Next() {
		var e domain.ToolExecution
		var errMsg sql.NullString
		if err := rows.Scan(&e.ID, &e.IntentLogID, &e.ToolName, &e.InputParameters, &e.ExecutionResult, &e.ExecutionStatus, &errMsg, &e.ExecutedAt); err != nil {
			return nil, err
		}
		if errMsg.Valid {
			e.ErrorMessage = &errMsg.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LastProcessedAt returns the newest intent-log timestamp for a user, or ""
// when the user has no audit history.
func (r Repo) LastProcessedAt(ctx context.Context, userID string) (string, error) {
	var ts sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT MAX(processed_at) FROM intent_logs WHERE user_id=?`, userID).Scan(&ts)
	if err != nil {
		return "", err
	}
	if !ts.Valid {
		return "", nil
	}
	return ts.String, nil
}
