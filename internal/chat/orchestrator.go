package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"tasktalk/internal/audit"
	"tasktalk/internal/config"
	"tasktalk/internal/domain"
	"tasktalk/internal/repo"
)

const apology = "I'm sorry, I encountered an issue processing your request. Please try again."

const systemUserEmail = "system@example.com"

// Reply is the full outcome of one processed message. ToolResult, when
// present, always carries a "success" boolean alongside the tool's data, or
// an "error" message when the tool failed.
type Reply struct {
	Response   string                 `json:"response"`
	Intent     string                 `json:"intent"`
	Confidence float64                `json:"confidence"`
	State      domain.StateReflection `json:"state_reflection"`
	ToolResult map[string]any         `json:"tool_execution_result,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// Orchestrator drives a message through guard, classification, audit,
// validation, execution and state reflection. It holds no per-conversation
// state; everything a reply needs is read back from the database.
type Orchestrator struct {
	DB    *sql.DB
	Repo  repo.Repo
	Audit audit.Logger
	Cfg   *config.Config
	Now   func() time.Time
	Log   zerolog.Logger
}

func New(db *sql.DB, cfg *config.Config, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		DB:    db,
		Repo:  repo.Repo{DB: db},
		Audit: audit.Logger{DB: db},
		Cfg:   cfg,
		Log:   logger,
	}
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) executor() Executor {
	return Executor{DB: o.DB, Repo: o.Repo, Audit: o.Audit, Cfg: o.Cfg, Now: o.Now}
}

// ProcessMessage takes one user message through the whole pipeline and always
// returns a reply. It never returns an error: failures surface as refusal or
// apology responses.
func (o *Orchestrator) ProcessMessage(ctx context.Context, userID, input, sessionID string) (reply Reply) {
	defer func() {
		if r := recover(); r != nil {
			o.Log.Error().Interface("panic", r).Msg("chat pipeline panic")
			reply = o.apologyReply(ctx, userID)
		}
		reply.Timestamp = o.now().UTC().Format(time.RFC3339)
	}()

	guard := Guard{MaxChars: o.Cfg.Chat.MaxInputChars, Denied: o.Cfg.Chat.DeniedPatterns}
	if reason := guard.Check(input); reason != "" {
		o.Log.Warn().Str("user_id", userID).Str("reason", reason).Msg("input rejected")
		return Reply{
			Response: reason,
			Intent:   string(IntentError),
			State:    o.emptyState(userID),
		}
	}

	cls := Classify(input)
	o.Log.Debug().
		Str("user_id", userID).
		Str("intent", string(cls.Intent)).
		Float64("confidence", cls.Confidence).
		Msg("message classified")

	user, err := o.resolveUser(ctx, userID)
	if err != nil {
		o.Log.Error().Err(err).Msg("user resolution failed")
		return o.apologyReply(ctx, userID)
	}

	intentLogID, err := o.logIntent(ctx, user.ID, input, sessionID, cls)
	if err != nil {
		o.Log.Error().Err(err).Msg("intent log append failed")
		return o.apologyReply(ctx, user.ID)
	}

	// Pre-execution snapshot, kept as the fallback when the post-execution
	// refetch fails.
	state := o.stateReflection(ctx, user.ID)

	v := Validate(cls.Intent, cls.Parameters)
	if !v.Valid {
		return Reply{
			Response:   refusalResponse(cls.Intent, v.Errors),
			Intent:     string(cls.Intent),
			Confidence: cls.Confidence,
			State:      state,
		}
	}

	if toolName(cls.Intent) == "" {
		return Reply{
			Response:   conversationalResponse(cls.Intent),
			Intent:     string(cls.Intent),
			Confidence: cls.Confidence,
			State:      state,
		}
	}

	res, err := o.executor().Execute(ctx, intentLogID, user.ID, cls.Intent, v.Corrected)
	if err != nil {
		o.Log.Error().Err(err).Str("intent", string(cls.Intent)).Msg("tool execution audit failed")
		return o.apologyReply(ctx, user.ID)
	}

	state = o.stateReflection(ctx, user.ID)
	toolResult := map[string]any{"success": res.Success}
	for k, v := range res.Result {
		toolResult[k] = v
	}
	return Reply{
		Response:   res.Response,
		Intent:     string(cls.Intent),
		Confidence: cls.Confidence,
		State:      state,
		ToolResult: toolResult,
	}
}

// resolveUser maps a caller-supplied user id onto a real user row. Unknown or
// empty ids fall back to the oldest user; an empty users table gets a system
// user created on the spot.
func (o *Orchestrator) resolveUser(ctx context.Context, userID string) (domain.User, error) {
	if userID != "" {
		u, err := o.Repo.GetUser(ctx, userID)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return domain.User{}, err
		}
	}
	u, err := o.Repo.FirstUser(ctx)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, err
	}
	now := o.now().UTC().Format(time.RFC3339)
	sys := domain.User{
		ID:           uuid.NewString(),
		Email:        systemUserEmail,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := o.Repo.InsertUser(ctx, nil, sys); err != nil {
		return domain.User{}, err
	}
	o.Log.Info().Str("user_id", sys.ID).Msg("created fallback system user")
	return sys, nil
}

func (o *Orchestrator) logIntent(ctx context.Context, userID, input, sessionID string, cls ClassificationResult) (string, error) {
	params := audit.Payload{}
	for k, v := range cls.Parameters {
		params[k] = v
	}
	return o.Audit.AppendIntentLog(ctx, nil, audit.IntentEntry{
		UserID:     userID,
		InputText:  input,
		Intent:     string(cls.Intent),
		Parameters: params,
		SessionID:  sessionID,
	})
}

// stateReflection recomputes the user's task counts. A read failure yields
// the zeroed snapshot rather than an error.
func (o *Orchestrator) stateReflection(ctx context.Context, userID string) domain.StateReflection {
	count, err := o.Repo.CountTasks(ctx, nil, userID)
	if err != nil {
		o.Log.Warn().Err(err).Msg("state reflection count failed")
		return o.emptyState(userID)
	}
	byStatus, err := o.Repo.CountTasksByStatus(ctx, userID)
	if err != nil {
		o.Log.Warn().Err(err).Msg("state reflection breakdown failed")
		return o.emptyState(userID)
	}
	return domain.StateReflection{
		UserID:             userID,
		TaskCount:          count,
		TaskCountsByStatus: byStatus,
		LastUpdated:        o.now().UTC().Format(time.RFC3339),
	}
}

func (o *Orchestrator) emptyState(userID string) domain.StateReflection {
	return domain.StateReflection{
		UserID:             userID,
		TaskCountsByStatus: map[string]int{},
		LastUpdated:        o.now().UTC().Format(time.RFC3339),
	}
}

// apologyReply is the degraded response for pipeline-level failures. The
// state reflection is still read from the repository on a fresh deadline so
// the caller sees current counts; only if that read fails too does the
// zeroed snapshot go out.
func (o *Orchestrator) apologyReply(ctx context.Context, userID string) Reply {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.Cfg.RepoTimeout())
	defer cancel()
	return Reply{
		Response: apology,
		Intent:   string(IntentError),
		State:    o.stateReflection(ctx, userID),
	}
}

func refusalResponse(intent Intent, errs []string) string {
	joined := strings.Join(errs, "; ")
	switch intent {
	case IntentCreateTask:
		return fmt.Sprintf("Could not create task: %s", joined)
	case IntentUpdateTask:
		return fmt.Sprintf("Could not update task: %s", joined)
	case IntentDeleteTask:
		return fmt.Sprintf("Could not delete task: %s", joined)
	}
	return joined
}

func conversationalResponse(intent Intent) string {
	switch intent {
	case IntentGreeting:
		return "Hello! I can help you manage your tasks. Try 'create task to buy groceries' or ask 'what are my pending tasks?'."
	case IntentHelp:
		return "I can create, update, delete and list your tasks. For example: 'create task to buy groceries', 'mark buy groceries as completed', 'delete buy groceries', 'what are my pending tasks?'."
	}
	return "I'm not sure what you mean. Type 'help' to see what I can do."
}
