package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"tasktalk/internal/chat"
	"tasktalk/internal/config"
	"tasktalk/internal/db"
	"tasktalk/internal/domain"
	"tasktalk/internal/mcp"
	"tasktalk/internal/migrate"
	"tasktalk/internal/repo"
	"tasktalk/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tt",
	Short: "TaskTalk CLI",
	Long: `TaskTalk manages tasks through natural language.
Talk to it ("create task to buy milk", "what are my pending tasks?") and it
classifies your intent, runs at most one task tool, and records every step
in an append-only audit log. It also serves a REST API (tt serve) and an
MCP stdio tool server (tt mcp).`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKTALK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user", "", "user email (defaults to the oldest user)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
}

func registerCommands() {
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(intentsCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(mcpCmd())
}

func chatCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Send one message through the conversation pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message := strings.Join(args, " ")
			return withConn(cmd.Context(), func(ctx context.Context, conn *sql.DB, cfg *config.Config) error {
				userID, err := resolveUserID(ctx, repo.Repo{DB: conn})
				if err != nil && err != repo.ErrNotFound {
					return err
				}
				orch := chat.New(conn, cfg, zerolog.Nop())
				reply := orch.ProcessMessage(ctx, userID, message, sessionID)
				if viper.GetBool("json") {
					return printJSON(reply)
				}
				fmt.Println(reply.Response)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id recorded in the audit log")
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks belong to a user and flow pending -> in-progress -> completed (cancelled is an exit). Targets may be a task id or an exact title.",
	}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskDoneCmd())
	task.AddCommand(taskDeleteCmd())
	return task
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, r repo.Repo, cfg *config.Config, userID string) error {
				f.UserID = userID
				tasks, err := r.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Created"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Priority, t.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Priority, "priority", "", "priority filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func taskCreateCmd() *cobra.Command {
	var title, description, status, priority string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(title) == "" {
				return fmt.Errorf("--title required")
			}
			return withUser(cmd.Context(), func(ctx context.Context, r repo.Repo, cfg *config.Config, userID string) error {
				if status == "" {
					status = cfg.Chat.DefaultTaskStatus
				}
				if priority == "" {
					priority = cfg.Chat.DefaultPriority
				}
				if !domain.ValidStatus(status) {
					return fmt.Errorf("invalid status %q", status)
				}
				if !domain.ValidPriority(priority) {
					return fmt.Errorf("invalid priority %q", priority)
				}
				now := time.Now().UTC().Format(time.RFC3339)
				t := domain.Task{
					ID:          uuid.NewString(),
					UserID:      userID,
					Title:       strings.TrimSpace(title),
					Description: description,
					Status:      status,
					Priority:    priority,
					CreatedAt:   now,
					UpdatedAt:   now,
				}
				if err := r.InsertTask(ctx, nil, t); err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "status (defaults from config)")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (defaults from config)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id-or-title>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, r repo.Repo, cfg *config.Config, userID string) error {
				t, err := r.ResolveTask(ctx, userID, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskDoneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "done <id-or-title>",
		Short: "Mark a task completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, r repo.Repo, cfg *config.Config, userID string) error {
				t, err := r.ResolveTask(ctx, userID, args[0])
				if err != nil {
					return err
				}
				now := time.Now().UTC().Format(time.RFC3339)
				status := domain.StatusCompleted
				if err := r.UpdateTask(ctx, nil, t.ID, repo.TaskUpdate{Status: &status, UpdatedAt: now, CompletedAt: &now}); err != nil {
					return err
				}
				t, err = r.GetTask(ctx, t.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id-or-title>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, r repo.Repo, cfg *config.Config, userID string) error {
				t, err := r.ResolveTask(ctx, userID, args[0])
				if err != nil {
					return err
				}
				if err := r.DeleteTask(ctx, nil, t.ID); err != nil {
					return err
				}
				fmt.Printf("Deleted task '%s'.\n", t.Title)
				return nil
			})
		},
	}
	return cmd
}

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage users"}
	user.AddCommand(userCreateCmd())
	user.AddCommand(userListCmd())
	return user
}

func userCreateCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			email = strings.ToLower(strings.TrimSpace(email))
			if email == "" {
				return fmt.Errorf("--email required")
			}
			if len(password) < 8 {
				return fmt.Errorf("password must be at least 8 characters")
			}
			return withConn(cmd.Context(), func(ctx context.Context, conn *sql.DB, cfg *config.Config) error {
				r := repo.Repo{DB: conn}
				if _, err := r.GetUserByEmail(ctx, email); err == nil {
					return fmt.Errorf("user %s already exists", email)
				} else if err != repo.ErrNotFound {
					return err
				}
				hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
				if err != nil {
					return err
				}
				now := time.Now().UTC().Format(time.RFC3339)
				u := domain.User{ID: uuid.NewString(), Email: email, PasswordHash: string(hash), CreatedAt: now, UpdatedAt: now}
				if err := r.InsertUser(ctx, nil, u); err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "password (min 8 chars)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func userListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConn(cmd.Context(), func(ctx context.Context, conn *sql.DB, cfg *config.Config) error {
				users, err := repo.Repo{DB: conn}.ListUsers(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(users)
			})
		},
	}
	return cmd
}

func intentsCmd() *cobra.Command {
	var n int
	var executions bool
	cmd := &cobra.Command{
		Use:   "intents",
		Short: "Show recent audit log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, r repo.Repo, cfg *config.Config, userID string) error {
				logs, err := r.ListIntentLogs(ctx, userID, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(logs)
				}
				for _, l := range logs {
					fmt.Printf("%s  %-20s  %s\n", l.ProcessedAt, l.DetectedIntent, l.InputText)
					if !executions {
						continue
					}
					execs, err := r.ListToolExecutions(ctx, l.ID)
					if err != nil {
						return err
					}
					for _, e := range execs {
						fmt.Printf("    %s -> %s\n", e.ToolName, e.ExecutionStatus)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	cmd.Flags().BoolVar(&executions, "executions", false, "include tool executions")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage tasktalk.yml",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default tasktalk.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate tasktalk.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConn(cmd.Context(), func(_ context.Context, conn *sql.DB, cfg *config.Config) error {
				secret := os.Getenv("TASKTALK_JWT_SECRET")
				if secret == "" {
					return fmt.Errorf("TASKTALK_JWT_SECRET is required for bearer auth")
				}
				if addr == "" {
					addr = cfg.Server.Addr
				}
				if basePath == "" {
					basePath = cfg.Server.BasePath
				}
				logger := newLogger()
				handler, err := server.New(server.Config{
					DB:       conn,
					Cfg:      cfg,
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: secret, TokenTTL: cfg.TokenTTL()},
					Logger:   logger,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				logger.Info().Str("addr", addr).Str("base_path", basePath).Msg("serving TaskTalk API")
				fmt.Printf("Serving TaskTalk API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults from config)")
	return cmd
}

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start MCP tool server on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConn(cmd.Context(), func(_ context.Context, conn *sql.DB, cfg *config.Config) error {
				return mcp.ServeStdio(mcp.New(conn, cfg))
			})
		},
	}
	return cmd
}

// --- helpers ---

func withConn(ctx context.Context, fn func(context.Context, *sql.DB, *config.Config) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, conn, cfg)
}

func withUser(ctx context.Context, fn func(context.Context, repo.Repo, *config.Config, string) error) error {
	return withConn(ctx, func(ctx context.Context, conn *sql.DB, cfg *config.Config) error {
		r := repo.Repo{DB: conn}
		userID, err := resolveUserID(ctx, r)
		if err != nil {
			if err == repo.ErrNotFound {
				return fmt.Errorf("no users exist yet; run tt user create first")
			}
			return err
		}
		return fn(ctx, r, cfg, userID)
	})
}

// resolveUserID maps the --user email flag to a user id, falling back to the
// oldest user when the flag is empty.
func resolveUserID(ctx context.Context, r repo.Repo) (string, error) {
	email := strings.ToLower(strings.TrimSpace(viper.GetString("user")))
	if email != "" {
		u, err := r.GetUserByEmail(ctx, email)
		if err != nil {
			return "", err
		}
		return u.ID, nil
	}
	u, err := r.FirstUser(ctx)
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

func newLogger() zerolog.Logger {
	if viper.GetBool("json") {
		return zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
