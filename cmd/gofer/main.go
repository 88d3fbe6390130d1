package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gofer/internal/app"
	"gofer/internal/db"
	"gofer/internal/dispatch"
	"gofer/internal/domain"
	"gofer/internal/notify"
	"gofer/internal/repo"
	"gofer/internal/schedule"
	"gofer/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "gofer",
	Short: "Gofer CLI",
	Long: `Gofer tracks requests for help and the tasks inside them.
- Workspace: your .gofer directory holding only the database; settings live in gofer.yml.
- Request: somebody asking for help, split into ordered tasks.
- Task: one unit of work; claim it to take accountability, complete it when done.
- Schedules: stored templates that spawn a fresh request on an interval.
- Reports: who created and who completed requests over the recent window.
- Event log: diary of every transition, view with 'gofer log tail'.`,
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
	viper.SetEnvPrefix("GOFER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor", "local-user", "invoking chat identity")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor"))
}

func registerCommands() {
	rootCmd.AddCommand(requestCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func requestCmd() *cobra.Command {
	req := &cobra.Command{Use: "request", Short: "Manage requests"}
	req.AddCommand(requestSubmitCmd())
	req.AddCommand(requestShowCmd())
	req.AddCommand(requestListCmd())
	req.AddCommand(requestRepeatCmd())
	return req
}

func requestSubmitCmd() *cobra.Command {
	var title, tasks, channel string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a request with its tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if title == "" {
				return fmt.Errorf("--title required")
			}
			return withDispatcher(cmd.Context(), func(ctx context.Context, d *dispatch.Dispatcher) error {
				res, err := dispatchEvent(ctx, d, "request", map[string]any{
					"title":      title,
					"tasks":      tasks,
					"channel_id": channel,
				})
				if err != nil {
					return err
				}
				return printResponse(res)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "request title")
	cmd.Flags().StringVar(&tasks, "tasks", "", "semicolon-separated task titles, {N x} prefix repeats")
	cmd.Flags().StringVar(&channel, "channel", "", "origin channel id")
	return cmd
}

func requestShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <request-id>",
		Short: "Show a request with its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				view, err := a.Engine.View(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(view)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Task", "Assignee", "Started", "Completed"})
				for _, tv := range view.Tasks {
					assignee := ""
					if tv.Assignee != nil {
						assignee = tv.Assignee.ExternalID
					}
					tw.AppendRow(table.Row{
						tv.Task.Weight, tv.Task.Title, assignee,
						strOrEmpty(tv.Task.StartedAt), strOrEmpty(tv.Task.CompletedAt),
					})
				}
				fmt.Printf("%s (by %s, %s)\n", view.Request.Title, view.Creator.ExternalID, view.Request.CreatedAt)
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func requestListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListRequests(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Created By", "Created At"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.Title, r.CreatedBy, r.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func requestRepeatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repeat <request-id>",
		Short: "Clone a request with fresh open tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDispatcher(cmd.Context(), func(ctx context.Context, d *dispatch.Dispatcher) error {
				res, err := dispatchEvent(ctx, d, "repeat-request", map[string]any{"request_id": args[0]})
				if err != nil {
					return err
				}
				return printResponse(res)
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskAddCmd())
	task.AddCommand(taskClaimCmd())
	task.AddCommand(taskCompleteCmd())
	task.AddCommand(taskReassignCmd())
	return task
}

func taskAddCmd() *cobra.Command {
	var requestID, title string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Append a task to a request",
		RunE: func(cmd *cobra.Command, args []string) error {
			if requestID == "" || title == "" {
				return fmt.Errorf("--request and --title required")
			}
			return withDispatcher(cmd.Context(), func(ctx context.Context, d *dispatch.Dispatcher) error {
				res, err := dispatchEvent(ctx, d, "task-add", map[string]any{
					"request_id": requestID,
					"title":      title,
				})
				if err != nil {
					return err
				}
				return printResponse(res)
			})
		},
	}
	cmd.Flags().StringVar(&requestID, "request", "", "request id")
	cmd.Flags().StringVar(&title, "title", "", "task title")
	return cmd
}

func taskClaimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claim <task-id>",
		Short: "Claim a task for the invoking actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDispatcher(cmd.Context(), func(ctx context.Context, d *dispatch.Dispatcher) error {
				res, err := dispatchEvent(ctx, d, "claim-task", map[string]any{"task_id": args[0]})
				if err != nil {
					return err
				}
				return printResponse(res)
			})
		},
	}
	return cmd
}

func taskCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <task-id>",
		Short: "Complete a claimed task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDispatcher(cmd.Context(), func(ctx context.Context, d *dispatch.Dispatcher) error {
				res, err := dispatchEvent(ctx, d, "complete-task", map[string]any{"task_id": args[0]})
				if err != nil {
					return err
				}
				return printResponse(res)
			})
		},
	}
	return cmd
}

func taskReassignCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "reassign <task-id>",
		Short: "Hand a task to another actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if to == "" {
				return fmt.Errorf("--to required")
			}
			return withDispatcher(cmd.Context(), func(ctx context.Context, d *dispatch.Dispatcher) error {
				res, err := dispatchEvent(ctx, d, "reassign-task", map[string]any{
					"task_id":  args[0],
					"assignee": to,
				})
				if err != nil {
					return err
				}
				return printResponse(res)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "new assignee external id")
	return cmd
}

func reportCmd() *cobra.Command {
	rep := &cobra.Command{Use: "report", Short: "Leaderboards over the recent window"}
	rep.AddCommand(reportKindCmd("created", "Requests created per user"))
	rep.AddCommand(reportKindCmd("completed", "Requests completed per user"))
	return rep
}

func reportKindCmd(kind, short string) *cobra.Command {
	return &cobra.Command{
		Use:   kind,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDispatcher(cmd.Context(), func(ctx context.Context, d *dispatch.Dispatcher) error {
				res, err := dispatchEvent(ctx, d, "report", map[string]any{"kind": kind})
				if err != nil {
					return err
				}
				return printResponse(res)
			})
		},
	}
}

func scheduleCmd() *cobra.Command {
	sch := &cobra.Command{Use: "schedule", Short: "Manage request schedules"}
	sch.AddCommand(scheduleAddCmd())
	sch.AddCommand(scheduleListCmd())
	sch.AddCommand(scheduleDisableCmd())
	return sch
}

func scheduleAddCmd() *cobra.Command {
	var title, tasks, channel string
	var intervalSeconds int
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Store a request template that spawns on an interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			if title == "" {
				return fmt.Errorf("--title required")
			}
			if intervalSeconds <= 0 {
				return fmt.Errorf("--interval must be positive")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				invoker, err := a.Dispatcher.Resolver.Resolve(ctx, viper.GetString("actor"))
				if err != nil {
					return err
				}
				s, err := a.Engine.CreateSchedule(ctx, invoker.ID, channel, title, dispatch.ParseTasks(tasks), intervalSeconds)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "request title")
	cmd.Flags().StringVar(&tasks, "tasks", "", "semicolon-separated task titles")
	cmd.Flags().StringVar(&channel, "channel", "", "target channel id")
	cmd.Flags().IntVar(&intervalSeconds, "interval", 0, "seconds between spawns")
	return cmd
}

func scheduleListCmd() *cobra.Command {
	var enabledOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListSchedules(ctx, enabledOnly)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Interval (s)", "Disabled At"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Title, s.IntervalSeconds, strOrEmpty(s.DisabledAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&enabledOnly, "enabled", false, "only enabled schedules")
	return cmd
}

func scheduleDisableCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disable <schedule-id>",
		Short: "Stop a schedule from spawning",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if _, err := a.Engine.Repo.GetSchedule(ctx, args[0]); err != nil {
					return err
				}
				if err := a.Engine.Repo.DisableSchedule(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("disabled", args[0])
				return nil
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				raw := uuid.NewString() + uuid.NewString()
				k := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   actor,
					Name:      name,
					KeyHash:   repo.HashAPIKey(raw),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := a.Engine.Repo.InsertAPIKey(ctx, k); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"id": k.ID, "actor_id": k.ActorID, "key": raw})
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor external id (defaults to --actor flag)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent lifecycle events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Engine.Repo.ListEvents(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Type", "Entity", "Actor"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.TS, e.Type, e.EntityKind + "/" + e.EntityID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devAuth bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server, schedule runner, and webhook poster",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Open(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer a.Close()
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("GOFER_JWT_SECRET"),
				AllowLegacyActorHeader: devAuth,
			}
			if authCfg.JWTSecret == "" && !devAuth {
				return fmt.Errorf("GOFER_JWT_SECRET is required for bearer auth (or pass --dev-auth)")
			}
			handler, err := server.New(server.Config{
				Engine:     a.Engine,
				Dispatcher: a.Dispatcher,
				Reporter:   a.Reporter,
				AppConfig:  a.Config,
				BasePath:   basePath,
				Auth:       authCfg,
			})
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			interval := time.Duration(a.Config.Schedule.PollIntervalSeconds) * time.Second
			go schedule.New(a.Engine, interval).Run(ctx)
			notify.NewPoster(a.Reporter, a.Config).Start(ctx)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-ctx.Done()
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				srv.Shutdown(shutdownCtx)
			}()
			fmt.Printf("Serving Gofer API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8787", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&devAuth, "dev-auth", false, "accept X-Actor-Id header instead of tokens")
	return cmd
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func withDispatcher(ctx context.Context, fn func(context.Context, *dispatch.Dispatcher) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		return fn(ctx, a.Dispatcher)
	})
}

func dispatchEvent(ctx context.Context, d *dispatch.Dispatcher, name string, args map[string]any) (dispatch.Response, error) {
	res, err := d.Handle(ctx, dispatch.Event{
		Name:              name,
		Args:              args,
		InvokerExternalID: viper.GetString("actor"),
	})
	if err != nil {
		if res.Content != "" {
			fmt.Println(res.Content)
		}
		return dispatch.Response{}, err
	}
	return res, nil
}

func printResponse(res dispatch.Response) error {
	if viper.GetBool("json") {
		return printJSON(res)
	}
	fmt.Println(res.Content)
	for _, line := range res.Lines {
		fmt.Println(line)
	}
	return nil
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

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
