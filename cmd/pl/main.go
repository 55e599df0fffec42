package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"policyline/internal/app"
	"policyline/internal/config"
	"policyline/internal/domain"
	"policyline/internal/engine"
	"policyline/internal/logging"
	"policyline/internal/server"
	"policyline/internal/stats"
)

var rootCmd = &cobra.Command{
	Use:   "pl",
	Short: "Policyline CLI",
	Long: `Policyline turns compliance policies into tasks and tracks them to completion.
- Policy: a document decomposed into rules; ingesting it creates one task per rule.
- Task: assigned to the rule's responsible role; moves CREATED -> ASSIGNED -> IN_PROGRESS -> COMPLETED, with ESCALATED as a detour.
- Escalation: hands a task to the next role on the configured path (Clerk -> Officer -> Admin by default).
- Audit trail: every creation, status change and escalation is recorded; view it with 'pl audit tail'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("POLICYLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("config", "", "config file (defaults to <workspace>/policyline.yml when present)")
	flags.String("driver", "", "storage driver: sqlite or postgres (overrides config)")
	flags.String("dsn", "", "storage DSN (overrides config)")
	flags.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	flags.Bool("json", false, "output JSON")
	for _, name := range []string{"workspace", "config", "driver", "dsn", "log-level", "json"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(policyCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(activityCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(configCmd())
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, func(ctx context.Context, a *app.App) error {
				if addr == "" {
					addr = a.Config.Server.Addr
				}
				if basePath == "" {
					basePath = a.Config.Server.BasePath
				}
				handler, err := server.New(server.Config{
					Engine:    a.Engine,
					BasePath:  basePath,
					Log:       a.Log,
					RateLimit: a.Config.Server.RateLimit,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				a.Log.Info("serving policyline API", "addr", addr, "base_path", basePath, "openapi", basePath+"/openapi.json", "docs", "/docs")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to server.base_path)")
	return cmd
}

// --- policy ---

func policyCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "policy",
		Short: "Ingest and inspect policies",
	}
	p.AddCommand(policyIngestCmd())
	p.AddCommand(policyListCmd())
	p.AddCommand(policyShowCmd())
	p.AddCommand(policyPartialCmd())
	return p
}

// ingestFile is the on-disk form of a policy, matching the ingest request body.
type ingestFile struct {
	PolicyID string        `json:"policy_id"`
	FileName *string       `json:"file_name,omitempty"`
	Rules    []domain.Rule `json:"rules"`
	ResetDB  bool          `json:"reset_db,omitempty"`
}

func readIngestFile(path string) (engine.IngestRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return engine.IngestRequest{}, err
	}
	var f ingestFile
	if err := json.Unmarshal(data, &f); err != nil {
		return engine.IngestRequest{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return engine.IngestRequest{PolicyID: f.PolicyID, FileName: f.FileName, Rules: f.Rules, ResetDB: f.ResetDB}, nil
}

func policyIngestCmd() *cobra.Command {
	var file string
	var reset bool
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest a policy JSON file and create its tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := readIngestFile(file)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("reset") {
				req.ResetDB = reset
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tasks, err := a.Engine.Ingest(ctx, req)
				if err != nil {
					return err
				}
				return printTasks(tasks)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "policy JSON file")
	cmd.Flags().BoolVar(&reset, "reset", false, "delete every policy, task and audit entry first")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func policyListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List policies, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ps, err := a.Engine.ListPolicies(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ps)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Policy", "File", "Rules", "Status", "Created"})
				for _, p := range ps {
					tw.AppendRow(table.Row{p.PolicyID, stringOrDash(p.FileName), p.RuleCount, p.Status, p.CreatedAt.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum policies")
	return cmd
}

func policyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <policy-id>",
		Short: "Show a policy with its completion stats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.GetPolicy(ctx, args[0])
				if err != nil {
					return err
				}
				st, err := a.Engine.PolicyStats(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(struct {
					Policy domain.Policy      `json:"policy"`
					Stats  stats.PolicyStats `json:"stats"`
				}{p, st})
			})
		},
	}
}

func policyPartialCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "partial",
		Short: "List policies stored with fewer tasks than rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ps, err := a.Engine.PartialPolicies(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ps)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Policy", "Rules", "Tasks", "Created"})
				for _, p := range ps {
					tw.AppendRow(table.Row{p.PolicyID, p.RuleCount, p.TaskCount, p.CreatedAt.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

// --- task ---

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "List and move tasks",
		Long:  "Tasks flow CREATED -> ASSIGNED -> IN_PROGRESS -> COMPLETED. ESCALATED can be entered by escalation and left to ASSIGNED or IN_PROGRESS. COMPLETED is final.",
	}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskStatusCmd())
	task.AddCommand(taskEscalateCmd())
	task.AddCommand(taskHistoryCmd())
	return task
}

func taskListCmd() *cobra.Command {
	var q engine.TaskQuery
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks visible to a role",
		RunE: func(cmd *cobra.Command, args []string) error {
			q.Role = domain.Role(role)
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tasks, err := a.Engine.ListTasks(ctx, q)
				if err != nil {
					return err
				}
				return printTasks(tasks)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", domain.RoleAdmin.String(), "viewing role; Admin sees every task")
	cmd.Flags().StringVar(&q.PolicyID, "policy", "", "policy id filter")
	cmd.Flags().StringVar(&q.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&q.Limit, "limit", 0, "maximum tasks (0 lists all)")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
}

func taskStatusCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "status <task-id> <new-status>",
		Short: "Move a task to a new status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.Transition(ctx, args[0], strings.ToUpper(args[1]), domain.Role(role))
				if err != nil {
					return err
				}
				return printTasks([]domain.Task{t})
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role performing the change")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func taskEscalateCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "escalate <task-id>",
		Short: "Hand a task to the next role on the escalation path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.Escalate(ctx, args[0], domain.Role(role))
				if err != nil {
					return err
				}
				return printTasks([]domain.Task{t})
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role requesting the escalation")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func taskHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <task-id>",
		Short: "Show a task's audit trail, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				logs, err := a.Engine.TaskHistory(ctx, args[0])
				if err != nil {
					return err
				}
				return printAudit(logs)
			})
		},
	}
}

// --- audit, activity, stats ---

func auditCmd() *cobra.Command {
	audit := &cobra.Command{Use: "audit", Short: "Inspect the audit trail"}
	var n int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				logs, err := a.Engine.AuditLogs(ctx, n)
				if err != nil {
					return err
				}
				return printAudit(logs)
			})
		},
	}
	tail.Flags().IntVar(&n, "n", engine.DefaultAuditLimit, "number of entries")
	audit.AddCommand(tail)
	return audit
}

func activityCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show the recent activity feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.RecentActivity(ctx, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"When", "Type", "Title", "Description", "User"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.Timestamp, it.Type, it.Title, it.Description, it.User})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", engine.DefaultActivityLimit, "number of entries")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats [policy-id]",
		Short: "Show global stats, or one policy's completion",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if len(args) == 1 {
					st, err := a.Engine.PolicyStats(ctx, args[0])
					if err != nil {
						return err
					}
					if viper.GetBool("json") {
						return printJSON(st)
					}
					printPolicyStats(st)
					return nil
				}
				g, err := a.Engine.GlobalStats(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(g)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Metric", "Value"})
				tw.AppendRows([]table.Row{
					{"total policies", g.TotalPolicies},
					{"active policies", g.ActivePolicies},
					{"completed policies", g.CompletedPolicies},
					{"pending policies", g.PendingPolicies},
					{"total tasks", g.TotalTasks},
					{"created", g.CreatedTasks},
					{"assigned", g.AssignedTasks},
					{"in progress", g.InProgressTasks},
					{"completed", g.CompletedTasks},
					{"escalated", g.EscalatedTasks},
				})
				tw.Render()
				return nil
			})
		},
	}
}

func printPolicyStats(st stats.PolicyStats) {
	fmt.Printf("%s: %d/%d tasks completed (%d%%)\n", st.PolicyID, st.CompletedTasks, st.TotalTasks, st.CompletionRatePercent)
	tw := newTable()
	tw.AppendHeader(table.Row{"Status", "Tasks"})
	for _, s := range domain.Statuses {
		tw.AppendRow(table.Row{s, st.TasksByStatus[s]})
	}
	tw.Render()
	roles := make([]string, 0, len(st.TasksByRole))
	for r := range st.TasksByRole {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	rw := newTable()
	rw.AppendHeader(table.Row{"Role", "Tasks"})
	for _, r := range roles {
		rw.AppendRow(table.Row{r, st.TasksByRole[r]})
	}
	rw.Render()
}

// --- config ---

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage policyline.yml"}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default policyline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(c)
			}
			b, err := c.Marshal()
			if err != nil {
				return err
			}
			fmt.Print(string(b))
			return nil
		},
	}
	cfg.AddCommand(initCmd, show)
	return cfg
}

// --- helpers ---

// loadConfig reads --config, or the workspace file when present, then applies
// flag and POLICYLINE_* overrides.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := viper.GetString("config"); path != "" {
		cfg, err = config.FromFile(path)
	} else {
		cfg, err = config.LoadOptional(viper.GetString("workspace"))
	}
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("driver"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := viper.GetString("dsn"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logging.New(cfg.Log, os.Stderr)
	a, err := app.Open(ctx, viper.GetString("workspace"), cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	return tw
}

func printTasks(tasks []domain.Task) error {
	if viper.GetBool("json") {
		return printJSON(tasks)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"Task", "Policy", "Rule", "Role", "Status", "Deadline"})
	for _, t := range tasks {
		tw.AppendRow(table.Row{t.TaskID, t.PolicyID, t.RuleID, t.AssignedRole, t.Status, t.Deadline})
	}
	tw.Render()
	return nil
}

func printAudit(logs []domain.AuditLog) error {
	if viper.GetBool("json") {
		return printJSON(logs)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Time", "Task", "Action", "By"})
	for _, l := range logs {
		tw.AppendRow(table.Row{l.ID, l.Timestamp.Format(time.RFC3339), l.TaskID, l.Action, l.PerformedByRole})
	}
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func stringOrDash(ptr *string) string {
	if ptr == nil || *ptr == "" {
		return "-"
	}
	return *ptr
}
