package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"tasklane/internal/app"
	"tasklane/internal/config"
	"tasklane/internal/db"
	"tasklane/internal/domain"
	"tasklane/internal/engine"
	"tasklane/internal/engine/hierarchy"
	"tasklane/internal/migrate"
	"tasklane/internal/queue"
	"tasklane/internal/repo"
	"tasklane/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "Tasklane CLI",
	Long: `Tasklane keeps tasks ordered across folders, views and workflow states.
- Folders bind tasks into a workflow; a task may be shared into several folders.
- Each (folder, state, view) scope holds a dense ordering the API renumbers on every move.
- Workflow states carry swimlane constraints (who may come from where) and approval gates.
- Approval requests leave through a durable queue; the service answers on /approval/events.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKLANE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("config", "", "config file (defaults to <workspace>/tasklane.yml)")
	flags.Bool("json", false, "output JSON")
	flags.BoolP("verbose", "v", false, "debug logging")
	flags.String("tenant", "", "tenant id for task commands")
	flags.String("user", "", "user id for task commands")
	flags.StringSlice("roles", nil, "roles for task commands")
	for _, name := range []string{"workspace", "config", "json", "verbose", "tenant", "user", "roles"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(workflowCmd())
	rootCmd.AddCommand(queueCmd())
}

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if viper.GetBool("verbose") {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg.Build()
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the approval queue workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger()
			if err != nil {
				return err
			}
			defer log.Sync()
			return withEngine(cmd.Context(), log, func(ctx context.Context, e engine.Engine) error {
				cfg := e.Config
				if addr == "" {
					addr = cfg.Server.Addr
				}
				if basePath == "" {
					basePath = cfg.Server.BasePath
				}
				authCfg := server.AuthConfig{
					JWTSecret:           viper.GetString("jwt-secret"),
					AllowHeaderIdentity: cfg.Server.AllowHeaderIdentity,
					ApprovalSecret:      firstNonEmpty(viper.GetString("approval-secret"), cfg.Approval.Secret),
					Log:                 log,
				}
				if authCfg.JWTSecret == "" && !authCfg.AllowHeaderIdentity {
					return fmt.Errorf("TASKLANE_JWT_SECRET is required unless server.allow_header_identity is set")
				}
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Log: log})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

				g, ctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					log.Info("serving tasklane api", zap.String("addr", addr), zap.String("base_path", basePath))
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
				g.Go(func() error {
					return workers(e, log).Run(ctx)
				})
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to server.base_path)")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	cmd.Flags().String("approval-secret", "", "shared secret for approval events and deliveries")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	_ = viper.BindPFlag("approval-secret", cmd.Flags().Lookup("approval-secret"))
	return cmd
}

// workers schedules the outbound forwarder and the return-queue consumer.
func workers(e engine.Engine, log *zap.Logger) queue.Scheduler {
	cfg := e.Config.Approval
	fwd := &queue.Forwarder{
		Queue:   e.Approvals.Queue,
		Queues:  []string{cfg.RequestQueue, cfg.CancelQueue},
		URL:     cfg.ServiceURL,
		Secret:  firstNonEmpty(viper.GetString("approval-secret"), cfg.Secret),
		Batch:   cfg.BatchSize,
		Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
	if cfg.ServiceURL == "" {
		log.Warn("approval.service_url is empty; outbound approval jobs stay queued")
	}
	consumer := queue.Consumer{Queue: e.Approvals.Queue, Name: cfg.ReturnQueue, Batch: cfg.BatchSize, Handle: e.Approvals.HandleJob}
	return queue.Scheduler{Log: log, Tasks: []queue.Task{
		{Name: "approval-forwarder", Schedule: cfg.DispatchEvery, Run: fwd.Dispatch},
		{Name: "approval-consumer", Schedule: cfg.ConsumeEvery, Run: func(ctx context.Context) {
			n, err := consumer.Drain(ctx)
			if err != nil {
				log.Error("consume approval events", zap.Error(err))
				return
			}
			if n > 0 {
				log.Debug("applied approval events", zap.Int("count", n))
			}
		}},
	}}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				v, err := migrate.Version(ctx, r.DB)
				if err != nil {
					return err
				}
				fmt.Printf("database %s at schema version %d\n", db.Path(viper.GetString("workspace")), v)
				return nil
			})
		},
	}
}

func seedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load tenants, spaces, workflows and folders from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := config.SeedFromFile(file)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := app.ApplySeed(ctx, r, seed); err != nil {
					return err
				}
				fmt.Printf("seeded %d tenant(s) from %s\n", len(seed.Tenants), file)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "seed YAML file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Inspect or create tasklane.yml"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default tasklane.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	})
	return cfg
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Read tasks (identity from --tenant/--user)"}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskTreeCmd())
	return task
}

func taskListCmd() *cobra.Command {
	var folderID string
	var opts engine.FolderTasksOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a folder's tasks in ledger order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), nil, func(ctx context.Context, e engine.Engine) error {
				entries, err := e.FolderTasks(ctx, requestContext(), folderID, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"State", "Index", "ID", "Title", "Assignees", "Status"})
				for _, en := range entries {
					tw.AppendRow(table.Row{en.Position.WorkflowStateID, en.Position.Index, en.Task.ID, en.Task.Title,
						strings.Join(en.Task.Assignees, ","), taskStatus(en.Task)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&folderID, "folder", "", "folder id")
	cmd.Flags().StringVar(&opts.WorkflowStateID, "state", "", "workflow state filter")
	cmd.Flags().StringVar(&opts.View, "view", "", "ledger view (defaults to the first configured view)")
	cmd.Flags().BoolVar(&opts.IncludeInactive, "all", false, "include archived and deleted tasks")
	_ = cmd.MarkFlagRequired("folder")
	return cmd
}

func taskStatus(t domain.Task) string {
	switch {
	case t.DeletedAt != nil:
		return "deleted"
	case t.ArchivedAt != nil:
		return "archived"
	}
	return "active"
}

func taskTreeCmd() *cobra.Command {
	var opts engine.TreeOptions
	cmd := &cobra.Command{
		Use:   "tree <id>",
		Short: "Show a task's subtree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), nil, func(ctx context.Context, e engine.Engine) error {
				root, err := e.TaskTree(ctx, requestContext(), args[0], opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(root)
				}
				printTree(root, "")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.FolderID, "folder", "", "folder id")
	cmd.Flags().BoolVar(&opts.AllChildren, "all", false, "every descendant instead of direct children")
	cmd.Flags().BoolVar(&opts.ArchivedChildren, "archived", false, "include archived descendants")
	cmd.Flags().BoolVar(&opts.DeletedChildren, "deleted", false, "include deleted descendants")
	return cmd
}

func printTree(n *hierarchy.TreeNode, indent string) {
	fmt.Printf("%s%s  %s [%s]\n", indent, n.Task.ID, n.Task.Title, taskStatus(n.Task))
	for _, c := range n.Children {
		printTree(c, indent+"  ")
	}
}

func workflowCmd() *cobra.Command {
	wf := &cobra.Command{Use: "workflow", Short: "Inspect workflows"}
	wf.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show a workflow's states and their constraints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), nil, func(ctx context.Context, e engine.Engine) error {
				w, err := e.GetWorkflow(ctx, requestContext(), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(w)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.SetTitle(fmt.Sprintf("%s (%s)", w.Name, w.ID))
				tw.AppendHeader(table.Row{"#", "ID", "Code", "Swimlanes", "Approval"})
				for _, st := range w.States {
					lanes := make([]string, 0, len(st.Constraints))
					for _, c := range st.Constraints {
						lanes = append(lanes, fmt.Sprintf("%s <- users:%s roles:%s",
							strings.Join(c.SwimlaneConstraint, "|"), strings.Join(c.UserConstraint, "|"), strings.Join(c.RoleConstraint, "|")))
					}
					gate := ""
					if ac := st.ApprovalConstraint; ac != nil {
						gate = fmt.Sprintf("accept=%s reject=%s", ac.AcceptState, ac.RejectState)
					}
					tw.AppendRow(table.Row{st.Index, st.ID, st.Code, strings.Join(lanes, "\n"), gate})
				}
				tw.Render()
				return nil
			})
		},
	})
	return wf
}

func queueCmd() *cobra.Command {
	q := &cobra.Command{Use: "queue", Short: "Inspect and drain the approval job queues"}
	q.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Count jobs per queue and status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				stats, err := r.JobStats(ctx, r.DB)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(stats)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Queue", "Status", "Count"})
				for _, s := range stats {
					tw.AppendRow(table.Row{s.Queue, s.Status, s.Count})
				}
				tw.Render()
				return nil
			})
		},
	})
	q.AddCommand(&cobra.Command{
		Use:   "drain",
		Short: "Apply every due approval event from the return queue once",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger()
			if err != nil {
				return err
			}
			defer log.Sync()
			return withEngine(cmd.Context(), log, func(ctx context.Context, e engine.Engine) error {
				n, err := queue.Consumer{
					Queue:  e.Approvals.Queue,
					Name:   e.Config.Approval.ReturnQueue,
					Batch:  e.Config.Approval.BatchSize,
					Handle: e.Approvals.HandleJob,
				}.Drain(ctx)
				fmt.Printf("handled %d job(s)\n", n)
				return err
			})
		},
	})
	return q
}

func requestContext() app.RequestContext {
	return app.RequestContext{
		TenantID: viper.GetString("tenant"),
		UserID:   viper.GetString("user"),
		Roles:    viper.GetStringSlice("roles"),
	}
}

func withEngine(ctx context.Context, log *zap.Logger, fn func(context.Context, engine.Engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return withRepo(ctx, func(ctx context.Context, r repo.Repo) error {
		return fn(ctx, engine.New(r.DB, cfg, log))
	})
}

// loadConfig reads --config when given, else the workspace file or defaults.
func loadConfig() (*config.Config, error) {
	if path := viper.GetString("config"); path != "" {
		return config.FromFile(path)
	}
	return config.LoadOptional(viper.GetString("workspace"))
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
