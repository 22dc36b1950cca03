package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"alertline/internal/app"
	"alertline/internal/config"
	"alertline/internal/db"
	"alertline/internal/domain"
	"alertline/internal/events"
	"alertline/internal/flow"
	"alertline/internal/repo"
	"alertline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "alertline",
	Short: "Conversational alert rule builder",
	Long: `alertline turns a Spanish conversation into a validated alert rule.
- Draft: the rule being built for one session; it lives in memory and expires after draft.ttl.
- Turn: one message. alertline extracts fields, asks for what is missing, and shows a summary.
- Confirmation: nothing is stored until you answer "sí" to the summary.
- Domains: the inventory rules target; register them with 'alertline domains add'.
- Rules: stored definitions with targets and a schedule job; list them with 'alertline rules list'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := db.EnsureWorkspace(viper.GetString("workspace")); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("ALERTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "local-user", "user identifier")
	rootCmd.PersistentFlags().String("session-id", "", "conversation session id (default: random)")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level: debug, info, warn, error")
	for _, name := range []string{"workspace", "json", "user-id", "session-id", "log-level"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(rulesCmd())
	rootCmd.AddCommand(domainsCmd())
	rootCmd.AddCommand(configCmd())
}

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, viper.GetString("workspace"), nil, newLogger())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Build a rule interactively",
		Long:  "Reads one message per line from stdin. The draft lives for this process only; type /salir or send EOF to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				sessionID := viper.GetString("session-id")
				if sessionID == "" {
					sessionID = uuid.NewString()
				}
				return chat(ctx, a, viper.GetString("user-id"), sessionID, cmd.InOrStdin(), cmd.OutOrStdout())
			})
		},
	}
}

func chat(ctx context.Context, a *app.App, userID, sessionID string, in io.Reader, out io.Writer) error {
	asJSON := viper.GetBool("json")
	if !asJSON {
		fmt.Fprintln(out, "Describe la alerta que quieres crear (/salir para terminar).")
	}
	scanner := bufio.NewScanner(in)
	for {
		if !asJSON {
			fmt.Fprint(out, "> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/salir" {
			return nil
		}
		reply := a.Engine.ProcessTurn(ctx, userID, sessionID, line)
		if asJSON {
			b, _ := json.Marshal(reply)
			fmt.Fprintln(out, string(b))
			continue
		}
		fmt.Fprintln(out, reply.Message)
		if reply.State == flow.Done || reply.State == flow.Cancelled {
			fmt.Fprintln(out)
		}
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin, allowUserHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if !cmd.Flags().Changed("addr") {
					addr = a.Config.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") {
					basePath = a.Config.Server.BasePath
				}
				if !cmd.Flags().Changed("allow-user-header") {
					allowUserHeader = a.Config.Server.AllowUserHeader
				}
				authCfg := server.AuthConfig{
					JWTSecret:       viper.GetString("jwt-secret"),
					AllowUserHeader: allowUserHeader,
					DevLogin:        devLogin,
					Logger:          a.Logger,
				}
				if authCfg.JWTSecret == "" && !authCfg.AllowUserHeader {
					return fmt.Errorf("ALERTLINE_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					Repo:     a.Repo,
					Metrics:  a.Metrics,
					BasePath: basePath,
					Auth:     authCfg,
					Logger:   a.Logger,
				})
				if err != nil {
					return err
				}
				go server.NewDispatcher(a.DB, a.Config.Webhooks, a.Logger).Run(ctx)

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				a.Logger.Info("serving", slog.String("addr", addr), slog.String("base_path", basePath), slog.Int("webhooks", len(a.Config.Webhooks)))
				fmt.Printf("Serving alertline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path (default from config)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST <base>/auth/dev/login to mint tokens (development only)")
	cmd.Flags().BoolVar(&allowUserHeader, "allow-user-header", false, "accept unauthenticated X-User-Id (development only)")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens (env ALERTLINE_JWT_SECRET)")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

func rulesCmd() *cobra.Command {
	rules := &cobra.Command{Use: "rules", Short: "Inspect stored rules"}
	rules.AddCommand(rulesListCmd())
	rules.AddCommand(rulesShowCmd())
	rules.AddCommand(rulesEventsCmd())
	return rules
}

func rulesListCmd() *cobra.Command {
	var f repo.RuleFilter
	var enabled string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rules, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if enabled != "" {
				v, err := strconv.ParseBool(enabled)
				if err != nil {
					return fmt.Errorf("--enabled must be true or false")
				}
				f.Enabled = &v
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Repo.ListRules(ctx, viper.GetString("user-id"), f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Type", "Severity", "Enabled", "Created"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.Name, r.RuleType, r.Severity, r.IsEnabled, r.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.RuleType, "rule-type", "", "expiry or risk")
	cmd.Flags().StringVar(&enabled, "enabled", "", "true or false")
	cmd.Flags().IntVar(&f.Limit, "limit", repo.DefaultRuleLimit, "page size (1-200)")
	cmd.Flags().IntVar(&f.Offset, "offset", 0, "rows to skip")
	return cmd
}

func rulesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <rule-id>",
		Short: "Show a rule with its targets and schedule job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				detail, err := a.Repo.GetRule(ctx, viper.GetString("user-id"), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(detail)
				}
				printRuleDetail(detail)
				return nil
			})
		},
	}
}

func printRuleDetail(d domain.RuleDetail) {
	fmt.Printf("%s  %s (%s, %s)\n", d.Rule.ID, d.Rule.Name, d.Rule.RuleType, d.Rule.Severity)
	fmt.Printf("schedule: %s\n", d.Rule.ScheduleJSON)
	if d.Job != nil {
		fmt.Printf("job: %s (%s)\n", d.Job.ID, d.Job.Status)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Domain ID", "Domain"})
	for _, t := range d.Targets {
		tw.AppendRow(table.Row{t.DomainID, t.DomainName})
	}
	tw.Render()
}

func rulesEventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events <rule-id>",
		Short: "Show a rule's event log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if _, err := a.Repo.GetRule(ctx, viper.GetString("user-id"), args[0]); err != nil {
					return err
				}
				evts, err := events.List(ctx, a.DB, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Payload"})
				for _, e := range evts {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func domainsCmd() *cobra.Command {
	domains := &cobra.Command{Use: "domains", Short: "Manage the domain inventory"}
	domains.AddCommand(domainsAddCmd())
	domains.AddCommand(domainsListCmd())
	return domains
}

func domainsAddCmd() *cobra.Command {
	var tags []string
	var inactive bool
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a domain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := domain.DomainActive
			if inactive {
				status = domain.DomainInactive
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				d, err := a.Repo.AddDomain(ctx, viper.GetString("user-id"), args[0], tags, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				fmt.Printf("Domain %s registered (%s)\n", d.Name, d.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag (repeatable)")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "register as inactive")
	return cmd
}

func domainsListCmd() *cobra.Command {
	var filter string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List domains",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Repo.ListDomains(ctx, viper.GetString("user-id"), filter)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Tags"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.ID, d.Name, d.Status, strings.Join(d.Tags, ",")})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "case-insensitive name filter")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage alertline.yml",
		Long:  "alertline.yml sets the draft TTL, DSL defaults, server options and outbound webhooks. Missing keys fall back to the defaults printed by 'config init'.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default alertline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate alertline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
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
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
