package main

import (
	"context"
	"database/sql"
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

	"brosync/internal/config"
	"brosync/internal/db"
	"brosync/internal/domain"
	"brosync/internal/migrate"
	"brosync/internal/registry"
	"brosync/internal/repo"
	"brosync/internal/runner"
	"brosync/internal/server"
	"brosync/internal/sync"
)

var rootCmd = &cobra.Command{
	Use:   "brosync",
	Short: "BRO registry synchronization",
	Long: `brosync brokers groundwater registrations between the local domain
database and the national BRO registry. Local mutations append events; the
sync command turns pending events into registry deliveries and tracks each
one through build, validate, deliver, and poll.`,
}

func main() {
	cobra.OnInitialize(initEnv)
	addPersistentFlags()
	registerCommands()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCodeFor(err))
	}
}

func initEnv() {
	for _, key := range []string{"REGISTRY_TOKEN", "REGISTRY_PROJECT_ID", "REGISTRY_DEMO", "DB_URL", "XML_DIR"} {
		_ = viper.BindEnv(strings.ToLower(key), key)
	}
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().String("config", "brosync.yml", "config file path")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func registerCommands() {
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(requeueCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
}

// parkedErr marks a pass where at least one delivery entered the
// permanently failed state; the process still exits nonzero so cron-style
// schedulers notice.
type parkedErr struct{ n int }

func (e parkedErr) Error() string {
	return fmt.Sprintf("%d delivery(s) permanently failed, inspect with brosync status", e.n)
}

func exitCodeFor(err error) int {
	var pe parkedErr
	if errors.As(err, &pe) {
		return runner.ExitParked
	}
	return runner.ExitFatal
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return cfg, err
	}
	var demo *bool
	if viper.IsSet("registry_demo") && viper.GetString("registry_demo") != "" {
		v := viper.GetBool("registry_demo")
		demo = &v
	}
	return cfg.Apply(config.Overrides{
		Token:     viper.GetString("registry_token"),
		ProjectID: viper.GetString("registry_project_id"),
		Demo:      demo,
		DBURL:     viper.GetString("db_url"),
		XMLDir:    viper.GetString("xml_dir"),
	}), nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zap.NewDevelopmentEncoderConfig().EncodeTime
	return cfg.Build()
}

func openDatabase(cfg config.Config) (*sql.DB, error) {
	conn, err := db.Open(cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func parseKinds(arg string) ([]domain.ObjectKind, error) {
	if arg == "" || arg == "all" {
		return nil, nil
	}
	var kinds []domain.ObjectKind
	for _, part := range strings.Split(arg, ",") {
		part = strings.TrimSpace(part)
		if !domain.ValidKind(part) {
			return nil, fmt.Errorf("unknown kind %q (want gmw, gld, frd, gmn, or all)", part)
		}
		kinds = append(kinds, domain.ObjectKind(part))
	}
	return kinds, nil
}

func syncCmd() *cobra.Command {
	var kindArg string
	var object int64
	var checkOnly, demo, loop, verbose bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass (or loop)",
		Long: `Seeds delivery rows from pending events and advances each pending
delivery one step: build the request document, validate it against the portal,
upload it, or poll its status. Run repeatedly (or with --loop) until
everything is approved.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("demo") {
				cfg.Registry.Demo = demo
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			kinds, err := parseKinds(kindArg)
			if err != nil {
				return err
			}
			log, err := newLogger(verbose)
			if err != nil {
				return err
			}
			defer log.Sync()

			conn, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer conn.Close()

			client := registry.New(cfg.Registry.ProjectID, cfg.Registry.Token, cfg.Registry.Demo)
			client.Timeout = cfg.RegistryTimeout()
			r := runner.Runner{
				Cfg:       cfg,
				Repo:      repo.New(conn),
				Store:     sync.NewStore(conn),
				Client:    client,
				Log:       log,
				Kinds:     kinds,
				CheckOnly: checkOnly,
				Object:    object,
			}
			if loop {
				return r.Loop(cmd.Context())
			}
			sum, err := r.Pass(cmd.Context())
			if err != nil {
				return err
			}
			log.Info("sync pass finished",
				zap.Int("seeded", sum.Seeded),
				zap.Int("stepped", sum.Stepped),
				zap.Int("progressed", sum.Progressed),
				zap.Int("parked", sum.Parked))
			if sum.Parked > 0 {
				return parkedErr{n: sum.Parked}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kindArg, "kind", "all", "object kinds to sync (gmw, gld, frd, gmn, all)")
	cmd.Flags().Int64Var(&object, "object", 0, "limit to one local object id")
	cmd.Flags().BoolVar(&checkOnly, "check-only", false, "build and validate only, upload nothing")
	cmd.Flags().BoolVar(&demo, "demo", false, "deliver to the demo portal")
	cmd.Flags().BoolVar(&loop, "loop", false, "keep running passes until interrupted")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	return cmd
}

func statusCmd() *cobra.Command {
	var kindArg string
	var limit int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sync log rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if kindArg != "" && kindArg != "all" && !domain.ValidKind(kindArg) {
				return fmt.Errorf("unknown kind %q", kindArg)
			}
			if kindArg == "all" {
				kindArg = ""
			}
			conn, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer conn.Close()

			store := sync.NewStore(conn)
			rows, err := store.List(cmd.Context(), domain.ObjectKind(kindArg), limit)
			if err != nil {
				return err
			}
			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"ID", "KIND", "OBJECT", "MESSAGE", "STATE", "ATTEMPTS", "BRO ID", "LAST ERROR", "CHANGED"})
			for _, l := range rows {
				t.AppendRow(table.Row{
					l.ID, l.ObjectKind, l.ObjectRef, l.MessageType, l.ProcessStatus,
					l.DeliveryAttempts, strOrDash(l.BroID), truncate(strOrDash(l.LastError), 60), shortTime(l.LastChanged),
				})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&kindArg, "kind", "", "filter by object kind")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func requeueCmd() *cobra.Command {
	var row int64
	cmd := &cobra.Command{
		Use:   "requeue",
		Short: "Reset a permanently failed delivery",
		RunE: func(cmd *cobra.Command, args []string) error {
			if row == 0 {
				return fmt.Errorf("--row required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			conn, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer conn.Close()

			store := sync.NewStore(conn)
			l, err := store.Requeue(cmd.Context(), row)
			if err != nil {
				return err
			}
			fmt.Printf("row %d (%s %s for %s/%d) requeued, state %s\n",
				l.ID, l.MessageType, l.DeliveryType, l.ObjectKind, l.ObjectRef, l.ProcessStatus)
			return nil
		},
	}
	cmd.Flags().Int64Var(&row, "row", 0, "sync log row id")
	_ = cmd.MarkFlagRequired("row")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API for ledger inspection",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Listen = addr
			}
			conn, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer conn.Close()

			handler, err := server.New(server.Config{
				Store: sync.NewStore(conn),
				Token: cfg.Server.Token,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Listen, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving brosync API on http://%s/v1 (OpenAPI at /openapi.json)\n", cfg.Server.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			conn, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer conn.Close()
			fmt.Println("database is up to date")
			return nil
		},
	}
}

// --- helpers ---

func strOrDash(v *string) string {
	if v == nil || *v == "" {
		return "-"
	}
	return *v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func shortTime(ts string) string {
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		return t.Local().Format("2006-01-02 15:04")
	}
	return ts
}
