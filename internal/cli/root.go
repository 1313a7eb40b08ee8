// Package cli is the wgpanel command tree. With no subcommand it runs the
// terminal panel; subcommands are scriptable one-shot calls against the same
// backend.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/g960059/wgpanel/internal/appclient"
	"github.com/g960059/wgpanel/internal/composer"
	"github.com/g960059/wgpanel/internal/config"
	"github.com/g960059/wgpanel/internal/db"
	"github.com/g960059/wgpanel/internal/live"
	"github.com/g960059/wgpanel/internal/logging"
	"github.com/g960059/wgpanel/internal/panel"
	"github.com/g960059/wgpanel/internal/tui"
)

// Version is stamped at build time with -ldflags "-X".
var Version = "dev"

type App struct {
	ConfigPath string
	Server     string
	User       string
	Verbose    bool
	JSON       bool

	// EnvFile is the dotenv file layered under the environment.
	EnvFile string

	Config config.Config
	Logger *zap.Logger
	Client *appclient.Client
}

func NewRootCmd() *cobra.Command {
	app := &App{EnvFile: ".env"}

	cmd := &cobra.Command{
		Use:           "wgpanel",
		Short:         "Control panel for multi-agent working groups",
		SilenceUsage:  true,
		SilenceErrors: true,
		Example: strings.TrimSpace(`
  # Open the interactive panel
  wgpanel

  # Scriptable commands
  wgpanel groups list
  wgpanel send g-1 --to @peers "please review the plan"
  wgpanel tail g-1 --follow
`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd, app)
		},
	}

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		if err := app.setup(cmd); err != nil {
			return writeErr(cmd, err)
		}
		return nil
	}
	cmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if app.Logger != nil {
			_ = app.Logger.Sync()
		}
	}

	cmd.PersistentFlags().StringVar(&app.ConfigPath, "config", envOr("WGPANEL_CONFIG", config.DefaultPath()), "Path to the YAML config file")
	cmd.PersistentFlags().StringVar(&app.Server, "server", "", "Backend base URL (overrides server_url)")
	cmd.PersistentFlags().StringVar(&app.User, "user", "", "Identity sent as \"by\" on mutations (overrides user)")
	cmd.PersistentFlags().BoolVarP(&app.Verbose, "verbose", "v", false, "Debug logging")
	cmd.PersistentFlags().BoolVar(&app.JSON, "json", false, "Print JSON instead of text")

	cmd.AddCommand(newGroupsCmd(app))
	cmd.AddCommand(newActorsCmd(app))
	cmd.AddCommand(newSendCmd(app))
	cmd.AddCommand(newTailCmd(app))
	cmd.AddCommand(newContextCmd(app))
	cmd.AddCommand(newDraftsCmd(app))
	cmd.AddCommand(newVersionCmd(app))

	return cmd
}

// setup resolves configuration, then builds the logger and the API client.
// The panel owns the terminal, so it logs to the configured file.
func (app *App) setup(cmd *cobra.Command) error {
	cfg, err := config.LoadWithEnvFile(app.ConfigPath, app.EnvFile)
	if err != nil {
		return err
	}
	if s := strings.TrimSpace(app.Server); s != "" {
		cfg.ServerURL = s
	}
	if u := strings.TrimSpace(app.User); u != "" {
		cfg.User = u
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	app.Config = cfg

	logOpts := logging.Options{Level: cfg.LogLevel, Console: true, Verbose: app.Verbose}
	if cmd == cmd.Root() {
		logOpts = logging.Options{Level: cfg.LogLevel, Path: cfg.LogPath, Verbose: app.Verbose}
	} else if !app.Verbose {
		logOpts.Level = "warn"
	}
	logger, err := logging.New(logOpts)
	if err != nil {
		return err
	}
	app.Logger = logger
	app.Client = appclient.New(cfg.ServerURL, cfg.User,
		appclient.WithUnaryTimeout(cfg.RequestTimeout),
		appclient.WithLogger(logger),
	)
	return nil
}

func (app *App) followOptions() appclient.FollowOptions {
	return appclient.FollowOptions{
		FailureThreshold: app.Config.StreamFailureThreshold,
		PollInterval:     app.Config.PollInterval,
		PollLines:        app.Config.TailLines,
		ResumeInterval:   app.Config.ResumeInterval,
		RetryMinBackoff:  app.Config.RetryMinBackoff,
		RetryMaxBackoff:  app.Config.RetryMaxBackoff,
	}
}

func (app *App) openStore(ctx context.Context) (*db.Store, error) {
	store, err := db.Open(ctx, app.Config.DBPath)
	if err != nil {
		return nil, err
	}
	if err := db.ApplyMigrations(ctx, store.DB()); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func runTUI(cmd *cobra.Command, app *App) error {
	ctx := cmd.Context()
	store, err := app.openStore(ctx)
	if err != nil {
		return writeErr(cmd, err)
	}
	defer store.Close()

	metrics, stopMetrics, err := app.serveMetrics()
	if err != nil {
		return writeErr(cmd, err)
	}
	defer stopMetrics()

	comp := composer.New(app.Client, composer.Options{
		MaxFileBytes: app.Config.MaxAttachmentBytes,
		Drafts:       store,
		Logger:       app.Logger,
	})
	p := panel.New(panel.Deps{
		API:     app.Client,
		Drafts:  comp,
		Prefs:   store,
		Metrics: metrics,
		Logger:  app.Logger,
		Options: panel.Options{
			TailLines: app.Config.TailLines,
			BufferCap: app.Config.BufferCap,
			Debounce:  app.Config.ContextDebounce,
			Follow:    app.followOptions(),
			NoticeTTL: app.Config.NoticeTTL,
		},
	})
	defer p.Close()

	app.Logger.Info("panel starting",
		zap.String("server_url", app.Config.ServerURL),
		zap.String("user", app.Config.User),
	)
	return tui.Run(ctx, tui.Options{Store: p, Composer: comp, Logger: app.Logger})
}

// serveMetrics exposes live-channel counters on metrics_addr. With no address
// the collectors still count but nothing is served.
func (app *App) serveMetrics() (*live.Metrics, func(), error) {
	addr := strings.TrimSpace(app.Config.MetricsAddr)
	if addr == "" {
		return live.NewMetrics(nil), func() {}, nil
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := live.NewMetrics(reg)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen metrics %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	app.Logger.Info("metrics listening", zap.String("addr", ln.Addr().String()))
	return metrics, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

// writeOut prints v as one JSON document with --json, or runs text otherwise.
func writeOut(cmd *cobra.Command, app *App, v any, text func() error) error {
	if !app.JSON {
		return text()
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return writeErr(cmd, err)
	}
	out := cmd.OutOrStdout()
	_, _ = out.Write(raw)
	_, _ = fmt.Fprintln(out)
	return nil
}

func writeErr(cmd *cobra.Command, err error) error {
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", describeErr(err))
	return err
}

// describeErr adds the backend error code so scripts can match on it.
func describeErr(err error) string {
	var re *appclient.RequestError
	if errors.As(err, &re) && re.Code != "" && !strings.Contains(err.Error(), re.Code) {
		return fmt.Sprintf("%s (%s)", err.Error(), re.Code)
	}
	return err.Error()
}
