package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"fedifaves/internal/config"
	"fedifaves/internal/feed"
	"fedifaves/internal/masto"
	"fedifaves/internal/secret"
	"fedifaves/internal/session"
	"fedifaves/internal/state"
	"fedifaves/internal/web"
)

// oauthScopes is what the dashboard asks an instance for. Favorites and
// bookmarks are readable with "read"; nothing here writes.
var oauthScopes = []string{"read"}

const shutdownTimeout = 5 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr     string
	Database string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dashboard server",
		Long: `Start the fedifaves HTTP server.

The server opens the SQLite slot store (creating it if it doesn't
exist), starts the single-writer session engine, and serves the
dashboard under the configured base path.

FEDIFAVES_SECRET_KEY must be set; generate one with "fedifaves keygen".

Example:
  fedifaves serve --addr 127.0.0.1:8080 --db ./fedifaves.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Addr != "" {
		cfg.Addr = opts.Addr
	}
	if opts.Database != "" {
		cfg.DBPath = opts.Database
	}

	logLevel := slog.LevelInfo
	if opts.Verbose || cfg.Debug {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))

	codec, err := secret.NewCodec(cfg.SecretKey)
	if err != nil {
		return WrapExitError(ExitCommandError, "bad FEDIFAVES_SECRET_KEY", err)
	}

	slog.Info("opening database", "path", cfg.DBPath)
	st, err := state.Open(cfg.DBPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	client := masto.NewClient(cfg.AppName)
	eng := session.New(st, codec, client, feed.New(client), session.Config{
		AppName:   cfg.AppName,
		Scopes:    oauthScopes,
		BasePath:  cfg.BasePath,
		PublicURL: cfg.PublicURL,
	})

	srv, err := web.New(eng, st, cfg.BasePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build server", err)
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	engDone := make(chan error, 1)
	go func() {
		engDone <- eng.Run(ctx)
	}()

	httpSrv := &http.Server{Addr: cfg.Addr, Handler: srv.Handler()}
	httpDone := make(chan error, 1)
	go func() {
		httpDone <- httpSrv.ListenAndServe()
	}()

	slog.Info("dashboard listening", "addr", cfg.Addr, "url", cfg.PublicURL+cfg.BasePath)

	select {
	case <-ctx.Done():
	case err := <-httpDone:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			cancel()
			<-engDone
			return WrapExitError(ExitFailure, "http server error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	cancel()
	if err := <-engDone; err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "engine error", err)
	}

	slog.Info("stopped gracefully")
	return nil
}
