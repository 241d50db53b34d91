package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/config"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/logging"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/store"
)

// app bundles what every data command needs.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
	out    *OutputFormatter
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

// openApp loads configuration, builds the logger and opens the store.
// Failures here are command errors.
func openApp(opts *RootOptions, cmd *cobra.Command) (*app, error) {
	out := newFormatter(opts, cmd)

	cfg, err := config.LoadFile(opts.EnvFile)
	if err != nil {
		return nil, out.Fail(ExitCommandError, "invalid configuration", err)
	}
	if opts.Database != "" {
		cfg.DBPath = opts.Database
	}

	level := cfg.LogLevel
	if opts.Verbose {
		level = "debug"
	}
	logger, err := logging.New(level, cfg.LogFormat, "okkqc")
	if err != nil {
		return nil, out.Fail(ExitCommandError, "failed to build logger", err)
	}

	out.VerboseLog("opening database %s", cfg.DBPath)
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		_ = logger.Sync()
		return nil, out.Fail(ExitCommandError, "failed to open database", err)
	}
	return &app{cfg: cfg, logger: logger, store: st, out: out}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing database", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// commandContext derives a context from the command that is cancelled on
// SIGINT or SIGTERM.
func commandContext(cmd *cobra.Command, logger *zap.Logger) (context.Context, context.CancelFunc) {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
