// Package cmd implements the harvester command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/app"
	"github.com/JakeFAU/catalog-harvester/internal/config"
	"github.com/JakeFAU/catalog-harvester/internal/logging"
)

// Exit codes.
const (
	ExitOK     = 0
	ExitFailed = 1
	ExitConfig = 2
)

// runner carries what every subcommand shares. newApp is replaced in tests.
type runner struct {
	configPath string
	out        io.Writer
	newApp     func(ctx context.Context, cfg config.Config, phase string) (*app.App, error)
}

func newRunner(out io.Writer) *runner {
	return &runner{
		out: out,
		newApp: func(ctx context.Context, cfg config.Config, phase string) (*app.App, error) {
			return app.New(ctx, cfg, phase, app.Options{})
		},
	}
}

func newRootCmd(r *runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Discover catalog pages and extract structured records from them.",
		Long: `harvester runs in two independent phases. discover crawls a site
breadth-first and writes the URLs that pass the filter chain to a list;
extract reads that list, pulls records out of every page and upserts them
into the configured store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&r.configPath, "config", "", "config file (yaml, json or toml)")
	cmd.SetOut(r.out)
	cmd.AddCommand(newDiscoverCmd(r), newExtractCmd(r), newQueryCmd(r))
	return cmd
}

// loadApp reads configuration, applies flag overrides and builds the run
// context for phase.
func (r *runner) loadApp(ctx context.Context, phase string, override func(*config.Config)) (*app.App, error) {
	cfg, err := config.Load(r.configPath)
	if err != nil {
		return nil, err
	}
	if override != nil {
		override(&cfg)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return r.newApp(ctx, cfg, phase)
}

func closeApp(ctx context.Context, a *app.App) {
	if err := a.Close(ctx); err != nil {
		a.Logger.Warn("shutdown", zap.Error(err))
	}
}

// Execute runs the CLI until completion or SIGINT/SIGTERM and returns the
// process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd(newRunner(os.Stdout)).ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}
	logger, lerr := logging.New(logging.Config{})
	if lerr != nil {
		logger = zap.NewExample()
	}
	defer func() { _ = logger.Sync() }()
	code := exitCode(err)
	logger.Error("command failed", zap.Error(err), zap.Int("exit_code", code))
	return code
}

func exitCode(err error) int {
	var cerr *config.Error
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &cerr):
		return ExitConfig
	default:
		return ExitFailed
	}
}
