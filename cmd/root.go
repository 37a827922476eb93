// Package cmd defines and implements the CLI commands for the catalogwh executable.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-warehouse/internal/app"
	"github.com/JakeFAU/catalog-warehouse/internal/config"
	"github.com/JakeFAU/catalog-warehouse/internal/crawler"
	"github.com/JakeFAU/catalog-warehouse/internal/dimensional"
	"github.com/JakeFAU/catalog-warehouse/internal/logging"
	"github.com/JakeFAU/catalog-warehouse/internal/pipeline"
	"github.com/JakeFAU/catalog-warehouse/internal/transform"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the services commands use. Tests may inject their own.
type App interface {
	Config() config.Config
	Logger() *zap.Logger
	Layers() app.Layers
	Checkpoint() crawler.Checkpoint
	Frontier() (*crawler.Frontier, error)
	Transformer() (*transform.Engine, error)
	Builder() (*dimensional.Builder, error)
	Pipeline(withCrawl bool) (*pipeline.Pipeline, error)
	Close() error
}

type rootOptions struct {
	configFile string
	source     string
	env        string
	app        App
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	logger, err := logging.New(cfg.Logging, cfg.Namespace())
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

// newRootCmd creates and configures the root command. Callers must call
// closeApp once Execute returns, since cobra skips post-run hooks on error.
func newRootCmd() (*cobra.Command, *rootOptions) {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "catalogwh",
		Short: "Crawl a product catalog into a layered warehouse.",
		Long: `catalogwh crawls a paginated product catalog segment by segment,
checkpointing every completed segment so an interrupted crawl resumes where it
stopped, then rebuilds the operational and dimensional warehouse layers.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configFile, opts.overrides())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			opts.app = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(*cobra.Command, []string) {
			opts.closeApp()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "config file (YAML)")
	flags.StringVar(&opts.source, "source", "", "catalog source name, overrides source.name")
	flags.StringVar(&opts.env, "env", "", "production or test, overrides source.env")

	cmd.AddCommand(
		newCrawlCmd(),
		newTransformCmd(),
		newBuildCmd(),
		newRunCmd(),
		newStatusCmd(),
		newServeCmd(),
	)
	return cmd, opts
}

// closeApp shuts the application services down once.
func (o *rootOptions) closeApp() {
	if o.app == nil {
		return
	}
	logger := o.app.Logger()
	if err := o.app.Close(); err != nil {
		logger.Warn("error closing application services", zap.Error(err))
	}
	_ = logger.Sync()
	o.app = nil
}

func (o *rootOptions) overrides() map[string]any {
	out := map[string]any{}
	if o.source != "" {
		out["source.name"] = o.source
	}
	if o.env != "" {
		out["source.env"] = o.env
	}
	return out
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root, opts := newRootCmd()
	err := root.ExecuteContext(ctx)
	opts.closeApp()
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
