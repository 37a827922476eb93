package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/catalog-warehouse/internal/api"
)

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Crawl every pending catalog segment",
		Long: `Discovers the catalog segments, skips those already recorded in the
checkpoint, and pages through the rest, saving every product to the raw layer.
A failed segment stays pending for the next run.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			frontier, err := a.Frontier()
			if err != nil {
				return fmt.Errorf("init crawler: %w", err)
			}
			return withStatusServer(cmd.Context(), a, func(ctx context.Context) error {
				report, runErr := frontier.RunSession(ctx)
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				if runErr != nil {
					return fmt.Errorf("crawl session: %w", runErr)
				}
				if len(report.Failed) > 0 {
					return fmt.Errorf("%d segments failed, rerun to resume", len(report.Failed))
				}
				return nil
			})
		},
	}
}

func newTransformCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transform",
		Short: "Rebuild the operational layer from the raw layer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			engine, err := a.Transformer()
			if err != nil {
				return err
			}
			report, err := engine.Run(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

func newBuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Rebuild dimensions and facts from the operational layer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			builder, err := a.Builder()
			if err != nil {
				return err
			}
			report, err := builder.Run(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

func newRunCmd() *cobra.Command {
	var skipCrawl bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Crawl, transform and build in one go",
		Long: `Runs the whole pipeline for one namespace. Transform and build still run
when the crawl fails, so the warehouse reflects everything saved so far. The
run report is published when notifications are configured.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			p, err := a.Pipeline(!skipCrawl)
			if err != nil {
				return err
			}
			return withStatusServer(cmd.Context(), a, func(ctx context.Context) error {
				report, runErr := p.Run(ctx)
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				return runErr
			})
		},
	}
	cmd.Flags().BoolVar(&skipCrawl, "skip-crawl", false, "only transform and build")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print checkpoint progress and warehouse row counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			done, err := a.Checkpoint().Completed(ctx)
			if err != nil {
				return fmt.Errorf("read checkpoint: %w", err)
			}
			counts, err := a.Layers().Counter.Counts(ctx)
			if err != nil {
				return fmt.Errorf("count rows: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"namespace":          a.Config().Namespace().String(),
				"completed_segments": len(done),
				"counts":             counts,
			})
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the status API until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := a.Config()
			return newStatusServer(a).ListenAndServe(cmd.Context(), cfg.ListenAddr(), cfg.Server.ShutdownTimeout)
		},
	}
}

func newStatusServer(a App) *api.Server {
	layers := a.Layers()
	return api.NewServer(api.Deps{
		Namespace:   a.Config().Namespace(),
		Checkpoint:  a.Checkpoint(),
		Counter:     layers.Counter,
		Dimensional: layers.Dimensional,
	}, a.Logger())
}

// withStatusServer runs fn, serving the status API alongside it when
// server.enabled is set. The server stops once fn returns.
func withStatusServer(ctx context.Context, a App, fn func(context.Context) error) error {
	cfg := a.Config()
	if !cfg.Server.Enabled {
		return fn(ctx)
	}
	srvCtx, stop := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(srvCtx)
	g.Go(func() error {
		return newStatusServer(a).ListenAndServe(gctx, cfg.ListenAddr(), cfg.Server.ShutdownTimeout)
	})
	runErr := fn(ctx)
	stop()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger().Warn("status server stopped with error", zap.Error(err))
	}
	return runErr
}
