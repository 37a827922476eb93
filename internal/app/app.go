// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	gcsstorage "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-warehouse/internal/checkpoint"
	"github.com/JakeFAU/catalog-warehouse/internal/config"
	"github.com/JakeFAU/catalog-warehouse/internal/crawler"
	"github.com/JakeFAU/catalog-warehouse/internal/detector"
	"github.com/JakeFAU/catalog-warehouse/internal/dimensional"
	"github.com/JakeFAU/catalog-warehouse/internal/extract"
	collyfetcher "github.com/JakeFAU/catalog-warehouse/internal/fetcher/colly"
	"github.com/JakeFAU/catalog-warehouse/internal/fetcher/headless"
	"github.com/JakeFAU/catalog-warehouse/internal/fetcher/retry"
	"github.com/JakeFAU/catalog-warehouse/internal/hash/sha256"
	"github.com/JakeFAU/catalog-warehouse/internal/id/uuid"
	"github.com/JakeFAU/catalog-warehouse/internal/pipeline"
	"github.com/JakeFAU/catalog-warehouse/internal/policy/ratelimit"
	pubsubpublisher "github.com/JakeFAU/catalog-warehouse/internal/publisher/pubsub"
	memorypublisher "github.com/JakeFAU/catalog-warehouse/internal/publisher/memory"
	"github.com/JakeFAU/catalog-warehouse/internal/storage/gcs"
	"github.com/JakeFAU/catalog-warehouse/internal/storage/local"
	"github.com/JakeFAU/catalog-warehouse/internal/storage/memory"
	"github.com/JakeFAU/catalog-warehouse/internal/storage/postgres"
	"github.com/JakeFAU/catalog-warehouse/internal/storage/sqlite"
	"github.com/JakeFAU/catalog-warehouse/internal/telemetry"
	"github.com/JakeFAU/catalog-warehouse/internal/transform"
	"github.com/JakeFAU/catalog-warehouse/internal/warehouse"
)

const archiveDigestSize = 16

// Layers groups the three warehouse layers of one namespace.
type Layers struct {
	Raw         warehouse.RawStore
	Operational warehouse.OperationalStore
	Dimensional warehouse.DimensionalStore
	Counter     warehouse.Counter
}

// App holds all the shared, long-lived services for the application.
// It is initialized once per command from the loaded Config and passed to the
// components that need it. Transports are created on demand because starting
// a browser is only needed by commands that crawl.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	layers     Layers
	checkpoint crawler.Checkpoint
	archive    crawler.BlobStore
	publisher  pipeline.Publisher
	closers    []func() error
}

// New creates and initializes an App based on cfg. It fails fast if any
// configured backend cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	ns := cfg.Namespace()
	logger.Info("initializing application services", zap.Stringer("namespace", ns))

	steps := []func(context.Context) error{
		a.initTracing,
		a.initStorage,
		a.initCheckpoint,
		a.initArchive,
		a.initPublisher,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return nil, errors.Join(err, a.Close())
		}
	}
	logger.Info("application services initialized")
	return a, nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Layers exposes the warehouse stores.
func (a *App) Layers() Layers { return a.layers }

// Checkpoint exposes the completed-segment log.
func (a *App) Checkpoint() crawler.Checkpoint { return a.checkpoint }

// Publisher returns the run report publisher, nil when notifications are off.
func (a *App) Publisher() pipeline.Publisher { return a.publisher }

func (a *App) initStorage(ctx context.Context) error {
	ns := a.cfg.Namespace()
	switch a.cfg.Storage.Kind {
	case config.StorageSQLite:
		w, err := sqlite.OpenWarehouse(ctx, a.cfg.Storage.SQLite.Dir, ns)
		if err != nil {
			return fmt.Errorf("open sqlite warehouse: %w", err)
		}
		a.logger.Info("using sqlite warehouse", zap.String("dir", a.cfg.Storage.SQLite.Dir))
		a.layers = Layers{Raw: w.Raw, Operational: w.Operational, Dimensional: w.Dimensional, Counter: w}
		a.closers = append(a.closers, w.Close)
	case config.StoragePostgres:
		pg := a.cfg.Storage.Postgres
		pool, err := postgres.Connect(ctx, postgres.Config{
			DSN:             pg.DSN,
			MaxConns:        pg.MaxConns,
			MinConns:        pg.MinConns,
			MaxConnLifetime: pg.MaxConnLifetime,
		})
		if err != nil {
			return err
		}
		w, err := postgres.New(pool, ns)
		if err != nil {
			pool.Close()
			return err
		}
		a.closers = append(a.closers, func() error { w.Close(); return nil })
		if err := w.Migrate(ctx); err != nil {
			return err
		}
		a.logger.Info("using postgres warehouse", zap.String("schema", w.Schema()))
		a.layers = Layers{Raw: w.Raw, Operational: w.Operational, Dimensional: w.Dimensional, Counter: w}
	case config.StorageMemory:
		a.logger.Warn("using in-memory warehouse, data is discarded on exit")
		w := memory.NewWarehouse()
		a.layers = Layers{Raw: w.Raw, Operational: w.Operational, Dimensional: w.Dimensional, Counter: w}
	default:
		return fmt.Errorf("unknown storage kind: %s", a.cfg.Storage.Kind)
	}
	return nil
}

func (a *App) initCheckpoint(ctx context.Context) error {
	switch a.cfg.Checkpoint.Kind {
	case config.CheckpointFile:
		log, err := checkpoint.NewFileLog(a.cfg.CheckpointPath(), a.logger)
		if err != nil {
			return fmt.Errorf("open checkpoint log: %w", err)
		}
		a.logger.Info("using file checkpoint", zap.String("path", log.Path()))
		a.checkpoint = log
	case config.CheckpointRedis:
		rc := a.cfg.Checkpoint.Redis
		client := redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		set, err := checkpoint.NewRedisSet(client, rc.KeyPrefix, a.cfg.Namespace())
		if err != nil {
			return err
		}
		a.logger.Info("using redis checkpoint", zap.String("key", set.Key()))
		a.checkpoint = set
	case config.CheckpointMemory:
		a.logger.Warn("using in-memory checkpoint, progress is not durable")
		a.checkpoint = memory.NewCheckpoint()
	default:
		return fmt.Errorf("unknown checkpoint kind: %s", a.cfg.Checkpoint.Kind)
	}
	return nil
}

func (a *App) initArchive(ctx context.Context) error {
	switch a.cfg.Archive.Kind {
	case config.ArchiveNone:
		return nil
	case config.ArchiveLocal:
		store, err := local.New(local.Config{BaseDir: a.cfg.Archive.LocalDir})
		if err != nil {
			return fmt.Errorf("init local archive: %w", err)
		}
		a.archive = store
	case config.ArchiveGCS:
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		store, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Archive.GCSBucket})
		if err != nil {
			return err
		}
		a.archive = store
	case config.ArchiveMemory:
		a.archive = memory.NewBlobStore()
	default:
		return fmt.Errorf("unknown archive kind: %s", a.cfg.Archive.Kind)
	}
	a.logger.Info("archiving listing pages", zap.String("kind", a.cfg.Archive.Kind))
	return nil
}

func (a *App) initTracing(ctx context.Context) error {
	if !a.cfg.Tracing.Enabled {
		return nil
	}
	tp, err := telemetry.InitTracerProvider(ctx, a.cfg.Tracing, a.cfg.Source.Env)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tp.Shutdown(shutdownCtx)
	})
	a.logger.Info("tracing enabled", zap.String("project_id", a.cfg.Tracing.ProjectID))
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	switch a.cfg.Notify.Kind {
	case config.NotifyNone:
		return nil
	case config.NotifyPubSub:
		client, err := pubsub.NewClient(ctx, a.cfg.Notify.ProjectID)
		if err != nil {
			return fmt.Errorf("create pubsub client: %w", err)
		}
		pub := pubsubpublisher.New(client)
		a.closers = append(a.closers, pub.Close, client.Close)
		a.publisher = pub
		a.logger.Info("publishing run reports", zap.String("topic", a.cfg.Notify.Topic))
	case config.NotifyMemory:
		a.publisher = memorypublisher.New()
	default:
		return fmt.Errorf("unknown notify kind: %s", a.cfg.Notify.Kind)
	}
	return nil
}

// Fetcher builds the configured transport, paced by a per-host limiter and
// wrapped with retries. The transport is closed with the App.
func (a *App) Fetcher() (crawler.Fetcher, error) {
	pacer := ratelimit.New(ratelimit.Config{
		RPS:      a.cfg.Crawl.RPS,
		Burst:    a.cfg.Crawl.Burst,
		MinDelay: a.cfg.Crawl.MinDelay,
		MaxDelay: a.cfg.Crawl.MaxDelay,
	})
	fc := a.cfg.Fetch
	var inner crawler.Fetcher
	switch fc.Kind {
	case config.FetchHeadless:
		f, err := headless.New(headless.Config{
			ExecPath:          fc.Headless.ExecPath,
			Headful:           fc.Headless.Headful,
			UserAgent:         fc.UserAgent,
			NavigationTimeout: fc.Timeout,
			WaitSelector:      fc.Headless.WaitSelector,
			SettleMin:         fc.Headless.SettleMin,
			SettleMax:         fc.Headless.SettleMax,
		}, pacer, a.logger)
		if err != nil {
			return nil, fmt.Errorf("init headless fetcher: %w", err)
		}
		a.closers = append(a.closers, func() error { f.Close(); return nil })
		inner = f
	case config.FetchColly:
		inner = collyfetcher.New(collyfetcher.Config{
			UserAgent:     fc.UserAgent,
			RespectRobots: fc.RespectRobots,
			Timeout:       fc.Timeout,
		}, pacer)
	default:
		return nil, fmt.Errorf("unknown fetch kind: %s", fc.Kind)
	}
	return retry.Wrap(inner, retry.Policy{
		MaxAttempts: fc.MaxRetries + 1,
		BaseDelay:   fc.BackoffBase,
		MaxDelay:    fc.BackoffMax,
	}, a.logger), nil
}

// Frontier builds a crawl frontier over the configured transport and stores.
func (a *App) Frontier() (*crawler.Frontier, error) {
	src := a.cfg.Source
	parser, err := crawler.NewHTMLParser(crawler.ParserConfig{
		Shape:             crawler.SegmentShape{Prefix: src.SegmentPrefix, Depth: src.SegmentDepth},
		ContainerSelector: src.ContainerSelector,
		SignatureSelector: src.SignatureSelector,
		SignatureAttr:     src.SignatureAttr,
	})
	if err != nil {
		return nil, err
	}
	extractor, err := extract.New(src.ListingURL)
	if err != nil {
		return nil, err
	}
	fetcher, err := a.Fetcher()
	if err != nil {
		return nil, err
	}
	var emptyCheck crawler.EmptyPageCheck
	if a.cfg.Crawl.DetectUnrendered {
		emptyCheck = detector.NewHeuristic()
	}
	return crawler.NewFrontier(crawler.Config{
		Namespace:          a.cfg.Namespace(),
		ListingURL:         src.ListingURL,
		PageParam:          src.PageParam,
		ArchivePrefix:      a.cfg.Archive.Prefix,
		ArchiveContentType: a.cfg.Archive.ContentType,
	}, crawler.Deps{
		Fetcher:    fetcher,
		Parser:     parser,
		Extractor:  extractor,
		Raw:        a.layers.Raw,
		Checkpoint: a.checkpoint,
		Archive:    a.archive,
		Hasher:     sha256.New(archiveDigestSize),
		EmptyCheck: emptyCheck,
		IDs:        uuid.New(),
	}, a.logger.Named("crawler"))
}

// Transformer builds the raw to operational engine.
func (a *App) Transformer() (*transform.Engine, error) {
	tc := a.cfg.Transform
	return transform.NewEngine(transform.Config{
		Source:       a.cfg.Source.Name,
		DefaultUnit:  tc.DefaultUnit,
		BrandFeature: tc.BrandFeature,
		ModelFeature: tc.ModelFeature,
	}, a.layers.Raw, a.layers.Operational, a.logger.Named("transform"))
}

// Builder builds the operational to dimensional builder.
func (a *App) Builder() (*dimensional.Builder, error) {
	return dimensional.NewBuilder(a.cfg.Source.Name, a.layers.Operational, a.layers.Dimensional, a.logger.Named("dimensional"))
}

// Pipeline wires crawl, transform and build. withCrawl false skips crawling.
func (a *App) Pipeline(withCrawl bool) (*pipeline.Pipeline, error) {
	tr, err := a.Transformer()
	if err != nil {
		return nil, err
	}
	b, err := a.Builder()
	if err != nil {
		return nil, err
	}
	stages := pipeline.Stages{Transformer: tr, Builder: b}
	if withCrawl {
		f, err := a.Frontier()
		if err != nil {
			return nil, err
		}
		stages.Crawler = f
	}
	return pipeline.New(pipeline.Config{
		Namespace: a.cfg.Namespace(),
		Topic:     a.cfg.Notify.Topic,
	}, stages, a.publisher, a.logger)
}

// Close shuts down every service in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
