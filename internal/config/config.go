// Package config loads and validates catalog-warehouse configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/catalog-warehouse/internal/warehouse"
)

// Backend kinds.
const (
	FetchHeadless = "headless"
	FetchColly    = "colly"

	CheckpointFile   = "file"
	CheckpointRedis  = "redis"
	CheckpointMemory = "memory"

	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageMemory   = "memory"

	ArchiveNone   = "none"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
	ArchiveMemory = "memory"

	NotifyNone   = "none"
	NotifyPubSub = "pubsub"
	NotifyMemory = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Source     SourceConfig     `mapstructure:"source"`
	Crawl      CrawlConfig      `mapstructure:"crawl"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Transform  TransformConfig  `mapstructure:"transform"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// SourceConfig identifies the catalog and describes its page layout.
type SourceConfig struct {
	Name              string `mapstructure:"name"`
	Env               string `mapstructure:"env"`
	ListingURL        string `mapstructure:"listing_url"`
	SegmentPrefix     string `mapstructure:"segment_prefix"`
	SegmentDepth      int    `mapstructure:"segment_depth"`
	PageParam         string `mapstructure:"page_param"`
	ContainerSelector string `mapstructure:"container_selector"`
	SignatureSelector string `mapstructure:"signature_selector"`
	SignatureAttr     string `mapstructure:"signature_attr"`
}

// CrawlConfig paces requests to the catalog host.
type CrawlConfig struct {
	RPS      float64       `mapstructure:"rps"`
	Burst    int           `mapstructure:"burst"`
	MinDelay time.Duration `mapstructure:"min_delay"`
	MaxDelay time.Duration `mapstructure:"max_delay"`
	// DetectUnrendered fails a segment on an empty page that looks like an
	// unrendered client-side shell instead of treating it as the last page.
	DetectUnrendered bool `mapstructure:"detect_unrendered"`
}

// FetchConfig selects and tunes the page transport.
type FetchConfig struct {
	Kind          string         `mapstructure:"kind"`
	UserAgent     string         `mapstructure:"user_agent"`
	Timeout       time.Duration  `mapstructure:"timeout"`
	MaxRetries    int            `mapstructure:"max_retries"`
	BackoffBase   time.Duration  `mapstructure:"backoff_base"`
	BackoffMax    time.Duration  `mapstructure:"backoff_max"`
	RespectRobots bool           `mapstructure:"respect_robots"`
	Headless      HeadlessConfig `mapstructure:"headless"`
}

// HeadlessConfig configures the browser transport.
type HeadlessConfig struct {
	ExecPath     string        `mapstructure:"exec_path"`
	Headful      bool          `mapstructure:"headful"`
	WaitSelector string        `mapstructure:"wait_selector"`
	SettleMin    time.Duration `mapstructure:"settle_min"`
	SettleMax    time.Duration `mapstructure:"settle_max"`
}

// CheckpointConfig selects where completed segments are logged.
type CheckpointConfig struct {
	Kind  string      `mapstructure:"kind"`
	Dir   string      `mapstructure:"dir"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds connection details for the Redis checkpoint.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// StorageConfig selects the warehouse backend.
type StorageConfig struct {
	Kind     string         `mapstructure:"kind"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// SQLiteConfig holds the directory of the per-layer database files.
type SQLiteConfig struct {
	Dir string `mapstructure:"dir"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// ArchiveConfig controls where fetched listing pages are archived.
type ArchiveConfig struct {
	Kind        string `mapstructure:"kind"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
	LocalDir    string `mapstructure:"local_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
}

// TransformConfig overrides the operational field mapping.
type TransformConfig struct {
	DefaultUnit  string `mapstructure:"default_unit"`
	BrandFeature string `mapstructure:"brand_feature"`
	ModelFeature string `mapstructure:"model_feature"`
}

// NotifyConfig holds metadata for run notifications.
type NotifyConfig struct {
	Kind      string `mapstructure:"kind"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig toggles zap development features. An empty Level keeps the
// zap default for the mode.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig controls OpenTelemetry spans around pipeline stages. Spans are
// exported to Cloud Trace when ProjectID is set.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	ProjectID   string  `mapstructure:"project_id"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment. Overrides are applied on top
// of file and environment values, keyed by dotted config keys.
func Load(path string, overrides map[string]any) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CATALOGWH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	for key, value := range overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source.name", "petrovich")
	v.SetDefault("source.env", string(warehouse.EnvTest))
	v.SetDefault("source.listing_url", "https://petrovich.ru/catalog/")
	v.SetDefault("source.segment_prefix", "/catalog/")
	v.SetDefault("source.segment_depth", 2)
	v.SetDefault("source.page_param", "p")
	v.SetDefault("crawl.rps", 0.5)
	v.SetDefault("crawl.burst", 1)
	v.SetDefault("crawl.min_delay", "1s")
	v.SetDefault("crawl.max_delay", "3s")
	v.SetDefault("crawl.detect_unrendered", false)
	v.SetDefault("fetch.kind", FetchHeadless)
	v.SetDefault("fetch.user_agent", "catalog-warehouse/0.1")
	v.SetDefault("fetch.timeout", "45s")
	v.SetDefault("fetch.max_retries", 2)
	v.SetDefault("fetch.backoff_base", "500ms")
	v.SetDefault("fetch.backoff_max", "10s")
	v.SetDefault("fetch.headless.settle_min", "500ms")
	v.SetDefault("fetch.headless.settle_max", "1500ms")
	v.SetDefault("checkpoint.kind", CheckpointFile)
	v.SetDefault("checkpoint.dir", "data")
	v.SetDefault("checkpoint.redis.addr", "localhost:6379")
	v.SetDefault("storage.kind", StorageSQLite)
	v.SetDefault("storage.sqlite.dir", "data")
	v.SetDefault("storage.postgres.max_conns", 4)
	v.SetDefault("archive.kind", ArchiveNone)
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("archive.content_type", "text/html; charset=utf-8")
	v.SetDefault("archive.local_dir", "data/archive")
	v.SetDefault("notify.kind", NotifyNone)
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("logging.development", true)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "catalog-warehouse")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := c.Namespace().Validate(); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	u, err := url.Parse(c.Source.ListingURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("source.listing_url must be an absolute url")
	}
	if c.Source.SegmentDepth <= 0 {
		return fmt.Errorf("source.segment_depth must be > 0")
	}
	if c.Crawl.RPS < 0 {
		return fmt.Errorf("crawl.rps must be >= 0")
	}
	if c.Crawl.MaxDelay < c.Crawl.MinDelay {
		return fmt.Errorf("crawl.max_delay must be >= crawl.min_delay")
	}
	if c.Fetch.MaxRetries < 0 {
		return fmt.Errorf("fetch.max_retries must be >= 0")
	}
	if err := oneOf("fetch.kind", c.Fetch.Kind, FetchHeadless, FetchColly); err != nil {
		return err
	}
	if err := oneOf("checkpoint.kind", c.Checkpoint.Kind, CheckpointFile, CheckpointRedis, CheckpointMemory); err != nil {
		return err
	}
	if c.Checkpoint.Kind == CheckpointRedis && c.Checkpoint.Redis.Addr == "" {
		return fmt.Errorf("checkpoint.redis.addr must be set when checkpoint.kind is redis")
	}
	if err := oneOf("storage.kind", c.Storage.Kind, StorageSQLite, StoragePostgres, StorageMemory); err != nil {
		return err
	}
	if c.Storage.Kind == StoragePostgres && c.Storage.Postgres.DSN == "" {
		return fmt.Errorf("storage.postgres.dsn must be set when storage.kind is postgres")
	}
	if err := oneOf("archive.kind", c.Archive.Kind, ArchiveNone, ArchiveLocal, ArchiveGCS, ArchiveMemory); err != nil {
		return err
	}
	if c.Archive.Kind == ArchiveGCS && c.Archive.GCSBucket == "" {
		return fmt.Errorf("archive.gcs_bucket must be set when archive.kind is gcs")
	}
	if err := oneOf("notify.kind", c.Notify.Kind, NotifyNone, NotifyPubSub, NotifyMemory); err != nil {
		return err
	}
	if c.Notify.Kind == NotifyPubSub && (c.Notify.ProjectID == "" || c.Notify.Topic == "") {
		return fmt.Errorf("notify.project_id and notify.topic must be set when notify.kind is pubsub")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0,1]")
	}
	return nil
}

// Namespace returns the warehouse namespace the config addresses.
func (c Config) Namespace() warehouse.Namespace {
	return warehouse.Namespace{Source: c.Source.Name, Env: warehouse.Env(c.Source.Env)}
}

// CheckpointPath returns the file checkpoint location for the namespace.
func (c Config) CheckpointPath() string {
	ns := c.Namespace()
	return filepath.Join(c.Checkpoint.Dir, string(ns.Env), "completed_"+ns.Source+".txt")
}

// ListenAddr returns the status server address.
func (c Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, ", "), value)
}
