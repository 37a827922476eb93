// Package pipeline runs crawl, transform and build for one namespace and
// publishes the outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-warehouse/internal/crawler"
	"github.com/JakeFAU/catalog-warehouse/internal/dimensional"
	"github.com/JakeFAU/catalog-warehouse/internal/transform"
	"github.com/JakeFAU/catalog-warehouse/internal/warehouse"
)

// Run statuses.
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Crawler runs one crawl session.
type Crawler interface {
	RunSession(ctx context.Context) (crawler.SessionReport, error)
}

// Transformer rebuilds the operational layer.
type Transformer interface {
	Run(ctx context.Context) (transform.Report, error)
}

// Builder rebuilds the dimensional layer.
type Builder interface {
	Run(ctx context.Context) (dimensional.Report, error)
}

// Publisher sends the run report somewhere.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Stages holds the pipeline steps. A nil Crawler skips crawling.
type Stages struct {
	Crawler     Crawler
	Transformer Transformer
	Builder     Builder
}

// Config configures a Pipeline.
type Config struct {
	Namespace warehouse.Namespace
	// Topic receives the report when a Publisher is set.
	Topic string
	// Tracer defaults to the global provider's tracer.
	Tracer trace.Tracer
}

const tracerName = "github.com/JakeFAU/catalog-warehouse/internal/pipeline"

// Report is the outcome of one pipeline run.
type Report struct {
	Source     string                 `json:"source"`
	Env        string                 `json:"env"`
	Status     string                 `json:"status"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	Crawl      *crawler.SessionReport `json:"crawl,omitempty"`
	CrawlError string                 `json:"crawl_error,omitempty"`
	Transform  *transform.Report      `json:"transform,omitempty"`
	Build      *dimensional.Report    `json:"build,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// Attributes labels the published message.
func (r Report) Attributes() map[string]string {
	return map[string]string{
		"source": r.Source,
		"env":    r.Env,
		"status": r.Status,
	}
}

// Pipeline runs the stages in order.
type Pipeline struct {
	cfg       Config
	stages    Stages
	publisher Publisher
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// New builds a Pipeline. publisher may be nil.
func New(cfg Config, stages Stages, publisher Publisher, logger *zap.Logger) (*Pipeline, error) {
	if err := cfg.Namespace.Validate(); err != nil {
		return nil, err
	}
	if stages.Transformer == nil || stages.Builder == nil {
		return nil, errors.New("transform and build stages are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Pipeline{
		tracer:    tracer,
		cfg:       cfg,
		stages:    stages,
		publisher: publisher,
		logger:    logger.Named("pipeline").With(zap.Stringer("namespace", cfg.Namespace)),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run crawls, transforms and builds. A crawl failure does not stop the
// downstream stages, which work on whatever was saved; it is returned once
// they finish. Cancellation stops before the next stage.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("catalog.source", p.cfg.Namespace.Source),
		attribute.String("catalog.env", string(p.cfg.Namespace.Env)),
	))
	defer span.End()

	report := Report{
		Source:    p.cfg.Namespace.Source,
		Env:       string(p.cfg.Namespace.Env),
		StartedAt: p.now(),
	}
	var crawlErr, stageErr error

	if p.stages.Crawler != nil {
		var session crawler.SessionReport
		err := p.stage(ctx, "crawl", func(ctx context.Context) (err error) {
			session, err = p.stages.Crawler.RunSession(ctx)
			return err
		})
		report.Crawl = &session
		if err != nil {
			crawlErr = fmt.Errorf("crawl: %w", err)
			report.CrawlError = err.Error()
			p.logger.Error("crawl failed, continuing with saved records", zap.Error(err))
		}
	}

	stageErr = p.runDownstream(ctx, &report)
	err := errors.Join(crawlErr, stageErr)

	report.FinishedAt = p.now()
	switch {
	case stageErr != nil:
		report.Status = StatusFailed
	case crawlErr != nil || (report.Crawl != nil && len(report.Crawl.Failed) > 0):
		report.Status = StatusPartial
	default:
		report.Status = StatusOK
	}
	if err != nil {
		report.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, report.Status)
	}
	span.SetAttributes(attribute.String("pipeline.status", report.Status))
	p.notify(ctx, report)
	p.logger.Info("pipeline finished", zap.String("status", report.Status), zap.Error(err))
	return report, err
}

func (p *Pipeline) runDownstream(ctx context.Context, report *Report) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("before transform: %w", err)
	}
	var tr transform.Report
	err := p.stage(ctx, "transform", func(ctx context.Context) (err error) {
		tr, err = p.stages.Transformer.Run(ctx)
		return err
	})
	report.Transform = &tr
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("before build: %w", err)
	}
	var br dimensional.Report
	err = p.stage(ctx, "build", func(ctx context.Context) (err error) {
		br, err = p.stages.Builder.Run(ctx)
		return err
	})
	report.Build = &br
	return err
}

func (p *Pipeline) stage(ctx context.Context, name string, run func(context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "pipeline."+name)
	defer span.End()
	err := run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// notify publishes report. Failures are logged only.
func (p *Pipeline) notify(ctx context.Context, report Report) {
	if p.publisher == nil || p.cfg.Topic == "" {
		return
	}
	// Publish even when the run was canceled.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	id, err := p.publisher.Publish(pubCtx, p.cfg.Topic, report)
	if err != nil {
		p.logger.Warn("publish run report failed", zap.String("topic", p.cfg.Topic), zap.Error(err))
		return
	}
	p.logger.Debug("run report published", zap.String("topic", p.cfg.Topic), zap.String("message_id", id))
}
