package crawler

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-warehouse/internal/metrics"
	"github.com/JakeFAU/catalog-warehouse/internal/warehouse"
)

// Deps bundles the collaborators a Frontier needs. Archive, Hasher, EmptyCheck,
// Clock and IDs are optional.
type Deps struct {
	Fetcher    Fetcher
	Parser     PageParser
	Extractor  Extractor
	Raw        warehouse.RawStore
	Checkpoint Checkpoint
	Archive    BlobStore
	Hasher     Hasher
	EmptyCheck EmptyPageCheck
	Clock      Clock
	IDs        IDGenerator
}

// Frontier discovers catalog segments, paginates each one to its end and
// records completed segments in the checkpoint.
type Frontier struct {
	cfg     Config
	listing *url.URL
	deps    Deps
	logger  *zap.Logger
}

// NewFrontier validates cfg and deps and returns a Frontier.
func NewFrontier(cfg Config, deps Deps, logger *zap.Logger) (*Frontier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	listing, err := url.Parse(cfg.ListingURL)
	if err != nil {
		return nil, fmt.Errorf("parse listing url: %w", err)
	}
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("fetcher is required")
	case deps.Parser == nil:
		return nil, errors.New("page parser is required")
	case deps.Extractor == nil:
		return nil, errors.New("extractor is required")
	case deps.Raw == nil:
		return nil, errors.New("raw store is required")
	case deps.Checkpoint == nil:
		return nil, errors.New("checkpoint is required")
	case deps.Archive != nil && deps.Hasher == nil:
		return nil, errors.New("hasher is required when archiving pages")
	}
	if deps.Clock == nil {
		deps.Clock = utcClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Frontier{
		cfg:     cfg,
		listing: listing,
		deps:    deps,
		logger:  logger.With(zap.String("namespace", cfg.Namespace.String())),
	}, nil
}

// DiscoverSegments fetches the listing page and returns every linked segment.
func (f *Frontier) DiscoverSegments(ctx context.Context) (SegmentSet, error) {
	resp, err := f.deps.Fetcher.Fetch(ctx, FetchRequest{URL: f.cfg.ListingURL})
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %w", ErrDiscovery, f.cfg.ListingURL, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w: %s returned status %d", ErrDiscovery, f.cfg.ListingURL, resp.StatusCode)
	}
	base := f.listing
	if resp.URL != "" {
		if final, perr := url.Parse(resp.URL); perr == nil && final.Host != "" {
			base = final
		}
	}
	links, err := f.deps.Parser.SegmentLinks(resp.Body, base)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDiscovery, err)
	}
	if len(links) == 0 {
		return nil, fmt.Errorf("%w: no segment links on %s", ErrDiscovery, f.cfg.ListingURL)
	}
	set := make(SegmentSet, len(links))
	for _, link := range links {
		set.Add(Segment(link))
	}
	f.logger.Info("segments discovered", zap.Int("count", len(set)))
	return set, nil
}

// CrawlSegment pages through seg until an empty page or a repeated page and
// returns the number of records saved. Records saved before a failure stay saved.
func (f *Frontier) CrawlSegment(ctx context.Context, seg Segment) (int, error) {
	return f.crawlSegment(ctx, "", seg)
}

func (f *Frontier) crawlSegment(ctx context.Context, sessionID string, seg Segment) (int, error) {
	source := f.cfg.Namespace.Source
	logger := f.logger.With(zap.String("segment", string(seg)))
	seen := make(map[string]struct{})
	saved := 0

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return saved, fmt.Errorf("segment %s canceled: %w", seg, err)
		}
		pageURL, err := PageURL(seg, f.cfg.PageParam, page)
		if err != nil {
			return saved, fmt.Errorf("%w: %w", ErrPageFetch, err)
		}

		resp, err := f.deps.Fetcher.Fetch(ctx, FetchRequest{URL: pageURL})
		if err != nil {
			metrics.ObservePage(source, metrics.PageError, 0)
			return saved, classifyFetchError(ctx, pageURL, err)
		}
		if resp.StatusCode >= http.StatusBadRequest {
			metrics.ObservePage(source, metrics.PageError, resp.Duration)
			return saved, fmt.Errorf("%w: %s returned status %d", ErrPageFetch, pageURL, resp.StatusCode)
		}
		f.archivePage(ctx, sessionID, seg, page, resp.Body)

		containers, err := f.deps.Parser.Containers(resp.Body)
		if err != nil {
			metrics.ObservePage(source, metrics.PageError, resp.Duration)
			return saved, fmt.Errorf("%w: %s: %w", ErrPageFetch, pageURL, err)
		}
		if len(containers) == 0 {
			if f.deps.EmptyCheck != nil && f.deps.EmptyCheck.Unrendered(resp) {
				metrics.ObservePage(source, metrics.PageError, resp.Duration)
				return saved, fmt.Errorf("%w: %s has no products and looks unrendered", ErrPageFetch, pageURL)
			}
			metrics.ObservePage(source, metrics.PageEmpty, resp.Duration)
			logger.Debug("empty page ends segment", zap.Int("page", page))
			return saved, nil
		}

		sig := f.loopSignature(containers[0])
		if _, dup := seen[sig]; dup {
			metrics.ObservePage(source, metrics.PageLoop, resp.Duration)
			logger.Info("pagination loop detected", zap.Int("page", page), zap.String("signature", sig))
			return saved, nil
		}
		seen[sig] = struct{}{}

		pageSaved := 0
		for _, c := range containers {
			rec := f.deps.Extractor.ExtractFields(c.Fragment)
			if rec.ProductID == "" {
				continue
			}
			rec.ObservedAt = f.deps.Clock.Now()
			if err := f.deps.Raw.Upsert(ctx, rec); err != nil {
				metrics.ObserveRecordsSaved(source, pageSaved)
				return saved + pageSaved, fmt.Errorf("%w: upsert product %s: %w", ErrStoreWrite, rec.ProductID, err)
			}
			pageSaved++
		}
		saved += pageSaved
		metrics.ObservePage(source, metrics.PageOK, resp.Duration)
		metrics.ObserveRecordsSaved(source, pageSaved)
		logger.Debug("page processed",
			zap.Int("page", page),
			zap.Int("containers", len(containers)),
			zap.Int("saved", pageSaved),
		)
	}
}

// RunSession crawls every pending segment once. Each segment is checkpointed
// as soon as it completes. A session-fatal error stops the loop and is
// returned alongside the partial report.
func (f *Frontier) RunSession(ctx context.Context) (SessionReport, error) {
	source := f.cfg.Namespace.Source
	report := SessionReport{
		Namespace: f.cfg.Namespace.String(),
		StartedAt: f.deps.Clock.Now(),
		Completed: []Segment{},
		Failed:    []SegmentFailure{},
		Remaining: []Segment{},
	}
	sessionID, err := f.newSessionID(report.StartedAt)
	if err != nil {
		return report, err
	}
	report.SessionID = sessionID
	logger := f.logger.With(zap.String("session_id", sessionID))

	remaining := SegmentSet{}
	finish := func(err error) (SessionReport, error) {
		report.FinishedAt = f.deps.Clock.Now()
		report.Remaining = remaining.Sorted()
		status := "completed"
		switch {
		case err != nil:
			status = "aborted"
			logger.Error("session aborted", zap.Error(err), zap.Int("total_saved", report.TotalSaved))
		case len(report.Failed) > 0:
			status = "partial"
		}
		metrics.ObserveSession(source, status)
		logger.Info("session finished",
			zap.String("status", status),
			zap.Int("total_saved", report.TotalSaved),
			zap.Int("completed", len(report.Completed)),
			zap.Int("failed", len(report.Failed)),
			zap.Int("remaining", len(report.Remaining)),
		)
		return report, err
	}

	discovered, err := f.DiscoverSegments(ctx)
	if err != nil {
		report.Aborted = true
		return finish(err)
	}
	completed, err := f.deps.Checkpoint.Completed(ctx)
	if err != nil {
		report.Aborted = true
		return finish(fmt.Errorf("load checkpoint: %w", err))
	}
	pending := PendingSegments(discovered, completed)
	report.Discovered = len(discovered)
	report.Pending = len(pending)
	for seg := range pending {
		remaining.Add(seg)
	}
	if len(pending) == 0 {
		logger.Info("all discovered segments already completed", zap.Int("discovered", len(discovered)))
		return finish(nil)
	}
	logger.Info("session started",
		zap.Int("discovered", len(discovered)),
		zap.Int("already_completed", len(discovered)-len(pending)),
		zap.Int("pending", len(pending)),
	)

	for _, seg := range pending.Sorted() {
		if err := ctx.Err(); err != nil {
			report.Aborted = true
			return finish(err)
		}
		saved, err := f.crawlSegment(ctx, sessionID, seg)
		report.TotalSaved += saved
		if err != nil {
			report.Failed = append(report.Failed, SegmentFailure{Segment: seg, Error: err.Error()})
			metrics.ObserveSegment(source, string(SegmentFailed))
			if IsSessionFatal(err) || ctx.Err() != nil {
				report.Aborted = true
				return finish(err)
			}
			logger.Warn("segment failed", zap.String("segment", string(seg)), zap.Int("saved", saved), zap.Error(err))
			continue
		}
		if err := f.deps.Checkpoint.MarkComplete(ctx, seg); err != nil {
			report.Aborted = true
			return finish(fmt.Errorf("%w: mark %s complete: %w", ErrStoreWrite, seg, err))
		}
		delete(remaining, seg)
		report.Completed = append(report.Completed, seg)
		metrics.ObserveSegment(source, string(SegmentCompleted))
		logger.Info("segment completed", zap.String("segment", string(seg)), zap.Int("saved", saved))
	}
	return finish(nil)
}

// loopSignature identifies a page by its first container: the configured
// signature attribute, else the product ID, else a digest of the fragment.
func (f *Frontier) loopSignature(c Container) string {
	if c.Signature != "" {
		return "sig:" + c.Signature
	}
	if id := f.deps.Extractor.ExtractFields(c.Fragment).ProductID; id != "" {
		return "id:" + id
	}
	sum := sha256.Sum256([]byte(c.Fragment))
	return "sha256:" + hex.EncodeToString(sum[:])
}

func (f *Frontier) newSessionID(now time.Time) (string, error) {
	if f.deps.IDs == nil {
		return now.UTC().Format("20060102T150405Z"), nil
	}
	id, err := f.deps.IDs.NewID()
	if err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return id, nil
}

func (f *Frontier) archivePage(ctx context.Context, sessionID string, seg Segment, page int, body []byte) {
	if f.deps.Archive == nil {
		return
	}
	digest, err := f.deps.Hasher.Hash([]byte(seg))
	if err != nil {
		f.logger.Warn("hash segment for archive", zap.Error(err))
		return
	}
	objectPath := path.Join(
		f.cfg.ArchivePrefix,
		f.cfg.Namespace.Source,
		string(f.cfg.Namespace.Env),
		sessionID,
		digest,
		fmt.Sprintf("page-%04d.html", page),
	)
	uri, err := f.deps.Archive.PutObject(ctx, objectPath, f.cfg.ArchiveContentType, bytes.NewReader(body))
	if err != nil {
		f.logger.Warn("archive page failed", zap.String("path", objectPath), zap.Error(err))
		return
	}
	f.logger.Debug("page archived", zap.String("uri", uri))
}

func classifyFetchError(ctx context.Context, pageURL string, err error) error {
	switch {
	case IsSessionFatal(err), ctx.Err() != nil, errors.Is(err, ErrPageFetch):
		return fmt.Errorf("fetch %s: %w", pageURL, err)
	default:
		return fmt.Errorf("%w: %s: %w", ErrPageFetch, pageURL, err)
	}
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
