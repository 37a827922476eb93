// Package dimensional builds the star-schema layer from operational rows.
package dimensional

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-warehouse/internal/metrics"
	"github.com/JakeFAU/catalog-warehouse/internal/warehouse"
)

// Dimension names used in metrics.
const (
	DimensionBrand    = "brand"
	DimensionCategory = "category"
)

// Report summarizes one build run.
type Report struct {
	Facts             int           `json:"facts"`
	BrandsCreated     int           `json:"brands_created"`
	CategoriesCreated int           `json:"categories_created"`
	Duration          time.Duration `json:"duration"`
}

// Builder resolves surrogate keys and upserts one fact per operational row.
type Builder struct {
	source string
	ods    warehouse.OperationalStore
	dim    warehouse.DimensionalStore
	logger *zap.Logger
}

// NewBuilder builds a Builder. source labels metrics only.
func NewBuilder(source string, ods warehouse.OperationalStore, dim warehouse.DimensionalStore, logger *zap.Logger) (*Builder, error) {
	if ods == nil {
		return nil, errors.New("operational store is required")
	}
	if dim == nil {
		return nil, errors.New("dimensional store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{source: source, ods: ods, dim: dim, logger: logger}, nil
}

// Run rebuilds every fact. Existing dimension rows keep their keys.
func (b *Builder) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	var report Report
	keys := newKeyCache()

	err := b.ods.AllRecords(ctx, func(rec warehouse.OperationalRecord) error {
		brandKey, err := b.brandKey(ctx, keys, rec.Brand, &report)
		if err != nil {
			return fmt.Errorf("brand key for %s: %w", rec.ProductID, err)
		}
		categoryKey, err := b.categoryKey(ctx, keys, rec.Category, &report)
		if err != nil {
			return fmt.Errorf("category key for %s: %w", rec.ProductID, err)
		}
		fact := warehouse.FactRecord{
			ProductID:   rec.ProductID,
			Title:       rec.Title,
			BrandKey:    brandKey,
			CategoryKey: categoryKey,
			GoldPrice:   rec.GoldPrice,
			RetailPrice: rec.RetailPrice,
			Unit:        rec.Unit,
			ObservedAt:  rec.ObservedAt,
		}
		if err := b.dim.UpsertFact(ctx, fact); err != nil {
			return fmt.Errorf("upsert fact %s: %w", rec.ProductID, err)
		}
		report.Facts++
		return nil
	})
	report.Duration = time.Since(start)
	metrics.ObserveRows(b.source, "build", report.Facts)
	if err != nil {
		return report, fmt.Errorf("build: %w", err)
	}
	b.logger.Info("dimensional build finished",
		zap.Int("facts", report.Facts),
		zap.Int("brands_created", report.BrandsCreated),
		zap.Int("categories_created", report.CategoriesCreated),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

func (b *Builder) brandKey(ctx context.Context, keys *keyCache, name string, report *Report) (*int64, error) {
	if name == "" {
		return nil, nil
	}
	if key, ok := keys.brands[name]; ok {
		return &key, nil
	}
	key, created, err := b.dim.BrandKey(ctx, name)
	if err != nil {
		return nil, err
	}
	if created {
		report.BrandsCreated++
		metrics.ObserveKeyCreated(b.source, DimensionBrand)
	}
	keys.brands[name] = key
	return &key, nil
}

// categoryKey resolves every path, the all-empty one included, so products
// without categories share a single dimension row.
func (b *Builder) categoryKey(ctx context.Context, keys *keyCache, path warehouse.CategoryPath, report *Report) (*int64, error) {
	if key, ok := keys.categories[path]; ok {
		return &key, nil
	}
	key, created, err := b.dim.CategoryKey(ctx, path)
	if err != nil {
		return nil, err
	}
	if created {
		report.CategoriesCreated++
		metrics.ObserveKeyCreated(b.source, DimensionCategory)
	}
	keys.categories[path] = key
	return &key, nil
}

// keyCache avoids repeated store lookups within a single run.
type keyCache struct {
	brands     map[string]int64
	categories map[warehouse.CategoryPath]int64
}

func newKeyCache() *keyCache {
	return &keyCache{
		brands:     make(map[string]int64),
		categories: make(map[warehouse.CategoryPath]int64),
	}
}
