// Package transform maps raw product rows onto the operational layer.
package transform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-warehouse/internal/metrics"
	"github.com/JakeFAU/catalog-warehouse/internal/warehouse"
)

// Defaults for the reference catalog.
const (
	DefaultUnit         = "шт"
	DefaultBrandFeature = "Бренд"
	DefaultModelFeature = "Модель"
)

// Fields named in decode failures.
const (
	FieldCategories = "categories"
	FieldFeatures   = "features"
)

// Config controls the field mapping.
type Config struct {
	Source       string
	DefaultUnit  string
	BrandFeature string
	ModelFeature string
}

func (c Config) withDefaults() Config {
	if c.DefaultUnit == "" {
		c.DefaultUnit = DefaultUnit
	}
	if c.BrandFeature == "" {
		c.BrandFeature = DefaultBrandFeature
	}
	if c.ModelFeature == "" {
		c.ModelFeature = DefaultModelFeature
	}
	return c
}

// DecodeFailure describes a raw field that could not be decoded.
type DecodeFailure struct {
	ProductID string
	Field     string
	Err       error
}

func (d DecodeFailure) Error() string {
	return fmt.Sprintf("decode %s for product %s: %v", d.Field, d.ProductID, d.Err)
}

func (d DecodeFailure) Unwrap() error {
	return d.Err
}

// Report summarizes one transform run.
type Report struct {
	Rows           int           `json:"rows"`
	DecodeFailures int           `json:"decode_failures"`
	Duration       time.Duration `json:"duration"`
}

// Engine rebuilds the operational layer from the raw layer.
type Engine struct {
	cfg    Config
	raw    warehouse.RawStore
	ods    warehouse.OperationalStore
	logger *zap.Logger
}

// NewEngine builds an Engine.
func NewEngine(cfg Config, raw warehouse.RawStore, ods warehouse.OperationalStore, logger *zap.Logger) (*Engine, error) {
	if raw == nil {
		return nil, errors.New("raw store is required")
	}
	if ods == nil {
		return nil, errors.New("operational store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg.withDefaults(), raw: raw, ods: ods, logger: logger}, nil
}

// Run transforms every raw row and replaces the matching operational row.
// Decode failures are counted and logged, store failures stop the run.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	var report Report
	err := e.raw.AllRecords(ctx, func(row warehouse.RawRow) error {
		rec, failures := Transform(row, e.cfg)
		for _, f := range failures {
			report.DecodeFailures++
			metrics.ObserveDecodeFailure(e.cfg.Source, f.Field)
			e.logger.Warn("raw field decode failed, using empty value",
				zap.String("product_id", f.ProductID),
				zap.String("field", f.Field),
				zap.Error(f.Err),
			)
		}
		if err := e.ods.Replace(ctx, rec); err != nil {
			return fmt.Errorf("replace operational row %s: %w", rec.ProductID, err)
		}
		report.Rows++
		return nil
	})
	report.Duration = time.Since(start)
	metrics.ObserveRows(e.cfg.Source, "transform", report.Rows)
	if err != nil {
		return report, fmt.Errorf("transform: %w", err)
	}
	e.logger.Info("transform finished",
		zap.Int("rows", report.Rows),
		zap.Int("decode_failures", report.DecodeFailures),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// Transform maps one raw row to its operational form. It is a pure function
// of row and cfg.
func Transform(row warehouse.RawRow, cfg Config) (warehouse.OperationalRecord, []DecodeFailure) {
	cfg = cfg.withDefaults()
	var failures []DecodeFailure

	categories, err := decodeCategories(row.CategoriesJSON)
	if err != nil {
		failures = append(failures, DecodeFailure{ProductID: row.ProductID, Field: FieldCategories, Err: err})
	}
	features, err := decodeFeatures(row.FeaturesJSON)
	if err != nil {
		failures = append(failures, DecodeFailure{ProductID: row.ProductID, Field: FieldFeatures, Err: err})
	}

	unit := row.Unit
	if unit == "" {
		unit = cfg.DefaultUnit
	}

	return warehouse.OperationalRecord{
		ProductID:   row.ProductID,
		URL:         row.URL,
		Title:       row.Title,
		GoldPrice:   row.GoldPrice,
		RetailPrice: row.RetailPrice,
		Unit:        unit,
		Brand:       features[cfg.BrandFeature],
		Model:       features[cfg.ModelFeature],
		Category:    warehouse.PathFromCategories(categories),
		ObservedAt:  row.ObservedAt,
	}, failures
}

func decodeCategories(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// decodeFeatures reads a JSON object of feature values. Numbers and booleans
// keep their literal text; nulls, arrays and objects are dropped so one odd
// value never loses the rest.
func decodeFeatures(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var values map[string]any
	if err := dec.Decode(&values); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after features object")
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		switch v := v.(type) {
		case string:
			out[k] = v
		case json.Number:
			out[k] = v.String()
		case bool:
			out[k] = strconv.FormatBool(v)
		}
	}
	return out, nil
}
