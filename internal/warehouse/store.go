package warehouse

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a lookup has no matching row.
var ErrNotFound = errors.New("not found")

// RawStore persists extracted product records keyed by product ID.
type RawStore interface {
	// Upsert inserts rec or fully replaces the row with the same ProductID.
	Upsert(ctx context.Context, rec ProductRecord) error
	// AllRecords streams every raw row to fn in no particular order.
	AllRecords(ctx context.Context, fn func(RawRow) error) error
}

// OperationalStore holds one normalized row per product.
type OperationalStore interface {
	Replace(ctx context.Context, rec OperationalRecord) error
	AllRecords(ctx context.Context, fn func(OperationalRecord) error) error
}

// DimensionalStore holds the brand and category dimensions and the product facts.
type DimensionalStore interface {
	// BrandKey returns the surrogate key for name, creating it when missing.
	BrandKey(ctx context.Context, name string) (key int64, created bool, err error)
	// CategoryKey returns the surrogate key for path, creating it when missing.
	CategoryKey(ctx context.Context, path CategoryPath) (key int64, created bool, err error)
	UpsertFact(ctx context.Context, fact FactRecord) error
	Brands(ctx context.Context) ([]BrandDimension, error)
	Categories(ctx context.Context) ([]CategoryDimension, error)
	Fact(ctx context.Context, productID string) (FactRecord, error)
}

// Counter reports row counts for the status API.
type Counter interface {
	Counts(ctx context.Context) (LayerCounts, error)
}
