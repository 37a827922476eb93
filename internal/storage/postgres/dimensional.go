package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/catalog-warehouse/internal/warehouse"
)

// DimensionalStore is the star-schema layer. Identity columns never reuse keys.
type DimensionalStore struct {
	db         querier
	brands     string
	categories string
	facts      string
}

// Missing category levels are stored as '' so the UNIQUE constraint treats
// them as equal.
func (s *DimensionalStore) schema() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	brand_key BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	name      TEXT NOT NULL UNIQUE
)`, s.brands),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	category_key BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	level1       TEXT NOT NULL DEFAULT '',
	level2       TEXT NOT NULL DEFAULT '',
	level3       TEXT NOT NULL DEFAULT '',
	level4       TEXT NOT NULL DEFAULT '',
	UNIQUE (level1, level2, level3, level4)
)`, s.categories),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	product_id   TEXT PRIMARY KEY,
	title        TEXT,
	brand_key    BIGINT REFERENCES %s (brand_key),
	category_key BIGINT REFERENCES %s (category_key),
	gold_price   DOUBLE PRECISION,
	retail_price DOUBLE PRECISION,
	unit         TEXT,
	observed_at  TIMESTAMPTZ
)`, s.facts, s.brands, s.categories),
	}
}

// BrandKey returns the key for name, creating it when missing.
func (s *DimensionalStore) BrandKey(ctx context.Context, name string) (int64, bool, error) {
	if name == "" {
		return 0, false, errors.New("brand name is required")
	}
	tag, err := s.db.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, s.brands), name)
	if err != nil {
		return 0, false, fmt.Errorf("insert brand %q: %w", name, err)
	}
	var key int64
	if err := s.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT brand_key FROM %s WHERE name = $1`, s.brands), name).Scan(&key); err != nil {
		return 0, false, fmt.Errorf("select brand %q: %w", name, err)
	}
	return key, tag.RowsAffected() > 0, nil
}

// CategoryKey returns the key for path, creating it when missing.
func (s *DimensionalStore) CategoryKey(ctx context.Context, path warehouse.CategoryPath) (int64, bool, error) {
	tag, err := s.db.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (level1, level2, level3, level4)
VALUES ($1,$2,$3,$4) ON CONFLICT (level1, level2, level3, level4) DO NOTHING`, s.categories),
		path[0], path[1], path[2], path[3])
	if err != nil {
		return 0, false, fmt.Errorf("insert category %v: %w", path, err)
	}
	var key int64
	if err := s.db.QueryRow(ctx, fmt.Sprintf(`SELECT category_key FROM %s
WHERE level1 = $1 AND level2 = $2 AND level3 = $3 AND level4 = $4`, s.categories),
		path[0], path[1], path[2], path[3]).Scan(&key); err != nil {
		return 0, false, fmt.Errorf("select category %v: %w", path, err)
	}
	return key, tag.RowsAffected() > 0, nil
}

// UpsertFact inserts or updates the fact for fact.ProductID.
func (s *DimensionalStore) UpsertFact(ctx context.Context, fact warehouse.FactRecord) error {
	query := fmt.Sprintf(`
INSERT INTO %s (
	product_id, title, brand_key, category_key, gold_price, retail_price, unit, observed_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (product_id) DO UPDATE SET
	title = EXCLUDED.title,
	brand_key = EXCLUDED.brand_key,
	category_key = EXCLUDED.category_key,
	gold_price = EXCLUDED.gold_price,
	retail_price = EXCLUDED.retail_price,
	unit = EXCLUDED.unit,
	observed_at = EXCLUDED.observed_at`, s.facts)

	args := []any{
		fact.ProductID,
		fact.Title,
		fact.BrandKey,
		fact.CategoryKey,
		fact.GoldPrice,
		fact.RetailPrice,
		nullString(fact.Unit),
		nullTime(fact.ObservedAt),
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert fact %s: %w", fact.ProductID, err)
	}
	return nil
}

// Brands lists the brand dimension ordered by key.
func (s *DimensionalStore) Brands(ctx context.Context) ([]warehouse.BrandDimension, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(`SELECT brand_key, name FROM %s ORDER BY brand_key`, s.brands))
	if err != nil {
		return nil, fmt.Errorf("query brands: %w", err)
	}
	defer rows.Close()

	var out []warehouse.BrandDimension
	for rows.Next() {
		var b warehouse.BrandDimension
		if err := rows.Scan(&b.Key, &b.Name); err != nil {
			return nil, fmt.Errorf("scan brand: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Categories lists the category dimension ordered by key.
func (s *DimensionalStore) Categories(ctx context.Context) ([]warehouse.CategoryDimension, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(
		`SELECT category_key, level1, level2, level3, level4 FROM %s ORDER BY category_key`, s.categories))
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var out []warehouse.CategoryDimension
	for rows.Next() {
		var c warehouse.CategoryDimension
		if err := rows.Scan(&c.Key, &c.Path[0], &c.Path[1], &c.Path[2], &c.Path[3]); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Fact returns the fact for productID or warehouse.ErrNotFound.
func (s *DimensionalStore) Fact(ctx context.Context, productID string) (warehouse.FactRecord, error) {
	var (
		fact        warehouse.FactRecord
		title, unit *string
		observed    *time.Time
	)
	err := s.db.QueryRow(ctx, fmt.Sprintf(`SELECT product_id, title, brand_key, category_key,
	gold_price, retail_price, unit, observed_at FROM %s WHERE product_id = $1`, s.facts), productID).
		Scan(&fact.ProductID, &title, &fact.BrandKey, &fact.CategoryKey,
			&fact.GoldPrice, &fact.RetailPrice, &unit, &observed)
	if errors.Is(err, pgx.ErrNoRows) {
		return warehouse.FactRecord{}, warehouse.ErrNotFound
	}
	if err != nil {
		return warehouse.FactRecord{}, fmt.Errorf("select fact %s: %w", productID, err)
	}
	fact.Title = deref(title)
	fact.Unit = deref(unit)
	fact.ObservedAt = derefTime(observed)
	return fact, nil
}
