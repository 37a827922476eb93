package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/JakeFAU/catalog-warehouse/internal/warehouse"
)

// Category levels use '' as the NULL sentinel so the UNIQUE constraint treats
// missing levels as equal.
var dimensionalSchema = []string{
	`CREATE TABLE IF NOT EXISTS dim_brand (
		brand_key INTEGER PRIMARY KEY AUTOINCREMENT,
		name      TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS dim_category (
		category_key INTEGER PRIMARY KEY AUTOINCREMENT,
		level1       TEXT NOT NULL DEFAULT '',
		level2       TEXT NOT NULL DEFAULT '',
		level3       TEXT NOT NULL DEFAULT '',
		level4       TEXT NOT NULL DEFAULT '',
		UNIQUE (level1, level2, level3, level4)
	)`,
	`CREATE TABLE IF NOT EXISTS fact_product (
		product_id   TEXT PRIMARY KEY,
		title        TEXT,
		brand_key    INTEGER REFERENCES dim_brand (brand_key),
		category_key INTEGER REFERENCES dim_category (category_key),
		gold_price   REAL,
		retail_price REAL,
		unit         TEXT,
		observed_at  TEXT
	)`,
}

// DimensionalStore is the star-schema layer. AUTOINCREMENT keeps keys from
// being reused after deletes.
type DimensionalStore struct {
	db *sql.DB
}

// NewDimensionalStore ensures the dimensional schema on db.
func NewDimensionalStore(ctx context.Context, db *sql.DB) (*DimensionalStore, error) {
	if err := migrate(ctx, db, dimensionalSchema...); err != nil {
		return nil, err
	}
	return &DimensionalStore{db: db}, nil
}

// BrandKey returns the key for name, creating it when missing.
func (s *DimensionalStore) BrandKey(ctx context.Context, name string) (int64, bool, error) {
	if name == "" {
		return 0, false, errors.New("brand name is required")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO dim_brand (name) VALUES (?) ON CONFLICT (name) DO NOTHING`, name)
	if err != nil {
		return 0, false, fmt.Errorf("insert brand %q: %w", name, err)
	}
	created, err := affected(res)
	if err != nil {
		return 0, false, err
	}
	var key int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT brand_key FROM dim_brand WHERE name = ?`, name).Scan(&key); err != nil {
		return 0, false, fmt.Errorf("select brand %q: %w", name, err)
	}
	return key, created, nil
}

// CategoryKey returns the key for path, creating it when missing.
func (s *DimensionalStore) CategoryKey(ctx context.Context, path warehouse.CategoryPath) (int64, bool, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO dim_category (level1, level2, level3, level4)
		VALUES (?, ?, ?, ?) ON CONFLICT (level1, level2, level3, level4) DO NOTHING`,
		path[0], path[1], path[2], path[3])
	if err != nil {
		return 0, false, fmt.Errorf("insert category %v: %w", path, err)
	}
	created, err := affected(res)
	if err != nil {
		return 0, false, err
	}
	var key int64
	if err := s.db.QueryRowContext(ctx, `SELECT category_key FROM dim_category
		WHERE level1 = ? AND level2 = ? AND level3 = ? AND level4 = ?`,
		path[0], path[1], path[2], path[3]).Scan(&key); err != nil {
		return 0, false, fmt.Errorf("select category %v: %w", path, err)
	}
	return key, created, nil
}

// UpsertFact inserts or updates the fact for fact.ProductID.
func (s *DimensionalStore) UpsertFact(ctx context.Context, fact warehouse.FactRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO fact_product
		(product_id, title, brand_key, category_key, gold_price, retail_price, unit, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (product_id) DO UPDATE SET
			title = excluded.title,
			brand_key = excluded.brand_key,
			category_key = excluded.category_key,
			gold_price = excluded.gold_price,
			retail_price = excluded.retail_price,
			unit = excluded.unit,
			observed_at = excluded.observed_at`,
		fact.ProductID, fact.Title, nullInt(fact.BrandKey), nullInt(fact.CategoryKey),
		nullFloat(fact.GoldPrice), nullFloat(fact.RetailPrice), nullString(fact.Unit),
		formatTime(fact.ObservedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert fact %s: %w", fact.ProductID, err)
	}
	return nil
}

// Brands lists the brand dimension ordered by key.
func (s *DimensionalStore) Brands(ctx context.Context) ([]warehouse.BrandDimension, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT brand_key, name FROM dim_brand ORDER BY brand_key`)
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
	rows, err := s.db.QueryContext(ctx,
		`SELECT category_key, level1, level2, level3, level4 FROM dim_category ORDER BY category_key`)
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
		fact                   warehouse.FactRecord
		title, unit, observed  sql.NullString
		brandKey, categoryKey  sql.NullInt64
		goldPrice, retailPrice sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `SELECT product_id, title, brand_key, category_key,
		gold_price, retail_price, unit, observed_at FROM fact_product WHERE product_id = ?`, productID).
		Scan(&fact.ProductID, &title, &brandKey, &categoryKey, &goldPrice, &retailPrice, &unit, &observed)
	if errors.Is(err, sql.ErrNoRows) {
		return warehouse.FactRecord{}, warehouse.ErrNotFound
	}
	if err != nil {
		return warehouse.FactRecord{}, fmt.Errorf("select fact %s: %w", productID, err)
	}
	fact.Title = title.String
	fact.Unit = unit.String
	fact.BrandKey = intPtr(brandKey)
	fact.CategoryKey = intPtr(categoryKey)
	fact.GoldPrice = floatPtr(goldPrice)
	fact.RetailPrice = floatPtr(retailPrice)
	if fact.ObservedAt, err = parseTime(observed); err != nil {
		return warehouse.FactRecord{}, err
	}
	return fact, nil
}

// Counts returns the dimension and fact row counts.
func (s *DimensionalStore) Counts(ctx context.Context) (brands, categories, facts int64, err error) {
	if brands, err = count(ctx, s.db, "dim_brand"); err != nil {
		return
	}
	if categories, err = count(ctx, s.db, "dim_category"); err != nil {
		return
	}
	facts, err = count(ctx, s.db, "fact_product")
	return
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
