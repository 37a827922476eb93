package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/JakeFAU/catalog-warehouse/internal/warehouse"
)

const rawSchema = `CREATE TABLE IF NOT EXISTS products (
	product_id      TEXT PRIMARY KEY,
	url             TEXT,
	title           TEXT,
	gold_price      REAL,
	retail_price    REAL,
	unit            TEXT,
	categories      TEXT NOT NULL DEFAULT '[]',
	features        TEXT NOT NULL DEFAULT '{}',
	source_fragment TEXT,
	observed_at     TEXT
)`

// RawStore is the raw layer. Rows are replaced whole on conflict.
type RawStore struct {
	db *sql.DB
}

// NewRawStore ensures the raw schema on db.
func NewRawStore(ctx context.Context, db *sql.DB) (*RawStore, error) {
	if err := migrate(ctx, db, rawSchema); err != nil {
		return nil, err
	}
	return &RawStore{db: db}, nil
}

// Upsert inserts rec or replaces the existing row with the same product ID.
func (s *RawStore) Upsert(ctx context.Context, rec warehouse.ProductRecord) error {
	row, err := warehouse.EncodeRecord(rec)
	if err != nil {
		return err
	}
	if row.ProductID == "" {
		return fmt.Errorf("product id is required")
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO products
		(product_id, url, title, gold_price, retail_price, unit, categories, features, source_fragment, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ProductID, row.URL, row.Title,
		nullFloat(row.GoldPrice), nullFloat(row.RetailPrice), nullString(row.Unit),
		row.CategoriesJSON, row.FeaturesJSON, row.SourceFragment, formatTime(row.ObservedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert raw product %s: %w", row.ProductID, err)
	}
	return nil
}

// AllRecords streams every raw row to fn.
func (s *RawStore) AllRecords(ctx context.Context, fn func(warehouse.RawRow) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT product_id, url, title, gold_price, retail_price, unit,
		categories, features, source_fragment, observed_at FROM products`)
	if err != nil {
		return fmt.Errorf("query raw products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			row                    warehouse.RawRow
			url, title, unit, frag sql.NullString
			observed               sql.NullString
			goldPrice, retailPrice sql.NullFloat64
		)
		if err := rows.Scan(&row.ProductID, &url, &title, &goldPrice, &retailPrice, &unit,
			&row.CategoriesJSON, &row.FeaturesJSON, &frag, &observed); err != nil {
			return fmt.Errorf("scan raw product: %w", err)
		}
		row.URL = url.String
		row.Title = title.String
		row.Unit = unit.String
		row.SourceFragment = frag.String
		row.GoldPrice = floatPtr(goldPrice)
		row.RetailPrice = floatPtr(retailPrice)
		if row.ObservedAt, err = parseTime(observed); err != nil {
			return fmt.Errorf("raw product %s: %w", row.ProductID, err)
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Count returns the number of raw rows.
func (s *RawStore) Count(ctx context.Context) (int64, error) {
	return count(ctx, s.db, "products")
}
