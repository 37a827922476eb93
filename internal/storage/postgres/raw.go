package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/catalog-warehouse/internal/warehouse"
)

// RawStore is the raw layer.
type RawStore struct {
	db    querier
	table string
}

func (s *RawStore) schema() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	product_id      TEXT PRIMARY KEY,
	url             TEXT,
	title           TEXT,
	gold_price      DOUBLE PRECISION,
	retail_price    DOUBLE PRECISION,
	unit            TEXT,
	categories      JSONB NOT NULL DEFAULT '[]',
	features        JSONB NOT NULL DEFAULT '{}',
	source_fragment TEXT,
	observed_at     TIMESTAMPTZ
)`, s.table)
}

// Upsert inserts rec or replaces every column of the existing row.
func (s *RawStore) Upsert(ctx context.Context, rec warehouse.ProductRecord) error {
	if rec.ProductID == "" {
		return fmt.Errorf("product id is required")
	}
	row, err := warehouse.EncodeRecord(rec)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	product_id, url, title, gold_price, retail_price, unit,
	categories, features, source_fragment, observed_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (product_id) DO UPDATE SET
	url = EXCLUDED.url,
	title = EXCLUDED.title,
	gold_price = EXCLUDED.gold_price,
	retail_price = EXCLUDED.retail_price,
	unit = EXCLUDED.unit,
	categories = EXCLUDED.categories,
	features = EXCLUDED.features,
	source_fragment = EXCLUDED.source_fragment,
	observed_at = EXCLUDED.observed_at`, s.table)

	args := []any{
		row.ProductID,
		row.URL,
		row.Title,
		row.GoldPrice,
		row.RetailPrice,
		nullString(row.Unit),
		row.CategoriesJSON,
		row.FeaturesJSON,
		row.SourceFragment,
		nullTime(row.ObservedAt),
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert raw product %s: %w", row.ProductID, err)
	}
	return nil
}

// AllRecords streams every raw row to fn.
func (s *RawStore) AllRecords(ctx context.Context, fn func(warehouse.RawRow) error) error {
	query := fmt.Sprintf(`SELECT product_id, url, title, gold_price, retail_price, unit,
	categories::text, features::text, source_fragment, observed_at FROM %s`, s.table)
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("query raw products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			row                    warehouse.RawRow
			url, title, unit, frag *string
			observed               *time.Time
		)
		if err := rows.Scan(&row.ProductID, &url, &title, &row.GoldPrice, &row.RetailPrice, &unit,
			&row.CategoriesJSON, &row.FeaturesJSON, &frag, &observed); err != nil {
			return fmt.Errorf("scan raw product: %w", err)
		}
		row.URL = deref(url)
		row.Title = deref(title)
		row.Unit = deref(unit)
		row.SourceFragment = deref(frag)
		row.ObservedAt = derefTime(observed)
		if err := fn(row); err != nil {
			return err
		}
	}
	return rows.Err()
}
