package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/catalog-warehouse/internal/warehouse"
)

// OperationalStore is the normalized operational layer.
type OperationalStore struct {
	db    querier
	table string
}

func (s *OperationalStore) schema() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	product_id      TEXT PRIMARY KEY,
	url             TEXT,
	title           TEXT,
	gold_price      DOUBLE PRECISION,
	retail_price    DOUBLE PRECISION,
	unit            TEXT NOT NULL,
	brand           TEXT,
	model           TEXT,
	category_level1 TEXT,
	category_level2 TEXT,
	category_level3 TEXT,
	category_level4 TEXT,
	observed_at     TIMESTAMPTZ
)`, s.table)
}

// Replace inserts or replaces rec.
func (s *OperationalStore) Replace(ctx context.Context, rec warehouse.OperationalRecord) error {
	query := fmt.Sprintf(`
INSERT INTO %s (
	product_id, url, title, gold_price, retail_price, unit, brand, model,
	category_level1, category_level2, category_level3, category_level4, observed_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (product_id) DO UPDATE SET
	url = EXCLUDED.url,
	title = EXCLUDED.title,
	gold_price = EXCLUDED.gold_price,
	retail_price = EXCLUDED.retail_price,
	unit = EXCLUDED.unit,
	brand = EXCLUDED.brand,
	model = EXCLUDED.model,
	category_level1 = EXCLUDED.category_level1,
	category_level2 = EXCLUDED.category_level2,
	category_level3 = EXCLUDED.category_level3,
	category_level4 = EXCLUDED.category_level4,
	observed_at = EXCLUDED.observed_at`, s.table)

	args := []any{
		rec.ProductID,
		rec.URL,
		rec.Title,
		rec.GoldPrice,
		rec.RetailPrice,
		rec.Unit,
		nullString(rec.Brand),
		nullString(rec.Model),
		nullString(rec.Category[0]),
		nullString(rec.Category[1]),
		nullString(rec.Category[2]),
		nullString(rec.Category[3]),
		nullTime(rec.ObservedAt),
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("replace operational product %s: %w", rec.ProductID, err)
	}
	return nil
}

// AllRecords streams every operational row to fn.
func (s *OperationalStore) AllRecords(ctx context.Context, fn func(warehouse.OperationalRecord) error) error {
	query := fmt.Sprintf(`SELECT product_id, url, title, gold_price, retail_price, unit, brand, model,
	category_level1, category_level2, category_level3, category_level4, observed_at FROM %s`, s.table)
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("query operational products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec                      warehouse.OperationalRecord
			url, title, brand, model *string
			levels                   [warehouse.CategoryDepth]*string
			observed                 *time.Time
		)
		if err := rows.Scan(&rec.ProductID, &url, &title, &rec.GoldPrice, &rec.RetailPrice, &rec.Unit,
			&brand, &model, &levels[0], &levels[1], &levels[2], &levels[3], &observed); err != nil {
			return fmt.Errorf("scan operational product: %w", err)
		}
		rec.URL = deref(url)
		rec.Title = deref(title)
		rec.Brand = deref(brand)
		rec.Model = deref(model)
		for i, level := range levels {
			rec.Category[i] = deref(level)
		}
		rec.ObservedAt = derefTime(observed)
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}
