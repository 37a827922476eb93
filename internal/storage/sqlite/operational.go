package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/JakeFAU/catalog-warehouse/internal/warehouse"
)

const operationalSchema = `CREATE TABLE IF NOT EXISTS products (
	product_id       TEXT PRIMARY KEY,
	url              TEXT,
	title            TEXT,
	gold_price       REAL,
	retail_price     REAL,
	unit             TEXT NOT NULL,
	brand            TEXT,
	model            TEXT,
	category_level1  TEXT,
	category_level2  TEXT,
	category_level3  TEXT,
	category_level4  TEXT,
	observed_at      TEXT
)`

// OperationalStore is the normalized operational layer.
type OperationalStore struct {
	db *sql.DB
}

// NewOperationalStore ensures the operational schema on db.
func NewOperationalStore(ctx context.Context, db *sql.DB) (*OperationalStore, error) {
	if err := migrate(ctx, db, operationalSchema); err != nil {
		return nil, err
	}
	return &OperationalStore{db: db}, nil
}

// Replace inserts or replaces rec.
func (s *OperationalStore) Replace(ctx context.Context, rec warehouse.OperationalRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO products
		(product_id, url, title, gold_price, retail_price, unit, brand, model,
		 category_level1, category_level2, category_level3, category_level4, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ProductID, rec.URL, rec.Title,
		nullFloat(rec.GoldPrice), nullFloat(rec.RetailPrice), rec.Unit,
		nullString(rec.Brand), nullString(rec.Model),
		nullString(rec.Category[0]), nullString(rec.Category[1]),
		nullString(rec.Category[2]), nullString(rec.Category[3]),
		formatTime(rec.ObservedAt),
	)
	if err != nil {
		return fmt.Errorf("replace operational product %s: %w", rec.ProductID, err)
	}
	return nil
}

// AllRecords streams every operational row to fn.
func (s *OperationalStore) AllRecords(ctx context.Context, fn func(warehouse.OperationalRecord) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT product_id, url, title, gold_price, retail_price, unit,
		brand, model, category_level1, category_level2, category_level3, category_level4, observed_at
		FROM products`)
	if err != nil {
		return fmt.Errorf("query operational products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec                    warehouse.OperationalRecord
			url, title             sql.NullString
			brand, model, observed sql.NullString
			levels                 [warehouse.CategoryDepth]sql.NullString
			goldPrice, retailPrice sql.NullFloat64
		)
		if err := rows.Scan(&rec.ProductID, &url, &title, &goldPrice, &retailPrice, &rec.Unit,
			&brand, &model, &levels[0], &levels[1], &levels[2], &levels[3], &observed); err != nil {
			return fmt.Errorf("scan operational product: %w", err)
		}
		rec.URL = url.String
		rec.Title = title.String
		rec.Brand = brand.String
		rec.Model = model.String
		rec.GoldPrice = floatPtr(goldPrice)
		rec.RetailPrice = floatPtr(retailPrice)
		for i, level := range levels {
			rec.Category[i] = level.String
		}
		if rec.ObservedAt, err = parseTime(observed); err != nil {
			return fmt.Errorf("operational product %s: %w", rec.ProductID, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Count returns the number of operational rows.
func (s *OperationalStore) Count(ctx context.Context) (int64, error) {
	return count(ctx, s.db, "products")
}
