package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/catalog-warehouse/internal/warehouse"
)

// Warehouse groups the layer stores of one namespace schema.
type Warehouse struct {
	Raw         *RawStore
	Operational *OperationalStore
	Dimensional *DimensionalStore

	db     querier
	schema string
}

// New binds the stores for ns to db. Nothing is executed until Migrate.
func New(db querier, ns warehouse.Namespace) (*Warehouse, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if err := ns.Validate(); err != nil {
		return nil, err
	}
	schema := ns.Schema()
	return &Warehouse{
		Raw:         &RawStore{db: db, table: table(schema, "raw_products")},
		Operational: &OperationalStore{db: db, table: table(schema, "ods_products")},
		Dimensional: &DimensionalStore{
			db:         db,
			brands:     table(schema, "dim_brand"),
			categories: table(schema, "dim_category"),
			facts:      table(schema, "fact_product"),
		},
		db:     db,
		schema: schema,
	}, nil
}

// Schema returns the unquoted schema name.
func (w *Warehouse) Schema() string {
	return w.schema
}

// Migrate creates the schema and tables when missing.
func (w *Warehouse) Migrate(ctx context.Context) error {
	statements := []string{
		"CREATE SCHEMA IF NOT EXISTS " + pgx.Identifier{w.schema}.Sanitize(),
		w.Raw.schema(),
		w.Operational.schema(),
	}
	statements = append(statements, w.Dimensional.schema()...)
	for _, stmt := range statements {
		if _, err := w.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", w.schema, err)
		}
	}
	return nil
}

// Counts implements warehouse.Counter.
func (w *Warehouse) Counts(ctx context.Context) (warehouse.LayerCounts, error) {
	var out warehouse.LayerCounts
	targets := []struct {
		table string
		dst   *int64
	}{
		{w.Raw.table, &out.Raw},
		{w.Operational.table, &out.Operational},
		{w.Dimensional.brands, &out.Brands},
		{w.Dimensional.categories, &out.Categories},
		{w.Dimensional.facts, &out.Facts},
	}
	for _, t := range targets {
		if err := w.db.QueryRow(ctx, "SELECT COUNT(*) FROM "+t.table).Scan(t.dst); err != nil {
			return out, fmt.Errorf("count %s: %w", t.table, err)
		}
	}
	return out, nil
}

// Close releases the pool.
func (w *Warehouse) Close() {
	if w == nil || w.db == nil {
		return
	}
	w.db.Close()
}
