package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/JakeFAU/catalog-warehouse/internal/warehouse"
)

// Warehouse opens the three layer files of one namespace.
type Warehouse struct {
	Raw         *RawStore
	Operational *OperationalStore
	Dimensional *DimensionalStore

	dbs []*sql.DB
}

// OpenWarehouse opens or creates every layer file for ns under dir.
func OpenWarehouse(ctx context.Context, dir string, ns warehouse.Namespace) (*Warehouse, error) {
	if err := ns.Validate(); err != nil {
		return nil, err
	}
	w := &Warehouse{}
	open := func(layer Layer) (*sql.DB, error) {
		db, err := Open(ctx, Path(dir, ns, layer))
		if err != nil {
			return nil, err
		}
		w.dbs = append(w.dbs, db)
		return db, nil
	}

	rawDB, err := open(LayerRaw)
	if err != nil {
		return nil, w.closeWith(err)
	}
	if w.Raw, err = NewRawStore(ctx, rawDB); err != nil {
		return nil, w.closeWith(err)
	}
	odsDB, err := open(LayerOperational)
	if err != nil {
		return nil, w.closeWith(err)
	}
	if w.Operational, err = NewOperationalStore(ctx, odsDB); err != nil {
		return nil, w.closeWith(err)
	}
	ddsDB, err := open(LayerDimensional)
	if err != nil {
		return nil, w.closeWith(err)
	}
	if w.Dimensional, err = NewDimensionalStore(ctx, ddsDB); err != nil {
		return nil, w.closeWith(err)
	}
	return w, nil
}

// Counts implements warehouse.Counter.
func (w *Warehouse) Counts(ctx context.Context) (warehouse.LayerCounts, error) {
	var (
		out warehouse.LayerCounts
		err error
	)
	if out.Raw, err = w.Raw.Count(ctx); err != nil {
		return out, err
	}
	if out.Operational, err = w.Operational.Count(ctx); err != nil {
		return out, err
	}
	out.Brands, out.Categories, out.Facts, err = w.Dimensional.Counts(ctx)
	return out, err
}

// Close closes every layer file.
func (w *Warehouse) Close() error {
	var errs []error
	for _, db := range w.dbs {
		errs = append(errs, db.Close())
	}
	w.dbs = nil
	return errors.Join(errs...)
}

func (w *Warehouse) closeWith(err error) error {
	return errors.Join(err, w.Close())
}
