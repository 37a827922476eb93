package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-warehouse/internal/warehouse"
)

func TestRawStoreUpsertReplacesRow(t *testing.T) {
	t.Parallel()

	store := NewRawStore()
	ctx := context.Background()
	price := 10.0

	require.NoError(t, store.Upsert(ctx, warehouse.ProductRecord{ProductID: "1", Title: "old", GoldPrice: &price}))
	require.NoError(t, store.Upsert(ctx, warehouse.ProductRecord{ProductID: "1", Title: "new", Categories: []string{"a"}}))
	require.Error(t, store.Upsert(ctx, warehouse.ProductRecord{}))

	var rows []warehouse.RawRow
	require.NoError(t, store.AllRecords(ctx, func(r warehouse.RawRow) error {
		rows = append(rows, r)
		return nil
	}))
	require.Len(t, rows, 1)
	require.Equal(t, "new", rows[0].Title)
	require.Nil(t, rows[0].GoldPrice, "replace must not merge old columns")
	require.Equal(t, `["a"]`, rows[0].CategoriesJSON)
	require.Equal(t, `{}`, rows[0].FeaturesJSON)
}

func TestDimensionalStoreKeysAreStable(t *testing.T) {
	t.Parallel()

	store := NewDimensionalStore()
	ctx := context.Background()

	acme, created, err := store.BrandKey(ctx, "Acme")
	require.NoError(t, err)
	require.True(t, created)
	again, created, err := store.BrandKey(ctx, "Acme")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, acme, again)

	other, _, err := store.BrandKey(ctx, "Other")
	require.NoError(t, err)
	require.NotEqual(t, acme, other)

	_, _, err = store.BrandKey(ctx, "")
	require.Error(t, err)

	path := warehouse.CategoryPath{"A", "B"}
	k1, _, err := store.CategoryKey(ctx, path)
	require.NoError(t, err)
	k2, created, err := store.CategoryKey(ctx, warehouse.PathFromCategories([]string{"A", "B"}))
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, k1, k2)

	brands, err := store.Brands(ctx)
	require.NoError(t, err)
	require.Equal(t, []warehouse.BrandDimension{{Key: acme, Name: "Acme"}, {Key: other, Name: "Other"}}, brands)
}

func TestDimensionalStoreFacts(t *testing.T) {
	t.Parallel()

	store := NewDimensionalStore()
	ctx := context.Background()

	_, err := store.Fact(ctx, "missing")
	require.ErrorIs(t, err, warehouse.ErrNotFound)

	require.NoError(t, store.UpsertFact(ctx, warehouse.FactRecord{ProductID: "p", Title: "v1"}))
	require.NoError(t, store.UpsertFact(ctx, warehouse.FactRecord{ProductID: "p", Title: "v2"}))
	fact, err := store.Fact(ctx, "p")
	require.NoError(t, err)
	require.Equal(t, "v2", fact.Title)
	require.Equal(t, 1, store.FactCount())
}

func TestCheckpointCopiesSet(t *testing.T) {
	t.Parallel()

	cp := NewCheckpoint("a")
	require.NoError(t, cp.MarkComplete(context.Background(), "b"))

	set, err := cp.Completed(context.Background())
	require.NoError(t, err)
	require.Len(t, set, 2)
	set.Add("c")

	again, err := cp.Completed(context.Background())
	require.NoError(t, err)
	require.Len(t, again, 2)
}

func TestWarehouseCounts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w := NewWarehouse()
	require.NoError(t, w.Raw.Upsert(ctx, warehouse.ProductRecord{ProductID: "1"}))
	require.NoError(t, w.Raw.Upsert(ctx, warehouse.ProductRecord{ProductID: "2"}))
	require.NoError(t, w.Operational.Replace(ctx, warehouse.OperationalRecord{ProductID: "1"}))
	_, _, err := w.Dimensional.BrandKey(ctx, "Acme")
	require.NoError(t, err)
	require.NoError(t, w.Dimensional.UpsertFact(ctx, warehouse.FactRecord{ProductID: "1"}))

	counts, err := w.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, warehouse.LayerCounts{Raw: 2, Operational: 1, Brands: 1, Facts: 1}, counts)
	require.NoError(t, w.Close())
}
