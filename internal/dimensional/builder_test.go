package dimensional

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-warehouse/internal/storage/memory"
	"github.com/JakeFAU/catalog-warehouse/internal/warehouse"
)

func seedOperational(t *testing.T, recs ...warehouse.OperationalRecord) *memory.OperationalStore {
	t.Helper()
	ods := memory.NewOperationalStore()
	for _, rec := range recs {
		require.NoError(t, ods.Replace(context.Background(), rec))
	}
	return ods
}

func TestBuilderSharesBrandKeys(t *testing.T) {
	t.Parallel()

	ods := seedOperational(t,
		warehouse.OperationalRecord{ProductID: "1", Brand: "Acme", Category: warehouse.CategoryPath{"A", "B"}},
		warehouse.OperationalRecord{ProductID: "2", Brand: "Acme", Category: warehouse.CategoryPath{"A", "B"}},
		warehouse.OperationalRecord{ProductID: "3", Brand: "Other", Category: warehouse.CategoryPath{"A"}},
	)
	dim := memory.NewDimensionalStore()
	builder, err := NewBuilder("shop", ods, dim, zap.NewNop())
	require.NoError(t, err)

	report, err := builder.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, report.Facts)
	require.Equal(t, 2, report.BrandsCreated)
	require.Equal(t, 2, report.CategoriesCreated)

	f1, err := dim.Fact(context.Background(), "1")
	require.NoError(t, err)
	f2, err := dim.Fact(context.Background(), "2")
	require.NoError(t, err)
	f3, err := dim.Fact(context.Background(), "3")
	require.NoError(t, err)
	require.NotNil(t, f1.BrandKey)
	require.Equal(t, *f1.BrandKey, *f2.BrandKey)
	require.NotEqual(t, *f1.BrandKey, *f3.BrandKey)
	require.Equal(t, *f1.CategoryKey, *f2.CategoryKey)
	require.NotEqual(t, *f1.CategoryKey, *f3.CategoryKey)
}

func TestBuilderRerunCreatesNoDuplicates(t *testing.T) {
	t.Parallel()

	ods := seedOperational(t,
		warehouse.OperationalRecord{ProductID: "1", Brand: "Acme", Category: warehouse.CategoryPath{"A", "B"}},
		warehouse.OperationalRecord{ProductID: "2", Brand: "Beta", Category: warehouse.CategoryPath{"A", "B", "C"}},
	)
	dim := memory.NewDimensionalStore()
	builder, err := NewBuilder("shop", ods, dim, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = builder.Run(ctx)
	require.NoError(t, err)
	brands, err := dim.Brands(ctx)
	require.NoError(t, err)
	categories, err := dim.Categories(ctx)
	require.NoError(t, err)
	before, err := dim.Fact(ctx, "1")
	require.NoError(t, err)

	second, err := builder.Run(ctx)
	require.NoError(t, err)
	require.Zero(t, second.BrandsCreated)
	require.Zero(t, second.CategoriesCreated)

	brandsAgain, err := dim.Brands(ctx)
	require.NoError(t, err)
	categoriesAgain, err := dim.Categories(ctx)
	require.NoError(t, err)
	after, err := dim.Fact(ctx, "1")
	require.NoError(t, err)
	require.Equal(t, brands, brandsAgain)
	require.Equal(t, categories, categoriesAgain)
	require.Equal(t, before, after)
	require.Equal(t, 2, dim.FactCount())
}

func TestBuilderTrailingNullLevelsMatch(t *testing.T) {
	t.Parallel()

	ods := seedOperational(t,
		warehouse.OperationalRecord{ProductID: "1", Category: warehouse.PathFromCategories([]string{"A", "B"})},
		warehouse.OperationalRecord{ProductID: "2", Category: warehouse.CategoryPath{"A", "B", "", ""}},
	)
	dim := memory.NewDimensionalStore()
	builder, err := NewBuilder("shop", ods, dim, nil)
	require.NoError(t, err)

	report, err := builder.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.CategoriesCreated)

	categories, err := dim.Categories(context.Background())
	require.NoError(t, err)
	require.Len(t, categories, 1)
	require.Equal(t, warehouse.CategoryPath{"A", "B"}, categories[0].Path)
}

func TestBuilderMissingBrandIsNullEmptyCategoryIsShared(t *testing.T) {
	t.Parallel()

	ods := seedOperational(t,
		warehouse.OperationalRecord{ProductID: "1", Title: "Nameless"},
		warehouse.OperationalRecord{ProductID: "2", Title: "Also nameless"},
	)
	dim := memory.NewDimensionalStore()
	builder, err := NewBuilder("shop", ods, dim, nil)
	require.NoError(t, err)

	report, err := builder.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.CategoriesCreated)

	f1, err := dim.Fact(context.Background(), "1")
	require.NoError(t, err)
	f2, err := dim.Fact(context.Background(), "2")
	require.NoError(t, err)
	require.Nil(t, f1.BrandKey)
	require.NotNil(t, f1.CategoryKey)
	require.NotNil(t, f2.CategoryKey)
	require.Equal(t, *f1.CategoryKey, *f2.CategoryKey)
	require.Equal(t, "Nameless", f1.Title)

	categories, err := dim.Categories(context.Background())
	require.NoError(t, err)
	require.Len(t, categories, 1)
	require.True(t, categories[0].Path.Empty())

	brands, err := dim.Brands(context.Background())
	require.NoError(t, err)
	require.Empty(t, brands)
}

func TestBuilderPropagatesStoreErrors(t *testing.T) {
	t.Parallel()

	ods := seedOperational(t, warehouse.OperationalRecord{ProductID: "1", Brand: "Acme"})
	builder, err := NewBuilder("shop", ods, failingDim{DimensionalStore: memory.NewDimensionalStore()}, nil)
	require.NoError(t, err)

	_, err = builder.Run(context.Background())
	require.ErrorContains(t, err, "connection reset")
}

func TestNewBuilderValidation(t *testing.T) {
	t.Parallel()

	_, err := NewBuilder("shop", nil, memory.NewDimensionalStore(), nil)
	require.Error(t, err)
	_, err = NewBuilder("shop", memory.NewOperationalStore(), nil, nil)
	require.Error(t, err)
}

type failingDim struct {
	warehouse.DimensionalStore
}

func (failingDim) BrandKey(context.Context, string) (int64, bool, error) {
	return 0, false, errors.New("connection reset")
}
