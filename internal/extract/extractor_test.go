package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleCard = `<div data-test="product-card-catalog-wide">
  <div data-test="product-breadcrumbs">
    <a href="/catalog/1/">Стройматериалы</a>
    <a href="/catalog/12/">Сухие смеси</a>
    <a href="/catalog/123/">Штукатурки</a>
  </div>
  <a data-test="product-link" href="/product/104599/">
    <span data-test="product-title"> Штукатурка гипсовая 30 кг </span>
  </a>
  <p data-test="product-code">104599</p>
  <p data-test="product-gold-price">1` + "\u2009" + `299,50 ₽</p>
  <p data-test="product-retail-price">1` + "\u00a0" + `350 ₽</p>
  <div class="price-switcher-tab tab-active">шт</div>
  <div class="price-switcher-tab">м2</div>
  <p data-test="product-description">Бренд: Acme<br>Модель: GX-30<br>Вес: 30 кг<br>без двоеточия</p>
</div>`

func TestExtractFieldsFullCard(t *testing.T) {
	t.Parallel()

	ex, err := New("https://shop.test")
	require.NoError(t, err)

	rec := ex.ExtractFields(sampleCard)

	require.Equal(t, "104599", rec.ProductID)
	require.Equal(t, "https://shop.test/product/104599/", rec.URL)
	require.Equal(t, "Штукатурка гипсовая 30 кг", rec.Title)
	require.NotNil(t, rec.GoldPrice)
	require.InDelta(t, 1299.50, *rec.GoldPrice, 1e-9)
	require.NotNil(t, rec.RetailPrice)
	require.InDelta(t, 1350.0, *rec.RetailPrice, 1e-9)
	require.Equal(t, "шт", rec.Unit)
	require.Equal(t, []string{"Стройматериалы", "Сухие смеси", "Штукатурки"}, rec.Categories)
	require.Equal(t, map[string]string{
		"Бренд":  "Acme",
		"Модель": "GX-30",
		"Вес":    "30 кг",
	}, rec.Features)
	require.Equal(t, sampleCard, rec.SourceFragment)
}

func TestExtractFieldsToleratesMissingFields(t *testing.T) {
	t.Parallel()

	ex, err := New("https://shop.test")
	require.NoError(t, err)

	rec := ex.ExtractFields(`<div data-test="product-card-catalog-wide"><p data-test="product-gold-price">по запросу</p></div>`)

	require.Empty(t, rec.ProductID)
	require.Empty(t, rec.URL)
	require.Nil(t, rec.GoldPrice)
	require.Nil(t, rec.RetailPrice)
	require.Empty(t, rec.Unit)
	require.NotNil(t, rec.Categories)
	require.Empty(t, rec.Categories)
	require.NotNil(t, rec.Features)
	require.Empty(t, rec.Features)
}

func TestParsePrice(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		in   string
		want *float64
	}{
		{"1 299,50 ₽", ptr(1299.5)},
		{"15\u2009000\u00a0₽", ptr(15000)},
		{"99", ptr(99)},
		{"", nil},
		{"₽", nil},
		{"нет в наличии", nil},
		{"NaN", nil},
		{"Inf ₽", nil},
		{"-Infinity", nil},
		{"1e400", nil},
	}
	for _, tc := range testCases {
		got := ParsePrice(tc.in)
		if tc.want == nil {
			require.Nil(t, got, tc.in)
			continue
		}
		require.NotNil(t, got, tc.in)
		require.InDelta(t, *tc.want, *got, 1e-9, tc.in)
	}
}

func TestNewRequiresAbsoluteBase(t *testing.T) {
	t.Parallel()

	_, err := New("/relative")
	require.Error(t, err)
}

func ptr(v float64) *float64 { return &v }
