// Package warehouse defines the record types and store contracts shared by the
// raw, operational and dimensional layers.
package warehouse

import (
	"encoding/json"
	"fmt"
	"time"
)

// CategoryDepth is the number of category levels kept in the operational layer.
const CategoryDepth = 4

// ProductRecord is one product as extracted from a listing page.
type ProductRecord struct {
	ProductID   string
	URL         string
	Title       string
	GoldPrice   *float64
	RetailPrice *float64
	// Unit is empty when the card shows no unit selector.
	Unit string
	// Categories are ordered root to leaf.
	Categories []string
	Features   map[string]string
	// SourceFragment keeps the container markup for audit.
	SourceFragment string
	ObservedAt     time.Time
}

// RawRow is a ProductRecord as persisted in the raw layer, with categories and
// features kept in their serialized JSON form.
type RawRow struct {
	ProductID      string
	URL            string
	Title          string
	GoldPrice      *float64
	RetailPrice    *float64
	Unit           string
	CategoriesJSON string
	FeaturesJSON   string
	SourceFragment string
	ObservedAt     time.Time
}

// EncodeRecord serializes the semi-structured fields of rec for the raw layer.
func EncodeRecord(rec ProductRecord) (RawRow, error) {
	categories := rec.Categories
	if categories == nil {
		categories = []string{}
	}
	features := rec.Features
	if features == nil {
		features = map[string]string{}
	}
	catJSON, err := json.Marshal(categories)
	if err != nil {
		return RawRow{}, fmt.Errorf("marshal categories: %w", err)
	}
	featJSON, err := json.Marshal(features)
	if err != nil {
		return RawRow{}, fmt.Errorf("marshal features: %w", err)
	}
	return RawRow{
		ProductID:      rec.ProductID,
		URL:            rec.URL,
		Title:          rec.Title,
		GoldPrice:      rec.GoldPrice,
		RetailPrice:    rec.RetailPrice,
		Unit:           rec.Unit,
		CategoriesJSON: string(catJSON),
		FeaturesJSON:   string(featJSON),
		SourceFragment: rec.SourceFragment,
		ObservedAt:     rec.ObservedAt,
	}, nil
}

// CategoryPath holds category levels root to leaf. An empty level is NULL.
type CategoryPath [CategoryDepth]string

// PathFromCategories maps an ordered category list onto the fixed-depth path.
// Entries past CategoryDepth are dropped.
func PathFromCategories(categories []string) CategoryPath {
	var path CategoryPath
	for i := 0; i < CategoryDepth && i < len(categories); i++ {
		path[i] = categories[i]
	}
	return path
}

// Empty reports whether every level is NULL.
func (p CategoryPath) Empty() bool {
	return p == CategoryPath{}
}

// Depth returns the index of the deepest non-empty level plus one.
func (p CategoryPath) Depth() int {
	for i := CategoryDepth - 1; i >= 0; i-- {
		if p[i] != "" {
			return i + 1
		}
	}
	return 0
}

// OperationalRecord is the normalized, one-row-per-product view of a raw row.
type OperationalRecord struct {
	ProductID   string
	URL         string
	Title       string
	GoldPrice   *float64
	RetailPrice *float64
	Unit        string
	// Brand and Model are empty when the feature is absent.
	Brand      string
	Model      string
	Category   CategoryPath
	ObservedAt time.Time
}

// BrandDimension is one row of the brand dimension.
type BrandDimension struct {
	Key  int64  `json:"key"`
	Name string `json:"name"`
}

// CategoryDimension is one row of the category dimension.
type CategoryDimension struct {
	Key  int64        `json:"key"`
	Path CategoryPath `json:"path"`
}

// FactRecord is one row of the product fact table.
type FactRecord struct {
	ProductID   string    `json:"product_id"`
	Title       string    `json:"title"`
	BrandKey    *int64    `json:"brand_key"`
	CategoryKey *int64    `json:"category_key"`
	GoldPrice   *float64  `json:"gold_price"`
	RetailPrice *float64  `json:"retail_price"`
	Unit        string    `json:"unit"`
	ObservedAt  time.Time `json:"observed_at"`
}

// LayerCounts reports row counts per warehouse layer.
type LayerCounts struct {
	Raw         int64 `json:"raw"`
	Operational int64 `json:"operational"`
	Brands      int64 `json:"brands"`
	Categories  int64 `json:"categories"`
	Facts       int64 `json:"facts"`
}
