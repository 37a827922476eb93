// Package extract turns product card markup into raw warehouse records.
package extract

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/unicode/norm"

	"github.com/JakeFAU/catalog-warehouse/internal/warehouse"
)

const (
	linkSelector        = `a[data-test="product-link"]`
	titleSelector       = `span[data-test="product-title"]`
	codeSelector        = `p[data-test="product-code"]`
	goldPriceSelector   = `p[data-test="product-gold-price"]`
	retailPriceSelector = `p[data-test="product-retail-price"]`
	unitSelector        = `div.tab-active.price-switcher-tab`
	breadcrumbSelector  = `div[data-test="product-breadcrumbs"] a`
	descriptionSelector = `p[data-test="product-description"]`

	currencySign = "₽"
)

// CardExtractor implements crawler.Extractor for the product card layout.
type CardExtractor struct {
	base *url.URL
}

// New builds a CardExtractor that resolves product links against baseURL.
func New(baseURL string) (*CardExtractor, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url must be absolute: %q", baseURL)
	}
	return &CardExtractor{base: base}, nil
}

// ExtractFields reads every known field from fragment. Missing or malformed
// fields are left empty.
func (e *CardExtractor) ExtractFields(fragment string) warehouse.ProductRecord {
	rec := warehouse.ProductRecord{
		SourceFragment: fragment,
		Categories:     []string{},
		Features:       map[string]string{},
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return rec
	}

	if href, ok := doc.Find(linkSelector).First().Attr("href"); ok {
		rec.URL = e.resolve(href)
	}
	rec.Title = text(doc.Find(titleSelector).First())
	rec.ProductID = text(doc.Find(codeSelector).First())
	rec.GoldPrice = ParsePrice(text(doc.Find(goldPriceSelector).First()))
	rec.RetailPrice = ParsePrice(text(doc.Find(retailPriceSelector).First()))
	rec.Unit = text(doc.Find(unitSelector).First())

	doc.Find(breadcrumbSelector).Each(func(_ int, s *goquery.Selection) {
		rec.Categories = append(rec.Categories, text(s))
	})

	if desc := doc.Find(descriptionSelector).First(); desc.Length() > 0 {
		rec.Features = parseFeatures(desc)
	}
	return rec
}

func (e *CardExtractor) resolve(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return e.base.ResolveReference(ref).String()
}

// ParsePrice parses a displayed price such as "1 299,50 ₽". It returns nil
// when s holds no finite number.
func ParsePrice(s string) *float64 {
	s = norm.NFKC.String(s)
	s = strings.ReplaceAll(s, currencySign, "")
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	s = strings.ReplaceAll(s, ",", ".")
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// parseFeatures reads "key: value" lines separated by <br> tags.
func parseFeatures(desc *goquery.Selection) map[string]string {
	var (
		items []string
		cur   strings.Builder
	)
	desc.Contents().Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) == "br" {
			items = append(items, cur.String())
			cur.Reset()
			return
		}
		cur.WriteString(s.Text())
	})
	items = append(items, cur.String())

	features := map[string]string{}
	for _, item := range items {
		key, value, ok := strings.Cut(strings.TrimSpace(item), ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		features[key] = strings.TrimSpace(value)
	}
	return features
}

func text(s *goquery.Selection) string {
	return strings.TrimSpace(s.Text())
}
