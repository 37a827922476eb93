package crawler

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Default selectors for the product card layout of the reference catalog.
const (
	DefaultContainerSelector = `div[data-test="product-card-catalog-wide"]`
	DefaultSignatureSelector = `a[data-test="product-link"]`
	DefaultSignatureAttr     = "href"
)

// ParserConfig controls HTMLParser.
type ParserConfig struct {
	Shape             SegmentShape
	ContainerSelector string
	SignatureSelector string
	SignatureAttr     string
}

// HTMLParser implements PageParser with goquery.
type HTMLParser struct {
	cfg ParserConfig
}

// NewHTMLParser builds an HTMLParser, filling unset selectors with defaults.
func NewHTMLParser(cfg ParserConfig) (*HTMLParser, error) {
	if cfg.Shape.Depth <= 0 {
		return nil, fmt.Errorf("segment depth must be > 0")
	}
	if cfg.ContainerSelector == "" {
		cfg.ContainerSelector = DefaultContainerSelector
	}
	if cfg.SignatureSelector == "" {
		cfg.SignatureSelector = DefaultSignatureSelector
	}
	if cfg.SignatureAttr == "" {
		cfg.SignatureAttr = DefaultSignatureAttr
	}
	return &HTMLParser{cfg: cfg}, nil
}

// SegmentLinks returns the canonical segment URLs linked from body, deduplicated
// and in document order.
func (p *HTMLParser) SegmentLinks(body []byte, base *url.URL) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse listing page: %w", err)
	}
	seen := make(map[Segment]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		seg, ok := CanonicalSegment(href, base, p.cfg.Shape)
		if !ok {
			return
		}
		if _, dup := seen[seg]; dup {
			return
		}
		seen[seg] = struct{}{}
		links = append(links, string(seg))
	})
	return links, nil
}

// Containers returns every product card on the page in document order.
func (p *HTMLParser) Containers(body []byte) ([]Container, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	var out []Container
	var renderErr error
	doc.Find(p.cfg.ContainerSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		fragment, err := goquery.OuterHtml(s)
		if err != nil {
			renderErr = fmt.Errorf("render container: %w", err)
			return false
		}
		sig, _ := s.Find(p.cfg.SignatureSelector).First().Attr(p.cfg.SignatureAttr)
		out = append(out, Container{
			Signature: strings.TrimSpace(sig),
			Fragment:  fragment,
		})
		return true
	})
	if renderErr != nil {
		return nil, renderErr
	}
	return out, nil
}
