package crawler

import (
	"fmt"
	"net/url"

	"github.com/JakeFAU/catalog-warehouse/internal/warehouse"
)

// Defaults for the reference catalog layout.
const (
	DefaultPageParam          = "p"
	DefaultArchiveContentType = "text/html; charset=utf-8"
)

// Config captures every knob that influences a crawl session.
type Config struct {
	Namespace warehouse.Namespace
	// ListingURL is the top-level page that links to every segment.
	ListingURL string
	// PageParam is the query parameter carrying the 1-based page number.
	PageParam string
	// ArchivePrefix is prepended to archived page paths when a BlobStore is set.
	ArchivePrefix      string
	ArchiveContentType string
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if err := c.Namespace.Validate(); err != nil {
		return fmt.Errorf("namespace: %w", err)
	}
	if c.ListingURL == "" {
		return fmt.Errorf("listing url must be set")
	}
	u, err := url.Parse(c.ListingURL)
	if err != nil {
		return fmt.Errorf("parse listing url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("listing url must be absolute: %q", c.ListingURL)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.PageParam == "" {
		c.PageParam = DefaultPageParam
	}
	if c.ArchiveContentType == "" {
		c.ArchiveContentType = DefaultArchiveContentType
	}
	return c
}
