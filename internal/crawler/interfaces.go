package crawler

import (
	"context"
	"io"
	"net/url"
	"time"

	"github.com/JakeFAU/catalog-warehouse/internal/warehouse"
)

// Fetcher fetches a URL and returns the rendered body plus metadata.
// Errors wrapping ErrTransportUnusable end the whole session.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// PageParser splits listing pages into segment links and product containers.
type PageParser interface {
	SegmentLinks(body []byte, base *url.URL) ([]string, error)
	Containers(body []byte) ([]Container, error)
}

// Extractor turns one container fragment into a product record. It never
// fails on parseable input; missing fields stay empty.
type Extractor interface {
	ExtractFields(fragment string) warehouse.ProductRecord
}

// EmptyPageCheck inspects a page without product containers. Pages it calls
// unrendered fail the segment instead of ending it.
type EmptyPageCheck interface {
	Unrendered(resp FetchResponse) bool
}

// Checkpoint is the durable set of fully completed segments.
type Checkpoint interface {
	Completed(ctx context.Context) (SegmentSet, error)
	// MarkComplete must be durable before it returns.
	MarkComplete(ctx context.Context, segment Segment) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Hasher computes digests for archive object keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces session IDs.
type IDGenerator interface {
	NewID() (string, error)
}
