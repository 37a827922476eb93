package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-warehouse/internal/warehouse"
)

const (
	testBase    = "https://shop.test"
	testListing = testBase + "/catalog/"
	segA        = Segment(testBase + "/catalog/100/")
	segB        = Segment(testBase + "/catalog/200/")
)

func TestPendingSegments(t *testing.T) {
	t.Parallel()

	discovered := NewSegmentSet(segA, segB)
	completed := NewSegmentSet(segA, Segment(testBase+"/catalog/999/"))

	pending := PendingSegments(discovered, completed)

	require.Len(t, pending, 1)
	require.True(t, pending.Has(segB))
	require.Len(t, discovered, 2, "inputs must not be mutated")
}

func TestRunSession_PaginatesUntilEmptyPage(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.pages[testListing] = listingHTML("100")
	fetcher.pages[pageOf(segA, 1)] = cardsHTML("a1", 20)
	fetcher.pages[pageOf(segA, 2)] = cardsHTML("a2", 20)
	fetcher.pages[pageOf(segA, 3)] = cardsHTML("a3", 0)

	raw := newFakeRawStore()
	cp := newFakeCheckpoint()
	frontier := newTestFrontier(t, fetcher, raw, cp)

	report, err := frontier.RunSession(context.Background())
	require.NoError(t, err)

	require.Equal(t, 40, report.TotalSaved)
	require.Equal(t, []Segment{segA}, report.Completed)
	require.Empty(t, report.Failed)
	require.Empty(t, report.Remaining)
	require.Equal(t, 40, raw.len())
	require.Equal(t, []Segment{segA}, cp.marks)
	require.NotContains(t, fetcher.calledURLs(), pageOf(segA, 4))
}

func TestRunSession_StopsOnPaginationLoop(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.pages[testListing] = listingHTML("100")
	fetcher.pages[pageOf(segA, 1)] = cardsHTML("a1", 20)
	fetcher.pages[pageOf(segA, 2)] = cardsHTML("a2", 20)
	// The site serves the last page again for out-of-range page numbers.
	fetcher.pages[pageOf(segA, 3)] = cardsHTML("a2", 20)

	raw := newFakeRawStore()
	cp := newFakeCheckpoint()
	frontier := newTestFrontier(t, fetcher, raw, cp)

	report, err := frontier.RunSession(context.Background())
	require.NoError(t, err)

	require.Equal(t, 40, report.TotalSaved)
	require.Equal(t, []Segment{segA}, report.Completed)
	require.Equal(t, 40, raw.upserts)
	require.NotContains(t, fetcher.calledURLs(), pageOf(segA, 4))
}

func TestCrawlSegment_LoopDetectedWithoutSignatureLink(t *testing.T) {
	t.Parallel()

	// Cards carry a product code but no product link anchor.
	repeated := `<html><body>` +
		`<div data-test="product-card-catalog-wide" data-id="c-1">one</div>` +
		`<div data-test="product-card-catalog-wide" data-id="c-2">two</div>` +
		`<div data-test="product-card-catalog-wide" data-id="c-3">three</div>` +
		`</body></html>`
	fetcher := newFakeFetcher()
	for page := 1; page <= 5; page++ {
		fetcher.pages[pageOf(segA, page)] = repeated
	}

	raw := newFakeRawStore()
	frontier := newTestFrontier(t, fetcher, raw, newFakeCheckpoint())

	saved, err := frontier.CrawlSegment(context.Background(), segA)
	require.NoError(t, err)
	require.Equal(t, 3, saved)
	require.Equal(t, 3, raw.upserts)
	require.Equal(t, []string{pageOf(segA, 1), pageOf(segA, 2)}, fetcher.calledURLs())
}

func TestCrawlSegment_LoopDetectedForAnonymousCards(t *testing.T) {
	t.Parallel()

	// No link and no extractable ID: the fragment itself identifies the page.
	repeated := `<html><body><div data-test="product-card-catalog-wide"><span>sold out</span></div></body></html>`
	fetcher := newFakeFetcher()
	for page := 1; page <= 5; page++ {
		fetcher.pages[pageOf(segA, page)] = repeated
	}

	frontier := newTestFrontier(t, fetcher, newFakeRawStore(), newFakeCheckpoint())

	saved, err := frontier.CrawlSegment(context.Background(), segA)
	require.NoError(t, err)
	require.Zero(t, saved)
	require.Len(t, fetcher.calledURLs(), 2)
}

func TestRunSession_PageFailureLeavesSegmentIncomplete(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.pages[testListing] = listingHTML("100", "200")
	fetcher.pages[pageOf(segA, 1)] = cardsHTML("a1", 5)
	fetcher.errs[pageOf(segA, 2)] = errors.New("navigation timeout")
	fetcher.pages[pageOf(segB, 1)] = cardsHTML("b1", 3)

	raw := newFakeRawStore()
	cp := newFakeCheckpoint()
	frontier := newTestFrontier(t, fetcher, raw, cp)

	report, err := frontier.RunSession(context.Background())
	require.NoError(t, err)

	require.Equal(t, 8, report.TotalSaved)
	require.Equal(t, []Segment{segB}, report.Completed)
	require.Len(t, report.Failed, 1)
	require.Equal(t, segA, report.Failed[0].Segment)
	require.Equal(t, []Segment{segA}, report.Remaining)
	require.False(t, report.Aborted)
	require.Equal(t, []Segment{segB}, cp.marks)
}

func TestRunSession_TransportUnusableAbortsSession(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.pages[testListing] = listingHTML("100", "200")
	fetcher.pages[pageOf(segA, 1)] = cardsHTML("a1", 2)
	fetcher.errs[pageOf(segB, 1)] = fmt.Errorf("browser crashed: %w", ErrTransportUnusable)

	raw := newFakeRawStore()
	cp := newFakeCheckpoint()
	frontier := newTestFrontier(t, fetcher, raw, cp)

	report, err := frontier.RunSession(context.Background())
	require.ErrorIs(t, err, ErrTransportUnusable)
	require.True(t, report.Aborted)
	require.Equal(t, []Segment{segA}, report.Completed)
	require.Equal(t, []Segment{segB}, report.Remaining)
	require.True(t, cp.set.Has(segA), "completed segments stay checkpointed")
	require.False(t, cp.set.Has(segB))
}

func TestRunSession_NothingPendingDoesNoSegmentWork(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.pages[testListing] = listingHTML("100", "200")

	raw := newFakeRawStore()
	cp := newFakeCheckpoint(segA, segB)
	frontier := newTestFrontier(t, fetcher, raw, cp)

	report, err := frontier.RunSession(context.Background())
	require.NoError(t, err)

	require.Equal(t, 0, report.Pending)
	require.Equal(t, []string{testListing}, fetcher.calledURLs())
	require.Zero(t, raw.upserts)
	require.Empty(t, cp.marks)
}

func TestRunSession_ResumeSkipsCompletedSegments(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.pages[testListing] = listingHTML("100", "200")
	fetcher.pages[pageOf(segA, 1)] = cardsHTML("a1", 2)
	fetcher.errs[pageOf(segB, 1)] = fmt.Errorf("tab closed: %w", ErrTransportUnusable)

	raw := newFakeRawStore()
	cp := newFakeCheckpoint()
	frontier := newTestFrontier(t, fetcher, raw, cp)

	_, err := frontier.RunSession(context.Background())
	require.ErrorIs(t, err, ErrTransportUnusable)

	delete(fetcher.errs, pageOf(segB, 1))
	fetcher.pages[pageOf(segB, 1)] = cardsHTML("b1", 4)
	fetcher.reset()

	report, err := frontier.RunSession(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Pending)
	require.Equal(t, []Segment{segB}, report.Completed)
	for _, u := range fetcher.calledURLs() {
		require.False(t, strings.HasPrefix(u, string(segA)), "completed segment %s refetched via %s", segA, u)
	}
	require.Equal(t, []Segment{segA, segB}, cp.marks)
}

func TestRunSession_DiscoveryFailure(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.pages[testListing] = `<html><body><a href="/about/">about</a><a href="/catalog/x/1/">deep</a></body></html>`

	frontier := newTestFrontier(t, fetcher, newFakeRawStore(), newFakeCheckpoint())

	report, err := frontier.RunSession(context.Background())
	require.ErrorIs(t, err, ErrDiscovery)
	require.True(t, report.Aborted)
	require.Zero(t, report.TotalSaved)
}

func TestCrawlSegment_SkipsRecordsWithoutProductID(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.pages[pageOf(segA, 1)] = `<html><body>` +
		card("a-1") +
		`<div data-test="product-card-catalog-wide"><a data-test="product-link" href="/product/none/">x</a></div>` +
		`</body></html>`

	raw := newFakeRawStore()
	frontier := newTestFrontier(t, fetcher, raw, newFakeCheckpoint())

	saved, err := frontier.CrawlSegment(context.Background(), segA)
	require.NoError(t, err)
	require.Equal(t, 1, saved)
	require.Equal(t, 1, raw.len())
}

func TestCrawlSegment_ErrorStatusIsPageFailure(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.status[pageOf(segA, 1)] = http.StatusBadGateway

	frontier := newTestFrontier(t, fetcher, newFakeRawStore(), newFakeCheckpoint())

	_, err := frontier.CrawlSegment(context.Background(), segA)
	require.ErrorIs(t, err, ErrPageFetch)
	require.False(t, IsSessionFatal(err))
}

func TestCrawlSegment_StoreFailureIsSessionFatal(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.pages[pageOf(segA, 1)] = cardsHTML("a1", 3)
	raw := newFakeRawStore()
	raw.err = errors.New("disk full")

	frontier := newTestFrontier(t, fetcher, raw, newFakeCheckpoint())

	_, err := frontier.CrawlSegment(context.Background(), segA)
	require.ErrorIs(t, err, ErrStoreWrite)
	require.True(t, IsSessionFatal(err))
}

func TestCrawlSegment_ArchivesPages(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.pages[pageOf(segA, 1)] = cardsHTML("a1", 1)
	blobs := &fakeBlobStore{}

	frontier, err := NewFrontier(testConfig(), Deps{
		Fetcher:    fetcher,
		Parser:     mustParser(t),
		Extractor:  fakeExtractor{},
		Raw:        newFakeRawStore(),
		Checkpoint: newFakeCheckpoint(),
		Archive:    blobs,
		Hasher:     fakeHasher{},
		Clock:      fixedClock{},
	}, zap.NewNop())
	require.NoError(t, err)

	_, err = frontier.CrawlSegment(context.Background(), segA)
	require.NoError(t, err)
	require.Len(t, blobs.paths, 2)
	require.Equal(t, "pages/shop/test/digest/page-0001.html", blobs.paths[0])
	require.Equal(t, "pages/shop/test/digest/page-0002.html", blobs.paths[1])
}

func TestCrawlSegment_UnrenderedEmptyPageFailsSegment(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.pages[pageOf(segA, 1)] = cardsHTML("a1", 2)
	fetcher.pages[pageOf(segA, 2)] = `<html><body><div id="__next"></div></body></html>`
	raw := newFakeRawStore()

	frontier, err := NewFrontier(testConfig(), Deps{
		Fetcher:    fetcher,
		Parser:     mustParser(t),
		Extractor:  fakeExtractor{},
		Raw:        raw,
		Checkpoint: newFakeCheckpoint(),
		EmptyCheck: shellCheck{},
		Clock:      fixedClock{},
	}, zap.NewNop())
	require.NoError(t, err)

	saved, err := frontier.CrawlSegment(context.Background(), segA)
	require.ErrorIs(t, err, ErrPageFetch)
	require.Equal(t, 2, saved)
	require.Equal(t, 2, raw.len())
}

func TestNewFrontierRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := NewFrontier(testConfig(), Deps{}, nil)
	require.Error(t, err)

	_, err = NewFrontier(Config{ListingURL: testListing}, Deps{}, nil)
	require.Error(t, err)
}

func newTestFrontier(t *testing.T, fetcher Fetcher, raw warehouse.RawStore, cp Checkpoint) *Frontier {
	t.Helper()
	frontier, err := NewFrontier(testConfig(), Deps{
		Fetcher:    fetcher,
		Parser:     mustParser(t),
		Extractor:  fakeExtractor{},
		Raw:        raw,
		Checkpoint: cp,
		Clock:      fixedClock{},
	}, zap.NewNop())
	require.NoError(t, err)
	return frontier
}

func testConfig() Config {
	return Config{
		Namespace:     warehouse.Namespace{Source: "shop", Env: warehouse.EnvTest},
		ListingURL:    testListing,
		ArchivePrefix: "pages",
	}
}

func mustParser(t *testing.T) *HTMLParser {
	t.Helper()
	p, err := NewHTMLParser(ParserConfig{Shape: SegmentShape{Prefix: "/catalog/", Depth: 2}})
	require.NoError(t, err)
	return p
}

func pageOf(seg Segment, page int) string {
	u, err := PageURL(seg, DefaultPageParam, page)
	if err != nil {
		panic(err)
	}
	return u
}

func listingHTML(ids ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><nav><a href="/catalog/">all</a><a href="/about/">about</a></nav>`)
	for _, id := range ids {
		fmt.Fprintf(&b, `<a href="/catalog/%s/">segment %s</a>`, id, id)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

func cardsHTML(prefix string, n int) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="listing">`)
	for i := 0; i < n; i++ {
		b.WriteString(card(fmt.Sprintf("%s-%d", prefix, i)))
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

func card(id string) string {
	return fmt.Sprintf(
		`<div data-test="product-card-catalog-wide" data-id="%s"><a data-test="product-link" href="/product/%s/">%s</a></div>`,
		id, id, id,
	)
}

type fakeFetcher struct {
	mu     sync.Mutex
	pages  map[string]string
	errs   map[string]error
	status map[string]int
	calls  []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages:  map[string]string{},
		errs:   map[string]error{},
		status: map[string]int{},
	}
}

func (f *fakeFetcher) Fetch(_ context.Context, req FetchRequest) (FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.URL)
	if err, ok := f.errs[req.URL]; ok {
		return FetchResponse{}, err
	}
	status := http.StatusOK
	if code, ok := f.status[req.URL]; ok {
		status = code
	}
	body, ok := f.pages[req.URL]
	if !ok {
		body = `<html><body></body></html>`
	}
	return FetchResponse{URL: req.URL, StatusCode: status, Body: []byte(body), Duration: time.Millisecond}, nil
}

func (f *fakeFetcher) calledURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeFetcher) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

type shellCheck struct{}

func (shellCheck) Unrendered(resp FetchResponse) bool {
	return strings.Contains(string(resp.Body), "__next")
}

type fakeExtractor struct{}

func (fakeExtractor) ExtractFields(fragment string) warehouse.ProductRecord {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return warehouse.ProductRecord{}
	}
	id, _ := doc.Find("[data-test=product-card-catalog-wide]").Attr("data-id")
	return warehouse.ProductRecord{ProductID: id, Title: id, SourceFragment: fragment}
}

type fakeRawStore struct {
	mu      sync.Mutex
	rows    map[string]warehouse.ProductRecord
	upserts int
	err     error
}

func newFakeRawStore() *fakeRawStore {
	return &fakeRawStore{rows: map[string]warehouse.ProductRecord{}}
}

func (s *fakeRawStore) Upsert(_ context.Context, rec warehouse.ProductRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.upserts++
	s.rows[rec.ProductID] = rec
	return nil
}

func (s *fakeRawStore) AllRecords(_ context.Context, fn func(warehouse.RawRow) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.rows {
		row, err := warehouse.EncodeRecord(rec)
		if err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeRawStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

type fakeCheckpoint struct {
	set   SegmentSet
	marks []Segment
}

func newFakeCheckpoint(done ...Segment) *fakeCheckpoint {
	return &fakeCheckpoint{set: NewSegmentSet(done...)}
}

func (c *fakeCheckpoint) Completed(context.Context) (SegmentSet, error) {
	out := make(SegmentSet, len(c.set))
	for s := range c.set {
		out.Add(s)
	}
	return out, nil
}

func (c *fakeCheckpoint) MarkComplete(_ context.Context, seg Segment) error {
	c.set.Add(seg)
	c.marks = append(c.marks, seg)
	return nil
}

type fakeBlobStore struct {
	paths []string
}

func (b *fakeBlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	if _, err := io.ReadAll(data); err != nil {
		return "", err
	}
	b.paths = append(b.paths, path)
	return "memory://" + path, nil
}

type fakeHasher struct{}

func (fakeHasher) Hash([]byte) (string, error) { return "digest", nil }

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
