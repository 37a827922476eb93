package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/catalog-warehouse/internal/crawler"
	"github.com/JakeFAU/catalog-warehouse/internal/warehouse"
)

// RawStore keeps raw rows in memory keyed by product ID.
type RawStore struct {
	mu   sync.RWMutex
	rows map[string]warehouse.RawRow
}

// NewRawStore constructs a RawStore.
func NewRawStore() *RawStore {
	return &RawStore{rows: make(map[string]warehouse.RawRow)}
}

// Upsert replaces the row for rec.ProductID.
func (s *RawStore) Upsert(_ context.Context, rec warehouse.ProductRecord) error {
	if rec.ProductID == "" {
		return fmt.Errorf("product id is required")
	}
	row, err := warehouse.EncodeRecord(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[row.ProductID] = row
	return nil
}

// PutRow stores an already-serialized row as is.
func (s *RawStore) PutRow(row warehouse.RawRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[row.ProductID] = row
}

// AllRecords calls fn for a snapshot of every row, ordered by product ID.
func (s *RawStore) AllRecords(ctx context.Context, fn func(warehouse.RawRow) error) error {
	s.mu.RLock()
	rows := make([]warehouse.RawRow, 0, len(s.rows))
	for _, row := range s.rows {
		rows = append(rows, row)
	}
	s.mu.RUnlock()
	sort.Slice(rows, func(i, j int) bool { return rows[i].ProductID < rows[j].ProductID })

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of stored rows.
func (s *RawStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// OperationalStore keeps operational rows in memory keyed by product ID.
type OperationalStore struct {
	mu   sync.RWMutex
	rows map[string]warehouse.OperationalRecord
}

// NewOperationalStore constructs an OperationalStore.
func NewOperationalStore() *OperationalStore {
	return &OperationalStore{rows: make(map[string]warehouse.OperationalRecord)}
}

// Replace inserts or replaces rec.
func (s *OperationalStore) Replace(_ context.Context, rec warehouse.OperationalRecord) error {
	if rec.ProductID == "" {
		return fmt.Errorf("product id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[rec.ProductID] = rec
	return nil
}

// AllRecords calls fn for a snapshot of every row, ordered by product ID.
func (s *OperationalStore) AllRecords(ctx context.Context, fn func(warehouse.OperationalRecord) error) error {
	s.mu.RLock()
	rows := make([]warehouse.OperationalRecord, 0, len(s.rows))
	for _, row := range s.rows {
		rows = append(rows, row)
	}
	s.mu.RUnlock()
	sort.Slice(rows, func(i, j int) bool { return rows[i].ProductID < rows[j].ProductID })

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the row for productID.
func (s *OperationalStore) Get(productID string) (warehouse.OperationalRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.rows[productID]
	return rec, ok
}

// DimensionalStore keeps dimensions and facts in memory. Keys start at 1 and
// are never reused.
type DimensionalStore struct {
	mu         sync.RWMutex
	nextBrand  int64
	nextCat    int64
	brands     map[string]int64
	categories map[warehouse.CategoryPath]int64
	facts      map[string]warehouse.FactRecord
}

// NewDimensionalStore constructs a DimensionalStore.
func NewDimensionalStore() *DimensionalStore {
	return &DimensionalStore{
		brands:     make(map[string]int64),
		categories: make(map[warehouse.CategoryPath]int64),
		facts:      make(map[string]warehouse.FactRecord),
	}
}

// BrandKey returns the key for name, creating it when missing.
func (s *DimensionalStore) BrandKey(_ context.Context, name string) (int64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("brand name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if key, ok := s.brands[name]; ok {
		return key, false, nil
	}
	s.nextBrand++
	s.brands[name] = s.nextBrand
	return s.nextBrand, true, nil
}

// CategoryKey returns the key for path, creating it when missing.
func (s *DimensionalStore) CategoryKey(_ context.Context, path warehouse.CategoryPath) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key, ok := s.categories[path]; ok {
		return key, false, nil
	}
	s.nextCat++
	s.categories[path] = s.nextCat
	return s.nextCat, true, nil
}

// UpsertFact inserts or replaces the fact for fact.ProductID.
func (s *DimensionalStore) UpsertFact(_ context.Context, fact warehouse.FactRecord) error {
	if fact.ProductID == "" {
		return fmt.Errorf("product id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts[fact.ProductID] = fact
	return nil
}

// Brands lists the brand dimension ordered by key.
func (s *DimensionalStore) Brands(context.Context) ([]warehouse.BrandDimension, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]warehouse.BrandDimension, 0, len(s.brands))
	for name, key := range s.brands {
		out = append(out, warehouse.BrandDimension{Key: key, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Categories lists the category dimension ordered by key.
func (s *DimensionalStore) Categories(context.Context) ([]warehouse.CategoryDimension, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]warehouse.CategoryDimension, 0, len(s.categories))
	for path, key := range s.categories {
		out = append(out, warehouse.CategoryDimension{Key: key, Path: path})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Fact returns the fact for productID or warehouse.ErrNotFound.
func (s *DimensionalStore) Fact(_ context.Context, productID string) (warehouse.FactRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fact, ok := s.facts[productID]
	if !ok {
		return warehouse.FactRecord{}, warehouse.ErrNotFound
	}
	return fact, nil
}

// FactCount returns the number of facts.
func (s *DimensionalStore) FactCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.facts)
}

// Checkpoint is a non-durable crawler.Checkpoint for dry runs and tests.
type Checkpoint struct {
	mu  sync.Mutex
	set crawler.SegmentSet
}

// NewCheckpoint returns a Checkpoint seeded with done.
func NewCheckpoint(done ...crawler.Segment) *Checkpoint {
	return &Checkpoint{set: crawler.NewSegmentSet(done...)}
}

// Completed returns a copy of the completed set.
func (c *Checkpoint) Completed(context.Context) (crawler.SegmentSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(crawler.SegmentSet, len(c.set))
	for seg := range c.set {
		out.Add(seg)
	}
	return out, nil
}

// MarkComplete adds segment.
func (c *Checkpoint) MarkComplete(_ context.Context, segment crawler.Segment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set.Add(segment)
	return nil
}

// Warehouse bundles the in-memory layers of one namespace.
type Warehouse struct {
	Raw         *RawStore
	Operational *OperationalStore
	Dimensional *DimensionalStore
}

// NewWarehouse returns empty layers.
func NewWarehouse() *Warehouse {
	return &Warehouse{
		Raw:         NewRawStore(),
		Operational: NewOperationalStore(),
		Dimensional: NewDimensionalStore(),
	}
}

// Counts implements warehouse.Counter.
func (w *Warehouse) Counts(context.Context) (warehouse.LayerCounts, error) {
	w.Operational.mu.RLock()
	ods := len(w.Operational.rows)
	w.Operational.mu.RUnlock()

	d := w.Dimensional
	d.mu.RLock()
	defer d.mu.RUnlock()
	return warehouse.LayerCounts{
		Raw:         int64(w.Raw.Len()),
		Operational: int64(ods),
		Brands:      int64(len(d.brands)),
		Categories:  int64(len(d.categories)),
		Facts:       int64(len(d.facts)),
	}, nil
}

// Close is a no-op.
func (w *Warehouse) Close() error { return nil }
