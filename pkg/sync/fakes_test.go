package sync //nolint:revive,nolintlint // package name mirrors the domain

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conductorone/catalog-sync/pkg/catalogdb"
	"github.com/conductorone/catalog-sync/pkg/document"
)

type fakeRemote struct {
	products      []document.Document
	categories    []document.Document
	variations    map[int64][]document.Document
	reportedPages int
	// omitTotals drops the page total, and also the item total when it is "all".
	omitTotals string
	// failVariations is the number of failures left per product before its fetch succeeds.
	failVariations map[int64]int
	listErr        error
	requestedPages []int
	variationCalls int
}

func (f *fakeRemote) CountProducts(ctx context.Context) (int64, error) {
	if f.listErr != nil {
		return 0, f.listErr
	}
	return int64(len(f.products)), nil
}

func (f *fakeRemote) ListProducts(ctx context.Context, page int, pageSize int) (*ProductPage, error) {
	f.requestedPages = append(f.requestedPages, page)
	if f.listErr != nil {
		return nil, f.listErr
	}
	total := (len(f.products) + pageSize - 1) / pageSize
	if f.reportedPages > 0 {
		total = f.reportedPages
	}
	ret := &ProductPage{
		Items:      window(f.products, page, pageSize),
		TotalItems: int64(len(f.products)),
		TotalPages: total,
	}
	switch f.omitTotals {
	case "all":
		ret.TotalItems = 0
		ret.TotalPages = 0
	case "pages":
		ret.TotalPages = 0
	}
	return ret, nil
}

func (f *fakeRemote) ListVariations(ctx context.Context, productID int64) ([]document.Document, error) {
	f.variationCalls++
	if f.failVariations[productID] > 0 {
		f.failVariations[productID]--
		return nil, errors.New("connection reset by peer")
	}
	return f.variations[productID], nil
}

func (f *fakeRemote) ListCategories(ctx context.Context, page int, pageSize int) (*CategoryPage, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return &CategoryPage{
		Items:      window(f.categories, page, pageSize),
		TotalPages: (len(f.categories) + pageSize - 1) / pageSize,
	}, nil
}

func window(items []document.Document, page int, pageSize int) []document.Document {
	start := (page - 1) * pageSize
	if start >= len(items) || start < 0 {
		return nil
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

type fakeDest struct {
	nextID     int64
	terms      map[int64]*Term
	created    []TermFields
	updated    []int64
	parentSets map[int64]int64
	images     map[int64]int64
	display    map[int64]string
	imports    []string
	createErr  map[string]error
}

func newFakeDest() *fakeDest {
	return &fakeDest{
		nextID:     1000,
		terms:      make(map[int64]*Term),
		parentSets: make(map[int64]int64),
		images:     make(map[int64]int64),
		display:    make(map[int64]string),
		createErr:  make(map[string]error),
	}
}

func (f *fakeDest) FindTermBySlug(ctx context.Context, slug string) (*Term, error) {
	for _, t := range f.terms {
		if t.Slug == slug {
			c := *t
			return &c, nil
		}
	}
	return nil, nil
}

func (f *fakeDest) CreateTerm(ctx context.Context, fields TermFields) (int64, error) {
	if err := f.createErr[fields.Slug]; err != nil {
		return 0, err
	}
	f.nextID++
	t := &Term{ID: f.nextID, Name: fields.Name, Slug: fields.Slug}
	if fields.ParentID != nil {
		t.Parent = *fields.ParentID
	}
	f.terms[t.ID] = t
	f.created = append(f.created, fields)
	return t.ID, nil
}

func (f *fakeDest) UpdateTerm(ctx context.Context, termID int64, fields TermFields) error {
	t, ok := f.terms[termID]
	if !ok {
		return errors.New("no such term")
	}
	t.Name = fields.Name
	t.Slug = fields.Slug
	if fields.ParentID != nil {
		t.Parent = *fields.ParentID
	}
	f.updated = append(f.updated, termID)
	return nil
}

func (f *fakeDest) SetTermParent(ctx context.Context, termID int64, parentID int64) error {
	t, ok := f.terms[termID]
	if !ok {
		return errors.New("no such term")
	}
	t.Parent = parentID
	f.parentSets[termID] = parentID
	return nil
}

func (f *fakeDest) SetTermImage(ctx context.Context, termID int64, assetID int64) error {
	f.images[termID] = assetID
	return nil
}

func (f *fakeDest) SetTermDisplayMode(ctx context.Context, termID int64, mode string) error {
	f.display[termID] = mode
	return nil
}

func (f *fakeDest) ImportImage(ctx context.Context, url string, altText string) (int64, error) {
	f.imports = append(f.imports, url)
	return int64(5000 + len(f.imports)), nil
}

func (f *fakeDest) termBySlug(slug string) *Term {
	for _, t := range f.terms {
		if t.Slug == slug {
			return t
		}
	}
	return nil
}

func newTestStore(t *testing.T) *catalogdb.DB {
	t.Helper()
	db, err := catalogdb.Open(context.Background(), filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestEngine(t *testing.T, remote *fakeRemote, dest DestinationWriter, opts ...Option) (*Engine, *catalogdb.DB) {
	t.Helper()
	store := newTestStore(t)
	e, err := NewEngine(store, remote, dest, opts...)
	require.NoError(t, err)
	return e, store
}

func jsonDoc(t *testing.T, v map[string]any) document.Document {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	d, err := document.Parse(b)
	require.NoError(t, err)
	return d
}

func productDoc(t *testing.T, id int64, typ string, variations []int64, categories ...int64) document.Document {
	t.Helper()
	cats := make([]map[string]any, 0, len(categories))
	for _, c := range categories {
		cats = append(cats, map[string]any{"id": c, "name": "cat", "slug": "cat"})
	}
	if variations == nil {
		variations = []int64{}
	}
	return jsonDoc(t, map[string]any{
		"id":         id,
		"name":       "product",
		"type":       typ,
		"sku":        "",
		"variations": variations,
		"categories": cats,
	})
}

func categoryDoc(t *testing.T, id int64, slug string, parent int64, extra map[string]any) document.Document {
	t.Helper()
	v := map[string]any{
		"id":     id,
		"name":   slug,
		"slug":   slug,
		"parent": parent,
	}
	for k, x := range extra {
		v[k] = x
	}
	return jsonDoc(t, v)
}
