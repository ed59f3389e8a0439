package catalogdb

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/conductorone/catalog-sync/pkg/catalogstore"
	"github.com/conductorone/catalog-sync/pkg/document"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "catalog.db"), WithPragma("journal_mode", "WAL"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	return db
}

func doc(t *testing.T, s string) document.Document {
	t.Helper()
	d, err := document.Parse([]byte(s))
	require.NoError(t, err)
	return d
}

func int64Ptr(v int64) *int64 { return &v }

func TestProductUpsertIsKeyedBySourceID(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	sku := "SKU-1"
	rec := &catalogstore.ProductRecord{SourceID: 10, SKU: &sku, Payload: doc(t, `{"id":10,"name":"a"}`)}
	require.NoError(t, db.UpsertProduct(ctx, rec))
	first, err := db.GetProduct(ctx, 10)
	require.NoError(t, err)

	rec.Payload = doc(t, `{"id":10,"name":"b"}`)
	require.NoError(t, db.UpsertProduct(ctx, rec))

	n, err := db.CountProducts(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	got, err := db.GetProduct(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, "b", got.Payload.String("name"))
	require.Equal(t, "SKU-1", *got.SKU)
	require.Equal(t, first.RowID, got.RowID)
	require.True(t, got.CreatedAt.Equal(first.CreatedAt))

	_, err = db.GetProduct(ctx, 99)
	require.ErrorIs(t, err, catalogstore.ErrNotFound)
}

func TestPendingVariableProducts(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	for i, variable := range []bool{true, false, true, true} {
		id := int64(i + 1)
		require.NoError(t, db.UpsertProduct(ctx, &catalogstore.ProductRecord{
			SourceID:   id,
			Payload:    doc(t, `{"id":1}`),
			IsVariable: variable,
		}))
	}

	pending, err := db.ListPendingVariableProducts(ctx, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.EqualValues(t, 1, pending[0].SourceID)
	require.EqualValues(t, 3, pending[1].SourceID)

	require.NoError(t, db.MarkVariationsObtained(ctx, 1, doc(t, `{"id":1,"variations":[{"id":5}]}`)))
	require.NoError(t, db.MarkVariationsObtained(ctx, 3, doc(t, `{"id":3}`)))

	counts, err := db.ProductCounts(ctx)
	require.NoError(t, err)
	require.Equal(t, catalogstore.ProductCounts{Total: 4, Variable: 3, VariationsObtained: 2}, counts)

	more, err := db.HasPendingVariableProducts(ctx)
	require.NoError(t, err)
	require.True(t, more)

	require.NoError(t, db.MarkVariationsObtained(ctx, 4, doc(t, `{"id":4}`)))
	more, err = db.HasPendingVariableProducts(ctx)
	require.NoError(t, err)
	require.False(t, more)

	err = db.MarkVariationsObtained(ctx, 404, doc(t, `{"id":404}`))
	require.ErrorIs(t, err, catalogstore.ErrNotFound)
}

func TestListProductsKeyset(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	for id := int64(1); id <= 5; id++ {
		require.NoError(t, db.UpsertProduct(ctx, &catalogstore.ProductRecord{SourceID: id * 100, Payload: doc(t, `{}`)}))
	}

	var seen []int64
	var after int64
	for {
		page, err := db.ListProducts(ctx, after, 2)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, p := range page {
			seen = append(seen, p.SourceID)
			after = p.RowID
		}
	}
	require.Equal(t, []int64{100, 200, 300, 400, 500}, seen)
}

func TestCategoryUpsertKeepsMappingAndFlagsStale(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	rec := &catalogstore.CategoryRecord{
		SourceID:       7,
		Slug:           "chairs",
		ParentSourceID: int64Ptr(3),
		Payload:        doc(t, `{"id":7,"name":"Chairs"}`),
		PayloadHash:    "h1",
	}
	require.NoError(t, db.UpsertCategory(ctx, rec))
	require.NoError(t, db.SetCategoryDestination(ctx, 7, 107, true))

	// same payload: nothing changes
	require.NoError(t, db.UpsertCategory(ctx, rec))
	got, err := db.GetCategory(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, int64(107), *got.DestinationID)
	require.False(t, got.Stale)
	require.True(t, got.ParentLinked)

	// payload changed after mapping
	rec.Payload = doc(t, `{"id":7,"name":"Seats"}`)
	rec.PayloadHash = "h2"
	require.NoError(t, db.UpsertCategory(ctx, rec))
	got, err = db.GetCategory(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, int64(107), *got.DestinationID)
	require.True(t, got.Stale)
	require.True(t, got.ParentLinked)

	stale, err := db.ListStaleCategories(ctx)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	require.NoError(t, db.ClearCategoryStale(ctx, 7))

	// parent moved: link must be redone
	rec.ParentSourceID = int64Ptr(4)
	require.NoError(t, db.UpsertCategory(ctx, rec))
	got, err = db.GetCategory(ctx, 7)
	require.NoError(t, err)
	require.False(t, got.ParentLinked)
	require.False(t, got.Stale)

	unlinked, err := db.ListUnlinkedChildren(ctx)
	require.NoError(t, err)
	require.Len(t, unlinked, 1)
	require.NoError(t, db.SetCategoryParentLinked(ctx, 7))
	unlinked, err = db.ListUnlinkedChildren(ctx)
	require.NoError(t, err)
	require.Empty(t, unlinked)
}

func TestUnmappedCategoriesOrder(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	input := []struct {
		id     int64
		parent *int64
	}{
		{id: 1, parent: int64Ptr(9)},
		{id: 2},
		{id: 3, parent: int64Ptr(2)},
		{id: 9},
	}
	for _, in := range input {
		require.NoError(t, db.UpsertCategory(ctx, &catalogstore.CategoryRecord{
			SourceID:       in.id,
			Slug:           "c",
			ParentSourceID: in.parent,
			Payload:        doc(t, `{}`),
		}))
	}

	unmapped, err := db.ListUnmappedCategories(ctx)
	require.NoError(t, err)
	var order []int64
	for _, c := range unmapped {
		order = append(order, c.SourceID)
	}
	require.Equal(t, []int64{2, 9, 3, 1}, order)

	require.NoError(t, db.SetCategoryDestination(ctx, 2, 202, false))
	mapping, err := db.CategoryMapping(ctx)
	require.NoError(t, err)
	require.Equal(t, map[int64]int64{2: 202}, mapping)

	counts, err := db.CategoryCounts(ctx)
	require.NoError(t, err)
	require.Equal(t, catalogstore.CategoryCounts{Total: 4, Mapped: 1, Unmapped: 3}, counts)

	ids, err := db.CategorySourceIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3, 9}, ids)
}

func TestResetKeepsImages(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	require.NoError(t, db.UpsertProduct(ctx, &catalogstore.ProductRecord{SourceID: 1, Payload: doc(t, `{}`)}))
	require.NoError(t, db.UpsertCategory(ctx, &catalogstore.CategoryRecord{SourceID: 1, Slug: "a", Payload: doc(t, `{}`)}))
	require.NoError(t, db.PutImage(ctx, &catalogstore.ImageRecord{SourceURL: "https://img/a.jpg", AssetID: 55}))

	require.NoError(t, db.Reset(ctx))

	stats, err := db.IdentityStats(ctx)
	require.NoError(t, err)
	require.Equal(t, catalogstore.IdentityStats{ImageRows: 1}, stats)

	img, err := db.GetImage(ctx, "https://img/a.jpg")
	require.NoError(t, err)
	require.EqualValues(t, 55, img.AssetID)

	_, err = db.GetImage(ctx, "https://img/missing.jpg")
	require.ErrorIs(t, err, catalogstore.ErrNotFound)
}

func TestIdentityStats(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	for id := int64(1); id <= 3; id++ {
		require.NoError(t, db.UpsertProduct(ctx, &catalogstore.ProductRecord{SourceID: id, Payload: doc(t, `{}`)}))
		require.NoError(t, db.UpsertProduct(ctx, &catalogstore.ProductRecord{SourceID: id, Payload: doc(t, `{}`)}))
		require.NoError(t, db.UpsertCategory(ctx, &catalogstore.CategoryRecord{SourceID: id, Slug: "s", Payload: doc(t, `{}`)}))
	}
	require.NoError(t, db.SetCategoryDestination(ctx, 1, 500, false))
	require.NoError(t, db.SetCategoryDestination(ctx, 2, 500, false))

	stats, err := db.IdentityStats(ctx)
	require.NoError(t, err)
	require.Equal(t, catalogstore.IdentityStats{
		ProductRows:          3,
		DistinctProductIDs:   3,
		CategoryRows:         3,
		DistinctCategoryIDs:  3,
		MappedDestinationIDs: 2,
		DistinctDestinations: 1,
	}, stats)
}

func TestExportRoundTrip(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	db, err := Open(ctx, filepath.Join(t.TempDir(), "catalog.db"), WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.UpsertProduct(ctx, &catalogstore.ProductRecord{SourceID: 1, Payload: doc(t, `{"id":1,"price":"9.50"}`), IsVariable: true}))
	require.NoError(t, db.UpsertCategory(ctx, &catalogstore.CategoryRecord{SourceID: 2, Slug: "b", Payload: doc(t, `{"id":2}`)}))
	require.NoError(t, db.PutImage(ctx, &catalogstore.ImageRecord{SourceURL: "https://img/b.png", AssetID: 3}))

	var buf bytes.Buffer
	stats, err := db.Export(ctx, &buf)
	require.NoError(t, err)
	require.Equal(t, ExportStats{Products: 1, Categories: 1, Images: 1}, stats)

	records, err := ReadExport(&buf)
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, "product", records[0].Kind)
	require.True(t, records[0].IsVariable)
	require.Equal(t, "9.50", records[0].Payload.String("price"))
	require.True(t, records[0].UpdatedAt.Equal(now))
	require.Equal(t, "category", records[1].Kind)
	require.Equal(t, "b", records[1].Slug)
	require.Equal(t, "image", records[2].Kind)
	require.EqualValues(t, 3, records[2].AssetID)
}
