package syncrunner

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conductorone/catalog-sync/pkg/catalogdb"
	"github.com/conductorone/catalog-sync/pkg/document"
	catalogsync "github.com/conductorone/catalog-sync/pkg/sync"
)

// flakyRemote serves a fixed product list and fails the first variation fetch.
type flakyRemote struct {
	products       []document.Document
	variationFails int
}

func (f *flakyRemote) CountProducts(ctx context.Context) (int64, error) {
	return int64(len(f.products)), nil
}

func (f *flakyRemote) ListProducts(ctx context.Context, page int, pageSize int) (*catalogsync.ProductPage, error) {
	if page > 1 {
		return &catalogsync.ProductPage{TotalItems: int64(len(f.products)), TotalPages: 1}, nil
	}
	return &catalogsync.ProductPage{Items: f.products, TotalItems: int64(len(f.products)), TotalPages: 1}, nil
}

func (f *flakyRemote) ListVariations(ctx context.Context, productID int64) ([]document.Document, error) {
	if f.variationFails > 0 {
		f.variationFails--
		return nil, errors.New("connection reset by peer")
	}
	return []document.Document{{"id": productID*10 + 1, "sku": "S"}}, nil
}

func (f *flakyRemote) ListCategories(ctx context.Context, page int, pageSize int) (*catalogsync.CategoryPage, error) {
	return &catalogsync.CategoryPage{TotalPages: 1}, nil
}

func TestRunConvergesAfterTransientVariationFailure(t *testing.T) {
	ctx := context.Background()

	db, err := catalogdb.Open(ctx, filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	defer db.Close()

	remote := &flakyRemote{
		products: []document.Document{
			{"id": 1, "name": "Shirt", "type": "variable", "categories": []any{map[string]any{"id": 5, "slug": "tops"}}},
			{"id": 2, "name": "Hoodie", "type": "variable", "categories": []any{map[string]any{"id": 5, "slug": "tops"}}},
		},
		variationFails: 1,
	}
	engine, err := catalogsync.NewEngine(db, remote, nil)
	require.NoError(t, err)

	report, err := New(engine, WithVariationBatchSize(1), WithSkipCategories(true), fastRetry()).Run(ctx)
	require.NoError(t, err)
	require.False(t, report.Variations.Stalled)
	require.Equal(t, 2, report.Variations.Processed)
	require.Equal(t, 1, report.Variations.Errors)
	require.EqualValues(t, 2, report.Status.VariableCount)
	require.EqualValues(t, 2, report.Status.CompletedVariationCount)
	require.Equal(t, catalogsync.PhaseVariationsComplete, report.Phase)
}
