package sync //nolint:revive,nolintlint // package name mirrors the domain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conductorone/catalog-sync/pkg/document"
)

func TestVariationBatchesConvergeWithFlakyRemote(t *testing.T) {
	ctx := context.Background()

	const n = 7
	remote := &fakeRemote{
		variations:     make(map[int64][]document.Document),
		failVariations: make(map[int64]int),
	}
	for i := int64(1); i <= n; i++ {
		remote.products = append(remote.products, productDoc(t, i, "variable", []int64{i * 10}))
		remote.variations[i] = []document.Document{jsonDoc(t, map[string]any{"id": i * 10, "sku": "v"})}
		// every other product fails a couple of times before succeeding
		if i%2 == 0 {
			remote.failVariations[i] = 2
		}
	}
	// a simple product is never selected
	remote.products = append(remote.products, productDoc(t, 100, "simple", nil))

	e, store := newTestEngine(t, remote, nil)
	_, err := e.SyncProductsPage(ctx, 1)
	require.NoError(t, err)

	var totalErrors int
	completed := false
	for i := 0; i < 20 && !completed; i++ {
		res, err := e.SyncVariationsBatch(ctx, 3)
		require.NoError(t, err)
		require.Equal(t, !res.HasMore, res.Completed)
		totalErrors += res.ErrorCount
		completed = res.Completed
	}

	require.True(t, completed)
	require.Equal(t, 6, totalErrors)

	for i := int64(1); i <= n; i++ {
		rec, err := store.GetProduct(ctx, i)
		require.NoError(t, err)
		require.True(t, rec.VariationsObtained, "product %d", i)
		require.Equal(t, []int64{i * 10}, document.VariationIDs(rec.Payload))
	}

	counts, err := store.ProductCounts(ctx)
	require.NoError(t, err)
	require.EqualValues(t, n, counts.Variable)
	require.EqualValues(t, n, counts.VariationsObtained)
}

func TestVariationBatchPartialFailure(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{
		products: []document.Document{
			productDoc(t, 1, "variable", []int64{11}),
			productDoc(t, 2, "variable", []int64{21}),
		},
		variations: map[int64][]document.Document{
			1: {jsonDoc(t, map[string]any{"id": 11})},
			2: {jsonDoc(t, map[string]any{"id": 21})},
		},
		failVariations: map[int64]int{1: 1},
	}
	e, store := newTestEngine(t, remote, nil)
	_, err := e.SyncProductsPage(ctx, 1)
	require.NoError(t, err)

	res, err := e.SyncVariationsBatch(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, res.ProcessedCount)
	require.Equal(t, 1, res.ErrorCount)
	require.True(t, res.HasMore)
	require.False(t, res.Completed)

	failed, err := store.GetProduct(ctx, 1)
	require.NoError(t, err)
	require.False(t, failed.VariationsObtained)
	require.Empty(t, document.MergedVariations(failed.Payload))

	res, err = e.SyncVariationsBatch(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, res.ProcessedCount)
	require.True(t, res.Completed)
}

func TestVariationMergeDropsRecordsWithoutID(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{
		products: []document.Document{productDoc(t, 1, "variable", []int64{11, 12})},
		variations: map[int64][]document.Document{
			1: {
				jsonDoc(t, map[string]any{"id": 11, "attributes": []any{map[string]any{"name": "size", "option": "L"}}}),
				jsonDoc(t, map[string]any{"sku": "orphan"}),
				nil,
			},
		},
	}
	e, store := newTestEngine(t, remote, nil)
	_, err := e.SyncProductsPage(ctx, 1)
	require.NoError(t, err)

	res, err := e.SyncVariationsBatch(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 2, res.DroppedCount)
	require.True(t, res.Completed)

	rec, err := store.GetProduct(ctx, 1)
	require.NoError(t, err)
	merged := document.MergedVariations(rec.Payload)
	require.Len(t, merged, 1)
	require.NotNil(t, merged[0]["attributes"])
}

func TestVariationBatchWithNothingPending(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{products: []document.Document{productDoc(t, 1, "simple", nil)}}
	e, _ := newTestEngine(t, remote, nil)
	_, err := e.SyncProductsPage(ctx, 1)
	require.NoError(t, err)

	res, err := e.SyncVariationsBatch(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, VariationBatchResult{Completed: true}, *res)
	require.Zero(t, remote.variationCalls)
}
