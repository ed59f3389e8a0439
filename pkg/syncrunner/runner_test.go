package syncrunner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/conductorone/catalog-sync/pkg/retry"
	catalogsync "github.com/conductorone/catalog-sync/pkg/sync"
)

type fakeEngine struct {
	totalPages     int
	pageSize       int
	pending        int
	failVariations bool
	// flakyBatches is how many batches fail before variation fetches succeed.
	flakyBatches   int
	categoryPasses []*catalogsync.CategorySyncResult

	countErrs    []error
	productErr   error
	onPage       func(ctx context.Context, page int)
	pagesCalled  []int
	batches      int
	catCalls     int
	statusCalled bool
}

func (f *fakeEngine) CountProducts(ctx context.Context) (int64, error) {
	if len(f.countErrs) > 0 {
		err := f.countErrs[0]
		f.countErrs = f.countErrs[1:]
		return 0, err
	}
	return int64(f.totalPages * f.pageSize), nil
}

func (f *fakeEngine) SyncProductsPage(ctx context.Context, page int) (*catalogsync.ProductPageResult, error) {
	if f.productErr != nil {
		return nil, f.productErr
	}
	f.pagesCalled = append(f.pagesCalled, page)
	if f.onPage != nil {
		f.onPage(ctx, page)
	}
	return &catalogsync.ProductPageResult{
		Page:          page,
		TotalPages:    f.totalPages,
		FetchedCount:  f.pageSize,
		InsertedCount: f.pageSize,
		HasMore:       catalogsync.HasMorePages(page, f.totalPages, f.pageSize),
	}, nil
}

func (f *fakeEngine) SyncVariationsBatch(ctx context.Context, batchSize int) (*catalogsync.VariationBatchResult, error) {
	f.batches++
	if f.failVariations || f.flakyBatches > 0 {
		f.flakyBatches--
		return &catalogsync.VariationBatchResult{ErrorCount: min(batchSize, f.pending), HasMore: true}, nil
	}
	n := min(batchSize, f.pending)
	f.pending -= n
	return &catalogsync.VariationBatchResult{
		ProcessedCount: n,
		HasMore:        f.pending > 0,
		Completed:      f.pending == 0,
	}, nil
}

func (f *fakeEngine) SyncCategoriesFromProducts(ctx context.Context) (*catalogsync.CategorySyncResult, error) {
	f.catCalls++
	if len(f.categoryPasses) == 0 {
		return &catalogsync.CategorySyncResult{}, nil
	}
	res := f.categoryPasses[0]
	f.categoryPasses = f.categoryPasses[1:]
	return res, nil
}

func (f *fakeEngine) GetSyncStatus(ctx context.Context) (*catalogsync.SyncStatus, error) {
	f.statusCalled = true
	return &catalogsync.SyncStatus{
		ProductCount:            int64(len(f.pagesCalled) * f.pageSize),
		VariableCount:           4,
		CompletedVariationCount: int64(4 - f.pending),
		CategoryCount:           int64(3 * min(f.catCalls, 1)),
		MappedCategoryCount:     int64(3 * min(f.catCalls, 1)),
		IsComplete:              f.pending == 0,
	}, nil
}

func fastRetry() Option {
	return WithRetry(retry.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond})
}

func TestRunCompletesAllPhases(t *testing.T) {
	engine := &fakeEngine{
		totalPages: 3,
		pageSize:   10,
		pending:    4,
		categoryPasses: []*catalogsync.CategorySyncResult{
			{CategoriesProcessed: 3, TermsCreated: 3, ProductsUpdated: 30},
			{ParentsLinked: 1},
			{},
		},
	}

	r := New(engine, WithVariationBatchSize(3), fastRetry())
	r.newID = func() string { return "run-1" }

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, "run-1", report.RunID)
	require.EqualValues(t, 30, report.RemoteTotal)
	require.Equal(t, []int{1, 2, 3}, engine.pagesCalled)
	require.Equal(t, ProductTotals{Pages: 3, Fetched: 30, Inserted: 30}, report.Products)
	require.Equal(t, VariationTotals{Batches: 2, Processed: 4}, report.Variations)
	require.Equal(t, 3, report.Categories.Passes)
	require.Equal(t, 3, report.Categories.Created)
	require.Equal(t, 30, report.Categories.ProductsUpdated)
	require.Equal(t, 1, report.Categories.ParentsLinked)
	require.Equal(t, catalogsync.PhaseSynced, report.Phase)
	require.False(t, report.Interrupted)
}

func TestRunBoundsCategoryPasses(t *testing.T) {
	busy := &catalogsync.CategorySyncResult{ProductsUpdated: 1}
	engine := &fakeEngine{
		totalPages:     1,
		pageSize:       1,
		categoryPasses: []*catalogsync.CategorySyncResult{busy, busy, busy, busy},
	}

	report, err := New(engine, WithMaxCategoryPasses(2), fastRetry()).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, engine.catCalls)
	require.Equal(t, 2, report.Categories.Passes)
}

func TestRunRetriesTransientFailures(t *testing.T) {
	transient := &catalogsync.Error{Kind: catalogsync.ErrTransport, Op: "count products", Err: errors.New("connection reset")}
	engine := &fakeEngine{totalPages: 1, pageSize: 5, countErrs: []error{transient}}

	report, err := New(engine, fastRetry()).Run(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 5, report.RemoteTotal)
}

func TestRunStopsOnPermanentFailure(t *testing.T) {
	permanent := &catalogsync.Error{Kind: catalogsync.ErrPersistence, Op: "upsert product", Err: errors.New("disk I/O error")}
	engine := &fakeEngine{totalPages: 2, pageSize: 5, productErr: permanent}

	report, err := New(engine, fastRetry()).Run(context.Background())
	require.ErrorIs(t, err, catalogsync.ErrPersistence)
	require.NotNil(t, report)
	require.False(t, engine.statusCalled)
}

func TestRunGivesUpAfterMaxAttempts(t *testing.T) {
	transient := &catalogsync.Error{Kind: catalogsync.ErrRemoteAPI, Op: "count products", Err: errors.New("502")}
	engine := &fakeEngine{countErrs: []error{transient, transient, transient, transient}}

	_, err := New(engine, fastRetry()).Run(context.Background())
	require.ErrorIs(t, err, catalogsync.ErrRemoteAPI)
	require.Len(t, engine.countErrs, 1)
}

func TestRunInterruptedBetweenOperations(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine := &fakeEngine{totalPages: 5, pageSize: 10, pending: 4}
	engine.onPage = func(opCtx context.Context, page int) {
		if page == 2 {
			cancel()
			require.NoError(t, opCtx.Err())
		}
	}

	report, err := New(engine, fastRetry()).Run(ctx)
	require.NoError(t, err)
	require.True(t, report.Interrupted)
	require.Equal(t, []int{1, 2}, engine.pagesCalled)
	require.Equal(t, 2, report.Products.Pages)
	require.Zero(t, engine.batches)
	require.True(t, engine.statusCalled)
	require.Equal(t, catalogsync.PhaseProductsSyncing, report.Phase)
}

func TestRunStopsWhenVariationsStall(t *testing.T) {
	engine := &fakeEngine{totalPages: 1, pageSize: 2, pending: 2, failVariations: true}

	report, err := New(engine, WithSkipCategories(true), fastRetry()).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, engine.batches)
	require.True(t, report.Variations.Stalled)
	require.Equal(t, 6, report.Variations.Errors)
	require.Zero(t, engine.catCalls)
}

func TestRunRetriesVariationBatchesWithoutProgress(t *testing.T) {
	engine := &fakeEngine{totalPages: 1, pageSize: 2, pending: 2, flakyBatches: 2}

	report, err := New(engine, WithVariationBatchSize(1), WithSkipCategories(true), fastRetry()).Run(context.Background())
	require.NoError(t, err)
	require.False(t, report.Variations.Stalled)
	require.Equal(t, 4, engine.batches)
	require.Equal(t, 2, report.Variations.Processed)
	require.Equal(t, 2, report.Variations.Errors)
	require.Zero(t, engine.pending)
}
