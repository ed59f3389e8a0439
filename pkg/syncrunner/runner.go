// Package syncrunner drives a complete catalog sync by calling the engine
// operations in order until each phase reports no more work.
package syncrunner

import (
	"context"
	"errors"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"github.com/segmentio/ksuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/conductorone/catalog-sync/pkg/retry"
	catalogsync "github.com/conductorone/catalog-sync/pkg/sync"
)

var tracer = otel.Tracer("catalog-sync/pkg.syncrunner")

const (
	defaultMaxCategoryPasses = 5
	defaultStallAttempts     = 3
	// maxProductPages guards against a remote that keeps reporting more pages.
	maxProductPages = 100_000
)

// Engine is the set of sync operations the runner drives.
type Engine interface {
	CountProducts(ctx context.Context) (int64, error)
	SyncProductsPage(ctx context.Context, requestedPage int) (*catalogsync.ProductPageResult, error)
	SyncVariationsBatch(ctx context.Context, batchSize int) (*catalogsync.VariationBatchResult, error)
	SyncCategoriesFromProducts(ctx context.Context) (*catalogsync.CategorySyncResult, error)
	GetSyncStatus(ctx context.Context) (*catalogsync.SyncStatus, error)
}

var _ Engine = (*catalogsync.Engine)(nil)

type ProductTotals struct {
	Pages    int
	Fetched  int
	Inserted int
	Updated  int
	Skipped  int
	Failed   int
}

type VariationTotals struct {
	Batches   int
	Processed int
	Errors    int
	Dropped   int
	// Stalled is set when a batch made no progress and the loop gave up.
	Stalled bool
}

type CategoryTotals struct {
	Passes          int
	Created         int
	Matched         int
	Updated         int
	ParentsLinked   int
	ImagesImported  int
	ProductsUpdated int
	Errors          int
}

type Report struct {
	RunID       string
	RemoteTotal int64
	Products    ProductTotals
	Variations  VariationTotals
	Categories  CategoryTotals
	Status      *catalogsync.SyncStatus
	Phase       catalogsync.Phase
	// Interrupted is set when ctx was cancelled between operations.
	Interrupted bool
	Duration    time.Duration
}

type Runner struct {
	engine            Engine
	batchSize         int
	maxCategoryPasses int
	skipCategories    bool
	retryConfig       retry.RetryConfig
	newID             func() string
	now               func() time.Time
}

type Option func(*Runner)

func WithVariationBatchSize(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithMaxCategoryPasses bounds how many times category reconciliation is
// repeated while it still rewrites product references.
func WithMaxCategoryPasses(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxCategoryPasses = n
		}
	}
}

// WithSkipCategories stops the run after variations, for setups without a destination store.
func WithSkipCategories(skip bool) Option {
	return func(r *Runner) {
		r.skipCategories = skip
	}
}

// WithRetry sets how a failed operation is repeated before the run gives up.
func WithRetry(cfg retry.RetryConfig) Option {
	return func(r *Runner) {
		r.retryConfig = cfg
	}
}

func New(engine Engine, opts ...Option) *Runner {
	r := &Runner{
		engine:            engine,
		batchSize:         catalogsync.DefaultVariationBatch,
		maxCategoryPasses: defaultMaxCategoryPasses,
		retryConfig: retry.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
		},
		newID: func() string { return ksuid.New().String() },
		now:   time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

var (
	errInterrupted = errors.New("interrupted")
	errNoProgress  = errors.New("variation batch made no progress")
)

// Run performs count, product pages, variation batches and category passes
// and finishes with a status snapshot. Cancelling ctx stops the run between
// operations; an operation already started runs to completion.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	ctx, span := tracer.Start(ctx, "Runner.Run")
	defer span.End()

	report := &Report{RunID: r.newID()}
	start := r.now()
	defer func() { report.Duration = r.now().Sub(start) }()

	l := ctxzap.Extract(ctx).With(zap.String("run_id", report.RunID))
	ctx = ctxzap.ToContext(ctx, l)
	l.Info("starting catalog sync")

	err := r.run(ctx, report)
	if errors.Is(err, errInterrupted) {
		report.Interrupted = true
		l.Warn("catalog sync interrupted", zap.Error(context.Cause(ctx)))
		err = nil
	}
	if err != nil {
		return report, err
	}

	status, err := r.engine.GetSyncStatus(context.WithoutCancel(ctx))
	if err != nil {
		return report, err
	}
	report.Status = status
	report.Phase = catalogsync.DerivePhase(status, report.RemoteTotal)

	l.Info("catalog sync finished",
		zap.String("phase", string(report.Phase)),
		zap.Bool("interrupted", report.Interrupted),
		zap.Int64("products", status.ProductCount),
		zap.Int64("unmapped_categories", status.UnmappedCategoryCount),
	)
	return report, nil
}

func (r *Runner) run(ctx context.Context, report *Report) error {
	if err := r.step(ctx, "count products", func(ctx context.Context) error {
		n, err := r.engine.CountProducts(ctx)
		if err != nil {
			return err
		}
		report.RemoteTotal = n
		return nil
	}); err != nil {
		return err
	}

	if err := r.syncProducts(ctx, report); err != nil {
		return err
	}
	if err := r.syncVariations(ctx, report); err != nil {
		return err
	}
	if r.skipCategories {
		ctxzap.Extract(ctx).Info("skipping category reconciliation")
		return nil
	}
	return r.syncCategories(ctx, report)
}

func (r *Runner) syncProducts(ctx context.Context, report *Report) error {
	page := 1
	for i := 0; i < maxProductPages; i++ {
		var res *catalogsync.ProductPageResult
		err := r.step(ctx, "sync products page", func(ctx context.Context) error {
			var err error
			res, err = r.engine.SyncProductsPage(ctx, page)
			return err
		})
		if err != nil {
			return err
		}

		t := &report.Products
		t.Pages++
		t.Fetched += res.FetchedCount
		t.Inserted += res.InsertedCount
		t.Updated += res.UpdatedCount
		t.Skipped += res.SkippedCount
		t.Failed += res.FailedCount

		if !res.HasMore {
			return nil
		}
		page = res.Page + 1
	}
	return nil
}

func (r *Runner) syncVariations(ctx context.Context, report *Report) error {
	stall := retry.NewRetryer(ctx, r.stallRetryConfig())

	for {
		var res *catalogsync.VariationBatchResult
		err := r.step(ctx, "sync variations batch", func(ctx context.Context) error {
			var err error
			res, err = r.engine.SyncVariationsBatch(ctx, r.batchSize)
			return err
		})
		if err != nil {
			return err
		}

		t := &report.Variations
		t.Batches++
		t.Processed += res.ProcessedCount
		t.Errors += res.ErrorCount
		t.Dropped += res.DroppedCount

		if res.Completed || !res.HasMore {
			return nil
		}
		if res.ProcessedCount > 0 {
			stall.ShouldWaitAndRetry(ctx, nil)
			continue
		}

		// Failed products stay pending and are selected again first, so a batch
		// without progress is repeated after a backoff until the budget runs out.
		if stall.ShouldWaitAndRetry(ctx, errNoProgress) {
			continue
		}
		if ctx.Err() != nil {
			return errInterrupted
		}
		t.Stalled = true
		ctxzap.Extract(ctx).Warn("variation sync made no progress, leaving remaining products pending",
			zap.Int("errors", res.ErrorCount),
			zap.Uint("attempts", stall.Attempts()),
		)
		return nil
	}
}

// stallRetryConfig bounds consecutive variation batches that make no progress.
func (r *Runner) stallRetryConfig() retry.RetryConfig {
	cfg := r.retryConfig
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaultStallAttempts
	}
	cfg.IsRetryable = func(err error) bool { return errors.Is(err, errNoProgress) }
	return cfg
}

func (r *Runner) syncCategories(ctx context.Context, report *Report) error {
	for pass := 0; pass < r.maxCategoryPasses; pass++ {
		var res *catalogsync.CategorySyncResult
		err := r.step(ctx, "sync categories", func(ctx context.Context) error {
			var err error
			res, err = r.engine.SyncCategoriesFromProducts(ctx)
			return err
		})
		if err != nil {
			return err
		}

		t := &report.Categories
		t.Passes++
		t.Created += res.TermsCreated
		t.Matched += res.TermsMatched
		t.Updated += res.TermsUpdated
		t.ParentsLinked += res.ParentsLinked
		t.ImagesImported += res.ImagesImported
		t.ProductsUpdated += res.ProductsUpdated
		t.Errors += res.Errors

		if res.ProductsUpdated == 0 && res.CategoriesProcessed == 0 && res.ParentsLinked == 0 {
			return nil
		}
	}
	return nil
}

// step runs fn detached from cancellation so an in-flight call is never cut
// short, repeating it while the failure is retryable. ctx is checked before
// each attempt.
func (r *Runner) step(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	retryer := retry.NewRetryer(ctx, r.retryConfig)
	detached := context.WithoutCancel(ctx)

	for {
		if ctx.Err() != nil {
			return errInterrupted
		}

		err := fn(detached)
		if err == nil {
			return nil
		}

		ctxzap.Extract(ctx).Warn("sync operation failed",
			zap.String("op", op),
			zap.String("kind", catalogsync.ErrorKind(err)),
			zap.Error(err),
		)
		if !retryer.ShouldWaitAndRetry(ctx, err) {
			if ctx.Err() != nil {
				return errInterrupted
			}
			return err
		}
	}
}
