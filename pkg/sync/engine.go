package sync //nolint:revive,nolintlint // package name mirrors the domain

import (
	"context"
	"errors"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/conductorone/catalog-sync/pkg/catalogstore"
	"github.com/conductorone/catalog-sync/pkg/metrics"
)

var tracer = otel.Tracer("catalog-sync/pkg.sync")

const (
	DefaultPageSize         = 10
	DefaultCategoryPageSize = 100
	DefaultVariationBatch   = 5

	// statusScanPageSize bounds how many product payloads are held in memory
	// while scanning for category references.
	statusScanPageSize = 200
)

const (
	productsUpsertedCounter  = "catalog_sync_products_upserted"
	variationsMergedCounter  = "catalog_sync_variations_merged"
	termsCreatedCounter      = "catalog_sync_terms_created"
	operationErrorsCounter   = "catalog_sync_operation_errors"
	productsUpsertedDesc     = "products written to the catalog store"
	variationsMergedDesc     = "variable products whose variations were merged"
	termsCreatedDesc         = "destination category terms created"
	operationErrorsDesc      = "per-record failures recovered inside an operation"
	unmappedCategoriesGauge  = "catalog_sync_unmapped_categories"
	unmappedCategoriesDesc   = "categories without a destination term"
	storedProductsGauge      = "catalog_sync_stored_products"
	storedProductsGaugeDesc  = "products in the catalog store"
	pendingVariationsGauge   = "catalog_sync_pending_variations"
	pendingVariationsGaugeDs = "variable products whose variations are not merged"
)

// Engine runs the sync operations. It holds no progress state of its own:
// every call reads its starting point back from the store.
type Engine struct {
	store            catalogstore.Store
	remote           RemoteCatalog
	dest             DestinationWriter
	pageSize         int
	categoryPageSize int
	m                *metrics.M
	progress         *ProgressCounts
	now              func() time.Time
}

type Option func(*Engine)

// WithPageSize sets the product page size. It must stay fixed across calls or
// the resume page is computed against the wrong page boundaries.
func WithPageSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

func WithCategoryPageSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.categoryPageSize = n
		}
	}
}

func WithMetrics(m *metrics.M) Option {
	return func(e *Engine) {
		if m != nil {
			e.m = m
		}
	}
}

var ErrMissingCollaborator = errors.New("sync: collaborator not configured")

// NewEngine wires the engine to its collaborators. remote may be nil for
// callers that only query status, and dest may be nil for callers that never
// run the category resolver.
func NewEngine(store catalogstore.Store, remote RemoteCatalog, dest DestinationWriter, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, ErrMissingCollaborator
	}

	e := &Engine{
		store:            store,
		remote:           remote,
		dest:             dest,
		pageSize:         DefaultPageSize,
		categoryPageSize: DefaultCategoryPageSize,
		m:                metrics.New(nil, nil),
		progress:         NewProgressCounts(),
		now:              time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

func (e *Engine) PageSize() int {
	return e.pageSize
}

// observe records the outcome of one engine operation.
func (e *Engine) observe(ctx context.Context, op string, start time.Time, err error) {
	dur := e.now().Sub(start)
	if err != nil {
		e.m.RecordOperationFailure(ctx, op, dur, err)
		ctxzap.Extract(ctx).Error("sync operation failed",
			zap.String("operation", op),
			zap.String("error_kind", ErrorKind(err)),
			zap.Duration("duration", dur),
			zap.Error(err),
		)
		return
	}
	e.m.RecordOperationSuccess(ctx, op, dur)
}

// CountProducts returns the remote product total.
func (e *Engine) CountProducts(ctx context.Context) (n int64, err error) {
	ctx, span := tracer.Start(ctx, "Engine.CountProducts")
	defer span.End()

	start := e.now()
	defer func() { e.observe(ctx, "count_products", start, err) }()

	if e.remote == nil {
		return 0, ErrMissingCollaborator
	}
	n, err = e.remote.CountProducts(ctx)
	if err != nil {
		return 0, remoteError("count products", err)
	}
	return n, nil
}
