package sync //nolint:revive,nolintlint // package name mirrors the domain

import (
	"context"
	"errors"
	"slices"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"

	"github.com/conductorone/catalog-sync/pkg/catalogstore"
	"github.com/conductorone/catalog-sync/pkg/document"
)

type ProductPageResult struct {
	Page          int
	TotalPages    int
	TotalProducts int64
	// ExistingCount is the number of stored products after the page was written.
	ExistingCount int64
	// InsertedCount counts products that were not stored before this call.
	InsertedCount int
	// UpdatedCount counts stored products whose payload was replaced.
	UpdatedCount int
	SkippedCount int
	FailedCount  int
	FetchedCount int
	HasMore      bool
}

// SyncProductsPage fetches one page of products and upserts it. Page 1 (or
// anything lower) means "start or resume": the page is recomputed from the
// number of products already stored, so retrying after a partial failure never
// re-reads pages that are fully persisted.
func (e *Engine) SyncProductsPage(ctx context.Context, requestedPage int) (ret *ProductPageResult, err error) {
	ctx, span := tracer.Start(ctx, "Engine.SyncProductsPage")
	defer span.End()

	start := e.now()
	defer func() { e.observe(ctx, "sync_products_page", start, err) }()

	l := ctxzap.Extract(ctx)
	if e.remote == nil {
		return nil, ErrMissingCollaborator
	}

	existing, err := e.store.CountProducts(ctx)
	if err != nil {
		return nil, newError(ErrPersistence, "count stored products", err)
	}

	page := requestedPage
	if page <= 1 {
		page = ResumePage(existing, e.pageSize)
		if page > 1 {
			l.Info("resuming product sync", zap.Int64("stored", existing), zap.Int("page", page))
		}
	}

	resp, err := e.remote.ListProducts(ctx, page, e.pageSize)
	if err != nil {
		return nil, remoteError("list products", err)
	}

	ret = &ProductPageResult{
		Page:          page,
		TotalPages:    resp.TotalPages,
		TotalProducts: resp.TotalItems,
		FetchedCount:  len(resp.Items),
	}
	// A remote that omits the page total but reports the item total still pages
	// through everything; one that reports neither is treated as a single page.
	if ret.TotalPages == 0 {
		ret.TotalPages = 1
		if ret.TotalProducts > 0 {
			ret.TotalPages = int((ret.TotalProducts + int64(e.pageSize) - 1) / int64(e.pageSize))
		}
	}

	for _, item := range resp.Items {
		inserted, err := e.storeProduct(ctx, item)
		switch {
		case errors.Is(err, ErrValidation):
			ret.SkippedCount++
			l.Warn("skipping invalid product", zap.Error(err))
		case err != nil:
			ret.FailedCount++
			l.Error("failed to store product", zap.Error(err))
		case inserted:
			ret.InsertedCount++
		default:
			ret.UpdatedCount++
		}
	}

	e.m.Count(ctx, productsUpsertedCounter, productsUpsertedDesc, int64(ret.InsertedCount+ret.UpdatedCount))
	e.m.Count(ctx, operationErrorsCounter, operationErrorsDesc, int64(ret.SkippedCount+ret.FailedCount))

	ret.ExistingCount, err = e.store.CountProducts(ctx)
	if err != nil {
		return nil, newError(ErrPersistence, "count stored products", err)
	}
	ret.HasMore = HasMorePages(page, ret.TotalPages, ret.FetchedCount)

	e.m.Observe(ctx, storedProductsGauge, storedProductsGaugeDesc, ret.ExistingCount)
	e.progress.LogProductsProgress(ctx, ret.ExistingCount, ret.TotalProducts)

	l.Debug("synced product page",
		zap.Int("page", page),
		zap.Int("total_pages", ret.TotalPages),
		zap.Int("fetched", ret.FetchedCount),
		zap.Int("inserted", ret.InsertedCount),
		zap.Int("updated", ret.UpdatedCount),
		zap.Int("skipped", ret.SkippedCount),
		zap.Int("failed", ret.FailedCount),
		zap.Bool("has_more", ret.HasMore),
	)

	return ret, nil
}

// storeProduct validates and upserts one remote product. It reports whether the
// product was new.
func (e *Engine) storeProduct(ctx context.Context, payload document.Document) (bool, error) {
	if payload == nil {
		return false, newError(ErrValidation, "store product", document.ErrNotObject)
	}
	p, err := document.DecodeProduct(payload)
	if err != nil {
		return false, newError(ErrValidation, "store product", err)
	}

	prev, err := e.store.GetProduct(ctx, p.ID)
	if err != nil && !errors.Is(err, catalogstore.ErrNotFound) {
		return false, newError(ErrPersistence, "load product", err)
	}
	if errors.Is(err, catalogstore.ErrNotFound) {
		prev = nil
	}

	rec := buildProductRecord(p, payload, prev)
	if err := e.store.UpsertProduct(ctx, rec); err != nil {
		return false, newError(ErrPersistence, "upsert product", err)
	}
	return prev == nil, nil
}

// buildProductRecord derives the stored record for a freshly fetched payload.
// Merged variations survive a re-sync as long as the remote still lists the
// same variation ids.
func buildProductRecord(p document.Product, payload document.Document, prev *catalogstore.ProductRecord) *catalogstore.ProductRecord {
	rec := &catalogstore.ProductRecord{
		SourceID:   p.ID,
		Payload:    payload,
		IsVariable: document.IsVariable(payload),
	}
	if p.SKU != "" {
		sku := p.SKU
		rec.SKU = &sku
	}

	if prev != nil && prev.VariationsObtained && rec.IsVariable {
		if sameIDs(document.VariationIDs(payload), document.VariationIDs(prev.Payload)) {
			rec.Payload = document.WithVariations(payload, document.MergedVariations(prev.Payload))
			rec.VariationsObtained = true
		}
	}

	return rec
}

func sameIDs(a []int64, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	a = slices.Clone(a)
	b = slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}
