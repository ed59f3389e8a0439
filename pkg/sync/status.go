package sync //nolint:revive,nolintlint // package name mirrors the domain

import (
	"context"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/conductorone/catalog-sync/pkg/document"
)

type SyncStatus struct {
	ProductCount                   int64
	VariableCount                  int64
	CompletedVariationCount        int64
	CategoryCount                  int64
	MappedCategoryCount            int64
	UnmappedCategoryCount          int64
	ProductsWithUnmappedCategories int64
	// ProductsPendingRemap counts products whose categories are all mapped but
	// whose payload still carries a stale reference.
	ProductsPendingRemap int64
	// UnlinkedParentCount counts mapped categories still waiting for their parent link.
	UnlinkedParentCount int64
	IsComplete          bool
}

type Readiness struct {
	IsReady bool
	// MissingCategories are referenced by stored products but absent from the
	// category table.
	MissingCategories              []int64
	UnmappedCategoryCount          int64
	ProductsWithUnmappedCategories int64
}

type referenceScan struct {
	referenced           mapset.Set[int64]
	productsWithUnmapped int64
	productsPendingRemap int64
}

// GetSyncStatus summarizes the store. It has no side effects.
func (e *Engine) GetSyncStatus(ctx context.Context) (*SyncStatus, error) {
	ctx, span := tracer.Start(ctx, "Engine.GetSyncStatus")
	defer span.End()

	pc, err := e.store.ProductCounts(ctx)
	if err != nil {
		return nil, newError(ErrPersistence, "count products", err)
	}
	cc, err := e.store.CategoryCounts(ctx)
	if err != nil {
		return nil, newError(ErrPersistence, "count categories", err)
	}
	scan, err := e.scanReferences(ctx)
	if err != nil {
		return nil, err
	}

	ret := &SyncStatus{
		ProductCount:                   pc.Total,
		VariableCount:                  pc.Variable,
		CompletedVariationCount:        pc.VariationsObtained,
		CategoryCount:                  cc.Total,
		MappedCategoryCount:            cc.Mapped,
		UnmappedCategoryCount:          cc.Unmapped,
		ProductsWithUnmappedCategories: scan.productsWithUnmapped,
		ProductsPendingRemap:           scan.productsPendingRemap,
		UnlinkedParentCount:            cc.UnlinkedParents,
	}
	ret.IsComplete = ret.ProductCount > 0 &&
		ret.VariableCount == ret.CompletedVariationCount &&
		ret.UnmappedCategoryCount == 0

	e.m.Observe(ctx, pendingVariationsGauge, pendingVariationsGaugeDs, ret.VariableCount-ret.CompletedVariationCount)
	e.m.Observe(ctx, unmappedCategoriesGauge, unmappedCategoriesDesc, ret.UnmappedCategoryCount)

	return ret, nil
}

// ValidateCategoryMappingReadiness checks that every category referenced by a
// stored product exists in the category table and has a destination term.
// References are read from the product payloads so that an interrupted
// category fetch shows up as missing categories.
func (e *Engine) ValidateCategoryMappingReadiness(ctx context.Context) (*Readiness, error) {
	ctx, span := tracer.Start(ctx, "Engine.ValidateCategoryMappingReadiness")
	defer span.End()

	scan, err := e.scanReferences(ctx)
	if err != nil {
		return nil, err
	}
	known, err := e.store.CategorySourceIDs(ctx)
	if err != nil {
		return nil, newError(ErrPersistence, "list categories", err)
	}
	cc, err := e.store.CategoryCounts(ctx)
	if err != nil {
		return nil, newError(ErrPersistence, "count categories", err)
	}

	missing := scan.referenced.Difference(mapset.NewThreadUnsafeSet(known...)).ToSlice()
	slices.Sort(missing)

	ret := &Readiness{
		MissingCategories:              missing,
		UnmappedCategoryCount:          cc.Unmapped,
		ProductsWithUnmappedCategories: scan.productsWithUnmapped,
	}
	ret.IsReady = len(ret.MissingCategories) == 0 && ret.UnmappedCategoryCount == 0
	return ret, nil
}

func (e *Engine) scanReferences(ctx context.Context) (*referenceScan, error) {
	mapping, err := e.store.CategoryMapping(ctx)
	if err != nil {
		return nil, newError(ErrPersistence, "load category mapping", err)
	}

	ret := &referenceScan{referenced: mapset.NewThreadUnsafeSet[int64]()}
	var after int64
	for {
		page, err := e.store.ListProducts(ctx, after, statusScanPageSize)
		if err != nil {
			return nil, newError(ErrPersistence, "list products", err)
		}
		if len(page) == 0 {
			return ret, nil
		}

		for _, rec := range page {
			after = rec.RowID
			unmapped := false
			stale := false
			for _, ref := range document.CategoryRefs(rec.Payload) {
				src := ref.Source()
				ret.referenced.Add(src)
				dest, ok := mapping[src]
				switch {
				case !ok:
					unmapped = true
				case !ref.Mapped(dest):
					stale = true
				}
			}
			if unmapped {
				ret.productsWithUnmapped++
			} else if stale {
				ret.productsPendingRemap++
			}
		}
	}
}
