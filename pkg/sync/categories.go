package sync //nolint:revive,nolintlint // package name mirrors the domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"

	"github.com/conductorone/catalog-sync/pkg/catalogstore"
	"github.com/conductorone/catalog-sync/pkg/document"
)

type CategorySyncResult struct {
	// CategoriesProcessed counts categories that received a destination term in this call.
	CategoriesProcessed int
	CategoriesFetched   int
	TermsCreated        int
	TermsMatched        int
	TermsUpdated        int
	ParentsLinked       int
	ImagesImported      int
	ProductsUpdated     int
	Errors              int
}

var errNoDestination = errors.New("sync: no destination writer configured")

// SyncCategoriesFromProducts reconciles categories in four passes: fetch the
// complete remote category set, create or match destination terms, link
// children whose parent was mapped later, then rewrite category references in
// stored products. Rerun it until ProductsUpdated is zero.
func (e *Engine) SyncCategoriesFromProducts(ctx context.Context) (ret *CategorySyncResult, err error) {
	ctx, span := tracer.Start(ctx, "Engine.SyncCategoriesFromProducts")
	defer span.End()

	start := e.now()
	defer func() { e.observe(ctx, "sync_categories", start, err) }()

	if e.remote == nil {
		return nil, ErrMissingCollaborator
	}
	if e.dest == nil {
		return nil, newError(ErrMappingIncomplete, "sync categories", errNoDestination)
	}

	ret = &CategorySyncResult{}
	if err := e.fetchCategories(ctx, ret); err != nil {
		return nil, err
	}

	mapping, err := e.store.CategoryMapping(ctx)
	if err != nil {
		return nil, newError(ErrPersistence, "load category mapping", err)
	}

	if err := e.materializeCategories(ctx, mapping, ret); err != nil {
		return nil, err
	}
	if err := e.updateStaleCategories(ctx, mapping, ret); err != nil {
		return nil, err
	}
	if err := e.relinkCategories(ctx, mapping, ret); err != nil {
		return nil, err
	}
	if err := e.remapProducts(ctx, mapping, ret); err != nil {
		return nil, err
	}

	e.m.Count(ctx, termsCreatedCounter, termsCreatedDesc, int64(ret.TermsCreated))
	e.m.Count(ctx, operationErrorsCounter, operationErrorsDesc, int64(ret.Errors))

	counts, err := e.store.CategoryCounts(ctx)
	if err == nil {
		e.m.Observe(ctx, unmappedCategoriesGauge, unmappedCategoriesDesc, counts.Unmapped)
	}

	ctxzap.Extract(ctx).Info("synced categories",
		zap.Int("fetched", ret.CategoriesFetched),
		zap.Int("processed", ret.CategoriesProcessed),
		zap.Int("created", ret.TermsCreated),
		zap.Int("matched", ret.TermsMatched),
		zap.Int("updated", ret.TermsUpdated),
		zap.Int("parents_linked", ret.ParentsLinked),
		zap.Int("images_imported", ret.ImagesImported),
		zap.Int("products_updated", ret.ProductsUpdated),
		zap.Int("errors", ret.Errors),
	)

	return ret, nil
}

// fetchCategories pages through every remote category, not only the ones
// referenced by stored products, since later product pages may reference any of them.
func (e *Engine) fetchCategories(ctx context.Context, ret *CategorySyncResult) error {
	l := ctxzap.Extract(ctx)

	for page := 1; ; page++ {
		resp, err := e.remote.ListCategories(ctx, page, e.categoryPageSize)
		if err != nil {
			return remoteError(fmt.Sprintf("list categories page %d", page), err)
		}

		for _, item := range resp.Items {
			rec, err := categoryRecord(item)
			if err != nil {
				ret.Errors++
				l.Warn("skipping invalid category", zap.Error(err))
				continue
			}
			if err := e.store.UpsertCategory(ctx, rec); err != nil {
				ret.Errors++
				l.Error("failed to store category", zap.Int64("category_id", rec.SourceID), zap.Error(err))
				continue
			}
			ret.CategoriesFetched++
		}

		if !HasMorePages(page, resp.TotalPages, len(resp.Items)) {
			return nil
		}
	}
}

func categoryRecord(payload document.Document) (*catalogstore.CategoryRecord, error) {
	if payload == nil {
		return nil, newError(ErrValidation, "store category", document.ErrNotObject)
	}
	c, err := document.DecodeCategory(payload)
	if err != nil {
		return nil, newError(ErrValidation, "store category", err)
	}
	hash, err := c.Hash()
	if err != nil {
		return nil, newError(ErrValidation, "store category", err)
	}
	return &catalogstore.CategoryRecord{
		SourceID:       c.ID,
		Slug:           c.Slug,
		ParentSourceID: c.ParentID(),
		Payload:        payload,
		PayloadHash:    hash,
	}, nil
}

// materializeCategories gives every unmapped category a destination term. A
// child whose parent has no term yet is created top level and picked up by
// relinkCategories once the parent is mapped.
func (e *Engine) materializeCategories(ctx context.Context, mapping map[int64]int64, ret *CategorySyncResult) error {
	l := ctxzap.Extract(ctx)

	unmapped, err := e.store.ListUnmappedCategories(ctx)
	if err != nil {
		return newError(ErrPersistence, "list unmapped categories", err)
	}

	for _, rec := range unmapped {
		cat, err := document.DecodeCategory(rec.Payload)
		if err != nil {
			ret.Errors++
			continue
		}

		var parentDest *int64
		parentLinked := true
		if rec.ParentSourceID != nil {
			if dest, ok := mapping[*rec.ParentSourceID]; ok {
				parentDest = &dest
			} else {
				parentLinked = false
				l.Debug("parent category not mapped yet, creating without parent",
					zap.Int64("category_id", rec.SourceID),
					zap.Int64("parent_id", *rec.ParentSourceID),
				)
			}
		}

		termID, linked, err := e.ensureTerm(ctx, rec, cat, parentDest, ret)
		if err != nil {
			ret.Errors++
			l.Error("failed to materialize category", zap.Int64("category_id", rec.SourceID), zap.Error(err))
			continue
		}
		parentLinked = parentLinked && linked

		if err := e.store.SetCategoryDestination(ctx, rec.SourceID, termID, parentLinked); err != nil {
			// the term exists now, so the next run matches it by slug
			ret.Errors++
			l.Error("failed to store category mapping",
				zap.Int64("category_id", rec.SourceID),
				zap.Error(newError(ErrPersistence, "store category mapping", err)),
			)
			continue
		}
		mapping[rec.SourceID] = termID
		ret.CategoriesProcessed++
		if parentDest != nil && parentLinked {
			ret.ParentsLinked++
		}

		e.decorateTerm(ctx, termID, cat, ret)
	}

	return nil
}

// ensureTerm finds the destination term by slug or creates it. linked reports
// whether the term ends up under parentDest.
func (e *Engine) ensureTerm(
	ctx context.Context,
	rec *catalogstore.CategoryRecord,
	cat document.Category,
	parentDest *int64,
	ret *CategorySyncResult,
) (int64, bool, error) {
	term, err := e.dest.FindTermBySlug(ctx, rec.Slug)
	if err != nil {
		return 0, false, remoteError("find term by slug", err)
	}

	if term != nil {
		ret.TermsMatched++
		if parentDest == nil || term.Parent == *parentDest {
			return term.ID, true, nil
		}
		if err := e.dest.SetTermParent(ctx, term.ID, *parentDest); err != nil {
			ctxzap.Extract(ctx).Warn("failed to link matched term to parent", zap.Int64("term_id", term.ID), zap.Error(err))
			return term.ID, false, nil
		}
		return term.ID, true, nil
	}

	termID, err := e.dest.CreateTerm(ctx, termFields(rec, cat, parentDest))
	if err != nil {
		return 0, false, remoteError("create term", err)
	}
	ret.TermsCreated++
	return termID, true, nil
}

func termFields(rec *catalogstore.CategoryRecord, cat document.Category, parentDest *int64) TermFields {
	return TermFields{
		Name:        cat.Name,
		Slug:        rec.Slug,
		Description: cat.Description,
		ParentID:    parentDest,
	}
}

// updateStaleCategories pushes remote changes to terms that were mapped before the change.
func (e *Engine) updateStaleCategories(ctx context.Context, mapping map[int64]int64, ret *CategorySyncResult) error {
	l := ctxzap.Extract(ctx)

	stale, err := e.store.ListStaleCategories(ctx)
	if err != nil {
		return newError(ErrPersistence, "list stale categories", err)
	}

	for _, rec := range stale {
		cat, err := document.DecodeCategory(rec.Payload)
		if err != nil {
			ret.Errors++
			continue
		}

		var parentDest *int64
		if rec.ParentSourceID != nil {
			if dest, ok := mapping[*rec.ParentSourceID]; ok {
				parentDest = &dest
			}
		}

		termID := *rec.DestinationID
		if err := e.dest.UpdateTerm(ctx, termID, termFields(rec, cat, parentDest)); err != nil {
			ret.Errors++
			l.Error("failed to update category term", zap.Int64("category_id", rec.SourceID), zap.Error(remoteError("update term", err)))
			continue
		}
		ret.TermsUpdated++

		if err := e.store.ClearCategoryStale(ctx, rec.SourceID); err != nil {
			ret.Errors++
			continue
		}
		if parentDest != nil && !rec.ParentLinked {
			if err := e.store.SetCategoryParentLinked(ctx, rec.SourceID); err == nil {
				ret.ParentsLinked++
			}
		}

		e.decorateTerm(ctx, termID, cat, ret)
	}

	return nil
}

// relinkCategories attaches children to parents that were mapped after them.
func (e *Engine) relinkCategories(ctx context.Context, mapping map[int64]int64, ret *CategorySyncResult) error {
	l := ctxzap.Extract(ctx)

	children, err := e.store.ListUnlinkedChildren(ctx)
	if err != nil {
		return newError(ErrPersistence, "list unlinked categories", err)
	}

	for _, rec := range children {
		parentDest, ok := mapping[*rec.ParentSourceID]
		if !ok {
			continue
		}
		if err := e.dest.SetTermParent(ctx, *rec.DestinationID, parentDest); err != nil {
			ret.Errors++
			l.Warn("failed to link category to parent", zap.Int64("category_id", rec.SourceID), zap.Error(remoteError("set term parent", err)))
			continue
		}
		if err := e.store.SetCategoryParentLinked(ctx, rec.SourceID); err != nil {
			ret.Errors++
			continue
		}
		ret.ParentsLinked++
	}

	return nil
}

// decorateTerm applies the image and display mode of cat to the term. Failures
// are counted but leave the mapping in place.
func (e *Engine) decorateTerm(ctx context.Context, termID int64, cat document.Category, ret *CategorySyncResult) {
	l := ctxzap.Extract(ctx).With(zap.Int64("term_id", termID), zap.Int64("category_id", cat.ID))

	if cat.Image != nil && cat.Image.Src != "" {
		assetID, imported, err := e.importImage(ctx, cat.Image)
		switch {
		case err != nil:
			ret.Errors++
			l.Warn("failed to import category image", zap.String("src", cat.Image.Src), zap.Error(err))
		default:
			if imported {
				ret.ImagesImported++
			}
			if err := e.dest.SetTermImage(ctx, termID, assetID); err != nil {
				ret.Errors++
				l.Warn("failed to set category image", zap.Error(err))
			}
		}
	}

	if cat.Display != "" {
		if !document.ValidDisplayMode(cat.Display) {
			l.Warn("dropping invalid display mode", zap.String("display", cat.Display))
			return
		}
		if err := e.dest.SetTermDisplayMode(ctx, termID, cat.Display); err != nil {
			ret.Errors++
			l.Warn("failed to set display mode", zap.Error(err))
		}
	}
}

// importImage returns the destination asset for img, uploading it only when the
// source URL has not been imported before.
func (e *Engine) importImage(ctx context.Context, img *document.Image) (int64, bool, error) {
	existing, err := e.store.GetImage(ctx, img.Src)
	switch {
	case err == nil:
		return existing.AssetID, false, nil
	case !errors.Is(err, catalogstore.ErrNotFound):
		return 0, false, newError(ErrPersistence, "load image", err)
	}

	alt := img.Alt
	if alt == "" {
		alt = img.Name
	}
	assetID, err := e.dest.ImportImage(ctx, img.Src, alt)
	if err != nil {
		return 0, false, remoteError("import image", err)
	}
	if err := e.store.PutImage(ctx, &catalogstore.ImageRecord{SourceURL: img.Src, AssetID: assetID}); err != nil {
		return 0, false, newError(ErrPersistence, "store image", err)
	}
	return assetID, true, nil
}

// remapProducts rewrites category references in stored products. Only payloads
// that change are written back.
func (e *Engine) remapProducts(ctx context.Context, mapping map[int64]int64, ret *CategorySyncResult) error {
	l := ctxzap.Extract(ctx)
	lookup := func(id int64) (int64, bool) {
		dest, ok := mapping[id]
		return dest, ok
	}

	var after int64
	for {
		page, err := e.store.ListProducts(ctx, after, statusScanPageSize)
		if err != nil {
			return newError(ErrPersistence, "list products", err)
		}
		if len(page) == 0 {
			return nil
		}

		for _, rec := range page {
			after = rec.RowID
			out, changed, unmapped := document.RemapCategories(rec.Payload, lookup)
			if len(unmapped) > 0 {
				l.Debug("product references unmapped categories",
					zap.Int64("product_id", rec.SourceID),
					zap.Int64s("category_ids", unmapped),
					zap.Error(ErrMappingIncomplete),
				)
			}
			if !changed {
				continue
			}
			if err := e.store.UpdateProductPayload(ctx, rec.SourceID, out); err != nil {
				ret.Errors++
				l.Error("failed to store remapped product", zap.Int64("product_id", rec.SourceID), zap.Error(err))
				continue
			}
			ret.ProductsUpdated++
		}
	}
}
