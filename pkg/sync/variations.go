package sync //nolint:revive,nolintlint // package name mirrors the domain

import (
	"context"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"

	"github.com/conductorone/catalog-sync/pkg/document"
)

type VariationBatchResult struct {
	ProcessedCount int
	ErrorCount     int
	// DroppedCount counts fetched variations discarded for lacking an id.
	DroppedCount int
	HasMore      bool
	Completed    bool
}

// SyncVariationsBatch merges variations into up to batchSize variable products
// that do not have them yet. A product whose fetch fails is left untouched and
// comes back in a later batch.
func (e *Engine) SyncVariationsBatch(ctx context.Context, batchSize int) (ret *VariationBatchResult, err error) {
	ctx, span := tracer.Start(ctx, "Engine.SyncVariationsBatch")
	defer span.End()

	start := e.now()
	defer func() { e.observe(ctx, "sync_variations_batch", start, err) }()

	l := ctxzap.Extract(ctx)
	if e.remote == nil {
		return nil, ErrMissingCollaborator
	}
	if batchSize <= 0 {
		batchSize = DefaultVariationBatch
	}

	pending, err := e.store.ListPendingVariableProducts(ctx, batchSize)
	if err != nil {
		return nil, newError(ErrPersistence, "list pending variable products", err)
	}

	ret = &VariationBatchResult{}
	for _, rec := range pending {
		items, err := e.remote.ListVariations(ctx, rec.SourceID)
		if err != nil {
			ret.ErrorCount++
			l.Warn("failed to fetch variations",
				zap.Int64("product_id", rec.SourceID),
				zap.String("error_kind", ErrorKind(remoteError("list variations", err))),
				zap.Error(err),
			)
			continue
		}

		kept, dropped := document.SanitizeVariations(items)
		ret.DroppedCount += dropped
		if dropped > 0 {
			l.Warn("dropped variations without id", zap.Int64("product_id", rec.SourceID), zap.Int("dropped", dropped))
		}

		merged := document.WithVariations(rec.Payload, kept)
		if err := e.store.MarkVariationsObtained(ctx, rec.SourceID, merged); err != nil {
			ret.ErrorCount++
			l.Error("failed to store variations",
				zap.Int64("product_id", rec.SourceID),
				zap.Error(newError(ErrPersistence, "store variations", err)),
			)
			continue
		}

		ret.ProcessedCount++
		l.Debug("merged variations", zap.Int64("product_id", rec.SourceID), zap.Int("count", len(kept)))
	}

	e.m.Count(ctx, variationsMergedCounter, variationsMergedDesc, int64(ret.ProcessedCount))
	e.m.Count(ctx, operationErrorsCounter, operationErrorsDesc, int64(ret.ErrorCount))

	ret.HasMore, err = e.store.HasPendingVariableProducts(ctx)
	if err != nil {
		return nil, newError(ErrPersistence, "check pending variable products", err)
	}
	ret.Completed = !ret.HasMore

	e.progress.LogVariationsProgress(ctx, ret.Completed, ret.ProcessedCount, ret.ErrorCount)

	return ret, nil
}
