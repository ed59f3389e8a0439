package sync //nolint:revive,nolintlint // package name mirrors the domain

// Phase is the driver-visible state of the engine. It is always derived from
// stored data, never persisted.
type Phase string

const (
	PhaseEmpty              Phase = "empty"
	PhaseProductsSyncing    Phase = "products_syncing"
	PhaseProductsComplete   Phase = "products_complete"
	PhaseVariationsSyncing  Phase = "variations_syncing"
	PhaseVariationsComplete Phase = "variations_complete"
	PhaseCategoriesSyncing  Phase = "categories_syncing"
	PhaseSynced             Phase = "synced"
)

// DerivePhase maps a status to a phase. remoteTotal is the product count the
// remote reports; pass a negative value when it is unknown.
func DerivePhase(s *SyncStatus, remoteTotal int64) Phase {
	switch {
	case s == nil || s.ProductCount == 0:
		return PhaseEmpty
	case remoteTotal >= 0 && s.ProductCount < remoteTotal && s.CompletedVariationCount == 0 && s.CategoryCount == 0:
		return PhaseProductsSyncing
	case s.VariableCount > s.CompletedVariationCount && s.CompletedVariationCount == 0:
		return PhaseProductsComplete
	case s.VariableCount > s.CompletedVariationCount:
		return PhaseVariationsSyncing
	case s.CategoryCount == 0 && s.ProductsWithUnmappedCategories > 0:
		return PhaseVariationsComplete
	case s.IsComplete && s.ProductsWithUnmappedCategories == 0 && s.ProductsPendingRemap == 0:
		return PhaseSynced
	default:
		return PhaseCategoriesSyncing
	}
}
