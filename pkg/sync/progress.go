package sync //nolint:revive,nolintlint // package name mirrors the domain

import (
	"context"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

const maxLogFrequency = 10 * time.Second

// ProgressCounts throttles progress logging across repeated engine calls.
type ProgressCounts struct {
	LastProductLog   time.Time
	LastVariationLog time.Time
}

func NewProgressCounts() *ProgressCounts {
	return &ProgressCounts{}
}

func (p *ProgressCounts) LogProductsProgress(ctx context.Context, stored int64, total int64) {
	l := ctxzap.Extract(ctx)
	if total == 0 {
		if time.Since(p.LastProductLog) > maxLogFrequency {
			l.Info("Syncing products", zap.Int64("stored", stored))
			p.LastProductLog = time.Now()
		}
		return
	}

	percentComplete := (stored * 100) / total

	switch {
	case stored > total:
		l.Warn("more products stored than the remote reports",
			zap.Int64("stored", stored),
			zap.Int64("total", total),
		)
	case percentComplete == 100:
		l.Info("Synced products", zap.Int64("count", stored), zap.Int64("total", total))
		p.LastProductLog = time.Time{}
	case time.Since(p.LastProductLog) > maxLogFrequency:
		l.Info("Syncing products",
			zap.Int64("stored", stored),
			zap.Int64("total", total),
			zap.Int64("percent_complete", percentComplete),
		)
		p.LastProductLog = time.Now()
	}
}

func (p *ProgressCounts) LogVariationsProgress(ctx context.Context, done bool, processed int, failed int) {
	l := ctxzap.Extract(ctx)
	switch {
	case done:
		l.Info("Synced variations")
		p.LastVariationLog = time.Time{}
	case time.Since(p.LastVariationLog) > maxLogFrequency:
		l.Info("Syncing variations", zap.Int("batch_processed", processed), zap.Int("batch_errors", failed))
		p.LastVariationLog = time.Now()
	}
}
