package metrics

import (
	"context"
	"time"
)

const (
	operationSuccessCounterName = "catalog_sync.operation_success"
	operationFailureCounterName = "catalog_sync.operation_failure"
	operationDurationHistoName  = "catalog_sync.operation_latency"
	operationSuccessCounterDesc = "number of successful sync operations by operation name"
	operationFailureCounterDesc = "number of failed sync operations by operation name and error kind"
	operationDurationHistoDesc  = "duration of sync operations by operation name and status"
)

// M records per-operation outcomes on top of a Handler.
type M struct {
	underlying Handler
	classify   func(error) string
}

func (m *M) RecordOperationSuccess(ctx context.Context, op string, dur time.Duration) {
	c := m.underlying.Int64Counter(operationSuccessCounterName, operationSuccessCounterDesc, Dimensionless)
	h := m.underlying.Int64Histogram(operationDurationHistoName, operationDurationHistoDesc, Milliseconds)
	c.Add(ctx, 1, map[string]string{"operation": op})
	h.Record(ctx, dur.Milliseconds(), map[string]string{"operation": op, "status": "success"})
}

func (m *M) RecordOperationFailure(ctx context.Context, op string, dur time.Duration, err error) {
	kind := "unknown"
	if m.classify != nil && err != nil {
		kind = m.classify(err)
	}

	c := m.underlying.Int64Counter(operationFailureCounterName, operationFailureCounterDesc, Dimensionless)
	h := m.underlying.Int64Histogram(operationDurationHistoName, operationDurationHistoDesc, Milliseconds)
	c.Add(ctx, 1, map[string]string{"operation": op, "error_kind": kind})
	h.Record(ctx, dur.Milliseconds(), map[string]string{"operation": op, "status": "failure", "error_kind": kind})
}

// Count adds n to the named dimensionless counter.
func (m *M) Count(ctx context.Context, name string, description string, n int64) {
	if n == 0 {
		return
	}
	m.underlying.Int64Counter(name, description, Dimensionless).Add(ctx, n, nil)
}

// Observe sets the named gauge.
func (m *M) Observe(ctx context.Context, name string, description string, value int64) {
	m.underlying.Int64Gauge(name, description, Dimensionless).Observe(ctx, value, nil)
}

func New(underlying Handler, classify func(error) string) *M {
	if underlying == nil {
		underlying = discard{}
	}
	return &M{underlying: underlying, classify: classify}
}
