package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type OtelHandlerTestSuite struct {
	suite.Suite
	reader  *sdkmetric.ManualReader
	handler Handler
}

func (suite *OtelHandlerTestSuite) SetupTest() {
	suite.reader = sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(suite.reader))
	suite.handler = NewOtelHandler(context.TODO(), provider, "test")
}

func (suite *OtelHandlerTestSuite) collect() map[string]metricdata.Metrics {
	var rm metricdata.ResourceMetrics
	require.NoError(suite.T(), suite.reader.Collect(context.TODO(), &rm))

	ret := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			ret[m.Name] = m
		}
	}
	return ret
}

func (suite *OtelHandlerTestSuite) TestInt64Counter_tags() {
	ctx := context.TODO()
	var counter Int64Counter
	assert.NotPanics(suite.T(), func() {
		counter = suite.handler.WithTags(map[string]string{"pass": "products"}).Int64Counter("Test_Counter", "A counter for tests", Dimensionless)
	})
	counter.Add(ctx, 2, map[string]string{"page": "1"})
	counter.Add(ctx, 3, map[string]string{"page": "1"})

	got := suite.collect()
	m, ok := got["test_counter"]
	require.True(suite.T(), ok)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(suite.T(), ok)
	require.Len(suite.T(), sum.DataPoints, 1)
	assert.Equal(suite.T(), int64(5), sum.DataPoints[0].Value)

	v, ok := sum.DataPoints[0].Attributes.Value(attribute.Key("pass"))
	require.True(suite.T(), ok)
	assert.Equal(suite.T(), "products", v.AsString())
}

func (suite *OtelHandlerTestSuite) TestInt64Gauge_lastValue() {
	ctx := context.TODO()
	gauge := suite.handler.Int64Gauge("remaining", "Remaining work", Dimensionless)
	gauge.Observe(ctx, 10, nil)
	gauge.Observe(ctx, 4, nil)

	got := suite.collect()
	m, ok := got["remaining"]
	require.True(suite.T(), ok)
	g, ok := m.Data.(metricdata.Gauge[int64])
	require.True(suite.T(), ok)
	require.Len(suite.T(), g.DataPoints, 1)
	assert.Equal(suite.T(), int64(4), g.DataPoints[0].Value)
}

func (suite *OtelHandlerTestSuite) TestInstrumentorFailure() {
	ctx := context.TODO()
	m := New(suite.handler, func(err error) string { return "transport" })
	m.RecordOperationFailure(ctx, "sync_products_page", 15*time.Millisecond, errors.New("dial tcp: refused"))
	m.RecordOperationSuccess(ctx, "sync_products_page", 5*time.Millisecond)

	got := suite.collect()
	failures, ok := got[operationFailureCounterName]
	require.True(suite.T(), ok)
	sum := failures.Data.(metricdata.Sum[int64])
	require.Len(suite.T(), sum.DataPoints, 1)
	kind, ok := sum.DataPoints[0].Attributes.Value(attribute.Key("error_kind"))
	require.True(suite.T(), ok)
	assert.Equal(suite.T(), "transport", kind.AsString())

	_, ok = got[operationDurationHistoName]
	assert.True(suite.T(), ok)
}

func TestOtelHandlerTestSuite(t *testing.T) {
	suite.Run(t, new(OtelHandlerTestSuite))
}

func TestNoopHandler(t *testing.T) {
	m := New(nil, nil)
	assert.NotPanics(t, func() {
		m.Count(context.TODO(), "x", "y", 1)
		m.Observe(context.TODO(), "x", "y", 1)
		m.RecordOperationFailure(context.TODO(), "op", time.Second, errors.New("boom"))
	})
}

func TestNoOpHandlerIgnoresTags(t *testing.T) {
	h := NewNoOpHandler(context.TODO()).WithTags(map[string]string{"store": "source"})
	assert.NotPanics(t, func() {
		h.Int64Counter("c", "d", Dimensionless).Add(context.TODO(), 1, nil)
		h.Int64Gauge("g", "d", Dimensionless).Observe(context.TODO(), 1, map[string]string{"k": "v"})
		h.Int64Histogram("h", "d", Milliseconds).Record(context.TODO(), 5, nil)
	})
}
