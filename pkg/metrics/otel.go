package metrics

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

type otelInstruments struct {
	meter otelmetric.Meter

	int64CountersMtx sync.Mutex
	int64Counters    map[string]otelmetric.Int64Counter
	int64HistosMtx   sync.Mutex
	int64Histos      map[string]otelmetric.Int64Histogram
	int64GaugesMtx   sync.Mutex
	int64Gauges      map[string]*syncInt64Gauge
}

type otelHandler struct {
	instruments *otelInstruments
	tags        map[string]string
}

func toAttributes(tags map[string]string) attribute.Set {
	kvs := make([]attribute.KeyValue, 0, len(tags))
	for k, v := range tags {
		kvs = append(kvs, attribute.String(k, v))
	}
	sort.Slice(kvs, func(i, j int) bool { return kvs[i].Key < kvs[j].Key })
	return attribute.NewSet(kvs...)
}

type otelInt64Histogram struct {
	h    otelmetric.Int64Histogram
	tags map[string]string
}

func (o *otelInt64Histogram) Record(ctx context.Context, value int64, tags map[string]string) {
	o.h.Record(ctx, value, otelmetric.WithAttributeSet(toAttributes(mergeTags(o.tags, tags))))
}

var _ Int64Histogram = (*otelInt64Histogram)(nil)

type otelInt64Counter struct {
	c    otelmetric.Int64Counter
	tags map[string]string
}

func (o *otelInt64Counter) Add(ctx context.Context, value int64, tags map[string]string) {
	o.c.Add(ctx, value, otelmetric.WithAttributeSet(toAttributes(mergeTags(o.tags, tags))))
}

var _ Int64Counter = (*otelInt64Counter)(nil)

type syncInt64Gauge struct {
	mtx    sync.Mutex
	values map[attribute.Distinct]gaugeValue
	gauge  otelmetric.Int64ObservableGauge
}

type gaugeValue struct {
	value int64
	attrs attribute.Set
}

func newSyncInt64Gauge(meter otelmetric.Meter, name string, description string, unit Unit) *syncInt64Gauge {
	g, err := meter.Int64ObservableGauge(name, otelmetric.WithDescription(description), otelmetric.WithUnit(string(unit)))
	if err != nil {
		panic(err)
	}

	return &syncInt64Gauge{gauge: g, values: make(map[attribute.Distinct]gaugeValue)}
}

type taggedGauge struct {
	g    *syncInt64Gauge
	tags map[string]string
}

func (t *taggedGauge) Observe(_ context.Context, value int64, tags map[string]string) {
	attrs := toAttributes(mergeTags(t.tags, tags))
	t.g.mtx.Lock()
	defer t.g.mtx.Unlock()
	t.g.values[attrs.Equivalent()] = gaugeValue{value: value, attrs: attrs}
}

var _ Int64Gauge = (*taggedGauge)(nil)

func (h *otelHandler) Int64Histogram(name string, description string, unit Unit) Int64Histogram {
	i := h.instruments
	i.int64HistosMtx.Lock()
	defer i.int64HistosMtx.Unlock()

	name = strings.ToLower(name)

	c, ok := i.int64Histos[name]
	var err error
	if !ok {
		c, err = i.meter.Int64Histogram(name, otelmetric.WithDescription(description), otelmetric.WithUnit(string(unit)))
		if err != nil {
			panic(err)
		}
		i.int64Histos[name] = c
	}

	return &otelInt64Histogram{h: c, tags: h.tags}
}

func (h *otelHandler) Int64Counter(name string, description string, unit Unit) Int64Counter {
	i := h.instruments
	i.int64CountersMtx.Lock()
	defer i.int64CountersMtx.Unlock()

	name = strings.ToLower(name)

	c, ok := i.int64Counters[name]
	var err error
	if !ok {
		c, err = i.meter.Int64Counter(name, otelmetric.WithDescription(description), otelmetric.WithUnit(string(unit)))
		if err != nil {
			panic(err)
		}
		i.int64Counters[name] = c
	}

	return &otelInt64Counter{c: c, tags: h.tags}
}

func (h *otelHandler) Int64Gauge(name string, description string, unit Unit) Int64Gauge {
	i := h.instruments
	i.int64GaugesMtx.Lock()
	defer i.int64GaugesMtx.Unlock()

	name = strings.ToLower(name)

	if g, ok := i.int64Gauges[name]; ok {
		return &taggedGauge{g: g, tags: h.tags}
	}

	newGauge := newSyncInt64Gauge(i.meter, name, description, unit)

	_, err := i.meter.RegisterCallback(func(ctx context.Context, observer otelmetric.Observer) error {
		newGauge.mtx.Lock()
		defer newGauge.mtx.Unlock()
		for _, v := range newGauge.values {
			observer.ObserveInt64(newGauge.gauge, v.value, otelmetric.WithAttributeSet(v.attrs))
		}
		return nil
	}, newGauge.gauge)
	if err != nil {
		panic(err)
	}

	i.int64Gauges[name] = newGauge

	return &taggedGauge{g: newGauge, tags: h.tags}
}

func (h *otelHandler) WithTags(tags map[string]string) Handler {
	return &otelHandler{
		instruments: h.instruments,
		tags:        mergeTags(h.tags, tags),
	}
}

func NewOtelHandler(_ context.Context, provider otelmetric.MeterProvider, name string) Handler {
	return &otelHandler{
		instruments: &otelInstruments{
			meter:         provider.Meter(name),
			int64Counters: make(map[string]otelmetric.Int64Counter),
			int64Histos:   make(map[string]otelmetric.Int64Histogram),
			int64Gauges:   make(map[string]*syncInt64Gauge),
		},
	}
}

var _ Handler = (*otelHandler)(nil)
