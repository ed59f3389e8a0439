package metrics

import "context"

// discard drops every measurement. It is stateless, so one value serves all
// instruments and tag sets.
type discard struct{}

var (
	_ Handler        = discard{}
	_ Int64Counter   = discard{}
	_ Int64Gauge     = discard{}
	_ Int64Histogram = discard{}
)

func (discard) Add(context.Context, int64, map[string]string)     {}
func (discard) Observe(context.Context, int64, map[string]string) {}
func (discard) Record(context.Context, int64, map[string]string)  {}

func (d discard) Int64Counter(string, string, Unit) Int64Counter     { return d }
func (d discard) Int64Gauge(string, string, Unit) Int64Gauge         { return d }
func (d discard) Int64Histogram(string, string, Unit) Int64Histogram { return d }
func (d discard) WithTags(map[string]string) Handler                 { return d }

// NewNoOpHandler returns a handler used when no meter provider is configured.
func NewNoOpHandler(_ context.Context) Handler {
	return discard{}
}
