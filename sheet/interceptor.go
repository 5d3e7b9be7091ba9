package sheet

import (
	"context"

	"github.com/wudi/qrsheet/ir/raw"
	"github.com/wudi/qrsheet/observability"
)

// writeMetrics counts the objects and bytes the PDF writer emits.
type writeMetrics struct{ m observability.Metrics }

func (w writeMetrics) BeforeWrite(context.Context, raw.Object) error { return nil }

func (w writeMetrics) AfterWrite(_ context.Context, _ raw.Object, n int64) error {
	w.m.Counter(observability.MetricObjectsWritten, 1)
	w.m.Counter(observability.MetricBytesWritten, float64(n))
	return nil
}
