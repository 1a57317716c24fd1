package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// PipelineMetrics tracks the ingest-validate-sign-serve pipeline.
type PipelineMetrics struct {
	ctx                context.Context
	uploadsTotal       metric.Int64Counter
	rejectionsTotal    metric.Int64Counter
	signingsTotal      metric.Int64Counter
	signDurationMs     metric.Int64Histogram
	downloadsTotal     metric.Int64Counter
	quotaEvictions     metric.Int64Counter
	sweepDeletions     metric.Int64Counter
}

// NewPipelineMetrics creates an instance of PipelineMetrics.
func NewPipelineMetrics(ctx context.Context, meter metric.Meter) (*PipelineMetrics, error) {
	uploadsTotal, err := meter.Int64Counter("apksignd.pipeline.uploads.total", metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}
	rejectionsTotal, err := meter.Int64Counter("apksignd.pipeline.rejections.total", metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}
	signingsTotal, err := meter.Int64Counter("apksignd.pipeline.signings.total", metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}
	signDurationMs, err := meter.Int64Histogram("apksignd.pipeline.sign.duration.ms", metric.WithUnit("milliseconds"))
	if err != nil {
		return nil, err
	}
	downloadsTotal, err := meter.Int64Counter("apksignd.pipeline.downloads.total", metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}
	quotaEvictions, err := meter.Int64Counter("apksignd.store.quota.evictions.total", metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}
	sweepDeletions, err := meter.Int64Counter("apksignd.store.sweep.deletions.total", metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	return &PipelineMetrics{
		ctx:             ctx,
		uploadsTotal:    uploadsTotal,
		rejectionsTotal: rejectionsTotal,
		signingsTotal:   signingsTotal,
		signDurationMs:  signDurationMs,
		downloadsTotal:  downloadsTotal,
		quotaEvictions:  quotaEvictions,
		sweepDeletions:  sweepDeletions,
	}, nil
}

// CountUpload increments the accepted upload counter.
func (m *PipelineMetrics) CountUpload() {
	m.uploadsTotal.Add(m.ctx, 1)
}

// CountRejection increments the rejection counter labeled with the error class.
func (m *PipelineMetrics) CountRejection(class string) {
	m.rejectionsTotal.Add(m.ctx, 1, metric.WithAttributes(attribute.String("class", class)))
}

// CountSigning increments the signing counter labeled with the outcome and
// records the invocation duration.
func (m *PipelineMetrics) CountSigning(success bool, took time.Duration) {
	m.signingsTotal.Add(m.ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
	m.signDurationMs.Record(m.ctx, took.Milliseconds())
}

// CountDownload increments the download counter.
func (m *PipelineMetrics) CountDownload() {
	m.downloadsTotal.Add(m.ctx, 1)
}

// CountQuotaEvictions adds to the quota eviction counter labeled with the store.
func (m *PipelineMetrics) CountQuotaEvictions(store string, n int) {
	if n == 0 {
		return
	}
	m.quotaEvictions.Add(m.ctx, int64(n), metric.WithAttributes(attribute.String("store", store)))
}

// CountSweepDeletions adds to the sweep deletion counter.
func (m *PipelineMetrics) CountSweepDeletions(n int) {
	if n == 0 {
		return
	}
	m.sweepDeletions.Add(m.ctx, int64(n))
}
