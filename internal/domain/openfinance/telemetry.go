package openfinance

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	syncTracer        = otel.Tracer("spendwise/openfinance")
	syncMeter         = otel.Meter("spendwise/openfinance")
	syncTotal, _      = syncMeter.Int64Counter("sync.pass.total", metric.WithDescription("Sync passes by status"))
	syncPages, _      = syncMeter.Int64Histogram("sync.pass.pages", metric.WithDescription("Provider pages fetched per sync pass"))
	reconcileTotal, _ = syncMeter.Int64Counter("reconcile.records.total", metric.WithDescription("Reconciled records by stage and outcome"))
)
