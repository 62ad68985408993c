/*
Package metrics provides the OpenTelemetry-based metrics exporter for the
configuration governance service. It configures Prometheus-compatible
metrics collection for the Repository Gateway, git commit outcomes, and
review state transitions.
*/
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

var (
	otelMeter metric.Meter

	// GatewayLockWaitSeconds records time spent queued for the
	// Repository Gateway's single-writer critical section.
	GatewayLockWaitSeconds metric.Float64Histogram
	// GatewayOperationsTotal counts gateway-scoped operations, labeled by
	// outcome ("ok" or "error").
	GatewayOperationsTotal metric.Int64Counter
	// GitCommitsTotal counts commits created on environment branches,
	// labeled by kind: merge, promote, rollback, rollback_promotion.
	GitCommitsTotal metric.Int64Counter
	// ReviewTransitionsTotal counts ChangeRequest/PromotionRequest state
	// transitions, labeled by entity and the action applied.
	ReviewTransitionsTotal metric.Int64Counter
)

// InitOTLPExporter initializes the OTLP-to-Prometheus bridge against the
// caller's registry (which the caller serves on its metrics endpoint),
// returning a shutdown func to flush on exit.
func InitOTLPExporter(ctx context.Context, registry *prometheus.Registry) (func(context.Context) error, error) {
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	otelMeter = provider.Meter("confgov")

	if GatewayLockWaitSeconds, err = otelMeter.Float64Histogram(
		"confgov_gateway_lock_wait_seconds",
		metric.WithDescription("Time spent waiting to enter the repository gateway's single-writer section."),
	); err != nil {
		return nil, err
	}
	if GatewayOperationsTotal, err = otelMeter.Int64Counter(
		"confgov_gateway_operations_total",
		metric.WithDescription("Repository gateway operations, labeled by outcome."),
	); err != nil {
		return nil, err
	}
	if GitCommitsTotal, err = otelMeter.Int64Counter(
		"confgov_git_commits_total",
		metric.WithDescription("Commits created on environment branches, labeled by kind."),
	); err != nil {
		return nil, err
	}
	if ReviewTransitionsTotal, err = otelMeter.Int64Counter(
		"confgov_review_transitions_total",
		metric.WithDescription("ChangeRequest/PromotionRequest transitions, labeled by entity and action."),
	); err != nil {
		return nil, err
	}

	return provider.Shutdown, nil
}
