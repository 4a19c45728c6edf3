package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/fathomsec/fathom/internal/adapter/inbound/metrics"
	"github.com/fathomsec/fathom/internal/config"
	"github.com/fathomsec/fathom/internal/domain/orchestrator"
)

// observability bundles everything runScan tears down when a scan finishes:
// the otel SDK providers it installed globally, and the Prometheus scrape
// server it started, if any.
type observability struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	promServer     *http.Server
	fathomMetrics  *metrics.Metrics
}

// setupObservability wires the module-run/HTTP-fetch otel spans to a stdout
// exporter when tracing_enabled, the stdout metric exporter when
// metrics_enabled, and a Prometheus /metrics endpoint when prometheus_addr
// is set.
func setupObservability(ctx context.Context, cfg config.ObservabilityConfig, logger *slog.Logger) (*observability, error) {
	obs := &observability{}

	if cfg.TracingEnabled {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		otel.SetTracerProvider(tp)
		obs.tracerProvider = tp
	}

	if cfg.MetricsEnabled {
		exp, err := stdoutmetric.New()
		if err != nil {
			return nil, err
		}
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
		otel.SetMeterProvider(mp)
		obs.meterProvider = mp
	}

	if cfg.PrometheusAddr != "" {
		reg := prometheus.NewRegistry()
		obs.fathomMetrics = metrics.NewMetrics(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		srv := &http.Server{Addr: cfg.PrometheusAddr, Handler: mux}
		obs.promServer = srv
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.ErrorContext(ctx, "prometheus server failed", slog.Any("err", err))
			}
		}()
	}

	return obs, nil
}

// pollInto starts a background goroutine that refreshes the Prometheus
// gauges from orch.Stats at a steady interval until ctx is canceled. A
// no-op if the Prometheus endpoint was never enabled.
func (o *observability) pollInto(ctx context.Context, orch *orchestrator.Orchestrator) {
	if o.fathomMetrics == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.fathomMetrics.Observe(orch.Stats(false))
			}
		}
	}()
}

// moduleRunHook returns the registry hook feeding the per-module duration
// histogram, or nil when the Prometheus endpoint was never enabled.
func (o *observability) moduleRunHook() func(id string, elapsed time.Duration) {
	if o.fathomMetrics == nil {
		return nil
	}
	return func(id string, elapsed time.Duration) {
		o.fathomMetrics.RecordModuleRun(id, elapsed.Seconds())
	}
}

// recordFinalIssues records the per-element issue counts once, after the
// scan completes, since IssuesTotal is a monotonic counter and the
// orchestrator only exposes a final aggregate, not an incremental stream.
func (o *observability) recordFinalIssues(counts map[string]int) {
	if o.fathomMetrics == nil {
		return
	}
	for element, n := range counts {
		for i := 0; i < n; i++ {
			o.fathomMetrics.RecordIssue(element)
		}
	}
}

// shutdown tears down every provider/server this observability bundle
// started, best-effort.
func (o *observability) shutdown(ctx context.Context) {
	if o.promServer != nil {
		_ = o.promServer.Shutdown(ctx)
	}
	if o.tracerProvider != nil {
		_ = o.tracerProvider.Shutdown(ctx)
	}
	if o.meterProvider != nil {
		_ = o.meterProvider.Shutdown(ctx)
	}
}
