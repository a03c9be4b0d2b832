// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tracing

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/fdtd/pkg/errors"
)

// Provider bundles the tracer provider, the meter provider and the
// Prometheus registry they export to.
type Provider struct {
	tp       *sdktrace.TracerProvider
	mp       *sdkmetric.MeterProvider
	registry *prometheus.Registry
	monitor  *Monitor
	closer   io.Closer
}

// NewProvider creates the providers described by cfg and installs the
// tracer provider globally.
func NewProvider(ctx context.Context, cfg Config, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "fdtd"
	}

	// An empty schema URL avoids conflicts with the default resource.
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("",
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, errors.Wrap(err, "creating resource")
	}

	exporter, closer, err := NewSpanExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if exporter != nil {
		var batchOpts []sdktrace.BatchSpanProcessorOption
		if cfg.BatchInterval > 0 {
			batchOpts = append(batchOpts, sdktrace.WithBatchTimeout(cfg.BatchInterval))
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter, batchOpts...))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	promExporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		tp.Shutdown(ctx)
		if closer != nil {
			closer.Close()
		}
		return nil, errors.Wrap(err, "creating prometheus exporter")
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	)

	monitor, err := NewMonitor(mp.Meter("fdtd"), logger)
	if err != nil {
		tp.Shutdown(ctx)
		mp.Shutdown(ctx)
		if closer != nil {
			closer.Close()
		}
		return nil, err
	}

	return &Provider{
		tp:       tp,
		mp:       mp,
		registry: registry,
		monitor:  monitor,
		closer:   closer,
	}, nil
}

// Tracer returns a tracer for the given instrumentation scope.
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.tp.Tracer(name)
}

// Meter returns a meter for the given instrumentation scope.
func (p *Provider) Meter(name string) metric.Meter {
	return p.mp.Meter(name)
}

// Registry is the Prometheus registry behind MetricsHandler. Collectors
// registered here are served alongside the OpenTelemetry instruments.
func (p *Provider) Registry() *prometheus.Registry {
	return p.registry
}

// Monitor returns the monitoring parameter sink.
func (p *Provider) Monitor() *Monitor {
	return p.monitor
}

// MetricsHandler serves the registry in the Prometheus text format.
func (p *Provider) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// ForceFlush exports pending spans synchronously.
func (p *Provider) ForceFlush(ctx context.Context) error {
	return p.tp.ForceFlush(ctx)
}

// Shutdown flushes pending spans and releases exporters. The first
// error is returned; later steps still run.
func (p *Provider) Shutdown(ctx context.Context) error {
	var first error
	if err := p.tp.Shutdown(ctx); err != nil {
		first = errors.Wrap(err, "shutting down tracer provider")
	}
	if err := p.mp.Shutdown(ctx); err != nil && first == nil {
		first = errors.Wrap(err, "shutting down meter provider")
	}
	if p.closer != nil {
		if err := p.closer.Close(); err != nil && first == nil {
			first = errors.Wrap(err, "closing trace output")
		}
	}
	return first
}
