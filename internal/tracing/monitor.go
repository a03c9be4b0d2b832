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
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tombee/fdtd/pkg/errors"
)

// Monitor records monitoring parameters as OpenTelemetry instruments.
// Each numeric parameter becomes a sample of the fdtd.monitoring.parameter
// gauge, labelled with its cluster and parameter name.
type Monitor struct {
	logger  *slog.Logger
	gauge   metric.Float64Gauge
	reports metric.Int64Counter
}

// NewMonitor creates the instruments on meter.
func NewMonitor(meter metric.Meter, logger *slog.Logger) (*Monitor, error) {
	gauge, err := meter.Float64Gauge(
		"fdtd.monitoring.parameter",
		metric.WithDescription("Last value reported for a monitoring parameter"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "creating monitoring gauge")
	}
	reports, err := meter.Int64Counter(
		"fdtd.monitoring.reports",
		metric.WithDescription("Monitoring reports received per cluster"),
		metric.WithUnit("{report}"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "creating monitoring counter")
	}
	return &Monitor{logger: logger, gauge: gauge, reports: reports}, nil
}

// SendParameters records params under cluster. Values that are not
// numeric are logged and skipped.
func (m *Monitor) SendParameters(ctx context.Context, cluster string, params map[string]any) {
	m.reports.Add(ctx, 1, metric.WithAttributes(attribute.String("cluster", cluster)))

	for name, raw := range params {
		v, ok := toFloat(raw)
		if !ok {
			m.logger.Debug("skipping non-numeric monitoring parameter",
				slog.String("cluster", cluster),
				slog.String("parameter", name))
			continue
		}
		m.gauge.Record(ctx, v, metric.WithAttributes(
			attribute.String("cluster", cluster),
			attribute.String("parameter", name),
		))
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case time.Duration:
		return n.Seconds(), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
