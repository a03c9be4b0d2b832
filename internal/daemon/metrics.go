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

package daemon

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tombee/fdtd/internal/action"
	"github.com/tombee/fdtd/pkg/errors"
)

type metrics struct {
	actions    *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	executors  prometheus.Gauge
	portsTaken prometheus.Gauge
	portsTotal prometheus.Gauge
	signals    *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		actions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fdtd",
			Name:      "actions_total",
			Help:      "Actions served, by kind and result.",
		}, []string{"kind", "result"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fdtd",
			Name:      "action_duration_seconds",
			Help:      "Time spent serving an action.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 60, 300, 1800, 3600},
		}, []string{"kind"}),
		executors: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "fdtd",
			Name:      "executors_registered",
			Help:      "Processes currently registered with the daemon.",
		}),
		portsTaken: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "fdtd",
			Name:      "ports_reserved",
			Help:      "FDT server ports currently reserved.",
		}),
		portsTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "fdtd",
			Name:      "ports_total",
			Help:      "Size of the FDT server port range.",
		}),
		signals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fdtd",
			Name:      "signals_total",
			Help:      "Signals received, by name.",
		}, []string{"signal"}),
	}
}

func (m *metrics) observe(kind action.Kind, err error, elapsed time.Duration) {
	result := "success"
	if err != nil {
		result = errors.Code(err)
	}
	m.actions.WithLabelValues(string(kind), result).Inc()
	m.duration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}
