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

/*
Package tracing sets up OpenTelemetry for the daemon.

A Provider owns a tracer provider, a meter provider exported through a
private Prometheus registry, and the Monitor that receives monitoring
parameters from actions.

	provider, err := tracing.NewProvider(ctx, tracing.Config{
		ServiceName: "fdtd",
		Exporter:    "otlp",
		Endpoint:    "collector:4318",
	})
	if err != nil {
		return err
	}
	defer provider.Shutdown(context.Background())

	ctx, span := provider.Tracer("fdtd/daemon").Start(ctx, "fdtd.service")
	defer span.End()

	http.Handle("/metrics", provider.MetricsHandler())

Span export is optional: with Exporter "none" spans are still created so
trace ids appear in logs, but nothing leaves the process.
*/
package tracing
