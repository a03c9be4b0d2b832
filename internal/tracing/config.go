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

import "time"

// Exporter names accepted in Config.Exporter.
const (
	ExporterNone     = "none"
	ExporterStdout   = "stdout"
	ExporterOTLP     = "otlp"
	ExporterOTLPGRPC = "otlp-grpc"
)

// Config holds observability configuration.
type Config struct {
	// ServiceName identifies this daemon in traces and metrics.
	ServiceName string

	// ServiceVersion is the build version.
	ServiceVersion string

	// Exporter is one of none, stdout, otlp or otlp-grpc.
	Exporter string

	// Endpoint is the OTLP receiver host:port.
	Endpoint string

	// Insecure disables TLS towards Endpoint.
	Insecure bool

	// File receives stdout exporter output; empty means stdout.
	File string

	// BatchInterval is how often spans are flushed (default 5s).
	BatchInterval time.Duration
}

// DefaultConfig returns a configuration that creates spans but exports
// none of them.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "fdtd",
		ServiceVersion: "unknown",
		Exporter:       ExporterNone,
		BatchInterval:  5 * time.Second,
	}
}
