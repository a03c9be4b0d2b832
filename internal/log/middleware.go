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

package log

import (
	"context"
	"log/slog"
	"time"
)

// RPCRequest describes an inbound RPC call for logging.
type RPCRequest struct {
	// Method is the RPC method, e.g. "fdtd.service".
	Method string

	CorrelationID string
	RemoteAddr    string

	// Metadata holds extra fields such as the action kind and transfer id.
	Metadata map[string]any
}

// RPCResponse describes the outcome of an RPC call.
type RPCResponse struct {
	Success    bool
	Code       string
	Error      string
	DurationMs int64
}

// LogRPCRequest logs an inbound call at debug level.
func LogRPCRequest(logger *slog.Logger, req *RPCRequest) {
	logger.Debug("rpc request received", req.attrs(EventKey, "rpc_request")...)
}

// LogRPCResponse logs the outcome of a call. Failures log at warn: they
// are caller-visible results, not daemon faults.
func LogRPCResponse(logger *slog.Logger, req *RPCRequest, resp *RPCResponse) {
	attrs := req.attrs(EventKey, "rpc_response")
	attrs = append(attrs, "success", resp.Success, DurationKey, resp.DurationMs)
	if resp.Code != "" {
		attrs = append(attrs, "code", resp.Code)
	}
	if resp.Error != "" {
		attrs = append(attrs, "error", resp.Error)
	}

	level, msg := slog.LevelInfo, "rpc request completed"
	if !resp.Success {
		level, msg = slog.LevelWarn, "rpc request failed"
	}
	logger.Log(context.Background(), level, msg, attrs...)
}

func (r *RPCRequest) attrs(kv ...any) []any {
	attrs := append(kv, "method", r.Method, "remote", r.RemoteAddr)
	if r.CorrelationID != "" {
		attrs = append(attrs, "correlation_id", r.CorrelationID)
	}
	for k, v := range r.Metadata {
		attrs = append(attrs, k, v)
	}
	return attrs
}

// RPCMiddleware logs every call it wraps.
type RPCMiddleware struct {
	logger *slog.Logger
	code   func(error) string
}

// NewRPCMiddleware returns a middleware logging to logger. code maps an
// error to its wire code and may be nil.
func NewRPCMiddleware(logger *slog.Logger, code func(error) string) *RPCMiddleware {
	return &RPCMiddleware{logger: logger, code: code}
}

// Handler runs handler between request and response log records.
func (m *RPCMiddleware) Handler(req *RPCRequest, handler func() error) error {
	start := time.Now()
	LogRPCRequest(m.logger, req)

	err := handler()

	resp := &RPCResponse{
		Success:    err == nil,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		resp.Error = err.Error()
		if m.code != nil {
			resp.Code = m.code(err)
		}
	}
	LogRPCResponse(m.logger, req, resp)
	return err
}
