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

package shared

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/tombee/fdtd/internal/rpc"
	pkgerrors "github.com/tombee/fdtd/pkg/errors"
)

func TestExitError(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := NewDaemonNotRunningError("daemon unreachable", cause)

	if err.Code != ExitDaemonNotRunning {
		t.Errorf("expected code %d, got %d", ExitDaemonNotRunning, err.Code)
	}
	if err.Error() != "daemon unreachable: dial tcp: connection refused" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be unwrapped")
	}
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		wantCode       int
		wantSuggestion string
	}{
		{
			name:     "plain error",
			err:      errors.New("boom"),
			wantCode: ExitFailed,
		},
		{
			name:     "exit error keeps its code",
			err:      NewRemoteError("cleanup failed", errors.New("boom")),
			wantCode: ExitRemoteError,
		},
		{
			name:     "config error",
			err:      &pkgerrors.ConfigError{Key: "port", Reason: "must be positive"},
			wantCode: ExitConfigError,
		},
		{
			name:           "remote error suggestion",
			err:            NewRemoteError("request failed", &rpc.RemoteError{Code: "service_stopped", Message: "stopped"}),
			wantCode:       ExitRemoteError,
			wantSuggestion: "shutting down",
		},
		{
			name:           "user visible error suggestion",
			err:            &pkgerrors.DaemonError{Message: "no port", Cause: pkgerrors.ErrNoFreePort},
			wantCode:       ExitFailed,
			wantSuggestion: "Clean up finished transfers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			code := WriteError(&buf, tt.err)
			if code != tt.wantCode {
				t.Errorf("expected code %d, got %d", tt.wantCode, code)
			}
			out := buf.String()
			if !strings.HasPrefix(out, "Error: ") {
				t.Errorf("expected Error prefix, got %q", out)
			}
			if tt.wantSuggestion == "" && strings.Contains(out, "Suggestion:") {
				t.Errorf("unexpected suggestion in %q", out)
			}
			if tt.wantSuggestion != "" && !strings.Contains(out, tt.wantSuggestion) {
				t.Errorf("expected suggestion %q in %q", tt.wantSuggestion, out)
			}
		})
	}
}
