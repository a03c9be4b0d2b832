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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tombee/fdtd/internal/commands/shared"
	"github.com/tombee/fdtd/internal/config"
	fdtd "github.com/tombee/fdtd/internal/daemon"
)

func startDaemon(t *testing.T) string {
	t.Helper()
	cfg := config.Default()
	cfg.Port = 0
	cfg.Hostname = "cli-test-host"
	cfg.PortRangeFDTServer = "47300,47303"
	cfg.PortReleaseTimeout = 2 * time.Second

	d, err := fdtd.New(cfg, fdtd.Options{
		Version: "9.9.9",
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start daemon: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		d.Shutdown(ctx)
	})
	return d.Addr().String()
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPing(t *testing.T) {
	addr := startDaemon(t)

	out, err := execute(t, "ping", addr)
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	if !strings.Contains(out, "cli-test-host") {
		t.Errorf("expected answering host in output, got %q", out)
	}
}

func TestStatusJSON(t *testing.T) {
	addr := startDaemon(t)
	shared.SetJSONForTest(true)
	defer shared.SetJSONForTest(false)

	out, err := execute(t, "status", "--host", addr)
	if err != nil {
		t.Fatalf("status: %v", err)
	}

	var status fdtd.Status
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if status.PortsTotal != 4 {
		t.Errorf("expected 4 ports, got %d", status.PortsTotal)
	}
	if status.Version != "9.9.9" {
		t.Errorf("expected version 9.9.9, got %q", status.Version)
	}
}

func TestCleanupUnknownTransfer(t *testing.T) {
	addr := startDaemon(t)

	out, err := execute(t, "cleanup", "--host", addr, "--no-wait", "no-such-transfer")
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if !strings.Contains(out, "No errors caught during processing CleanupProcessesAction") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestCleanupRequiresID(t *testing.T) {
	if _, err := execute(t, "cleanup"); err == nil {
		t.Error("expected an error without a transfer id")
	}
}

func TestStopWithoutPIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fdtd.pid")

	_, err := execute(t, "stop", "--pid-file", path)
	var exitErr *shared.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if exitErr.Code != shared.ExitDaemonNotRunning {
		t.Errorf("expected exit code %d, got %d", shared.ExitDaemonNotRunning, exitErr.Code)
	}
}

func TestStopStalePID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fdtd.pid")
	// Above PID_MAX_LIMIT, no process can have this pid.
	if err := os.WriteFile(path, []byte("4194304\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := execute(t, "stop", "--pid-file", path)
	var exitErr *shared.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if exitErr.Code != shared.ExitDaemonNotRunning {
		t.Errorf("expected exit code %d, got %d", shared.ExitDaemonNotRunning, exitErr.Code)
	}
}
