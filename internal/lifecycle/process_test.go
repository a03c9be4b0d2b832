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

package lifecycle

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestIsProcessRunning(t *testing.T) {
	if !IsProcessRunning(os.Getpid()) {
		t.Error("IsProcessRunning(self) = false")
	}
	if IsProcessRunning(0) || IsProcessRunning(-1) {
		t.Error("IsProcessRunning() = true for non-positive pid")
	}

	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Fatal(err)
	}
	if IsProcessRunning(cmd.Process.Pid) {
		t.Error("IsProcessRunning() = true for reaped child")
	}
}

func TestProcessCommand(t *testing.T) {
	cmd := exec.Command("sleep", "5")
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	defer func() {
		cmd.Process.Kill()
		cmd.Wait()
	}()

	got, err := ProcessCommand(cmd.Process.Pid)
	if err != nil {
		t.Fatalf("ProcessCommand() error = %v", err)
	}
	if !strings.HasSuffix(got, "sleep 5") {
		t.Errorf("ProcessCommand() = %q, want suffix %q", got, "sleep 5")
	}
	if IsDaemonProcess(cmd.Process.Pid) {
		t.Error("IsDaemonProcess(sleep) = true")
	}

	info := GetProcessInfo(cmd.Process.Pid)
	if !info.Running || info.Command != got {
		t.Errorf("GetProcessInfo() = %+v", info)
	}
}

func TestSendSignal(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}

	if err := SendSignal(cmd.Process.Pid, syscall.SIGTERM); err != nil {
		t.Fatalf("SendSignal() error = %v", err)
	}
	cmd.Wait()

	if err := SendSignal(cmd.Process.Pid, syscall.SIGTERM); !errors.Is(err, ErrProcessNotRunning) {
		t.Errorf("SendSignal() to reaped child error = %v, want ErrProcessNotRunning", err)
	}
}

func TestWaitForExit(t *testing.T) {
	old := ExitPollInterval
	ExitPollInterval = 20 * time.Millisecond
	t.Cleanup(func() { ExitPollInterval = old })

	t.Run("times out while running", func(t *testing.T) {
		cmd := exec.Command("sleep", "30")
		if err := cmd.Start(); err != nil {
			t.Fatal(err)
		}
		defer func() {
			cmd.Process.Kill()
			cmd.Wait()
		}()

		err := WaitForExit(context.Background(), cmd.Process.Pid, 100*time.Millisecond)
		if !errors.Is(err, ErrStopTimeout) {
			t.Errorf("WaitForExit() error = %v, want ErrStopTimeout", err)
		}
	})

	t.Run("returns once reaped", func(t *testing.T) {
		cmd := exec.Command("sleep", "0.1")
		if err := cmd.Start(); err != nil {
			t.Fatal(err)
		}
		go cmd.Wait()

		if err := WaitForExit(context.Background(), cmd.Process.Pid, 5*time.Second); err != nil {
			t.Errorf("WaitForExit() error = %v", err)
		}
	})
}

func TestStopDaemon_RefusesForeignProcess(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	defer func() {
		cmd.Process.Kill()
		cmd.Wait()
	}()

	err := StopDaemon(context.Background(), cmd.Process.Pid, true, time.Second)
	if !errors.Is(err, ErrNotDaemonProcess) {
		t.Errorf("StopDaemon() error = %v, want ErrNotDaemonProcess", err)
	}
	if !IsProcessRunning(cmd.Process.Pid) {
		t.Error("foreign process was signalled")
	}
}
