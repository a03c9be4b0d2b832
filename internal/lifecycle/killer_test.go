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
	"io"
	"log/slog"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/fdtd/pkg/errors"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startGroup starts a sleeping shell with a child, in its own process group.
func startGroup(t *testing.T) (*exec.Cmd, <-chan error) {
	t.Helper()
	cmd := exec.Command("sh", "-c", "sleep 30 & wait")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	require.NoError(t, cmd.Start())

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	t.Cleanup(func() {
		syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	})
	return cmd, done
}

func waitKilled(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		var exitErr *exec.ExitError
		require.ErrorAs(t, err, &exitErr)
		status := exitErr.Sys().(syscall.WaitStatus)
		assert.True(t, status.Signaled())
		assert.Equal(t, syscall.SIGKILL, status.Signal())
	case <-time.After(5 * time.Second):
		t.Fatal("process survived TerminateProcess")
	}
}

func TestKiller_SignalsProcessGroup(t *testing.T) {
	cmd, done := startGroup(t)

	k := NewKiller(KillTemplates{}, discardLogger())
	require.NoError(t, k.TerminateProcess(context.Background(), cmd.Process.Pid, ""))
	waitKilled(t, done)
}

func TestKiller_KillCommand(t *testing.T) {
	cmd, done := startGroup(t)

	k := NewKiller(KillTemplates{KillCommand: "kill -9 %(pid)s"}, discardLogger())
	require.NoError(t, k.TerminateProcess(context.Background(), cmd.Process.Pid, ""))
	waitKilled(t, done)
}

func TestKiller_SudoTemplateForOtherUser(t *testing.T) {
	cmd, done := startGroup(t)

	k := NewKiller(KillTemplates{
		KillCommand:     "false",
		KillCommandSudo: "sh -c 'test %(sudouser)s = cms && kill -9 %(pid)s'",
	}, discardLogger())

	err := k.TerminateProcess(context.Background(), cmd.Process.Pid, "")
	var procErr *errors.ProcessError
	require.ErrorAs(t, err, &procErr, "plain kill command should be used without a user")

	require.NoError(t, k.TerminateProcess(context.Background(), cmd.Process.Pid, "cms"))
	waitKilled(t, done)
}

func TestKiller_SetTemplates(t *testing.T) {
	k := NewKiller(KillTemplates{KillCommand: "kill %(pid)s"}, nil)
	k.SetTemplates(KillTemplates{KillCommand: "kill -9 %(pid)s"})
	assert.Equal(t, "kill -9 %(pid)s", k.Templates().KillCommand)
}

func TestKiller_RejectsBadInput(t *testing.T) {
	k := NewKiller(KillTemplates{KillCommand: "kill %(pid)s %(signal)s"}, discardLogger())

	var ve *errors.ValidationError
	assert.ErrorAs(t, k.TerminateProcess(context.Background(), 0, ""), &ve)
	assert.ErrorAs(t, k.TerminateProcess(context.Background(), 12345, ""), &ve, "unknown placeholder")
}
