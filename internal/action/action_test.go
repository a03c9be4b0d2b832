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

package action

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/fdtd/internal/executor"
	"github.com/tombee/fdtd/internal/portpool"
	"github.com/tombee/fdtd/internal/registry"
	"github.com/tombee/fdtd/pkg/errors"
)

type groupKiller struct {
	mu    sync.Mutex
	calls int
}

func (k *groupKiller) TerminateProcess(_ context.Context, pid int, _ string) error {
	k.mu.Lock()
	k.calls++
	k.mu.Unlock()
	return syscall.Kill(-pid, syscall.SIGKILL)
}

func (k *groupKiller) Calls() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.calls
}

// testOwner is a minimal daemon: a real pool and registry plus settings.
type testOwner struct {
	pool     *portpool.Pool
	reg      *registry.Registry[*executor.Executor]
	killer   *groupKiller
	settings Settings
}

func newTestOwner(t *testing.T) *testOwner {
	t.Helper()
	pool, err := portpool.New(54321, 54323)
	require.NoError(t, err)
	o := &testOwner{
		pool:   pool,
		reg:    registry.New[*executor.Executor](pool, discard()),
		killer: &groupKiller{},
		settings: Settings{
			Hostname:               "testhost",
			LogDir:                 t.TempDir(),
			ServerCommand:          `sh -c "echo FDTServer start listening on port: %(port)s; sleep 30"`,
			ServerReadiness:        "FDTServer start listening on port: %(port)s",
			ServerReadinessTimeout: 5 * time.Second,
			ServerKillTimeout:      time.Second,
			ClientCommand:          `sh -c "cat %(fileList)s"`,
			ClientKillTimeout:      time.Second,
			AuthServicePort:        9001,
			AuthClientCommand:      `sh -c "echo griduser > %(fileNameToStoreRemoteUserName)s"`,
			SideChannelDir:         t.TempDir(),
		},
	}
	t.Cleanup(func() {
		for _, e := range o.reg.Snapshot() {
			if e.Alive() {
				_ = syscall.Kill(-e.PID(), syscall.SIGKILL)
			}
		}
	})
	return o
}

func (o *testOwner) HasExecutor(id string) bool                       { return o.reg.Contains(id) }
func (o *testOwner) AddExecutor(e *executor.Executor) error           { return o.reg.Add(e) }
func (o *testOwner) RemoveExecutor(e *executor.Executor) bool         { return o.reg.Remove(e) }
func (o *testOwner) ReservePort() (int, error)                        { return o.pool.Reserve() }
func (o *testOwner) ReleasePort(port int) error                       { return o.pool.Release(port) }
func (o *testOwner) Settings() Settings                               { return o.settings }
func (o *testOwner) DescribePortOwner(int) (int, string, bool)        { return 4242, "java -jar fdt.jar", true }
func (o *testOwner) GetExecutor(id string) (*executor.Executor, bool) { return o.reg.Get(id) }

func (o *testOwner) KillProcess(ctx context.Context, id string, _ *slog.Logger, waitTimeout bool) (string, error) {
	e, ok := o.reg.Get(id)
	if !ok {
		return fmt.Sprintf("No such process/action id '%s' in executors containers.", id), nil
	}
	msg, err := e.Kill(ctx, waitTimeout, o.killer)
	if err != nil {
		return "", err
	}
	o.reg.Remove(e)
	return msg, nil
}

type recordingSink struct {
	mu      sync.Mutex
	cluster string
	params  map[string]any
}

func (s *recordingSink) SendParameters(_ context.Context, cluster string, params map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cluster = cluster
	s.params = params
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTransferFile_String(t *testing.T) {
	assert.Equal(t, "/tmp/a / /tmp/b", TransferFile{Src: "/tmp/a", Dest: "/tmp/b"}.String())
}

func TestWriteFileList(t *testing.T) {
	files := []TransferFile{
		{Src: "/data/1", Dest: "/store/1"},
		{Src: "/data/2", Dest: "/store/2"},
		{Src: "/data/with space", Dest: "/store/3"},
	}
	path := FileListPath(t.TempDir(), "t-1")
	require.NoError(t, WriteFileList(path, files))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/1 / /store/1\n/data/2 / /store/2\n/data/with space / /store/3\n", string(data))
	assert.Equal(t, "fdt-fileList-t-1", filepath.Base(path))
	assert.Equal(t, "fileLists", filepath.Base(filepath.Dir(path)))
}

func TestGenerateID(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	id := GenerateID("gridftp01", "src.example.org", "dst.example.org", now)

	pattern := `^fdtcp-gridftp01--src\.example\.org-to-dst\.example\.org--2025-03-14-09h:26m:53s-[a-z]{5}$`
	assert.Regexp(t, regexp.MustCompile(pattern), id)
	assert.NotEqual(t, id, GenerateID("gridftp01", "src.example.org", "dst.example.org", now))
}

func TestTestAction(t *testing.T) {
	o := newTestOwner(t)
	a := NewTestAction("src", "dst", 10*time.Second)
	assert.Equal(t, 10*time.Second, a.Timeout())

	r, err := a.Execute(context.Background(), o, discard(), NopSink{})
	require.NoError(t, err)
	assert.Equal(t, 0, r.Status)
	assert.Equal(t, a.ID(), r.ID)
	assert.Equal(t, "testhost", r.Host)
	assert.Equal(t, 0, o.reg.Len(), "probe has no side effects")
}

func TestReceivingServer_Success(t *testing.T) {
	o := newTestOwner(t)
	sink := &recordingSink{}
	a := &ReceivingServerAction{
		Base:         Base{TransferID: "srv-1"},
		GridUserDest: "cms",
		DestFiles:    []string{"/tmp/does-not-exist"},
	}

	r, err := a.Execute(context.Background(), o, discard(), sink)
	require.NoError(t, err)

	assert.Equal(t, 54321, r.ServerPort)
	assert.Equal(t, "FDT server is running", r.Msg)
	assert.Contains(t, r.Log, "FDTServer start listening on port: 54321")
	assert.Equal(t, 1, o.pool.Taken())

	e, ok := o.reg.Get("srv-1")
	require.True(t, ok)
	assert.True(t, e.Alive())
	assert.Equal(t, "cms", e.UserName())

	assert.Equal(t, ServerMonitoringCluster, sink.cluster)
	assert.Equal(t, "srv-1", sink.params["id"])
	assert.Contains(t, sink.params, "fdt_server_init")
}

func TestReceivingServer_ForcedPort(t *testing.T) {
	o := newTestOwner(t)
	a := &ReceivingServerAction{Base: Base{TransferID: "srv-forced"}, PortServer: 60001}

	r, err := a.Execute(context.Background(), o, discard(), NopSink{})
	require.NoError(t, err)
	assert.Equal(t, 60001, r.ServerPort)
	assert.Equal(t, 0, o.pool.Taken(), "forced port bypasses the pool")

	_, err = o.KillProcess(context.Background(), "srv-forced", discard(), false)
	require.NoError(t, err)
	assert.False(t, o.reg.Contains("srv-forced"))
}

func TestReceivingServer_AddressInUse(t *testing.T) {
	o := newTestOwner(t)
	o.settings.ServerCommand = `sh -c "echo java.net.BindException: Address already in use >&2; exit 1"`
	a := &ReceivingServerAction{Base: Base{TransferID: "srv-busy"}}

	_, err := a.Execute(context.Background(), o, discard(), NopSink{})

	var de *errors.DaemonError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "port_in_use", de.ErrorType())
	assert.Contains(t, de.Message, "Could not start FDT server on testhost port: 54321, reason:")
	assert.Contains(t, de.Message, "Detected: process PID: 4242 occupies port: 54321")

	var inUse *errors.PortInUseError
	require.ErrorAs(t, err, &inUse)
	assert.Equal(t, 4242, inUse.PID)

	// The failed executor stays registered with its port until cleanup.
	assert.True(t, o.reg.Contains("srv-busy"))
	assert.Equal(t, 1, o.pool.Taken())

	c := NewCleanupAction("srv-busy", true)
	_, err = c.Execute(context.Background(), o, discard(), NopSink{})
	require.NoError(t, err)
	assert.False(t, o.reg.Contains("srv-busy"))
	assert.Equal(t, 0, o.pool.Taken())
}

func TestReceivingServer_GenericFailure(t *testing.T) {
	o := newTestOwner(t)
	o.settings.ServerCommand = `sh -c "echo no java >&2; exit 127"`
	a := &ReceivingServerAction{Base: Base{TransferID: "srv-fail"}}

	_, err := a.Execute(context.Background(), o, discard(), NopSink{})
	var de *errors.DaemonError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "daemon", de.ErrorType())
	assert.Contains(t, de.Message, "return code: '127'")
	assert.Contains(t, de.Message, "no java")
}

func TestReceivingServer_BadTemplateReleasesPort(t *testing.T) {
	o := newTestOwner(t)
	o.settings.ServerCommand = "java -jar fdt.jar -p %(port)s -x %(unknownOption)s"
	a := &ReceivingServerAction{Base: Base{TransferID: "srv-tmpl"}}

	_, err := a.Execute(context.Background(), o, discard(), NopSink{})
	var ve *errors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, 0, o.pool.Taken())
	assert.False(t, o.reg.Contains("srv-tmpl"))
}

func TestReceivingServer_PoolExhausted(t *testing.T) {
	o := newTestOwner(t)
	for i := 0; i < 3; i++ {
		_, err := o.pool.Reserve()
		require.NoError(t, err)
	}
	a := &ReceivingServerAction{Base: Base{TransferID: "srv-nop"}}

	_, err := a.Execute(context.Background(), o, discard(), NopSink{})
	assert.ErrorIs(t, err, errors.ErrNoFreePort)
	assert.False(t, o.reg.Contains("srv-nop"))
}

func TestReceivingServer_Values(t *testing.T) {
	a := &ReceivingServerAction{
		Base:            Base{TransferID: "v"},
		GridUserDest:    "cms",
		ClientIP:        "10.0.0.1",
		CircuitClientIP: "192.168.1.1",
		CircuitServerIP: "192.168.1.2",
		Extra:           map[string]string{"custom": "x"},
	}
	v := a.values(54321)
	assert.Equal(t, "192.168.1.1", v["clientIP"], "circuit address wins when both ends are set")
	assert.Equal(t, "cms", v["sudouser"])
	assert.Equal(t, "v", v["monID"])
	assert.Equal(t, "x", v["custom"])

	a.CircuitServerIP = ""
	assert.Equal(t, "10.0.0.1", a.values(1)["clientIP"])
}

func TestCheckTargetFileNames(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "present")
	require.NoError(t, os.WriteFile(existing, nil, 0o600))

	out := checkTargetFileNames([]string{existing})
	assert.Contains(t, out, "exists  true: "+existing)
	assert.Contains(t, out, "exists false: "+filepath.Join(dir, ".present"))
}

func TestSendingClient_Success(t *testing.T) {
	o := newTestOwner(t)
	a := &SendingClientAction{
		Base:          Base{TransferID: "cli-1"},
		Port:          54321,
		HostDest:      "dst.example.org",
		TransferFiles: []TransferFile{{Src: "/tmp/a", Dest: "/tmp/b"}},
		GridUserSrc:   "cms",
	}

	r, err := a.Execute(context.Background(), o, discard(), NopSink{})
	require.NoError(t, err)
	assert.Equal(t, "Output from FDT client", r.Msg)
	assert.Contains(t, r.Log, "/tmp/a / /tmp/b")

	e, ok := o.reg.Get("cli-1")
	require.True(t, ok, "finished client stays registered until cleanup")
	assert.False(t, e.Busy())
	assert.False(t, e.Alive())
}

func TestSendingClient_Failure(t *testing.T) {
	o := newTestOwner(t)
	o.settings.ClientCommand = `sh -c "echo connection refused >&2; exit 1"`
	a := &SendingClientAction{
		Base:          Base{TransferID: "cli-fail"},
		Port:          54321,
		HostDest:      "dst",
		TransferFiles: []TransferFile{{Src: "a", Dest: "b"}},
	}

	_, err := a.Execute(context.Background(), o, discard(), NopSink{})
	var de *errors.DaemonError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Message, "FDT Java client on testhost failed, reason:")
	assert.Contains(t, de.Message, "connection refused")

	e, ok := o.reg.Get("cli-fail")
	require.True(t, ok)
	assert.False(t, e.Busy(), "busy flag cleared on failure")
}

func TestCleanup_WaitsForBusyClient(t *testing.T) {
	tests := []struct {
		name        string
		command     string
		waitTimeout bool
		wantKill    bool
	}{
		{name: "kill without waiting", command: "sleep 30", waitTimeout: false, wantKill: true},
		{name: "natural completion within grace", command: "sleep 0.5", waitTimeout: true, wantKill: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newTestOwner(t)
			o.settings.ClientCommand = tt.command
			o.settings.ClientKillTimeout = 5 * time.Second
			client := &SendingClientAction{
				Base:          Base{TransferID: "sync-1"},
				Port:          1,
				HostDest:      "dst",
				TransferFiles: []TransferFile{{Src: "a", Dest: "b"}},
			}

			clientDone := make(chan error, 1)
			go func() {
				_, err := client.Execute(context.Background(), o, discard(), NopSink{})
				clientDone <- err
			}()
			require.Eventually(t, func() bool { return o.reg.Contains("sync-1") }, 2*time.Second, 10*time.Millisecond)

			e, _ := o.reg.Get("sync-1")
			require.True(t, e.Busy())

			start := time.Now()
			r, err := NewCleanupAction("sync-1", tt.waitTimeout).Execute(context.Background(), o, discard(), NopSink{})
			require.NoError(t, err)

			assert.False(t, e.Busy(), "cleanup returns only after the client handler let go")
			assert.Equal(t, "No errors caught during processing CleanupProcessesAction", r.Msg)
			assert.Less(t, time.Since(start), 4*time.Second)
			assert.Equal(t, tt.wantKill, o.killer.Calls() == 1)
			assert.False(t, o.reg.Contains("sync-1"))

			select {
			case err := <-clientDone:
				if tt.wantKill {
					assert.Error(t, err)
				} else {
					assert.NoError(t, err)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("client handler did not return")
			}
		})
	}
}

func TestCleanup_UnknownID(t *testing.T) {
	o := newTestOwner(t)
	r, err := NewCleanupAction("nope", true).Execute(context.Background(), o, discard(), NopSink{})
	require.NoError(t, err)
	assert.Equal(t, 0, r.Status)
	assert.Contains(t, r.Log, "No such process/action id 'nope'")
}

func TestAuthService(t *testing.T) {
	o := newTestOwner(t)
	r, err := (&AuthServiceAction{Base: Base{TransferID: "auth"}}).Execute(context.Background(), o, discard(), NopSink{})
	require.NoError(t, err)
	assert.Equal(t, 9001, r.ServerPort)
}

func TestAuthClient(t *testing.T) {
	o := newTestOwner(t)
	a := &AuthClientAction{Base: Base{TransferID: "auth-1"}, X509UserProxy: "/tmp/x509up_u1000"}

	r, err := a.Execute(context.Background(), o, discard(), NopSink{})
	require.NoError(t, err)
	assert.Equal(t, "griduser", r.RemoteUser)
	assert.False(t, o.reg.Contains("auth-1"), "auth client is not registered")

	left, err := os.ReadDir(o.settings.SideChannelDir)
	require.NoError(t, err)
	assert.Empty(t, left, "side-channel file is deleted after reading")
}

func TestAuthClient_NoFileWritten(t *testing.T) {
	o := newTestOwner(t)
	o.settings.AuthClientCommand = "true"
	a := &AuthClientAction{Base: Base{TransferID: "auth-2"}}

	_, err := a.Execute(context.Background(), o, discard(), NopSink{})
	var sce *errors.AuthSideChannelError
	require.ErrorAs(t, err, &sce)
	assert.Contains(t, sce.Path, "auth-2--")
}

func TestSideChannelPath(t *testing.T) {
	p := SideChannelPath("/tmp", "id-1")
	assert.Regexp(t, `^/tmp/id-1--[a-z]{5}$`, p)
}
