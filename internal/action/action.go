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
	"log/slog"
	"time"

	"github.com/tombee/fdtd/internal/executor"
)

// Kind identifies an action variant on the wire.
type Kind string

const (
	KindTest             Kind = "test"
	KindReceivingServer  Kind = "receiving_server"
	KindSendingClient    Kind = "sending_client"
	KindAuthService      Kind = "auth_service"
	KindAuthClient       Kind = "auth_client"
	KindCleanupProcesses Kind = "cleanup_processes"
)

// Name returns the human readable action name used in result messages.
func (k Kind) Name() string {
	switch k {
	case KindTest:
		return "TestAction"
	case KindReceivingServer:
		return "ReceivingServerAction"
	case KindSendingClient:
		return "SendingClientAction"
	case KindAuthService:
		return "AuthServiceAction"
	case KindAuthClient:
		return "AuthClientAction"
	case KindCleanupProcesses:
		return "CleanupProcessesAction"
	}
	return string(k)
}

// Action is one step of the transfer protocol, executed by the daemon on
// behalf of a remote caller.
type Action interface {
	// ID is the transfer id. It never changes after construction.
	ID() string

	Kind() Kind

	// Timeout is the caller's budget for the remote call, 0 for none.
	Timeout() time.Duration

	Execute(ctx context.Context, owner Owner, logger *slog.Logger, sink Sink) (*Result, error)
}

// Owner is the daemon state an action works against.
type Owner interface {
	executor.Owner

	RemoveExecutor(e *executor.Executor) bool
	GetExecutor(id string) (*executor.Executor, bool)

	// KillProcess terminates the executor registered under id and removes
	// it. An unknown id is reported in the message, not as an error.
	KillProcess(ctx context.Context, id string, logger *slog.Logger, waitTimeout bool) (string, error)

	ReservePort() (int, error)
	ReleasePort(port int) error

	// DescribePortOwner looks for a process holding port. It is best effort
	// and only used for diagnostics.
	DescribePortOwner(port int) (pid int, description string, found bool)

	Settings() Settings
}

// Settings is the daemon configuration actions need to build commands.
type Settings struct {
	Hostname string

	// LogDir is where SendingClient file lists are written, under fileLists/.
	LogDir string

	ServerCommand          string
	ServerReadiness        string
	ServerReadinessTimeout time.Duration
	ServerKillTimeout      time.Duration

	ClientCommand     string
	ClientKillTimeout time.Duration

	AuthServicePort   int
	AuthClientCommand string
	X509UserProxy     string

	// SideChannelDir holds the AuthClient user name files.
	SideChannelDir string
}

// Sink receives monitoring parameters. Implementations must not block and
// must swallow their own failures.
type Sink interface {
	SendParameters(ctx context.Context, cluster string, params map[string]any)
}

// NopSink discards everything.
type NopSink struct{}

// SendParameters implements Sink.
func (NopSink) SendParameters(context.Context, string, map[string]any) {}

// Result is the reply to an action.
type Result struct {
	ID     string `json:"id"`
	Status int    `json:"status"`
	Msg    string `json:"msg,omitempty"`
	Log    string `json:"log,omitempty"`
	Host   string `json:"host"`

	// ServerPort is set by server-start and auth-service results.
	ServerPort int `json:"serverPort,omitempty"`

	// RemoteUser is set by AuthClient results.
	RemoteUser string `json:"remoteUser,omitempty"`
}

func newResult(id, host string) *Result {
	return &Result{ID: id, Host: host}
}

// String implements fmt.Stringer.
func (r *Result) String() string {
	return fmt.Sprintf("Result: %s id: '%s' status: '%d' msg: '%s' ", r.Host, r.ID, r.Status, r.Msg)
}

// Base holds the fields every action carries on the wire.
type Base struct {
	TransferID     string `json:"id"`
	TimeoutSeconds int    `json:"timeout,omitempty"`
}

// ID implements Action.
func (b Base) ID() string { return b.TransferID }

// Timeout implements Action.
func (b Base) Timeout() time.Duration { return time.Duration(b.TimeoutSeconds) * time.Second }
