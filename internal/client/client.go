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

package client

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/tombee/fdtd/internal/action"
	"github.com/tombee/fdtd/internal/daemon"
	"github.com/tombee/fdtd/internal/lifecycle"
	"github.com/tombee/fdtd/internal/rpc"
	"github.com/tombee/fdtd/pkg/errors"
)

// Client is a connection to one fdtd.
type Client struct {
	addr string
	rpc  *rpc.Client
}

// Dial connects to the daemon at addr (see NormalizeAddr).
func Dial(ctx context.Context, addr string, opts ...rpc.DialOption) (*Client, error) {
	addr, err := NormalizeAddr(addr)
	if err != nil {
		return nil, err
	}
	c, err := rpc.Dial(ctx, "ws://"+addr+"/ws", opts...)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return nil, &DaemonNotRunningError{Addr: addr, Err: err}
		}
		return nil, err
	}
	return &Client{addr: addr, rpc: c}, nil
}

// Addr returns the daemon host:port.
func (c *Client) Addr() string {
	return c.addr
}

// Service submits a to the daemon and waits for its result. Errors
// raised by the daemon are returned as *rpc.RemoteError.
func (c *Client) Service(ctx context.Context, a action.Action) (*action.Result, error) {
	env, err := action.Encode(a)
	if err != nil {
		return nil, err
	}
	var result action.Result
	if err := c.rpc.Call(ctx, daemon.MethodService, env, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Ping sends a TestAction and returns the round trip time.
func (c *Client) Ping(ctx context.Context) (*action.Result, time.Duration, error) {
	probe := action.NewTestAction(action.Hostname(), c.addr, 0)
	start := time.Now()
	result, err := c.Service(ctx, probe)
	return result, time.Since(start), err
}

// Status fetches the daemon status.
func (c *Client) Status(ctx context.Context) (*daemon.Status, error) {
	var status daemon.Status
	if err := c.rpc.Call(ctx, daemon.MethodStatus, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.rpc.Close()
}

// Health checks the daemon's /health endpoint without opening an RPC
// connection.
func Health(ctx context.Context, addr string) error {
	addr, err := NormalizeAddr(addr)
	if err != nil {
		return err
	}
	return lifecycle.NewHealthChecker(HealthURL(addr)).Check(ctx)
}

// HealthURL returns the health endpoint for host:port.
func HealthURL(addr string) string {
	return fmt.Sprintf("http://%s/health", addr)
}
