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
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/tombee/fdtd/internal/rpc"
	"github.com/tombee/fdtd/pkg/errors"
)

// Environment variable names for client configuration.
const (
	HostEnv      = "FDTD_HOST"
	AuthTokenEnv = "FDTD_AUTH_TOKEN"
)

// DefaultPort is the daemon port used when an address omits one.
const DefaultPort = 8444

// NormalizeAddr accepts "host", "host:port", "ws://host:port" or
// "tcp://host:port" and returns host:port.
func NormalizeAddr(addr string) (string, error) {
	for _, prefix := range []string{"ws://", "tcp://"} {
		addr = strings.TrimPrefix(addr, prefix)
	}
	addr = strings.TrimSuffix(addr, "/ws")
	if addr == "" {
		return net.JoinHostPort("localhost", strconv.Itoa(DefaultPort)), nil
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		if strings.Contains(err.Error(), "missing port") {
			return net.JoinHostPort(addr, strconv.Itoa(DefaultPort)), nil
		}
		return "", fmt.Errorf("invalid daemon address %q: %w", addr, err)
	}
	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("invalid daemon port in %q", addr)
	}
	if host == "" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port), nil
}

// FromEnvironment dials addr, falling back to FDTD_HOST, with the token
// from FDTD_AUTH_TOKEN.
func FromEnvironment(ctx context.Context, addr string, logger *slog.Logger) (*Client, error) {
	if addr == "" {
		addr = os.Getenv(HostEnv)
	}
	var opts []rpc.DialOption
	if token := os.Getenv(AuthTokenEnv); token != "" {
		opts = append(opts, rpc.WithToken(token))
	}
	if logger != nil {
		opts = append(opts, rpc.WithLogger(logger))
	}
	return Dial(ctx, addr, opts...)
}

// DaemonNotRunningError indicates nothing answered at the daemon address.
type DaemonNotRunningError struct {
	Addr string
	Err  error
}

func (e *DaemonNotRunningError) Error() string {
	return fmt.Sprintf("fdtd is not running at %s", e.Addr)
}

func (e *DaemonNotRunningError) Unwrap() error {
	return e.Err
}

// Guidance returns user-friendly guidance for starting the daemon.
func (e *DaemonNotRunningError) Guidance() string {
	return fmt.Sprintf(`fdtd is not reachable at %s.

Start the daemon with:
  fdtd serve                    # Foreground
  fdtd serve --daemonize        # Background, writes the pid file

Or point the client at another daemon:
  export %s=host:port`, e.Addr, HostEnv)
}

// IsDaemonNotRunning checks if an error indicates the daemon is not running.
func IsDaemonNotRunning(err error) bool {
	if err == nil {
		return false
	}
	var dnr *DaemonNotRunningError
	if errors.As(err, &dnr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
