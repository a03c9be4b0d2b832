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

// Package daemon implements the "fdtd daemon" commands that talk to a
// running daemon.
package daemon

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/fdtd/internal/action"
	"github.com/tombee/fdtd/internal/client"
	"github.com/tombee/fdtd/internal/commands/shared"
	"github.com/tombee/fdtd/internal/config"
	"github.com/tombee/fdtd/internal/lifecycle"
	"github.com/tombee/fdtd/pkg/errors"
)

// NewCommand creates the daemon command group.
func NewCommand() *cobra.Command {
	var host string

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Talk to a running fdtd",
		Long: `Commands that query or control a running fdtd.

The daemon address is taken from --host, then the FDTD_HOST environment
variable, then localhost:8444. FDTD_AUTH_TOKEN supplies the RPC token.`,
	}
	cmd.PersistentFlags().StringVar(&host, "host", "", "Daemon address host:port")

	cmd.AddCommand(newPingCommand(&host))
	cmd.AddCommand(newStatusCommand(&host))
	cmd.AddCommand(newCleanupCommand(&host))
	cmd.AddCommand(newStopCommand())

	return cmd
}

func connect(ctx context.Context, host string) (*client.Client, error) {
	c, err := client.FromEnvironment(ctx, host, nil)
	if err != nil {
		if client.IsDaemonNotRunning(err) {
			var dnr *client.DaemonNotRunningError
			if errors.As(err, &dnr) && !shared.GetQuiet() {
				fmt.Fprintln(os.Stderr, dnr.Guidance())
			}
			return nil, shared.NewDaemonNotRunningError("daemon unreachable", err)
		}
		return nil, shared.NewFailedError("failed to connect", err)
	}
	return c, nil
}

func newPingCommand(host *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ping [host:port]",
		Short: "Send a test request to a daemon",
		Long:  `Send a Test action and report the answering host and round trip time.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := *host
			if len(args) == 1 {
				addr = args[0]
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			c, err := connect(ctx, addr)
			if err != nil {
				return err
			}
			defer c.Close()

			result, rtt, err := c.Ping(ctx)
			if err != nil {
				return shared.NewRemoteError("ping failed", err)
			}
			return printPing(cmd.OutOrStdout(), c.Addr(), result, rtt)
		},
	}
}

func printPing(w io.Writer, addr string, result *action.Result, rtt time.Duration) error {
	if shared.GetJSON() {
		return shared.EmitJSON(w, map[string]any{
			"addr":       addr,
			"host":       result.Host,
			"id":         result.ID,
			"latency_ms": rtt.Milliseconds(),
		})
	}
	if shared.GetQuiet() {
		return nil
	}
	fmt.Fprintln(w, shared.RenderOK(fmt.Sprintf("%s (%s) answered in %v", addr, result.Host, rtt.Round(time.Millisecond))))
	return nil
}

func newStatusCommand(host *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show running transfers and port usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			c, err := connect(ctx, *host)
			if err != nil {
				return err
			}
			defer c.Close()

			status, err := c.Status(ctx)
			if err != nil {
				return shared.NewRemoteError("status request failed", err)
			}

			w := cmd.OutOrStdout()
			if shared.GetJSON() {
				return shared.EmitJSON(w, status)
			}

			state := shared.StatusOK.Render("serving")
			if status.Stopped {
				state = shared.StatusWarn.Render("stopping")
			}
			executors := "none"
			if len(status.Executors) > 0 {
				executors = strings.Join(status.Executors, "\n  ")
				executors = "\n  " + executors
			}
			fmt.Fprintln(w, shared.Header.Render("fdtd "+c.Addr()))
			fmt.Fprint(w, shared.RenderFields([][2]string{
				{"State", state},
				{"Version", status.Version},
				{"Ports", fmt.Sprintf("%d/%d reserved", status.PortsTaken, status.PortsTotal)},
				{"Processes", executors},
			}))
			return nil
		},
	}
}

func newCleanupCommand(host *string) *cobra.Command {
	var noWait bool

	cmd := &cobra.Command{
		Use:   "cleanup <transfer-id>",
		Short: "Kill the processes of a transfer",
		Long: `Ask the daemon to kill the FDT server or client running for a
transfer id and release its port.

By default the daemon first waits for the process's kill timeout so a
finishing transfer can exit on its own. --no-wait kills immediately.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			c, err := connect(ctx, *host)
			if err != nil {
				return err
			}
			defer c.Close()

			result, err := c.Service(ctx, action.NewCleanupAction(args[0], !noWait))
			if err != nil {
				return shared.NewRemoteError("cleanup failed", err)
			}

			w := cmd.OutOrStdout()
			if shared.GetJSON() {
				return shared.EmitJSON(w, result)
			}
			if !shared.GetQuiet() {
				fmt.Fprintln(w, shared.RenderOK(result.Msg))
				if shared.GetVerbose() {
					if logs := shared.RenderLogs(result.Log); logs != "" {
						fmt.Fprintln(w, logs)
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Kill without waiting for the kill timeout")
	return cmd
}

func newStopCommand() *cobra.Command {
	var (
		force   bool
		timeout time.Duration
		pidPath string
	)

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the local daemon",
		Long: `Stop the daemon recorded in the pid file.

Without --force the daemon receives SIGHUP and stops only if no transfer
is running. --force sends SIGTERM, which kills running transfers.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolvePIDFile(pidPath)
			if err != nil {
				return err
			}
			pid, err := lifecycle.NewPIDFile(path).Read()
			if err != nil {
				if os.IsNotExist(err) {
					return shared.NewDaemonNotRunningError("no pid file at "+path, err)
				}
				return shared.NewFailedError("reading pid file", err)
			}

			err = lifecycle.StopDaemon(cmd.Context(), pid, force, timeout)
			switch {
			case err == nil:
			case errors.Is(err, lifecycle.ErrProcessNotRunning):
				return shared.NewDaemonNotRunningError("fdtd (PID "+strconv.Itoa(pid)+") is not running", err)
			case errors.Is(err, lifecycle.ErrStopTimeout) && !force:
				return shared.NewFailedError("fdtd is still running, transfers are in progress (use --force to kill them)", err)
			default:
				return shared.NewFailedError("stopping fdtd failed", err)
			}

			if !shared.GetQuiet() {
				fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK(fmt.Sprintf("fdtd (PID %d) stopped", pid)))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Stop even when transfers are running")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "How long to wait for the daemon to exit")
	cmd.Flags().StringVarP(&pidPath, "pid-file", "i", "", "PID file (default from configuration)")
	return cmd
}

// resolvePIDFile picks the explicit path, then the configured one, then
// the default.
func resolvePIDFile(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	cfg, err := config.Load(shared.ConfigFile())
	if err != nil {
		return "", shared.NewConfigError("failed to load configuration", err)
	}
	if cfg.PIDFile != "" {
		return cfg.PIDFile, nil
	}
	return lifecycle.DefaultPIDFile, nil
}
