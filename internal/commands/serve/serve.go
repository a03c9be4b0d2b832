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

// Package serve implements "fdtd serve".
package serve

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tombee/fdtd/internal/client"
	"github.com/tombee/fdtd/internal/commands/shared"
	"github.com/tombee/fdtd/internal/config"
	"github.com/tombee/fdtd/internal/daemon"
	"github.com/tombee/fdtd/internal/lifecycle"
)

// DaemonChildFlag marks the re-executed background process.
const DaemonChildFlag = "daemon-child"

type options struct {
	port                    int
	hostname                string
	logFile                 string
	debug                   string
	transferSeparateLogFile bool
	daemonize               bool
	pidFile                 string
	daemonChild             bool
	watch                   bool
	startTimeout            time.Duration
}

// NewCommand creates the serve command.
func NewCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the FDT transfer daemon",
		Long: `Run fdtd, the daemon that starts FDT servers and clients on behalf of
remote fdtcp callers.

By default the daemon runs in the foreground. With --daemonize it
re-executes itself in a new session, writes the pid file and returns once
the daemon answers on its health endpoint.

Signals: SIGHUP stops the daemon only when no transfer is running,
SIGTERM and SIGINT always stop it.`,
		Example: `  # Foreground with the default configuration search
  fdtd serve

  # Background on a custom port with debug logging
  fdtd serve -a -p 9000 -d debug -l /var/log/fdtd.log`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.IntVarP(&opts.port, "port", "p", 0, "RPC port (default 8444)")
	f.StringVarP(&opts.hostname, "hostname", "H", "", "Host name reported to callers")
	f.StringVarP(&opts.logFile, "log-file", "l", "", "Log file (default stderr)")
	f.StringVarP(&opts.debug, "debug", "d", "", "Log level: trace, debug, info, warn, error")
	f.BoolVarP(&opts.transferSeparateLogFile, "transfer-separate-log-file", "s", false, "Log each transfer to its own file")
	f.BoolVarP(&opts.daemonize, "daemonize", "a", false, "Run in the background")
	f.StringVarP(&opts.pidFile, "pid-file", "i", "", "PID file")
	f.BoolVar(&opts.watch, "watch", true, "Reload command templates when the config file changes")
	f.DurationVar(&opts.startTimeout, "start-timeout", 30*time.Second, "How long --daemonize waits for the daemon to become healthy")
	f.BoolVar(&opts.daemonChild, DaemonChildFlag, false, "")
	_ = f.MarkHidden(DaemonChildFlag)

	return cmd
}

// overrides returns a function applying the flags that were set on the
// command line. Unset flags leave the configuration file untouched.
func overrides(flags *pflag.FlagSet, opts options) func(*config.Config) {
	return func(cfg *config.Config) {
		if flags.Changed("port") {
			cfg.Port = opts.port
		}
		if flags.Changed("hostname") {
			cfg.Hostname = opts.hostname
		}
		if flags.Changed("log-file") {
			cfg.LogFile = opts.logFile
		}
		if flags.Changed("debug") {
			cfg.Debug = opts.debug
		}
		if flags.Changed("transfer-separate-log-file") {
			cfg.TransferSeparateLogFile = opts.transferSeparateLogFile
		}
		if flags.Changed("daemonize") {
			cfg.Daemonize = opts.daemonize
		}
		if flags.Changed("pid-file") {
			cfg.PIDFile = opts.pidFile
		}
	}
}

func runServe(cmd *cobra.Command, opts options) error {
	override := overrides(cmd.Flags(), opts)
	configPath := shared.ConfigFile()

	cfg, err := config.Load(configPath)
	if err != nil {
		return shared.NewConfigError("failed to load configuration", err)
	}
	override(cfg)
	if err := cfg.Validate(); err != nil {
		return shared.NewConfigError("invalid configuration", err)
	}

	if cfg.Daemonize && !opts.daemonChild {
		return daemonize(cmd, cfg, configPath, opts)
	}

	v, c, b := shared.GetVersion()
	runOpts := daemon.RunOptions{
		Options: daemon.Options{
			Version:   v,
			Commit:    c,
			BuildDate: b,
		},
		ConfigPath: configPath,
		Override:   override,
		Watch:      opts.watch,
	}
	if err := daemon.Run(cmd.Context(), runOpts); err != nil {
		return shared.NewFailedError("fdtd stopped with an error", err)
	}
	return nil
}

func daemonize(cmd *cobra.Command, cfg *config.Config, configPath string, opts options) error {
	out := cmd.OutOrStdout()

	if cfg.PIDFile == "" {
		cfg.PIDFile = lifecycle.DefaultPIDFile
	}
	pidFile := lifecycle.NewPIDFile(cfg.PIDFile)
	if pid, err := pidFile.Read(); err == nil && lifecycle.IsProcessRunning(pid) && lifecycle.IsDaemonProcess(pid) {
		fmt.Fprintln(out, shared.RenderWarn(fmt.Sprintf("fdtd is already running (PID %d)", pid)))
		return nil
	}
	if removed, err := pidFile.RemoveIfStale(); err != nil {
		return shared.NewFailedError("checking pid file", err)
	} else if removed {
		fmt.Fprintln(cmd.ErrOrStderr(), shared.RenderWarn("removed stale pid file "+cfg.PIDFile))
	}

	binary, err := os.Executable()
	if err != nil {
		return shared.NewFailedError("cannot locate the fdtd binary", err)
	}

	logPath := cfg.LogFile
	if logPath == "" {
		logPath = filepath.Join(os.TempDir(), "fdtd.out")
	}
	pid, err := lifecycle.NewSpawner().SpawnDetached(binary, childArgs(cfg, configPath, opts), logPath)
	if err != nil {
		return shared.NewFailedError("failed to start fdtd", err)
	}
	if !shared.GetQuiet() {
		fmt.Fprintf(out, "Starting fdtd (PID %d)...\n", pid)
	}

	addr := net.JoinHostPort("localhost", strconv.Itoa(cfg.Port))
	checker := lifecycle.NewHealthChecker(client.HealthURL(addr))
	attempts, err := checker.WaitUntilHealthy(cmd.Context(), opts.startTimeout)
	if err != nil {
		return shared.NewFailedError(fmt.Sprintf("fdtd did not become healthy, see %s", logPath), err)
	}

	if !shared.GetQuiet() {
		fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("fdtd running on port %d (PID %d, %d health checks)", cfg.Port, pid, attempts)))
	}
	return nil
}

// childArgs rebuilds the command line for the background process from the
// effective configuration so the child does not depend on the parent's
// working directory.
func childArgs(cfg *config.Config, configPath string, opts options) []string {
	args := []string{"serve", "--" + DaemonChildFlag}
	if configPath != "" {
		if abs, err := filepath.Abs(configPath); err == nil {
			configPath = abs
		}
		args = append(args, "--config", configPath)
	}
	args = append(args,
		"--port", strconv.Itoa(cfg.Port),
		"--pid-file", cfg.PIDFile,
		"--debug", cfg.Debug,
		"--watch="+strconv.FormatBool(opts.watch),
	)
	if cfg.Hostname != "" {
		args = append(args, "--hostname", cfg.Hostname)
	}
	if cfg.LogFile != "" {
		args = append(args, "--log-file", cfg.LogFile)
	}
	if cfg.TransferSeparateLogFile {
		args = append(args, "--transfer-separate-log-file")
	}
	return args
}
