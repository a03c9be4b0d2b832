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
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tombee/fdtd/internal/cmdline"
	"github.com/tombee/fdtd/internal/executor"
	"github.com/tombee/fdtd/pkg/errors"
)

const addressInUse = "Address already in use"

// ServerMonitoringCluster receives the FDT server startup duration.
const ServerMonitoringCluster = "fdtd_server_writer"

// ReceivingServerAction starts an FDT server that the remote client will
// push data to.
type ReceivingServerAction struct {
	Base

	// GridUserDest is the local account the server runs as.
	GridUserDest string   `json:"gridUserDest"`
	DestFiles    []string `json:"destFiles"`

	// PortServer forces a port outside the pool when set.
	PortServer int `json:"portServer,omitempty"`

	ClientIP        string `json:"clientIP,omitempty"`
	CircuitClientIP string `json:"circuitClientIP,omitempty"`
	CircuitServerIP string `json:"circuitServerIP,omitempty"`
	MonID           string `json:"monID,omitempty"`

	// Extra holds additional template values.
	Extra map[string]string `json:"extra,omitempty"`
}

// Kind implements Action.
func (a *ReceivingServerAction) Kind() Kind { return KindReceivingServer }

func (a *ReceivingServerAction) values(port int) cmdline.Values {
	v := cmdline.Values{}
	for k, val := range a.Extra {
		v[k] = val
	}
	monID := a.MonID
	if monID == "" {
		monID = a.ID()
	}
	clientIP := a.ClientIP
	if a.CircuitClientIP != "" && a.CircuitServerIP != "" {
		clientIP = a.CircuitClientIP
	}
	v["transferId"] = a.ID()
	v["gridUserDest"] = a.GridUserDest
	v["sudouser"] = a.GridUserDest
	v["port"] = port
	v["monID"] = monID
	v["clientIP"] = clientIP
	v["circuitClientIP"] = a.CircuitClientIP
	v["circuitServerIP"] = a.CircuitServerIP
	return v
}

// Execute implements Action.
//
// On failure after the process was registered nothing is cleaned up here:
// the executor and its port stay with the daemon until a cleanup request
// arrives for this id.
func (a *ReceivingServerAction) Execute(ctx context.Context, owner Owner, logger *slog.Logger, sink Sink) (*Result, error) {
	start := time.Now()
	settings := owner.Settings()

	port, pooled, err := a.reservePort(owner, logger)
	if err != nil {
		msg := fmt.Sprintf("Could not start FDT server on %s, reason: %v", settings.Hostname, err)
		logger.Error(msg)
		return nil, &errors.DaemonError{Message: msg, Cause: err}
	}
	output, err := a.launch(ctx, owner, logger, port, pooled)
	if err != nil {
		reason, cause := a.checkAddressInUse(owner, port, err, logger)
		msg := fmt.Sprintf("Could not start FDT server on %s port: %d, reason: %s", settings.Hostname, port, reason)
		logger.Error(msg)
		return nil, &errors.DaemonError{Message: msg, Cause: cause}
	}

	r := newResult(a.ID(), settings.Hostname)
	r.ServerPort = port
	r.Msg = "FDT server is running"
	r.Log = output
	logger.Debug("response to client", slog.String("result", r.String()))

	elapsed := int(time.Since(start).Seconds())
	logger.Debug(fmt.Sprintf("Starting FDT server lasted: %d [s].", elapsed))
	sink.SendParameters(ctx, ServerMonitoringCluster, map[string]any{
		"id":              a.ID(),
		"fdt_server_init": elapsed,
	})
	return r, nil
}

// launch renders the server command and runs it. A pool port is given back
// only when the executor never made it into the registry.
func (a *ReceivingServerAction) launch(ctx context.Context, owner Owner, logger *slog.Logger, port int, pooled bool) (string, error) {
	settings := owner.Settings()
	registered := false
	defer func() {
		if !pooled || registered {
			return
		}
		if err := owner.ReleasePort(port); err != nil {
			logger.Error("releasing unused server port failed", slog.Int("port", port), slog.Any("error", err))
		}
	}()

	command, err := cmdline.RenderCommand(settings.ServerCommand, a.values(port))
	if err != nil {
		return "", err
	}
	readiness, err := cmdline.Render(settings.ServerReadiness, cmdline.Values{"port": port})
	if err != nil {
		return "", err
	}

	logger.Info("ReceivingServerAction - checking presence of files at target location ...")
	logger.Debug("Results:\n" + checkTargetFileNames(a.DestFiles))
	logger.Debug(fmt.Sprintf("Local grid user is '%s'", a.GridUserDest))

	exe, err := executor.New(executor.Options{
		ID:                 a.ID(),
		Command:            command,
		Port:               pooledPort(port, pooled),
		UserName:           a.GridUserDest,
		LogOutputToWaitFor: readiness,
		LogOutputWaitTime:  settings.ServerReadinessTimeout,
		KillTimeout:        settings.ServerKillTimeout,
		Owner:              owner,
		Logger:             logger,
	})
	if err != nil {
		return "", err
	}
	output, err := exe.Execute(ctx)
	registered = exe.Registered()
	return output, err
}

func (a *ReceivingServerAction) reservePort(owner Owner, logger *slog.Logger) (port int, pooled bool, err error) {
	if a.PortServer > 0 {
		logger.Info(fmt.Sprintf("Forcing to use user specified port %d", a.PortServer))
		return a.PortServer, false, nil
	}
	logger.Info("Try to get a free port")
	port, err = owner.ReservePort()
	if err != nil {
		return 0, false, err
	}
	return port, true, nil
}

// checkAddressInUse turns a bind failure into a PortInUseError and tries to
// name the process holding the port.
func (a *ReceivingServerAction) checkAddressInUse(owner Owner, port int, err error, logger *slog.Logger) (string, error) {
	reason := err.Error()
	logger.Debug(fmt.Sprintf("Checking for '%s' error message (port: %d) ... ", addressInUse, port))
	if !strings.Contains(reason, addressInUse) {
		logger.Debug("error message not found, different failure")
		return reason, err
	}

	logger.Debug(fmt.Sprintf("'%s' problem detected, analyzing running processes ...", addressInUse))
	start := time.Now()
	pid, desc, found := owner.DescribePortOwner(port)
	logger.Debug(fmt.Sprintf("Process checking is over, took %d ms.", time.Since(start).Milliseconds()))
	if found {
		detected := fmt.Sprintf("Detected: process PID: %d occupies port: %d (%s)", pid, port, desc)
		logger.Debug(detected)
		reason += detected
	}
	return reason, &errors.PortInUseError{Port: port, PID: pid, Cause: err}
}

func pooledPort(port int, pooled bool) int {
	if pooled {
		return port
	}
	return 0
}

// checkTargetFileNames reports whether each destination file and its
// dot-prefixed temporary name already exist.
func checkTargetFileNames(destFiles []string) string {
	const indent = "    "
	var sb strings.Builder
	for _, name := range destFiles {
		fmt.Fprintf(&sb, "%sexists %5v: %s\n", indent, fileExists(name), name)
		dotName := filepath.Join(filepath.Dir(name), "."+filepath.Base(name))
		fmt.Fprintf(&sb, "%sexists %5v: %s\n", indent, fileExists(dotName), dotName)
	}
	return sb.String()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
