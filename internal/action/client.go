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

	"github.com/tombee/fdtd/internal/cmdline"
	"github.com/tombee/fdtd/internal/executor"
	"github.com/tombee/fdtd/pkg/errors"
)

// SendingClientAction runs the FDT client against a server started by a
// ReceivingServerAction on the remote host. It blocks until the transfer
// finishes.
type SendingClientAction struct {
	Base

	// Port is the remote FDT server port.
	Port          int            `json:"port"`
	HostDest      string         `json:"hostDest"`
	TransferFiles []TransferFile `json:"transferFiles"`

	// GridUserSrc is the local account the client runs as.
	GridUserSrc string `json:"gridUserSrc"`
	MonID       string `json:"monID,omitempty"`

	// Extra holds additional template values.
	Extra map[string]string `json:"extra,omitempty"`
}

// Kind implements Action.
func (a *SendingClientAction) Kind() Kind { return KindSendingClient }

func (a *SendingClientAction) values(fileList string) cmdline.Values {
	v := cmdline.Values{}
	for k, val := range a.Extra {
		v[k] = val
	}
	monID := a.MonID
	if monID == "" {
		monID = a.ID()
	}
	v["transferId"] = a.ID()
	v["port"] = a.Port
	v["hostDest"] = a.HostDest
	v["gridUserSrc"] = a.GridUserSrc
	v["sudouser"] = a.GridUserSrc
	v["fileList"] = fileList
	v["monID"] = monID
	return v
}

// Execute implements Action.
//
// The executor is marked busy for the whole run so a concurrent cleanup of
// the same id waits until this handler has returned.
func (a *SendingClientAction) Execute(ctx context.Context, owner Owner, logger *slog.Logger, _ Sink) (*Result, error) {
	settings := owner.Settings()
	logger.Debug(fmt.Sprintf("Local grid user is '%s'", a.GridUserSrc))

	fileList := FileListPath(settings.LogDir, a.ID())
	if err := WriteFileList(fileList, a.TransferFiles); err != nil {
		msg := fmt.Sprintf("Could not create FDT client fileList file %s, reason: %v", fileList, err)
		logger.Error(msg)
		return nil, &errors.DaemonError{Message: msg, Cause: err}
	}

	output, err := a.run(ctx, owner, logger, fileList)
	if err != nil {
		msg := fmt.Sprintf("FDT Java client on %s failed, reason: %v", settings.Hostname, err)
		logger.Error(msg)
		return nil, &errors.DaemonError{Message: msg, Cause: err}
	}

	r := newResult(a.ID(), settings.Hostname)
	r.Msg = "Output from FDT client"
	r.Log = output
	logger.Debug("FDT client log (as sent to fdtcp):\n" + output)
	return r, nil
}

func (a *SendingClientAction) run(ctx context.Context, owner Owner, logger *slog.Logger, fileList string) (string, error) {
	settings := owner.Settings()
	command, err := cmdline.RenderCommand(settings.ClientCommand, a.values(fileList))
	if err != nil {
		return "", err
	}

	exe, err := executor.New(executor.Options{
		ID:          a.ID(),
		Command:     command,
		Blocking:    true,
		UserName:    a.GridUserSrc,
		KillTimeout: settings.ClientKillTimeout,
		Busy:        true,
		Owner:       owner,
		Logger:      logger,
	})
	if err != nil {
		return "", err
	}
	defer exe.ClearBusy()

	return exe.Execute(ctx)
}
