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
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tombee/fdtd/pkg/errors"
)

// CleanupProcessesAction kills the process left for a transfer id and
// frees its port. It is sent once a transfer finished or failed.
type CleanupProcessesAction struct {
	Base

	// WaitTimeout honors the executor's kill timeout before killing.
	// When false the process is killed immediately. Defaults to true.
	WaitTimeout bool `json:"waitTimeout"`
}

// NewCleanupAction creates a cleanup request for id.
func NewCleanupAction(id string, waitTimeout bool) *CleanupProcessesAction {
	return &CleanupProcessesAction{Base: Base{TransferID: id}, WaitTimeout: waitTimeout}
}

// UnmarshalJSON defaults WaitTimeout to true when absent.
func (a *CleanupProcessesAction) UnmarshalJSON(data []byte) error {
	type plain CleanupProcessesAction
	p := plain{WaitTimeout: true}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = CleanupProcessesAction(p)
	return nil
}

// Kind implements Action.
func (a *CleanupProcessesAction) Kind() Kind { return KindCleanupProcesses }

// Execute implements Action.
//
// If the executor was busy (a blocking client handler still waiting on
// it) Execute returns only after that handler has finished.
func (a *CleanupProcessesAction) Execute(ctx context.Context, owner Owner, logger *slog.Logger, _ Sink) (*Result, error) {
	exe, found := owner.GetExecutor(a.ID())

	report, err := owner.KillProcess(ctx, a.ID(), logger, a.WaitTimeout)
	if err != nil {
		msg := fmt.Sprintf("Cleanup of '%s' failed, reason: %v", a.ID(), err)
		logger.Error(msg)
		return nil, &errors.DaemonError{Message: msg, Cause: err}
	}

	if found {
		if exe.Busy() {
			logger.Debug(fmt.Sprintf("Executor %s has syncFlag set, wait until it is unset ...", exe))
			if err := exe.WaitIdle(ctx); err != nil {
				msg := fmt.Sprintf("Cleanup of '%s' interrupted while waiting for the transfer handler, reason: %v", a.ID(), err)
				logger.Error(msg)
				return nil, &errors.DaemonError{Message: msg, Cause: err}
			}
			logger.Debug(fmt.Sprintf("Executor %s has syncFlag not set anymore, continue.", exe))
		} else {
			logger.Debug(fmt.Sprintf("Executor %s has syncFlag not set, continue.", exe))
		}
	}

	r := newResult(a.ID(), owner.Settings().Hostname)
	r.Msg = "No errors caught during processing " + a.Kind().Name()
	r.Log = report
	return r, nil
}
