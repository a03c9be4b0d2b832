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

package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tombee/fdtd/pkg/errors"
)

// Kill terminates the process and reports its final state.
//
// A process that already exited is only reported. Otherwise, when
// waitTimeout is set, the process gets KillTimeout to finish on its own,
// checked once per KillPollInterval. A process still running after that
// is stopped through term. The reap that follows is bounded by
// ReapTimeout; failing to reap is logged, not returned.
func (e *Executor) Kill(ctx context.Context, waitTimeout bool, term Terminator) (string, error) {
	if !e.Started() {
		return fmt.Sprintf("%s was never started", e), nil
	}

	if !e.Alive() {
		return fmt.Sprintf("Process PID: %d finished, returncode: '%s'\nlogs:\n%s",
			e.PID(), e.returnCodeString(), e.Logs()), nil
	}

	if waitTimeout && e.opts.KillTimeout > 0 {
		e.logger.Debug("waiting for process to finish before killing",
			slog.Int("pid", e.PID()), slog.Duration("kill_timeout", e.opts.KillTimeout))
		deadline := time.Now().Add(e.opts.KillTimeout)
		for e.Alive() && time.Now().Before(deadline) {
			select {
			case <-e.done:
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(KillPollInterval):
			}
		}
		if !e.Alive() {
			return fmt.Sprintf("Process PID: %d finished, returncode: '%s'\nlogs:\n%s",
				e.PID(), e.returnCodeString(), e.Logs()), nil
		}
	}

	e.logger.Info("killing process", slog.Int("pid", e.PID()), slog.String("user", e.opts.UserName))
	if err := term.TerminateProcess(ctx, e.PID(), e.opts.UserName); err != nil {
		return "", errors.Wrapf(err, "Error when killing process PID: %d (%s)", e.PID(), e.opts.Command)
	}

	returnCode := ""
	if e.waitReaped(ReapTimeout) {
		returnCode = e.returnCodeString()
	} else {
		err := &errors.TimeoutError{Operation: "process reap", Duration: ReapTimeout}
		e.logger.Error("reaping killed process failed", slog.Int("pid", e.PID()), slog.Any("error", err))
		returnCode = fmt.Sprintf("unknown: %v", err)
	}

	msg := fmt.Sprintf("%s killed, returncode: '%s'\nlogs:\n%s", e, returnCode, e.Logs())

	if e.Alive() {
		e.logger.Error("process still exists after kill", slog.Int("pid", e.PID()))
	}
	return msg, nil
}
