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

package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/tombee/fdtd/internal/cmdline"
	"github.com/tombee/fdtd/internal/executor"
	"github.com/tombee/fdtd/pkg/errors"
)

// KillTemplates are the configured kill commands. KillCommand takes
// %(pid)s; KillCommandSudo takes %(pid)s and %(sudouser)s and is used
// when the target runs as another user.
type KillTemplates struct {
	KillCommand     string
	KillCommandSudo string
}

// Killer terminates transfer processes. With no templates configured it
// sends SIGKILL to the process group and falls back to the pid itself.
type Killer struct {
	mu        sync.RWMutex
	templates KillTemplates
	logger    *slog.Logger
}

var _ executor.Terminator = (*Killer)(nil)

// NewKiller returns a Killer using templates.
func NewKiller(templates KillTemplates, logger *slog.Logger) *Killer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Killer{templates: templates, logger: logger}
}

// SetTemplates swaps the kill commands, for configuration reloads.
func (k *Killer) SetTemplates(templates KillTemplates) {
	k.mu.Lock()
	k.templates = templates
	k.mu.Unlock()
}

// Templates returns the current kill commands.
func (k *Killer) Templates() KillTemplates {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.templates
}

// TerminateProcess implements executor.Terminator.
func (k *Killer) TerminateProcess(ctx context.Context, pid int, asUser string) error {
	if pid <= 0 {
		return &errors.ValidationError{Field: "pid", Message: fmt.Sprintf("invalid pid %d", pid)}
	}

	t := k.Templates()
	tmpl := t.KillCommand
	values := cmdline.Values{"pid": strconv.Itoa(pid)}
	if asUser != "" && t.KillCommandSudo != "" {
		tmpl = t.KillCommandSudo
		values["sudouser"] = asUser
	}
	if tmpl == "" {
		return killGroup(pid)
	}

	command, err := cmdline.RenderCommand(tmpl, values)
	if err != nil {
		return err
	}
	exe, err := executor.New(executor.Options{
		ID:       "kill-" + strconv.Itoa(pid),
		Command:  command,
		Blocking: true,
		Logger:   k.logger,
	})
	if err != nil {
		return err
	}

	k.logger.Debug("running kill command", slog.Int("pid", pid), slog.String("command", command))
	if _, err := exe.Execute(ctx); err != nil {
		return err
	}
	return nil
}

func killGroup(pid int) error {
	err := unix.Kill(-pid, unix.SIGKILL)
	if err == nil {
		return nil
	}
	if err == unix.ESRCH || err == unix.EPERM {
		err = unix.Kill(pid, unix.SIGKILL)
	}
	if err != nil && err != unix.ESRCH {
		return errors.Wrapf(err, "sending SIGKILL to %d", pid)
	}
	return nil
}
