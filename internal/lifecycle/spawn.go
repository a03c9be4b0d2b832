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
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/tombee/fdtd/pkg/errors"
)

// Spawner starts the daemon as a detached background process.
type Spawner struct {
	// Env is the child's environment.
	Env []string
}

// NewSpawner returns a Spawner passing on the current environment.
func NewSpawner() *Spawner {
	return &Spawner{Env: os.Environ()}
}

// WithEnv replaces the child's environment.
func (s *Spawner) WithEnv(env []string) *Spawner {
	s.Env = env
	return s
}

// SpawnDetached starts binary in a new session with stdin closed and
// stdout/stderr appended to logPath. It returns the child's pid without
// waiting for it.
func (s *Spawner) SpawnDetached(binary string, args []string, logPath string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return 0, errors.Wrap(err, "creating log directory")
	}
	out, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return 0, errors.Wrap(err, "opening daemon output log")
	}
	defer out.Close()

	cmd := exec.Command(binary, args...)
	cmd.Env = s.Env
	cmd.Stdin = nil
	cmd.Stdout = out
	cmd.Stderr = out
	// A session leader is also its own process group leader.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, errors.Wrapf(err, "starting %s", binary)
	}

	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return pid, errors.Wrap(err, "process started but release failed")
	}
	return pid, nil
}
