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
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/tombee/fdtd/pkg/errors"
)

// DefaultPIDFile is used when the daemon is backgrounded without a
// configured pid file.
const DefaultPIDFile = "/var/run/fdtd.pid"

var (
	// ErrPIDFileExists is returned when the pid file is already present.
	ErrPIDFileExists = errors.New("pid file already exists")

	// ErrPIDFileLocked is returned when another daemon holds the pid file lock.
	ErrPIDFileLocked = errors.New("pid file is locked by another process")

	// ErrInvalidPID is returned when the pid file does not hold a positive integer.
	ErrInvalidPID = errors.New("invalid pid in file")

	// ErrUnsafeDirectory is returned when the pid file directory is world-writable.
	ErrUnsafeDirectory = errors.New("pid file directory is world-writable")
)

// PIDFile guards a daemon pid file. The file is created with O_EXCL and
// stays flock'ed for as long as the daemon runs.
type PIDFile struct {
	path string
	lock *os.File
}

// NewPIDFile returns a manager for the pid file at path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Path returns the pid file location.
func (p *PIDFile) Path() string { return p.path }

// Create writes pid to the file and keeps it locked until Remove.
func (p *PIDFile) Create(pid int) error {
	dir := filepath.Dir(p.path)
	if err := checkDirectory(dir); err != nil {
		return errors.Wrap(err, "unsafe pid file location")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "creating pid file directory")
	}

	f, err := os.OpenFile(p.path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return ErrPIDFileExists
		}
		return errors.Wrap(err, "creating pid file")
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		os.Remove(p.path)
		if err == unix.EWOULDBLOCK {
			return ErrPIDFileLocked
		}
		return errors.Wrap(err, "locking pid file")
	}

	if _, err := f.WriteString(strconv.Itoa(pid) + "\n"); err != nil {
		p.abandon(f)
		return errors.Wrap(err, "writing pid file")
	}
	if err := f.Sync(); err != nil {
		p.abandon(f)
		return errors.Wrap(err, "syncing pid file")
	}

	p.lock = f
	return nil
}

func (p *PIDFile) abandon(f *os.File) {
	unix.Flock(int(f.Fd()), unix.LOCK_UN)
	f.Close()
	os.Remove(p.path)
}

// Read returns the pid stored in the file.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, err
		}
		return 0, errors.Wrap(err, "reading pid file")
	}

	raw := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidPID, "%q", raw)
	}
	if pid <= 0 {
		return 0, errors.Wrapf(ErrInvalidPID, "pid must be positive, got %d", pid)
	}
	return pid, nil
}

// Remove unlocks and deletes the pid file. Removing a missing file is not
// an error.
func (p *PIDFile) Remove() error {
	if p.lock != nil {
		unix.Flock(int(p.lock.Fd()), unix.LOCK_UN)
		p.lock.Close()
		p.lock = nil
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing pid file")
	}
	return nil
}

// Exists reports whether the pid file is present.
func (p *PIDFile) Exists() bool {
	_, err := os.Stat(p.path)
	return err == nil
}

// RemoveIfStale deletes the pid file when the recorded process is gone
// or is not an fdtd daemon. It reports whether the file was removed.
func (p *PIDFile) RemoveIfStale() (bool, error) {
	pid, err := p.Read()
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		if !errors.Is(err, ErrInvalidPID) {
			return false, err
		}
	} else if IsProcessRunning(pid) && IsDaemonProcess(pid) {
		return false, nil
	}

	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return false, errors.Wrap(err, "removing stale pid file")
	}
	return true, nil
}

// checkDirectory refuses world-writable directories without the sticky
// bit, where another user could swap the file for a symlink.
func checkDirectory(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "stat pid file directory")
	}
	mode := info.Mode()
	if mode&0o002 != 0 && mode&os.ModeSticky == 0 {
		return errors.Wrapf(ErrUnsafeDirectory, "%s has mode %04o", dir, mode&os.ModePerm)
	}
	return nil
}
