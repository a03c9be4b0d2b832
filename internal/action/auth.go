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

	"github.com/tombee/fdtd/internal/cmdline"
	"github.com/tombee/fdtd/internal/executor"
	"github.com/tombee/fdtd/pkg/errors"
)

// AuthServiceAction asks for the port of the resident authentication
// service so the caller can run its auth client against it.
type AuthServiceAction struct {
	Base
}

// Kind implements Action.
func (a *AuthServiceAction) Kind() Kind { return KindAuthService }

// Execute implements Action.
func (a *AuthServiceAction) Execute(_ context.Context, owner Owner, logger *slog.Logger, _ Sink) (*Result, error) {
	settings := owner.Settings()
	r := newResult(a.ID(), settings.Hostname)
	r.ServerPort = settings.AuthServicePort
	logger.Debug("response to client", slog.String("result", r.String()))
	return r, nil
}

// AuthClientAction runs the auth client, which writes the remote grid user
// name into a throwaway side-channel file. The file is read back, deleted
// and the name returned in Result.RemoteUser.
type AuthClientAction struct {
	Base

	// X509UserProxy overrides the configured proxy certificate path.
	X509UserProxy string `json:"x509userproxy,omitempty"`

	// Extra holds additional template values.
	Extra map[string]string `json:"extra,omitempty"`
}

// Kind implements Action.
func (a *AuthClientAction) Kind() Kind { return KindAuthClient }

// SideChannelPath returns a fresh side-channel file name for transfer id.
func SideChannelPath(dir, id string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, id+"--"+randomLetters(5))
}

// Execute implements Action. The auth client process is not registered
// with the owner: it is short lived and nothing cleans it up.
func (a *AuthClientAction) Execute(ctx context.Context, owner Owner, logger *slog.Logger, _ Sink) (*Result, error) {
	settings := owner.Settings()

	path := SideChannelPath(settings.SideChannelDir, a.ID())
	if _, err := os.Stat(path); err == nil {
		return nil, a.fail(logger, &errors.AuthSideChannelError{Path: path, Reason: "file already exists"})
	}

	proxy := a.X509UserProxy
	if proxy == "" {
		proxy = settings.X509UserProxy
	}
	values := cmdline.Values{}
	for k, v := range a.Extra {
		values[k] = v
	}
	values["transferId"] = a.ID()
	values["fileNameToStoreRemoteUserName"] = path
	values["x509userproxy"] = proxy

	command, err := cmdline.RenderCommand(settings.AuthClientCommand, values)
	if err != nil {
		return nil, a.fail(logger, err)
	}
	exe, err := executor.New(executor.Options{
		ID:       a.ID(),
		Command:  command,
		Blocking: true,
		Logger:   logger,
	})
	if err != nil {
		return nil, a.fail(logger, err)
	}

	output, err := exe.Execute(ctx)
	if err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Warn("removing auth side-channel file failed", slog.String("path", path), slog.Any("error", rmErr))
		}
		return nil, a.fail(logger, err)
	}

	user, err := readSideChannel(path)
	if err != nil {
		return nil, a.fail(logger, err)
	}

	r := newResult(a.ID(), settings.Hostname)
	r.Log = output
	r.RemoteUser = user
	return r, nil
}

func (a *AuthClientAction) fail(logger *slog.Logger, err error) error {
	msg := fmt.Sprintf("AuthClient for '%s' failed, reason: %v", a.ID(), err)
	logger.Error(msg)
	return &errors.DaemonError{Message: msg, Cause: err}
}

// readSideChannel reads the first line of path and deletes the file.
func readSideChannel(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", &errors.AuthSideChannelError{Path: path, Reason: "reading remote grid user name failed", Cause: err}
	}
	if err := os.Remove(path); err != nil {
		return "", &errors.AuthSideChannelError{Path: path, Reason: "removing file failed", Cause: err}
	}
	line, _, _ := strings.Cut(string(data), "\n")
	return strings.TrimSpace(line), nil
}
