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

package shared

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tombee/fdtd/internal/rpc"
	pkgerrors "github.com/tombee/fdtd/pkg/errors"
)

const (
	ExitSuccess          = 0
	ExitFailed           = 1
	ExitConfigError      = 2
	ExitRemoteError      = 3
	ExitDaemonNotRunning = 10
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

func NewFailedError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitFailed, Message: msg, Cause: cause}
}

func NewConfigError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitConfigError, Message: msg, Cause: cause}
}

func NewRemoteError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitRemoteError, Message: msg, Cause: cause}
}

func NewDaemonNotRunningError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitDaemonNotRunning, Message: msg, Cause: cause}
}

// HandleExitError prints err and exits with its code.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	os.Exit(WriteError(os.Stderr, err))
}

// WriteError prints err with any suggestion to w and returns the exit
// code to use.
func WriteError(w io.Writer, err error) int {
	code := ExitFailed
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.Code
	} else {
		var cfgErr *pkgerrors.ConfigError
		if errors.As(err, &cfgErr) {
			code = ExitConfigError
		}
	}

	fmt.Fprintln(w, "Error:", err.Error())
	if suggestion := suggestionFor(err); suggestion != "" {
		fmt.Fprintf(w, "\nSuggestion: %s\n", suggestion)
	}
	return code
}

func suggestionFor(err error) string {
	var remote *rpc.RemoteError
	if errors.As(err, &remote) {
		return RemoteSuggestion(remote.Code)
	}
	for err != nil {
		if userErr, ok := err.(pkgerrors.UserVisibleError); ok {
			if userErr.IsUserVisible() {
				return userErr.Suggestion()
			}
			return ""
		}
		err = errors.Unwrap(err)
	}
	return ""
}

// RemoteSuggestion maps a daemon error code to a hint for the operator.
func RemoteSuggestion(code string) string {
	switch code {
	case "port_in_use", "no_free_port":
		return "Clean up finished transfers on the remote daemon and retry"
	case "service_stopped":
		return "The daemon is shutting down, retry once it is restarted"
	case "rate_limited":
		return "Too many requests on this connection, slow down and retry"
	case "method_not_found":
		return "The daemon does not support this request, check that client and daemon versions match"
	}
	return ""
}
