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

package errors

// ErrorClassifier is implemented by errors that travel back to fdtcp over
// RPC. ErrorType becomes the code of the RPC error response, for example
// "port_in_use", "no_free_port", "service_stopped" or "invalid_request".
// Code falls back to "daemon" for anything that does not classify itself.
type ErrorClassifier interface {
	error
	ErrorType() string

	// IsRetryable reports whether resubmitting the same action can succeed,
	// e.g. once a cleanup has freed a port.
	IsRetryable() bool
}

// UserVisibleError is an error the fdtd CLI prints to the operator
// together with a hint, instead of the raw chain.
type UserVisibleError interface {
	error
	IsUserVisible() bool
	UserMessage() string

	// Suggestion is empty when there is nothing the operator can do.
	Suggestion() string
}

var (
	_ ErrorClassifier  = (*PortError)(nil)
	_ ErrorClassifier  = (*DuplicateExecutorError)(nil)
	_ ErrorClassifier  = (*ProcessLaunchError)(nil)
	_ ErrorClassifier  = (*ProcessError)(nil)
	_ ErrorClassifier  = (*PortInUseError)(nil)
	_ ErrorClassifier  = (*AuthSideChannelError)(nil)
	_ ErrorClassifier  = (*ValidationError)(nil)
	_ ErrorClassifier  = (*DaemonError)(nil)
	_ UserVisibleError = (*DaemonError)(nil)
)
