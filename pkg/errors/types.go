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

import (
	"fmt"
	"time"
)

var (
	// ErrNoFreePort is matched by a PortError of kind PortNoFree.
	ErrNoFreePort = New("no free port")

	// ErrPortNotReserved is matched by a PortError of kind PortNotReserved.
	ErrPortNotReserved = New("port not reserved")

	// ErrShutdownBySignal marks a shutdown requested through an OS signal.
	// It is a control-flow value and never the result of an action.
	ErrShutdownBySignal = New("shutdown requested by signal")

	// ErrServiceStopped is returned for requests arriving after shutdown began.
	ErrServiceStopped = New("service stopped or is being shutdown")
)

// PortErrorKind distinguishes port pool failures.
type PortErrorKind string

const (
	// PortNoFree means every port in the range is checked out.
	PortNoFree PortErrorKind = "no_free_port"

	// PortNotReserved means a release targeted a port that is not checked out.
	PortNotReserved PortErrorKind = "port_not_reserved"
)

// PortError represents a port pool failure.
type PortError struct {
	Kind PortErrorKind

	// Port is the port passed to a failed release.
	Port int

	// Min and Max describe the pool range.
	Min int
	Max int
}

// Error implements the error interface.
func (e *PortError) Error() string {
	if e.Kind == PortNoFree {
		return fmt.Sprintf("no free port available in range %d-%d", e.Min, e.Max)
	}
	return fmt.Sprintf("port %d is not reserved (range %d-%d)", e.Port, e.Min, e.Max)
}

// Is matches the package sentinels for each kind.
func (e *PortError) Is(target error) bool {
	switch target {
	case ErrNoFreePort:
		return e.Kind == PortNoFree
	case ErrPortNotReserved:
		return e.Kind == PortNotReserved
	}
	return false
}

// ErrorType implements ErrorClassifier.
func (e *PortError) ErrorType() string { return string(e.Kind) }

// IsRetryable implements ErrorClassifier. An exhausted pool frees up once
// transfers are cleaned up; a bad release never succeeds.
func (e *PortError) IsRetryable() bool { return e.Kind == PortNoFree }

// DuplicateExecutorError is returned when an executor id is already registered.
// It usually means a stale transfer was never cleaned up or a request was sent twice.
type DuplicateExecutorError struct {
	ID string
}

// Error implements the error interface.
func (e *DuplicateExecutorError) Error() string {
	return fmt.Sprintf("executor with id '%s' is already registered, duplicate request or missing cleanup", e.ID)
}

// ErrorType implements ErrorClassifier.
func (e *DuplicateExecutorError) ErrorType() string { return "duplicate_executor" }

// IsRetryable implements ErrorClassifier.
func (e *DuplicateExecutorError) IsRetryable() bool { return false }

// ProcessLaunchError means the OS could not start a command.
type ProcessLaunchError struct {
	Command string

	// Logs holds whatever output was captured before the failure.
	Logs string

	Cause error
}

// Error implements the error interface.
func (e *ProcessLaunchError) Error() string {
	return fmt.Sprintf("Command '%s' failed, reason: %v\nlogs:\n%s", e.Command, e.Cause, e.Logs)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ProcessLaunchError) Unwrap() error { return e.Cause }

// ErrorType implements ErrorClassifier.
func (e *ProcessLaunchError) ErrorType() string { return "process_launch_failed" }

// IsRetryable implements ErrorClassifier.
func (e *ProcessLaunchError) IsRetryable() bool { return false }

// ProcessError means a started process failed: it exited nonzero, or it
// exited before reporting readiness.
type ProcessError struct {
	Command string

	// ReturnCode is the exit status, or the OS error text when the
	// process could not be reaped.
	ReturnCode string

	// Logs is the captured stdout/stderr.
	Logs string

	// Premature is set when a non-blocking process exited during startup.
	Premature bool
}

// Error implements the error interface.
func (e *ProcessError) Error() string {
	if e.Premature {
		return fmt.Sprintf("Command '%s' exited prematurely, return code: '%s'\nlogs:\n%s",
			e.Command, e.ReturnCode, e.Logs)
	}
	return fmt.Sprintf("Command '%s' failed, return code: '%s'\nlogs:\n%s", e.Command, e.ReturnCode, e.Logs)
}

// ErrorType implements ErrorClassifier.
func (e *ProcessError) ErrorType() string { return "process_failed" }

// IsRetryable implements ErrorClassifier.
func (e *ProcessError) IsRetryable() bool { return false }

// PortInUseError specializes a launch failure caused by a port that some
// other socket already holds.
type PortInUseError struct {
	Port int

	// PID of the process found holding the port, 0 when unknown.
	PID int

	Cause error
}

// Error implements the error interface.
func (e *PortInUseError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("port %d already in use by process PID: %d", e.Port, e.PID)
	}
	return fmt.Sprintf("port %d already in use", e.Port)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *PortInUseError) Unwrap() error { return e.Cause }

// ErrorType implements ErrorClassifier.
func (e *PortInUseError) ErrorType() string { return "port_in_use" }

// IsRetryable implements ErrorClassifier.
func (e *PortInUseError) IsRetryable() bool { return true }

// AuthSideChannelError reports a stale or unreadable side-channel file used
// to hand the remote user name back from the auth client.
type AuthSideChannelError struct {
	Path   string
	Reason string
	Cause  error
}

// Error implements the error interface.
func (e *AuthSideChannelError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("auth side-channel %s: %s: %v", e.Path, e.Reason, e.Cause)
	}
	return fmt.Sprintf("auth side-channel %s: %s", e.Path, e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *AuthSideChannelError) Unwrap() error { return e.Cause }

// ErrorType implements ErrorClassifier.
func (e *AuthSideChannelError) ErrorType() string { return "auth_side_channel" }

// IsRetryable implements ErrorClassifier.
func (e *AuthSideChannelError) IsRetryable() bool { return false }

// DaemonError is the only error kind that crosses the RPC boundary.
// Message is complete on its own: it already carries the command, return
// code and captured logs of the underlying failure.
type DaemonError struct {
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *DaemonError) Error() string {
	if e.Message == "" && e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *DaemonError) Unwrap() error { return e.Cause }

// ErrorType implements ErrorClassifier. Port conflicts and a stopped
// service keep their own codes so callers can tell them apart.
func (e *DaemonError) ErrorType() string {
	var inUse *PortInUseError
	switch {
	case As(e.Cause, &inUse):
		return inUse.ErrorType()
	case Is(e.Cause, ErrServiceStopped):
		return "service_stopped"
	case Is(e.Cause, ErrNoFreePort):
		return string(PortNoFree)
	}
	return "daemon"
}

// IsRetryable implements ErrorClassifier.
func (e *DaemonError) IsRetryable() bool {
	var c ErrorClassifier
	if As(e.Cause, &c) {
		return c.IsRetryable()
	}
	return false
}

// IsUserVisible implements UserVisibleError.
func (e *DaemonError) IsUserVisible() bool { return true }

// UserMessage implements UserVisibleError.
func (e *DaemonError) UserMessage() string { return e.Error() }

// Suggestion implements UserVisibleError.
func (e *DaemonError) Suggestion() string {
	switch e.ErrorType() {
	case "port_in_use", string(PortNoFree):
		return "Clean up finished transfers on the remote daemon and retry"
	case "service_stopped":
		return "The daemon is shutting down, retry once it is restarted"
	}
	return ""
}

// ValidationError represents invalid input: a malformed action, an unknown
// template placeholder, a bad flag value.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// ErrorType implements ErrorClassifier.
func (e *ValidationError) ErrorType() string { return "invalid_request" }

// IsRetryable implements ErrorClassifier.
func (e *ValidationError) IsRetryable() bool { return false }

// NotFoundError represents a resource not found error.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "executor", "pid file")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ConfigError represents configuration problems.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "port_range_fdt_server")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config error: %s", e.Reason)
	if e.Key != "" {
		msg = fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// TimeoutError represents operation timeouts.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "daemon port release")
	Operation string

	// Duration is how long the operation ran before timing out
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}
