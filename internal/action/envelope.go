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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tombee/fdtd/pkg/errors"
)

// Envelope carries one action over the RPC transport.
type Envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Encode wraps a into an envelope.
func Encode(a Action) (*Envelope, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding %s", a.Kind())
	}
	return &Envelope{Kind: a.Kind(), Payload: payload}, nil
}

// Decode unpacks and validates the action inside env.
func Decode(env *Envelope) (Action, error) {
	if env == nil {
		return nil, &errors.ValidationError{Field: "envelope", Message: "missing action"}
	}

	var a Action
	switch env.Kind {
	case KindTest:
		a = &TestAction{}
	case KindReceivingServer:
		a = &ReceivingServerAction{}
	case KindSendingClient:
		a = &SendingClientAction{}
	case KindAuthService:
		a = &AuthServiceAction{}
	case KindAuthClient:
		a = &AuthClientAction{}
	case KindCleanupProcesses:
		a = &CleanupProcessesAction{WaitTimeout: true}
	default:
		return nil, &errors.ValidationError{
			Field:   "kind",
			Message: fmt.Sprintf("unknown action kind %q", env.Kind),
		}
	}

	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, a); err != nil {
			return nil, &errors.ValidationError{
				Field:   "payload",
				Message: fmt.Sprintf("invalid %s payload: %v", env.Kind, err),
			}
		}
	}
	if err := Validate(a); err != nil {
		return nil, err
	}
	return a, nil
}

// Validate checks the fields an action needs before it can run.
func Validate(a Action) error {
	if err := validateID(a.ID()); err != nil {
		return err
	}

	switch v := a.(type) {
	case *SendingClientAction:
		if v.HostDest == "" {
			return &errors.ValidationError{Field: "hostDest", Message: "destination host is required"}
		}
		if v.Port <= 0 {
			return &errors.ValidationError{Field: "port", Message: "destination port is required"}
		}
		if len(v.TransferFiles) == 0 {
			return &errors.ValidationError{Field: "transferFiles", Message: "no files to transfer"}
		}
	case *ReceivingServerAction:
		if v.PortServer < 0 || v.PortServer > 65535 {
			return &errors.ValidationError{Field: "portServer", Message: fmt.Sprintf("invalid port %d", v.PortServer)}
		}
	}
	return nil
}

// validateID rejects ids that are not a single file name component. The
// id is used to name the file list, the auth side-channel file and the
// transfer log.
func validateID(id string) error {
	switch {
	case id == "":
		return &errors.ValidationError{Field: "id", Message: "transfer id is required"}
	case id == "." || id == "..":
		return &errors.ValidationError{Field: "id", Message: fmt.Sprintf("invalid transfer id %q", id)}
	case strings.ContainsAny(id, "/\\\x00"):
		return &errors.ValidationError{Field: "id", Message: fmt.Sprintf("transfer id %q contains a path separator or NUL", id)}
	}
	return nil
}
