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

package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/tombee/fdtd/pkg/errors"
)

var (
	// ErrInvalidMessage is returned when a message cannot be parsed.
	ErrInvalidMessage = errors.New("rpc: invalid message format")

	// ErrMissingCorrelationID is returned when a message lacks a correlation ID.
	ErrMissingCorrelationID = errors.New("rpc: missing correlation ID")

	// ErrMethodNotFound is returned when no handler serves a method.
	ErrMethodNotFound = errors.New("rpc: method not found")

	// ErrRateLimited is returned when a connection exceeds its request budget.
	ErrRateLimited = errors.New("rpc: request rate limit exceeded")
)

// Wire error codes that do not come from a daemon error classifier.
const (
	CodeInvalidMessage = "invalid_message"
	CodeMethodNotFound = "method_not_found"
	CodeRateLimited    = "rate_limited"
)

// MessageType identifies the type of RPC message.
type MessageType string

const (
	MessageTypeRequest  MessageType = "request"
	MessageTypeResponse MessageType = "response"
	MessageTypeError    MessageType = "error"
)

// Message is the envelope of every frame.
type Message struct {
	Type MessageType `json:"type"`

	// CorrelationID links a response to its request.
	CorrelationID string `json:"correlationId"`

	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorResponse  `json:"error,omitempty"`
}

// ErrorResponse is the error payload of a failed call.
type ErrorResponse struct {
	// Code is machine readable, e.g. "daemon" or "service_stopped".
	Code string `json:"code"`

	// Message carries the full daemon error text including process logs.
	Message string `json:"message"`
}

// NewRequest builds a request with a fresh correlation id.
func NewRequest(method string, params any) (*Message, error) {
	msg := &Message{
		Type:          MessageTypeRequest,
		CorrelationID: uuid.New().String(),
		Method:        method,
	}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal params")
		}
		msg.Params = data
	}
	return msg, nil
}

// NewResponse builds the success reply to correlationID.
func NewResponse(correlationID string, result any) (*Message, error) {
	msg := &Message{Type: MessageTypeResponse, CorrelationID: correlationID}
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal result")
		}
		msg.Result = data
	}
	return msg, nil
}

// NewErrorResponse builds the error reply to correlationID.
func NewErrorResponse(correlationID, code, message string) *Message {
	return &Message{
		Type:          MessageTypeError,
		CorrelationID: correlationID,
		Error:         &ErrorResponse{Code: code, Message: message},
	}
}

// Validate checks that the message is well formed.
func (m *Message) Validate() error {
	if m.CorrelationID == "" {
		return ErrMissingCorrelationID
	}
	switch m.Type {
	case MessageTypeRequest:
		if m.Method == "" {
			return fmt.Errorf("%w: missing method", ErrInvalidMessage)
		}
	case MessageTypeResponse:
	case MessageTypeError:
		if m.Error == nil {
			return fmt.Errorf("%w: error message without error", ErrInvalidMessage)
		}
	default:
		return fmt.Errorf("%w: unknown message type %q", ErrInvalidMessage, m.Type)
	}
	return nil
}

// UnmarshalParams decodes the params into v. Malformed params are a
// ValidationError so they reach the caller as invalid_request.
func (m *Message) UnmarshalParams(v any) error {
	if m.Params == nil {
		return nil
	}
	if err := json.Unmarshal(m.Params, v); err != nil {
		return &errors.ValidationError{Field: "params", Message: err.Error()}
	}
	return nil
}

// UnmarshalResult decodes the result into v.
func (m *Message) UnmarshalResult(v any) error {
	if m.Result == nil {
		return nil
	}
	return json.Unmarshal(m.Result, v)
}

// ParseMessage decodes and validates one frame. A frame that decodes but
// fails validation is returned alongside the error.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := msg.Validate(); err != nil {
		return &msg, err
	}
	return &msg, nil
}

// RemoteError is a failed call as seen by the client.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// ErrorType returns the wire code.
func (e *RemoteError) ErrorType() string { return e.Code }

// IsRetryable reports whether the failure may clear on its own.
func (e *RemoteError) IsRetryable() bool {
	switch e.Code {
	case CodeRateLimited, "no_free_port", "port_in_use":
		return true
	}
	return false
}
