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
	"log/slog"
	"time"
)

// TestAction is the liveness probe that opens a transfer. Its id is
// generated once, client side, and reused by the later actions.
type TestAction struct {
	Base
}

// NewTestAction creates a probe for a transfer from src to dst.
func NewTestAction(src, dst string, timeout time.Duration) *TestAction {
	return &TestAction{Base: Base{
		TransferID:     GenerateID(Hostname(), src, dst, time.Now()),
		TimeoutSeconds: int(timeout / time.Second),
	}}
}

// Kind implements Action.
func (a *TestAction) Kind() Kind { return KindTest }

// Execute implements Action. It has no side effects.
func (a *TestAction) Execute(_ context.Context, owner Owner, logger *slog.Logger, _ Sink) (*Result, error) {
	r := newResult(a.ID(), owner.Settings().Hostname)
	logger.Debug("response to client", slog.String("result", r.String()))
	return r, nil
}
