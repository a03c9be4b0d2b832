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

package daemon

import (
	"context"

	"github.com/tombee/fdtd/internal/action"
	"github.com/tombee/fdtd/internal/rpc"
)

// RPC method names served by the daemon.
const (
	MethodService = "fdtd.service"
	MethodStatus  = "fdtd.status"
)

func (d *Daemon) registerHandlers(r *rpc.Registry) {
	r.Register(MethodService, d.handleService)
	r.Register(MethodStatus, d.handleStatus)
}

func (d *Daemon) handleService(ctx context.Context, req *rpc.Message) (any, error) {
	var env action.Envelope
	if err := req.UnmarshalParams(&env); err != nil {
		return nil, err
	}
	a, err := action.Decode(&env)
	if err != nil {
		return nil, err
	}
	return d.Service(ctx, a)
}

func (d *Daemon) handleStatus(_ context.Context, _ *rpc.Message) (any, error) {
	return d.Status(), nil
}
