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

/*
Package rpc carries fdtd requests over WebSocket.

Every frame is a JSON Message. Requests carry a method and a correlation
id; the server answers each with a response or an error frame bearing the
same id. Requests on one connection are served concurrently, so a long
running transfer does not block a status query behind it.

# Server

	registry := rpc.NewRegistry()
	registry.Register("fdtd.service", handleService)

	srv := rpc.NewServer(rpc.ServerConfig{Addr: ":8444", Logger: logger}, registry)
	if err := srv.Start(ctx); err != nil {
		return err
	}
	defer srv.Shutdown(context.Background())

The server exposes /ws for RPC and /health for liveness probes. When
AuthToken is set, the upgrade request must carry it in X-Auth-Token;
repeated failures from one IP lock that IP out for a minute.

# Client

	c, err := rpc.Dial(ctx, "ws://localhost:8444/ws", rpc.WithToken(token))
	if err != nil {
		return err
	}
	defer c.Close()

	var result action.Result
	err = c.Call(ctx, "fdtd.service", env, &result)

A failure reported by the daemon comes back as *RemoteError with the
daemon's error code and full message, including process logs.
*/
package rpc
