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
Package client talks to a running fdtd over its RPC endpoint.

The daemon address comes from the FDTD_HOST environment variable
(host:port, default localhost:8444) unless given explicitly; FDTD_AUTH_TOKEN
supplies the optional X-Auth-Token.

	c, err := client.FromEnvironment(ctx, "")
	if err != nil {
		return err
	}
	defer c.Close()

	result, err := c.Service(ctx, action.NewCleanupAction(id, true))
*/
package client
