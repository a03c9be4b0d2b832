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
Package action implements the requests a remote fdtcp client sends to the
daemon to drive one transfer.

A transfer spans several requests sharing one transfer id:

	TestAction              probe the daemon, mint the transfer id
	ReceivingServerAction   start an FDT server on a pool port
	SendingClientAction     run the FDT client to completion
	CleanupProcessesAction  kill whatever is left and free the port

AuthServiceAction and AuthClientAction bootstrap authentication before a
transfer. Every action runs against an Owner (the daemon) and never holds
state of its own between requests.

# Errors

Execute returns *errors.DaemonError for every failure. The message is
complete on its own and carries the command, return code and captured
process logs, so callers can print it as is.

# Wire format

Actions travel inside an Envelope that names the kind and carries the JSON
payload. See Encode and Decode.
*/
package action
