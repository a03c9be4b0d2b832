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

package executor

import (
	"context"
	"sync"
)

// busyFlag marks an executor that a request handler is still waiting on.
// idle is closed whenever the flag is clear.
type busyFlag struct {
	mu   sync.Mutex
	busy bool
	idle chan struct{}
}

func newBusyFlag(busy bool) *busyFlag {
	f := &busyFlag{idle: make(chan struct{})}
	if busy {
		f.busy = true
	} else {
		close(f.idle)
	}
	return f
}

func (f *busyFlag) set() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.busy {
		f.busy = true
		f.idle = make(chan struct{})
	}
}

func (f *busyFlag) clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		f.busy = false
		close(f.idle)
	}
}

func (f *busyFlag) get() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy
}

func (f *busyFlag) wait(ctx context.Context) error {
	f.mu.Lock()
	ch := f.idle
	f.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
