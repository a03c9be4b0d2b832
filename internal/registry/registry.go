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

// Package registry tracks the executors a daemon currently supervises,
// keyed by transfer id.
package registry

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/tombee/fdtd/pkg/errors"
)

// Entry is a supervised process as seen by the registry.
type Entry interface {
	ID() string

	// Port is the pool port to release on removal, 0 if none.
	Port() int

	Alive() bool
}

// PortReleaser takes back pool ports of removed entries.
type PortReleaser interface {
	Release(port int) error
}

// Registry is a mutex-guarded map from transfer id to entry. Duplicate ids
// are rejected, and entries whose process is still alive are never removed.
type Registry[E Entry] struct {
	mu      sync.Mutex
	entries map[string]E
	ports   PortReleaser
	logger  *slog.Logger
}

// New creates an empty registry. ports may be nil when no entry holds a
// pool port.
func New[E Entry](ports PortReleaser, logger *slog.Logger) *Registry[E] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry[E]{
		entries: make(map[string]E),
		ports:   ports,
		logger:  logger,
	}
}

// Add registers e. An id that is already present is an error and the
// existing entry is kept.
func (r *Registry[E]) Add(e E) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[e.ID()]; ok {
		return &errors.DuplicateExecutorError{ID: e.ID()}
	}
	r.entries[e.ID()] = e
	return nil
}

// Remove deletes e if its process has terminated and releases its port.
// It reports whether the entry was removed. A live process keeps its entry
// so a later cleanup can still find it.
func (r *Registry[E]) Remove(e E) bool {
	r.mu.Lock()
	current, ok := r.entries[e.ID()]
	if !ok {
		r.mu.Unlock()
		r.logger.Warn("remove requested for unknown executor", slog.String("transfer_id", e.ID()))
		return false
	}
	if current.Alive() {
		r.mu.Unlock()
		r.logger.Error("executor process still running, entry kept in registry",
			slog.String("transfer_id", e.ID()))
		return false
	}
	delete(r.entries, e.ID())
	r.mu.Unlock()

	if port := current.Port(); port != 0 && r.ports != nil {
		if err := r.ports.Release(port); err != nil {
			r.logger.Error("releasing port of removed executor failed",
				slog.String("transfer_id", e.ID()),
				slog.Int("port", port),
				slog.Any("error", err))
		}
	}
	return true
}

// Get returns the entry for id.
func (r *Registry[E]) Get(id string) (E, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return e, ok
}

// Contains reports whether id is registered.
func (r *Registry[E]) Contains(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

// Len returns the number of entries.
func (r *Registry[E]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// IDs returns the registered ids in sorted order.
func (r *Registry[E]) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns the current entries ordered by id.
func (r *Registry[E]) Snapshot() []E {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]E, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
