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

package log

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/tombee/fdtd/pkg/errors"
)

// TransferLogs keeps one log file per transfer id. Records logged
// through the returned loggers go to the daemon log and to the file.
type TransferLogs struct {
	dir   string
	base  *slog.Logger
	level slog.Leveler

	mu    sync.Mutex
	files map[string]*transferLog
}

type transferLog struct {
	file   *os.File
	logger *slog.Logger
}

// NewTransferLogs writes transfer logs into dir (os.TempDir when empty).
func NewTransferLogs(dir string, base *slog.Logger, level slog.Leveler) *TransferLogs {
	if dir == "" {
		dir = os.TempDir()
	}
	if level == nil {
		level = slog.LevelDebug
	}
	return &TransferLogs{
		dir:   dir,
		base:  base,
		level: level,
		files: make(map[string]*transferLog),
	}
}

// Path returns the log file name for id.
func (t *TransferLogs) Path(id string) string {
	return filepath.Join(t.dir, "transfer-"+filepath.Base(id)+".log")
}

// Open returns the logger for id, opening its file on first use. A
// later Open for the same id reuses the file.
func (t *TransferLogs) Open(id string) (*slog.Logger, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tl, ok := t.files[id]; ok {
		return tl.logger, nil
	}

	path := t.Path(id)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, errors.Wrapf(err, "opening transfer log %s", path)
	}

	handler := &teeHandler{handlers: []slog.Handler{
		t.base.Handler(),
		slog.NewTextHandler(f, &slog.HandlerOptions{Level: t.level}),
	}}
	logger := WithTransfer(slog.New(handler), id)
	t.files[id] = &transferLog{file: f, logger: logger}

	t.base.Debug("transfer log opened", slog.String(TransferIDKey, id), slog.String("path", path))
	return logger, nil
}

// IsOpen reports whether id has an open log file.
func (t *TransferLogs) IsOpen(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.files[id]
	return ok
}

// Close closes the log file for id. Closing an unknown id is a no-op.
func (t *TransferLogs) Close(id string) error {
	t.mu.Lock()
	tl, ok := t.files[id]
	delete(t.files, id)
	t.mu.Unlock()

	if !ok {
		return nil
	}
	if err := tl.file.Close(); err != nil {
		return errors.Wrapf(err, "closing transfer log for %s", id)
	}
	return nil
}

// CloseAll closes every open file. Failures are logged and the first one
// is returned.
func (t *TransferLogs) CloseAll() error {
	t.mu.Lock()
	files := t.files
	t.files = make(map[string]*transferLog)
	t.mu.Unlock()

	var first error
	for id, tl := range files {
		if err := tl.file.Close(); err != nil {
			t.base.Error("closing transfer log failed", slog.String(TransferIDKey, id), Error(err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// teeHandler fans records out to several handlers.
type teeHandler struct {
	handlers []slog.Handler
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, hh := range h.handlers {
		if !hh.Enabled(ctx, r.Level) {
			continue
		}
		if err := hh.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		next[i] = hh.WithAttrs(attrs)
	}
	return &teeHandler{handlers: next}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		next[i] = hh.WithGroup(name)
	}
	return &teeHandler{handlers: next}
}
