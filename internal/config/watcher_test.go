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

package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reloads struct {
	mu   sync.Mutex
	cfgs []*Config
}

func (r *reloads) add(cfg *Config) {
	r.mu.Lock()
	r.cfgs = append(r.cfgs, cfg)
	r.mu.Unlock()
}

func (r *reloads) last() (*Config, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.cfgs) == 0 {
		return nil, 0
	}
	return r.cfgs[len(r.cfgs)-1], len(r.cfgs)
}

func TestWatcher_Reload(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "fdtd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("kill_command: \"kill %(pid)s\"\n"), 0o600))

	var got reloads
	w, err := NewWatcher(WatcherConfig{
		Path:     path,
		OnChange: got.add,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Debounce: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("kill_command: \"kill -9 %(pid)s\"\n"), 0o600))

	require.Eventually(t, func() bool {
		cfg, _ := got.last()
		return cfg != nil && cfg.KillCommand == "kill -9 %(pid)s"
	}, 3*time.Second, 20*time.Millisecond)

	_, before := got.last()
	require.NoError(t, os.WriteFile(path, []byte("port: -1\n"), 0o600))
	time.Sleep(200 * time.Millisecond)
	_, after := got.last()
	assert.Equal(t, before, after, "invalid configuration must not be delivered")

	// Unrelated files in the same directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "other.yaml"), []byte("x"), 0o600))
	time.Sleep(100 * time.Millisecond)
	_, again := got.last()
	assert.Equal(t, after, again)
}

func TestNewWatcher_Validation(t *testing.T) {
	_, err := NewWatcher(WatcherConfig{OnChange: func(*Config) {}})
	assert.Error(t, err)

	_, err = NewWatcher(WatcherConfig{Path: filepath.Join(t.TempDir(), "fdtd.yaml")})
	assert.Error(t, err)

	_, err = NewWatcher(WatcherConfig{Path: "/nonexistent/dir/fdtd.yaml", OnChange: func(*Config) {}})
	assert.Error(t, err)
}
