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
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tombee/fdtd/internal/config"
	"github.com/tombee/fdtd/internal/lifecycle"
	"github.com/tombee/fdtd/internal/log"
	"github.com/tombee/fdtd/pkg/errors"
)

// RunOptions configures Run.
type RunOptions struct {
	Options

	// ConfigPath is the configuration file; empty searches the default
	// locations.
	ConfigPath string

	// Override applies command line flags on top of the loaded file.
	Override func(*config.Config)

	// Watch reloads the configuration file when it changes.
	Watch bool
}

// Run loads the configuration, starts the daemon and serves until a
// signal stops it.
func Run(ctx context.Context, opts RunOptions) error {
	path := config.Find(opts.ConfigPath)
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if opts.Override != nil {
		opts.Override(cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog.Close()
	opts.Logger = logger
	if path != "" {
		logger.Info("configuration loaded", slog.String("path", path))
	}

	if cfg.PIDFile != "" {
		pidFile := lifecycle.NewPIDFile(cfg.PIDFile)
		if removed, err := pidFile.RemoveIfStale(); err != nil {
			return err
		} else if removed {
			logger.Warn("removed stale pid file", slog.String("path", cfg.PIDFile))
		}
		if err := pidFile.Create(os.Getpid()); err != nil {
			return errors.Wrapf(err, "cannot create pid file %s", cfg.PIDFile)
		}
		defer func() {
			if err := pidFile.Remove(); err != nil {
				logger.Warn("removing pid file failed", log.Error(err))
			}
		}()
	}

	d, err := New(cfg, opts.Options)
	if err != nil {
		return err
	}

	signals := make(chan os.Signal, 4)
	signal.Notify(signals, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(signals)

	if err := d.Start(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.RPC.ShutdownTimeout)
		defer cancel()
		d.Shutdown(shutdownCtx)
		return err
	}

	if opts.Watch && path != "" {
		w, err := config.NewWatcher(config.WatcherConfig{
			Path:     path,
			OnChange: func(next *config.Config) { d.ApplyConfig(next) },
			Logger:   logger,
		})
		if err != nil {
			logger.Warn("configuration watcher disabled", log.Error(err))
		} else {
			defer w.Close()
		}
	}

	var reason error
loop:
	for {
		select {
		case sig := <-signals:
			d.HandleSignal(sig)
		case reason = <-d.StopRequested():
			break loop
		case <-ctx.Done():
			reason = ctx.Err()
			break loop
		}
	}

	logger.Info("stopping", slog.String("reason", fmt.Sprint(reason)))
	// Kills and the port release check need more than the RPC timeout.
	timeout := cfg.RPC.ShutdownTimeout + cfg.PortReleaseTimeout + 30*time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return d.Shutdown(shutdownCtx)
}

// newLogger logs to cfg.LogFile when set, stderr otherwise.
func newLogger(cfg *config.Config) (*slog.Logger, io.Closer, error) {
	lc := log.FromEnv()
	if os.Getenv("FDTD_DEBUG") == "" && os.Getenv("FDTD_LOG_LEVEL") == "" {
		lc.Level = cfg.Debug
	}
	if cfg.LogFile == "" {
		return log.New(lc), io.NopCloser(nil), nil
	}

	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, &errors.ConfigError{Key: "log_file", Reason: "cannot open log file", Cause: err}
	}
	lc.Output = f
	lc.Format = log.FormatJSON
	return log.New(lc), f, nil
}
