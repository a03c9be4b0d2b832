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
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/tombee/fdtd/internal/lifecycle"
	"github.com/tombee/fdtd/internal/log"
	"github.com/tombee/fdtd/internal/rpc"
	"github.com/tombee/fdtd/pkg/errors"
)

// HandleSignal reacts to a delivered signal and reports whether a stop
// was requested. SIGHUP stops the daemon only when no transfer is
// running; SIGTERM and SIGINT always do.
func (d *Daemon) HandleSignal(sig os.Signal) bool {
	d.metrics.signals.WithLabelValues(sig.String()).Inc()
	d.logger.Warn("signal received", slog.String("signal", sig.String()))

	switch sig {
	case syscall.SIGHUP:
		if n := d.runningTransfers(); n > 0 {
			d.logger.Warn("SIGHUP ignored, transfers still running", slog.Int("running", n))
			return false
		}
		d.logger.Info("no transfers running, shutting down on SIGHUP")
	case syscall.SIGTERM, syscall.SIGINT:
		d.logger.Info("shutting down", slog.String("signal", sig.String()))
	default:
		return false
	}

	d.requestStop(errors.Wrapf(errors.ErrShutdownBySignal, "%s", sig))
	return true
}

func (d *Daemon) requestStop(err error) {
	select {
	case d.stopCh <- err:
	default:
	}
}

// StopRequested delivers the reason once a stop has been requested.
func (d *Daemon) StopRequested() <-chan error {
	return d.stopCh
}

// Done is closed when Shutdown has finished.
func (d *Daemon) Done() <-chan struct{} {
	return d.done
}

// Stopped reports whether the daemon refuses new requests.
func (d *Daemon) Stopped() bool {
	return d.stopped.Load()
}

// Shutdown stops accepting requests, kills every registered process, and
// waits for the RPC port to be released. Only the first call does any
// work; later calls return its result.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.shutdownOnce.Do(func() {
		d.shutdownErr = d.shutdown(ctx)
		close(d.done)
	})
	return d.shutdownErr
}

func (d *Daemon) shutdown(ctx context.Context) error {
	d.regMu.Lock()
	d.stopped.Store(true)
	d.regMu.Unlock()
	d.logger.Info("shutting down fdtd ...")

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	port := d.rpcServer.Port()
	if err := d.rpcServer.Shutdown(ctx); err != nil && !errors.Is(err, rpc.ErrServerClosed) {
		d.logger.Error("RPC server shutdown failed", log.Error(err))
		record(err)
	}
	if d.metricsServer != nil {
		if err := d.metricsServer.Shutdown(ctx); err != nil {
			d.logger.Warn("metrics server shutdown failed", log.Error(err))
		}
	}

	d.killAll(ctx)

	waitCtx, cancel := context.WithTimeout(ctx, d.config().RPC.ShutdownTimeout)
	if err := d.rpcServer.Wait(waitCtx); err != nil {
		d.logger.Warn("requests still in flight at shutdown", log.Error(err))
	}
	cancel()

	// Retry processes whose first kill failed.
	d.killAll(ctx)

	if d.transferLogs != nil {
		if err := d.transferLogs.CloseAll(); err != nil {
			d.logger.Warn("closing transfer logs failed", log.Error(err))
		}
	}

	if port > 0 {
		releaseCtx, cancel := context.WithTimeout(ctx, d.config().PortReleaseTimeout)
		err := lifecycle.WaitPortReleased(releaseCtx, os.Getpid(), port, PortReleasePollInterval)
		cancel()
		if err != nil {
			d.logger.Error("RPC port not released", slog.Int(log.PortKey, port), log.Error(err))
			record(err)
		} else {
			d.logger.Debug("RPC port released", slog.Int(log.PortKey, port))
		}
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.provider.Shutdown(flushCtx); err != nil {
		d.logger.Warn("observability shutdown failed", log.Error(err))
	}

	d.logger.Info("fdtd shutdown complete")
	return firstErr
}

// killAll kills every registered process without waiting for kill
// timeouts. A failure is logged and the remaining processes are still
// killed.
func (d *Daemon) killAll(ctx context.Context) {
	d.regMu.Lock()
	snapshot := d.executors.Snapshot()
	d.regMu.Unlock()
	if len(snapshot) == 0 {
		return
	}
	d.logger.Warn("killing running processes", slog.Int("count", len(snapshot)))
	for _, e := range snapshot {
		msg, err := e.Kill(ctx, false, d.terminator)
		if err != nil {
			d.logger.Error("killing process failed",
				slog.String(log.TransferIDKey, e.ID()), log.Error(err))
			continue
		}
		d.logger.Info(msg)
		d.RemoveExecutor(e)
	}
}
