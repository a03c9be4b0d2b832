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

// Package daemon holds the state of a running fdtd: the FDT server port
// pool, the registry of supervised processes and the RPC server through
// which remote fdtcp clients submit actions.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/fdtd/internal/action"
	"github.com/tombee/fdtd/internal/cmdline"
	"github.com/tombee/fdtd/internal/config"
	"github.com/tombee/fdtd/internal/executor"
	"github.com/tombee/fdtd/internal/lifecycle"
	"github.com/tombee/fdtd/internal/log"
	"github.com/tombee/fdtd/internal/portpool"
	"github.com/tombee/fdtd/internal/registry"
	"github.com/tombee/fdtd/internal/rpc"
	"github.com/tombee/fdtd/internal/tracing"
	"github.com/tombee/fdtd/pkg/errors"
)

// AuthServiceID is the registry id of the resident authentication
// service. It does not count as a running transfer.
const AuthServiceID = "AuthService"

// PortReleasePollInterval is how often shutdown checks that the RPC port
// was given back to the OS.
var PortReleasePollInterval = 200 * time.Millisecond

// Options contains daemon options set at build time or by tests.
type Options struct {
	Version   string
	Commit    string
	BuildDate string

	Logger *slog.Logger

	// Terminator replaces the kill-command based terminator.
	Terminator executor.Terminator

	// SideChannelDir holds auth client files. Empty means os.TempDir().
	SideChannelDir string
}

// Daemon is the fdtd daemon.
type Daemon struct {
	opts   Options
	logger *slog.Logger

	cfgMu    sync.RWMutex
	cfg      *config.Config
	settings action.Settings

	pool         *portpool.Pool
	executors    *registry.Registry[*executor.Executor]
	killer       *lifecycle.Killer
	terminator   executor.Terminator
	transferLogs *log.TransferLogs

	provider      *tracing.Provider
	tracer        trace.Tracer
	metrics       *metrics
	rpcServer     *rpc.Server
	metricsServer *http.Server

	// regMu orders executor registration against the stop flag so that
	// nothing is registered after killAll took its snapshot.
	regMu   sync.Mutex
	stopped atomic.Bool
	stopCh  chan error

	mu           sync.Mutex
	started      bool
	shutdownOnce sync.Once
	shutdownErr  error
	done         chan struct{}
}

var _ action.Owner = (*Daemon)(nil)

// New creates a daemon from cfg. Nothing is started until Start.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := log.WithComponent(opts.Logger, "daemon")

	minPort, maxPort, err := cfg.PortRange()
	if err != nil {
		return nil, &errors.ConfigError{Key: "port_range_fdt_server", Reason: err.Error(), Cause: err}
	}
	pool, err := portpool.New(minPort, maxPort)
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		opts:      opts,
		logger:    logger,
		cfg:       cfg,
		pool:      pool,
		executors: registry.New[*executor.Executor](pool, logger),
		killer:    lifecycle.NewKiller(killTemplates(cfg), logger),
		stopCh:    make(chan error, 1),
		done:      make(chan struct{}),
	}
	d.terminator = d.killer
	if opts.Terminator != nil {
		d.terminator = opts.Terminator
	}
	d.settings = d.buildSettings(cfg)

	if cfg.TransferSeparateLogFile {
		dir := os.TempDir()
		if cfg.LogFile != "" {
			dir = filepath.Dir(cfg.LogFile)
		}
		d.transferLogs = log.NewTransferLogs(dir, opts.Logger, log.ParseLevel(cfg.Debug))
	}

	d.provider, err = tracing.NewProvider(context.Background(), tracingConfig(cfg, opts.Version), logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create observability provider")
	}
	d.tracer = d.provider.Tracer("github.com/tombee/fdtd/internal/daemon")
	d.metrics = newMetrics(d.provider.Registry())
	d.metrics.portsTotal.Set(float64(pool.Size()))

	handlers := rpc.NewRegistry()
	d.registerHandlers(handlers)
	d.rpcServer = rpc.NewServer(rpc.ServerConfig{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.Port)),
		ShutdownTimeout:   cfg.RPC.ShutdownTimeout,
		AuthToken:         cfg.RPC.AuthToken,
		RequestsPerSecond: cfg.RPC.RequestsPerSecond,
		Burst:             cfg.RPC.Burst,
		Version:           opts.Version,
		Logger:            opts.Logger,
	}, handlers)

	logger.Debug("daemon initialised",
		slog.String("port_range", pool.String()),
		slog.Int("port", cfg.Port))
	return d, nil
}

func killTemplates(cfg *config.Config) lifecycle.KillTemplates {
	return lifecycle.KillTemplates{
		KillCommand:     cfg.KillCommand,
		KillCommandSudo: cfg.KillCommandSudo,
	}
}

func (d *Daemon) buildSettings(cfg *config.Config) action.Settings {
	hostname := cfg.Hostname
	if hostname == "" {
		if h, err := os.Hostname(); err == nil {
			hostname = h
		}
	}
	logDir := os.TempDir()
	if cfg.LogFile != "" {
		logDir = filepath.Dir(cfg.LogFile)
	}
	return action.Settings{
		Hostname:               hostname,
		LogDir:                 logDir,
		ServerCommand:          cfg.FDTReceivingServerCommand,
		ServerReadiness:        cfg.FDTServerLogOutputToWaitFor,
		ServerReadinessTimeout: cfg.FDTServerLogOutputTimeout,
		ServerKillTimeout:      cfg.FDTReceivingServerKillTimeout,
		ClientCommand:          cfg.FDTSendingClientCommand,
		ClientKillTimeout:      cfg.FDTSendingClientKillTimeout,
		AuthServicePort:        cfg.PortAuthService,
		AuthClientCommand:      cfg.AuthClientCommand,
		X509UserProxy:          cfg.X509UserProxy,
		SideChannelDir:         d.opts.SideChannelDir,
	}
}

func tracingConfig(cfg *config.Config, version string) tracing.Config {
	tc := tracing.DefaultConfig()
	tc.ServiceName = cfg.Observability.ServiceName
	if version != "" {
		tc.ServiceVersion = version
	}
	tc.Exporter = cfg.Observability.Traces.Exporter
	tc.Endpoint = cfg.Observability.Traces.Endpoint
	tc.Insecure = cfg.Observability.Traces.Insecure
	tc.File = cfg.Observability.Traces.File
	return tc
}

// Start starts the resident auth service, the RPC server and, when
// configured, the metrics listener. It does not block.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return errors.New("daemon already started")
	}
	if d.stopped.Load() {
		return errors.ErrServiceStopped
	}

	cfg := d.config()
	for _, dest := range cfg.MonitoringDestinations {
		d.logger.Info("monitoring destination configured", slog.String("destination", dest))
	}

	if cfg.AuthServiceCommand != "" {
		if err := d.startAuthService(ctx, cfg); err != nil {
			return err
		}
	}

	if err := d.rpcServer.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start RPC server")
	}

	if cfg.Observability.MetricsAddr != "" {
		if err := d.startMetricsServer(ctx, cfg.Observability.MetricsAddr); err != nil {
			return err
		}
	}

	d.started = true
	d.logger.Info("fdtd waiting for requests",
		slog.String("version", d.opts.Version),
		slog.String("addr", d.rpcServer.Addr().String()))
	return nil
}

func (d *Daemon) startAuthService(ctx context.Context, cfg *config.Config) error {
	logger := log.WithComponent(d.opts.Logger, "auth-service")
	logger.Debug("creating instance of AuthService ...")

	values := cmdline.Values{"port": cfg.PortAuthService}
	command, err := cmdline.RenderCommand(cfg.AuthServiceCommand, values)
	if err != nil {
		return errors.Wrap(err, "could not start AuthService")
	}
	readiness, err := cmdline.Render(cfg.AuthServiceLogOutputToWaitFor, values)
	if err != nil {
		return errors.Wrap(err, "could not start AuthService")
	}

	exe, err := executor.New(executor.Options{
		ID:                 AuthServiceID,
		Command:            command,
		LogOutputToWaitFor: readiness,
		LogOutputWaitTime:  cfg.AuthServiceLogOutputTimeout,
		Owner:              d,
		Logger:             logger,
	})
	if err != nil {
		return errors.Wrap(err, "could not start AuthService")
	}
	output, err := exe.Execute(ctx)
	if err != nil {
		return errors.Wrap(err, "could not start AuthService")
	}
	logger.Debug(output)
	return nil
}

func (d *Daemon) startMetricsServer(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen for metrics on %s", addr)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", d.provider.MetricsHandler())
	d.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := d.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("metrics server error", log.Error(err))
		}
	}()
	d.logger.Info("metrics endpoint listening", slog.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the RPC listening address, nil before Start.
func (d *Daemon) Addr() net.Addr {
	return d.rpcServer.Addr()
}

// Service executes one action on behalf of a remote caller.
func (d *Daemon) Service(ctx context.Context, a action.Action) (*action.Result, error) {
	start := time.Now()
	kind := a.Kind()
	if err := action.Validate(a); err != nil {
		d.logger.Error("invalid request", slog.String("action", kind.Name()), log.Error(err))
		d.metrics.observe(kind, err, time.Since(start))
		return nil, errors.Daemon("", err)
	}
	logger := d.requestLogger(a)

	banner := fmt.Sprintf("Request received: %s %s", strings.Repeat("-", 20), kind.Name())
	logger.Debug(banner)

	defer func() {
		logger.Debug(fmt.Sprintf("End of request %s serving.\n%s", kind.Name(), strings.Repeat("-", 78)))
		d.releaseTransferLog(a)
	}()

	if d.stopped.Load() {
		msg := "FDTDService stopped or is being shutdown ..."
		logger.Error(msg)
		d.metrics.observe(kind, errors.ErrServiceStopped, time.Since(start))
		return nil, errors.Daemon(msg, errors.ErrServiceStopped)
	}

	ctx, span := d.tracer.Start(ctx, "fdtd.service",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("fdtd.action", string(kind)),
			attribute.String("fdtd.transfer_id", a.ID()),
		))
	defer span.End()

	result, err := a.Execute(ctx, d, logger, d.provider.Monitor())
	d.metrics.observe(kind, err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errors.Code(err))
		return nil, errors.Daemon("", err)
	}
	if result.ServerPort != 0 {
		span.SetAttributes(attribute.Int("fdtd.server_port", result.ServerPort))
	}
	return result, nil
}

// requestLogger returns the logger for one request: the per-transfer file
// logger when separate transfer logs are enabled, the daemon logger
// otherwise.
func (d *Daemon) requestLogger(a action.Action) *slog.Logger {
	base := log.WithAction(log.WithTransfer(d.logger, a.ID()), string(a.Kind()))
	if d.transferLogs == nil {
		return base
	}
	tl, err := d.transferLogs.Open(a.ID())
	if err != nil {
		base.Warn("could not open separate transfer log, using daemon log", log.Error(err))
		return base
	}
	base.Debug("logging separately into file", slog.String("path", d.transferLogs.Path(a.ID())))
	return log.WithAction(tl, string(a.Kind()))
}

// releaseTransferLog closes the per-transfer log once nothing for the id
// is registered. A running server or client keeps it open until cleanup.
func (d *Daemon) releaseTransferLog(a action.Action) {
	if d.transferLogs == nil || d.HasExecutor(a.ID()) {
		return
	}
	if err := d.transferLogs.Close(a.ID()); err != nil {
		d.logger.Warn("closing transfer log failed", log.Error(err))
	}
}

// Status is a snapshot of the daemon state.
type Status struct {
	Executors  []string `json:"executors"`
	PortsTaken int      `json:"portsTaken"`
	PortsTotal int      `json:"portsTotal"`
	Stopped    bool     `json:"stopped"`
	Version    string   `json:"version,omitempty"`
}

// Status reports registered executors and port pool usage.
func (d *Daemon) Status() Status {
	return Status{
		Executors:  d.executors.IDs(),
		PortsTaken: d.pool.Taken(),
		PortsTotal: d.pool.Size(),
		Stopped:    d.stopped.Load(),
		Version:    d.opts.Version,
	}
}

// HasExecutor implements action.Owner.
func (d *Daemon) HasExecutor(id string) bool {
	return d.executors.Contains(id)
}

// AddExecutor implements action.Owner. Once the daemon is stopped every
// registration fails with ErrServiceStopped and the executor kills the
// process it just started.
func (d *Daemon) AddExecutor(e *executor.Executor) error {
	d.regMu.Lock()
	defer d.regMu.Unlock()
	if d.stopped.Load() {
		return errors.ErrServiceStopped
	}
	if err := d.executors.Add(e); err != nil {
		return err
	}
	d.metrics.executors.Set(float64(d.executors.Len()))
	return nil
}

// RemoveExecutor implements action.Owner.
func (d *Daemon) RemoveExecutor(e *executor.Executor) bool {
	removed := d.executors.Remove(e)
	d.metrics.executors.Set(float64(d.executors.Len()))
	d.metrics.portsTaken.Set(float64(d.pool.Taken()))
	return removed
}

// GetExecutor implements action.Owner.
func (d *Daemon) GetExecutor(id string) (*executor.Executor, bool) {
	return d.executors.Get(id)
}

// KillProcess implements action.Owner.
func (d *Daemon) KillProcess(ctx context.Context, id string, logger *slog.Logger, waitTimeout bool) (string, error) {
	logger.Debug(fmt.Sprintf("Processing clean up / process kill request for transfer id '%s' ...", id))

	e, ok := d.executors.Get(id)
	if !ok {
		msg := fmt.Sprintf("No such process/action id '%s' in executors containers.", id)
		logger.Error(msg)
		return msg, nil
	}

	msg, err := e.Kill(ctx, waitTimeout, d.terminator)
	if err != nil {
		return "", err
	}
	logger.Info(msg)
	d.RemoveExecutor(e)
	return msg, nil
}

// ReservePort implements action.Owner.
func (d *Daemon) ReservePort() (int, error) {
	port, err := d.pool.Reserve()
	if err != nil {
		return 0, err
	}
	d.metrics.portsTaken.Set(float64(d.pool.Taken()))
	return port, nil
}

// ReleasePort implements action.Owner.
func (d *Daemon) ReleasePort(port int) error {
	err := d.pool.Release(port)
	d.metrics.portsTaken.Set(float64(d.pool.Taken()))
	return err
}

// DescribePortOwner implements action.Owner.
func (d *Daemon) DescribePortOwner(port int) (int, string, bool) {
	owners, err := lifecycle.FindPortOwners(port)
	if err != nil {
		d.logger.Debug("scanning processes for port owner failed", slog.Int(log.PortKey, port), log.Error(err))
		return 0, "", false
	}
	if len(owners) == 0 {
		return 0, "", false
	}
	return owners[0].PID, owners[0].Command, true
}

// Settings implements action.Owner.
func (d *Daemon) Settings() action.Settings {
	d.cfgMu.RLock()
	defer d.cfgMu.RUnlock()
	return d.settings
}

func (d *Daemon) config() *config.Config {
	d.cfgMu.RLock()
	defer d.cfgMu.RUnlock()
	return d.cfg
}

// ApplyConfig swaps in a reloaded configuration. Only command templates,
// timeouts and kill commands may change; a configuration that differs in
// anything else is refused and false is returned.
func (d *Daemon) ApplyConfig(next *config.Config) bool {
	d.cfgMu.Lock()
	if !d.cfg.Reloadable(next) {
		d.cfgMu.Unlock()
		d.logger.Warn("configuration change needs a restart, ignored")
		return false
	}
	d.cfg = next
	d.settings = d.buildSettings(next)
	d.cfgMu.Unlock()

	d.killer.SetTemplates(killTemplates(next))
	d.logger.Info("configuration reloaded")
	return true
}

// runningTransfers counts registered executors other than the auth
// service.
func (d *Daemon) runningTransfers() int {
	n := 0
	for _, id := range d.executors.IDs() {
		if id == AuthServiceID {
			continue
		}
		d.logger.Debug("in executors container", slog.String(log.TransferIDKey, id))
		n++
	}
	return n
}
