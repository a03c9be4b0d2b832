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

// Package config loads the fdtd daemon configuration.
//
// Values come from, in increasing precedence: built-in defaults, the
// YAML file, FDTD_* environment variables and finally command-line flags
// applied by the serve command.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/fdtd/pkg/errors"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the complete daemon configuration.
type Config struct {
	// Port is the RPC listening port.
	Port int `yaml:"port"`

	// PortAuthService is the port the resident auth service listens on.
	PortAuthService int `yaml:"port_auth_service"`

	// PortRangeFDTServer is the FDT server port pool, "min,max".
	PortRangeFDTServer string `yaml:"port_range_fdt_server"`

	// Hostname is reported in results. Empty means the host name.
	Hostname string `yaml:"hostname,omitempty"`

	// LogFile receives the daemon log. Empty means stderr.
	LogFile string `yaml:"log_file,omitempty"`

	PIDFile   string `yaml:"pid_file,omitempty"`
	Daemonize bool   `yaml:"daemonize"`

	// Debug is the log level name.
	Debug string `yaml:"debug"`

	// TransferSeparateLogFile gives each transfer id its own log file.
	TransferSeparateLogFile bool `yaml:"transfer_separate_log_file"`

	// Command templates. Placeholders are written %(name)s.
	FDTSendingClientCommand       string        `yaml:"fdt_sending_client_command"`
	FDTSendingClientKillTimeout   time.Duration `yaml:"fdt_sending_client_kill_timeout"`
	FDTReceivingServerCommand     string        `yaml:"fdt_receiving_server_command"`
	FDTServerLogOutputToWaitFor   string        `yaml:"fdt_server_log_output_to_wait_for"`
	FDTServerLogOutputTimeout     time.Duration `yaml:"fdt_server_log_output_timeout"`
	FDTReceivingServerKillTimeout time.Duration `yaml:"fdt_receiving_server_kill_timeout"`

	AuthServiceCommand            string        `yaml:"auth_service_command,omitempty"`
	AuthServiceLogOutputToWaitFor string        `yaml:"auth_service_log_output_to_wait_for,omitempty"`
	AuthServiceLogOutputTimeout   time.Duration `yaml:"auth_service_log_output_timeout,omitempty"`
	AuthClientCommand             string        `yaml:"auth_client_command,omitempty"`

	// X509UserProxy is the default proxy certificate for the auth client.
	X509UserProxy string `yaml:"x509_user_proxy,omitempty"`

	KillCommand     string `yaml:"kill_command,omitempty"`
	KillCommandSudo string `yaml:"kill_command_sudo,omitempty"`

	RPC           RPCConfig           `yaml:"rpc"`
	Observability ObservabilityConfig `yaml:"observability"`

	// MonitoringDestinations lists legacy monitoring collectors. They are
	// only reported at startup.
	MonitoringDestinations []string `yaml:"monitoring_destinations,omitempty"`

	// PortReleaseTimeout bounds the wait for the RPC port at shutdown.
	PortReleaseTimeout time.Duration `yaml:"port_release_timeout"`
}

// RPCConfig configures the RPC listener.
type RPCConfig struct {
	// AuthToken, when set, must be sent in the X-Auth-Token header.
	AuthToken string `yaml:"auth_token,omitempty"`

	// RequestsPerSecond limits requests per connection. Zero disables it.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ObservabilityConfig configures metrics and traces.
type ObservabilityConfig struct {
	// MetricsAddr serves /metrics when set, e.g. ":9464".
	MetricsAddr string `yaml:"metrics_addr,omitempty"`

	ServiceName string       `yaml:"service_name,omitempty"`
	Traces      TracesConfig `yaml:"traces"`
}

// TracesConfig selects the span exporter.
type TracesConfig struct {
	// Exporter is none, stdout, otlp (HTTP) or otlp-grpc.
	Exporter string `yaml:"exporter"`

	// Endpoint is the OTLP/HTTP host:port.
	Endpoint string `yaml:"endpoint,omitempty"`
	Insecure bool   `yaml:"insecure"`

	// File receives stdout exporter output. Empty means stdout.
	File string `yaml:"file,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads path (optional), applies defaults and environment overrides
// and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, &errors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", path),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()
	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, &errors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	path, err := expandHome(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "failed to read config file")
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return errors.Wrap(err, "failed to parse YAML")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8444
	}
	if c.PortAuthService == 0 {
		c.PortAuthService = 8445
	}
	if c.PortRangeFDTServer == "" {
		c.PortRangeFDTServer = "54321,54400"
	}
	if c.Debug == "" {
		c.Debug = "info"
	}
	if c.FDTSendingClientCommand == "" {
		c.FDTSendingClientCommand = "java -jar /usr/share/fdt/fdt.jar -P 16 -p %(port)s -c %(hostDest)s -d / -fl %(fileList)s -noupdates"
	}
	if c.FDTReceivingServerCommand == "" {
		c.FDTReceivingServerCommand = "java -jar /usr/share/fdt/fdt.jar -bs 64K -p %(port)s -wCount 5 -f %(clientIP)s -S -noupdates"
	}
	if c.FDTServerLogOutputToWaitFor == "" {
		c.FDTServerLogOutputToWaitFor = "FDTServer start listening on port: %(port)s"
	}
	if c.FDTServerLogOutputTimeout == 0 {
		c.FDTServerLogOutputTimeout = 5 * time.Second
	}
	if c.FDTSendingClientKillTimeout == 0 {
		c.FDTSendingClientKillTimeout = 10 * time.Second
	}
	if c.FDTReceivingServerKillTimeout == 0 {
		c.FDTReceivingServerKillTimeout = 10 * time.Second
	}
	if c.AuthServiceLogOutputTimeout == 0 {
		c.AuthServiceLogOutputTimeout = 5 * time.Second
	}
	if c.X509UserProxy == "" {
		c.X509UserProxy = os.Getenv("X509_USER_PROXY")
	}
	if c.RPC.Burst == 0 {
		c.RPC.Burst = 20
	}
	if c.RPC.ShutdownTimeout == 0 {
		c.RPC.ShutdownTimeout = 5 * time.Second
	}
	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = "fdtd"
	}
	if c.Observability.Traces.Exporter == "" {
		c.Observability.Traces.Exporter = "none"
	}
	if c.PortReleaseTimeout == 0 {
		c.PortReleaseTimeout = 10 * time.Second
	}
}

// loadFromEnv applies FDTD_* overrides. Malformed numbers are reported
// rather than ignored.
func (c *Config) loadFromEnv() error {
	ints := map[string]*int{
		"FDTD_PORT":              &c.Port,
		"FDTD_PORT_AUTH_SERVICE": &c.PortAuthService,
	}
	for key, dst := range ints {
		if val := os.Getenv(key); val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				return &errors.ConfigError{Key: key, Reason: "not an integer", Cause: err}
			}
			*dst = n
		}
	}

	strs := map[string]*string{
		"FDTD_PORT_RANGE":      &c.PortRangeFDTServer,
		"FDTD_HOSTNAME":        &c.Hostname,
		"FDTD_LOG_FILE":        &c.LogFile,
		"FDTD_PID_FILE":        &c.PIDFile,
		"FDTD_AUTH_TOKEN":      &c.RPC.AuthToken,
		"FDTD_METRICS_ADDR":    &c.Observability.MetricsAddr,
		"FDTD_TRACES_EXPORTER": &c.Observability.Traces.Exporter,
		"FDTD_TRACES_ENDPOINT": &c.Observability.Traces.Endpoint,
		"FDTD_KILL_COMMAND":    &c.KillCommand,
	}
	for key, dst := range strs {
		if val := os.Getenv(key); val != "" {
			*dst = val
		}
	}

	if val := os.Getenv("FDTD_LOG_LEVEL"); val != "" {
		c.Debug = strings.ToLower(val)
	}
	if val := os.Getenv("FDTD_TRANSFER_SEPARATE_LOG_FILE"); val != "" {
		c.TransferSeparateLogFile = val == "1" || strings.ToLower(val) == "true"
	}
	return nil
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	checkPort := func(key string, port int) {
		if port <= 0 || port > 65535 {
			errs = append(errs, fmt.Sprintf("%s must be between 1 and 65535, got %d", key, port))
		}
	}
	checkPort("port", c.Port)
	checkPort("port_auth_service", c.PortAuthService)

	if _, _, err := ParsePortRange(c.PortRangeFDTServer); err != nil {
		errs = append(errs, err.Error())
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[strings.ToLower(c.Debug)] {
		errs = append(errs, fmt.Sprintf("debug must be one of [trace, debug, info, warn, error], got %q", c.Debug))
	}

	required := map[string]string{
		"fdt_sending_client_command":   c.FDTSendingClientCommand,
		"fdt_receiving_server_command": c.FDTReceivingServerCommand,
	}
	for _, key := range []string{"fdt_sending_client_command", "fdt_receiving_server_command"} {
		if strings.TrimSpace(required[key]) == "" {
			errs = append(errs, key+" is required")
		}
	}

	durations := []struct {
		key string
		val time.Duration
	}{
		{"fdt_sending_client_kill_timeout", c.FDTSendingClientKillTimeout},
		{"fdt_receiving_server_kill_timeout", c.FDTReceivingServerKillTimeout},
		{"fdt_server_log_output_timeout", c.FDTServerLogOutputTimeout},
		{"auth_service_log_output_timeout", c.AuthServiceLogOutputTimeout},
		{"rpc.shutdown_timeout", c.RPC.ShutdownTimeout},
		{"port_release_timeout", c.PortReleaseTimeout},
	}
	for _, d := range durations {
		if d.val < 0 {
			errs = append(errs, fmt.Sprintf("%s must not be negative, got %v", d.key, d.val))
		}
	}

	if c.RPC.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Sprintf("rpc.requests_per_second must not be negative, got %v", c.RPC.RequestsPerSecond))
	}

	switch c.Observability.Traces.Exporter {
	case "none", "stdout":
	case "otlp", "otlp-grpc":
		if c.Observability.Traces.Endpoint == "" {
			errs = append(errs, fmt.Sprintf("observability.traces.endpoint is required for the %s exporter", c.Observability.Traces.Exporter))
		}
	default:
		errs = append(errs, fmt.Sprintf("observability.traces.exporter must be one of [none, stdout, otlp, otlp-grpc], got %q", c.Observability.Traces.Exporter))
	}

	if len(errs) > 0 {
		return errors.Wrap(ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

// PortRange returns the FDT server port pool bounds.
func (c *Config) PortRange() (int, int, error) {
	return ParsePortRange(c.PortRangeFDTServer)
}

// ParsePortRange parses "min,max".
func ParsePortRange(s string) (int, int, error) {
	lo, hi, ok := strings.Cut(s, ",")
	if !ok {
		return 0, 0, fmt.Errorf("port_range_fdt_server must be \"min,max\", got %q", s)
	}
	minPort, err1 := strconv.Atoi(strings.TrimSpace(lo))
	maxPort, err2 := strconv.Atoi(strings.TrimSpace(hi))
	if err1 != nil || err2 != nil {
		return 0, 0, fmt.Errorf("port_range_fdt_server must hold two integers, got %q", s)
	}
	if minPort <= 0 || maxPort > 65535 || minPort > maxPort {
		return 0, 0, fmt.Errorf("port_range_fdt_server %d,%d is not a valid range", minPort, maxPort)
	}
	return minPort, maxPort, nil
}

// Reloadable reports whether next differs from c only in fields the
// daemon can swap at runtime. Ports, the port range and output paths are
// fixed for the daemon's lifetime.
func (c *Config) Reloadable(next *Config) bool {
	return c.Port == next.Port &&
		c.PortAuthService == next.PortAuthService &&
		c.PortRangeFDTServer == next.PortRangeFDTServer &&
		c.LogFile == next.LogFile &&
		c.PIDFile == next.PIDFile &&
		c.AuthServiceCommand == next.AuthServiceCommand &&
		c.RPC == next.RPC &&
		c.Observability == next.Observability
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get home directory")
	}
	return filepath.Join(home, path[2:]), nil
}
