// Copyright 2026 The WebX Router Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the router's configuration from a YAML file,
// environment variables prefixed WEBX_ROUTER_, and command-line flags,
// in that order of increasing precedence — grounded on lockd's
// viper.BindPFlag/SetEnvPrefix/AutomaticEnv wiring (cmd/lockd/app.go)
// layered over a plain YAML-unmarshaled struct in the style of
// lib/config.Config (gopkg.in/yaml.v3 struct tags, a Default()
// constructor, and a Validate() pass).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the router's full runtime configuration.
type Config struct {
	Ports          Ports         `yaml:"ports"`
	PamService     string        `yaml:"pam_service"`
	Xorg           XorgConfig    `yaml:"xorg"`
	Engine         EngineConfig  `yaml:"engine"`
	SessionsDir    string        `yaml:"sessions_dir"`
	LogDir         string        `yaml:"log_dir"`
	DrainGrace     time.Duration `yaml:"drain_grace"`
	DrainTimeout   time.Duration `yaml:"drain_timeout"`
	ReconcileEvery time.Duration `yaml:"reconcile_every"`
}

// Ports mirrors the Connector's advertised port map (§6).
type Ports struct {
	Connector int `yaml:"connector"`
	Session   int `yaml:"session"`
	Publisher int `yaml:"publisher"`
	Collector int `yaml:"collector"`
}

// XorgConfig configures the Display Supervisor's X server invocation.
type XorgConfig struct {
	Binary              string `yaml:"binary"`
	ConfigPath          string `yaml:"config_path"`
	DisplayOffset       int    `yaml:"display_offset"`
	WindowManagerScript string `yaml:"window_manager_script"`
	RunAsRoot           bool   `yaml:"run_as_root"`
}

// EngineConfig configures the Engine Supervisor's render-engine
// invocation.
type EngineConfig struct {
	BinaryPath     string        `yaml:"binary_path"`
	ConnectorRoot  string        `yaml:"connector_root"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`

	// InstructionProxyAddr and MessageProxyAddr are the local IPC
	// endpoints engines subscribe/publish to; the Instruction Forwarder
	// and Message Collector bridge them to the CURVE-encrypted external
	// PUB/SUB sockets (§4.G, §4.H).
	InstructionProxyAddr string `yaml:"instruction_proxy_addr"`
	MessageProxyAddr     string `yaml:"message_proxy_addr"`
}

// Default returns a Config populated with sensible zero-values. It exists
// so every field has a usable default before the file, environment, and
// flags are layered on top, not as a fallback for a missing config file.
func Default() *Config {
	return &Config{
		Ports: Ports{
			Connector: 5555,
			Publisher: 5556,
			Collector: 5557,
			Session:   5558,
		},
		PamService: "webx-router",
		Xorg: XorgConfig{
			Binary:              "/usr/bin/Xorg",
			ConfigPath:          "/etc/webx/xorg.conf",
			DisplayOffset:       100,
			WindowManagerScript: "/usr/bin/webx-session-wm",
			RunAsRoot:           false,
		},
		Engine: EngineConfig{
			BinaryPath:           "/usr/bin/webx-engine",
			ConnectorRoot:        "/run/webx",
			RetryBaseDelay:       200 * time.Millisecond,
			InstructionProxyAddr: "ipc:///run/webx/instructions.ipc",
			MessageProxyAddr:     "ipc:///run/webx/messages.ipc",
		},
		SessionsDir:    "/var/lib/webx/sessions",
		LogDir:         "/var/log/webx",
		DrainGrace:     3 * time.Second,
		DrainTimeout:   15 * time.Second,
		ReconcileEvery: 5 * time.Second,
	}
}

// BindFlags registers every configuration flag on flags and binds them
// into v, following lockd's bindFlag/BindPFlag pattern so flags, the
// WEBX_ROUTER_ environment prefix, and the YAML file all resolve through
// a single viper.Viper.
func BindFlags(flags *pflag.FlagSet, v *viper.Viper) {
	d := Default()

	flags.String("config", "", "path to the router's YAML configuration file")
	flags.Int("port-connector", d.Ports.Connector, "TCP port for the Connector socket")
	flags.Int("port-session", d.Ports.Session, "TCP port for the Session Proxy socket")
	flags.Int("port-publisher", d.Ports.Publisher, "TCP port for the Instruction Forwarder's external socket")
	flags.Int("port-collector", d.Ports.Collector, "TCP port for the Message Collector's external socket")
	flags.String("pam-service", d.PamService, "PAM service name used for session authentication")
	flags.String("xorg-binary", d.Xorg.Binary, "path to the Xorg binary")
	flags.String("xorg-config", d.Xorg.ConfigPath, "path to the Xorg configuration file")
	flags.Int("xorg-display-offset", d.Xorg.DisplayOffset, "first display number probed for a free session")
	flags.String("window-manager", d.Xorg.WindowManagerScript, "path to the window manager launch script")
	flags.Bool("xorg-run-as-root", d.Xorg.RunAsRoot, "run the X server as root instead of dropping privileges to the session user")
	flags.String("engine-binary", d.Engine.BinaryPath, "path to the render engine binary")
	flags.String("engine-connector-root", d.Engine.ConnectorRoot, "path prefix for per-engine IPC reply sockets")
	flags.Duration("engine-retry-base-delay", d.Engine.RetryBaseDelay, "base backoff delay for engine liveness retries")
	flags.String("instruction-proxy-addr", d.Engine.InstructionProxyAddr, "local IPC address engines subscribe to for instructions")
	flags.String("message-proxy-addr", d.Engine.MessageProxyAddr, "local IPC address engines publish messages to")
	flags.String("sessions-dir", d.SessionsDir, "directory for per-session XAUTHORITY files")
	flags.String("log-dir", d.LogDir, "directory for per-session process logs")
	flags.Duration("drain-grace", d.DrainGrace, "grace period before SIGKILL when tearing down a session's processes")
	flags.Duration("drain-timeout", d.DrainTimeout, "maximum time to wait for all sessions to drain during shutdown")
	flags.Duration("reconcile-every", d.ReconcileEvery, "interval between registry reconciliation sweeps")

	v.SetEnvPrefix("WEBX_ROUTER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	flags.VisitAll(func(flag *pflag.Flag) {
		if err := v.BindPFlag(flag.Name, flag); err != nil {
			panic(fmt.Sprintf("binding flag %q: %v", flag.Name, err))
		}
	})
}

// Load builds the effective Config: YAML file (if --config/WEBX_ROUTER_CONFIG
// names one) as the base, overridden by environment variables, overridden
// by explicitly passed flags — viper's standard precedence order.
func Load(v *viper.Viper) (*Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(v.GetString("config")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	cfg.Ports.Connector = v.GetInt("port-connector")
	cfg.Ports.Session = v.GetInt("port-session")
	cfg.Ports.Publisher = v.GetInt("port-publisher")
	cfg.Ports.Collector = v.GetInt("port-collector")
	cfg.PamService = v.GetString("pam-service")
	cfg.Xorg.Binary = v.GetString("xorg-binary")
	cfg.Xorg.ConfigPath = v.GetString("xorg-config")
	cfg.Xorg.DisplayOffset = v.GetInt("xorg-display-offset")
	cfg.Xorg.WindowManagerScript = v.GetString("window-manager")
	cfg.Xorg.RunAsRoot = v.GetBool("xorg-run-as-root")
	cfg.Engine.BinaryPath = v.GetString("engine-binary")
	cfg.Engine.ConnectorRoot = v.GetString("engine-connector-root")
	cfg.Engine.RetryBaseDelay = v.GetDuration("engine-retry-base-delay")
	cfg.Engine.InstructionProxyAddr = v.GetString("instruction-proxy-addr")
	cfg.Engine.MessageProxyAddr = v.GetString("message-proxy-addr")
	cfg.SessionsDir = v.GetString("sessions-dir")
	cfg.LogDir = v.GetString("log-dir")
	cfg.DrainGrace = v.GetDuration("drain-grace")
	cfg.DrainTimeout = v.GetDuration("drain-timeout")
	cfg.ReconcileEvery = v.GetDuration("reconcile-every")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for obviously broken values.
func (c *Config) Validate() error {
	ports := map[string]int{
		"ports.connector": c.Ports.Connector,
		"ports.session":   c.Ports.Session,
		"ports.publisher": c.Ports.Publisher,
		"ports.collector": c.Ports.Collector,
	}
	for name, port := range ports {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("%s: invalid port %d", name, port)
		}
	}
	if c.Xorg.Binary == "" {
		return fmt.Errorf("xorg.binary is required")
	}
	if c.Engine.BinaryPath == "" {
		return fmt.Errorf("engine.binary_path is required")
	}
	if c.SessionsDir == "" {
		return fmt.Errorf("sessions_dir is required")
	}
	if c.LogDir == "" {
		return fmt.Errorf("log_dir is required")
	}
	return nil
}

// DumpYAML renders the effective configuration back to YAML for
// diagnostics.
func (c *Config) DumpYAML() ([]byte, error) {
	return yaml.Marshal(c)
}
