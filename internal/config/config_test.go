// Copyright 2026 The WebX Router Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func TestLoad_DefaultsWithoutFlagsOrEnv(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	v := viper.New()
	BindFlags(flags, v)

	if err := flags.Parse(nil); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Ports.Connector != Default().Ports.Connector {
		t.Errorf("Ports.Connector = %d, want default %d", cfg.Ports.Connector, Default().Ports.Connector)
	}
}

func TestLoad_EnvironmentOverridesDefault(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	v := viper.New()
	BindFlags(flags, v)
	if err := flags.Parse(nil); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	t.Setenv("WEBX_ROUTER_PORT_CONNECTOR", "7000")

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Ports.Connector != 7000 {
		t.Errorf("Ports.Connector = %d, want 7000 from environment", cfg.Ports.Connector)
	}
}

func TestLoad_FlagOverridesEnvironment(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	v := viper.New()
	BindFlags(flags, v)

	t.Setenv("WEBX_ROUTER_PORT_CONNECTOR", "7000")

	if err := flags.Parse([]string{"--port-connector=8000"}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Ports.Connector != 8000 {
		t.Errorf("Ports.Connector = %d, want 8000 from explicit flag", cfg.Ports.Connector)
	}
}

func TestValidate_RejectsInvalidPort(t *testing.T) {
	cfg := Default()
	cfg.Ports.Connector = 70000
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for out-of-range port")
	}
}

func TestValidate_RejectsMissingBinary(t *testing.T) {
	cfg := Default()
	cfg.Xorg.Binary = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing xorg binary path")
	}
}

func TestLoad_YAMLFileIsBaseLayer(t *testing.T) {
	file, err := os.CreateTemp(t.TempDir(), "webx-router-*.yaml")
	if err != nil {
		t.Fatalf("CreateTemp failed: %v", err)
	}
	if _, err := file.WriteString("pam_service: custom-service\n"); err != nil {
		t.Fatalf("WriteString failed: %v", err)
	}
	file.Close()

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	v := viper.New()
	BindFlags(flags, v)
	if err := flags.Parse([]string{"--config=" + file.Name()}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.PamService != "custom-service" {
		t.Errorf("PamService = %q, want %q", cfg.PamService, "custom-service")
	}
}
