package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/spf13/pflag"

	"github.com/louisbranch/parley/internal/platform/otel"
)

type testConfig struct {
	Address string `env:"CMD_TEST_ADDRESS" envDefault:"127.0.0.1:8080"`
	Mode    string `env:"CMD_TEST_MODE" envDefault:"server"`
}

func bindTestFlags(fs *pflag.FlagSet, cfg *testConfig) {
	fs.StringVar(&cfg.Address, "address", cfg.Address, "address")
	fs.StringVar(&cfg.Mode, "mode", cfg.Mode, "mode")
}

func mapLookup(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func TestParseConfigReadsEnvAndFlags(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"CMD_TEST_ADDRESS": "env:9000",
		"CMD_TEST_MODE":    "env-mode",
	})

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfgRef := testConfig{}
	if err := ParseConfig(&cfgRef, lookup); err != nil {
		t.Fatalf("load config defaults: %v", err)
	}
	bindTestFlags(fs, &cfgRef)

	if err := ParseArgs(fs, []string{"--address", "flag:9001"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if cfgRef.Address != "flag:9001" {
		t.Fatalf("expected flag value for address, got %q", cfgRef.Address)
	}
	if cfgRef.Mode != "env-mode" {
		t.Fatalf("expected env default mode, got %q", cfgRef.Mode)
	}
}

func TestParseConfigFromArgsReadsEnvAndFlags(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"CMD_TEST_ADDRESS": "configarg:9000",
		"CMD_TEST_MODE":    "configarg-mode",
	})

	cfgRef := testConfig{}
	fs := pflag.NewFlagSet("configargs", pflag.ContinueOnError)
	if err := ParseConfigFromArgs(&cfgRef, fs, []string{"--address", "flag:9002"}, lookup, bindTestFlags); err != nil {
		t.Fatalf("parse config and args: %v", err)
	}
	if cfgRef.Address != "flag:9002" {
		t.Fatalf("expected parsed flag address, got %q", cfgRef.Address)
	}
	if cfgRef.Mode != "configarg-mode" {
		t.Fatalf("expected env default mode, got %q", cfgRef.Mode)
	}
}

func TestParseConfigDefaultsWithoutEnv(t *testing.T) {
	cfgRef := testConfig{}
	if err := ParseConfig(&cfgRef, mapLookup(nil)); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfgRef.Address != "127.0.0.1:8080" {
		t.Fatalf("Address = %q, want %q", cfgRef.Address, "127.0.0.1:8080")
	}
}

func TestParseArgsRejectsNilParser(t *testing.T) {
	if err := ParseArgs(nil, []string{}); err == nil {
		t.Fatal("expected parse args to reject nil parser")
	}
}

func TestRunWithTelemetryRejectsMissingInputs(t *testing.T) {
	if err := RunWithTelemetry(context.Background(), "", otel.Config{}, func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected missing service error")
	}
	if err := RunWithTelemetry(context.Background(), ServiceParley, otel.Config{}, nil); err == nil {
		t.Fatal("expected missing run function error")
	}
}

func TestRunWithTelemetryReturnsRunError(t *testing.T) {
	want := errors.New("boom")
	err := RunWithTelemetry(context.Background(), ServiceParley, otel.Config{}, func(context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}
