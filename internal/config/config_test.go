package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ggonzalez94/v3swap/internal/execution"
	"github.com/ggonzalez94/v3swap/internal/pipeline"
	"github.com/spf13/pflag"
)

func testFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("output", "json", "")
	fs.String("slippage", "0.05", "")
	fs.String("router", "", "")
	fs.Bool("simulate", true, "")
	return fs
}

func TestLoadPrecedenceFlagsOverEnvOverFile(t *testing.T) {
	tmp := t.TempDir()
	configPath := filepath.Join(tmp, "config.yaml")
	body := "output: plain\nslippage: \"0.01\"\ndeadline: 5m\nrouter: \"0x00000000000000000000000000000000000000AA\"\n"
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("V3SWAP_SLIPPAGE", "0.02")
	t.Setenv("V3SWAP_OUTPUT", "yaml")
	flags := testFlags()
	if err := flags.Parse([]string{"--output", "plain"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	settings, err := Load(configPath, flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.OutputMode != "plain" {
		t.Fatalf("expected flag to win, got output=%s", settings.OutputMode)
	}
	if settings.Slippage.String() != "0.02" {
		t.Fatalf("expected env to win over file, got slippage=%s", settings.Slippage)
	}
	if settings.Deadline != 5*time.Minute {
		t.Fatalf("expected deadline from file, got %s", settings.Deadline)
	}
	if settings.Contracts.Router != "0x00000000000000000000000000000000000000AA" {
		t.Fatalf("expected router override from file, got %q", settings.Contracts.Router)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	settings, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.OutputMode != "json" || settings.GasStrategy != execution.GasStrategyEstimate || settings.WrapMode != pipeline.WrapAuto {
		t.Fatalf("unexpected defaults: %+v", settings)
	}
	if settings.GasMargin != 50000 || settings.GasLimit != 500000 {
		t.Fatalf("unexpected gas defaults: margin=%d limit=%d", settings.GasMargin, settings.GasLimit)
	}
	if settings.Deadline != 10*time.Minute {
		t.Fatalf("unexpected deadline default: %s", settings.Deadline)
	}
	if !settings.Simulate || !settings.ExactOutputFallback || !settings.ApprovalReset {
		t.Fatal("expected simulate, exact-output fallback and approval reset on by default")
	}
	if settings.LockDir == "" {
		t.Fatal("expected lock dir default")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cases := map[string]string{
		"V3SWAP_OUTPUT":       "xml",
		"V3SWAP_SLIPPAGE":     "1.2",
		"V3SWAP_GAS_STRATEGY": "guess",
		"V3SWAP_WRAP_MODE":    "sometimes",
		"V3SWAP_KEY_SOURCE":   "ledger",
	}
	for env, value := range cases {
		t.Run(env, func(t *testing.T) {
			t.Setenv(env, value)
			if _, err := Load("", nil); err == nil {
				t.Fatalf("expected %s=%s to be rejected", env, value)
			}
		})
	}
}

func TestLoadAcceptsPipelineAndSenderModes(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("V3SWAP_WRAP_MODE", "NEVER")
	t.Setenv("V3SWAP_GAS_STRATEGY", "fixed")
	settings, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.WrapMode != pipeline.WrapNever || settings.GasStrategy != execution.GasStrategyFixed {
		t.Fatalf("unexpected modes: wrap=%s gas=%s", settings.WrapMode, settings.GasStrategy)
	}
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("expected error for explicit missing config file")
	}
}

func TestEnvVar(t *testing.T) {
	if got := EnvVar("max-priority-fee-gwei"); got != "V3SWAP_MAX_PRIORITY_FEE_GWEI" {
		t.Fatalf("unexpected env var: %s", got)
	}
	if got := EnvVar("config"); got != "" {
		t.Fatalf("expected no env var for non-setting, got %s", got)
	}
}

func TestLoadEnableCommands(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("V3SWAP_ENABLE_COMMANDS", "quote, pool find ,")
	settings, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(settings.EnableCommands) != 2 || settings.EnableCommands[1] != "pool find" {
		t.Fatalf("unexpected allowlist: %#v", settings.EnableCommands)
	}
}
