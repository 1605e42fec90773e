package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ggonzalez94/v3swap/internal/execution"
	"github.com/ggonzalez94/v3swap/internal/id"
	"github.com/ggonzalez94/v3swap/internal/pipeline"
	"github.com/ggonzalez94/v3swap/internal/registry"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "V3SWAP"

// Settings is the resolved configuration of one invocation.
type Settings struct {
	RPCURL    string
	ChainID   int64
	Timeout   time.Duration
	LogLevel  string
	LockDir   string
	KeySource string

	OutputMode     string
	SelectFields   []string
	ResultsOnly    bool
	// EnableCommands restricts which commands may run; empty allows all.
	EnableCommands []string

	Slippage            decimal.Decimal
	Deadline            time.Duration
	GasStrategy         string
	GasMargin           uint64
	GasLimit            uint64
	MaxFeeGwei          string
	MaxPriorityFeeGwei  string
	ReceiptTimeout      time.Duration
	Simulate            bool
	ExactOutputFallback bool
	ApprovalReset       bool
	WrapMode            string

	// Contracts holds explicit address overrides; empty fields fall back to the registry.
	Contracts registry.Deployment
}

// Load merges defaults, the config file, V3SWAP_* environment variables and flags, in that
// order of increasing precedence.
func Load(cfgFile string, flags *pflag.FlagSet) (Settings, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	lockDir, err := defaultLockDir()
	if err != nil {
		return Settings{}, err
	}
	for key, value := range defaults(lockDir) {
		v.SetDefault(key, value)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Settings{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	path, explicit, err := resolveConfigPath(cfgFile)
	if err != nil {
		return Settings{}, err
	}
	if _, statErr := os.Stat(path); statErr == nil || explicit {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("read config: %w", err)
		}
	}

	slippage, err := id.ParseSlippage(v.GetString("slippage"))
	if err != nil {
		return Settings{}, fmt.Errorf("slippage: %w", err)
	}

	settings := Settings{
		RPCURL:              strings.TrimSpace(v.GetString("rpc-url")),
		ChainID:             v.GetInt64("chain-id"),
		Timeout:             v.GetDuration("timeout"),
		LogLevel:            strings.ToLower(v.GetString("log-level")),
		LockDir:             v.GetString("lock-dir"),
		KeySource:           strings.ToLower(v.GetString("key-source")),
		OutputMode:          strings.ToLower(v.GetString("output")),
		SelectFields:        splitAndClean(v.GetString("select")),
		ResultsOnly:         v.GetBool("results-only"),
		EnableCommands:      splitAndClean(v.GetString("enable-commands")),
		Slippage:            slippage,
		Deadline:            v.GetDuration("deadline"),
		GasStrategy:         strings.ToLower(v.GetString("gas-strategy")),
		GasMargin:           v.GetUint64("gas-margin"),
		GasLimit:            v.GetUint64("gas-limit"),
		MaxFeeGwei:          strings.TrimSpace(v.GetString("max-fee-gwei")),
		MaxPriorityFeeGwei:  strings.TrimSpace(v.GetString("max-priority-fee-gwei")),
		ReceiptTimeout:      v.GetDuration("receipt-timeout"),
		Simulate:            v.GetBool("simulate"),
		ExactOutputFallback: v.GetBool("exact-output-fallback"),
		ApprovalReset:       v.GetBool("approval-reset"),
		WrapMode:            strings.ToLower(v.GetString("wrap-mode")),
		Contracts: registry.Deployment{
			Factory: v.GetString("factory"),
			Quoter:  v.GetString("quoter"),
			Router:  v.GetString("router"),
			WETH9:   v.GetString("weth"),
		},
	}
	if err := settings.validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func defaults(lockDir string) map[string]any {
	return map[string]any{
		"rpc-url":               "",
		"chain-id":              int64(0),
		"timeout":               2 * time.Minute,
		"log-level":             "info",
		"output":                "json",
		"select":                "",
		"results-only":          false,
		"enable-commands":       "",
		"slippage":              "0.05",
		"deadline":              10 * time.Minute,
		"gas-strategy":          execution.GasStrategyEstimate,
		"gas-margin":            uint64(50000),
		"gas-limit":             uint64(500000),
		"max-fee-gwei":          "",
		"max-priority-fee-gwei": "",
		"receipt-timeout":       2 * time.Minute,
		"simulate":              true,
		"exact-output-fallback": true,
		"approval-reset":        true,
		"wrap-mode":             pipeline.WrapAuto,
		"factory":               "",
		"quoter":                "",
		"router":                "",
		"weth":                  "",
		"key-source":            "auto",
		"lock-dir":              lockDir,
	}
}

// EnvVar names the environment variable that sets key, or "" when key is not a setting.
func EnvVar(key string) string {
	if _, ok := defaults("")[key]; !ok {
		return ""
	}
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

func (s Settings) validate() error {
	switch s.OutputMode {
	case "json", "plain", "yaml":
	default:
		return fmt.Errorf("output must be json, plain or yaml")
	}
	switch s.GasStrategy {
	case execution.GasStrategyEstimate, execution.GasStrategyFixed:
	default:
		return fmt.Errorf("gas-strategy must be %s or %s", execution.GasStrategyEstimate, execution.GasStrategyFixed)
	}
	switch s.WrapMode {
	case pipeline.WrapAuto, pipeline.WrapAlways, pipeline.WrapNever:
	default:
		return fmt.Errorf("wrap-mode must be auto, always or never")
	}
	switch s.KeySource {
	case "auto", "env", "file", "keystore":
	default:
		return fmt.Errorf("key-source must be auto, env, file or keystore")
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if s.Deadline <= 0 {
		return fmt.Errorf("deadline must be positive")
	}
	if s.ReceiptTimeout <= 0 {
		return fmt.Errorf("receipt-timeout must be positive")
	}
	if s.GasLimit == 0 {
		return fmt.Errorf("gas-limit must be positive")
	}
	if s.ChainID < 0 {
		return fmt.Errorf("chain-id must be positive")
	}
	return nil
}

func resolveConfigPath(input string) (string, bool, error) {
	if strings.TrimSpace(input) != "" {
		return input, true, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", false, err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "v3swap", "config.yaml"), false, nil
}

func defaultLockDir() (string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".cache")
	}
	return filepath.Join(base, "v3swap", "locks"), nil
}

func splitAndClean(input string) []string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			out = append(out, item)
		}
	}
	return out
}
