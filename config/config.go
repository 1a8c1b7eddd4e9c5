// Package config loads agent configuration from file, environment and flags.
package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cryptobuks/truebit-os/contract"
)

// EnvPrefix prefixes every environment override, e.g. TRUEBIT_ETHEREUM_RPC_URL.
const EnvPrefix = "TRUEBIT"

// Config is the complete agent configuration.
type Config struct {
	Ethereum  EthereumConfig  `mapstructure:"ethereum"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// EthereumConfig describes the ledger connection.
type EthereumConfig struct {
	RPCURL         string   `mapstructure:"rpc_url"`
	PrivateKeys    []string `mapstructure:"private_keys"`
	IncentiveLayer string   `mapstructure:"incentive_layer"`
	DisputeLayer   string   `mapstructure:"dispute_layer"`
	// GasLimits overrides the per-method defaults.
	GasLimits map[string]uint64 `mapstructure:"gas_limits"`
}

// AgentConfig controls which agents run and how they pace themselves.
type AgentConfig struct {
	// Roles lists the roles started for every private key: solver, verifier.
	Roles          []string      `mapstructure:"roles"`
	Throttle       int           `mapstructure:"throttle"`
	WaitTime       time.Duration `mapstructure:"wait_time"`
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	RecoveryBlocks uint64        `mapstructure:"recovery_blocks"`
	// ChallengeStake is the verifier deposit in wei, as a decimal string.
	ChallengeStake string `mapstructure:"challenge_stake"`
	ForceChallenge bool   `mapstructure:"force_challenge"`
}

// MonitorConfig controls log polling.
type MonitorConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    uint64        `mapstructure:"batch_size"`
}

// ExecutionConfig locates the interpreter and its inputs.
type ExecutionConfig struct {
	Interpreter string `mapstructure:"interpreter"`
	WorkDir     string `mapstructure:"work_dir"`
	BundleDir   string `mapstructure:"bundle_dir"`
	CacheSize   int    `mapstructure:"cache_size"`
}

// StorageConfig points at the IPFS HTTP API. An empty API disables uploads.
type StorageConfig struct {
	IPFSAPI string        `mapstructure:"ipfs_api"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// MetricsConfig controls the prometheus endpoint. An empty address disables it.
type MetricsConfig struct {
	ListenAddress string `mapstructure:"listen_address"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Ethereum: EthereumConfig{
			RPCURL: "http://localhost:8545",
		},
		Agent: AgentConfig{
			Roles:          []string{"solver", "verifier"},
			Throttle:       1,
			WaitTime:       30 * time.Second,
			TickInterval:   2 * time.Second,
			RecoveryBlocks: 0,
			ChallengeStake: "10000000000000000",
		},
		Monitor: MonitorConfig{
			PollInterval: 2 * time.Second,
			BatchSize:    1000,
		},
		Execution: ExecutionConfig{
			Interpreter: "emscripten-module-wrapper",
			WorkDir:     filepath.Join(os.TempDir(), "truebit-os"),
			BundleDir:   "bundles",
			CacheSize:   1024,
		},
		Storage: StorageConfig{
			Timeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			ListenAddress: ":9090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// SetDefaults registers every default on v so that env overrides of unset
// keys are visible to Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("ethereum.rpc_url", d.Ethereum.RPCURL)
	v.SetDefault("ethereum.private_keys", []string{})
	v.SetDefault("ethereum.incentive_layer", d.Ethereum.IncentiveLayer)
	v.SetDefault("ethereum.dispute_layer", d.Ethereum.DisputeLayer)

	v.SetDefault("agent.roles", d.Agent.Roles)
	v.SetDefault("agent.throttle", d.Agent.Throttle)
	v.SetDefault("agent.wait_time", d.Agent.WaitTime)
	v.SetDefault("agent.tick_interval", d.Agent.TickInterval)
	v.SetDefault("agent.recovery_blocks", d.Agent.RecoveryBlocks)
	v.SetDefault("agent.challenge_stake", d.Agent.ChallengeStake)
	v.SetDefault("agent.force_challenge", d.Agent.ForceChallenge)

	v.SetDefault("monitor.poll_interval", d.Monitor.PollInterval)
	v.SetDefault("monitor.batch_size", d.Monitor.BatchSize)

	v.SetDefault("execution.interpreter", d.Execution.Interpreter)
	v.SetDefault("execution.work_dir", d.Execution.WorkDir)
	v.SetDefault("execution.bundle_dir", d.Execution.BundleDir)
	v.SetDefault("execution.cache_size", d.Execution.CacheSize)

	v.SetDefault("storage.ipfs_api", d.Storage.IPFSAPI)
	v.SetDefault("storage.timeout", d.Storage.Timeout)

	v.SetDefault("metrics.listen_address", d.Metrics.ListenAddress)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)
}

// Init prepares v to read config.yaml from file (when set), the user config
// directory or the working directory, with TRUEBIT_ environment overrides.
// A missing config file is not an error.
func Init(v *viper.Viper, file string) error {
	SetDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(Dir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && file == "" {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// Load unmarshals v and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	// A comma separated env value arrives as a single element.
	cfg.Ethereum.PrivateKeys = splitList(cfg.Ethereum.PrivateKeys)
	cfg.Agent.Roles = splitList(cfg.Agent.Roles)

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}
	return &cfg, nil
}

// Dir returns the per-user config directory.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "truebit-os")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".truebit-os"
	}
	return filepath.Join(home, ".config", "truebit-os")
}

// Stake returns the challenge stake in wei. Call it on validated config.
func (c *AgentConfig) Stake() *big.Int {
	stake, ok := new(big.Int).SetString(c.ChallengeStake, 10)
	if !ok {
		return nil
	}
	return stake
}

// Gas returns the default gas limits overridden by the configured ones.
// Keys are matched to method names case-insensitively, since viper folds
// map keys to lower case.
func (e *EthereumConfig) Gas() contract.GasLimits {
	defaults := contract.DefaultGasLimits()
	canonical := make(map[string]string, len(defaults))
	for method := range defaults {
		canonical[strings.ToLower(method)] = method
	}
	overrides := make(map[string]uint64, len(e.GasLimits))
	for key, limit := range e.GasLimits {
		if method, ok := canonical[strings.ToLower(key)]; ok {
			key = method
		}
		overrides[key] = limit
	}
	return defaults.Merge(overrides)
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
