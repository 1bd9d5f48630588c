// Package config reads the worker's environment-provided
// configuration, per spec.md §6. The environment is the only
// configuration source; cmd/worker defines no configuration flags.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the fully-resolved, validated worker configuration.
type Config struct {
	ContractAddress common.Address

	HostSocketPath string
	HostMethodCall   string
	HostMethodSubmit string

	PollInterval     time.Duration
	MaxParallel      int64
	RetryMax         int
	RetryBackoffBase time.Duration
	RequestDeadline  time.Duration

	ShutdownGracePeriod time.Duration
	SubmitGasLimit      uint64

	MetricsAddr string
	LogLevel    string
	LogFormat   string

	EnableLLMTips bool
}

// Environment variable names recognized by FromEnv.
const (
	envContractAddress = "CONTRACT_ADDRESS"
	envHostSocketPath  = "HOST_SOCKET_PATH"
	envPollInterval    = "POLL_INTERVAL_SECONDS"
	envMaxParallel     = "MAX_PARALLEL"
	envRetryMax        = "RETRY_MAX"
	envRetryBackoff    = "RETRY_BACKOFF_BASE_MS"
	envRequestDeadline = "REQUEST_DEADLINE_SECONDS"

	envHostMethodCall   = "HOST_METHOD_CALL"
	envHostMethodSubmit = "HOST_METHOD_SUBMIT"
	envShutdownGrace    = "SHUTDOWN_GRACE_SECONDS"
	envSubmitGasLimit   = "SUBMIT_GAS_LIMIT"

	envMetricsAddr   = "METRICS_ADDR"
	envLogLevel      = "LOG_LEVEL"
	envLogFormat     = "LOG_FORMAT"
	envEnableLLMTips = "ENABLE_LLM_TIPS"
)

// FromEnv reads and validates configuration from the process
// environment. Unknown variables are ignored, per spec.md §6.
func FromEnv() (Config, error) {
	cfg := Config{
		HostMethodCall:      envOr(envHostMethodCall, "eth_call"),
		HostMethodSubmit:    envOr(envHostMethodSubmit, "tx.sign-submit"),
		PollInterval:        10 * time.Second,
		MaxParallel:         4,
		RetryMax:            3,
		RetryBackoffBase:    time.Second,
		RequestDeadline:     120 * time.Second,
		ShutdownGracePeriod: 60 * time.Second,
		SubmitGasLimit:      500000,
		MetricsAddr:         envOr(envMetricsAddr, ""),
		LogLevel:            envOr(envLogLevel, "info"),
		LogFormat:           envOr(envLogFormat, "json"),
		EnableLLMTips:       os.Getenv(envEnableLLMTips) == "true",
	}

	contractAddr := os.Getenv(envContractAddress)
	if contractAddr == "" {
		return Config{}, fmt.Errorf("%s is required", envContractAddress)
	}
	if !common.IsHexAddress(contractAddr) {
		return Config{}, fmt.Errorf("%s is not a valid address: %q", envContractAddress, contractAddr)
	}
	cfg.ContractAddress = common.HexToAddress(contractAddr)

	cfg.HostSocketPath = os.Getenv(envHostSocketPath)
	if cfg.HostSocketPath == "" {
		return Config{}, fmt.Errorf("%s is required", envHostSocketPath)
	}

	var err error
	if cfg.PollInterval, err = envSeconds(envPollInterval, cfg.PollInterval); err != nil {
		return Config{}, err
	}
	if cfg.MaxParallel, err = envInt64(envMaxParallel, cfg.MaxParallel); err != nil {
		return Config{}, err
	}
	if cfg.MaxParallel < 1 {
		return Config{}, fmt.Errorf("%s must be at least 1", envMaxParallel)
	}
	if v, err := envInt(envRetryMax, cfg.RetryMax); err != nil {
		return Config{}, err
	} else {
		cfg.RetryMax = v
	}
	if cfg.RetryBackoffBase, err = envMillis(envRetryBackoff, cfg.RetryBackoffBase); err != nil {
		return Config{}, err
	}
	if cfg.RequestDeadline, err = envSeconds(envRequestDeadline, cfg.RequestDeadline); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownGracePeriod, err = envSeconds(envShutdownGrace, cfg.ShutdownGracePeriod); err != nil {
		return Config{}, err
	}
	if v, err := envUint64(envSubmitGasLimit, cfg.SubmitGasLimit); err != nil {
		return Config{}, err
	} else {
		cfg.SubmitGasLimit = v
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envSeconds(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer number of seconds, got %q", key, v)
	}
	return time.Duration(n) * time.Second, nil
}

func envMillis(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer number of milliseconds, got %q", key, v)
	}
	return time.Duration(n) * time.Millisecond, nil
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	return n, nil
}

func envInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	return n, nil
}

func envUint64(key string, fallback uint64) (uint64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	return n, nil
}
