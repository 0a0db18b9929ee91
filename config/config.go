package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// RetryConfig bounds the retries made against one chain endpoint.
type RetryConfig struct {
	Attempts  uint          `yaml:"attempts"`
	BaseDelay time.Duration `yaml:"base_delay"`
	Factor    float64       `yaml:"factor"`
}

// TokenConfig is a token contract whose balance is shown on the dashboard.
type TokenConfig struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Decimals int32  `yaml:"decimals"`
}

// ChainConfig describes one balance backend.
type ChainConfig struct {
	ID       uint64        `yaml:"id"`
	Name     string        `yaml:"name"`
	Symbol   string        `yaml:"symbol"`
	Decimals int32         `yaml:"decimals"`
	RPCURL   string        `yaml:"rpc_url"`
	Retry    RetryConfig   `yaml:"retry"`
	Tokens   []TokenConfig `yaml:"tokens"`
}

type Config struct {
	ListenAddr string
	RedisURL   string
	LogDebug   bool
	// Pairing
	PairingTimeout time.Duration
	SessionTTL     time.Duration
	MaxAttempts    int
	QRSize         int
	// Tokens
	AccessTTL      time.Duration
	SigningKeyFile string
	// Flow housekeeping
	FlowIdleTTL   time.Duration
	SweepInterval time.Duration
	// Chains
	ChainsFile string
	Chains     []ChainConfig
}

// DefaultRetry is used for chains that do not set their own policy.
var DefaultRetry = RetryConfig{Attempts: 4, BaseDelay: 100 * time.Millisecond, Factor: 2}

// Load reads the environment and validates the result.
func Load() (*Config, error) {
	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FromEnv reads the environment without validating, so callers can apply
// overrides first and validate once.
func FromEnv() (*Config, error) {
	cfg := &Config{
		ListenAddr:     envStr("PAIRLINK_LISTEN_ADDR", ":9000"),
		RedisURL:       envStr("REDIS_URL", ""),
		LogDebug:       envBool("PAIRLINK_LOG_DEBUG", false),
		PairingTimeout: envDuration("PAIRLINK_PAIRING_TIMEOUT", 5*time.Minute),
		SessionTTL:     envDuration("PAIRLINK_SESSION_TTL", 24*time.Hour),
		MaxAttempts:    envInt("PAIRLINK_MAX_ATTEMPTS", 3),
		QRSize:         envInt("PAIRLINK_QR_SIZE", 256),
		AccessTTL:      envDuration("PAIRLINK_ACCESS_TTL", 15*time.Minute),
		SigningKeyFile: envStr("PAIRLINK_SIGNING_KEY_FILE", ""),
		FlowIdleTTL:    envDuration("PAIRLINK_FLOW_IDLE_TTL", 30*time.Minute),
		SweepInterval:  envDuration("PAIRLINK_SWEEP_INTERVAL", time.Minute),
		ChainsFile:     envStr("PAIRLINK_CHAINS_FILE", ""),
	}

	if cfg.ChainsFile != "" {
		if err := cfg.LoadChains(cfg.ChainsFile); err != nil {
			return nil, err
		}
	} else if rpcURL := envStr("PAIRLINK_RPC_URL", ""); rpcURL != "" {
		cfg.Chains = []ChainConfig{{
			ID:       uint64(envInt("PAIRLINK_CHAIN_ID", 1)),
			Name:     envStr("PAIRLINK_CHAIN_NAME", "mainnet"),
			Symbol:   envStr("PAIRLINK_CHAIN_SYMBOL", "ETH"),
			Decimals: 18,
			RPCURL:   rpcURL,
			Retry:    DefaultRetry,
		}}
	}

	return cfg, nil
}

// LoadChains replaces the chain list with the one in a YAML file.
func (c *Config) LoadChains(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read chains file: %w", err)
	}

	var file struct {
		Chains []ChainConfig `yaml:"chains"`
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse chains file: %w", err)
	}

	for i := range file.Chains {
		if file.Chains[i].Retry.Attempts == 0 {
			file.Chains[i].Retry = DefaultRetry
		}
	}

	c.ChainsFile = path
	c.Chains = file.Chains
	return nil
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("PAIRLINK_LISTEN_ADDR must not be empty")
	}
	if c.PairingTimeout <= 0 {
		return fmt.Errorf("PAIRLINK_PAIRING_TIMEOUT must be positive, got %s", c.PairingTimeout)
	}
	if c.SessionTTL < c.PairingTimeout {
		return fmt.Errorf("PAIRLINK_SESSION_TTL must not be shorter than the pairing timeout")
	}
	if c.AccessTTL <= 0 {
		return fmt.Errorf("PAIRLINK_ACCESS_TTL must be positive, got %s", c.AccessTTL)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("PAIRLINK_MAX_ATTEMPTS must be at least 1, got %d", c.MaxAttempts)
	}
	if c.QRSize < 64 {
		return fmt.Errorf("PAIRLINK_QR_SIZE must be at least 64, got %d", c.QRSize)
	}
	if c.SweepInterval <= 0 || c.FlowIdleTTL <= 0 {
		return fmt.Errorf("flow sweep interval and idle TTL must be positive")
	}

	seen := make(map[uint64]bool, len(c.Chains))
	for _, chain := range c.Chains {
		if seen[chain.ID] {
			return fmt.Errorf("chain %d configured twice", chain.ID)
		}
		seen[chain.ID] = true

		if chain.RPCURL == "" {
			return fmt.Errorf("chain %d: rpc_url must not be empty", chain.ID)
		}
		if chain.Decimals < 0 || chain.Decimals > 36 {
			return fmt.Errorf("chain %d: decimals must be between 0 and 36, got %d", chain.ID, chain.Decimals)
		}
		if chain.Retry.Attempts == 0 || chain.Retry.Factor < 1 {
			return fmt.Errorf("chain %d: retry needs at least one attempt and a factor >= 1", chain.ID)
		}
		for _, token := range chain.Tokens {
			if !common.IsHexAddress(token.Address) {
				return fmt.Errorf("chain %d: token %s has an invalid address %q", chain.ID, token.Symbol, token.Address)
			}
			if token.Decimals < 0 || token.Decimals > 36 {
				return fmt.Errorf("chain %d: token %s decimals must be between 0 and 36", chain.ID, token.Symbol)
			}
		}
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
