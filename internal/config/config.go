// internal/config/config.go
package config

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	RPCList            []string       `mapstructure:"rpc_list"`
	SignerURL          string         `mapstructure:"signer_url"`
	SignerToken        string         `mapstructure:"signer_token"`
	RedisAddr          string         `mapstructure:"redis_addr"`
	PostgresURL        string         `mapstructure:"postgres_url"`
	ListenAddr         string         `mapstructure:"listen_addr"`
	WalletLockTTL      int            `mapstructure:"wallet_lock_ttl"` // seconds
	RateLimits         map[string]int `mapstructure:"rate_limits"`     // action -> calls per minute
	MaxBatchSize       int            `mapstructure:"max_batch_size"`
	MaxBatchRecipients int            `mapstructure:"max_batch_recipients"`
	FeeBufferLamports  uint64         `mapstructure:"fee_buffer_lamports"`
	ConfirmPollMs      int            `mapstructure:"confirm_poll_ms"`
	DebugLogging       bool           `mapstructure:"debug_logging"`
	LogFile            string         `mapstructure:"log_file"`
}

const (
	DefaultWalletLockTTL      = 300
	DefaultMaxBatchSize       = 20
	DefaultMaxBatchRecipients = 100
	DefaultFeeBufferLamports  = 5000
	DefaultConfirmPollMs      = 500
	DefaultListenAddr         = ":8080"
	DefaultLogFile            = "custody.log"
	DefaultRateLimit          = 10
)

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"wallet_lock_ttl":      DefaultWalletLockTTL,
		"max_batch_size":       DefaultMaxBatchSize,
		"max_batch_recipients": DefaultMaxBatchRecipients,
		"fee_buffer_lamports":  DefaultFeeBufferLamports,
		"confirm_poll_ms":      DefaultConfirmPollMs,
		"listen_addr":          DefaultListenAddr,
		"log_file":             DefaultLogFile,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := loadEnvironmentVariables(v, &cfg); err != nil {
		return nil, err
	}

	return &cfg, validateConfig(&cfg)
}

// RateLimit returns the per-minute cap for an action, falling back to the default.
func (c *Config) RateLimit(action string) int {
	if limit, ok := c.RateLimits[action]; ok && limit > 0 {
		return limit
	}
	return DefaultRateLimit
}

// LockTTL returns the wallet lease TTL as a duration.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.WalletLockTTL) * time.Second
}

// ConfirmPollInterval returns the confirmation polling interval as a duration.
func (c *Config) ConfirmPollInterval() time.Duration {
	return time.Duration(c.ConfirmPollMs) * time.Millisecond
}

func validateConfig(cfg *Config) error {
	if len(cfg.RPCList) == 0 {
		return errors.New("rpc_list is empty")
	}
	for _, rpcURL := range cfg.RPCList {
		if err := validateURL(rpcURL, "http"); err != nil {
			return errors.New("invalid RPC URL protocol")
		}
	}
	if cfg.SignerURL == "" {
		return errors.New("missing signer_url in configuration")
	}
	if err := validateURL(cfg.SignerURL, "http"); err != nil {
		return errors.New("invalid signer URL protocol")
	}
	return validateNumericParams(cfg)
}

func validateNumericParams(cfg *Config) error {
	if cfg.WalletLockTTL <= 0 {
		return errors.New("invalid wallet_lock_ttl")
	}
	if cfg.MaxBatchSize <= 0 {
		return errors.New("invalid max_batch_size")
	}
	if cfg.MaxBatchRecipients < cfg.MaxBatchSize {
		return errors.New("max_batch_recipients must be at least max_batch_size")
	}
	if cfg.ConfirmPollMs <= 0 {
		return errors.New("invalid confirm_poll_ms")
	}
	for action, limit := range cfg.RateLimits {
		if limit <= 0 {
			return errors.New("invalid rate limit for action " + action)
		}
	}
	return nil
}

func validateURL(rawURL string, protocol string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	return nil
}

func loadEnvironmentVariables(v *viper.Viper, cfg *Config) error {
	v.AutomaticEnv()
	v.SetEnvPrefix("SOLANA_CUSTODY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if envSignerToken := v.GetString("SIGNER_TOKEN"); envSignerToken != "" {
		cfg.SignerToken = envSignerToken
	}
	if envPostgres := v.GetString("POSTGRES_URL"); envPostgres != "" {
		cfg.PostgresURL = envPostgres
	}
	if envRedis := v.GetString("REDIS_ADDR"); envRedis != "" {
		cfg.RedisAddr = envRedis
	}

	envRPCList := v.GetString("RPC_LIST")
	if envRPCList != "" {
		rpcs := strings.Split(envRPCList, ",")
		var cleanRPCs []string
		for _, rpc := range rpcs {
			clean := strings.TrimSpace(rpc)
			if clean != "" {
				cleanRPCs = append(cleanRPCs, clean)
			}
		}
		if len(cleanRPCs) > 0 {
			cfg.RPCList = cleanRPCs
		}
	}
	return nil
}
