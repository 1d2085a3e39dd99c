package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Chain    ChainConfig
	Wallet   WalletConfig
	Transfer TransferConfig
	Database DatabaseConfig
	Log      LogConfig
	UI       UIConfig
	Serve    ServeConfig
}

// ChainConfig holds network settings.
type ChainConfig struct {
	Endpoint string
	Unit     string
	// Decimals overrides the chain's token decimals when > 0.
	Decimals      int
	SS58Format    uint16   `mapstructure:"ss58_format"`
	TransferCalls []string `mapstructure:"transfer_calls"`
}

// WalletConfig holds keystore settings.
type WalletConfig struct {
	KeystorePath  string `mapstructure:"keystore_path"`
	Origin        string
	PassphraseEnv string `mapstructure:"passphrase_env"`
}

// TransferConfig holds controller settings.
type TransferConfig struct {
	BalanceMode      string        `mapstructure:"balance_mode"`
	InclusionTimeout time.Duration `mapstructure:"inclusion_timeout"`
	BalanceRate      float64       `mapstructure:"balance_rate"`
	NearMissDistance int           `mapstructure:"near_miss_distance"`
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path    string
	Enabled bool
}

type LogConfig struct {
	Path  string
	Level string
}

// UIConfig holds presentation settings.
type UIConfig struct {
	Debounce time.Duration
	ToastTTL time.Duration `mapstructure:"toast_ttl"`
}

type ServeConfig struct {
	Addr string
}

// Passphrase returns the keystore passphrase from the configured env var.
func (c Config) Passphrase() string {
	if c.Wallet.PassphraseEnv == "" {
		return ""
	}
	return os.Getenv(c.Wallet.PassphraseEnv)
}

func dataDir() string {
	return filepath.Join(os.Getenv("HOME"), ".local", "share", "dotsend")
}

// Path returns the config file Load reads and Save writes.
func Path() string {
	if p := os.Getenv("DOTSEND_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(os.Getenv("HOME"), ".config", "dotsend", "config.toml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("chain.endpoint", "wss://blockchain.polkadex.trade")
	v.SetDefault("chain.unit", "DOT")
	v.SetDefault("chain.decimals", 0)
	v.SetDefault("chain.ss58_format", 42)
	v.SetDefault("chain.transfer_calls", []string{"Balances.transfer_allow_death", "Balances.transfer", "Balances.transfer_keep_alive"})
	v.SetDefault("wallet.keystore_path", filepath.Join(dataDir(), "keystore.json"))
	v.SetDefault("wallet.origin", "PolkaDot.JS Extension")
	v.SetDefault("wallet.passphrase_env", "DOTSEND_PASSPHRASE")
	v.SetDefault("transfer.balance_mode", "pull")
	v.SetDefault("transfer.inclusion_timeout", 2*time.Minute)
	v.SetDefault("transfer.balance_rate", 5.0)
	v.SetDefault("transfer.near_miss_distance", 3)
	v.SetDefault("database.path", filepath.Join(dataDir(), "dotsend.db"))
	v.SetDefault("database.enabled", true)
	v.SetDefault("log.path", filepath.Join(dataDir(), "dotsend.log"))
	v.SetDefault("log.level", "info")
	v.SetDefault("ui.debounce", 400*time.Millisecond)
	v.SetDefault("ui.toast_ttl", 4*time.Second)
	v.SetDefault("serve.addr", ":8080")
}

// Load reads configuration from file and env. Env var overrides use prefix DOTSEND_.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("toml")
	v.SetConfigFile(Path())

	v.SetEnvPrefix("DOTSEND")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil && !missing(err) {
		return Config{}, fmt.Errorf("read config %s: %w", Path(), err)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func missing(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}

// Validate rejects settings the rest of the program cannot work with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Chain.Endpoint) == "" {
		return fmt.Errorf("chain.endpoint is required")
	}
	switch c.Transfer.BalanceMode {
	case "pull", "push":
	default:
		return fmt.Errorf("transfer.balance_mode must be pull or push, got %q", c.Transfer.BalanceMode)
	}
	if c.Transfer.InclusionTimeout <= 0 {
		return fmt.Errorf("transfer.inclusion_timeout must be positive")
	}
	if c.Chain.Decimals < 0 {
		return fmt.Errorf("chain.decimals must not be negative")
	}
	return nil
}

// Save writes the provided config to disk, creating the config directory if needed.
func Save(cfg Config) error {
	path := Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("chain.endpoint", cfg.Chain.Endpoint)
	v.Set("chain.unit", cfg.Chain.Unit)
	v.Set("chain.decimals", cfg.Chain.Decimals)
	v.Set("chain.ss58_format", cfg.Chain.SS58Format)
	v.Set("chain.transfer_calls", cfg.Chain.TransferCalls)
	v.Set("wallet.keystore_path", cfg.Wallet.KeystorePath)
	v.Set("wallet.origin", cfg.Wallet.Origin)
	v.Set("wallet.passphrase_env", cfg.Wallet.PassphraseEnv)
	v.Set("transfer.balance_mode", cfg.Transfer.BalanceMode)
	v.Set("transfer.inclusion_timeout", cfg.Transfer.InclusionTimeout.String())
	v.Set("transfer.balance_rate", cfg.Transfer.BalanceRate)
	v.Set("transfer.near_miss_distance", cfg.Transfer.NearMissDistance)
	v.Set("database.path", cfg.Database.Path)
	v.Set("database.enabled", cfg.Database.Enabled)
	v.Set("log.path", cfg.Log.Path)
	v.Set("log.level", cfg.Log.Level)
	v.Set("ui.debounce", cfg.UI.Debounce.String())
	v.Set("ui.toast_ttl", cfg.UI.ToastTTL.String())
	v.Set("serve.addr", cfg.Serve.Addr)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
