// Package config loads node configuration from a YAML file, a .env file and
// the environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hashmark-protocol/hashmark/hashmark/index"
	"github.com/hashmark-protocol/hashmark/hashmark/ledger"
)

const (
	DefaultPort        = 4000
	DefaultRPCURL      = "http://127.0.0.1:8545"
	DefaultOrigin      = "http://localhost:5173"
	DefaultMaxUpload   = 500 << 20
	DefaultRatePerMin  = 60
	DefaultQRCacheSize = 8 << 20
)

type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	Ledger  ledger.Config `yaml:"ledger"`
	Index   index.Config  `yaml:"index"`
	Wallet  WalletConfig  `yaml:"wallet"`
	Journal JournalConfig `yaml:"journal"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type HTTPConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	// FrontendURL is the origin verification links point at.
	FrontendURL string `yaml:"frontend_url"`
	MaxUpload   int64  `yaml:"max_upload"`
	// RateLimit is requests per minute per client. Zero disables limiting.
	RateLimit       int           `yaml:"rate_limit"`
	RateClients     int           `yaml:"rate_clients"`
	QRCacheSize     int           `yaml:"qr_cache_size"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// WalletConfig selects the server signer: a raw key, or an account in a
// keystore directory. Neither means client-side signing only.
type WalletConfig struct {
	PrivateKey   string         `yaml:"private_key"`
	KeystoreDir  string         `yaml:"keystore_dir"`
	Account      common.Address `yaml:"account"`
	PasswordFile string         `yaml:"password_file"`
}

type JournalConfig struct {
	File string `yaml:"file"`
}

type LogConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	// Addr serves /debug/metrics when set.
	Addr        string        `yaml:"addr"`
	LogInterval time.Duration `yaml:"log_interval"`
}

func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:            DefaultPort,
			CORSOrigins:     []string{DefaultOrigin},
			FrontendURL:     DefaultOrigin,
			MaxUpload:       DefaultMaxUpload,
			RateLimit:       DefaultRatePerMin,
			RateClients:     4096,
			QRCacheSize:     DefaultQRCacheSize,
			ShutdownTimeout: 10 * time.Second,
		},
		Ledger: ledger.Config{
			RPCURL:       DefaultRPCURL,
			ReadRetries:  2,
			RetryBackoff: 500 * time.Millisecond,
		},
		Index: index.Config{Window: index.DefaultWindow},
		Log:   LogConfig{Format: "terminal", Level: "info"},
	}
}

// Load reads path (optional), applies the environment and validates the
// result.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config load: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("config unmarshal: %w", err)
		}
	}
	if err := c.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadDotEnv sets variables from the given .env files without overriding
// ones already present. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("dotenv %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides c from the environment. The unprefixed names are the
// ones deployment scripts already write.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	env := func(names ...string) string {
		for _, n := range names {
			if v := getenv(n); v != "" {
				return v
			}
		}
		return ""
	}
	if v := env("HASHMARK_PORT", "PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config env PORT: %w", err)
		}
		c.HTTP.Port = n
	}
	if v := env("HASHMARK_HOST"); v != "" {
		c.HTTP.Host = v
	}
	if v := env("HASHMARK_CORS_ORIGIN", "CORS_ORIGIN"); v != "" {
		c.HTTP.CORSOrigins = splitList(v)
	}
	if v := env("HASHMARK_FRONTEND_URL", "FRONTEND_URL"); v != "" {
		c.HTTP.FrontendURL = v
	}
	if v := env("HASHMARK_RATE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config env HASHMARK_RATE_LIMIT: %w", err)
		}
		c.HTTP.RateLimit = n
	}
	if v := env("HASHMARK_RPC_URL", "RPC_URL"); v != "" {
		c.Ledger.RPCURL = v
	}
	if v := env("HASHMARK_CONTRACT_ADDRESS", "CONTRACT_ADDRESS"); v != "" {
		if !common.IsHexAddress(v) {
			return fmt.Errorf("config env CONTRACT_ADDRESS: invalid address %q", v)
		}
		c.Ledger.ContractAddress = common.HexToAddress(v)
	}
	if v := env("HASHMARK_ABI_PATH"); v != "" {
		c.Ledger.ABIPath = v
	}
	if v := env("HASHMARK_FAUCET"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config env HASHMARK_FAUCET: %w", err)
		}
		c.Ledger.Faucet = b
	}
	if v := env("HASHMARK_PRIVATE_KEY", "PRIVATE_KEY"); v != "" {
		c.Wallet.PrivateKey = v
	}
	if v := env("HASHMARK_KEYSTORE"); v != "" {
		c.Wallet.KeystoreDir = v
	}
	if v := env("HASHMARK_INDEX_FILE"); v != "" {
		c.Index.File = v
	}
	if v := env("HASHMARK_JOURNAL_FILE"); v != "" {
		c.Journal.File = v
	}
	if v := env("HASHMARK_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := env("HASHMARK_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	return nil
}

func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.HTTP.Port)
	}
	if c.HTTP.RateLimit < 0 {
		return fmt.Errorf("config: negative rate limit %d", c.HTTP.RateLimit)
	}
	if c.HTTP.MaxUpload <= 0 {
		return fmt.Errorf("config: max upload must be positive")
	}
	if c.Ledger.RPCURL == "" {
		return errors.New("config: ledger rpc_url is required")
	}
	if c.Wallet.KeystoreDir != "" && c.Wallet.Account == (common.Address{}) {
		return errors.New("config: wallet keystore_dir requires account")
	}
	if c.Wallet.PrivateKey != "" && c.Wallet.KeystoreDir != "" {
		return errors.New("config: wallet private_key and keystore_dir are exclusive")
	}
	switch c.Log.Format {
	case "terminal", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	if _, err := c.Log.Lvl(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.HTTP.Host, strconv.Itoa(c.HTTP.Port))
}

// Lvl parses Level as a name (trace, debug, info, warn, error, crit) or a
// geth verbosity number (0 crit through 5 trace).
func (l LogConfig) Lvl() (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(l.Level)) {
	case "trace", "trce":
		return log.LevelTrace, nil
	case "debug", "dbug":
		return log.LevelDebug, nil
	case "info", "":
		return log.LevelInfo, nil
	case "warn", "warning":
		return log.LevelWarn, nil
	case "error", "eror":
		return log.LevelError, nil
	case "crit":
		return log.LevelCrit, nil
	}
	if n, err := strconv.Atoi(l.Level); err == nil && n >= 0 && n <= 5 {
		return log.FromLegacyLevel(n), nil
	}
	return log.LevelInfo, fmt.Errorf("unknown log level %q", l.Level)
}

func splitList(s string) (ret []string) {
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ret = append(ret, part)
		}
	}
	return
}
