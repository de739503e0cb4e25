package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envOf(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefaults(t *testing.T) {
	assert := assert.New(t)
	c := Default()
	assert.NoError(c.Validate())
	assert.Equal(":4000", c.Addr())
	assert.Equal(DefaultRPCURL, c.Ledger.RPCURL)
	assert.Equal([]string{"http://localhost:5173"}, c.HTTP.CORSOrigins)
	assert.EqualValues(500<<20, c.HTTP.MaxUpload)
	assert.Equal(60, c.HTTP.RateLimit)
	assert.False(c.Ledger.Faucet)
}

func TestLoadYAML(t *testing.T) {
	assert := assert.New(t)
	path := filepath.Join(t.TempDir(), "hashmark.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  port: 8080
  cors_origins: [https://a.example, https://b.example]
  shutdown_timeout: 3s
ledger:
  rpc_url: http://node:8545
  contract_address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
  read_retries: 4
  faucet: true
index:
  file: /var/lib/hashmark/index
  log_window: 500
log:
  format: json
  level: debug
`), 0600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(8080, c.HTTP.Port)
	assert.Equal([]string{"https://a.example", "https://b.example"}, c.HTTP.CORSOrigins)
	assert.Equal(3*time.Second, c.HTTP.ShutdownTimeout)
	assert.Equal("http://node:8545", c.Ledger.RPCURL)
	assert.Equal(common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"), c.Ledger.ContractAddress)
	assert.Equal(4, c.Ledger.ReadRetries)
	assert.True(c.Ledger.Faucet)
	assert.Equal("/var/lib/hashmark/index", c.Index.File)
	assert.EqualValues(500, c.Index.Window)
	assert.Equal("json", c.Log.Format)
	lvl, err := c.Log.Lvl()
	assert.NoError(err)
	assert.Equal(slog.LevelDebug, lvl)
	// Untouched sections keep their defaults.
	assert.EqualValues(DefaultMaxUpload, c.HTTP.MaxUpload)
}

func TestEnvOverrides(t *testing.T) {
	assert := assert.New(t)
	c := Default()
	require.NoError(t, c.ApplyEnv(envOf(map[string]string{
		"PORT":             "5000",
		"RPC_URL":          "http://rpc:8545",
		"CONTRACT_ADDRESS": "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		"PRIVATE_KEY":      "0x01",
		"CORS_ORIGIN":      "http://a.test, http://b.test ,",
		"FRONTEND_URL":     "https://hashmark.example/",
		"HASHMARK_FAUCET":  "true",
	})))
	assert.Equal(5000, c.HTTP.Port)
	assert.Equal("http://rpc:8545", c.Ledger.RPCURL)
	assert.Equal("0x01", c.Wallet.PrivateKey)
	assert.Equal([]string{"http://a.test", "http://b.test"}, c.HTTP.CORSOrigins)
	assert.Equal("https://hashmark.example/", c.HTTP.FrontendURL)
	assert.True(c.Ledger.Faucet)
	assert.NoError(c.Validate())
}

func TestPrefixedEnvWins(t *testing.T) {
	c := Default()
	require.NoError(t, c.ApplyEnv(envOf(map[string]string{"PORT": "5000", "HASHMARK_PORT": "6000"})))
	assert.Equal(t, 6000, c.HTTP.Port)
}

func TestEnvErrors(t *testing.T) {
	assert := assert.New(t)
	assert.Error(Default().ApplyEnv(envOf(map[string]string{"PORT": "http"})))
	assert.Error(Default().ApplyEnv(envOf(map[string]string{"CONTRACT_ADDRESS": "0x123"})))
	assert.Error(Default().ApplyEnv(envOf(map[string]string{"HASHMARK_FAUCET": "maybe"})))
}

func TestValidate(t *testing.T) {
	assert := assert.New(t)
	for name, mutate := range map[string]func(*Config){
		"port":           func(c *Config) { c.HTTP.Port = 70000 },
		"rate":           func(c *Config) { c.HTTP.RateLimit = -1 },
		"rpc":            func(c *Config) { c.Ledger.RPCURL = "" },
		"log format":     func(c *Config) { c.Log.Format = "xml" },
		"log level":      func(c *Config) { c.Log.Level = "loud" },
		"keystore":       func(c *Config) { c.Wallet.KeystoreDir = "/keys" },
		"two signers":    func(c *Config) { c.Wallet.PrivateKey, c.Wallet.KeystoreDir, c.Wallet.Account = "0x01", "/keys", common.Address{1} },
		"upload ceiling": func(c *Config) { c.HTTP.MaxUpload = 0 },
	} {
		c := Default()
		mutate(c)
		assert.Error(c.Validate(), name)
	}
}

func TestLogLevels(t *testing.T) {
	assert := assert.New(t)
	for in, want := range map[string]slog.Level{
		"trace": log.LevelTrace,
		"DEBUG": log.LevelDebug,
		"":      log.LevelInfo,
		"warn":  log.LevelWarn,
		"error": log.LevelError,
		"crit":  log.LevelCrit,
		"5":     log.LevelTrace,
		"3":     log.LevelInfo,
		"0":     log.LevelCrit,
	} {
		lvl, err := LogConfig{Level: in}.Lvl()
		assert.NoError(err, in)
		assert.Equal(want, lvl, in)
	}
	for _, in := range []string{"loud", "6", "-1"} {
		_, err := LogConfig{Level: in}.Lvl()
		assert.Error(err, in)
	}
}

func TestLoadDotEnv(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("HASHMARK_TEST_DOTENV=from-file\n"), 0600))
	t.Setenv("HASHMARK_TEST_DOTENV", "")
	os.Unsetenv("HASHMARK_TEST_DOTENV")

	assert.NoError(LoadDotEnv(filepath.Join(dir, "missing.env"), path))
	assert.Equal("from-file", os.Getenv("HASHMARK_TEST_DOTENV"))
}
