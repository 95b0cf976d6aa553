package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// EnvPath names the environment variable holding the config file path.
const EnvPath = "WALLETPLUGINS_CONFIG"

// Config describes everything walletd needs at startup.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Storage    StorageConfig    `json:"storage"`
	Events     EventsConfig     `json:"events"`
	Web3       Web3Config       `json:"web3"`
	Deployment DeploymentConfig `json:"deployment"`
	Logging    LoggingConfig    `json:"logging"`
	Router     RouterConfig     `json:"router"`
	Alerting   AlertingConfig   `json:"alerting"`
	Runtime    RuntimeConfig    `json:"runtime"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Address         string   `json:"address"`
	ShutdownTimeout Duration `json:"shutdown_timeout"`
	// OperatorSecret signs operator tokens for account creation and resume.
	// Empty disables operator endpoints.
	OperatorSecret string `json:"operator_secret"`
}

// StorageConfig selects the account and registry backends.
type StorageConfig struct {
	// Driver is one of memory, redis or mysql.
	Driver string      `json:"driver"`
	MySQL  MySQLConfig `json:"mysql"`
	Redis  RedisConfig `json:"redis"`
}

// MySQLConfig mirrors the pool settings of the mysql storage package.
type MySQLConfig struct {
	DSN             string   `json:"dsn"`
	MaxOpenConns    int      `json:"max_open_conns"`
	MaxIdleConns    int      `json:"max_idle_conns"`
	ConnMaxLifetime Duration `json:"conn_max_lifetime"`
}

// RedisConfig describes the Redis connection.
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// EventsConfig selects where verdict events are published.
type EventsConfig struct {
	// Driver is one of none, memory, rabbitmq or watermill.
	Driver   string         `json:"driver"`
	Topic    string         `json:"topic"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
	Redis    RedisConfig    `json:"redis"`
}

// RabbitMQConfig describes the broker connection.
type RabbitMQConfig struct {
	URL      string `json:"url"`
	Exchange string `json:"exchange"`
}

// Web3Config points at the execution ledger.
type Web3Config struct {
	RPCURL       string `json:"rpc_url"`
	ChainConfig  string `json:"chain_config"`
	DefaultChain string `json:"default_chain"`
	// DeployerKeyEnv names the environment variable holding the hex deployer key.
	DeployerKeyEnv string   `json:"deployer_key_env"`
	ReceiptPoll    Duration `json:"receipt_poll"`
	ChainID        int64    `json:"chain_id"`
}

// DeploymentConfig drives the deployment coordinator.
type DeploymentConfig struct {
	ArtifactsDir string `json:"artifacts_dir"`
	Factory      string `json:"factory"`
	Salt         string `json:"salt"`
	Manifest     string `json:"manifest"`
}

// LoggingConfig configures pkg/logger.
type LoggingConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"`
	AuditFile  string `json:"audit_file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// RouterConfig tunes the authorization router.
type RouterConfig struct {
	// HaltOnConfigurationError stops automated submissions for an account
	// after a CONFIGURATION_ERROR until an operator resumes it.
	HaltOnConfigurationError *bool `json:"halt_on_configuration_error"`
}

// AlertingConfig lists alert sinks besides the error log.
type AlertingConfig struct {
	WebhookURL string   `json:"webhook_url"`
	Timeout    Duration `json:"timeout"`
}

// RuntimeConfig holds process-wide paths.
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Duration decodes "1s"-style strings as well as integer nanoseconds.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(raw []byte) error {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return fmt.Errorf("invalid duration %s", string(raw))
	}
	*d = Duration(n)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the value as time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load parses the JSON configuration at path.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults(".")
	return &cfg
}

// Validate rejects unknown drivers.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "redis", "mysql":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Events.Driver {
	case "none", "memory", "rabbitmq", "watermill":
	default:
		return fmt.Errorf("unknown events driver %q", c.Events.Driver)
	}
	if c.Storage.Driver == "mysql" && strings.TrimSpace(c.Storage.MySQL.DSN) == "" {
		return errors.New("storage.mysql.dsn is required for the mysql driver")
	}
	if c.Storage.Driver == "redis" && strings.TrimSpace(c.Storage.Redis.Address) == "" {
		return errors.New("storage.redis.address is required for the redis driver")
	}
	return nil
}

// HaltOnConfigurationError reports the effective router setting.
func (c *Config) HaltOnConfigurationError() bool {
	if c.Router.HaltOnConfigurationError == nil {
		return true
	}
	return *c.Router.HaltOnConfigurationError
}

// applyDefaults fills fields the operator left empty.
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	c.Storage.Driver = strings.ToLower(c.Storage.Driver)

	if c.Events.Driver == "" {
		c.Events.Driver = "none"
	}
	c.Events.Driver = strings.ToLower(c.Events.Driver)
	if c.Events.Topic == "" {
		c.Events.Topic = "wallet.verdicts"
	}
	if c.Events.RabbitMQ.Exchange == "" {
		c.Events.RabbitMQ.Exchange = "walletplugins"
	}

	if c.Web3.DeployerKeyEnv == "" {
		c.Web3.DeployerKeyEnv = "WALLETPLUGINS_DEPLOYER_KEY"
	}
	if c.Web3.ReceiptPoll == 0 {
		c.Web3.ReceiptPoll = Duration(time.Second)
	}
	if c.Web3.ChainID == 0 {
		c.Web3.ChainID = 1337
	}

	if c.Alerting.Timeout == 0 {
		c.Alerting.Timeout = Duration(5 * time.Second)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
	c.Web3.ChainConfig = resolve(baseDir, c.Web3.ChainConfig)
	c.Deployment.ArtifactsDir = resolve(baseDir, c.Deployment.ArtifactsDir)
	c.Deployment.Manifest = resolve(baseDir, c.Deployment.Manifest)
	if c.Logging.AuditFile != "" {
		c.Logging.AuditFile = resolve(baseDir, c.Logging.AuditFile)
	}
}

func resolve(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
