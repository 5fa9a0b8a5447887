package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. HERMIT_SERVER_ADDR.
const EnvPrefix = "HERMIT"

// Config holds service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Sandbox  SandboxConfig  `mapstructure:"sandbox"`
	Budget   BudgetConfig   `mapstructure:"budget"`
	Approval ApprovalConfig `mapstructure:"approval"`
	Calendar CalendarConfig `mapstructure:"calendar"`
	Chat     ChatConfig     `mapstructure:"chat"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig describes the PostgreSQL connection. URL wins over the
// individual fields.
type DatabaseConfig struct {
	URL           string `mapstructure:"url"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	Name          string `mapstructure:"name"`
	SSLMode       string `mapstructure:"sslmode"`
	MaxConns      int32  `mapstructure:"max_conns"`
	MinConns      int32  `mapstructure:"min_conns"`
	MigrationsDir string `mapstructure:"migrations_dir"`
}

type RedisConfig struct {
	Addr       string        `mapstructure:"addr"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	HistoryLen int           `mapstructure:"history_len"`
	HistoryTTL time.Duration `mapstructure:"history_ttl"`
}

type SandboxConfig struct {
	DockerHost      string        `mapstructure:"docker_host"`
	Network         string        `mapstructure:"network"`
	MemoryMB        int64         `mapstructure:"memory_mb"`
	CPUs            float64       `mapstructure:"cpus"`
	PidsLimit       int64         `mapstructure:"pids_limit"`
	Timeout         time.Duration `mapstructure:"timeout"`
	StopGrace       time.Duration `mapstructure:"stop_grace"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	OrchestratorURL string        `mapstructure:"orchestrator_url"`
}

type BudgetConfig struct {
	DefaultDailyLimit float64 `mapstructure:"default_daily_limit"`
	CostPerRun        float64 `mapstructure:"cost_per_run"`
	CostPer1KTokens   float64 `mapstructure:"cost_per_1k_tokens"`
}

type ApprovalConfig struct {
	// capped at sandbox.timeout
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// govaluate expression over agent, role, userId, message, messageLength
	RequireWhen string `mapstructure:"require_when"`
}

type CalendarConfig struct {
	WorkspaceRoot string        `mapstructure:"workspace_root"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	MaxParallel   int           `mapstructure:"max_parallel"`
	PoolSize      int           `mapstructure:"pool_size"`
}

type ChatConfig struct {
	BotToken      string        `mapstructure:"bot_token"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	BaseURL       string        `mapstructure:"base_url"`
	AllowedUsers  []int64       `mapstructure:"allowed_users"`
	DefaultAgent  string        `mapstructure:"default_agent"`
	HistoryLimit  int           `mapstructure:"history_limit"`
	DelegationTTL time.Duration `mapstructure:"delegation_ttl"`
	RatePerSec    float64       `mapstructure:"rate_per_sec"`
	Burst         int           `mapstructure:"burst"`
	Attempts      uint          `mapstructure:"attempts"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type AuditConfig struct {
	// hex encoded HMAC key; empty disables signing
	SigningKey string `mapstructure:"signing_key"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from path (or config.yaml in . and ./configs
// when path is empty), then HERMIT_* environment variables, then defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if cfg.Database.URL == "" {
		cfg.Database.URL = cfg.Database.DSN()
	}
	if _, err := cfg.Audit.Key(); err != nil {
		return nil, err
	}
	// a gated sandbox is killed at sandbox.timeout, so a decision after
	// that has nothing left to signal
	if cfg.Sandbox.Timeout > 0 && cfg.Approval.TTL > cfg.Sandbox.Timeout {
		cfg.Approval.TTL = cfg.Sandbox.Timeout
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 90*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.user", "hermit")
	v.SetDefault("database.password", "hermit_pass")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "hermit")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.migrations_dir", "internal/migrations")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.history_len", 20)
	v.SetDefault("redis.history_ttl", 7*24*time.Hour)

	v.SetDefault("sandbox.docker_host", "")
	v.SetDefault("sandbox.network", "hermit-sandbox")
	v.SetDefault("sandbox.memory_mb", 512)
	v.SetDefault("sandbox.cpus", 1.0)
	v.SetDefault("sandbox.pids_limit", 256)
	v.SetDefault("sandbox.timeout", 60*time.Second)
	v.SetDefault("sandbox.stop_grace", 2*time.Second)
	v.SetDefault("sandbox.max_tokens", 1000)
	v.SetDefault("sandbox.orchestrator_url", "http://172.17.0.1:8080")

	v.SetDefault("budget.default_daily_limit", 1.0)
	v.SetDefault("budget.cost_per_run", 0.001)
	v.SetDefault("budget.cost_per_1k_tokens", 0.002)

	v.SetDefault("approval.ttl", 10*time.Minute)
	v.SetDefault("approval.sweep_interval", time.Minute)
	v.SetDefault("approval.require_when", "")

	v.SetDefault("calendar.workspace_root", "data/workspaces")
	v.SetDefault("calendar.poll_interval", 30*time.Second)
	v.SetDefault("calendar.max_parallel", 4)
	v.SetDefault("calendar.pool_size", 2)

	v.SetDefault("chat.bot_token", "")
	v.SetDefault("chat.webhook_secret", "")
	v.SetDefault("chat.base_url", "https://api.telegram.org")
	v.SetDefault("chat.allowed_users", []int64{})
	v.SetDefault("chat.default_agent", "hermit")
	v.SetDefault("chat.history_limit", 10)
	v.SetDefault("chat.delegation_ttl", 10*time.Minute)
	v.SetDefault("chat.rate_per_sec", 25.0)
	v.SetDefault("chat.burst", 5)
	v.SetDefault("chat.attempts", 3)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "hermitshell")

	v.SetDefault("audit.signing_key", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// DSN builds a postgres URL from the individual fields.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.Name,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}

// MemoryBytes returns the sandbox memory ceiling.
func (s SandboxConfig) MemoryBytes() int64 {
	return s.MemoryMB * 1024 * 1024
}

// NanoCPUs returns the sandbox CPU ceiling in Docker units.
func (s SandboxConfig) NanoCPUs() int64 {
	return int64(s.CPUs * 1e9)
}

// Key decodes the signing key.
func (a AuditConfig) Key() ([]byte, error) {
	if a.SigningKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(a.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("audit.signing_key must be hex: %w", err)
	}
	return key, nil
}
