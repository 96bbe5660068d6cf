package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/updown/ledger"
	"github.com/rustyeddy/updown/policy"
)

// Config represents the complete bot configuration
type Config struct {
	Account  AccountConfig  `json:"account" yaml:"account"`
	Trading  TradingConfig  `json:"trading" yaml:"trading"`
	Feed     FeedConfig     `json:"feed" yaml:"feed"`
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	Health   HealthConfig   `json:"health" yaml:"health"`
	Journal  JournalConfig  `json:"journal" yaml:"journal"`
	Log      LogConfig      `json:"log" yaml:"log"`
}

// AccountConfig contains the paper account's starting point
type AccountConfig struct {
	InitialBalance float64 `json:"initial_balance" yaml:"initial_balance"`
}

// TradingConfig contains entry and exit parameters. Prices are YES prices
// in (0,1); a NO position uses their complement.
type TradingConfig struct {
	PositionSize       float64 `json:"position_size" yaml:"position_size"`
	MaxPositions       int     `json:"max_positions" yaml:"max_positions"`
	EntryPrice         float64 `json:"entry_price" yaml:"entry_price"`
	EntryTolerance     float64 `json:"entry_tolerance" yaml:"entry_tolerance"`
	StopLoss           float64 `json:"stop_loss" yaml:"stop_loss"`     // 0 disables
	TakeProfit         float64 `json:"take_profit" yaml:"take_profit"` // 0 disables
	EntryWindowSeconds float64 `json:"entry_window_seconds" yaml:"entry_window_seconds"`
}

// EntryWindow is how close to resolution entries are allowed.
func (t TradingConfig) EntryWindow() time.Duration {
	return seconds(t.EntryWindowSeconds)
}

// FeedConfig contains the market-data connection parameters
type FeedConfig struct {
	URL                      string  `json:"url" yaml:"url"`
	ReconnectBackoffSeconds  float64 `json:"reconnect_backoff_seconds" yaml:"reconnect_backoff_seconds"`
	DiscoveryURL             string  `json:"discovery_url" yaml:"discovery_url"`
	SlugPrefix               string  `json:"slug_prefix" yaml:"slug_prefix"`
	DiscoveryIntervalSeconds float64 `json:"discovery_interval_seconds" yaml:"discovery_interval_seconds"`
	DiscoveryRatePerMinute   int     `json:"discovery_rate_per_minute" yaml:"discovery_rate_per_minute"`
}

func (f FeedConfig) ReconnectBackoff() time.Duration {
	return seconds(f.ReconnectBackoffSeconds)
}

func (f FeedConfig) DiscoveryInterval() time.Duration {
	return seconds(f.DiscoveryIntervalSeconds)
}

// TelegramConfig contains the command interface parameters. No token
// disables the bot.
type TelegramConfig struct {
	Token        string  `json:"token,omitempty" yaml:"token,omitempty"`
	AllowedUsers []int64 `json:"allowed_users,omitempty" yaml:"allowed_users,omitempty"`
}

type HealthConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// JournalConfig contains journaling parameters
type JournalConfig struct {
	Type       string `json:"type" yaml:"type"` // "none", "csv" or "sqlite"
	TradesFile string `json:"trades_file,omitempty" yaml:"trades_file,omitempty"`
	EquityFile string `json:"equity_file,omitempty" yaml:"equity_file,omitempty"`
	DBPath     string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Pretty bool   `json:"pretty" yaml:"pretty"`
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// LedgerConfig returns the account parameters for the ledger
func (c *Config) LedgerConfig() ledger.Config {
	return ledger.Config{
		InitialBalance: c.Account.InitialBalance,
		MaxPositions:   c.Trading.MaxPositions,
	}
}

// PolicyConfig returns the entry/exit parameters for the policy
func (c *Config) PolicyConfig() policy.Config {
	return policy.Config{
		PositionSize: c.Trading.PositionSize,
		TargetPrice:  c.Trading.EntryPrice,
		Tolerance:    c.Trading.EntryTolerance,
		StopLoss:     c.Trading.StopLoss,
		TakeProfit:   c.Trading.TakeProfit,
		EntryWindow:  c.Trading.EntryWindow(),
		MaxPositions: c.Trading.MaxPositions,
	}
}

// LoadFromFile loads configuration from a file (YAML, falling back to JSON).
// Fields missing from the file keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		cfg = Default()
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Load reads path (defaults when empty), applies the environment and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays TELEGRAM_TOKEN, ALLOWED_USERS, PORT and LOG_LEVEL.
func ApplyEnv(cfg *Config) error {
	v := viper.New()
	v.AutomaticEnv()

	if s := v.GetString("TELEGRAM_TOKEN"); s != "" {
		cfg.Telegram.Token = s
	}
	if s := v.GetString("ALLOWED_USERS"); s != "" {
		ids, err := ParseUserIDs(s)
		if err != nil {
			return fmt.Errorf("ALLOWED_USERS: %w", err)
		}
		cfg.Telegram.AllowedUsers = ids
	}
	if s := v.GetString("PORT"); s != "" {
		if _, err := strconv.Atoi(s); err != nil {
			return fmt.Errorf("PORT: %q is not a port number", s)
		}
		cfg.Health.Addr = ":" + s
	}
	if s := v.GetString("LOG_LEVEL"); s != "" {
		cfg.Log.Level = s
	}
	return nil
}

// ParseUserIDs parses a comma-separated list of Telegram user ids.
func ParseUserIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad user id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	// Determine format by extension
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}

	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Account.InitialBalance <= 0 {
		return fmt.Errorf("account.initial_balance must be positive")
	}

	t := c.Trading
	if t.PositionSize <= 0 {
		return fmt.Errorf("trading.position_size must be positive")
	}
	if t.PositionSize > c.Account.InitialBalance {
		return fmt.Errorf("trading.position_size exceeds account.initial_balance")
	}
	if t.MaxPositions < 1 {
		return fmt.Errorf("trading.max_positions must be at least 1")
	}
	if t.EntryPrice <= 0 || t.EntryPrice >= 1 {
		return fmt.Errorf("trading.entry_price must be between 0 and 1")
	}
	if t.EntryTolerance < 0 {
		return fmt.Errorf("trading.entry_tolerance must not be negative")
	}
	if t.StopLoss < 0 || t.StopLoss >= 1 {
		return fmt.Errorf("trading.stop_loss must be in [0,1)")
	}
	if t.TakeProfit < 0 || t.TakeProfit >= 1 {
		return fmt.Errorf("trading.take_profit must be in [0,1)")
	}
	if t.StopLoss > 0 && t.TakeProfit > 0 && t.StopLoss >= t.TakeProfit {
		return fmt.Errorf("trading.stop_loss must be below trading.take_profit")
	}
	if t.EntryWindowSeconds <= 0 || t.EntryWindowSeconds > 300 {
		return fmt.Errorf("trading.entry_window_seconds must be in (0,300]")
	}

	f := c.Feed
	if !strings.HasPrefix(f.URL, "ws://") && !strings.HasPrefix(f.URL, "wss://") {
		return fmt.Errorf("feed.url must be a ws:// or wss:// url")
	}
	if f.ReconnectBackoffSeconds <= 0 {
		return fmt.Errorf("feed.reconnect_backoff_seconds must be positive")
	}
	if f.DiscoveryIntervalSeconds < 0 {
		return fmt.Errorf("feed.discovery_interval_seconds must not be negative")
	}
	if f.DiscoveryRatePerMinute < 0 {
		return fmt.Errorf("feed.discovery_rate_per_minute must not be negative")
	}

	switch c.Journal.Type {
	case "", "none":
	case "csv":
		if c.Journal.TradesFile == "" || c.Journal.EquityFile == "" {
			return fmt.Errorf("journal trades_file and equity_file required for CSV type")
		}
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal db_path required for SQLite type")
		}
	default:
		return fmt.Errorf("journal.type must be 'none', 'csv' or 'sqlite'")
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log.level %q", c.Log.Level)
	}
	return nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Account: AccountConfig{
			InitialBalance: 100,
		},
		Trading: TradingConfig{
			PositionSize:       5,
			MaxPositions:       2,
			EntryPrice:         0.85,
			EntryTolerance:     0.002,
			StopLoss:           0.75,
			TakeProfit:         0.95,
			EntryWindowSeconds: 60,
		},
		Feed: FeedConfig{
			URL:                      "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			ReconnectBackoffSeconds:  5,
			DiscoveryURL:             "https://gamma-api.polymarket.com",
			SlugPrefix:               "btc-updown-5m",
			DiscoveryIntervalSeconds: 15,
			DiscoveryRatePerMinute:   30,
		},
		Health: HealthConfig{
			Addr: ":5000",
		},
		Journal: JournalConfig{
			Type: "none",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
