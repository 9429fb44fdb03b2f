package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	Binance   BinanceConfig   `yaml:"binance"`
	State     StateConfig     `yaml:"state"`
	Sim       SimConfig       `yaml:"sim"`
	Server    ServerConfig    `yaml:"server"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Timescale TimescaleConfig `yaml:"timescale"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type BinanceConfig struct {
	RESTBaseURL    string        `yaml:"rest_base_url"`
	SpotWSBaseURL  string        `yaml:"spot_ws_base_url"`
	FuturesWSURL   string        `yaml:"futures_ws_base_url"`
	RESTTimeout    time.Duration `yaml:"rest_timeout"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type SimConfig struct {
	StartingBalance float64 `yaml:"starting_balance"`
	DefaultSymbol   string  `yaml:"default_symbol"`
	DefaultLeverage int     `yaml:"default_leverage"`
	MaxLeverage     int     `yaml:"max_leverage"`
	CandleInterval  string  `yaml:"candle_interval"`
	CandleHistory   int     `yaml:"candle_history"`
}

type ServerConfig struct {
	Addr          string `yaml:"addr"`
	AllowedOrigin string `yaml:"allowed_origin"`
	OrderViewCap  int    `yaml:"order_view_cap"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Binance.RESTBaseURL == "" {
		cfg.Binance.RESTBaseURL = "https://api.binance.com"
	}
	if cfg.Binance.SpotWSBaseURL == "" {
		cfg.Binance.SpotWSBaseURL = "wss://stream.binance.com:9443/ws"
	}
	if cfg.Binance.FuturesWSURL == "" {
		cfg.Binance.FuturesWSURL = "wss://fstream.binance.com/ws"
	}
	if cfg.Binance.RESTTimeout == 0 {
		cfg.Binance.RESTTimeout = 10 * time.Second
	}
	if cfg.Binance.ReconnectDelay == 0 {
		cfg.Binance.ReconnectDelay = 2 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/trade-sim.db"
	}
	if cfg.Sim.StartingBalance == 0 {
		cfg.Sim.StartingBalance = 2000
	}
	if cfg.Sim.DefaultSymbol == "" {
		cfg.Sim.DefaultSymbol = "SOLUSDT"
	}
	if cfg.Sim.DefaultLeverage == 0 {
		cfg.Sim.DefaultLeverage = 5
	}
	if cfg.Sim.MaxLeverage == 0 {
		cfg.Sim.MaxLeverage = 100
	}
	if cfg.Sim.CandleInterval == "" {
		cfg.Sim.CandleInterval = "1m"
	}
	if cfg.Sim.CandleHistory == 0 {
		cfg.Sim.CandleHistory = 500
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.OrderViewCap == 0 {
		cfg.Server.OrderViewCap = 50
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.Timescale.QueueSize == 0 {
		cfg.Timescale.QueueSize = 256
	}
}

func validate(cfg *Config) error {
	if cfg.Sim.StartingBalance < 0 {
		return errors.New("sim.starting_balance must be >= 0")
	}
	if cfg.Sim.DefaultLeverage < 1 {
		return errors.New("sim.default_leverage must be >= 1")
	}
	if cfg.Sim.DefaultLeverage > cfg.Sim.MaxLeverage {
		return errors.New("sim.default_leverage exceeds sim.max_leverage")
	}
	if cfg.Timescale.Enabled && cfg.Timescale.DSN == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	return nil
}
