package config

import (
	"os"

	"gopkg.in/yaml.v2"
)

// Config is the one-time-loaded service configuration. Every engine reads its
// bounds from here; there is no hidden global state.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Events    EventsConfig    `yaml:"events"`
	Registry  RegistryConfig  `yaml:"registry"`
	Market    MarketConfig    `yaml:"market"`
	Evolution EvolutionConfig `yaml:"evolution"`
	ExecHub   ExecHubConfig   `yaml:"exec_hub"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

// StoreConfig selects the keyed-store backend: "memory", "redis" or "postgres".
type StoreConfig struct {
	Backend  string         `yaml:"backend"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type PostgresConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

// EventsConfig selects the event bus backend: "memory" or "pubsub".
type EventsConfig struct {
	Backend   string `yaml:"backend"`
	ProjectID string `yaml:"project_id"`
	TopicID   string `yaml:"topic_id"`
}

type RegistryConfig struct {
	Admin   string   `yaml:"admin"`
	Minters []string `yaml:"minters"`
}

type MarketConfig struct {
	Admin           string `yaml:"admin"`
	PriceUpperBound int64  `yaml:"price_upper_bound"`
	MaxDurationDays uint64 `yaml:"max_duration_days"`
}

type EvolutionConfig struct {
	Admin           string `yaml:"admin"`
	StakeToken      string `yaml:"stake_token"`
	MinStake        int64  `yaml:"min_stake"`
	CooldownSeconds uint64 `yaml:"cooldown_seconds"`
	StakeUpperBound int64  `yaml:"stake_upper_bound"`
}

type ExecHubConfig struct {
	Admin         string `yaml:"admin"`
	WindowSeconds uint64 `yaml:"window_seconds"`
	MaxOperations uint32 `yaml:"max_operations"`
}

// Default returns the configuration used when no file is provided.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080", Env: "development"},
		Store:  StoreConfig{Backend: "memory"},
		Events: EventsConfig{Backend: "memory"},
		Market: MarketConfig{
			PriceUpperBound: 100_000_000_000,
			MaxDurationDays: 36500,
		},
		Evolution: EvolutionConfig{
			MinStake:        100,
			CooldownSeconds: 3600,
			StakeUpperBound: 100_000_000_000,
		},
		ExecHub: ExecHubConfig{
			WindowSeconds: 60,
			MaxOperations: 100,
		},
	}
}

// Load reads a YAML config file, filling unset engine bounds with defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := Default()
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Server.Port == "" {
		c.Server.Port = d.Server.Port
	}
	if c.Store.Backend == "" {
		c.Store.Backend = d.Store.Backend
	}
	if c.Events.Backend == "" {
		c.Events.Backend = d.Events.Backend
	}
	if c.Market.PriceUpperBound == 0 {
		c.Market.PriceUpperBound = d.Market.PriceUpperBound
	}
	if c.Market.MaxDurationDays == 0 {
		c.Market.MaxDurationDays = d.Market.MaxDurationDays
	}
	if c.Evolution.MinStake == 0 {
		c.Evolution.MinStake = d.Evolution.MinStake
	}
	if c.Evolution.CooldownSeconds == 0 {
		c.Evolution.CooldownSeconds = d.Evolution.CooldownSeconds
	}
	if c.Evolution.StakeUpperBound == 0 {
		c.Evolution.StakeUpperBound = d.Evolution.StakeUpperBound
	}
	if c.ExecHub.WindowSeconds == 0 {
		c.ExecHub.WindowSeconds = d.ExecHub.WindowSeconds
	}
	if c.ExecHub.MaxOperations == 0 {
		c.ExecHub.MaxOperations = d.ExecHub.MaxOperations
	}
}
