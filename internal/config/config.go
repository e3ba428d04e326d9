package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	Price     PriceConfig     `yaml:"price"`
	Simulator SimulatorConfig `yaml:"simulator"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	Throttle        time.Duration `yaml:"throttle"` // minimum gap between requests of one user
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StorageConfig struct {
	Driver      string `yaml:"driver"` // memory, postgres or sqlite
	PostgresURL string `yaml:"postgres_url"`
	SQLitePath  string `yaml:"sqlite_path"`
}

// RedisConfig enables the session cache when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type PriceConfig struct {
	Providers     []string      `yaml:"providers"` // jupiter-price, jupiter-quote
	Timeout       time.Duration `yaml:"timeout"`
	QuoteMint     string        `yaml:"quote_mint"`
	PriceURL      string        `yaml:"price_url"`
	QuoteURL      string        `yaml:"quote_url"`
	QuoteAmount   float64       `yaml:"quote_amount"`
	BaseDecimals  int32         `yaml:"base_decimals"`
	QuoteDecimals int32         `yaml:"quote_decimals"`
	SlippageBps   int           `yaml:"slippage_bps"`
	Walk          WalkConfig    `yaml:"walk"`
}

type WalkConfig struct {
	Base float64 `yaml:"base"`
	Step float64 `yaml:"step"`
	Min  float64 `yaml:"min"`
	Max  float64 `yaml:"max"`
	Seed int64   `yaml:"seed"`
}

type SimulatorConfig struct {
	TickInterval    time.Duration `yaml:"tick_interval"`
	Cooldown        time.Duration `yaml:"cooldown"`
	BuyThreshold    float64       `yaml:"buy_threshold"`
	SellThreshold   float64       `yaml:"sell_threshold"`
	SellFraction    float64       `yaml:"sell_fraction"`
	MinQuote        float64       `yaml:"min_quote"`
	MinBase         float64       `yaml:"min_base"`
	DefaultRisk     float64       `yaml:"default_risk"`
	DefaultSlippage float64       `yaml:"default_slippage"`
	MaxDailyLoss    float64       `yaml:"max_daily_loss"`
	TradeListLimit  int           `yaml:"trade_list_limit"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			GRPCAddr:        ":9090",
			Throttle:        100 * time.Millisecond,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Driver:     "memory",
			SQLitePath: "solbot.db",
		},
		Redis: RedisConfig{
			TTL: 24 * time.Hour,
		},
		Price: PriceConfig{
			Timeout:       2 * time.Second,
			QuoteMint:     "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
			QuoteAmount:   0.01,
			BaseDecimals:  9,
			QuoteDecimals: 6,
			SlippageBps:   50,
			Walk: WalkConfig{
				Base: 150,
				Step: 4,
				Min:  120,
				Max:  180,
			},
		},
		Simulator: SimulatorConfig{
			TickInterval:    5 * time.Second,
			BuyThreshold:    -1.5,
			SellThreshold:   2.0,
			SellFraction:    0.3,
			MinQuote:        1,
			MinBase:         0.001,
			DefaultRisk:     1,
			DefaultSlippage: 0.5,
			TradeListLimit:  100,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads an optional .env, then the YAML file at path over the
// defaults (skipped when path is empty), then SOLBOT_* variables.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(name)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = d
		return nil
	}

	str("SOLBOT_HTTP_ADDR", &c.Server.HTTPAddr)
	str("SOLBOT_GRPC_ADDR", &c.Server.GRPCAddr)
	str("SOLBOT_STORAGE", &c.Storage.Driver)
	str("SOLBOT_POSTGRES_URL", &c.Storage.PostgresURL)
	str("SOLBOT_SQLITE_PATH", &c.Storage.SQLitePath)
	str("SOLBOT_REDIS_ADDR", &c.Redis.Addr)
	str("SOLBOT_REDIS_PASSWORD", &c.Redis.Password)
	str("SOLBOT_LOG_LEVEL", &c.Log.Level)
	str("SOLBOT_LOG_FORMAT", &c.Log.Format)
	if v, ok := lookup("SOLBOT_PRICE_PROVIDERS"); ok {
		c.Price.Providers = splitList(v)
	}
	if v, ok := lookup("SOLBOT_WALK_SEED"); ok {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("SOLBOT_WALK_SEED: %w", err)
		}
		c.Price.Walk.Seed = seed
	}
	if err := dur("SOLBOT_TICK_INTERVAL", &c.Simulator.TickInterval); err != nil {
		return err
	}
	return dur("SOLBOT_COOLDOWN", &c.Simulator.Cooldown)
}

func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("storage.postgres_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	for _, p := range c.Price.Providers {
		if p != "jupiter-price" && p != "jupiter-quote" {
			return fmt.Errorf("unknown price provider %q", p)
		}
	}
	if c.Price.Timeout <= 0 {
		return fmt.Errorf("price.timeout must be > 0")
	}
	w := c.Price.Walk
	if w.Min <= 0 || w.Max < w.Min || w.Base < w.Min || w.Base > w.Max {
		return fmt.Errorf("price.walk needs 0 < min <= base <= max")
	}
	if w.Step < 0 {
		return fmt.Errorf("price.walk.step must be >= 0")
	}
	s := c.Simulator
	if s.TickInterval < 0 || s.Cooldown < 0 {
		return fmt.Errorf("simulator durations must be >= 0")
	}
	if s.BuyThreshold > s.SellThreshold {
		return fmt.Errorf("simulator.buy_threshold must not exceed sell_threshold")
	}
	if s.SellFraction <= 0 || s.SellFraction > 1 {
		return fmt.Errorf("simulator.sell_fraction must be in (0, 1]")
	}
	if s.DefaultRisk <= 0 || s.DefaultRisk > 100 {
		return fmt.Errorf("simulator.default_risk must be in (0, 100]")
	}
	if s.DefaultSlippage < 0 || s.DefaultSlippage >= 100 {
		return fmt.Errorf("simulator.default_slippage must be in [0, 100)")
	}
	if s.MaxDailyLoss < 0 {
		return fmt.Errorf("simulator.max_daily_loss must be >= 0")
	}
	if s.TradeListLimit <= 0 {
		return fmt.Errorf("simulator.trade_list_limit must be > 0")
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
