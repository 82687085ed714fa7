package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for both services.
type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Chain  ChainConfig  `mapstructure:"chain"`
	Kafka  KafkaConfig  `mapstructure:"kafka"`
	Logger LoggerConfig `mapstructure:"logger"`
}

type AppConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"` // e.g., "local", "prod"
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ChainConfig struct {
	WsURL          string        `mapstructure:"ws_url"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	QueryTimeout   time.Duration `mapstructure:"query_timeout"`
}

// KafkaConfig drives the optional update archive. Empty brokers disable it.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type LoggerConfig struct {
	Level      string `mapstructure:"level"`       // "debug", "info", "warn", "error"
	OutputFile string `mapstructure:"output_file"` // optional rotating log file
}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
// The Redis address has no default: the shared store location must be
// provided explicitly or startup fails.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// Load .env into the process environment first so viper sees it.
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	v.SetDefault("app.port", ":8080")
	v.SetDefault("app.env", "local")

	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("chain.reconnect_delay", 5*time.Second)
	v.SetDefault("chain.max_reconnects", 10)
	v.SetDefault("chain.query_timeout", 15*time.Second)

	v.SetDefault("kafka.topic", "aave_apy_updates")

	v.SetDefault("logger.level", "info")

	// Maps dot-notation keys to underscored env vars (redis.addr -> REDIS_ADDR).
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnv(v, "app.port", "app.env")
	bindEnv(v, "redis.addr", "redis.password", "redis.db")
	bindEnv(v, "chain.ws_url", "chain.reconnect_delay", "chain.max_reconnects", "chain.query_timeout")
	bindEnv(v, "kafka.brokers", "kafka.topic")
	bindEnv(v, "logger.level", "logger.output_file")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %v", err)
	}

	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required (set REDIS_ADDR)")
	}

	return &cfg, nil
}

// RequireChain validates the parts only the listener needs.
func (c *Config) RequireChain() error {
	if c.Chain.WsURL == "" {
		return fmt.Errorf("chain websocket url is required (set CHAIN_WS_URL)")
	}
	return nil
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
