// Package config loads server configuration from command-line flags whose
// defaults come from the environment. A .env file in the working directory,
// when present, is loaded into the environment first.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

type Config struct {
	Env         string
	Port        int
	Store       string
	DBPath      string
	StateKey    string
	RedisAddr   string
	RedisPass   string
	RedisDB     int
	RedisTLS    bool
	AMQPURL     string
	AMQPQueue   string
	UpstreamURL string
	CORSOrigins []string
}

// Production reports whether the server runs with production logging.
func (c *Config) Production() bool {
	return c.Env == "production"
}

// Load parses args (normally os.Args[1:]). The returned bool reports
// whether a .env file was read.
func Load(args []string) (*Config, bool, error) {
	dotenv := godotenv.Load(".env") == nil

	fs := flag.NewFlagSet("tutor-ledger", flag.ContinueOnError)
	cfg := &Config{}
	var origins string

	fs.StringVar(&cfg.Env, "env", getenv("ENV", "development"), "environment (development|production)")
	fs.IntVar(&cfg.Port, "port", getenvInt("PORT", 8080), "HTTP server port")
	fs.StringVar(&cfg.Store, "store", getenv("STORE", StoreSQLite), "state store (sqlite|redis|memory)")
	fs.StringVar(&cfg.DBPath, "db", getenv("DB_PATH", "tutor.db"), "SQLite database path")
	fs.StringVar(&cfg.StateKey, "key", getenv("STATE_KEY", "tutor-ledger-state"), "storage slot for the state document")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", getenv("REDIS_ADDR", "localhost:6379"), "Redis address")
	fs.StringVar(&cfg.RedisPass, "redis-password", getenv("REDIS_PASSWORD", ""), "Redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", getenvInt("REDIS_DB", 0), "Redis database number")
	fs.BoolVar(&cfg.RedisTLS, "redis-tls", getenvBool("REDIS_TLS", false), "use TLS for Redis")
	fs.StringVar(&cfg.AMQPURL, "amqp-url", getenv("AMQP_URL", ""), "RabbitMQ URL for notifications (empty disables)")
	fs.StringVar(&cfg.AMQPQueue, "amqp-queue", getenv("AMQP_QUEUE", "tutor.notifications"), "RabbitMQ queue for notifications")
	fs.StringVar(&cfg.UpstreamURL, "upstream", getenv("UPSTREAM_BASE_URL", "https://progressme.ru/school-api"), "upstream scheduling API base URL")
	fs.StringVar(&origins, "cors-origins", getenv("CORS_ORIGINS", "http://localhost:5173,http://localhost:8080"), "comma-separated allowed CORS origins")

	if err := fs.Parse(args); err != nil {
		return nil, dotenv, err
	}
	cfg.CORSOrigins = splitList(origins)

	if err := cfg.validate(); err != nil {
		return nil, dotenv, err
	}
	return cfg, dotenv, nil
}

func (c *Config) validate() error {
	switch c.Store {
	case StoreSQLite, StoreRedis, StoreMemory:
	default:
		return fmt.Errorf("unknown store %q (want sqlite, redis or memory)", c.Store)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Store == StoreSQLite && c.DBPath == "" {
		return fmt.Errorf("DB_PATH is required for the sqlite store")
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
