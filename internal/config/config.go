package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type ServerConfig struct {
	Port       string
	JWTSecret  string
	JWTIssuer  string
	TokenTTL   time.Duration
	RefreshTTL time.Duration
}

type DatabaseConfig struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

type LogConfig struct {
	Level       string
	Development bool
}

// LimitPolicy bounds one action kind to Capacity actions per Window.
type LimitPolicy struct {
	Capacity int
	Window   time.Duration
}

type RateLimitConfig struct {
	// Backend is "postgres", "redis" or "memory".
	Backend       string
	RedisAddr     string
	RedisPoolSize int
	// FailMode is "open" or "closed": what the limiter answers when its
	// backend cannot be reached.
	FailMode string
	Ping     LimitPolicy
	Message  LimitPolicy
}

type MessageConfig struct {
	MaxLength      int
	ForbiddenTerms []string
}

type NotifyConfig struct {
	// AMQPURL enables publishing events to RabbitMQ when set.
	AMQPURL  string
	Exchange string
}

type OfflineConfig struct {
	QueuePath   string
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Jitter      float64
}

type ClientConfig struct {
	ServerURL string
	Token     string
	Timeout   time.Duration
}

// ListingSeed is a listing the in-memory store starts with. PostgreSQL
// deployments read listings from the listings table instead.
type ListingSeed struct {
	ID    string `mapstructure:"id"`
	Owner string `mapstructure:"owner"`
}

// Config is the full application configuration.
type Config struct {
	// Store is "postgres" or "memory".
	Store     string
	Server    ServerConfig
	Database  DatabaseConfig
	Log       LogConfig
	RateLimit RateLimitConfig
	Messages  MessageConfig
	Notify    NotifyConfig
	Offline   OfflineConfig
	Client    ClientConfig
	Listings  []ListingSeed
}

// flag name -> config key, bound when the flag set defines them.
var flagKeys = map[string]string{
	"config":    "config",
	"port":      "server.port",
	"store":     "store",
	"log-level": "log.level",
	"server":    "client.server_url",
	"token":     "client.token",
	"queue":     "offline.queue_path",
}

// Load reads configuration from defaults, an optional .env file, the
// environment, an optional config file and the given flags, in increasing
// order of precedence. flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	// .env is optional, e.g. absent in production
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Names the deployment already uses.
	_ = v.BindEnv("server.port", "SERVER_PORT", "PORT")
	_ = v.BindEnv("server.jwt_secret", "SERVER_JWT_SECRET", "JWT_SECRET")
	_ = v.BindEnv("database.url", "DATABASE_URL")

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		Store: v.GetString("store"),
		Server: ServerConfig{
			Port:       v.GetString("server.port"),
			JWTSecret:  v.GetString("server.jwt_secret"),
			JWTIssuer:  v.GetString("server.jwt_issuer"),
			TokenTTL:   v.GetDuration("server.token_ttl"),
			RefreshTTL: v.GetDuration("server.refresh_ttl"),
		},
		Database: DatabaseConfig{
			URL:             databaseURL(v),
			MaxConns:        v.GetInt32("database.max_conns"),
			MinConns:        v.GetInt32("database.min_conns"),
			MaxConnLifetime: v.GetDuration("database.max_conn_lifetime"),
			MaxConnIdleTime: v.GetDuration("database.max_conn_idle_time"),
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
		},
		RateLimit: RateLimitConfig{
			Backend:       v.GetString("ratelimit.backend"),
			RedisAddr:     v.GetString("ratelimit.redis_addr"),
			RedisPoolSize: v.GetInt("ratelimit.redis_pool_size"),
			FailMode:      v.GetString("ratelimit.fail_mode"),
			Ping: LimitPolicy{
				Capacity: v.GetInt("ratelimit.ping.capacity"),
				Window:   v.GetDuration("ratelimit.ping.window"),
			},
			Message: LimitPolicy{
				Capacity: v.GetInt("ratelimit.message.capacity"),
				Window:   v.GetDuration("ratelimit.message.window"),
			},
		},
		Messages: MessageConfig{
			MaxLength:      v.GetInt("messages.max_length"),
			ForbiddenTerms: stringList(v.Get("messages.forbidden_terms")),
		},
		Notify: NotifyConfig{
			AMQPURL:  v.GetString("notify.amqp_url"),
			Exchange: v.GetString("notify.exchange"),
		},
		Offline: OfflineConfig{
			QueuePath:   v.GetString("offline.queue_path"),
			MaxRetries:  v.GetInt("offline.max_retries"),
			BaseBackoff: v.GetDuration("offline.base_backoff"),
			MaxBackoff:  v.GetDuration("offline.max_backoff"),
			Jitter:      v.GetFloat64("offline.jitter"),
		},
		Client: ClientConfig{
			ServerURL: v.GetString("client.server_url"),
			Token:     v.GetString("client.token"),
			Timeout:   v.GetDuration("client.timeout"),
		},
	}

	listings, err := listingSeeds(v)
	if err != nil {
		return nil, err
	}
	cfg.Listings = listings

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store", "postgres")

	v.SetDefault("server.port", "3001")
	v.SetDefault("server.jwt_secret", "secret")
	v.SetDefault("server.jwt_issuer", "marketplace")
	v.SetDefault("server.token_ttl", 72*time.Hour)
	v.SetDefault("server.refresh_ttl", 30*24*time.Hour)

	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("database.max_conn_idle_time", 30*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("ratelimit.backend", "postgres")
	v.SetDefault("ratelimit.redis_addr", "127.0.0.1:6379")
	v.SetDefault("ratelimit.redis_pool_size", 10)
	v.SetDefault("ratelimit.fail_mode", "closed")
	v.SetDefault("ratelimit.ping.capacity", 10)
	v.SetDefault("ratelimit.ping.window", time.Hour)
	v.SetDefault("ratelimit.message.capacity", 60)
	v.SetDefault("ratelimit.message.window", time.Minute)

	v.SetDefault("messages.max_length", 500)
	v.SetDefault("messages.forbidden_terms", []string{})

	v.SetDefault("notify.exchange", "marketplace.events")

	v.SetDefault("offline.queue_path", "offline-queue.cbor")
	v.SetDefault("offline.max_retries", 5)
	v.SetDefault("offline.base_backoff", 2*time.Second)
	v.SetDefault("offline.max_backoff", 5*time.Minute)
	v.SetDefault("offline.jitter", 0.2)

	v.SetDefault("client.server_url", "http://localhost:3001")
	v.SetDefault("client.timeout", 10*time.Second)
}

// databaseURL prefers DATABASE_URL and falls back to the POSTGRES_* pieces.
func databaseURL(v *viper.Viper) string {
	if url := v.GetString("database.url"); url != "" {
		return url
	}
	get := func(key, def string) string {
		if val := v.GetString(key); val != "" {
			return val
		}
		return def
	}
	return "postgres://" + get("postgres_user", "postgres") + ":" +
		get("postgres_password", "postgres") + "@" +
		get("postgres_host", "localhost") + ":" +
		get("postgres_port", "5432") + "/" +
		get("postgres_db", "marketplace") + "?sslmode=disable"
}

// stringList accepts a real list from a config file, or a single comma
// separated value from the environment. Items keep their inner spaces.
func stringList(raw interface{}) []string {
	var items []string
	switch val := raw.(type) {
	case string:
		items = strings.Split(val, ",")
	case []string:
		items = val
	case []interface{}:
		for _, item := range val {
			items = append(items, fmt.Sprint(item))
		}
	}
	var out []string
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// listingSeeds reads "listings" either as a list of {id, owner} tables from
// a config file or as "L1:alice,L2:bob" from the environment.
func listingSeeds(v *viper.Viper) ([]ListingSeed, error) {
	var seeds []ListingSeed
	if raw, ok := v.Get("listings").(string); ok {
		for _, pair := range stringList(raw) {
			id, owner, found := strings.Cut(pair, ":")
			if !found {
				return nil, fmt.Errorf("config: listing %q is not id:owner", pair)
			}
			seeds = append(seeds, ListingSeed{ID: strings.TrimSpace(id), Owner: strings.TrimSpace(owner)})
		}
	} else if err := v.UnmarshalKey("listings", &seeds); err != nil {
		return nil, fmt.Errorf("config: listings: %w", err)
	}
	for _, l := range seeds {
		if l.ID == "" || l.Owner == "" {
			return nil, fmt.Errorf("config: listing seed needs an id and an owner, got %+v", l)
		}
	}
	return seeds, nil
}

func (c *Config) validate() error {
	switch c.Store {
	case "postgres", "memory":
	default:
		return fmt.Errorf("config: unknown store %q", c.Store)
	}
	switch c.RateLimit.Backend {
	case "postgres", "redis", "memory":
	default:
		return fmt.Errorf("config: unknown rate limit backend %q", c.RateLimit.Backend)
	}
	if c.RateLimit.Backend == "postgres" && c.Store != "postgres" {
		return fmt.Errorf("config: rate limit backend postgres requires the postgres store")
	}
	switch c.RateLimit.FailMode {
	case "open", "closed":
	default:
		return fmt.Errorf("config: rate limit fail mode must be open or closed, got %q", c.RateLimit.FailMode)
	}
	for name, p := range map[string]LimitPolicy{"ping": c.RateLimit.Ping, "message": c.RateLimit.Message} {
		if p.Capacity <= 0 || p.Window <= 0 {
			return fmt.Errorf("config: rate limit %s needs a positive capacity and window", name)
		}
	}
	if c.Messages.MaxLength <= 0 {
		return fmt.Errorf("config: messages.max_length must be positive")
	}
	if c.Offline.MaxRetries < 0 {
		return fmt.Errorf("config: offline.max_retries must not be negative")
	}
	return nil
}
