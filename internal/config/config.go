package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Mongo     MongoConfig
	Database  DatabaseConfig
	Connector ConnectorConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig `mapstructure:"rateLimit"`
	Keys      KeysConfig
	Auth      AuthConfig
	Worker    WorkerConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port           string        `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"readTimeout"`
	WriteTimeout   time.Duration `mapstructure:"writeTimeout"`
	IdleTimeout    time.Duration `mapstructure:"idleTimeout"`
	ShutdownPeriod time.Duration `mapstructure:"shutdownPeriod"`
	AllowOrigins   []string      `mapstructure:"allowOrigins"`
	LegacyRoutes   bool          `mapstructure:"legacyRoutes"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
	// LegacyOwnerField names an older owner field (e.g. "playerId") that is
	// read as a fallback and cleared on every owner write. Empty disables it.
	LegacyOwnerField string `mapstructure:"legacyOwnerField"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"maxOpenConns"`
	MaxIdleConns    int           `mapstructure:"maxIdleConns"`
	ConnMaxLifetime time.Duration `mapstructure:"connMaxLifetime"`
}

// ConnectorConfig tunes the store connector shared by every backend.
type ConnectorConfig struct {
	MaxRetries       int           `mapstructure:"maxRetries"`
	RetryDelay       time.Duration `mapstructure:"retryDelay"`
	ConnectTimeout   time.Duration `mapstructure:"connectTimeout"`
	OperationTimeout time.Duration `mapstructure:"operationTimeout"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

type KeysConfig struct {
	DefaultReward       string `mapstructure:"defaultReward"`
	UnboundSentinel     string `mapstructure:"unboundSentinel"`
	WildcardSentinel    string `mapstructure:"wildcardSentinel"`
	AllowWildcardUnbind bool   `mapstructure:"allowWildcardUnbind"`
}

type AuthConfig struct {
	APISecret string        `mapstructure:"apiSecret"`
	JWTSecret string        `mapstructure:"jwtSecret"`
	JWTIssuer string        `mapstructure:"jwtIssuer"`
	TokenTTL  time.Duration `mapstructure:"tokenTTL"`
}

type WorkerConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Concurrency    int    `mapstructure:"concurrency"`
	ReportSchedule string `mapstructure:"reportSchedule"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func LoadConfig(configPath string) (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found or error loading it, relying on environment variables and config file")
	}

	v := viper.New()

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.readTimeout", 5*time.Second)
	v.SetDefault("server.writeTimeout", 10*time.Second)
	v.SetDefault("server.idleTimeout", 120*time.Second)
	v.SetDefault("server.shutdownPeriod", 15*time.Second)
	v.SetDefault("server.allowOrigins", []string{"*"})
	v.SetDefault("server.legacyRoutes", true)

	v.SetDefault("storage.driver", DriverMongo)

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "key_db")
	v.SetDefault("mongo.collection", "keys")
	v.SetDefault("mongo.legacyOwnerField", "")

	v.SetDefault("database.url", "")
	v.SetDefault("database.maxOpenConns", 25)
	v.SetDefault("database.maxIdleConns", 5)
	v.SetDefault("database.connMaxLifetime", 5*time.Minute)

	v.SetDefault("connector.maxRetries", 3)
	v.SetDefault("connector.retryDelay", 2*time.Second)
	v.SetDefault("connector.connectTimeout", 10*time.Second)
	v.SetDefault("connector.operationTimeout", 5*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("rateLimit.enabled", false)
	v.SetDefault("rateLimit.requests", 60)
	v.SetDefault("rateLimit.window", time.Minute)

	v.SetDefault("keys.defaultReward", "auto-created key")
	v.SetDefault("keys.unboundSentinel", "待定")
	v.SetDefault("keys.wildcardSentinel", "all")
	v.SetDefault("keys.allowWildcardUnbind", false)

	v.SetDefault("auth.apiSecret", "")
	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("auth.jwtIssuer", "redeem-key-service")
	v.SetDefault("auth.tokenTTL", 24*time.Hour)

	v.SetDefault("worker.enabled", false)
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.reportSchedule", "@every 1h")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AllowEmptyEnv(true)

	// Variable names used by earlier deployments of the service.
	_ = v.BindEnv("mongo.uri", "MONGO_URI", "MONGODB_URI")
	_ = v.BindEnv("mongo.database", "MONGO_DATABASE", "MONGODB_DB_NAME")
	_ = v.BindEnv("auth.apiSecret", "AUTH_APISECRET", "API_SECRET")
	_ = v.BindEnv("server.port", "SERVER_PORT", "PORT")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			log.Printf("Warning: could not read config file: %s. Error: %v\n", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMongo:
		if c.Mongo.URI == "" || c.Mongo.Database == "" || c.Mongo.Collection == "" {
			return fmt.Errorf("mongo uri, database and collection are required for driver %q", DriverMongo)
		}
	case DriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("database url is required for driver %q", DriverPostgres)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if c.Connector.MaxRetries < 1 {
		return fmt.Errorf("connector.maxRetries must be at least 1, got %d", c.Connector.MaxRetries)
	}
	if c.Keys.UnboundSentinel == "" || c.Keys.WildcardSentinel == "" {
		return fmt.Errorf("keys.unboundSentinel and keys.wildcardSentinel must be set")
	}
	if c.Keys.UnboundSentinel == c.Keys.WildcardSentinel {
		return fmt.Errorf("keys.unboundSentinel and keys.wildcardSentinel must differ")
	}
	if c.RateLimit.Enabled && (c.RateLimit.Requests < 1 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("rateLimit.requests and rateLimit.window must be positive when rate limiting is enabled")
	}
	return nil
}
