package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

type Config struct {
	Server   Server
	Storage  Storage
	Token    Token
	Sessions Sessions
	Logger   Logger
}

type Server struct {
	Port          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
	AuthRateLimit int
}

// Driver is an explicit choice between the persistent and in-memory
// backends. Business logic never inspects the environment itself.
type Storage struct {
	Driver  string
	DSN     string
	Migrate bool
}

type Token struct {
	Secret     string
	TTL        time.Duration
	MinPassLen int
}

type Sessions struct {
	SweepInterval time.Duration
	SweepBatch    int
	CacheSize     int
}

type Logger struct {
	Development bool
	Level       string
}

func Load(filename string) (*viper.Viper, error) {
	v := viper.New()

	v.SetConfigName(filename)
	v.SetConfigType("yaml")
	v.AddConfigPath("config")
	v.AddConfigPath(".")

	v.SetEnvPrefix("messenger")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.readtimeout", 10*time.Second)
	v.SetDefault("server.writetimeout", 10*time.Second)
	v.SetDefault("server.idletimeout", 120*time.Second)
	v.SetDefault("server.authratelimit", 30)
	v.SetDefault("storage.driver", StorageDriverPostgres)
	v.SetDefault("storage.migrate", true)
	v.SetDefault("token.ttl", 24*time.Hour)
	v.SetDefault("token.minpasslen", 6)
	v.SetDefault("sessions.sweepinterval", 10*time.Minute)
	v.SetDefault("sessions.sweepbatch", 500)
	v.SetDefault("sessions.cachesize", 4096)
	v.SetDefault("logger.level", "info")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		// env-only configuration is fine
	}
	return v, nil
}

func Parse(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	if c.Token.Secret == "" {
		return nil, errors.New("token.secret is required")
	}
	if c.Storage.Driver == StorageDriverPostgres && c.Storage.DSN == "" {
		return nil, errors.New("storage.dsn is required for the postgres driver")
	}
	return &c, nil
}
