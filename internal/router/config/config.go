package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Драйверы хранилища.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config - структура для хранения конфигураций приложения
type Config struct {
	ServerAddress string `mapstructure:"SERVER_ADDRESS"`
	PostgresConn  string `mapstructure:"POSTGRES_CONN"`
	PostgresUser  string `mapstructure:"POSTGRES_USERNAME"`
	PostgresPass  string `mapstructure:"POSTGRES_PASSWORD"`
	PostgresHost  string `mapstructure:"POSTGRES_HOST"`
	PostgresPort  string `mapstructure:"POSTGRES_PORT"`
	PostgresDB    string `mapstructure:"POSTGRES_DATABASE"`
	MigrationURL  string `mapstructure:"MIGRATION_URL"`

	StorageDriver string `mapstructure:"STORAGE_DRIVER"`
	RedisURL      string `mapstructure:"REDIS_URL"`

	LockTimeout    time.Duration `mapstructure:"LOCK_TIMEOUT"`
	LockTTL        time.Duration `mapstructure:"LOCK_TTL"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	ObjectStoreDir     string `mapstructure:"OBJECT_STORE_DIR"`
	ObjectStoreBaseURL string `mapstructure:"OBJECT_STORE_BASE_URL"`
	MaxImageBytes      int64  `mapstructure:"MAX_IMAGE_BYTES"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	SubscriptionBuffer int `mapstructure:"SUBSCRIPTION_BUFFER"`
}

var keys = []string{
	"SERVER_ADDRESS", "POSTGRES_CONN", "POSTGRES_USERNAME", "POSTGRES_PASSWORD",
	"POSTGRES_HOST", "POSTGRES_PORT", "POSTGRES_DATABASE", "MIGRATION_URL",
	"STORAGE_DRIVER", "REDIS_URL", "LOCK_TIMEOUT", "LOCK_TTL", "REQUEST_TIMEOUT",
	"OBJECT_STORE_DIR", "OBJECT_STORE_BASE_URL", "MAX_IMAGE_BYTES",
	"LOG_LEVEL", "LOG_FORMAT", "SUBSCRIPTION_BUFFER",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_ADDRESS", "0.0.0.0:8080")
	v.SetDefault("MIGRATION_URL", "file://migrations")
	v.SetDefault("STORAGE_DRIVER", DriverPostgres)
	v.SetDefault("LOCK_TIMEOUT", 250*time.Millisecond)
	v.SetDefault("LOCK_TTL", 5*time.Second)
	v.SetDefault("REQUEST_TIMEOUT", 5*time.Second)
	v.SetDefault("OBJECT_STORE_DIR", "./data/objects")
	v.SetDefault("OBJECT_STORE_BASE_URL", "/objects")
	v.SetDefault("MAX_IMAGE_BYTES", 5<<20)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("SUBSCRIPTION_BUFFER", 64)
}

// LoadConfig загружает конфигурацию из файла app.env в каталоге path.
// Переменные окружения перекрывают значения из файла; отсутствие файла не ошибка.
func LoadConfig(path string) (cfg Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("app")
	v.SetConfigType("env")
	setDefaults(v)

	v.AutomaticEnv()
	for _, key := range keys {
		if err = v.BindEnv(key); err != nil {
			return
		}
	}

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		err = nil
	}
	if err = v.Unmarshal(&cfg); err != nil {
		return
	}
	err = cfg.Validate()
	return
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case DriverPostgres:
		if c.PostgresConn == "" {
			return fmt.Errorf("POSTGRES_CONN is required for the %s storage driver", DriverPostgres)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.LockTimeout <= 0 || c.RequestTimeout <= 0 {
		return fmt.Errorf("LOCK_TIMEOUT and REQUEST_TIMEOUT must be positive")
	}
	if c.RedisURL != "" && c.LockTTL <= 0 {
		return fmt.Errorf("LOCK_TTL must be positive when REDIS_URL is set")
	}
	return nil
}
