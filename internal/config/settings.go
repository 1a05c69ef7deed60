package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings configures the HTTP service around the pipelines.
type Settings struct {
	Server   ServerSettings   `mapstructure:"server"`
	Database DatabaseSettings `mapstructure:"database"`
	Redis    RedisSettings    `mapstructure:"redis"`
	Auth     AuthSettings     `mapstructure:"auth"`
	Telegram TelegramSettings `mapstructure:"telegram"`
	Logging  LoggingSettings  `mapstructure:"logging"`
	Serving  ServingSettings  `mapstructure:"serving"`
	Jobs     JobSettings      `mapstructure:"jobs"`
}

type ServerSettings struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr is the listen address.
func (s ServerSettings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseSettings selects the job store. Driver is "sqlite" or "postgres".
type DatabaseSettings struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// RedisSettings enables the shared prediction cache when Addr is set.
type RedisSettings struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// AuthSettings protects the training routes when JWTSecret is set.
type AuthSettings struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// TelegramSettings enables job notifications when BotToken is set.
type TelegramSettings struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

type LoggingSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServingSettings names the pipeline configuration the inference endpoint
// serves. ArtifactDir switches model storage from the registry to files.
type ServingSettings struct {
	ConfigPath     string `mapstructure:"config_path"`
	ArtifactDir    string `mapstructure:"artifact_dir"`
	ModelCacheSize int    `mapstructure:"model_cache_size"`
	PredictionSize int    `mapstructure:"prediction_cache_size"`
}

type JobSettings struct {
	Workers       int `mapstructure:"workers"`
	QueueSize     int `mapstructure:"queue_size"`
	SearchWorkers int `mapstructure:"search_workers"`
}

// LoadSettings reads path (optional; "" searches ./configs and .) and applies
// EMAILCLF_* environment overrides, e.g. EMAILCLF_SERVER_PORT.
func LoadSettings(path string) (*Settings, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("server")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("EMAILCLF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read settings file: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	if s.Database.Driver != "sqlite" && s.Database.Driver != "postgres" {
		return nil, fmt.Errorf("database.driver: unsupported driver %q", s.Database.Driver)
	}
	return &s, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/jobs.db")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", time.Hour)

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", 0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("serving.config_path", "./configs/config.yml")
	v.SetDefault("serving.artifact_dir", "")
	v.SetDefault("serving.model_cache_size", 4)
	v.SetDefault("serving.prediction_cache_size", 1024)

	v.SetDefault("jobs.workers", 1)
	v.SetDefault("jobs.queue_size", 16)
	v.SetDefault("jobs.search_workers", 4)
}
