package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// GradingConfig carries the batch orchestrator knobs. They are injected into
// the grading service so tests can run with zero delays.
type GradingConfig struct {
	BatchSize     int
	MaxAttempts   int
	RetryDelay    time.Duration
	BatchDelay    time.Duration
	OracleTimeout time.Duration
}

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName        string
	AppEnv         string
	AppPort        string
	DatabaseURL    string
	RedisURL       string
	NATSURL        string
	JWTSecret      string
	ResultCacheTTL time.Duration
	OpenAIAPIKey   string
	OpenAIModel    string
	Grading        GradingConfig
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("CLASSMARK")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Classmark API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("result.cache_ttl", "5m")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("grading.batch_size", 5)
	v.SetDefault("grading.max_attempts", 3)
	v.SetDefault("grading.retry_delay", "1s")
	v.SetDefault("grading.batch_delay", "2s")
	v.SetDefault("grading.oracle_timeout", "60s")

	ttl, err := time.ParseDuration(v.GetString("result.cache_ttl"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid result cache ttl: %w", err)
	}

	grading, err := loadGrading(v)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppName:        v.GetString("app.name"),
		AppEnv:         v.GetString("app.env"),
		AppPort:        v.GetString("app.port"),
		DatabaseURL:    v.GetString("database.url"),
		RedisURL:       v.GetString("redis.url"),
		NATSURL:        v.GetString("nats.url"),
		JWTSecret:      v.GetString("jwt.secret"),
		ResultCacheTTL: ttl,
		OpenAIAPIKey:   v.GetString("openai_api_key"),
		OpenAIModel:    v.GetString("openai.model"),
		Grading:        grading,
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	return cfg, nil
}

func loadGrading(v *viper.Viper) (GradingConfig, error) {
	retryDelay, err := time.ParseDuration(v.GetString("grading.retry_delay"))
	if err != nil {
		return GradingConfig{}, fmt.Errorf("invalid grading retry delay: %w", err)
	}

	batchDelay, err := time.ParseDuration(v.GetString("grading.batch_delay"))
	if err != nil {
		return GradingConfig{}, fmt.Errorf("invalid grading batch delay: %w", err)
	}

	oracleTimeout, err := time.ParseDuration(v.GetString("grading.oracle_timeout"))
	if err != nil {
		return GradingConfig{}, fmt.Errorf("invalid grading oracle timeout: %w", err)
	}

	cfg := GradingConfig{
		BatchSize:     v.GetInt("grading.batch_size"),
		MaxAttempts:   v.GetInt("grading.max_attempts"),
		RetryDelay:    retryDelay,
		BatchDelay:    batchDelay,
		OracleTimeout: oracleTimeout,
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	return cfg, nil
}
