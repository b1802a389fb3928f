package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"

	"github.com/ilyakaznacheev/cleanenv"
)

type (
	Config struct {
		App         `json:"app"          toml:"app"`
		HTTP        `json:"http"         toml:"http"`
		DB          `json:"db"           toml:"db"`
		Log         `json:"logger"       toml:"logger"`
		Fraud       `json:"fraud"        toml:"fraud"`
		InterWallet `json:"inter_wallet" toml:"inter_wallet"`
		Payments    `json:"payments"     toml:"payments"`
		Rates       `json:"rates"        toml:"rates"`
		Kafka       `json:"kafka"        toml:"kafka"`
		Workers     `json:"workers"      toml:"workers"`
	}

	App struct {
		Name        string `json:"name"        toml:"name"        env:"APP_NAME"`
		Environment string `json:"environment" toml:"environment" env:"ENV_NAME" env-default:"dev"`
		Debug       bool   `json:"debug"       toml:"debug"       env:"DEBUG"    env-default:"false"`
	}

	HTTP struct {
		Port string `json:"port" toml:"port" env:"HTTP_PORT" env-default:"8080"`
	}

	DB struct {
		DatabaseURL       string `json:"database_url"        toml:"database_url"        env:"DATABASE_URL"`
		PoolMax           int32  `json:"pool_max"            toml:"pool_max"            env:"PG_POOL_MAX" env-default:"10"`
		ConnectTimeout    int    `json:"connect_timeout"     toml:"connect_timeout"     env:"PG_POOL_CONN_TIMEOUT" env-default:"5"`
		HealthCheckPeriod int    `json:"health_check_period" toml:"health_check_period" env:"PG_POOL_HEALTHCHECK" env-default:"1"`
	}

	Log struct {
		Level slog.Level `json:"level" toml:"level" env:"LOG_LEVEL"`
	}

	Fraud struct {
		WithdrawalRiskThreshold float64 `json:"withdrawal_risk_threshold" toml:"withdrawal_risk_threshold" env:"FRAUD_WITHDRAWAL_RISK_THRESHOLD" env-default:"500"`
		SeedDefaultRules        bool    `json:"seed_default_rules"        toml:"seed_default_rules"        env:"FRAUD_SEED_DEFAULT_RULES" env-default:"true"`
	}

	InterWallet struct {
		SystemName     string `json:"system_name"     toml:"system_name"     env:"INTER_WALLET_SYSTEM_NAME" env-default:"moneta"`
		SystemURL      string `json:"system_url"      toml:"system_url"      env:"INTER_WALLET_SYSTEM_URL"`
		SharedSecret   string `json:"shared_secret"   toml:"shared_secret"   env:"INTER_WALLET_SHARED_SECRET"`
		RequestTimeout int    `json:"request_timeout" toml:"request_timeout" env:"INTER_WALLET_REQUEST_TIMEOUT" env-default:"15"`
	}

	Payments struct {
		APIKey  string `json:"api_key"  toml:"api_key"  env:"PAYMENTS_API_KEY"`
		BaseURL string `json:"base_url" toml:"base_url" env:"PAYMENTS_BASE_URL" env-default:"https://api.stripe.com/v1"`
	}

	Rates struct {
		SourceURL  string `json:"source_url"  toml:"source_url"  env:"RATES_SOURCE_URL"`
		TTLMinutes int    `json:"ttl_minutes" toml:"ttl_minutes" env:"RATES_TTL_MINUTES" env-default:"15"`
	}

	Kafka struct {
		Enabled bool     `json:"enabled" toml:"enabled" env:"KAFKA_ENABLED" env-default:"false"`
		Brokers []string `json:"brokers" toml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
		Topic   string   `json:"topic"   toml:"topic"   env:"KAFKA_TOPIC" env-default:"wallet.transactions"`
	}

	Workers struct {
		ReviewMaxAgeHours      int `json:"review_max_age_hours"     toml:"review_max_age_hours"     env:"REVIEW_MAX_AGE_HOURS" env-default:"72"`
		ReviewSweepMinutes     int `json:"review_sweep_minutes"     toml:"review_sweep_minutes"     env:"REVIEW_SWEEP_MINUTES" env-default:"30"`
		PendingMaxAgeMinutes   int `json:"pending_max_age_minutes"  toml:"pending_max_age_minutes"  env:"PENDING_MAX_AGE_MINUTES" env-default:"30"`
		PendingSweepMinutes    int `json:"pending_sweep_minutes"    toml:"pending_sweep_minutes"    env:"PENDING_SWEEP_MINUTES" env-default:"10"`
	}
)

func LoadConfig() (*Config, error) {
	cfg := &Config{}

	_, b, _, _ := runtime.Caller(0)
	basePath := filepath.Dir(b)

	configTomlPath := filepath.Join(basePath, "config.toml")
	err := cleanenv.ReadConfig(configTomlPath, cfg)
	if err != nil {
		configJsonPath := filepath.Join(basePath, "config.json")
		err = cleanenv.ReadConfig(configJsonPath, cfg)
		if err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	}

	err = cleanenv.ReadEnv(cfg)
	if err != nil {
		return nil, fmt.Errorf("env read error: %w", err)
	}

	return cfg, nil
}
