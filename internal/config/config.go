// Package config provides configuration management for the yield farming bot.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Database  DatabaseConfig
	Strategy  StrategyConfig
	Execution ExecutionConfig
	Worker    WorkerConfig
	Ops       OpsConfig
	Logging   LoggingConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration for the run ledger
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration for the observation store
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration for the observation cache
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// StrategyConfig holds optimizer parameters
type StrategyConfig struct {
	Version          string
	RiskAversion     float64 // lambda in the mean-variance objective
	HedgeReserve     float64 // fraction of capital kept for hedge margin and cash
	ConcentrationCap float64 // maximum weight per market
	TurnoverCap      float64 // maximum per-market weight change between runs
	DustWeightDelta  float64 // weight deltas below this are not traded
	MaxIterations    int     // solver iteration budget
	LookbackWindow   time.Duration
}

// ExecutionConfig holds trade execution parameters
type ExecutionConfig struct {
	Mode              string  // "paper" or "live"
	InitialCapitalUSD float64 // deployable capital before the first snapshot exists
	MinTradeUSD       float64
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	PollInterval      time.Duration
	SettleTimeout     time.Duration
	SubmissionSlots   int
}

// WorkerConfig holds cycle worker configuration
type WorkerConfig struct {
	CycleInterval  time.Duration
	FetchDeadline  time.Duration
	FetchRateLimit float64 // observation fetches per second across all entities
	FetchBurst     int
}

// OpsConfig holds the operational HTTP endpoint configuration
type OpsConfig struct {
	Host string
	Port string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env file is optional - environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "yield_farming"),
				User:           getEnv("POSTGRES_USER", "farmer"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "yield_farming"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Strategy: StrategyConfig{
			Version:          getEnv("STRATEGY_VERSION", "mv-1"),
			RiskAversion:     getEnvAsFloat("STRATEGY_RISK_AVERSION", 2.0),
			HedgeReserve:     getEnvAsFloat("STRATEGY_HEDGE_RESERVE", 0.15),
			ConcentrationCap: getEnvAsFloat("STRATEGY_CONCENTRATION_CAP", 0.40),
			TurnoverCap:      getEnvAsFloat("STRATEGY_TURNOVER_CAP", 0.20),
			DustWeightDelta:  getEnvAsFloat("STRATEGY_DUST_WEIGHT_DELTA", 0.005),
			MaxIterations:    getEnvAsInt("STRATEGY_MAX_ITERATIONS", 5000),
			LookbackWindow:   getEnvAsDuration("STRATEGY_LOOKBACK_WINDOW", 72*time.Hour),
		},
		Execution: ExecutionConfig{
			Mode:              getEnv("EXECUTION_MODE", "paper"),
			InitialCapitalUSD: getEnvAsFloat("EXECUTION_INITIAL_CAPITAL_USD", 100000.0),
			MinTradeUSD:       getEnvAsFloat("EXECUTION_MIN_TRADE_USD", 10.0),
			MaxAttempts:       getEnvAsInt("EXECUTION_MAX_ATTEMPTS", 3),
			InitialBackoff:    getEnvAsDuration("EXECUTION_INITIAL_BACKOFF", 2*time.Second),
			MaxBackoff:        getEnvAsDuration("EXECUTION_MAX_BACKOFF", 60*time.Second),
			PollInterval:      getEnvAsDuration("EXECUTION_POLL_INTERVAL", 5*time.Second),
			SettleTimeout:     getEnvAsDuration("EXECUTION_SETTLE_TIMEOUT", 10*time.Minute),
			SubmissionSlots:   getEnvAsInt("EXECUTION_SUBMISSION_SLOTS", 2),
		},
		Worker: WorkerConfig{
			CycleInterval:  getEnvAsDuration("WORKER_CYCLE_INTERVAL", 1*time.Hour),
			FetchDeadline:  getEnvAsDuration("WORKER_FETCH_DEADLINE", 2*time.Minute),
			FetchRateLimit: getEnvAsFloat("WORKER_FETCH_RATE_LIMIT", 20.0),
			FetchBurst:     getEnvAsInt("WORKER_FETCH_BURST", 10),
		},
		Ops: OpsConfig{
			Host: getEnv("OPS_HOST", "0.0.0.0"),
			Port: getEnv("OPS_PORT", "8080"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) validate() error {
	if c.Strategy.HedgeReserve < 0 || c.Strategy.HedgeReserve >= 1 {
		return fmt.Errorf("STRATEGY_HEDGE_RESERVE must be in [0, 1), got %f", c.Strategy.HedgeReserve)
	}
	if c.Strategy.ConcentrationCap <= 0 || c.Strategy.ConcentrationCap > 1 {
		return fmt.Errorf("STRATEGY_CONCENTRATION_CAP must be in (0, 1], got %f", c.Strategy.ConcentrationCap)
	}
	if c.Strategy.TurnoverCap <= 0 {
		return fmt.Errorf("STRATEGY_TURNOVER_CAP must be positive, got %f", c.Strategy.TurnoverCap)
	}
	if c.Strategy.RiskAversion < 0 {
		return fmt.Errorf("STRATEGY_RISK_AVERSION must be non-negative, got %f", c.Strategy.RiskAversion)
	}
	if c.Execution.MaxAttempts < 1 {
		return fmt.Errorf("EXECUTION_MAX_ATTEMPTS must be at least 1, got %d", c.Execution.MaxAttempts)
	}
	mode := strings.ToLower(c.Execution.Mode)
	if mode != "paper" && mode != "live" {
		return fmt.Errorf("EXECUTION_MODE must be 'paper' or 'live', got %q", c.Execution.Mode)
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
