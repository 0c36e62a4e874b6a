// Package config loads the process configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
)

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Data          DataConfig
	Profiling     ProfilingConfig
	Observability ObservabilityConfig
	LogLevel      string
}

type ServerConfig struct {
	Host               string
	Port               int
	RateLimitPerSecond int
	RateLimitBurst     int
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int
}

// DataConfig selects where transactions and classification rules live.
type DataConfig struct {
	Backend   string
	RulesFile string
}

type ProfilingConfig struct {
	Enabled bool
	Port    int
}

type ObservabilityConfig struct {
	MetricsEnabled bool
}

// Load reads the configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:               getEnv("SERVER_HOST", "0.0.0.0"),
			Port:               getEnvInt("SERVER_PORT", 8080),
			RateLimitPerSecond: getEnvInt("RATE_LIMIT_PER_SECOND", 20),
			RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 40),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Name:     getEnv("DB_NAME", "finanzas"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 10),
		},
		Data: DataConfig{
			Backend:   getEnv("DATA_BACKEND", BackendPostgres),
			RulesFile: getEnv("RULES_FILE", "config/categorias.json"),
		},
		Profiling: ProfilingConfig{
			Enabled: getEnvBool("PROFILING_ENABLED", false),
			Port:    getEnvInt("PROFILING_PORT", 6060),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration and returns an error listing every problem found
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid server port %d: must be between 1 and 65535", c.Server.Port))
	}
	if c.Server.RateLimitPerSecond < 0 || c.Server.RateLimitBurst < 0 {
		problems = append(problems, "rate limit values cannot be negative")
	}

	validBackends := []string{BackendPostgres, BackendMemory}
	if !slices.Contains(validBackends, c.Data.Backend) {
		problems = append(problems, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.Data.Backend, validBackends))
	}
	if strings.TrimSpace(c.Data.RulesFile) == "" {
		problems = append(problems, "rules file path cannot be empty")
	}

	if c.Data.Backend == BackendPostgres {
		if c.Database.Host == "" {
			problems = append(problems, "database host is required for the postgres backend")
		}
		if c.Database.Name == "" {
			problems = append(problems, "database name is required for the postgres backend")
		}
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			problems = append(problems, fmt.Sprintf("invalid database port %d", c.Database.Port))
		}
		if c.Database.MaxConns < 1 {
			problems = append(problems, fmt.Sprintf("invalid max connections %d: must be at least 1", c.Database.MaxConns))
		}
	}

	if c.Profiling.Enabled && (c.Profiling.Port < 1 || c.Profiling.Port > 65535) {
		problems = append(problems, fmt.Sprintf("invalid profiling port %d", c.Profiling.Port))
	}

	if _, err := ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}

// DSN builds the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.Name,
		RawQuery: url.Values{"sslmode": []string{d.SSLMode}}.Encode(),
	}
	return u.String()
}

// ParseLevel maps LOG_LEVEL values onto slog levels.
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level '%s': must be debug, info, warn or error", level)
	}
	return l, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
