package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"kfepos/backend/internal/localday"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Port                  string `yaml:"port"`
	AllowedOrigin         string `yaml:"allowed_origin"`
	DatabaseURL           string `yaml:"database_url"`
	RedisAddr             string `yaml:"redis_addr"`
	RedisPassword         string `yaml:"redis_password"`
	RedisDB               int    `yaml:"redis_db"`
	ReportCacheTTLSeconds int    `yaml:"report_cache_ttl_seconds"`
	AuthSecret            string `yaml:"auth_secret"`
	AccessTokenTTLMinutes int    `yaml:"access_token_ttl_minutes"`
	ManagerPIN            string `yaml:"manager_pin"`
	LocalUTCOffset        string `yaml:"local_utc_offset"`
	SaleNumberPrefix      string `yaml:"sale_number_prefix"`
	ChartFallbackEnabled  bool   `yaml:"chart_fallback_enabled"`
	LogLevel              string `yaml:"log_level"`
	AppEnv                string `yaml:"app_env"`
}

func defaults() Config {
	return Config{
		Port:                  "8080",
		AllowedOrigin:         "http://127.0.0.1:3000",
		ReportCacheTTLSeconds: 60,
		AccessTokenTTLMinutes: 480,
		LocalUTCOffset:        "-06:00",
		SaleNumberPrefix:      "KFE",
		ChartFallbackEnabled:  true,
		LogLevel:              "info",
		AppEnv:                "production",
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE when set, then environment variables. Secrets have no defaults.
func Load() (Config, error) {
	cfg := defaults()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()

	if cfg.ReportCacheTTLSeconds < 1 {
		cfg.ReportCacheTTLSeconds = 60
	}
	if cfg.AccessTokenTTLMinutes < 1 {
		cfg.AccessTokenTTLMinutes = 480
	}
	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.ManagerPIN = strings.TrimSpace(cfg.ManagerPIN)
	if _, err := cfg.UTCOffset(); err != nil {
		return Config{}, fmt.Errorf("%w: LOCAL_UTC_OFFSET: %v", ErrInvalidConfig, err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("%w: unsupported config file extension %s", ErrInvalidConfig, ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", cleanPath, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, cleanPath, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.AllowedOrigin = getEnv("ALLOWED_ORIGIN", c.AllowedOrigin)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)
	c.ReportCacheTTLSeconds = getEnvInt("REPORT_CACHE_TTL_SECONDS", c.ReportCacheTTLSeconds)
	c.AuthSecret = getEnv("AUTH_SECRET", c.AuthSecret)
	c.AccessTokenTTLMinutes = getEnvInt("ACCESS_TOKEN_TTL_MINUTES", c.AccessTokenTTLMinutes)
	c.ManagerPIN = getEnv("MANAGER_PIN", c.ManagerPIN)
	c.LocalUTCOffset = getEnv("LOCAL_UTC_OFFSET", c.LocalUTCOffset)
	c.SaleNumberPrefix = getEnv("SALE_NUMBER_PREFIX", c.SaleNumberPrefix)
	c.ChartFallbackEnabled = getEnvBool("CHART_FALLBACK_ENABLED", c.ChartFallbackEnabled)
	c.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", c.LogLevel))
	c.AppEnv = strings.ToLower(getEnv("APP_ENV", c.AppEnv))
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) UTCOffset() (time.Duration, error) {
	return localday.ParseOffset(c.LocalUTCOffset)
}

func (c Config) ReportCacheTTL() time.Duration {
	return time.Duration(c.ReportCacheTTLSeconds) * time.Second
}

func (c Config) Development() bool {
	return c.AppEnv == "development" || c.AppEnv == "dev" || c.LogLevel == "debug"
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int) int {
	val, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return val
}

func getEnvBool(key string, fallback bool) bool {
	val, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return val
}
