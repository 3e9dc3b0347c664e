package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Port        string `yaml:"port"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`

	StoreBackend  string `yaml:"store_backend"`
	StoreKey      string `yaml:"store_key"`
	DatabasePath  string `yaml:"database_path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	APIBaseURL  string        `yaml:"api_base_url"`
	APIToken    string        `yaml:"api_token"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	GenerationRPS   float64 `yaml:"generation_rps"`
	GenerationBurst int     `yaml:"generation_burst"`
	FetchMaxBytes   int64   `yaml:"fetch_max_bytes"`
	UpscaleTarget   int     `yaml:"upscale_target"`

	// FetchAllowedNetworks lists CIDRs or addresses that image fetches may
	// reach even though they are loopback, private or link-local.
	FetchAllowedNetworks string `yaml:"fetch_allowed_networks"`

	AllowedOrigins string `yaml:"allowed_origins"`
}

// Load reads .env (if present), the process environment and an optional
// YAML file named by CONFIG_FILE. Values in the file override the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment:     getEnv("ENVIRONMENT", "production"),
		Port:            getEnv("PORT", "8080"),
		LogLevel:        getEnv("LOG_LEVEL", "INFO"),
		LogFormat:       getEnv("LOG_FORMAT", "text"),
		LogFile:         getEnv("LOG_FILE", ""),
		StoreBackend:    getEnv("STORE_BACKEND", "sqlite"),
		StoreKey:        getEnv("STORE_KEY", "sticker-studio-store"),
		DatabasePath:    getEnv("DATABASE_PATH", "stickerstudio.db"),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisDB:         getEnvInt("REDIS_DB", 0),
		APIBaseURL:      getEnv("API_BASE_URL", "http://localhost:3000"),
		APIToken:        getEnv("API_TOKEN", ""),
		HTTPTimeout:     getEnvDuration("HTTP_TIMEOUT", 2*time.Minute),
		GenerationRPS:   getEnvFloat("GENERATION_RPS", 4),
		GenerationBurst: getEnvInt("GENERATION_BURST", 4),
		FetchMaxBytes:   int64(getEnvInt("FETCH_MAX_BYTES", 32<<20)),
		UpscaleTarget:   getEnvInt("UPSCALE_TARGET", 5000),
		AllowedOrigins:  getEnv("ALLOWED_ORIGINS", "http://localhost:3000"),

		FetchAllowedNetworks: getEnv("FETCH_ALLOWED_NETWORKS", ""),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.overlay(path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func (c *Config) overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
