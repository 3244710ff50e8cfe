package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"trialcheck/internal/errors"
)

// DefaultAPIPrefix is where the service under test mounts its calculators.
const DefaultAPIPrefix = "/api/v1/validation"

// Config represents the complete application configuration
type Config struct {
	Service     ServiceConfig
	Calibration CalibrationConfig
	Report      ReportConfig
	Database    DatabaseConfig
	Server      ServerConfig
}

// ServiceConfig holds settings for calling the service under test
type ServiceConfig struct {
	BaseURL        string
	APIPrefix      string
	Seed           uint64
	Concurrency    int
	RequestTimeout time.Duration
	RateLimit      float64 // requests per second, 0 = unlimited
	AuthToken      string  // sent as a bearer token when set
}

// CalibrationConfig holds Monte-Carlo settings
type CalibrationConfig struct {
	Workers    int
	Confidence float64
}

// ReportConfig holds report output settings
type ReportConfig struct {
	Dir     string
	Formats []string
}

// DatabaseConfig holds optional report persistence settings; an empty URL disables it.
type DatabaseConfig struct {
	Driver string
	URL    string
}

// ServerConfig holds reference twin server settings
type ServerConfig struct {
	Port    string
	GinMode string
}

// Load reads an optional .env file, then configuration from environment
// variables, and validates it. The base URL is not required here; commands
// that call the service check it with RequireService.
func Load() (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	config := &Config{}

	service, err := loadServiceConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load service configuration")
	}
	config.Service = *service

	calibration, err := loadCalibrationConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load calibration configuration")
	}
	config.Calibration = *calibration

	config.Report = *loadReportConfig()
	config.Database = *loadDatabaseConfig()
	config.Server = *loadServerConfig()

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

func loadServiceConfig() (*ServiceConfig, error) {
	seed, err := getEnvUintOrDefault("TRIALCHECK_SEED", 20240601)
	if err != nil {
		return nil, err
	}
	concurrency, err := getEnvIntOrDefault("TRIALCHECK_CONCURRENCY", 4)
	if err != nil {
		return nil, err
	}
	timeout, err := getEnvDurationOrDefault("TRIALCHECK_REQUEST_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	rateLimit, err := getEnvFloatOrDefault("TRIALCHECK_RATE_LIMIT", 0)
	if err != nil {
		return nil, err
	}
	return &ServiceConfig{
		BaseURL:        strings.TrimRight(getEnvOrDefault("TRIALCHECK_BASE_URL", ""), "/"),
		APIPrefix:      getEnvOrDefault("TRIALCHECK_API_PREFIX", DefaultAPIPrefix),
		Seed:           seed,
		Concurrency:    concurrency,
		RequestTimeout: timeout,
		RateLimit:      rateLimit,
		AuthToken:      os.Getenv("TRIALCHECK_AUTH_TOKEN"),
	}, nil
}

func loadCalibrationConfig() (*CalibrationConfig, error) {
	workers, err := getEnvIntOrDefault("TRIALCHECK_MC_WORKERS", 4)
	if err != nil {
		return nil, err
	}
	confidence, err := getEnvFloatOrDefault("TRIALCHECK_CONFIDENCE", 0.99)
	if err != nil {
		return nil, err
	}
	return &CalibrationConfig{Workers: workers, Confidence: confidence}, nil
}

func loadReportConfig() *ReportConfig {
	return &ReportConfig{
		Dir:     getEnvOrDefault("TRIALCHECK_REPORT_DIR", "./results"),
		Formats: SplitList(getEnvOrDefault("TRIALCHECK_REPORT_FORMATS", "md")),
	}
}

func loadDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Driver: getEnvOrDefault("DATABASE_DRIVER", "postgres"),
		URL:    getEnvOrDefault("DATABASE_URL", ""),
	}
}

func loadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:    getEnvOrDefault("REFSERVER_PORT", "8080"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),
	}
}

func validateConfig(config *Config) error {
	if config.Service.Concurrency < 1 {
		return errors.ConfigInvalidf("TRIALCHECK_CONCURRENCY must be >= 1, got %d", config.Service.Concurrency)
	}
	if config.Service.RequestTimeout <= 0 {
		return errors.ConfigInvalidf("TRIALCHECK_REQUEST_TIMEOUT must be positive, got %s", config.Service.RequestTimeout)
	}
	if config.Service.RateLimit < 0 {
		return errors.ConfigInvalidf("TRIALCHECK_RATE_LIMIT must not be negative, got %v", config.Service.RateLimit)
	}
	if !strings.HasPrefix(config.Service.APIPrefix, "/") {
		return errors.ConfigInvalidf("TRIALCHECK_API_PREFIX must start with '/', got %q", config.Service.APIPrefix)
	}
	if config.Calibration.Workers < 1 {
		return errors.ConfigInvalidf("TRIALCHECK_MC_WORKERS must be >= 1, got %d", config.Calibration.Workers)
	}
	if !(config.Calibration.Confidence > 0 && config.Calibration.Confidence < 1) {
		return errors.ConfigInvalidf("TRIALCHECK_CONFIDENCE must be in (0, 1), got %v", config.Calibration.Confidence)
	}
	switch config.Database.Driver {
	case "postgres", "sqlite3":
	default:
		return errors.ConfigInvalidf("DATABASE_DRIVER must be postgres or sqlite3, got %q", config.Database.Driver)
	}
	if config.Service.BaseURL != "" {
		return ValidateBaseURL(config.Service.BaseURL)
	}
	return nil
}

// RequireService checks the settings needed to call the service under test.
func (c *Config) RequireService() error {
	if c.Service.BaseURL == "" {
		return errors.ConfigInvalid("TRIALCHECK_BASE_URL is required")
	}
	return ValidateBaseURL(c.Service.BaseURL)
}

// ValidateBaseURL accepts absolute http(s) URLs with a host.
func ValidateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errors.WithCode(errors.CodeConfigInvalid, errors.Wrapf(err, "invalid base URL %q", raw))
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.ConfigInvalidf("base URL %q must be an absolute http(s) URL", raw)
	}
	return nil
}

// SplitList splits a comma-separated list, dropping empty items.
func SplitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, strings.ToLower(item))
		}
	}
	return out
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.ConfigInvalidf("%s must be an integer, got %q", key, value)
	}
	return intValue, nil
}

func getEnvUintOrDefault(key string, defaultValue uint64) (uint64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	uintValue, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, errors.ConfigInvalidf("%s must be a non-negative integer, got %q", key, value)
	}
	return uintValue, nil
}

func getEnvFloatOrDefault(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, errors.ConfigInvalidf("%s must be a number, got %q", key, value)
	}
	return floatValue, nil
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.ConfigInvalidf("%s must be a duration, got %q", key, value)
	}
	return duration, nil
}
