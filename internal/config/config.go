// Package config provides application configuration management,
// loading settings from environment variables and .env files.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Replay sources
const (
	ReplayGPX       = "gpx"
	ReplayOwnTracks = "owntracks"
)

// Config holds all configuration for the agent
type Config struct {
	// Service configuration
	ServiceName string
	Environment string
	GRPCPort    string
	HTTPHost    string
	HTTPPort    string

	// Backend
	APIBaseURL string
	APITimeout time.Duration

	// Session
	SessionDBPath string
	RaceID        int
	UserEmail     string
	UserID        string
	UserName      string

	// Tracking
	ReportWindow             time.Duration
	LocationTimeInterval     time.Duration
	LocationDistanceInterval float64
	ReportWorkers            int
	ReportQueueSize          int

	// Race
	GeofenceRadiusM   float64
	NoticeTTL         time.Duration
	TeamsTTL          time.Duration
	ObjectivesTTL     time.Duration
	AutoCheckInterval time.Duration
	AutoAdvance       bool

	// Location replay
	ReplaySource     string
	ReplayGPXPath    string
	ReplayDeviceID   string
	ReplayDate       string
	ReplaySpeed      float64
	ReplayPermission string

	// OwnTracks database configuration
	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string

	// OpenTelemetry configuration
	OTELEndpoint   string
	TracingEnabled bool

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "treasurio-agent"),
		Environment: getEnv("ENVIRONMENT", "development"),
		GRPCPort:    getEnv("GRPC_PORT", "50051"),
		HTTPHost:    getEnv("HTTP_HOST", "127.0.0.1"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),

		APIBaseURL: getEnv("API_BASE_URL", "https://treasurehunt-jet.vercel.app"),

		SessionDBPath: getEnv("SESSION_DB_PATH", "./data/session.db"),
		UserEmail:     getEnv("USER_EMAIL", ""),
		UserID:        getEnv("USER_ID", ""),
		UserName:      getEnv("USER_NAME", ""),

		ReplaySource:     getEnv("REPLAY_SOURCE", ReplayGPX),
		ReplayGPXPath:    getEnv("REPLAY_GPX_PATH", ""),
		ReplayDeviceID:   getEnv("REPLAY_DEVICE_ID", ""),
		ReplayDate:       getEnv("REPLAY_DATE", ""),
		ReplayPermission: getEnv("REPLAY_PERMISSION", "granted"),

		PostgresHost:     getEnv("POSTGRES_HOST", "192.168.1.175"),
		PostgresPort:     getEnv("POSTGRES_PORT", "6432"),
		PostgresDB:       getEnv("POSTGRES_DB", "owntracks"),
		PostgresUser:     getEnv("POSTGRES_USER", "development"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "development"),

		OTELEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.RaceID, err = parseInt("RACE_ID", "0"); err != nil {
		return nil, fmt.Errorf("invalid RACE_ID: %w", err)
	}
	if cfg.APITimeout, err = parseDuration("API_TIMEOUT", "30s"); err != nil {
		return nil, fmt.Errorf("invalid API_TIMEOUT: %w", err)
	}

	if cfg.ReportWindow, err = parseDuration("REPORT_WINDOW", "30s"); err != nil {
		return nil, fmt.Errorf("invalid REPORT_WINDOW: %w", err)
	}
	if cfg.LocationTimeInterval, err = parseDuration("LOCATION_TIME_INTERVAL", "2s"); err != nil {
		return nil, fmt.Errorf("invalid LOCATION_TIME_INTERVAL: %w", err)
	}
	if cfg.LocationDistanceInterval, err = parseFloat("LOCATION_DISTANCE_INTERVAL_M", "40"); err != nil {
		return nil, fmt.Errorf("invalid LOCATION_DISTANCE_INTERVAL_M: %w", err)
	}
	if cfg.ReportWorkers, err = parseInt("REPORT_WORKERS", "1"); err != nil {
		return nil, fmt.Errorf("invalid REPORT_WORKERS: %w", err)
	}
	if cfg.ReportQueueSize, err = parseInt("REPORT_QUEUE_SIZE", "16"); err != nil {
		return nil, fmt.Errorf("invalid REPORT_QUEUE_SIZE: %w", err)
	}

	if cfg.GeofenceRadiusM, err = parseFloat("GEOFENCE_RADIUS_M", "50"); err != nil {
		return nil, fmt.Errorf("invalid GEOFENCE_RADIUS_M: %w", err)
	}
	if cfg.NoticeTTL, err = parseDuration("NOTICE_TTL", "5s"); err != nil {
		return nil, fmt.Errorf("invalid NOTICE_TTL: %w", err)
	}
	if cfg.TeamsTTL, err = parseDuration("TEAMS_TTL", "10s"); err != nil {
		return nil, fmt.Errorf("invalid TEAMS_TTL: %w", err)
	}
	if cfg.ObjectivesTTL, err = parseDuration("OBJECTIVES_TTL", "1h"); err != nil {
		return nil, fmt.Errorf("invalid OBJECTIVES_TTL: %w", err)
	}
	if cfg.AutoCheckInterval, err = parseDuration("AUTO_CHECK_INTERVAL", "20s"); err != nil {
		return nil, fmt.Errorf("invalid AUTO_CHECK_INTERVAL: %w", err)
	}
	if cfg.AutoAdvance, err = parseBool("AUTO_ADVANCE", "true"); err != nil {
		return nil, fmt.Errorf("invalid AUTO_ADVANCE: %w", err)
	}

	if cfg.ReplaySpeed, err = parseFloat("REPLAY_SPEED", "1"); err != nil {
		return nil, fmt.Errorf("invalid REPLAY_SPEED: %w", err)
	}
	if cfg.TracingEnabled, err = parseBool("TRACING_ENABLED", "false"); err != nil {
		return nil, fmt.Errorf("invalid TRACING_ENABLED: %w", err)
	}

	switch cfg.ReplaySource {
	case ReplayGPX, ReplayOwnTracks:
	default:
		return nil, fmt.Errorf("invalid REPLAY_SOURCE %q: want %s or %s", cfg.ReplaySource, ReplayGPX, ReplayOwnTracks)
	}

	return cfg, nil
}

// HTTPAddr returns the address the local API listens on
func (c *Config) HTTPAddr() string {
	return net.JoinHostPort(c.HTTPHost, c.HTTPPort)
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s dbname=%s user=%s password=%s sslmode=disable",
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresDB,
		c.PostgresUser,
		c.PostgresPassword,
	)
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseFloat parses a float64 from an environment variable or default value
func parseFloat(key, defaultValue string) (float64, error) {
	value := getEnv(key, defaultValue)
	return strconv.ParseFloat(value, 64)
}

func parseInt(key, defaultValue string) (int, error) {
	return strconv.Atoi(getEnv(key, defaultValue))
}

func parseBool(key, defaultValue string) (bool, error) {
	return strconv.ParseBool(getEnv(key, defaultValue))
}

func parseDuration(key, defaultValue string) (time.Duration, error) {
	return time.ParseDuration(getEnv(key, defaultValue))
}
