// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/adhocore/gronx"
	"github.com/joho/godotenv"
)

// ServerConfig holds all server-related settings
type ServerConfig struct {
	Port           int
	Host           string
	MetricsEnabled bool
	NodeName       string
}

// DatabaseConfig holds database configuration settings
type DatabaseConfig struct {
	Type string // "mongo" or "memory"
	URI  string
	Name string
	// RequireTransactions refuses to start against a deployment without
	// transaction support. Transactions are used whenever available.
	RequireTransactions bool
}

// WebsocketConfig bounds per-connection resources
type WebsocketConfig struct {
	SendBuffer     int
	MaxMessageSize int64
	RateLimit      float64 // intents per second
	RateBurst      int
}

// RedisConfig configures the optional cross-node event relay
type RedisConfig struct {
	Enabled bool
	Addr    string
	Channel string
}

// Config holds the complete application configuration
type Config struct {
	Server         *ServerConfig
	Database       *DatabaseConfig
	Websocket      *WebsocketConfig
	Redis          *RedisConfig
	JWTSecret      string
	SweepCron      string
	MediaMaxBytes  int64
	AllowedOrigins []string
	Debug          bool

	// Warnings collects fallbacks applied while loading, for logging once
	// the logger is up.
	Warnings []string
}

const (
	DBTypeMongo  = "mongo"
	DBTypeMemory = "memory"

	DefaultSweepCron = "* * * * *"
)

// DefaultConfig provides default server settings
func DefaultConfig() *ServerConfig {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "gator-chat"
	}
	return &ServerConfig{
		Port:           8080,
		Host:           "0.0.0.0",
		MetricsEnabled: true,
		NodeName:       hostname,
	}
}

// DefaultDatabaseConfig provides default database settings
func DefaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Type: DBTypeMongo,
		Name: "gator_chat",
	}
}

func DefaultWebsocketConfig() *WebsocketConfig {
	return &WebsocketConfig{
		SendBuffer:     256,
		MaxMessageSize: 64 * 1024,
		RateLimit:      20,
		RateBurst:      40,
	}
}

// LoadConfig loads configuration from environment variables and applies defaults
func LoadConfig() (*Config, error) {
	// Try to load .env file from multiple possible locations
	envLocations := []string{
		".env",          // Current directory
		"../../.env",    // Project root when running from cmd/engine
		"../../../.env", // Even higher directory
		filepath.Join(os.Getenv("GOPATH"), "src/gator-chat/.env"),
	}

	envLoaded := false
	for _, location := range envLocations {
		if err := godotenv.Load(location); err == nil {
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		// Silent failure if no .env exists
		_ = godotenv.Load()
	}

	return FromEnv()
}

// FromEnv builds the configuration from the process environment only.
func FromEnv() (*Config, error) {
	serverConfig := DefaultConfig()
	serverConfig.Port = getIntOrDefault("PORT", serverConfig.Port)
	serverConfig.Host = getEnvOrDefault("HOST", serverConfig.Host)
	serverConfig.MetricsEnabled = getBoolOrDefault("METRICS_ENABLED", serverConfig.MetricsEnabled)
	serverConfig.NodeName = getEnvOrDefault("NODE_NAME", serverConfig.NodeName)

	dbConfig := DefaultDatabaseConfig()
	dbConfig.Type = strings.ToLower(getEnvOrDefault("DB_TYPE", dbConfig.Type))
	dbConfig.URI = os.Getenv("MONGODB_URI")
	dbConfig.Name = getEnvOrDefault("MONGODB_DATABASE", dbConfig.Name)
	dbConfig.RequireTransactions = getBoolOrDefault("MONGODB_TRANSACTIONS", false)

	switch dbConfig.Type {
	case DBTypeMongo:
		if dbConfig.URI == "" {
			return nil, fmt.Errorf("MONGODB_URI environment variable is required when DB_TYPE is mongo")
		}
	case DBTypeMemory:
	default:
		return nil, fmt.Errorf("unsupported DB_TYPE %q", dbConfig.Type)
	}

	wsConfig := DefaultWebsocketConfig()
	wsConfig.SendBuffer = getIntOrDefault("WS_SEND_BUFFER", wsConfig.SendBuffer)
	wsConfig.MaxMessageSize = int64(getIntOrDefault("WS_MAX_MESSAGE_SIZE", int(wsConfig.MaxMessageSize)))
	wsConfig.RateLimit = getFloatOrDefault("WS_RATE_LIMIT", wsConfig.RateLimit)
	wsConfig.RateBurst = getIntOrDefault("WS_RATE_BURST", wsConfig.RateBurst)

	redisConfig := &RedisConfig{
		Enabled: getBoolOrDefault("REDIS_ENABLED", false),
		Addr:    getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		Channel: getEnvOrDefault("REDIS_CHANNEL", "gator-chat:events"),
	}

	var warnings []string
	sweepCron := getEnvOrDefault("SWEEP_CRON", DefaultSweepCron)
	if !gronx.IsValid(sweepCron) {
		warnings = append(warnings, fmt.Sprintf("invalid SWEEP_CRON %q, using %q", sweepCron, DefaultSweepCron))
		sweepCron = DefaultSweepCron
	}

	config := &Config{
		Server:         serverConfig,
		Database:       dbConfig,
		Websocket:      wsConfig,
		Redis:          redisConfig,
		JWTSecret:      getEnvOrDefault("JWT_SECRET", "your-secret-key"),
		SweepCron:      sweepCron,
		MediaMaxBytes:  int64(getIntOrDefault("MEDIA_MAX_BYTES", 10*1024*1024)),
		AllowedOrigins: []string{"*"}, // Default to allow all origins
		Debug:          getBoolOrDefault("DEBUG", false),
		Warnings:       warnings,
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = strings.Split(origins, ",")
	}

	return config, nil
}

// Helper function to get environment variable with default fallback
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil && f > 0 {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
