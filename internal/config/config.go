// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir      string // Base directory for all databases (always absolute)
	Port         int
	LogLevel     string
	DevMode      bool
	RouterToken  string // Bearer token identifying the request router
	ManagerToken string // Bearer token identifying the strategy manager
	Backup       *BackupConfig
	// Cron schedules for background jobs
	ReconcileSchedule string
	BackupSchedule    string
}

// BackupConfig holds object-storage backup configuration.
// Backups are disabled when Bucket is empty.
type BackupConfig struct {
	Enabled         bool
	Endpoint        string // S3-compatible endpoint URL
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	RetentionCount  int // Number of backups to keep in the bucket
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("STAKELEDGER_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory to absolute path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	routerToken := getEnv("STAKELEDGER_ROUTER_TOKEN", "")
	if routerToken == "" {
		return nil, fmt.Errorf("STAKELEDGER_ROUTER_TOKEN is required")
	}
	managerToken := getEnv("STAKELEDGER_MANAGER_TOKEN", "")
	if managerToken == "" {
		return nil, fmt.Errorf("STAKELEDGER_MANAGER_TOKEN is required")
	}

	backup := &BackupConfig{
		Enabled:         getEnvBool("STAKELEDGER_BACKUP_ENABLED", false),
		Endpoint:        getEnv("STAKELEDGER_BACKUP_ENDPOINT", ""),
		Region:          getEnv("STAKELEDGER_BACKUP_REGION", "auto"),
		Bucket:          getEnv("STAKELEDGER_BACKUP_BUCKET", ""),
		AccessKeyID:     getEnv("STAKELEDGER_BACKUP_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("STAKELEDGER_BACKUP_SECRET_ACCESS_KEY", ""),
		RetentionCount:  getEnvInt("STAKELEDGER_BACKUP_RETENTION", 14),
	}
	if backup.Enabled && backup.Bucket == "" {
		return nil, fmt.Errorf("STAKELEDGER_BACKUP_BUCKET is required when backups are enabled")
	}

	return &Config{
		DataDir:           absDataDir,
		Port:              getEnvInt("STAKELEDGER_PORT", 8090),
		LogLevel:          getEnv("STAKELEDGER_LOG_LEVEL", "info"),
		DevMode:           getEnvBool("STAKELEDGER_DEV_MODE", false),
		RouterToken:       routerToken,
		ManagerToken:      managerToken,
		Backup:            backup,
		ReconcileSchedule: getEnv("STAKELEDGER_RECONCILE_SCHEDULE", "@every 5m"),
		BackupSchedule:    getEnv("STAKELEDGER_BACKUP_SCHEDULE", "@daily"),
	}, nil
}

// getEnv retrieves an environment variable value with a fallback
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getEnvInt retrieves an integer environment variable value with a fallback
func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

// getEnvBool retrieves a boolean environment variable value with a fallback
func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}
