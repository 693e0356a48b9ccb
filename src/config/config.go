package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Config carries the tunables of a node. Values come from the environment,
// optionally seeded from a .env file; command-line flags override them.
type Config struct {
	SnapshotPath      string        // key-value snapshot file
	SnapshotInterval  time.Duration // periodic save; 0 disables the ticker
	HeartbeatInterval time.Duration // primary -> backup probe cadence
	HeartbeatTimeout  time.Duration // bounded wait for one heartbeat reply
	DialTimeout       time.Duration // outbound connect timeout
	QueueSize         int           // per-backup replication queue depth
	MetricsAddr       string        // prometheus endpoint; empty disables it
}

// Load reads configPath as a .env file when it exists and fills defaults
// from the environment.
func Load(configPath string) (*Config, error) {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := godotenv.Load(configPath); err != nil {
				return nil, errors.Wrapf(err, "load config %s", configPath)
			}
		}
	}

	return &Config{
		SnapshotPath:      getEnvString("KV_SNAPSHOT_PATH", "kv-store.json"),
		SnapshotInterval:  getEnvDuration("KV_SNAPSHOT_INTERVAL", 0),
		HeartbeatInterval: getEnvDuration("KV_HEARTBEAT_INTERVAL", time.Second),
		HeartbeatTimeout:  getEnvDuration("KV_HEARTBEAT_TIMEOUT", 2*time.Second),
		DialTimeout:       getEnvDuration("KV_DIAL_TIMEOUT", 5*time.Second),
		QueueSize:         getEnvInt("KV_QUEUE_SIZE", 256),
		MetricsAddr:       getEnvString("KV_METRICS_ADDR", ""),
	}, nil
}

func Default() *Config {
	cfg, _ := Load("")
	return cfg
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
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
