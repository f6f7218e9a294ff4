package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load merges defaults from LoadRelayBaseline() + env overrides (BRC_*) +
// an optional YAML file. Pass an empty path to skip the file stage.
func Load(path string) (*RelayConfig, error) {
	config := LoadRelayBaseline()

	applyEnvOverrides(config)

	if path != "" {
		if err := applyFile(config, path); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	} else if _, err := os.Stat("config.yaml"); err == nil {
		if err := applyFile(config, "config.yaml"); err != nil {
			return nil, fmt.Errorf("failed to load config.yaml: %w", err)
		}
	}

	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// applyEnvOverrides applies BRC_* environment variables to the config.
// Unparseable values are ignored, the baseline wins.
func applyEnvOverrides(config *RelayConfig) {
	config.StoreCapacity = GetEnvInt("BRC_STORE_CAPACITY", config.StoreCapacity)
	config.DedupWindow = GetEnvInt("BRC_DEDUP_WINDOW", config.DedupWindow)
	config.InitialHopBudget = GetEnvInt("BRC_INITIAL_HOP_BUDGET", config.InitialHopBudget)

	config.HoldThreshold = GetEnvDuration("BRC_HOLD_THRESHOLD", config.HoldThreshold)
	config.StaleAfter = GetEnvDuration("BRC_STALE_AFTER", config.StaleAfter)
	config.SweepInterval = GetEnvDuration("BRC_SWEEP_INTERVAL", config.SweepInterval)

	config.BroadcastPeriod = GetEnvDuration("BRC_BROADCAST_PERIOD", config.BroadcastPeriod)
	config.BroadcastSets = GetEnvInt("BRC_BROADCAST_SETS", config.BroadcastSets)
	config.MinBatch = GetEnvInt("BRC_MIN_BATCH", config.MinBatch)
	config.MaxWait = GetEnvDuration("BRC_MAX_WAIT", config.MaxWait)
	config.RecoveryTimeout = GetEnvDuration("BRC_RECOVERY_TIMEOUT", config.RecoveryTimeout)

	config.FrameBudget = GetEnvInt("BRC_FRAME_BUDGET", config.FrameBudget)
	config.MaxRecordsPerFrame = GetEnvInt("BRC_MAX_RECORDS_PER_FRAME", config.MaxRecordsPerFrame)
	config.IncludeTelemetry = GetEnvBool("BRC_INCLUDE_TELEMETRY", config.IncludeTelemetry)

	config.IngestRatePerSec = GetEnvInt("BRC_INGEST_RATE_PER_SEC", config.IngestRatePerSec)

	config.EventBufferSize = GetEnvInt("BRC_EVENT_BUFFER_SIZE", config.EventBufferSize)
	config.HeartbeatInterval = GetEnvDuration("BRC_HEARTBEAT_INTERVAL", config.HeartbeatInterval)
	config.HeartbeatJitter = GetEnvDuration("BRC_HEARTBEAT_JITTER", config.HeartbeatJitter)
}

// applyFile overlays a YAML file onto the config. File values win over env
// overrides; absent keys leave the current value untouched.
func applyFile(config *RelayConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to decode YAML: %w", err)
	}

	return nil
}

// GetEnvVar returns the value of an environment variable with a default.
func GetEnvVar(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvDuration returns the value of an environment variable as a duration with a default.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GetEnvInt returns the value of an environment variable as an int with a default.
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// GetEnvBool returns the value of an environment variable as a bool with a default.
func GetEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
