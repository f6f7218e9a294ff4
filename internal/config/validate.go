package config

import (
	"fmt"
)

// maxBroadcastSets bounds the channel table; the scheduler keeps the active
// bits in a single 32-bit atomic bitmap.
const maxBroadcastSets = 32

// Validate enforces the relay configuration invariants.
func Validate(config *RelayConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validateStore(config); err != nil {
		return fmt.Errorf("store validation failed: %w", err)
	}

	if err := validateScheduler(config); err != nil {
		return fmt.Errorf("scheduler validation failed: %w", err)
	}

	if err := validateFrame(config); err != nil {
		return fmt.Errorf("frame validation failed: %w", err)
	}

	if err := validateTelemetry(config); err != nil {
		return fmt.Errorf("telemetry validation failed: %w", err)
	}

	return nil
}

// validateStore validates store sizing and aging parameters.
func validateStore(config *RelayConfig) error {
	if config.StoreCapacity <= 0 {
		return fmt.Errorf("store capacity must be positive, got %d", config.StoreCapacity)
	}

	if config.DedupWindow < 1 {
		return fmt.Errorf("dedup window must be at least 1, got %d", config.DedupWindow)
	}

	if config.InitialHopBudget < 0 || config.InitialHopBudget > 255 {
		return fmt.Errorf("initial hop budget must fit one byte, got %d", config.InitialHopBudget)
	}

	if config.HoldThreshold < 0 {
		return fmt.Errorf("hold threshold must be non-negative, got %v", config.HoldThreshold)
	}

	if config.StaleAfter <= 0 {
		return fmt.Errorf("stale-after must be positive, got %v", config.StaleAfter)
	}

	// Entries must stay resident at least long enough to become relay-eligible.
	if config.StaleAfter < config.HoldThreshold {
		return fmt.Errorf("stale-after %v must be >= hold threshold %v", config.StaleAfter, config.HoldThreshold)
	}

	if config.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %v", config.SweepInterval)
	}

	return nil
}

// validateScheduler validates the transmission scheduler parameters.
func validateScheduler(config *RelayConfig) error {
	if config.BroadcastPeriod <= 0 {
		return fmt.Errorf("broadcast period must be positive, got %v", config.BroadcastPeriod)
	}

	if config.BroadcastSets < 1 || config.BroadcastSets > maxBroadcastSets {
		return fmt.Errorf("broadcast sets must be in [1, %d], got %d", maxBroadcastSets, config.BroadcastSets)
	}

	if config.MinBatch < 1 {
		return fmt.Errorf("min batch must be at least 1, got %d", config.MinBatch)
	}

	if config.MaxWait <= 0 {
		return fmt.Errorf("max wait must be positive, got %v", config.MaxWait)
	}

	if config.RecoveryTimeout < config.BroadcastPeriod {
		return fmt.Errorf("recovery timeout %v must be >= broadcast period %v", config.RecoveryTimeout, config.BroadcastPeriod)
	}

	if config.IngestRatePerSec < 0 {
		return fmt.Errorf("ingest rate must be non-negative, got %d", config.IngestRatePerSec)
	}

	return nil
}

// validateFrame validates the frame packing parameters.
func validateFrame(config *RelayConfig) error {
	// Header plus at least one minimal record must fit.
	const minFrameBudget = 5 + 8

	if config.FrameBudget < minFrameBudget {
		return fmt.Errorf("frame budget must be at least %d bytes, got %d", minFrameBudget, config.FrameBudget)
	}

	if config.MaxRecordsPerFrame < 1 {
		return fmt.Errorf("max records per frame must be at least 1, got %d", config.MaxRecordsPerFrame)
	}

	return nil
}

// validateTelemetry validates the telemetry hub parameters.
func validateTelemetry(config *RelayConfig) error {
	if config.EventBufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive, got %d", config.EventBufferSize)
	}

	if config.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %v", config.HeartbeatInterval)
	}

	if config.HeartbeatJitter < 0 {
		return fmt.Errorf("heartbeat jitter must be non-negative, got %v", config.HeartbeatJitter)
	}

	if config.HeartbeatJitter > config.HeartbeatInterval/2 {
		return fmt.Errorf("heartbeat jitter %v exceeds 50%% of interval %v", config.HeartbeatJitter, config.HeartbeatInterval)
	}

	return nil
}
