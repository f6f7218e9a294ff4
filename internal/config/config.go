package config

import (
	"time"
)

// RelayConfig holds every tunable of a relay instance. All values are static
// once the engine is constructed.
type RelayConfig struct {
	// Observation store
	StoreCapacity    int `yaml:"storeCapacity"`    // max live entries (C)
	DedupWindow      int `yaml:"dedupWindow"`      // sequence markers remembered per entry (K)
	InitialHopBudget int `yaml:"initialHopBudget"` // hop budget for directly observed emitters

	// Aging
	HoldThreshold time.Duration `yaml:"holdThreshold"` // min age before an entry is relay-eligible
	StaleAfter    time.Duration `yaml:"staleAfter"`    // age at which the sweeper reclaims an entry
	SweepInterval time.Duration `yaml:"sweepInterval"` // eviction sweeper period

	// Transmission scheduler
	BroadcastPeriod time.Duration `yaml:"broadcastPeriod"` // scheduler tick, matches the broadcast slot
	BroadcastSets   int           `yaml:"broadcastSets"`   // concurrently active broadcast channels
	MinBatch        int           `yaml:"minBatch"`        // pending entries that justify a send
	MaxWait         time.Duration `yaml:"maxWait"`         // max time between sends regardless of batch
	RecoveryTimeout time.Duration `yaml:"recoveryTimeout"` // watchdog threshold for a full reset

	// Frame packing
	FrameBudget        int  `yaml:"frameBudget"`        // outbound frame byte budget
	MaxRecordsPerFrame int  `yaml:"maxRecordsPerFrame"` // record cap independent of byte budget
	IncludeTelemetry   bool `yaml:"includeTelemetry"`   // carry temperature/voltage extras per record

	// Ingestion
	IngestRatePerSec int `yaml:"ingestRatePerSec"` // observation events per second, 0 = unlimited

	// Telemetry hub
	EventBufferSize   int           `yaml:"eventBufferSize"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	HeartbeatJitter   time.Duration `yaml:"heartbeatJitter"`
}

// LoadRelayBaseline returns the compiled-in defaults. The timing values match
// the constants the relay firmware has shipped with.
func LoadRelayBaseline() *RelayConfig {
	return &RelayConfig{
		StoreCapacity:    100,
		DedupWindow:      10,
		InitialHopBudget: 3,

		HoldThreshold: 5 * time.Second,
		StaleAfter:    10 * time.Second,
		SweepInterval: 2 * time.Second,

		BroadcastPeriod: 2 * time.Second,
		BroadcastSets:   2,
		MinBatch:        3,
		MaxWait:         3 * time.Second,
		RecoveryTimeout: 5 * time.Second,

		FrameBudget:        191,
		MaxRecordsPerFrame: 24,
		IncludeTelemetry:   true,

		IngestRatePerSec: 0,

		EventBufferSize:   50,
		HeartbeatInterval: 15 * time.Second,
		HeartbeatJitter:   2 * time.Second,
	}
}
