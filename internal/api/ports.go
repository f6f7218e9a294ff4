// Package api defines ports (interfaces) for API server dependencies.
package api

import (
	"context"
	"net/http"

	"github.com/beacon-relay/brc/internal/engine"
	"github.com/beacon-relay/brc/internal/store"
	"github.com/beacon-relay/brc/internal/telemetry"
)

// RelayPort defines the minimal interface the API needs from the relay engine.
type RelayPort interface {
	Status() engine.Status
	RequestReset(ctx context.Context) error
}

// ObservationPort defines the minimal interface for reading the observation store.
type ObservationPort interface {
	Snapshot() []store.Entry
	Len() int
	Capacity() int
}

// TelemetryPort defines the minimal interface the API needs from the telemetry hub.
type TelemetryPort interface {
	Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error
}

// Compile-time assertions for port conformance
var _ RelayPort = (*engine.Engine)(nil)
var _ ObservationPort = (*store.Store)(nil)
var _ TelemetryPort = (*telemetry.Hub)(nil)
