// Package frame implements the relay wire layout: packing cached
// observations into bounded outbound frames, decoding relay frames on the
// listener side, and extracting the recognized sub-fields (relay envelope,
// Eddystone TLM telemetry) from raw inbound advertisements.
package frame
