package medium

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AddrLen is the emitter identity width in bytes.
const AddrLen = 6

// Addr is the stable over-the-air identity of an emitter. Byte order follows
// the radio convention: index 0 holds the least significant byte, so the
// textual form prints bytes high to low.
type Addr [AddrLen]byte

// String renders the address as colon-separated hex, most significant byte first.
func (a Addr) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X",
		a[5], a[4], a[3], a[2], a[1], a[0])
}

// ParseAddr parses a colon-separated hex address in String() order.
func ParseAddr(s string) (Addr, error) {
	var addr Addr

	parts := strings.Split(s, ":")
	if len(parts) != AddrLen {
		return addr, fmt.Errorf("address %q must have %d octets", s, AddrLen)
	}

	for i, part := range parts {
		val, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			return addr, fmt.Errorf("address %q has invalid octet %q: %w", s, part, err)
		}
		addr[AddrLen-1-i] = byte(val)
	}

	return addr, nil
}

// Observation is a single inbound advertisement event: who was heard, how
// loud, and the raw payload bytes for the core to parse.
type Observation struct {
	Addr    Addr
	RSSI    int8
	Payload []byte
}

// ObservationHandler receives inbound observation events. Implementations
// must be safe to call from the medium's own delivery goroutine.
type ObservationHandler func(obs Observation)

// Medium is the stable southbound contract to the radio stack.
type Medium interface {
	// StartScan begins passive scanning; observed advertisements are
	// delivered to the handler until StopScan or Reset.
	StartScan(ctx context.Context, handler ObservationHandler) error

	// StopScan halts scanning. Safe to call when not scanning.
	StopScan() error

	// SetBroadcastData loads a frame into a broadcast set. The set must not
	// be actively broadcasting.
	SetBroadcastData(set int, frame []byte) error

	// StartBroadcast begins broadcasting the loaded frame on a set for the
	// given duration.
	StartBroadcast(set int, duration time.Duration) error

	// StopBroadcast halts broadcasting on a set. Safe to call on an idle set.
	StopBroadcast(set int) error

	// Reset reinitializes the medium: all sets stopped, scanning stopped,
	// stack state rebuilt. Used by recovery.
	Reset(ctx context.Context) error
}
