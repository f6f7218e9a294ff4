package natsmedium

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/beacon-relay/brc/internal/medium"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestNewRequiresURL(t *testing.T) {
	if _, err := New(Config{}, testLogger()); err == nil {
		t.Error("expected error for empty URL")
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil passes through", nil, nil},
		{"connection closed", nats.ErrConnectionClosed, medium.ErrUnavailable},
		{"draining", nats.ErrConnectionDraining, medium.ErrUnavailable},
		{"no servers", nats.ErrNoServers, medium.ErrUnavailable},
		{"timeout", nats.ErrTimeout, medium.ErrBusy},
		{"unknown", errors.New("boom"), medium.ErrInternal},
	}

	m := &NATSMedium{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.normalize(tt.err)
			if tt.want == nil {
				if got != nil {
					t.Errorf("expected nil, got %v", got)
				}
				return
			}
			if !errors.Is(got, tt.want) {
				t.Errorf("normalize(%v) = %v, want %v", tt.err, got, tt.want)
			}
			var stackErr *medium.StackError
			if !errors.As(got, &stackErr) {
				t.Errorf("normalized error must preserve the original, got %T", got)
			}
		})
	}
}

func TestObservationMessageDecoding(t *testing.T) {
	wire := observationMsg{
		Addr:    "C0:01:02:03:04:05",
		RSSI:    -72,
		Payload: []byte{0x08, 0xFF, 0x59, 0x00, 0x08, 0x01, 0x03},
	}
	data, err := json.Marshal(wire)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var got observationMsg
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	addr, err := medium.ParseAddr(got.Addr)
	if err != nil {
		t.Fatalf("ParseAddr failed: %v", err)
	}
	if addr[5] != 0xC0 || addr[0] != 0x05 {
		t.Errorf("address bytes not little-endian: %v", addr)
	}
	if got.RSSI != -72 || len(got.Payload) != 7 {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestFrameMessageRoundTrip(t *testing.T) {
	wire := frameMsg{Set: 1, Duration: 2 * time.Second, Frame: []byte{0x59, 0x00, 0x08, 0x07, 0x03}}
	data, err := json.Marshal(wire)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var got frameMsg
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if got.Set != 1 || got.Duration != 2*time.Second || len(got.Frame) != 5 {
		t.Errorf("round trip mismatch: %+v", got)
	}
}
