package fake

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/beacon-relay/brc/internal/medium"
)

func TestScanLifecycle(t *testing.T) {
	f := NewFakeMedium()
	ctx := context.Background()

	var got []medium.Observation
	handler := func(obs medium.Observation) { got = append(got, obs) }

	if err := f.StartScan(ctx, handler); err != nil {
		t.Fatalf("StartScan failed: %v", err)
	}
	if !f.Scanning() {
		t.Error("expected scanning active")
	}

	if err := f.StartScan(ctx, handler); !errors.Is(err, medium.ErrBusy) {
		t.Errorf("double StartScan must return ErrBusy, got %v", err)
	}

	obs := medium.Observation{
		Addr:    medium.Addr{0x01, 0x02, 0x03, 0x04, 0x05, 0x06},
		RSSI:    -60,
		Payload: []byte{0x02, 0x01, 0x06},
	}
	if !f.Observe(obs) {
		t.Fatal("Observe must reach the registered handler")
	}
	if len(got) != 1 || got[0].RSSI != -60 {
		t.Errorf("handler received %v", got)
	}

	if err := f.StopScan(); err != nil {
		t.Fatalf("StopScan failed: %v", err)
	}
	if f.Observe(obs) {
		t.Error("Observe after StopScan must report no handler")
	}
}

func TestStartScanRespectsContext(t *testing.T) {
	f := NewFakeMedium()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := f.StartScan(ctx, func(medium.Observation) {}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestBroadcastLifecycle(t *testing.T) {
	f := NewFakeMedium()
	frame := []byte{0x59, 0x00, 0x08, 0x01, 0x03}

	if err := f.StartBroadcast(0, time.Second); !errors.Is(err, medium.ErrInternal) {
		t.Errorf("broadcast without staged data must fail, got %v", err)
	}

	if err := f.SetBroadcastData(0, frame); err != nil {
		t.Fatalf("SetBroadcastData failed: %v", err)
	}
	if err := f.StartBroadcast(0, time.Second); err != nil {
		t.Fatalf("StartBroadcast failed: %v", err)
	}
	if !f.SetActive(0) {
		t.Error("set 0 must be active")
	}

	if err := f.SetBroadcastData(0, frame); !errors.Is(err, medium.ErrBusy) {
		t.Errorf("staging on an active set must return ErrBusy, got %v", err)
	}
	if err := f.StartBroadcast(0, time.Second); !errors.Is(err, medium.ErrBusy) {
		t.Errorf("restarting an active set must return ErrBusy, got %v", err)
	}

	if err := f.StopBroadcast(0); err != nil {
		t.Fatalf("StopBroadcast failed: %v", err)
	}
	if f.SetActive(0) {
		t.Error("set 0 must be idle after stop")
	}

	sent := f.Sent()
	if len(sent) != 1 || !bytes.Equal(sent[0], frame) {
		t.Errorf("sent frames = %v", sent)
	}
}

func TestSentCopiesFrames(t *testing.T) {
	f := NewFakeMedium()
	frame := []byte{0x59, 0x00, 0x08, 0x02, 0x02}

	if err := f.SetBroadcastData(1, frame); err != nil {
		t.Fatalf("SetBroadcastData failed: %v", err)
	}
	frame[3] = 0xFF // mutate caller copy after staging
	if err := f.StartBroadcast(1, time.Second); err != nil {
		t.Fatalf("StartBroadcast failed: %v", err)
	}

	if got := f.Sent()[0][3]; got != 0x02 {
		t.Errorf("staged frame must be copied, got byte %#x", got)
	}
}

func TestIndependentSets(t *testing.T) {
	f := NewFakeMedium()

	for _, set := range []int{0, 1} {
		if err := f.SetBroadcastData(set, []byte{0x59, 0x00, 0x08, byte(set), 0x03}); err != nil {
			t.Fatalf("SetBroadcastData(%d) failed: %v", set, err)
		}
		if err := f.StartBroadcast(set, time.Second); err != nil {
			t.Fatalf("StartBroadcast(%d) failed: %v", set, err)
		}
	}

	if err := f.StopBroadcast(0); err != nil {
		t.Fatalf("StopBroadcast(0) failed: %v", err)
	}
	if f.SetActive(0) || !f.SetActive(1) {
		t.Error("stopping set 0 must not affect set 1")
	}
}

func TestReset(t *testing.T) {
	f := NewFakeMedium()
	ctx := context.Background()

	if err := f.StartScan(ctx, func(medium.Observation) {}); err != nil {
		t.Fatalf("StartScan failed: %v", err)
	}
	if err := f.SetBroadcastData(0, []byte{0x59, 0x00, 0x08, 0x00, 0x03}); err != nil {
		t.Fatalf("SetBroadcastData failed: %v", err)
	}
	if err := f.StartBroadcast(0, time.Second); err != nil {
		t.Fatalf("StartBroadcast failed: %v", err)
	}

	if err := f.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	if f.Scanning() || f.SetActive(0) {
		t.Error("Reset must drop scan and broadcast state")
	}
	if f.Resets() != 1 {
		t.Errorf("Resets() = %d, want 1", f.Resets())
	}
}

func TestErrorSimulation(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{"BUSY", medium.ErrBusy},
		{"UNAVAILABLE", medium.ErrUnavailable},
		{"INTERNAL", medium.ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			f := NewFakeMedium()
			f.SetErrorSimulation(tt.code)

			if err := f.SetBroadcastData(0, []byte{0x00}); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}

			f.DisableErrorSimulation()
			if err := f.SetBroadcastData(0, []byte{0x00}); err != nil {
				t.Errorf("expected success after disabling simulation, got %v", err)
			}
		})
	}
}
