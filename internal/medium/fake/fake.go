// Package fake provides an in-memory radio medium implementation for testing.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/beacon-relay/brc/internal/medium"
)

// broadcastSet tracks the state of one advertising set.
type broadcastSet struct {
	data   []byte
	active bool
}

// FakeMedium implements medium.Medium with in-memory state. Tests inject
// observations with Observe and inspect dispatched frames with Sent.
type FakeMedium struct {
	mu sync.Mutex

	scanning bool
	handler  medium.ObservationHandler

	sets map[int]*broadcastSet
	sent [][]byte

	resets int

	// Error simulation
	simulateErrors bool
	errorCode      string
}

// NewFakeMedium creates a fake medium with no active sets.
func NewFakeMedium() *FakeMedium {
	return &FakeMedium{
		sets: make(map[int]*broadcastSet),
	}
}

// StartScan records the observation handler and marks scanning active.
func (f *FakeMedium) StartScan(ctx context.Context, handler medium.ObservationHandler) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.simulatedError(); err != nil {
		return err
	}
	if f.scanning {
		return medium.ErrBusy
	}

	f.scanning = true
	f.handler = handler
	return nil
}

// StopScan marks scanning inactive.
func (f *FakeMedium) StopScan() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.simulatedError(); err != nil {
		return err
	}

	f.scanning = false
	f.handler = nil
	return nil
}

// SetBroadcastData stages frame bytes on a set. Staging while the set is
// still broadcasting fails with ErrBusy.
func (f *FakeMedium) SetBroadcastData(set int, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.simulatedError(); err != nil {
		return err
	}

	s := f.set(set)
	if s.active {
		return medium.ErrBusy
	}

	s.data = append([]byte(nil), frame...)
	return nil
}

// StartBroadcast activates a set and records its staged frame as sent.
// The set stays active until StopBroadcast or Reset; the duration is
// recorded but not acted on, tests drive completion explicitly.
func (f *FakeMedium) StartBroadcast(set int, duration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.simulatedError(); err != nil {
		return err
	}

	s := f.set(set)
	if s.active {
		return medium.ErrBusy
	}
	if s.data == nil {
		return medium.ErrInternal
	}

	s.active = true
	f.sent = append(f.sent, append([]byte(nil), s.data...))
	return nil
}

// StopBroadcast deactivates a set. Stopping an idle set is a no-op.
func (f *FakeMedium) StopBroadcast(set int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.simulatedError(); err != nil {
		return err
	}

	f.set(set).active = false
	return nil
}

// Reset drops all broadcast and scan state.
func (f *FakeMedium) Reset(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.simulatedError(); err != nil {
		return err
	}

	f.scanning = false
	f.handler = nil
	f.sets = make(map[int]*broadcastSet)
	f.resets++
	return nil
}

// set returns the tracked state for an index, creating it on first use.
// Callers hold f.mu.
func (f *FakeMedium) set(index int) *broadcastSet {
	s, ok := f.sets[index]
	if !ok {
		s = &broadcastSet{}
		f.sets[index] = s
	}
	return s
}

// Helper methods for testing

// Observe delivers a raw observation to the registered scan handler.
// It reports whether a handler was scanning.
func (f *FakeMedium) Observe(obs medium.Observation) bool {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()

	if handler == nil {
		return false
	}
	handler(obs)
	return true
}

// Sent returns copies of every frame passed to StartBroadcast, in order.
func (f *FakeMedium) Sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

// Scanning reports whether a scan is active.
func (f *FakeMedium) Scanning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scanning
}

// SetActive reports whether a broadcast set is active.
func (f *FakeMedium) SetActive(index int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sets[index]
	return ok && s.active
}

// Resets returns how many times Reset completed.
func (f *FakeMedium) Resets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets
}

// SetErrorSimulation makes every call fail with the sentinel named by code
// ("BUSY", "UNAVAILABLE" or "INTERNAL").
func (f *FakeMedium) SetErrorSimulation(code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simulateErrors = true
	f.errorCode = code
}

// DisableErrorSimulation restores normal behavior.
func (f *FakeMedium) DisableErrorSimulation() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simulateErrors = false
	f.errorCode = ""
}

// simulatedError returns the configured sentinel. Callers hold f.mu.
func (f *FakeMedium) simulatedError() error {
	if !f.simulateErrors {
		return nil
	}
	switch f.errorCode {
	case "BUSY":
		return medium.ErrBusy
	case "UNAVAILABLE":
		return medium.ErrUnavailable
	default:
		return medium.ErrInternal
	}
}
