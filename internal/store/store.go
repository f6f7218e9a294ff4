package store

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/beacon-relay/brc/internal/medium"
)

// ErrFull is returned when an insertion finds no free slot. Admission control
// is advisory only: the store never evicts to make room and never blocks.
var ErrFull = errors.New("FULL")

// Outcome classifies what an upsert did.
type Outcome int

const (
	// OutcomeInserted means a new entry was created for the emitter.
	OutcomeInserted Outcome = iota
	// OutcomeUpdated means an existing entry was refreshed.
	OutcomeUpdated
	// OutcomeDuplicate means the sequence marker was already held and the
	// entry was left untouched.
	OutcomeDuplicate
)

// String returns the outcome name for logs and metrics labels.
func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeUpdated:
		return "updated"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Observation is one parsed inbound advertisement ready for admission.
type Observation struct {
	Addr        medium.Addr
	RSSI        int8
	Sequence    uint8
	HopBudget   uint8
	Relayed     bool // true when the observation arrived through another relay
	Temperature int16
	Voltage     uint16
}

// Entry is one cached emitter observation. Entries returned by Snapshot and
// the drain operations are copies; mutating them does not touch the store.
type Entry struct {
	Addr        medium.Addr
	RSSI        int8
	HopBudget   uint8
	LastSeen    time.Time
	Temperature int16
	Voltage     uint16

	valid bool
	dedup dedupWindow
}

// Result reports the slot and outcome of an upsert.
type Result struct {
	Slot    int
	Outcome Outcome
}

// Store is the bounded, keyed observation cache.
type Store struct {
	mu    sync.Mutex
	slots []Entry
	live  atomic.Int32

	// now is replaceable for tests.
	now func() time.Time
}

// New creates a store with a fixed capacity of slots and a dedup window of
// the given marker count per entry.
func New(capacity, dedupWindowSize int) *Store {
	return NewWithClock(capacity, dedupWindowSize, time.Now)
}

// NewWithClock creates a store that stamps entries with the given clock.
func NewWithClock(capacity, dedupWindowSize int, clock func() time.Time) *Store {
	s := &Store{
		slots: make([]Entry, capacity),
		now:   clock,
	}
	for i := range s.slots {
		s.slots[i].dedup = newDedupWindow(dedupWindowSize)
	}
	return s
}

// Upsert admits an observation. For a known emitter whose sequence marker is
// already held, the call is a no-op duplicate. Otherwise the entry is
// refreshed: signal strength keeps the maximum observed value, the hop budget
// is replaced by the incoming budget decremented once for relayed
// observations (floored at 0), and the marker enters the dedup window. A new
// emitter takes the first free slot; with no free slot, ErrFull is returned
// and the observation is dropped.
func (s *Store) Upsert(obs Observation) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := -1
	free := -1
	for i := range s.slots {
		if !s.slots[i].valid {
			if free == -1 {
				free = i
			}
			continue
		}
		if s.slots[i].Addr == obs.Addr {
			existing = i
			break
		}
	}

	hop := obs.HopBudget
	if obs.Relayed && hop > 0 {
		hop--
	}

	if existing != -1 {
		entry := &s.slots[existing]
		if entry.dedup.contains(obs.Sequence) {
			return Result{Slot: existing, Outcome: OutcomeDuplicate}, nil
		}

		entry.LastSeen = s.now()
		if obs.RSSI > entry.RSSI {
			entry.RSSI = obs.RSSI
		}
		entry.HopBudget = hop
		entry.Temperature = obs.Temperature
		entry.Voltage = obs.Voltage
		entry.dedup.push(obs.Sequence)
		return Result{Slot: existing, Outcome: OutcomeUpdated}, nil
	}

	if free == -1 {
		return Result{Slot: -1}, ErrFull
	}

	entry := &s.slots[free]
	entry.Addr = obs.Addr
	entry.RSSI = obs.RSSI
	entry.HopBudget = hop
	entry.LastSeen = s.now()
	entry.Temperature = obs.Temperature
	entry.Voltage = obs.Voltage
	entry.valid = true
	entry.dedup.reset()
	entry.dedup.push(obs.Sequence)
	s.live.Add(1)

	return Result{Slot: free, Outcome: OutcomeInserted}, nil
}

// DrainFunc walks relay-eligible entries (live, older than minAge, hop budget
// above zero) and offers each to accept. When accept returns true the slot is
// invalidated — consumption is destructive and happens at most once per
// observation. When accept returns false the walk stops, leaving the entry
// and everything after it queued for a later pass. Returns the number of
// entries consumed.
func (s *Store) DrainFunc(minAge time.Duration, accept func(Entry) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	consumed := 0
	for i := range s.slots {
		entry := &s.slots[i]
		if !entry.valid || entry.HopBudget == 0 {
			continue
		}
		if now.Sub(entry.LastSeen) < minAge {
			continue
		}
		if !accept(*entry) {
			break
		}
		entry.valid = false
		s.live.Add(-1)
		consumed++
	}
	return consumed
}

// DrainEligible removes and returns up to maxCount relay-eligible entries
// older than minAge. Entries with an exhausted hop budget are skipped but
// retained for local bookkeeping.
func (s *Store) DrainEligible(maxCount int, minAge time.Duration) []Entry {
	if maxCount <= 0 {
		return nil
	}

	drained := make([]Entry, 0, maxCount)
	s.DrainFunc(minAge, func(e Entry) bool {
		if len(drained) == maxCount {
			return false
		}
		drained = append(drained, e)
		return true
	})
	return drained
}

// SweepExpired invalidates every live entry older than maxAge, regardless of
// relay eligibility, and returns the number reclaimed. Runs independently of
// draining so occupancy stays bounded even when nothing is transmitted.
func (s *Store) SweepExpired(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	swept := 0
	for i := range s.slots {
		entry := &s.slots[i]
		if entry.valid && now.Sub(entry.LastSeen) >= maxAge {
			entry.valid = false
			s.live.Add(-1)
			swept++
		}
	}
	return swept
}

// Snapshot returns copies of all live entries.
func (s *Store) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]Entry, 0, s.live.Load())
	for i := range s.slots {
		if s.slots[i].valid {
			entries = append(entries, s.slots[i])
		}
	}
	return entries
}

// Len returns the live entry count without taking the store lock.
func (s *Store) Len() int {
	return int(s.live.Load())
}

// Capacity returns the fixed slot count.
func (s *Store) Capacity() int {
	return len(s.slots)
}

// Reset invalidates every entry. Used by recovery.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.slots {
		s.slots[i].valid = false
		s.slots[i].dedup.reset()
	}
	s.live.Store(0)
}
