package store

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/beacon-relay/brc/internal/medium"
)

// fakeClock drives the store's notion of time deterministically.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func newTestStore(capacity, window int) (*Store, *fakeClock) {
	s := New(capacity, window)
	clock := newFakeClock()
	s.now = clock.Now
	return s, clock
}

func addr(b byte) medium.Addr {
	return medium.Addr{b, 0x01, 0x02, 0x03, 0x04, 0x05}
}

func obs(a medium.Addr, seq uint8) Observation {
	return Observation{Addr: a, RSSI: -60, Sequence: seq, HopBudget: 3}
}

func TestUpsertInsertsAndUpdates(t *testing.T) {
	s, clock := newTestStore(10, 10)

	res, err := s.Upsert(obs(addr(0xAA), 1))
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if res.Outcome != OutcomeInserted {
		t.Errorf("expected inserted, got %v", res.Outcome)
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 live entry, got %d", s.Len())
	}

	clock.Advance(time.Second)
	res, err = s.Upsert(obs(addr(0xAA), 2))
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if res.Outcome != OutcomeUpdated {
		t.Errorf("expected updated, got %v", res.Outcome)
	}
	if s.Len() != 1 {
		t.Errorf("update must not create a second entry, got %d", s.Len())
	}
}

func TestUpsertUniquenessPerIdentity(t *testing.T) {
	s, _ := newTestStore(20, 10)

	// Many upserts of the same identity with distinct markers.
	for seq := uint8(0); seq < 50; seq++ {
		if _, err := s.Upsert(obs(addr(0xAA), seq)); err != nil {
			t.Fatalf("Upsert seq %d failed: %v", seq, err)
		}
	}

	if s.Len() != 1 {
		t.Errorf("expected exactly one live entry, got %d", s.Len())
	}

	live := 0
	for _, e := range s.Snapshot() {
		if e.Addr == addr(0xAA) {
			live++
		}
	}
	if live != 1 {
		t.Errorf("expected one live entry for identity, got %d", live)
	}
}

func TestUpsertDuplicateLeavesEntryUnchanged(t *testing.T) {
	s, clock := newTestStore(10, 10)

	first := Observation{Addr: addr(0xAA), RSSI: -40, Sequence: 7, HopBudget: 3, Temperature: 2200, Voltage: 3000}
	if _, err := s.Upsert(first); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	before := s.Snapshot()[0]

	clock.Advance(time.Second)

	// Same marker again, everything else different: must be a no-op.
	dup := Observation{Addr: addr(0xAA), RSSI: -10, Sequence: 7, HopBudget: 1, Relayed: true, Temperature: 9999, Voltage: 1}
	res, err := s.Upsert(dup)
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if res.Outcome != OutcomeDuplicate {
		t.Fatalf("expected duplicate outcome, got %v", res.Outcome)
	}

	after := s.Snapshot()[0]
	if after.RSSI != before.RSSI || after.HopBudget != before.HopBudget ||
		after.Temperature != before.Temperature || after.Voltage != before.Voltage ||
		!after.LastSeen.Equal(before.LastSeen) {
		t.Errorf("duplicate upsert mutated the entry: before %+v, after %+v", before, after)
	}
}

func TestDedupWindowScenario(t *testing.T) {
	// K=2: markers 1, 2, then 1 again — marker 1 is still in the window.
	s, _ := newTestStore(10, 2)

	for _, seq := range []uint8{1, 2} {
		if _, err := s.Upsert(obs(addr(0xAA), seq)); err != nil {
			t.Fatalf("Upsert seq %d failed: %v", seq, err)
		}
	}

	res, err := s.Upsert(obs(addr(0xAA), 1))
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if res.Outcome != OutcomeDuplicate {
		t.Errorf("marker 1 still held, expected duplicate, got %v", res.Outcome)
	}
}

func TestDedupWindowEvictsOldestMarker(t *testing.T) {
	// K=2: after markers 1, 2, 3 the window holds {2, 3}; 1 is acceptable again.
	s, _ := newTestStore(10, 2)

	for _, seq := range []uint8{1, 2, 3} {
		if _, err := s.Upsert(obs(addr(0xAA), seq)); err != nil {
			t.Fatalf("Upsert seq %d failed: %v", seq, err)
		}
	}

	res, err := s.Upsert(obs(addr(0xAA), 1))
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if res.Outcome != OutcomeUpdated {
		t.Errorf("marker 1 was evicted from the window, expected update, got %v", res.Outcome)
	}
}

func TestSignalStrengthKeepsMaximum(t *testing.T) {
	s, _ := newTestStore(10, 10)

	if _, err := s.Upsert(Observation{Addr: addr(0xAA), RSSI: -70, Sequence: 1, HopBudget: 3}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	// Stronger reading wins.
	if _, err := s.Upsert(Observation{Addr: addr(0xAA), RSSI: -30, Sequence: 2, HopBudget: 3}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if got := s.Snapshot()[0].RSSI; got != -30 {
		t.Errorf("expected RSSI -30 after stronger reading, got %d", got)
	}

	// Weaker reading does not regress the held value.
	if _, err := s.Upsert(Observation{Addr: addr(0xAA), RSSI: -90, Sequence: 3, HopBudget: 3}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if got := s.Snapshot()[0].RSSI; got != -30 {
		t.Errorf("expected RSSI -30 retained over weaker reading, got %d", got)
	}
}

func TestHopBudgetDecrementAndFloor(t *testing.T) {
	s, _ := newTestStore(10, 10)

	// Relayed observation loses one hop on admission.
	if _, err := s.Upsert(Observation{Addr: addr(0xAA), RSSI: -60, Sequence: 1, HopBudget: 3, Relayed: true}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if got := s.Snapshot()[0].HopBudget; got != 2 {
		t.Errorf("expected hop budget 2 after relayed admission, got %d", got)
	}

	// Repeated relayed re-admissions never go below zero.
	hops := []uint8{2, 1, 0, 0}
	for i, hb := range hops {
		if _, err := s.Upsert(Observation{Addr: addr(0xAA), RSSI: -60, Sequence: uint8(10 + i), HopBudget: hb, Relayed: true}); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
		got := s.Snapshot()[0].HopBudget
		want := hb
		if want > 0 {
			want--
		}
		if got != want {
			t.Errorf("re-admission %d: expected hop budget %d, got %d", i, want, got)
		}
	}
}

func TestHopBudgetNotDecrementedForOrigin(t *testing.T) {
	s, _ := newTestStore(10, 10)

	if _, err := s.Upsert(Observation{Addr: addr(0xAA), RSSI: -60, Sequence: 1, HopBudget: 3, Relayed: false}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if got := s.Snapshot()[0].HopBudget; got != 3 {
		t.Errorf("directly observed emitter must keep its full budget, got %d", got)
	}
}

func TestCapacityBound(t *testing.T) {
	s, _ := newTestStore(3, 10)

	for i := 0; i < 3; i++ {
		if _, err := s.Upsert(obs(addr(byte(i)), 1)); err != nil {
			t.Fatalf("Upsert %d failed: %v", i, err)
		}
	}

	res, err := s.Upsert(obs(addr(0x99), 1))
	if !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull for insertion beyond capacity, got res=%v err=%v", res, err)
	}
	if s.Len() != 3 {
		t.Errorf("rejected insertion must not disturb live entries, got %d", s.Len())
	}

	// Existing identities are still updatable at full capacity.
	res, err = s.Upsert(obs(addr(0x00), 2))
	if err != nil {
		t.Fatalf("update at full capacity failed: %v", err)
	}
	if res.Outcome != OutcomeUpdated {
		t.Errorf("expected update at full capacity, got %v", res.Outcome)
	}
}

func TestFullStoreSweepThenReuse(t *testing.T) {
	// Capacity 3: insert A, B, C; D rejected; sweep ages A out; D reuses A's slot.
	s, clock := newTestStore(3, 10)

	a, b, c, d := addr(0x0A), addr(0x0B), addr(0x0C), addr(0x0D)

	if _, err := s.Upsert(obs(a, 1)); err != nil {
		t.Fatalf("Upsert A failed: %v", err)
	}
	aSlot := 0

	clock.Advance(30 * time.Second)
	for _, id := range []medium.Addr{b, c} {
		if _, err := s.Upsert(obs(id, 1)); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	if _, err := s.Upsert(obs(d, 1)); !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull for D, got %v", err)
	}

	// A is 30s old, B and C are fresh.
	if swept := s.SweepExpired(20 * time.Second); swept != 1 {
		t.Fatalf("expected sweep to reclaim exactly A, got %d", swept)
	}

	res, err := s.Upsert(obs(d, 1))
	if err != nil {
		t.Fatalf("Upsert D after sweep failed: %v", err)
	}
	if res.Outcome != OutcomeInserted {
		t.Errorf("expected insert for D, got %v", res.Outcome)
	}
	if res.Slot != aSlot {
		t.Errorf("expected D to reuse A's slot %d, got %d", aSlot, res.Slot)
	}
}

func TestDrainEligibleRemovesEntries(t *testing.T) {
	s, clock := newTestStore(10, 10)

	for i := 0; i < 5; i++ {
		if _, err := s.Upsert(obs(addr(byte(i)), 1)); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}
	clock.Advance(10 * time.Second)

	drained := s.DrainEligible(10, 5*time.Second)
	if len(drained) != 5 {
		t.Fatalf("expected 5 drained entries, got %d", len(drained))
	}
	if s.Len() != 0 {
		t.Errorf("drained entries must not remain live, got %d", s.Len())
	}

	// A second drain returns nothing: consumption happens at most once.
	if again := s.DrainEligible(10, 0); len(again) != 0 {
		t.Errorf("expected empty second drain, got %d entries", len(again))
	}
}

func TestDrainEligibleHonorsMaxCount(t *testing.T) {
	s, clock := newTestStore(10, 10)

	for i := 0; i < 5; i++ {
		if _, err := s.Upsert(obs(addr(byte(i)), 1)); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}
	clock.Advance(10 * time.Second)

	drained := s.DrainEligible(2, 0)
	if len(drained) != 2 {
		t.Fatalf("expected 2 drained entries, got %d", len(drained))
	}
	if s.Len() != 3 {
		t.Errorf("expected 3 entries still queued, got %d", s.Len())
	}
}

func TestDrainEligibleHonorsMinAge(t *testing.T) {
	s, clock := newTestStore(10, 10)

	if _, err := s.Upsert(obs(addr(0xAA), 1)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	clock.Advance(10 * time.Second)
	if _, err := s.Upsert(obs(addr(0xBB), 1)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	// Only the aged entry is eligible.
	drained := s.DrainEligible(10, 5*time.Second)
	if len(drained) != 1 {
		t.Fatalf("expected 1 eligible entry, got %d", len(drained))
	}
	if drained[0].Addr != addr(0xAA) {
		t.Errorf("expected aged entry AA, got %s", drained[0].Addr)
	}
	if s.Len() != 1 {
		t.Errorf("fresh entry must stay queued, got %d live", s.Len())
	}
}

func TestDrainSkipsExhaustedHopBudget(t *testing.T) {
	s, clock := newTestStore(10, 10)

	if _, err := s.Upsert(Observation{Addr: addr(0xAA), RSSI: -60, Sequence: 1, HopBudget: 0}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if _, err := s.Upsert(Observation{Addr: addr(0xBB), RSSI: -60, Sequence: 1, HopBudget: 2}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	clock.Advance(10 * time.Second)

	drained := s.DrainEligible(10, 0)
	if len(drained) != 1 || drained[0].Addr != addr(0xBB) {
		t.Fatalf("expected only the entry with hop budget left, got %v", drained)
	}

	// The exhausted entry is retained, not relayed.
	if s.Len() != 1 {
		t.Errorf("exhausted entry must stay resident, got %d live", s.Len())
	}
}

func TestDrainFuncStopsOnReject(t *testing.T) {
	s, clock := newTestStore(10, 10)

	for i := 0; i < 4; i++ {
		if _, err := s.Upsert(obs(addr(byte(i)), 1)); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}
	clock.Advance(10 * time.Second)

	accepted := 0
	consumed := s.DrainFunc(0, func(Entry) bool {
		if accepted == 2 {
			return false
		}
		accepted++
		return true
	})

	if consumed != 2 {
		t.Errorf("expected 2 consumed, got %d", consumed)
	}
	if s.Len() != 2 {
		t.Errorf("rejected entry and successors must remain, got %d live", s.Len())
	}
}

func TestSweepExpiredIgnoresHopBudget(t *testing.T) {
	s, clock := newTestStore(10, 10)

	// Exhausted hop budget does not shield an entry from the sweeper.
	if _, err := s.Upsert(Observation{Addr: addr(0xAA), RSSI: -60, Sequence: 1, HopBudget: 0}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	clock.Advance(time.Minute)

	if swept := s.SweepExpired(10 * time.Second); swept != 1 {
		t.Errorf("expected 1 swept entry, got %d", swept)
	}
	if s.Len() != 0 {
		t.Errorf("expected empty store after sweep, got %d", s.Len())
	}
}

func TestSweepExpiredKeepsFreshEntries(t *testing.T) {
	s, clock := newTestStore(10, 10)

	if _, err := s.Upsert(obs(addr(0xAA), 1)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	clock.Advance(time.Second)

	if swept := s.SweepExpired(10 * time.Second); swept != 0 {
		t.Errorf("expected nothing swept, got %d", swept)
	}
	if s.Len() != 1 {
		t.Errorf("fresh entry must survive sweep, got %d", s.Len())
	}
}

func TestReset(t *testing.T) {
	s, _ := newTestStore(10, 10)

	for i := 0; i < 5; i++ {
		if _, err := s.Upsert(obs(addr(byte(i)), 1)); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	s.Reset()

	if s.Len() != 0 {
		t.Errorf("expected empty store after reset, got %d", s.Len())
	}
	if len(s.Snapshot()) != 0 {
		t.Errorf("expected empty snapshot after reset")
	}

	// Slots and dedup state are reusable after reset.
	res, err := s.Upsert(obs(addr(0x00), 1))
	if err != nil {
		t.Fatalf("Upsert after reset failed: %v", err)
	}
	if res.Outcome != OutcomeInserted {
		t.Errorf("expected insert after reset, got %v", res.Outcome)
	}
}

func TestLenTracksLiveEntries(t *testing.T) {
	s, clock := newTestStore(50, 10)

	for i := 0; i < 20; i++ {
		if _, err := s.Upsert(obs(addr(byte(i)), 1)); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}
	if s.Len() != 20 {
		t.Fatalf("expected 20 live, got %d", s.Len())
	}

	clock.Advance(10 * time.Second)
	s.DrainEligible(7, 0)
	if s.Len() != 13 {
		t.Errorf("expected 13 live after drain, got %d", s.Len())
	}

	s.SweepExpired(5 * time.Second)
	if s.Len() != 0 {
		t.Errorf("expected 0 live after sweep, got %d", s.Len())
	}
}

func TestOutcomeString(t *testing.T) {
	tests := []struct {
		outcome Outcome
		want    string
	}{
		{OutcomeInserted, "inserted"},
		{OutcomeUpdated, "updated"},
		{OutcomeDuplicate, "duplicate"},
		{Outcome(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.outcome.String(); got != tt.want {
				t.Errorf("Outcome.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConcurrentUpsertAndDrain(t *testing.T) {
	s := New(100, 10)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			_, _ = s.Upsert(obs(addr(byte(i%64)), uint8(i)))
		}
	}()

	for i := 0; i < 200; i++ {
		s.DrainEligible(5, 0)
		s.SweepExpired(time.Hour)
	}
	<-done

	if s.Len() < 0 || s.Len() > 100 {
		t.Errorf("live count out of bounds: %d", s.Len())
	}

	// Uniqueness holds under interleaving.
	seen := make(map[string]bool)
	for _, e := range s.Snapshot() {
		key := fmt.Sprintf("%v", e.Addr)
		if seen[key] {
			t.Errorf("duplicate live entry for %s", e.Addr)
		}
		seen[key] = true
	}
}
