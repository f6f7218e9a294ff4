// Package mediumtest provides a stack-agnostic conformance suite for radio
// medium implementations. Any Medium wired into the relay, real or fake,
// must pass the same suite.
package mediumtest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/beacon-relay/brc/internal/medium"
)

// Harness supplies a fresh Medium per test plus the hooks the suite needs
// to exercise implementation-specific machinery.
type Harness struct {
	// New returns an idle Medium. Called once per sub-test.
	New func() medium.Medium

	// BroadcastSets is how many advertising sets the implementation
	// supports. The suite exercises sets [0, BroadcastSets).
	BroadcastSets int

	// Frame is a valid frame payload for staging. Defaults to a bare
	// relay header when nil.
	Frame []byte
}

// Result records the outcome of one conformance check.
type Result struct {
	Name     string
	Passed   bool
	Error    string
	Duration time.Duration
}

// Report accumulates results across the suite.
type Report struct {
	Total   int
	Passed  int
	Failed  int
	Results []Result
}

func (r *Report) add(res Result) {
	r.Total++
	if res.Passed {
		r.Passed++
	} else {
		r.Failed++
	}
	r.Results = append(r.Results, res)
}

// Run executes the full conformance suite and fails t if any check fails.
func Run(t *testing.T, h Harness) {
	if h.BroadcastSets < 1 {
		h.BroadcastSets = 1
	}
	if h.Frame == nil {
		h.Frame = []byte{0x59, 0x00, 0x08, 0x00, 0x03}
	}

	report := &Report{}

	runCheck(report, "ScanStartStop", func() error { return checkScanStartStop(h) })
	runCheck(report, "ScanDoubleStartBusy", func() error { return checkScanDoubleStart(h) })
	runCheck(report, "ScanCancelledContext", func() error { return checkScanCancelledContext(h) })
	runCheck(report, "BroadcastRequiresStaging", func() error { return checkBroadcastRequiresStaging(h) })
	runCheck(report, "BroadcastBusyWhileActive", func() error { return checkBroadcastBusy(h) })
	runCheck(report, "BroadcastStopIdleSet", func() error { return checkStopIdleSet(h) })
	runCheck(report, "BroadcastSetsIndependent", func() error { return checkSetsIndependent(h) })
	runCheck(report, "ResetClearsState", func() error { return checkResetClearsState(h) })
	runCheck(report, "ResetIdempotent", func() error { return checkResetIdempotent(h) })

	printReport(t, report)

	if report.Failed > 0 {
		t.Fatalf("medium conformance failed: %d/%d checks passed", report.Passed, report.Total)
	}
}

func runCheck(report *Report, name string, fn func() error) {
	start := time.Now()
	err := fn()

	res := Result{Name: name, Duration: time.Since(start), Passed: err == nil}
	if err != nil {
		res.Error = err.Error()
	}
	report.add(res)
}

func checkScanStartStop(h Harness) error {
	m := h.New()
	ctx := context.Background()

	if err := m.StartScan(ctx, func(medium.Observation) {}); err != nil {
		return fmt.Errorf("StartScan on idle medium failed: %w", err)
	}
	if err := m.StopScan(); err != nil {
		return fmt.Errorf("StopScan failed: %w", err)
	}
	// Scan must be restartable after a clean stop.
	if err := m.StartScan(ctx, func(medium.Observation) {}); err != nil {
		return fmt.Errorf("StartScan after StopScan failed: %w", err)
	}
	return m.StopScan()
}

func checkScanDoubleStart(h Harness) error {
	m := h.New()
	ctx := context.Background()

	if err := m.StartScan(ctx, func(medium.Observation) {}); err != nil {
		return fmt.Errorf("StartScan failed: %w", err)
	}
	if err := m.StartScan(ctx, func(medium.Observation) {}); !errors.Is(err, medium.ErrBusy) {
		return fmt.Errorf("second StartScan must map to BUSY, got: %v", err)
	}
	return m.StopScan()
}

func checkScanCancelledContext(h Harness) error {
	m := h.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := m.StartScan(ctx, func(medium.Observation) {}); err == nil {
		return errors.New("StartScan with cancelled context must fail")
	}
	return nil
}

func checkBroadcastRequiresStaging(h Harness) error {
	m := h.New()

	if err := m.StartBroadcast(0, time.Second); err == nil {
		return errors.New("StartBroadcast without staged data must fail")
	}
	return nil
}

func checkBroadcastBusy(h Harness) error {
	m := h.New()

	if err := m.SetBroadcastData(0, h.Frame); err != nil {
		return fmt.Errorf("SetBroadcastData failed: %w", err)
	}
	if err := m.StartBroadcast(0, time.Minute); err != nil {
		return fmt.Errorf("StartBroadcast failed: %w", err)
	}

	if err := m.StartBroadcast(0, time.Minute); !errors.Is(err, medium.ErrBusy) {
		return fmt.Errorf("StartBroadcast on active set must map to BUSY, got: %v", err)
	}
	if err := m.SetBroadcastData(0, h.Frame); !errors.Is(err, medium.ErrBusy) {
		return fmt.Errorf("SetBroadcastData on active set must map to BUSY, got: %v", err)
	}

	return m.StopBroadcast(0)
}

func checkStopIdleSet(h Harness) error {
	m := h.New()

	if err := m.StopBroadcast(0); err != nil {
		return fmt.Errorf("StopBroadcast on idle set must be a no-op, got: %w", err)
	}
	return nil
}

func checkSetsIndependent(h Harness) error {
	if h.BroadcastSets < 2 {
		return nil
	}

	m := h.New()
	for set := 0; set < 2; set++ {
		if err := m.SetBroadcastData(set, h.Frame); err != nil {
			return fmt.Errorf("SetBroadcastData(%d) failed: %w", set, err)
		}
		if err := m.StartBroadcast(set, time.Minute); err != nil {
			return fmt.Errorf("StartBroadcast(%d) failed: %w", set, err)
		}
	}

	if err := m.StopBroadcast(0); err != nil {
		return fmt.Errorf("StopBroadcast(0) failed: %w", err)
	}
	// Set 1 must still report busy on restage.
	if err := m.SetBroadcastData(1, h.Frame); !errors.Is(err, medium.ErrBusy) {
		return fmt.Errorf("set 1 must stay active after stopping set 0, got: %v", err)
	}

	return m.StopBroadcast(1)
}

func checkResetClearsState(h Harness) error {
	m := h.New()
	ctx := context.Background()

	if err := m.StartScan(ctx, func(medium.Observation) {}); err != nil {
		return fmt.Errorf("StartScan failed: %w", err)
	}
	if err := m.SetBroadcastData(0, h.Frame); err != nil {
		return fmt.Errorf("SetBroadcastData failed: %w", err)
	}
	if err := m.StartBroadcast(0, time.Minute); err != nil {
		return fmt.Errorf("StartBroadcast failed: %w", err)
	}

	if err := m.Reset(ctx); err != nil {
		return fmt.Errorf("Reset failed: %w", err)
	}

	// After a reset the medium must behave like a fresh instance.
	if err := m.StartScan(ctx, func(medium.Observation) {}); err != nil {
		return fmt.Errorf("StartScan after Reset failed: %w", err)
	}
	if err := m.StartBroadcast(0, time.Second); err == nil {
		return errors.New("Reset must discard staged broadcast data")
	}
	return m.StopScan()
}

func checkResetIdempotent(h Harness) error {
	m := h.New()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := m.Reset(ctx); err != nil {
			return fmt.Errorf("Reset %d on idle medium failed: %w", i+1, err)
		}
	}
	return nil
}

func printReport(t *testing.T, report *Report) {
	t.Logf("%s", strings.Repeat("-", 60))
	t.Logf("%-32s %-6s %s", "CHECK", "RESULT", "DURATION")
	for _, res := range report.Results {
		status := "PASS"
		if !res.Passed {
			status = "FAIL"
		}
		line := fmt.Sprintf("%-32s %-6s %s", res.Name, status, res.Duration)
		if res.Error != "" {
			line += "  " + res.Error
		}
		t.Logf("%s", line)
	}
	t.Logf("%d/%d checks passed", report.Passed, report.Total)
	t.Logf("%s", strings.Repeat("-", 60))
}
