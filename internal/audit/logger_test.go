package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/beacon-relay/brc/internal/medium"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	l, err := NewLogger(t.TempDir())
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("unmarshal audit line: %v", err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestLogActionSuccess(t *testing.T) {
	l := newTestLogger(t)

	ctx := WithUser(context.Background(), "operator-1")
	l.LogAction(ctx, "relayReset", map[string]any{"reason": "manual"}, nil)

	entries := readEntries(t, l.FilePath())
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	got := entries[0]
	if got.ID == "" {
		t.Error("entry must carry a correlation ID")
	}
	if got.User != "operator-1" || got.Action != "relayReset" {
		t.Errorf("entry mismatch: %+v", got)
	}
	if got.Outcome != "success" || got.Code != "SUCCESS" {
		t.Errorf("success entry mismatch: outcome=%s code=%s", got.Outcome, got.Code)
	}
	if got.Params["reason"] != "manual" {
		t.Errorf("params not recorded: %v", got.Params)
	}
}

func TestLogActionErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"busy", medium.ErrBusy, "BUSY"},
		{"unavailable", medium.ErrUnavailable, "UNAVAILABLE"},
		{"timeout", context.DeadlineExceeded, "TIMEOUT"},
		{"other", errors.New("boom"), "ERROR"},
	}

	l := newTestLogger(t)
	for _, tt := range tests {
		l.LogAction(context.Background(), "relayReset", nil, tt.err)
	}

	entries := readEntries(t, l.FilePath())
	if len(entries) != len(tests) {
		t.Fatalf("expected %d entries, got %d", len(tests), len(entries))
	}
	for i, tt := range tests {
		if entries[i].Code != tt.code {
			t.Errorf("%s: code = %s, want %s", tt.name, entries[i].Code, tt.code)
		}
		if entries[i].Outcome != "error" {
			t.Errorf("%s: outcome = %s, want error", tt.name, entries[i].Outcome)
		}
	}
}

func TestUnknownUserDefault(t *testing.T) {
	l := newTestLogger(t)

	l.LogAction(context.Background(), "statusView", nil, nil)

	entries := readEntries(t, l.FilePath())
	if entries[0].User != "unknown" {
		t.Errorf("user = %s, want unknown", entries[0].User)
	}
}

func TestRotate(t *testing.T) {
	l := newTestLogger(t)

	l.LogAction(context.Background(), "relayReset", nil, nil)
	if err := l.Rotate(); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	l.LogAction(context.Background(), "relayReset", nil, nil)

	entries := readEntries(t, l.FilePath())
	if len(entries) != 1 {
		t.Errorf("fresh file must hold 1 entry, got %d", len(entries))
	}
}

func TestEntryIDsUnique(t *testing.T) {
	l := newTestLogger(t)

	for i := 0; i < 5; i++ {
		l.LogAction(context.Background(), "statusView", nil, nil)
	}

	seen := map[string]bool{}
	for _, entry := range readEntries(t, l.FilePath()) {
		if seen[entry.ID] {
			t.Fatalf("duplicate entry ID %s", entry.ID)
		}
		seen[entry.ID] = true
	}
}
