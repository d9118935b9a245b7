package chat

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func waitForLogLines(t *testing.T, path string, want int) []TranscriptEntry {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if entries := readLogEntries(t, path); len(entries) >= want {
			return entries
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d entries in %s", want, path)
	return nil
}

func readLogEntries(t *testing.T, path string) []TranscriptEntry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("open log file: %v", err)
	}
	defer func() { _ = f.Close() }()

	var entries []TranscriptEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var entry TranscriptEntry
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			t.Fatalf("malformed ndjson line %q: %v", sc.Text(), err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestTranscriptLoggerWritesNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tlog, err := NewTranscriptLogger(TranscriptLogConfig{Enabled: true, Dir: dir}, nil)
	if err != nil {
		t.Fatalf("NewTranscriptLogger failed: %v", err)
	}
	defer func() { _ = tlog.Close() }()

	tlog.Log(TranscriptEntry{Timestamp: time.Now(), Room: "lobby", Author: "bob", Text: "hello"})
	tlog.Log(TranscriptEntry{Timestamp: time.Now(), Room: "lobby", Author: "Mira", Text: "hi there", FromAssistant: true})

	entries := waitForLogLines(t, filepath.Join(dir, "lobby.ndjson"), 2)
	if entries[0].Author != "bob" || entries[0].Text != "hello" || entries[0].FromAssistant {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[1].Author != "Mira" || !entries[1].FromAssistant {
		t.Errorf("second entry = %+v", entries[1])
	}
}

func TestTranscriptLoggerSeparatesRooms(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tlog, err := NewTranscriptLogger(TranscriptLogConfig{Enabled: true, Dir: dir}, nil)
	if err != nil {
		t.Fatalf("NewTranscriptLogger failed: %v", err)
	}
	defer func() { _ = tlog.Close() }()

	tlog.Log(TranscriptEntry{Room: "alpha", Author: "a", Text: "one"})
	tlog.Log(TranscriptEntry{Room: "beta", Author: "b", Text: "two"})

	alpha := waitForLogLines(t, filepath.Join(dir, "alpha.ndjson"), 1)
	beta := waitForLogLines(t, filepath.Join(dir, "beta.ndjson"), 1)
	if len(alpha) != 1 || alpha[0].Text != "one" {
		t.Errorf("alpha entries = %+v", alpha)
	}
	if len(beta) != 1 || beta[0].Text != "two" {
		t.Errorf("beta entries = %+v", beta)
	}
}

func TestTranscriptLoggerCloseDrainsQueue(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tlog, err := NewTranscriptLogger(TranscriptLogConfig{Enabled: true, Dir: dir}, nil)
	if err != nil {
		t.Fatalf("NewTranscriptLogger failed: %v", err)
	}

	for i := 0; i < 20; i++ {
		tlog.Log(TranscriptEntry{Room: "lobby", Author: "bob", Text: "line"})
	}
	if err := tlog.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	entries := readLogEntries(t, filepath.Join(dir, "lobby.ndjson"))
	if len(entries) != 20 {
		t.Errorf("got %d entries after Close, want all 20", len(entries))
	}

	// Logging after Close is a silent no-op.
	tlog.Log(TranscriptEntry{Room: "lobby", Author: "bob", Text: "late"})
	if err := tlog.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestTranscriptLoggerDisabled(t *testing.T) {
	t.Parallel()

	tlog, err := NewTranscriptLogger(TranscriptLogConfig{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("NewTranscriptLogger failed: %v", err)
	}
	if tlog != nil {
		t.Fatalf("disabled config returned %+v, want nil", tlog)
	}

	// The nil logger is safe to use.
	tlog.Log(TranscriptEntry{Room: "lobby", Text: "ignored"})
	if err := tlog.Close(); err != nil {
		t.Errorf("Close on nil logger failed: %v", err)
	}
}
