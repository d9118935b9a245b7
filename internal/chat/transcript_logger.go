package chat

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TranscriptLogConfig controls NDJSON transcript logging.
type TranscriptLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// TranscriptEntry is one finished message written to the transcript log.
type TranscriptEntry struct {
	Timestamp     time.Time `json:"ts"`
	Room          string    `json:"room"`
	Author        string    `json:"author"`
	Text          string    `json:"text"`
	FromAssistant bool      `json:"from_assistant,omitempty"`
}

// TranscriptLogger appends finished messages to a per-room NDJSON file. Log
// never blocks the delivery path: entries go through a bounded queue and a
// single writer goroutine; the queue overflowing drops entries.
type TranscriptLogger struct {
	dir    string
	queue  chan TranscriptEntry
	logger *slog.Logger

	mu      sync.Mutex
	files   map[string]*os.File
	done    chan struct{}
	closed  bool
	dropped int
}

// NewTranscriptLogger creates the logger. Returns (nil, nil) when logging is
// disabled, so callers can pass the result straight to NewSession.
func NewTranscriptLogger(cfg TranscriptLogConfig, logger *slog.Logger) (*TranscriptLogger, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create transcript log directory: %w", err)
	}

	t := &TranscriptLogger{
		dir:    cfg.Dir,
		queue:  make(chan TranscriptEntry, cfg.QueueSize),
		logger: logger,
		files:  make(map[string]*os.File),
		done:   make(chan struct{}),
	}
	go t.writeLoop()
	return t, nil
}

// Log enqueues one entry. Entries are dropped when the queue is full.
func (t *TranscriptLogger) Log(entry TranscriptEntry) {
	if t == nil {
		return
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	select {
	case t.queue <- entry:
	default:
		t.mu.Lock()
		t.dropped++
		t.mu.Unlock()
		t.logger.Warn("transcript log queue full, dropping entry", "room", entry.Room)
	}
}

// Close drains the queue and closes all open files.
func (t *TranscriptLogger) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	close(t.queue)
	<-t.done

	t.mu.Lock()
	defer t.mu.Unlock()
	for room, f := range t.files {
		if err := f.Close(); err != nil {
			t.logger.Warn("failed to close transcript file", "room", room, "error", err)
		}
	}
	t.files = nil
	return nil
}

func (t *TranscriptLogger) writeLoop() {
	defer close(t.done)
	for entry := range t.queue {
		if err := t.write(entry); err != nil {
			t.logger.Warn("failed to write transcript entry", "room", entry.Room, "error", err)
		}
	}
}

func (t *TranscriptLogger) write(entry TranscriptEntry) error {
	f, err := t.file(entry.Room)
	if err != nil {
		return err
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal transcript entry: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append transcript entry: %w", err)
	}
	return nil
}

func (t *TranscriptLogger) file(room string) (*os.File, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if f, ok := t.files[room]; ok {
		return f, nil
	}
	path := filepath.Join(t.dir, room+".ndjson")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open transcript file: %w", err)
	}
	t.files[room] = f
	return f, nil
}
