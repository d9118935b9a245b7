package chat

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/mira-client/internal/domain"
)

// Session ties a Socket to an Assembler for one conversation room and owns
// the outbound send path. The rendering layer consumes Messages and may
// register an update callback; all transcript mutation happens on the
// socket's delivery path.
type Session struct {
	room   string
	socket *Socket
	asm    *Assembler
	tlog   *TranscriptLogger
	logger *slog.Logger

	mu          sync.Mutex
	onUpdate    func()
	unsubscribe func()
}

// NewSession wires the socket events into the assembler. The transcript
// logger is optional.
func NewSession(room string, socket *Socket, asm *Assembler, tlog *TranscriptLogger, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		room:   room,
		socket: socket,
		asm:    asm,
		tlog:   tlog,
		logger: logger,
	}
	s.unsubscribe = socket.Subscribe(s.handleEvent)
	return s
}

// Connect starts the underlying socket.
func (s *Session) Connect(ctx context.Context) {
	s.socket.Connect(ctx)
}

// Messages returns a snapshot of the transcript.
func (s *Session) Messages() []domain.Message {
	return s.asm.Messages()
}

// SeedHistory replaces the transcript with messages loaded over REST.
func (s *Session) SeedHistory(msgs []domain.Message) {
	s.asm.SetMessages(msgs)
	s.notify()
}

// OnUpdate registers a callback invoked after every transcript change. The
// callback runs on the socket delivery path and must not block.
func (s *Session) OnUpdate(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpdate = fn
}

// SendMessage sanitizes and sends a user message. Empty input after
// sanitization is a no-op; delivery is best-effort.
func (s *Session) SendMessage(text string) {
	safe := SanitizeMessage(text)
	if strings.TrimSpace(safe) == "" {
		return
	}
	s.socket.Send(domain.Outbound{Message: safe})
}

// Close detaches from the socket and shuts it down.
func (s *Session) Close() {
	s.unsubscribe()
	s.socket.Close()
}

func (s *Session) handleEvent(ev domain.ChatEvent) {
	changed := s.asm.Apply(ev)
	s.record(ev, changed)
	s.notify()
}

// record appends finished messages to the transcript log: atomic messages
// immediately, streamed messages once the final chunk arrives.
func (s *Session) record(ev domain.ChatEvent, msg *domain.Message) {
	if s.tlog == nil || msg == nil {
		return
	}
	if ev.Stream && !ev.End {
		return
	}

	s.tlog.Log(TranscriptEntry{
		Timestamp:     time.Now(),
		Room:          s.room,
		Author:        msg.Author,
		Text:          msg.Text,
		FromAssistant: msg.FromAssistant,
	})
}

func (s *Session) notify() {
	s.mu.Lock()
	fn := s.onUpdate
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}
