package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/mira-client/internal/domain"
	"github.com/coder/websocket"
)

// SocketState describes the lifecycle of a Socket.
type SocketState int

const (
	// StateIdle means Connect has not been called yet.
	StateIdle SocketState = iota
	// StateConnecting means a handshake attempt is in flight.
	StateConnecting
	// StateOpen means the connection is established.
	StateOpen
	// StateClosedClean means Close was called or the lifetime context ended.
	StateClosedClean
	// StateClosedPendingRetry means the connection dropped and a reconnect
	// timer is pending.
	StateClosedPendingRetry
	// StateExhausted means the reconnect budget is spent; the caller must
	// create a new Socket to reconnect.
	StateExhausted
)

// String returns a human-readable state name.
func (s SocketState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosedClean:
		return "closed"
	case StateClosedPendingRetry:
		return "pending-retry"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// SocketConfig holds Socket tuning knobs.
type SocketConfig struct {
	// MaxReconnectAttempts bounds automatic reconnects after a drop.
	MaxReconnectAttempts int
	// ReconnectBaseDelay is the delay before the first reconnect; each
	// further attempt doubles it. No jitter is applied.
	ReconnectBaseDelay time.Duration
	// WriteTimeout bounds a single outbound frame write.
	WriteTimeout time.Duration
}

// DefaultSocketConfig returns default tuning.
func DefaultSocketConfig() SocketConfig {
	return SocketConfig{
		MaxReconnectAttempts: 3,
		ReconnectBaseDelay:   500 * time.Millisecond,
		WriteTimeout:         10 * time.Second,
	}
}

type subscriber struct {
	id int
	fn func(domain.ChatEvent)
}

// Socket owns one duplex connection to a room endpoint. It reconnects with
// bounded exponential backoff, parses inbound frames as chat events and fans
// them out to subscribers in arrival order. Outbound sends are best-effort:
// a payload is silently dropped unless the socket is currently open.
type Socket struct {
	url    string
	cfg    SocketConfig
	logger *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	state   SocketState
	retries int
	subs    []subscriber
	nextSub int
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSocket creates a socket for the given room URL. A nil logger defaults
// to slog.Default.
func NewSocket(rawURL string, cfg SocketConfig, logger *slog.Logger) *Socket {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Socket{
		url:    rawURL,
		cfg:    cfg,
		logger: logger,
		state:  StateIdle,
		done:   make(chan struct{}),
	}
}

// RoomURL builds the websocket endpoint for a conversation room, appending
// the access token as a query parameter when one is available.
func RoomURL(wsBase, kind, roomID, accessToken string) string {
	u := strings.TrimRight(wsBase, "/") + "/ws/" + kind + "/" + url.PathEscape(roomID) + "/"
	if accessToken != "" {
		u += "?token=" + url.QueryEscape(accessToken)
	}
	return u
}

// Connect starts the connection loop. It returns immediately; connection
// progress is observable via State. Calling Connect more than once is a
// no-op. The context bounds the socket's lifetime: cancelling it closes the
// connection and suppresses any pending reconnect.
func (s *Socket) Connect(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	go s.run(ctx)
}

// State returns the current connection state.
func (s *Socket) State() SocketState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers a handler for every parsed inbound event and returns
// an unsubscribe function. Handlers run synchronously on the delivery path
// and must not block.
func (s *Socket) Subscribe(fn func(domain.ChatEvent)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// Send serializes the payload and writes it to the connection. The write is
// fire-and-forget: if the socket is not open or the write fails, the payload
// is dropped.
func (s *Socket) Send(payload any) {
	s.mu.Lock()
	conn := s.conn
	open := s.state == StateOpen
	s.mu.Unlock()

	if !open || conn == nil {
		s.logger.Debug("dropping outbound payload, socket not open")
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Debug("failed to marshal outbound payload", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		s.logger.Debug("websocket write failed", "error", err)
	}
}

// Close shuts the socket down and suppresses any pending reconnect. It is
// idempotent.
func (s *Socket) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.state = StateClosedClean
	conn := s.conn
	s.conn = nil
	cancel := s.cancel
	started := s.started
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client closing")
	}
	if started {
		<-s.done
	}
}

// run drives the connect/read/reconnect loop until the socket is closed or
// the reconnect budget is spent.
func (s *Socket) run(ctx context.Context) {
	defer close(s.done)

	for {
		if !s.transition(StateConnecting) {
			return
		}

		conn, _, err := websocket.Dial(ctx, s.url, nil)
		if err == nil {
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				_ = conn.Close(websocket.StatusNormalClosure, "client closing")
				return
			}
			s.conn = conn
			s.state = StateOpen
			// Sustained connectivity regains the full reconnect budget.
			s.retries = 0
			s.mu.Unlock()

			s.logger.Info("websocket connected", "url", s.url)
			s.readLoop(ctx, conn)

			s.mu.Lock()
			s.conn = nil
			s.mu.Unlock()
		} else {
			s.logger.Warn("websocket dial failed", "error", err)
		}

		if ctx.Err() != nil {
			s.markClosed()
			return
		}

		delay, ok := s.nextRetryDelay()
		if !ok {
			s.logger.Warn("websocket reconnect budget exhausted", "attempts", s.cfg.MaxReconnectAttempts)
			return
		}

		s.logger.Info("websocket reconnecting", "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			s.markClosed()
			return
		}
	}
}

// transition moves to next unless the socket is already closed.
func (s *Socket) transition(next SocketState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.state = next
	return true
}

// nextRetryDelay consumes one reconnect attempt. The delay before attempt k
// is base * 2^(k-1). Once the budget is spent the socket is Exhausted and no
// timer is scheduled.
func (s *Socket) nextRetryDelay() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, false
	}
	if s.retries >= s.cfg.MaxReconnectAttempts {
		s.state = StateExhausted
		return 0, false
	}
	delay := s.cfg.ReconnectBaseDelay << s.retries
	s.retries++
	s.state = StateClosedPendingRetry
	return delay, true
}

func (s *Socket) markClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.state = StateClosedClean
	}
}

// readLoop reads frames until the connection drops. Malformed frames are
// dropped without surfacing to subscribers.
func (s *Socket) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				s.logger.Debug("websocket closed by peer", "status", websocket.CloseStatus(err))
			} else if ctx.Err() == nil {
				s.logger.Warn("websocket read error", "error", err)
			}
			return
		}

		var ev domain.ChatEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			s.logger.Debug("dropping malformed frame", "error", err)
			continue
		}
		s.fanOut(ev)
	}
}

// fanOut delivers an event to every subscriber in registration order.
func (s *Socket) fanOut(ev domain.ChatEvent) {
	s.mu.Lock()
	subs := make([]subscriber, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(ev)
	}
}
