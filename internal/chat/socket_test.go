package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/mira-client/internal/domain"
	"github.com/coder/websocket"
)

func wsURL(t *testing.T, httpURL string) string {
	t.Helper()
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

// waitForState polls until the socket reaches the wanted state.
func waitForState(t *testing.T, s *Socket, want SocketState) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("socket never reached state %v, stuck at %v", want, s.State())
}

func TestSocketFanOutPreservesOrderAndDropsMalformedFrames(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		frames := []string{
			`{"message": "one", "display_name": "alice"}`,
			`{not json at all`,
			`{"message": "two", "display_name": "alice"}`,
			`{"message": "three", "display_name": "alice"}`,
		}
		for _, frame := range frames {
			if err := conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
				return
			}
		}
		// Hold the connection open until the client goes away.
		_, _, _ = conn.Read(ctx)
	}))
	defer srv.Close()

	sock := NewSocket(wsURL(t, srv.URL), DefaultSocketConfig(), nil)
	defer sock.Close()

	first := make(chan domain.ChatEvent, 8)
	second := make(chan domain.ChatEvent, 8)
	sock.Subscribe(func(ev domain.ChatEvent) { first <- ev })
	sock.Subscribe(func(ev domain.ChatEvent) { second <- ev })

	sock.Connect(context.Background())

	want := []string{"one", "two", "three"}
	for _, ch := range []chan domain.ChatEvent{first, second} {
		for _, expected := range want {
			select {
			case ev := <-ch:
				if ev.Message != expected {
					t.Fatalf("got message %q, want %q", ev.Message, expected)
				}
			case <-time.After(5 * time.Second):
				t.Fatalf("timed out waiting for message %q", expected)
			}
		}
	}
}

func TestSocketUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"message": "first"}`))
		<-release
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"message": "second"}`))
		_, _, _ = conn.Read(ctx)
	}))
	defer srv.Close()

	sock := NewSocket(wsURL(t, srv.URL), DefaultSocketConfig(), nil)
	defer sock.Close()

	events := make(chan domain.ChatEvent, 8)
	unsubscribe := sock.Subscribe(func(ev domain.ChatEvent) { events <- ev })
	kept := make(chan domain.ChatEvent, 8)
	sock.Subscribe(func(ev domain.ChatEvent) { kept <- ev })

	sock.Connect(context.Background())

	select {
	case <-events:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for first event")
	}

	unsubscribe()
	close(release)

	select {
	case ev := <-kept:
		if ev.Message == "second" {
			break
		}
		select {
		case ev = <-kept:
			if ev.Message != "second" {
				t.Fatalf("kept subscriber got %q, want %q", ev.Message, "second")
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for second event on kept subscriber")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for kept subscriber")
	}

	select {
	case ev := <-events:
		if ev.Message == "second" {
			t.Fatal("unsubscribed handler still received events")
		}
	default:
	}
}

func TestSocketSendRoundTrip(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			// Outbound payloads parse as chat events, so echoing works.
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	sock := NewSocket(wsURL(t, srv.URL), DefaultSocketConfig(), nil)
	defer sock.Close()

	events := make(chan domain.ChatEvent, 1)
	sock.Subscribe(func(ev domain.ChatEvent) { events <- ev })

	sock.Connect(context.Background())
	waitForState(t, sock, StateOpen)

	sock.Send(domain.Outbound{Message: "ping"})

	select {
	case ev := <-events:
		if ev.Message != "ping" {
			t.Fatalf("echoed message = %q, want %q", ev.Message, "ping")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for echo")
	}
}

func TestSocketSendWhileClosedIsSilentNoOp(t *testing.T) {
	t.Parallel()

	sock := NewSocket("ws://127.0.0.1:1/ws/chat/none/", DefaultSocketConfig(), nil)
	sock.Send(domain.Outbound{Message: "dropped"})
	if sock.State() != StateIdle {
		t.Fatalf("state = %v, want idle", sock.State())
	}
	sock.Close()
}

func TestSocketReconnectBudgetExhausted(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		// Refuse the upgrade so every dial fails.
		http.Error(w, "no", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := SocketConfig{MaxReconnectAttempts: 2, ReconnectBaseDelay: 5 * time.Millisecond}
	sock := NewSocket(wsURL(t, srv.URL), cfg, nil)
	defer sock.Close()

	sock.Connect(context.Background())
	waitForState(t, sock, StateExhausted)

	// Initial dial plus two reconnect attempts.
	if got := attempts.Load(); got != 3 {
		t.Fatalf("dial attempts = %d, want 3", got)
	}

	// No further timer: the count must stay put.
	time.Sleep(50 * time.Millisecond)
	if got := attempts.Load(); got != 3 {
		t.Fatalf("dial attempts after exhaustion = %d, want 3", got)
	}
}

func TestSocketOpenResetsReconnectBudget(t *testing.T) {
	t.Parallel()

	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := conns.Add(1)
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		if n < 3 {
			// Drop the first two connections right away.
			conn.CloseNow()
			return
		}
		defer conn.CloseNow()
		_, _, _ = conn.Read(r.Context())
	}))
	defer srv.Close()

	// With a budget of one, reaching a third connection proves the counter
	// resets on every successful open.
	cfg := SocketConfig{MaxReconnectAttempts: 1, ReconnectBaseDelay: 5 * time.Millisecond}
	sock := NewSocket(wsURL(t, srv.URL), cfg, nil)
	defer sock.Close()

	sock.Connect(context.Background())

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if conns.Load() == 3 && sock.State() == StateOpen {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("connection count = %d, state = %v; want 3 connections and open", conns.Load(), sock.State())
}

func TestSocketCloseIsIdempotentAndSuppressesReconnect(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		// Drop immediately to push the client into its backoff wait.
		conn.CloseNow()
	}))
	defer srv.Close()

	cfg := SocketConfig{MaxReconnectAttempts: 3, ReconnectBaseDelay: time.Minute}
	sock := NewSocket(wsURL(t, srv.URL), cfg, nil)

	sock.Connect(context.Background())
	waitForState(t, sock, StateClosedPendingRetry)

	done := make(chan struct{})
	go func() {
		sock.Close()
		sock.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not cancel the pending reconnect timer")
	}
	if sock.State() != StateClosedClean {
		t.Fatalf("state = %v, want closed", sock.State())
	}
}

func TestRoomURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		base  string
		kind  string
		room  string
		token string
		want  string
	}{
		{
			name: "no token",
			base: "ws://localhost:8000",
			kind: "chat",
			room: "lobby",
			want: "ws://localhost:8000/ws/chat/lobby/",
		},
		{
			name:  "token appended",
			base:  "ws://localhost:8000",
			kind:  "ai",
			room:  "42",
			token: "abc",
			want:  "ws://localhost:8000/ws/ai/42/?token=abc",
		},
		{
			name: "trailing slash on base",
			base: "wss://mira.example/",
			kind: "ai",
			room: "42",
			want: "wss://mira.example/ws/ai/42/",
		},
		{
			name:  "token escaped",
			base:  "ws://localhost:8000",
			kind:  "ai",
			room:  "42",
			token: "a b+c",
			want:  "ws://localhost:8000/ws/ai/42/?token=a+b%2Bc",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := RoomURL(tt.base, tt.kind, tt.room, tt.token)
			if got != tt.want {
				t.Errorf("RoomURL() = %q, want %q", got, tt.want)
			}
		})
	}
}
