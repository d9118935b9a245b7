package stubserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

const historyLimit = 50

// wsEvent is the frame shape broadcast to room members. It matches what the
// real backend emits: history snapshots, member messages and streamed
// assistant chunks.
type wsEvent struct {
	Type        string       `json:"type,omitempty"`
	Items       []wsHistItem `json:"items,omitempty"`
	Message     string       `json:"message,omitempty"`
	DisplayName string       `json:"display_name,omitempty"`
	Stream      bool         `json:"is_stream"`
	Start       bool         `json:"is_start"`
	End         bool         `json:"is_end"`
}

type wsHistItem struct {
	ID          int    `json:"id"`
	Text        string `json:"text"`
	DisplayName string `json:"display_name"`
	CreatedAt   string `json:"created_at"`
}

type room struct {
	mu      sync.Mutex
	members map[*websocket.Conn]struct{}
	log     []wsHistItem
	seq     int
}

func (s *Server) room(kind, id string) *room {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := kind + "/" + id
	rm, ok := s.rooms[key]
	if !ok {
		rm = &room{members: make(map[*websocket.Conn]struct{})}
		s.rooms[key] = rm
	}
	return rm
}

func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	roomID := chi.URLParam(r, "roomID")
	if kind != "ai" && kind != "chat" {
		Error(w, http.StatusNotFound, "unknown channel kind")
		return
	}

	displayName := s.memberName(r.URL.Query().Get("token"))

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Error("failed to accept websocket", "error", err, "room", roomID)
		return
	}
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "session ended")
	}()

	rm := s.room(kind, roomID)
	rm.mu.Lock()
	rm.members[conn] = struct{}{}
	rm.mu.Unlock()
	defer func() {
		rm.mu.Lock()
		delete(rm.members, conn)
		rm.mu.Unlock()
	}()

	s.logger.Info("room member joined", "kind", kind, "room", roomID, "member", displayName)

	ctx := r.Context()
	if kind == "chat" {
		s.sendHistory(ctx, conn, rm)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				s.logger.Debug("websocket closed by client", "room", roomID)
			}
			return
		}

		var inbound struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(data, &inbound); err != nil || inbound.Message == "" {
			continue
		}

		rm.mu.Lock()
		rm.seq++
		rm.log = append(rm.log, wsHistItem{
			ID:          rm.seq,
			Text:        inbound.Message,
			DisplayName: displayName,
			CreatedAt:   time.Now().UTC().Format(time.RFC3339),
		})
		if len(rm.log) > historyLimit {
			rm.log = rm.log[len(rm.log)-historyLimit:]
		}
		rm.mu.Unlock()

		rm.broadcast(wsEvent{
			Message:     inbound.Message,
			DisplayName: displayName,
		})

		if kind == "ai" {
			go s.streamReply(rm, inbound.Message)
		}
	}
}

// memberName derives a display name from an issued access token, falling
// back to an anonymous guest name.
func (s *Server) memberName(token string) string {
	if token != "" {
		s.mu.Lock()
		email, ok := s.access[token]
		s.mu.Unlock()
		if ok {
			return email
		}
	}
	return "guest-" + randomHex(3)
}

func (s *Server) sendHistory(ctx context.Context, conn *websocket.Conn, rm *room) {
	rm.mu.Lock()
	items := make([]wsHistItem, len(rm.log))
	copy(items, rm.log)
	rm.mu.Unlock()

	if items == nil {
		items = []wsHistItem{}
	}
	if err := writeEvent(ctx, conn, wsEvent{Type: "history", Items: items}); err != nil {
		s.logger.Debug("failed to send history event", "error", err)
	}
}

// streamReply emits a canned assistant answer as accumulated chunks with
// start/end flags, the way the real backend streams model output.
func (s *Server) streamReply(rm *room, question string) {
	reply := fmt.Sprintf("You asked: %q. This is a canned reply from the stub backend, streamed in chunks so the client can exercise its assembly path.", question)

	runes := []rune(reply)
	const chunkSize = 24
	for start := 0; start < len(runes); start += chunkSize {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		rm.broadcast(wsEvent{
			Message:     string(runes[:end]),
			DisplayName: s.cfg.AssistantName,
			Stream:      true,
			Start:       start == 0,
			End:         end == len(runes),
		})
		time.Sleep(50 * time.Millisecond)
	}
}

func (rm *room) broadcast(ev wsEvent) {
	rm.mu.Lock()
	members := make([]*websocket.Conn, 0, len(rm.members))
	for conn := range rm.members {
		members = append(members, conn)
	}
	rm.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, conn := range members {
		if err := writeEvent(ctx, conn, ev); err != nil {
			// Dead members are reaped when their read loop exits.
			continue
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev wsEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
