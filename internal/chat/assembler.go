package chat

import (
	"fmt"
	"sync"
	"time"

	"github.com/ashureev/mira-client/internal/domain"
)

// fallbackAuthor is used when an event carries no display name or username.
const fallbackAuthor = "System"

// Assembler folds inbound chat events into an ordered transcript. It merges
// one-shot history snapshots, atomic messages and fragmented streaming
// messages, tracking at most one open stream at a time.
//
// Apply is driven from the socket delivery path, which serializes events, so
// the internal mutex only guards transcript reads from other goroutines.
type Assembler struct {
	mu        sync.Mutex
	msgs      []domain.Message
	streamID  string
	ids       IDGenerator
	now       func() time.Time
	assistant string
}

// NewAssembler creates an assembler that recognizes the given assistant
// display name. A nil generator defaults to random UUIDs.
func NewAssembler(assistant string, ids IDGenerator) *Assembler {
	if ids == nil {
		ids = UUIDGenerator{}
	}
	return &Assembler{
		ids:       ids,
		now:       time.Now,
		assistant: assistant,
	}
}

// Messages returns a snapshot copy of the transcript.
func (a *Assembler) Messages() []domain.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.Message, len(a.msgs))
	copy(out, a.msgs)
	return out
}

// SetMessages seeds the transcript, typically from a REST history fetch.
// The stream cursor is left untouched.
func (a *Assembler) SetMessages(msgs []domain.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.msgs = make([]domain.Message, len(msgs))
	copy(a.msgs, msgs)
}

// Apply folds one inbound event into the transcript. Exactly one rule fires
// per event; events carrying neither history items nor a message body are
// ignored. It returns a copy of the message the event appended or updated,
// or nil for history and ignored events.
func (a *Assembler) Apply(ev domain.ChatEvent) *domain.Message {
	a.mu.Lock()
	defer a.mu.Unlock()

	// History snapshot: wholesale transcript replacement.
	if ev.Type == "history" && ev.Items != nil {
		a.msgs = a.mapHistory(ev.Items)
		return nil
	}

	if ev.Message == "" {
		return nil
	}

	author := ev.DisplayName
	if author == "" {
		author = ev.Username
	}
	if author == "" {
		author = fallbackAuthor
	}
	author = SanitizeAuthor(author)
	text := SanitizeMessage(ev.Message)

	if !ev.Stream {
		msg := domain.Message{
			ID:            a.ids.NewID(),
			Author:        author,
			Text:          text,
			CreatedAt:     a.now(),
			FromAssistant: author == a.assistant,
		}
		a.msgs = append(a.msgs, msg)
		return &msg
	}

	// A continuation without an open cursor starts a fresh message rather
	// than dropping the chunk.
	if ev.Start || a.streamID == "" {
		msg := domain.Message{
			ID:            a.ids.NewID(),
			Author:        author,
			Text:          text,
			CreatedAt:     a.now(),
			FromAssistant: author == a.assistant,
			Streaming:     !ev.End,
		}
		a.msgs = append(a.msgs, msg)
		a.streamID = msg.ID
		if ev.End {
			a.streamID = ""
		}
		return &msg
	}

	var updated *domain.Message
	for i := range a.msgs {
		if a.msgs[i].ID == a.streamID {
			// Chunks carry the full accumulated text, not a delta.
			a.msgs[i].Text = text
			a.msgs[i].Streaming = !ev.End
			msg := a.msgs[i]
			updated = &msg
			break
		}
	}
	if ev.End {
		a.streamID = ""
	}
	return updated
}

func (a *Assembler) mapHistory(items []domain.HistoryItem) []domain.Message {
	msgs := make([]domain.Message, 0, len(items))
	for idx, item := range items {
		id := item.ID
		if id == "" {
			id = fmt.Sprintf("history-%d", idx)
		}

		author := item.DisplayName
		if author == "" {
			author = "Unknown"
		}

		createdAt := a.now()
		if item.CreatedAt != "" {
			if ts, err := time.Parse(time.RFC3339, item.CreatedAt); err == nil {
				createdAt = ts
			}
		}

		msgs = append(msgs, domain.Message{
			ID:        id,
			Author:    SanitizeAuthor(author),
			Text:      SanitizeMessage(item.Text),
			CreatedAt: createdAt,
		})
	}
	return msgs
}
