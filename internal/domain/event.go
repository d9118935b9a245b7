package domain

import (
	"bytes"
	"encoding/json"
)

// ChatEvent mirrors the JSON frames delivered over the room websocket.
// Every field is optional on the wire; consumers dispatch on Type and the
// stream flags.
type ChatEvent struct {
	Type        string        `json:"type,omitempty"`
	Items       []HistoryItem `json:"items,omitempty"`
	Message     string        `json:"message,omitempty"`
	DisplayName string        `json:"display_name,omitempty"`
	Username    string        `json:"username,omitempty"`
	Stream      bool          `json:"is_stream,omitempty"`
	Start       bool          `json:"is_start,omitempty"`
	End         bool          `json:"is_end,omitempty"`
}

// HistoryItem is one prior message carried by a history event.
type HistoryItem struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	DisplayName string `json:"display_name"`
	CreatedAt   string `json:"created_at"`
}

// UnmarshalJSON accepts both string and numeric ids, since the backend
// serializes database ids as numbers but the client keys messages by string.
func (h *HistoryItem) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID          json.RawMessage `json:"id"`
		Text        string          `json:"text"`
		DisplayName string          `json:"display_name"`
		CreatedAt   string          `json:"created_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	h.ID = flexibleID(raw.ID)
	h.Text = raw.Text
	h.DisplayName = raw.DisplayName
	h.CreatedAt = raw.CreatedAt
	return nil
}

func flexibleID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return string(raw)
}
