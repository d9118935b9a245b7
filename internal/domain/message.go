// Package domain contains core domain types for the Mira chat client.
package domain

import (
	"time"
)

// Message is a single entry in a conversation transcript.
// Insertion order is display order.
type Message struct {
	ID            string    `json:"id"`
	Author        string    `json:"author"`
	Text          string    `json:"text"`
	CreatedAt     time.Time `json:"created_at"`
	FromAssistant bool      `json:"from_assistant,omitempty"`
	Streaming     bool      `json:"streaming,omitempty"`
}

// Outbound is the payload sent over the websocket for a user message.
type Outbound struct {
	Message string `json:"message"`
}
