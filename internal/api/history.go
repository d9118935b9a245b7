package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/mira-client/internal/chat"
	"github.com/ashureev/mira-client/internal/domain"
)

const historyPath = "/api/ai/history/"

// FetchHistory loads the one-shot conversation snapshot over REST. The
// backend has shipped three envelope shapes over time (a bare array,
// {history: [...]} and {results: [...]}); all are accepted. Each item's
// question and answer are joined into one assistant message.
func (c *Client) FetchHistory(ctx context.Context, assistant string) ([]domain.Message, error) {
	raw, err := c.Request(ctx, http.MethodGet, historyPath, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}

	items := historyItems(raw)
	msgs := make([]domain.Message, 0, len(items))
	for idx, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}

		id := stringField(obj, "id")
		if id == "" {
			id = fmt.Sprintf("history-%d", idx)
		}

		question := stringField(obj, "question")
		answer := stringField(obj, "answer")
		text := strings.TrimSpace(question + "\n\n" + answer)

		createdAt := time.Now()
		raw := stringField(obj, "created_at")
		if raw == "" {
			raw = stringField(obj, "created")
		}
		if raw != "" {
			if ts, err := time.Parse(time.RFC3339, raw); err == nil {
				createdAt = ts
			}
		}

		msgs = append(msgs, domain.Message{
			ID:            id,
			Author:        assistant,
			Text:          chat.SanitizeMessage(text),
			CreatedAt:     createdAt,
			FromAssistant: true,
		})
	}
	return msgs, nil
}

func historyItems(raw any) []any {
	switch v := raw.(type) {
	case []any:
		return v
	case map[string]any:
		if items, ok := v["history"].([]any); ok {
			return items
		}
		if items, ok := v["results"].([]any); ok {
			return items
		}
	}
	return nil
}

// stringField reads a field that may arrive as a string or a JSON number.
func stringField(obj map[string]any, key string) string {
	switch v := obj[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}
