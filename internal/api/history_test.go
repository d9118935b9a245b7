package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashureev/mira-client/internal/store"
)

func historyServer(t *testing.T, payload string) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/ai/history/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(payload))
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, store.NewMemory(), nil)
}

func TestFetchHistoryEnvelopeShapes(t *testing.T) {
	t.Parallel()

	item := `{"id": 7, "question": "hi", "answer": "hello", "created_at": "2026-01-02T15:04:05Z"}`
	tests := []struct {
		name    string
		payload string
	}{
		{"bare array", `[` + item + `]`},
		{"history envelope", `{"history": [` + item + `]}`},
		{"results envelope", `{"results": [` + item + `]}`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client := historyServer(t, tt.payload)

			msgs, err := client.FetchHistory(context.Background(), "Mira")
			if err != nil {
				t.Fatalf("FetchHistory failed: %v", err)
			}
			if len(msgs) != 1 {
				t.Fatalf("got %d messages, want 1", len(msgs))
			}

			msg := msgs[0]
			if msg.ID != "7" {
				t.Errorf("id = %q, want numeric id as string", msg.ID)
			}
			if msg.Text != "hi\n\nhello" {
				t.Errorf("text = %q", msg.Text)
			}
			if msg.Author != "Mira" || !msg.FromAssistant {
				t.Errorf("author = %q, fromAssistant = %v", msg.Author, msg.FromAssistant)
			}
			want := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
			if !msg.CreatedAt.Equal(want) {
				t.Errorf("createdAt = %v, want %v", msg.CreatedAt, want)
			}
		})
	}
}

func TestFetchHistoryFallbacks(t *testing.T) {
	t.Parallel()

	client := historyServer(t, `[
		{"question": "only question"},
		{"id": "abc", "answer": "only answer", "created": "2026-03-04T00:00:00Z"},
		"not an object"
	]`)

	before := time.Now()
	msgs, err := client.FetchHistory(context.Background(), "Mira")
	if err != nil {
		t.Fatalf("FetchHistory failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2 (non-objects skipped)", len(msgs))
	}

	if msgs[0].ID != "history-0" {
		t.Errorf("fallback id = %q", msgs[0].ID)
	}
	if msgs[0].Text != "only question" {
		t.Errorf("question-only text = %q", msgs[0].Text)
	}
	if msgs[0].CreatedAt.Before(before.Add(-time.Second)) {
		t.Errorf("missing timestamp did not fall back to now: %v", msgs[0].CreatedAt)
	}

	if msgs[1].ID != "abc" {
		t.Errorf("string id = %q", msgs[1].ID)
	}
	if msgs[1].Text != "only answer" {
		t.Errorf("answer-only text = %q", msgs[1].Text)
	}
	want := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	if !msgs[1].CreatedAt.Equal(want) {
		t.Errorf("createdAt from created = %v, want %v", msgs[1].CreatedAt, want)
	}
}

func TestFetchHistoryEmptyAndUnknownShapes(t *testing.T) {
	t.Parallel()

	for _, payload := range []string{`[]`, `{}`, `{"other": 1}`} {
		client := historyServer(t, payload)
		msgs, err := client.FetchHistory(context.Background(), "Mira")
		if err != nil {
			t.Fatalf("FetchHistory(%s) failed: %v", payload, err)
		}
		if len(msgs) != 0 {
			t.Errorf("FetchHistory(%s) = %d messages, want 0", payload, len(msgs))
		}
	}
}
