// Package stubserver implements a local stand-in for the Mira backend: the
// code-login endpoints, the conversation history endpoint and the room
// websocket. It exists for manual testing of the client and as a realistic
// fixture; it is not a production server.
package stubserver

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/mira-client/internal/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

const csrfCookieName = "csrftoken"

// Config holds stub backend settings.
type Config struct {
	// DevCode is the login code every email verifies with.
	DevCode string
	// AssistantName is the display name used for streamed replies.
	AssistantName string
	// HistoryShape selects the history envelope: "array", "history" or
	// "results".
	HistoryShape string
	// AllowedOrigins feeds the CORS middleware.
	AllowedOrigins []string
}

// DefaultConfig returns stub defaults.
func DefaultConfig() Config {
	return Config{
		DevCode:        "000000",
		AssistantName:  "Mira",
		HistoryShape:   "results",
		AllowedOrigins: []string{"*"},
	}
}

// Server is the stub backend.
type Server struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	access  map[string]string // access token -> email
	refresh map[string]string // refresh token -> email
	history []historyRecord
	rooms   map[string]*room
}

type historyRecord struct {
	ID        int    `json:"id"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	CreatedAt string `json:"created_at"`
}

// New creates a stub server.
func New(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DevCode == "" {
		cfg.DevCode = "000000"
	}
	if cfg.AssistantName == "" {
		cfg.AssistantName = "Mira"
	}
	return &Server{
		cfg:     cfg,
		logger:  logger,
		access:  make(map[string]string),
		refresh: make(map[string]string),
		rooms:   make(map[string]*room),
	}
}

// Router builds the chi router for the stub backend.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(s.cfg.AllowedOrigins))

	r.Route("/auth", func(r chi.Router) {
		r.Use(s.csrfGuard)
		r.Post("/request-code/", s.handleRequestCode)
		r.Post("/verify-code/", s.handleVerifyCode)
		r.Post("/token/refresh/", s.handleRefresh)
	})

	r.Get("/api/ai/history/", s.handleHistory)
	r.Get("/ws/{kind}/{roomID}/", s.handleRoom)

	return r
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// csrfGuard enforces the double-submit cookie on unsafe auth calls. A client
// that has not been issued a cookie yet passes through and gets one.
func (s *Server) csrfGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(csrfCookieName)
		if err == nil && cookie.Value != "" {
			if r.Header.Get("X-CSRFTOKEN") != cookie.Value {
				Error(w, http.StatusForbidden, "csrf token mismatch")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRequestCode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email == "" {
		Error(w, http.StatusBadRequest, "email is required")
		return
	}

	s.issueCSRFCookie(w)
	s.logger.Info("login code requested", "email", body.Email, "code", s.cfg.DevCode)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email == "" {
		Error(w, http.StatusBadRequest, "email and code are required")
		return
	}
	if body.Code != s.cfg.DevCode {
		Error(w, http.StatusBadRequest, "invalid code")
		return
	}

	access, refresh := s.issueTokens(body.Email)
	JSON(w, http.StatusOK, map[string]string{
		"access":  access,
		"refresh": refresh,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Refresh string `json:"refresh"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Refresh == "" {
		Error(w, http.StatusBadRequest, "refresh token is required")
		return
	}

	s.mu.Lock()
	email, ok := s.refresh[body.Refresh]
	if ok {
		delete(s.refresh, body.Refresh)
	}
	s.mu.Unlock()
	if !ok {
		Error(w, http.StatusUnauthorized, "unknown refresh token")
		return
	}

	access, refresh := s.issueTokens(email)
	JSON(w, http.StatusOK, map[string]string{
		"access":  access,
		"refresh": refresh,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	s.mu.Lock()
	records := make([]historyRecord, len(s.history))
	copy(records, s.history)
	s.mu.Unlock()

	switch s.cfg.HistoryShape {
	case "array":
		JSON(w, http.StatusOK, records)
	case "history":
		JSON(w, http.StatusOK, map[string]any{"history": records})
	default:
		JSON(w, http.StatusOK, map[string]any{"results": records})
	}
}

// AddHistory seeds a question/answer exchange into the REST history.
func (s *Server) AddHistory(question, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, historyRecord{
		ID:        len(s.history) + 1,
		Question:  question,
		Answer:    answer,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) authorized(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, known := s.access[token]
	return known
}

func (s *Server) issueTokens(email string) (access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	access = "acc-" + randomHex(12)
	refresh = "ref-" + randomHex(12)
	s.access[access] = email
	s.refresh[refresh] = email
	return access, refresh
}

func (s *Server) issueCSRFCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    randomHex(16),
		Path:     "/",
		MaxAge:   int((24 * time.Hour).Seconds()),
		SameSite: http.SameSiteLaxMode,
	})
}

func randomHex(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
