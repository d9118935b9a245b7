// Terminal chat client for the Mira backend.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/ashureev/mira-client/internal/api"
	"github.com/ashureev/mira-client/internal/chat"
	"github.com/ashureev/mira-client/internal/config"
	"github.com/ashureev/mira-client/internal/domain"
	"github.com/ashureev/mira-client/internal/store"
	"github.com/joho/godotenv"
)

func main() {
	// Logs go to stderr; stdout is the conversation.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err == nil {
		logger.Debug("loaded .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("Chat client failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	creds, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}
	defer func() {
		if closeErr := creds.Close(); closeErr != nil {
			logger.Warn("failed to close credential store", "error", closeErr)
		}
	}()

	client := api.NewClient(cfg.APIBaseURL, creds, logger)
	stdin := bufio.NewScanner(os.Stdin)

	pair, err := creds.Load(ctx)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	if !pair.Valid() {
		pair, err = login(ctx, client, stdin)
		if err != nil {
			return err
		}
	}

	// History failures must not block the live connection.
	var history []domain.Message
	if cfg.ChannelKind == "ai" {
		history, err = client.FetchHistory(ctx, cfg.AssistantName)
		if err != nil {
			fmt.Println("! could not load conversation history")
			logger.Warn("history fetch failed", "error", err)
		}
	}

	// Reload in case the history fetch refreshed the pair.
	if current, loadErr := creds.Load(ctx); loadErr == nil && current.Valid() {
		pair = current
	}

	socket := chat.NewSocket(
		chat.RoomURL(cfg.WSBaseURL, cfg.ChannelKind, cfg.Room, pair.Access),
		chat.SocketConfig{
			MaxReconnectAttempts: cfg.MaxReconnectAttempts,
			ReconnectBaseDelay:   cfg.ReconnectBaseDelay,
		},
		logger,
	)

	tlog, err := chat.NewTranscriptLogger(chat.TranscriptLogConfig{
		Enabled:   cfg.TranscriptLog.Enabled,
		Dir:       cfg.TranscriptLog.Dir,
		QueueSize: cfg.TranscriptLog.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("open transcript log: %w", err)
	}
	defer func() {
		if closeErr := tlog.Close(); closeErr != nil {
			logger.Warn("failed to close transcript log", "error", closeErr)
		}
	}()

	asm := chat.NewAssembler(cfg.AssistantName, nil)
	session := chat.NewSession(cfg.Room, socket, asm, tlog, logger)
	defer session.Close()

	render := newRenderer(os.Stdout)
	session.OnUpdate(func() { render.update(session.Messages()) })
	if history != nil {
		session.SeedHistory(history)
	}
	session.Connect(ctx)

	fmt.Printf("Connected to %s room %q. Type a message, or /quit to exit.\n", cfg.ChannelKind, cfg.Room)

	lines := make(chan string)
	go func() {
		defer close(lines)
		for stdin.Scan() {
			lines <- stdin.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nbye")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "/quit" {
				return nil
			}
			session.SendMessage(line)
		}
	}
}

// login walks the email/code exchange and persists the resulting pair.
func login(ctx context.Context, client *api.Client, stdin *bufio.Scanner) (*domain.TokenPair, error) {
	email, err := prompt(stdin, "email: ")
	if err != nil {
		return nil, err
	}
	if err := client.RequestLoginCode(ctx, email); err != nil {
		return nil, fmt.Errorf("request login code: %w", err)
	}
	fmt.Println("A login code has been sent to your email.")

	code, err := prompt(stdin, "code: ")
	if err != nil {
		return nil, err
	}
	pair, err := client.VerifyLoginCode(ctx, email, code)
	if err != nil {
		return nil, fmt.Errorf("verify login code: %w", err)
	}
	fmt.Println("Logged in.")
	return pair, nil
}

func prompt(stdin *bufio.Scanner, label string) (string, error) {
	fmt.Print(label)
	if !stdin.Scan() {
		return "", fmt.Errorf("stdin closed")
	}
	value := strings.TrimSpace(stdin.Text())
	if value == "" {
		return "", fmt.Errorf("empty input")
	}
	return value, nil
}

// renderer prints each message once it is final; streaming progress shows as
// a typing indicator.
type renderer struct {
	mu      sync.Mutex
	out     *os.File
	printed map[string]bool
	typing  bool
}

func newRenderer(out *os.File) *renderer {
	return &renderer{out: out, printed: make(map[string]bool)}
}

func (r *renderer) update(msgs []domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	streaming := false
	for _, m := range msgs {
		if m.Streaming {
			streaming = true
			continue
		}
		if r.printed[m.ID] {
			continue
		}
		r.printed[m.ID] = true
		fmt.Fprintf(r.out, "[%s] %s: %s\n", m.CreatedAt.Format("15:04:05"), m.Author, m.Text)
	}

	if streaming && !r.typing {
		fmt.Fprintln(r.out, "…")
	}
	r.typing = streaming
}
