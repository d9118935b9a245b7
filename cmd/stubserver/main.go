// Local stand-in for the Mira backend, for developing the chat client
// without a real deployment.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/mira-client/internal/stubserver"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	port := os.Getenv("STUB_PORT")
	if port == "" {
		port = "8000"
	}

	cfg := stubserver.DefaultConfig()
	if shape := os.Getenv("STUB_HISTORY_SHAPE"); shape != "" {
		cfg.HistoryShape = shape
	}
	if code := os.Getenv("STUB_DEV_CODE"); code != "" {
		cfg.DevCode = code
	}

	srv := stubserver.New(cfg, logger)
	srv.AddHistory(
		"What can you help me with?",
		"I can answer questions about your trips and plans. Ask away.",
	)

	httpSrv := &http.Server{
		Addr:        ":" + port,
		Handler:     srv.Router(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Stub backend listening", "addr", httpSrv.Addr, "dev_code", cfg.DevCode)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
