package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/clinloop/medichat/internal/chats"
	"github.com/clinloop/medichat/internal/completion"
	"github.com/clinloop/medichat/internal/config"
	"github.com/clinloop/medichat/internal/httpapi"
	"github.com/clinloop/medichat/internal/observability"
	"github.com/clinloop/medichat/internal/session"
	"github.com/clinloop/medichat/internal/users"
)

func main() {
	// A local .env is optional; real deployments set the environment.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf(".env not loaded: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	userStore, err := users.NewStore(ctx, cfg.DatabaseURL, cfg.UsersFile)
	if err != nil {
		log.Fatalf("credential store init failed: %v", err)
	}
	defer userStore.Close()

	chatStore, err := chats.NewStore(ctx, cfg.DatabaseURL, cfg.ChatsFile)
	if err != nil {
		log.Fatalf("chat store init failed: %v", err)
	}
	defer chatStore.Close()

	gateway, err := completion.NewGateway(completion.Config{
		Mode:        cfg.CompletionMode,
		BaseURL:     cfg.GroqBaseURL,
		APIKey:      cfg.GroqAPIKey,
		Model:       cfg.CompletionModel,
		Temperature: cfg.CompletionTemperature,
		TopP:        cfg.CompletionTopP,
		MaxTokens:   cfg.CompletionMaxTokens,
		Timeout:     cfg.CompletionTimeout,
	})
	if err != nil {
		log.Fatalf("completion gateway init failed: %v", err)
	}
	if _, ok := gateway.(*completion.MockGateway); ok {
		log.Printf("completion gateway: mock (no API key configured)")
	} else {
		log.Printf("completion gateway: %s model %s", cfg.GroqBaseURL, cfg.CompletionModel)
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	api := httpapi.New(cfg, users.NewService(userStore), chatStore, sessions, gateway, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 30*time.Second)

	go func() {
		log.Printf("server listening on %s (store: %s)", cfg.BindAddr, storeMode(cfg))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}

func storeMode(cfg config.Config) string {
	if cfg.DatabaseURL != "" {
		return "postgres"
	}
	return "file"
}
