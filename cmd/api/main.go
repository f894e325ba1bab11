package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"dockwatch/cmd"
	"dockwatch/internal/api"
	"dockwatch/internal/chatstore"
	"dockwatch/internal/docker"
	"dockwatch/internal/kube"
	"dockwatch/internal/ratelimit"
	"dockwatch/internal/settings"
)

type APIConfig struct {
	APIPort string `env:"API_PORT" envDefault:"8080"`
	DataDir string `env:"DATA_DIR" envDefault:"./data"`

	// Empty paths default to files under DataDir.
	ChatHistoryPath string `env:"CHAT_HISTORY_PATH"`
	SettingsPath    string `env:"SETTINGS_PATH"`

	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	OpenAIAPIKey string `env:"OPENAI_API_KEY"`
	ChatModels   string `env:"CHAT_MODELS" envDefault:"gemini-2.0-flash,gemini-1.5-flash,gemini-1.5-pro,gpt-4o,gpt-4o-mini"`
	DefaultModel string `env:"CHAT_DEFAULT_MODEL" envDefault:"gemini-2.0-flash"`

	RateLimitEnabled  bool `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RequestsPerMinute int  `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" envDefault:"60"`

	DockerHost            string        `env:"DOCKER_HOST"`
	AllowContainerActions bool          `env:"ALLOW_CONTAINER_ACTIONS" envDefault:"false"`
	ActionTimeout         time.Duration `env:"ACTION_TIMEOUT" envDefault:"30s"`
}

func main() {
	log.Println("Starting API Server...")

	cmd.LoadEnvFile()

	var cfg APIConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("error creating data dir %s: %v", cfg.DataDir, err)
	}
	if cfg.ChatHistoryPath == "" {
		cfg.ChatHistoryPath = filepath.Join(cfg.DataDir, "chat-history.json")
	}
	if cfg.SettingsPath == "" {
		cfg.SettingsPath = filepath.Join(cfg.DataDir, "settings.json")
	}

	chatStore := chatstore.New(cfg.ChatHistoryPath)
	settingsStore := settings.NewStore(cfg.SettingsPath)
	watcher, err := settingsStore.Watch()
	if err != nil {
		slog.Warn("settings file watching disabled", "error", err)
	} else {
		defer watcher.Close()
	}

	dockerClient := docker.NewClient(cfg.DockerHost)

	kubeClient, kubeErr := kube.NewClient()
	if kubeErr != nil {
		slog.Info("kubernetes not available", "reason", kubeErr)
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(90 * time.Second))

	chatService := api.NewChatService(chatStore, ratelimit.NewLimiter(), api.ChatConfig{
		GeminiAPIKey:      cfg.GeminiAPIKey,
		OpenAIAPIKey:      cfg.OpenAIAPIKey,
		Models:            strings.Split(cfg.ChatModels, ","),
		DefaultModel:      cfg.DefaultModel,
		RateLimitEnabled:  cfg.RateLimitEnabled,
		RequestsPerMinute: cfg.RequestsPerMinute,
	})
	suggestCfg := api.SuggestionConfig{
		GeminiAPIKey: cfg.GeminiAPIKey,
		Models:       strings.Split(cfg.ChatModels, ","),
		DefaultModel: cfg.DefaultModel,
	}
	containerService := api.NewContainerService(dockerClient, settingsStore, suggestCfg, cfg.AllowContainerActions, cfg.ActionTimeout)
	podService := api.NewPodService(kubeClient, suggestCfg)
	settingsService := api.NewSettingsService(settingsStore)
	systemService := api.NewSystemService(dockerClient, kubeClient, kubeErr, settingsStore, cfg.DataDir, cfg.AllowContainerActions)

	r.Route("/api/v1", func(r chi.Router) {
		chatService.AddRoutes(r)
		containerService.AddRoutes(r)
		podService.AddRoutes(r)
		settingsService.AddRoutes(r)
		systemService.AddRoutes(r)
	})

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: r,
	}

	// Goroutine for graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	log.Printf("API server listening on port %s", cfg.APIPort)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %s: %v\n", cfg.APIPort, err)
	}

	log.Println("Server stopped.")
}
