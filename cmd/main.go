package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/joho/godotenv"

	"github.com/healthsoft-au/sample-app-aoai-chatGPT/handler"
	"github.com/healthsoft-au/sample-app-aoai-chatGPT/internal/config"
	"github.com/healthsoft-au/sample-app-aoai-chatGPT/internal/domain"
	"github.com/healthsoft-au/sample-app-aoai-chatGPT/internal/history"
	"github.com/healthsoft-au/sample-app-aoai-chatGPT/internal/integrations/graph"
	"github.com/healthsoft-au/sample-app-aoai-chatGPT/internal/integrations/openai"
	"github.com/healthsoft-au/sample-app-aoai-chatGPT/internal/search"
	"github.com/healthsoft-au/sample-app-aoai-chatGPT/internal/usecase"
)

func main() {
	// Local development convenience, ignored when the file is absent.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// ---- Conversation store ----
	var store *history.Client
	if cfg.Cosmos.AccountKey != "" {
		store, err = history.ConnectWithKey(cfg.Cosmos.Endpoint, cfg.Cosmos.AccountKey, cfg.Cosmos.Database, cfg.Cosmos.Container,
			history.WithMessageFeedback(cfg.Cosmos.EnableFeedback))
	} else {
		var credential *azidentity.DefaultAzureCredential
		credential, err = azidentity.NewDefaultAzureCredential(nil)
		if err == nil {
			store, err = history.Connect(cfg.Cosmos.Endpoint, credential, cfg.Cosmos.Database, cfg.Cosmos.Container,
				history.WithMessageFeedback(cfg.Cosmos.EnableFeedback))
		}
	}
	if err != nil {
		logger.Error("failed to create history client", "err", err)
		os.Exit(1)
	}

	// ---- Model client ----
	chatClient, err := openai.NewClient(openai.Config{
		Endpoint:      cfg.OpenAI.Endpoint,
		APIKey:        cfg.OpenAI.Key,
		APIVersion:    cfg.OpenAI.APIVersion,
		Model:         cfg.OpenAI.Model,
		SystemMessage: cfg.OpenAI.SystemMessage,
		Temperature:   cfg.OpenAI.Temperature,
		MaxTokens:     cfg.OpenAI.MaxTokens,
	})
	if err != nil {
		logger.Error("failed to create model client", "err", err)
		os.Exit(1)
	}

	// Validated at startup so a bad column fails fast. The filter itself
	// is built per request by search datasource consumers.
	if cfg.Search.PermittedGroupsColumn != "" {
		if _, err := search.NewFilterBuilder(graph.NewClient(), cfg.Search.PermittedGroupsColumn); err != nil {
			logger.Error("failed to create group filter builder", "err", err)
			os.Exit(1)
		}
		logger.Info("permitted groups filtering configured", "column", cfg.Search.PermittedGroupsColumn)
	}

	// ---- Handler ----
	historyService, err := usecase.NewHistoryService(store, chatClient)
	if err != nil {
		logger.Error("failed to create history service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(historyService, chatStreamer{client: chatClient}, logger, splitOrigins(cfg.AllowedOrigins))
	if err != nil {
		logger.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("listening", "addr", cfg.Addr)
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

// chatStreamer adapts the model client's concrete stream type to the
// handler's interface.
type chatStreamer struct {
	client *openai.Client
}

func (s chatStreamer) ChatStream(ctx context.Context, messages []domain.ChatMessage) (handler.ChunkStream, error) {
	return s.client.ChatStream(ctx, messages)
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}
