package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/stratalabs/coderag/internal/ai"
	"github.com/stratalabs/coderag/internal/config"
	"github.com/stratalabs/coderag/internal/orchestrator"
	"github.com/stratalabs/coderag/internal/store"
)

func main() {
	fs := pflag.NewFlagSet("coderag-worker", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("invalid log level %q: %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().Int("concurrency", cfg.WorkerConcurrency).Str("provider", cfg.Provider).Msg("starting coderag worker")

	clientConfig := &ai.ClientConfig{
		APIKey:       cfg.GeminiAPIKey,
		EmbedModel:   cfg.EmbedModel,
		SummaryModel: cfg.SummaryModel,
		Dim:          cfg.Dim,
		ProjectID:    cfg.ProjectID,
		Location:     cfg.Location,
	}
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		clientConfig.Provider = ai.ProviderOpenAI
	case "vertexai", "google":
		clientConfig.Provider = ai.ProviderVertexAI
	case "stub", "":
		clientConfig.Provider = ai.ProviderStub
	default:
		log.Fatalf("unsupported provider: %s", cfg.Provider)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	aiClient, err := ai.NewClient(clientConfig)
	if err != nil {
		log.Fatalf("failed to create AI client: %v", err)
	}

	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx, aiClient.Dim()); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	q, err := orchestrator.NewQueue(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to job queue: %v", err)
	}
	defer q.Close()

	deps := orchestrator.Deps{Store: st, Queue: q, AIClient: aiClient}

	logger.Info().Msg("worker pool running, awaiting indexing jobs")
	orchestrator.RunWorkerPool(ctx, deps, cfg.WorkerConcurrency)
	logger.Info().Msg("worker pool stopped")
}
