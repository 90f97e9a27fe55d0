package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/pflag"

	"github.com/stratalabs/coderag/internal/ai"
	"github.com/stratalabs/coderag/internal/cache"
	"github.com/stratalabs/coderag/internal/config"
	"github.com/stratalabs/coderag/internal/fetch"
	"github.com/stratalabs/coderag/internal/metrics"
	chimw "github.com/stratalabs/coderag/internal/middleware"
	"github.com/stratalabs/coderag/internal/orchestrator"
	"github.com/stratalabs/coderag/internal/queryservice"
	"github.com/stratalabs/coderag/internal/store"
	"github.com/stratalabs/coderag/pkg/models"
)

func main() {
	fs := pflag.NewFlagSet("coderag-api", pflag.ExitOnError)

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
	logger.Info().Str("provider", cfg.Provider).Str("log_level", cfg.LogLevel).Msg("starting coderag api")

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

	ctx := context.Background()

	aiClient, err := ai.NewClient(clientConfig)
	if err != nil {
		log.Fatalf("failed to create AI client: %v", err)
	}
	dim := aiClient.Dim()
	logger.Info().Int("embedding_dim", dim).Str("embed_model", clientConfig.EmbedModel).Msg("ai client initialized")

	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx, dim); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	q, err := orchestrator.NewQueue(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to job queue: %v", err)
	}
	defer q.Close()

	c, err := cache.New(ctx, cfg.RedisURL, time.Duration(cfg.CacheTTLSeconds)*time.Second)
	if err != nil {
		log.Fatalf("failed to connect to cache: %v", err)
	}
	defer c.Close()

	deps := orchestrator.Deps{Store: st, Queue: q, AIClient: aiClient}

	r := chi.NewRouter()
	r.Use(hlog.NewHandler(logger))
	r.Use(hlog.AccessHandler(func(req *http.Request, status, size int, dur time.Duration) {
		logger.Info().Str("method", req.Method).Str("path", req.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(chimw.CORS(cfg.AllowedOriginList()))

	r.Get("/health", handleHealth(st))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/index", handleIndex(deps))
		r.Get("/index/status/{jobId}", handleIndexStatus(deps))
		r.Post("/rag/query", handleQuery(aiClient, st, c))
	})

	address := ":" + strconv.Itoa(cfg.Port)
	srv := &http.Server{Addr: address, Handler: r}
	logger.Info().Str("addr", srv.Addr).Msg("api server listening")
	log.Fatal(srv.ListenAndServe())
}

func handleHealth(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := st.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "down", "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type indexRequest struct {
	GithubURL   string `json:"githubUrl"`
	GithubToken string `json:"githubToken,omitempty"`
	RequestedBy string `json:"requestedBy,omitempty"`
}

type indexResponse struct {
	JobID string `json:"jobId"`
}

func handleIndex(deps orchestrator.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req indexRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(req.GithubURL) == "" {
			writeError(w, http.StatusBadRequest, "githubUrl is required")
			return
		}
		if _, _, err := fetch.ParseURL(req.GithubURL); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid GitHub URL")
			return
		}

		jobID, err := orchestrator.Submit(r.Context(), deps, models.IndexRepoJobData{
			GithubURL:   req.GithubURL,
			GithubToken: req.GithubToken,
			RequestedBy: req.RequestedBy,
		})
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("submit index job")
			writeError(w, http.StatusInternalServerError, "failed to submit indexing job")
			return
		}

		writeJSON(w, http.StatusAccepted, indexResponse{JobID: jobID})
	}
}

type jobStatusResponse struct {
	JobID      string            `json:"jobId"`
	State      models.JobState   `json:"state"`
	Progress   int               `json:"progress"`
	Attempts   int               `json:"attempts"`
	Result     *models.JobResult `json:"result,omitempty"`
	FailReason string            `json:"failReason,omitempty"`
}

func handleIndexStatus(deps orchestrator.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobId")
		job, found, err := orchestrator.Status(r.Context(), deps, jobID)
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Str("jobId", jobID).Msg("get job status")
			writeError(w, http.StatusInternalServerError, "failed to load job status")
			return
		}
		if !found {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}

		writeJSON(w, http.StatusOK, jobStatusResponse{
			JobID:      job.JobID,
			State:      job.State,
			Progress:   job.Progress,
			Attempts:   job.Attempts,
			Result:     job.ReturnValue,
			FailReason: job.FailReason,
		})
	}
}

type queryRequest struct {
	RepoID string `json:"repoId"`
	Query  string `json:"query"`
	TopK   int    `json:"topK,omitempty"`
}

func handleQuery(aiClient ai.Client, searcher queryservice.Searcher, c *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		topK := req.TopK
		if topK <= 0 {
			topK = 8
		}

		if err := queryservice.Validate(req.RepoID, req.Query); err != nil {
			if errors.Is(err, queryservice.ErrInvalidInput) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "validation failed")
			return
		}

		metrics.QueryRequests.Inc()
		ctx := r.Context()

		key := cache.Key(req.RepoID, req.Query, topK)
		var resp queryservice.Response
		if err := c.GetJSON(ctx, key, &resp); err == nil {
			metrics.QueryCacheHits.Inc()
			metrics.QueryDuration.Observe(time.Since(start).Seconds())
			writeJSON(w, http.StatusOK, resp)
			return
		}

		resp, err := queryservice.Query(ctx, aiClient, searcher, req.RepoID, req.Query, topK)
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Str("repoId", req.RepoID).Msg("query failed")
			writeError(w, http.StatusInternalServerError, "query failed")
			return
		}

		if err := c.SetJSON(ctx, key, resp); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("failed to cache query response")
		}

		metrics.QueryDuration.Observe(time.Since(start).Seconds())
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
