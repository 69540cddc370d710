// Package bootstrap wires the HuntLens services from configuration. It is
// shared by the API server and the CLI.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/glaciergh0st/HuntLens/internal/application/classifier"
	appcorpus "github.com/glaciergh0st/HuntLens/internal/application/corpus"
	"github.com/glaciergh0st/HuntLens/internal/application/detection"
	"github.com/glaciergh0st/HuntLens/internal/application/pipeline"
	"github.com/glaciergh0st/HuntLens/internal/application/retrieval"
	"github.com/glaciergh0st/HuntLens/internal/application/validation"
	"github.com/glaciergh0st/HuntLens/internal/config"
	"github.com/glaciergh0st/HuntLens/internal/domain/ai"
	"github.com/glaciergh0st/HuntLens/internal/domain/corpus"
	"github.com/glaciergh0st/HuntLens/internal/domain/runs"
	"github.com/glaciergh0st/HuntLens/internal/infra/ai/openai"
	"github.com/glaciergh0st/HuntLens/internal/infra/ai/template"
	rediscache "github.com/glaciergh0st/HuntLens/internal/infra/cache/redis"
	"github.com/glaciergh0st/HuntLens/internal/infra/corpusfs"
	"github.com/glaciergh0st/HuntLens/internal/infra/db/mysql"
	"github.com/glaciergh0st/HuntLens/internal/infra/db/postgres"
	"github.com/glaciergh0st/HuntLens/internal/infra/db/sqlite"
	"github.com/glaciergh0st/HuntLens/internal/infra/embedding"
	"github.com/glaciergh0st/HuntLens/internal/infra/httpserver"
	"github.com/glaciergh0st/HuntLens/internal/infra/soar"
	"github.com/glaciergh0st/HuntLens/internal/infra/storage"
	"github.com/glaciergh0st/HuntLens/internal/infra/telemetry"
	"github.com/glaciergh0st/HuntLens/internal/middleware"
)

// Version is reported in telemetry resources.
var Version = "dev"

// App holds the wired services.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Classifier *classifier.Classifier
	Corpus     *appcorpus.Service
	Source     corpus.Source
	Retriever  *retrieval.Retriever
	Detector   *detection.Mapper
	Pipeline   *pipeline.Service
	Runs       runs.Repository

	health  map[string]middleware.HealthChecker
	ready   map[string]middleware.HealthChecker
	closers []func(context.Context) error
}

// NewLogger builds the process logger from the log section.
func NewLogger(c config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch c.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// New connects the configured backends and builds the services. On error
// everything opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		Config: cfg,
		Logger: logger,
		health: map[string]middleware.HealthChecker{},
		ready:  map[string]middleware.HealthChecker{},
	}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	tel, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName: "huntlens",
		Version:     Version,
		Exporter:    cfg.Telemetry.Exporter,
		SampleRatio: cfg.Telemetry.SampleRatio,
	}, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, tel.Shutdown)
	pipeTel, err := pipeline.NewTelemetry(tel.Tracer, tel.Meter)
	if err != nil {
		return nil, err
	}

	conn, repo, err := openRuns(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if conn != nil {
		a.closers = append(a.closers, func(context.Context) error { return conn.Close() })
		a.health["database"] = &middleware.DatabaseHealthChecker{DB: conn}
		a.ready["database"] = a.health["database"]
		a.Runs = repo
		logger.Info("run store connected", "driver", cfg.Database.Driver)
	}

	var llm *openai.Client
	if cfg.LLM.Provider == "openai" || cfg.Embedding.Provider == "openai" {
		llm = openai.NewClient(openai.Options{
			APIKey:         cfg.LLM.APIKey,
			BaseURL:        cfg.LLM.BaseURL,
			Model:          cfg.LLM.Model,
			EmbeddingModel: cfg.Embedding.Model,
			Dimensions:     cfg.Embedding.Dimensions,
			HTTPClient:     &http.Client{Timeout: cfg.LLM.Timeout},
		})
	}

	var embedder ai.Embedder
	switch cfg.Embedding.Provider {
	case "openai":
		embedder = llm
	default:
		h, err := embedding.NewHashing(cfg.Embedding.Dimensions)
		if err != nil {
			return nil, err
		}
		embedder = h
	}

	var generator ai.Generator = template.New()
	if cfg.LLM.Provider == "openai" {
		generator = llm
	}

	var archiver corpus.Archiver
	var store *storage.Store
	if cfg.Minio.Endpoint != "" {
		store, err = storage.New(ctx, storage.Options{
			Endpoint:       cfg.Minio.Endpoint,
			Region:         cfg.Minio.Region,
			Bucket:         cfg.Minio.BucketName,
			AccessKey:      cfg.Minio.AccessKey,
			SecretKey:      cfg.Minio.SecretKey,
			UseSSL:         cfg.Minio.UseSSL,
			CorpusPrefix:   cfg.Minio.CorpusPrefix,
			ManifestPrefix: cfg.Minio.ManifestPrefix,
		}, logger)
		if err != nil {
			return nil, err
		}
		archiver = store
		a.ready["minio"] = middleware.CheckFunc(store.Ping)
	}

	switch cfg.Corpus.Source {
	case "minio":
		a.Source = store
	default:
		a.Source = corpusfs.NewDir(cfg.Corpus.Dir, logger)
	}

	opts := []appcorpus.Option{appcorpus.WithLogger(logger), appcorpus.WithEmbedBatch(cfg.Embedding.BatchSize)}
	if archiver != nil {
		opts = append(opts, appcorpus.WithArchiver(archiver))
	}
	a.Corpus = appcorpus.NewService(embedder, opts...)

	retrOpts := []retrieval.Option{retrieval.WithLogger(logger)}
	if cfg.Redis.URL != "" {
		cache, err := rediscache.New(rediscache.Options{URL: cfg.Redis.URL, TTL: cfg.Redis.TTL})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return cache.Close() })
		a.ready["redis"] = middleware.CheckFunc(cache.Ping)
		retrOpts = append(retrOpts, retrieval.WithCache(cache))
	}
	a.Retriever, err = retrieval.New(a.Corpus, embedder, retrievalConfig(cfg.Retrieval), retrOpts...)
	if err != nil {
		return nil, err
	}

	a.Classifier = classifier.New(classifier.Options{MaxLength: cfg.Retrieval.MaxInputLength})
	a.Detector = detection.NewMapper(logger)

	deps := pipeline.Deps{
		Classifier: a.Classifier,
		Retriever:  a.Retriever,
		Corpus:     a.Corpus,
		Generator:  generator,
		Validator: validation.New(validation.Config{
			GroundedWeight:         cfg.Validation.GroundedWeight,
			EvidenceWeight:         cfg.Validation.EvidenceWeight,
			ContainmentWeight:      cfg.Validation.ContainmentWeight,
			LowConfidenceThreshold: cfg.Validation.LowConfidenceThreshold,
		}, logger),
		Detector:  a.Detector,
		SOAR:      soar.New(),
		Runs:      a.Runs,
		Logger:    logger,
		Telemetry: pipeTel,
	}
	a.Pipeline, err = pipeline.New(deps, pipelineConfig(cfg.Pipeline))
	if err != nil {
		return nil, err
	}

	a.ready["corpus"] = middleware.CheckFunc(func(context.Context) error {
		if a.Corpus.Current().Len() == 0 {
			return errors.New("corpus is empty")
		}
		return nil
	})
	return a, nil
}

func openRuns(ctx context.Context, c config.DatabaseConfig) (*sql.DB, runs.Repository, error) {
	var (
		conn *sql.DB
		err  error
	)
	switch c.Driver {
	case "":
		return nil, nil, nil
	case "mysql":
		dsn := c.DSN
		if dsn == "" {
			dsn = mysql.DSN(c.User, c.Password, c.Host, c.Port, c.Name)
		}
		if conn, err = mysql.Connect(ctx, dsn); err != nil {
			return nil, nil, err
		}
		return conn, mysql.NewRunRepository(conn), nil
	case "postgres":
		dsn := c.DSN
		if dsn == "" {
			dsn = postgres.DSN(c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
		}
		if conn, err = postgres.Connect(ctx, dsn); err != nil {
			return nil, nil, err
		}
		return conn, postgres.NewRunRepository(conn), nil
	case "sqlite":
		path := c.DSN
		if path == "" {
			path = c.Path
		}
		if conn, err = sqlite.Open(ctx, path); err != nil {
			return nil, nil, err
		}
		return conn, sqlite.NewRunRepository(conn), nil
	}
	return nil, nil, fmt.Errorf("unsupported database driver %q", c.Driver)
}

func retrievalConfig(c config.RetrievalConfig) retrieval.Config {
	return retrieval.Config{
		Candidates:     c.Candidates,
		RRFConstant:    c.RRFConstant,
		LexicalWeight:  c.LexicalWeight,
		SemanticWeight: c.SemanticWeight,
		TierMultipliers: map[corpus.TrustTier]float64{
			corpus.TierCanonical: c.TierMultipliers.Canonical,
			corpus.TierVendor:    c.TierMultipliers.Vendor,
			corpus.TierReport:    c.TierMultipliers.Report,
			corpus.TierCase:      c.TierMultipliers.Case,
		},
		Mode:          retrieval.Mode(c.Mode),
		SnippetLength: c.SnippetLength,
	}
}

func pipelineConfig(c config.PipelineConfig) pipeline.Config {
	return pipeline.Config{
		DefaultK:           c.DefaultK,
		MaxK:               c.MaxK,
		ClassifyTimeout:    c.ClassifyTimeout,
		RetrieveTimeout:    c.RetrieveTimeout,
		GenerateTimeout:    c.GenerateTimeout,
		ValidateTimeout:    c.ValidateTimeout,
		GenerationRetries:  c.GenerationRetries,
		RetryBackoff:       c.RetryBackoff,
		CorpusRetryBackoff: c.CorpusRetryBackoff,
		RecordTimeout:      c.RecordTimeout,
	}
}

// LoadCorpus builds the first snapshot from the configured source.
func (a *App) LoadCorpus(ctx context.Context) error {
	snap, err := a.Corpus.Rebuild(ctx, a.Source)
	if err != nil {
		var ing *corpus.IngestionError
		if !errors.As(err, &ing) || snap == nil {
			return fmt.Errorf("initial corpus load: %w", err)
		}
		a.Logger.Warn("corpus documents rejected", "rejected", len(ing.Rejected))
	}
	a.Logger.Info("corpus loaded", "version", snap.Version(), "documents", snap.Len())
	return nil
}

// Handler builds the HTTP API. Background work (scheduled rebuilds, rate
// limiter cleanup, async rebuilds) runs until ctx is done.
func (a *App) Handler(ctx context.Context) http.Handler {
	cfg := a.Config
	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewRateLimiter(cfg.RateLimit.Capacity, cfg.RateLimit.RefillPerSecond)
		go limiter.Cleanup(ctx, time.Minute, 10*time.Minute)
	}
	if cfg.Corpus.RebuildInterval > 0 {
		go a.Corpus.RunRebuildLoop(ctx, a.Source, cfg.Corpus.RebuildInterval)
	}
	return httpserver.NewRouter(httpserver.Deps{
		Pipeline:    a.Pipeline,
		Classifier:  a.Classifier,
		Retriever:   a.Retriever,
		Detector:    a.Detector,
		Corpus:      a.Corpus,
		Source:      a.Source,
		Runs:        a.Runs,
		Health:      a.health,
		Ready:       a.ready,
		APIKeys:     cfg.Auth.APIKeys,
		RateLimiter: limiter,
		CORSOrigins: cfg.Server.CORSOrigins,
		Logger:      a.Logger,
		BaseContext: ctx,
	})
}

// Close releases backends in reverse order of opening.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}
