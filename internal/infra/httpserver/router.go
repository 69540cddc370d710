package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	appcorpus "github.com/glaciergh0st/HuntLens/internal/application/corpus"
	"github.com/glaciergh0st/HuntLens/internal/application/pipeline"
	"github.com/glaciergh0st/HuntLens/internal/domain/ai"
	"github.com/glaciergh0st/HuntLens/internal/domain/artifact"
	"github.com/glaciergh0st/HuntLens/internal/domain/corpus"
	"github.com/glaciergh0st/HuntLens/internal/domain/evidence"
	"github.com/glaciergh0st/HuntLens/internal/domain/playbook"
	"github.com/glaciergh0st/HuntLens/internal/domain/runs"
	"github.com/glaciergh0st/HuntLens/internal/infra/corpusfs"
	"github.com/glaciergh0st/HuntLens/internal/middleware"
)

// maxBody bounds request bodies; ingestion batches are the largest.
const maxBody = 32 << 20

type PlaybookRunner interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
	Config() pipeline.Config
}

type Classifier interface {
	Classify(raw string) (artifact.Artifact, error)
}

type Retriever interface {
	RetrieveFrom(ctx context.Context, snap *corpus.Snapshot, a artifact.Artifact, k int) ([]evidence.Item, error)
}

type Detector interface {
	Map(ctx context.Context, a artifact.Artifact) playbook.DetectionQueries
}

type CorpusManager interface {
	Current() *corpus.Snapshot
	Ingest(ctx context.Context, batch []corpus.RawDocument) (*corpus.Snapshot, error)
	Rebuild(ctx context.Context, src corpus.Source) (*corpus.Snapshot, error)
	RebuildAsync(ctx context.Context, src corpus.Source) <-chan appcorpus.RebuildResult
}

// Deps are the services behind the API. Runs, Source and RateLimiter are
// optional.
type Deps struct {
	Pipeline    PlaybookRunner
	Classifier  Classifier
	Retriever   Retriever
	Detector    Detector
	Corpus      CorpusManager
	Source      corpus.Source
	Runs        runs.Repository
	Health      map[string]middleware.HealthChecker
	Ready       map[string]middleware.HealthChecker
	APIKeys     map[string]string
	RateLimiter *middleware.RateLimiter
	CORSOrigins []string
	Logger      *slog.Logger
	// BaseContext outlives requests; background rebuilds run on it.
	BaseContext context.Context
}

type Router struct {
	d Deps
}

func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.BaseContext == nil {
		d.BaseContext = context.Background()
	}
	r := &Router{d: d}

	mux := chi.NewRouter()
	mux.Use(chimw.RequestID)
	mux.Use(chimw.RealIP)
	mux.Use(chimw.Recoverer)
	mux.Use(middleware.Logging(d.Logger))
	mux.Use(middleware.MetricsMiddleware)
	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id", "Retry-After"},
		MaxAge:         300,
	}))
	mux.Use(middleware.APIKeyAuth(d.APIKeys))
	if d.RateLimiter != nil {
		mux.Use(middleware.RateLimitMiddleware(d.RateLimiter))
	}

	mux.Get("/health", middleware.HealthHandler(d.Health))
	mux.Get("/ready", middleware.ReadinessHandler(d.Ready))
	mux.Get("/live", middleware.LivenessHandler)
	mux.Get("/metrics", middleware.MetricsHandler)

	mux.Route("/v1", func(rt chi.Router) {
		rt.Post("/playbooks", r.wrap(r.handlePlaybook))
		rt.Post("/classify", r.wrap(r.handleClassify))
		rt.Post("/retrieve", r.wrap(r.handleRetrieve))
		rt.Post("/detections", r.wrap(r.handleDetections))
		rt.Get("/corpus", r.wrap(r.handleCorpus))
		rt.Post("/corpus/ingest", r.wrap(r.handleIngest))
		rt.Post("/corpus/rebuild", r.wrap(r.handleRebuild))
		rt.Get("/runs", r.wrap(r.handleRuns))
		rt.Get("/runs/{id}", r.wrap(r.handleRun))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// badRequest marks malformed request bodies and parameters.
type badRequest struct{ msg string }

func (e badRequest) Error() string { return e.msg }

func badRequestf(format string, args ...any) error {
	return badRequest{msg: fmt.Sprintf(format, args...)}
}

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		var (
			br  badRequest
			ing *corpus.IngestionError
		)
		switch {
		case errors.As(err, &br), errors.Is(err, artifact.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, artifact.ErrUnrecognized):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.As(err, &ing):
			writeJSON(w, http.StatusUnprocessableEntity, ing)
		case errors.Is(err, runs.ErrNotFound):
			writeError(w, http.StatusNotFound, "not found")
		case errors.Is(err, corpus.ErrUnavailable):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		case errors.Is(err, ai.ErrQuotaExceeded):
			writeError(w, http.StatusTooManyRequests, "ai quota exceeded")
		case errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusGatewayTimeout, err.Error())
		default:
			r.d.Logger.Error("request failed", "path", req.URL.Path, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
	}
}

// statusFor maps a pipeline failure to its HTTP status.
func statusFor(f *pipeline.Failure) int {
	switch f.Kind {
	case pipeline.KindInvalidInput:
		return http.StatusBadRequest
	case pipeline.KindUnrecognizedArtifact, pipeline.KindSchemaViolation:
		return http.StatusUnprocessableEntity
	case pipeline.KindCorpusUnavailable:
		return http.StatusServiceUnavailable
	case pipeline.KindGenerationFailure:
		if errors.Is(f, ai.ErrQuotaExceeded) {
			return http.StatusTooManyRequests
		}
		return http.StatusBadGateway
	case pipeline.KindGenerationTimeout, pipeline.KindTimeout:
		return http.StatusGatewayTimeout
	case pipeline.KindCancelled:
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

func decode(req *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(req.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequestf("invalid JSON body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

type artifactBody struct {
	Artifact string `json:"artifact"`
	K        int    `json:"k,omitempty"`
}

// POST /v1/playbooks
// Body: {"artifact": "mimikatz.exe", "k": 8}
// The full Result is returned for failures too, with the status mapped from
// the failure kind.
func (r *Router) handlePlaybook(w http.ResponseWriter, req *http.Request) error {
	var body artifactBody
	if err := decode(req, &body); err != nil {
		return err
	}
	done := middleware.PlaybookStarted()
	res, err := r.d.Pipeline.Run(req.Context(), pipeline.Request{
		Artifact:  body.Artifact,
		K:         body.K,
		Principal: middleware.GetPrincipal(req.Context()),
	})
	done(err != nil)

	var f *pipeline.Failure
	if errors.As(err, &f) {
		writeJSON(w, statusFor(f), res)
		return nil
	}
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, res)
	return nil
}

// POST /v1/classify
func (r *Router) handleClassify(w http.ResponseWriter, req *http.Request) error {
	var body artifactBody
	if err := decode(req, &body); err != nil {
		return err
	}
	a, err := r.d.Classifier.Classify(body.Artifact)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, a)
	return nil
}

// POST /v1/retrieve
// Body: {"artifact": "...", "k": 5}
func (r *Router) handleRetrieve(w http.ResponseWriter, req *http.Request) error {
	var body artifactBody
	if err := decode(req, &body); err != nil {
		return err
	}
	cfg := r.d.Pipeline.Config()
	if body.K == 0 {
		body.K = cfg.DefaultK
	}
	if err := middleware.ValidateK(body.K, cfg.MaxK); err != nil {
		return badRequest{msg: err.Error()}
	}
	a, err := r.d.Classifier.Classify(body.Artifact)
	if err != nil {
		return err
	}
	snap := r.d.Corpus.Current()
	items, err := r.d.Retriever.RetrieveFrom(req.Context(), snap, a, body.K)
	if err != nil {
		return err
	}
	resp := struct {
		Artifact      artifact.Artifact `json:"classified_artifact"`
		CorpusVersion string            `json:"corpus_version,omitempty"`
		Evidence      []evidence.Item   `json:"evidence"`
	}{Artifact: a, Evidence: items}
	if snap != nil {
		resp.CorpusVersion = snap.Version()
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}

// POST /v1/detections
func (r *Router) handleDetections(w http.ResponseWriter, req *http.Request) error {
	var body artifactBody
	if err := decode(req, &body); err != nil {
		return err
	}
	a, err := r.d.Classifier.Classify(body.Artifact)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, struct {
		Artifact         artifact.Artifact         `json:"classified_artifact"`
		DetectionQueries playbook.DetectionQueries `json:"detection_queries"`
	}{a, r.d.Detector.Map(req.Context(), a)})
	return nil
}

// GET /v1/corpus?ids=true
func (r *Router) handleCorpus(w http.ResponseWriter, req *http.Request) error {
	snap := r.d.Corpus.Current()
	if snap == nil {
		return corpus.ErrUnavailable
	}
	m := snap.Manifest()
	if req.URL.Query().Get("ids") != "true" {
		m.IDs = nil
	}
	writeJSON(w, http.StatusOK, m)
	return nil
}

// POST /v1/corpus/ingest
// Body: {"documents": [...]}, a bare array or one document. Partially valid
// batches, badly typed elements included, are installed and answered with
// 207 plus the rejections.
func (r *Router) handleIngest(w http.ResponseWriter, req *http.Request) error {
	raw, err := io.ReadAll(io.LimitReader(req.Body, maxBody))
	if err != nil {
		return badRequestf("read body: %v", err)
	}
	docs, err := corpusfs.DecodeJSON(raw)
	if err != nil {
		return badRequestf("invalid JSON body: %v", err)
	}

	snap, err := r.d.Corpus.Ingest(req.Context(), docs)
	var ing *corpus.IngestionError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, ingestResponse(snap, nil))
	case errors.As(err, &ing) && snap != nil:
		writeJSON(w, http.StatusMultiStatus, ingestResponse(snap, ing))
	default:
		return err
	}
	return nil
}

func ingestResponse(snap *corpus.Snapshot, ing *corpus.IngestionError) any {
	resp := struct {
		Version   string             `json:"version"`
		Documents int                `json:"documents"`
		Rejected  []corpus.Rejection `json:"rejected"`
	}{Rejected: []corpus.Rejection{}}
	if snap != nil {
		resp.Version, resp.Documents = snap.Version(), snap.Len()
	}
	if ing != nil {
		resp.Rejected = ing.Rejected
	}
	return resp
}

// POST /v1/corpus/rebuild?wait=true
// Without wait the rebuild runs in the background and 202 is returned.
func (r *Router) handleRebuild(w http.ResponseWriter, req *http.Request) error {
	if r.d.Source == nil {
		return badRequestf("no corpus source configured")
	}
	middleware.IncrementCorpusRebuilds()

	if req.URL.Query().Get("wait") == "true" {
		snap, err := r.d.Corpus.Rebuild(req.Context(), r.d.Source)
		var ing *corpus.IngestionError
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, ingestResponse(snap, nil))
		case errors.As(err, &ing) && snap != nil:
			writeJSON(w, http.StatusMultiStatus, ingestResponse(snap, ing))
		default:
			return err
		}
		return nil
	}

	results := r.d.Corpus.RebuildAsync(r.d.BaseContext, r.d.Source)
	go func() {
		res := <-results
		if res.Err != nil {
			r.d.Logger.Warn("background rebuild finished with errors", "error", res.Err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "rebuilding",
		"requested_at": time.Now().UTC(),
	})
	return nil
}

// GET /v1/runs?page=&page_size=&status=&artifact_type=&artifact=
func (r *Router) handleRuns(w http.ResponseWriter, req *http.Request) error {
	if r.d.Runs == nil {
		return badRequestf("run history is not enabled")
	}
	q := req.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))
	status := q.Get("status")
	if err := middleware.ValidateRunStatus(status); err != nil {
		return badRequest{msg: err.Error()}
	}

	list, err := r.d.Runs.Paginate(req.Context(), middleware.ValidatePage(page), middleware.ValidateLimit(size), runs.Filter{
		Status:       runs.Status(status),
		ArtifactType: middleware.SanitizeString(q.Get("artifact_type")),
		Artifact:     middleware.SanitizeString(q.Get("artifact")),
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, list)
	return nil
}

// GET /v1/runs/{id}
func (r *Router) handleRun(w http.ResponseWriter, req *http.Request) error {
	if r.d.Runs == nil {
		return badRequestf("run history is not enabled")
	}
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateRunID(id); err != nil {
		return badRequest{msg: err.Error()}
	}
	run, err := r.d.Runs.Get(req.Context(), runs.RunID(id))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, run)
	return nil
}
