package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/glaciergh0st/HuntLens/internal/application"
	"github.com/glaciergh0st/HuntLens/internal/application/validation"
	"github.com/glaciergh0st/HuntLens/internal/domain/ai"
	"github.com/glaciergh0st/HuntLens/internal/domain/artifact"
	"github.com/glaciergh0st/HuntLens/internal/domain/corpus"
	"github.com/glaciergh0st/HuntLens/internal/domain/evidence"
	"github.com/glaciergh0st/HuntLens/internal/domain/playbook"
	"github.com/glaciergh0st/HuntLens/internal/domain/runs"
	"github.com/glaciergh0st/HuntLens/internal/redact"
)

type Classifier interface {
	Classify(raw string) (artifact.Artifact, error)
}

type Retriever interface {
	RetrieveFrom(ctx context.Context, snap *corpus.Snapshot, a artifact.Artifact, k int) ([]evidence.Item, error)
}

type Validator interface {
	Validate(in validation.Input) (playbook.Validated, error)
}

type Detector interface {
	Map(ctx context.Context, a artifact.Artifact) playbook.DetectionQueries
}

// SOARTemplater renders an automation stub for a validated playbook. The
// stub is passed through to the caller untouched.
type SOARTemplater interface {
	Template(ctx context.Context, a artifact.Artifact, pb playbook.PhasePlaybook) (string, error)
}

// Recorder persists run audit records.
type Recorder interface {
	Save(ctx context.Context, r *runs.Run) error
}

// Deps are the collaborators of a Service. Corpus, Detector, SOAR, Runs
// and Telemetry are optional.
type Deps struct {
	Classifier Classifier
	Retriever  Retriever
	Corpus     corpus.Provider
	Generator  ai.Generator
	Validator  Validator
	Detector   Detector
	SOAR       SOARTemplater
	Runs       Recorder
	Clock      application.Clock
	Logger     *slog.Logger
	Telemetry  *Telemetry
}

// Request is one playbook run.
type Request struct {
	Artifact  string
	K         int
	Principal string
}

// Service drives classify, retrieve, generate and validate for one request
// at a time per call. It holds no per-request state and is safe for
// concurrent use.
type Service struct {
	d   Deps
	cfg Config
	tel *Telemetry
}

func New(d Deps, cfg Config) (*Service, error) {
	if d.Classifier == nil || d.Retriever == nil || d.Generator == nil || d.Validator == nil {
		return nil, errors.New("pipeline: classifier, retriever, generator and validator are required")
	}
	cfg, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	if d.Clock == nil {
		d.Clock = application.SystemClock{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	tel := d.Telemetry
	if tel == nil {
		tel = noopTelemetry
	}
	return &Service{d: d, cfg: cfg, tel: tel}, nil
}

func (s *Service) Config() Config { return s.cfg }

// Run executes the pipeline. On failure the returned error is the *Failure
// that is also set on the Result.
func (s *Service) Run(ctx context.Context, req Request) (Result, error) {
	start := s.d.Clock.Now()
	res := Result{RunID: uuid.NewString(), State: StateClassifying, Evidence: []evidence.Item{}, Stages: []StageTrace{}}

	ctx, span := s.tel.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(attribute.String("run.id", res.RunID)))
	defer span.End()

	if f := s.run(ctx, req, &res); f != nil {
		res.Failure = f
		if f.Kind == KindCancelled {
			res.Evidence = []evidence.Item{}
		}
		span.RecordError(f)
		span.SetStatus(codes.Error, string(f.Kind))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	if res.Failure != nil {
		res.State = StateFailed
	}
	res.DurationMS = s.d.Clock.Now().Sub(start).Milliseconds()

	s.tel.recordRun(ctx, res)
	s.log(req, res)
	s.record(ctx, req, res, start)

	if res.Failure != nil {
		return res, res.Failure
	}
	return res, nil
}

func (s *Service) run(ctx context.Context, req Request, res *Result) *Failure {
	k := req.K
	if k == 0 {
		k = s.cfg.DefaultK
	}
	if k < 1 || k > s.cfg.MaxK {
		return s.failure(StateClassifying, fmt.Errorf("%w: k must be within 1..%d, got %d", artifact.ErrInvalidInput, s.cfg.MaxK, req.K))
	}

	// in-flight runs keep the snapshot they started with
	snap := s.snapshot()

	var a artifact.Artifact
	err := s.stage(ctx, res, StateClassifying, func(ctx context.Context) (int, error) {
		out, err := timed(ctx, StateClassifying, s.cfg.ClassifyTimeout, func(context.Context) (artifact.Artifact, error) {
			return s.d.Classifier.Classify(req.Artifact)
		})
		a = out
		return 1, err
	})
	if err != nil {
		return s.failure(StateClassifying, err)
	}
	res.Artifact = &a

	err = s.stage(ctx, res, StateRetrieving, func(ctx context.Context) (int, error) {
		retrieve := func(sn *corpus.Snapshot) ([]evidence.Item, error) {
			return timed(ctx, StateRetrieving, s.cfg.RetrieveTimeout, func(ctx context.Context) ([]evidence.Item, error) {
				return s.d.Retriever.RetrieveFrom(ctx, sn, a, k)
			})
		}
		items, err := retrieve(snap)
		attempts := 1
		if errors.Is(err, corpus.ErrUnavailable) {
			s.d.Logger.Warn("corpus unavailable, retrying once", "run_id", res.RunID, "backoff", s.cfg.CorpusRetryBackoff)
			if werr := sleep(ctx, s.cfg.CorpusRetryBackoff); werr != nil {
				return attempts, werr
			}
			snap = s.snapshot()
			attempts++
			items, err = retrieve(snap)
		}
		if err != nil {
			return attempts, err
		}
		res.Evidence = items
		res.CorpusVersion = snap.Version()
		return attempts, nil
	})
	if err != nil {
		return s.failure(StateRetrieving, err)
	}

	var det *playbook.DetectionQueries
	if s.d.Detector != nil {
		q := s.d.Detector.Map(ctx, a)
		det = &q
	}

	var draft string
	err = s.stage(ctx, res, StateAwaitingGeneration, func(ctx context.Context) (int, error) {
		greq := ai.GenerationRequest{Artifact: a, Evidence: res.Evidence, Detection: det}
		for attempt := 1; ; attempt++ {
			out, err := timed(ctx, StateAwaitingGeneration, s.cfg.GenerateTimeout, func(ctx context.Context) (string, error) {
				return s.d.Generator.Generate(ctx, greq)
			})
			if err == nil {
				draft = out
				return attempt, nil
			}
			if !retryable(err) || attempt > s.cfg.GenerationRetries || ctx.Err() != nil {
				return attempt, err
			}
			s.d.Logger.Warn("generation attempt failed, retrying", "run_id", res.RunID, "attempt", attempt, "error", err)
			if werr := sleep(ctx, s.cfg.RetryBackoff); werr != nil {
				return attempt, werr
			}
		}
	})
	if err != nil {
		return s.failure(StateAwaitingGeneration, err)
	}

	var vp playbook.Validated
	err = s.stage(ctx, res, StateValidating, func(ctx context.Context) (int, error) {
		out, err := timed(ctx, StateValidating, s.cfg.ValidateTimeout, func(context.Context) (playbook.Validated, error) {
			return s.d.Validator.Validate(validation.Input{Artifact: a, Draft: []byte(draft), Evidence: res.Evidence})
		})
		vp = out
		return 1, err
	})
	if err != nil {
		return s.failure(StateValidating, err)
	}

	vp.DetectionQueries = det
	if s.d.SOAR != nil {
		tpl, err := s.d.SOAR.Template(ctx, a, vp.NISTPhasePlaybook)
		if err != nil {
			s.d.Logger.Warn("soar template failed", "run_id", res.RunID, "error", err)
		} else {
			vp.SOARTemplate = tpl
		}
	}
	if err := ctx.Err(); err != nil {
		return s.failure(StateValidating, err)
	}

	res.Playbook = &vp
	res.State = StateDone
	return nil
}

func (s *Service) snapshot() *corpus.Snapshot {
	if s.d.Corpus == nil {
		return nil
	}
	return s.d.Corpus.Current()
}

// stage enters state, checks for cancellation at the boundary and traces fn.
func (s *Service) stage(ctx context.Context, res *Result, state State, fn func(context.Context) (int, error)) error {
	res.State = state
	if err := ctx.Err(); err != nil {
		return err
	}
	sctx, span := s.tel.startStage(ctx, state)
	began := s.d.Clock.Now()
	attempts, err := fn(sctx)
	tr := StageTrace{Stage: state, DurationMS: s.d.Clock.Now().Sub(began).Milliseconds(), Attempts: attempts}
	if err != nil {
		tr.Error = err.Error()
	}
	res.Stages = append(res.Stages, tr)
	s.tel.endStage(ctx, span, tr, err)
	return err
}

func (s *Service) failure(stage State, err error) *Failure {
	f := &Failure{Stage: stage, Message: err.Error(), err: err}
	var st *StageTimeout
	var sv *playbook.SchemaViolation
	switch {
	case errors.Is(err, context.Canceled):
		f.Kind = KindCancelled
	case errors.As(err, &st):
		f.Kind = KindTimeout
		if st.Stage == StateAwaitingGeneration {
			f.Kind = KindGenerationTimeout
		}
	case errors.Is(err, context.DeadlineExceeded):
		f.Kind = KindTimeout
	case errors.Is(err, artifact.ErrInvalidInput):
		f.Kind = KindInvalidInput
	case errors.Is(err, artifact.ErrUnrecognized):
		f.Kind = KindUnrecognizedArtifact
	case errors.Is(err, corpus.ErrUnavailable):
		f.Kind = KindCorpusUnavailable
	case errors.As(err, &sv):
		f.Kind = KindSchemaViolation
		f.Violations = sv.Violations
		f.Message = fmt.Sprintf("generated playbook failed validation with %d violation(s)", len(sv.Violations))
	case stage == StateAwaitingGeneration:
		f.Kind = KindGenerationFailure
	default:
		f.Kind = KindInternal
	}
	return f
}

func (s *Service) log(req Request, res Result) {
	attrs := []any{
		"run_id", res.RunID,
		"state", res.State,
		"artifact", redact.Truncate(req.Artifact, 128),
		"evidence", len(res.Evidence),
		"corpus_version", res.CorpusVersion,
		"duration_ms", res.DurationMS,
	}
	if res.Artifact != nil {
		attrs = append(attrs, "artifact_type", res.Artifact.Label())
	}
	if res.Failure != nil {
		attrs = append(attrs, "failure", res.Failure.Kind, "stage", res.Failure.Stage, "error", res.Failure.Message)
		s.d.Logger.Warn("pipeline run failed", attrs...)
		return
	}
	attrs = append(attrs, "confidence", res.Playbook.Confidence, "low_confidence", res.Playbook.LowConfidence)
	s.d.Logger.Info("pipeline run finished", attrs...)
}

// record writes the audit record. Cancelled runs leave no trace and
// recorder errors never fail the run.
func (s *Service) record(ctx context.Context, req Request, res Result, start time.Time) {
	if s.d.Runs == nil || (res.Failure != nil && res.Failure.Kind == KindCancelled) {
		return
	}
	run := &runs.Run{
		ID:            runs.RunID(res.RunID),
		Principal:     req.Principal,
		Artifact:      redact.Truncate(req.Artifact, 1024),
		Status:        runs.StatusDone,
		EvidenceCount: len(res.Evidence),
		CorpusVersion: res.CorpusVersion,
		DurationMS:    res.DurationMS,
		CreatedAt:     start.UTC(),
	}
	if res.Artifact != nil {
		run.ArtifactType = res.Artifact.Label()
	}
	if res.Failure != nil {
		run.Status = runs.StatusFailed
		run.FailureKind = string(res.Failure.Kind)
		run.FailedStage = string(res.Failure.Stage)
		run.Message = res.Failure.Message
	}
	if res.Playbook != nil {
		run.Confidence = res.Playbook.Confidence
		if b, err := json.Marshal(res.Playbook); err == nil {
			run.ResultJSON = string(b)
		}
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RecordTimeout)
	defer cancel()
	if err := s.d.Runs.Save(rctx, run); err != nil {
		s.d.Logger.Error("recording run failed", "run_id", res.RunID, "error", err)
	}
}

func retryable(err error) bool {
	var st *StageTimeout
	return ai.IsTransient(err) || errors.As(err, &st)
}

// timed runs fn under its own stage deadline. When the deadline fires first
// the result of fn is discarded.
func timed[T any](ctx context.Context, stage State, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		v   T
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		v, err := fn(sctx)
		ch <- outcome{v, err}
	}()

	select {
	case o := <-ch:
		if o.err != nil && sctx.Err() != nil && ctx.Err() == nil {
			return o.v, &StageTimeout{Stage: stage, Timeout: timeout}
		}
		return o.v, o.err
	case <-sctx.Done():
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, &StageTimeout{Stage: stage, Timeout: timeout}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
