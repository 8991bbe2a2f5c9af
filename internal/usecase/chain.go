package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/pipz"
	"go.uber.org/zap"

	"support-chain/internal/domain"
)

const defaultMaxQuery = 2000

// Completer is the completion client the chain drives.
type Completer interface {
	Submit(ctx context.Context, prompt, systemPrompt, model string) (*domain.CompletionResponse, error)
}

// RunRecorder persists completed runs.
type RunRecorder interface {
	SaveRun(ctx context.Context, run domain.Run) error
}

type defaultModeler interface {
	DefaultModel() string
}

// CategoryPolicy controls whether category labels returned by the model are
// checked against domain.Categories.
type CategoryPolicy int

const (
	// CategoryPolicyTrust accepts whatever labels the model returns.
	CategoryPolicyTrust CategoryPolicy = iota
	// CategoryPolicyStrict fails the stage on labels outside the set.
	CategoryPolicyStrict
)

// chainState is threaded through the stage sequence of a single run.
type chainState struct {
	runID   string
	query   string
	model   string
	outputs []string
}

func (st *chainState) nextStage() domain.Stage {
	return domain.Stage(len(st.outputs) + 1)
}

type ChainService struct {
	completer   Completer
	recorder    RunRecorder
	probe       *ModelProbe
	policy      CategoryPolicy
	timeout     time.Duration
	maxQueryLen int
	pipeline    pipz.Chainable[*chainState]

	modelMu     sync.RWMutex
	modelLoaded bool
	model       string
}

type ChainOption func(*ChainService)

// WithRecorder persists every successful run through r.
func WithRecorder(r RunRecorder) ChainOption {
	return func(s *ChainService) {
		s.recorder = r
	}
}

// WithModelProbe selects the model for all stages with p before the first run.
func WithModelProbe(p *ModelProbe) ChainOption {
	return func(s *ChainService) {
		s.probe = p
	}
}

// WithModel pins every stage to model instead of the completer's default.
func WithModel(model string) ChainOption {
	return func(s *ChainService) {
		s.model = strings.TrimSpace(model)
	}
}

func WithCategoryPolicy(p CategoryPolicy) ChainOption {
	return func(s *ChainService) {
		s.policy = p
	}
}

// WithTimeout bounds a whole run, across all stages.
func WithTimeout(d time.Duration) ChainOption {
	return func(s *ChainService) {
		s.timeout = d
	}
}

func WithMaxQueryLength(n int) ChainOption {
	return func(s *ChainService) {
		if n > 0 {
			s.maxQueryLen = n
		}
	}
}

func NewChainService(c Completer, opts ...ChainOption) (*ChainService, error) {
	if c == nil {
		return nil, errors.New("usecase: completer must not be nil")
	}
	s := &ChainService{
		completer:   c,
		maxQueryLen: defaultMaxQuery,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pipeline = pipz.NewSequence("support-chain",
		pipz.Apply("intent-summary", s.step(domain.StageIntentSummary)),
		pipz.Apply("category-mapping", s.step(domain.StageCategoryMapping)),
		pipz.Apply("category-selection", s.step(domain.StageCategorySelection)),
		pipz.Apply("missing-information", s.step(domain.StageMissingInformation)),
		pipz.Apply("response-draft", s.step(domain.StageResponseDraft)),
	)
	return s, nil
}

// Run sends query through the five stages in order. It returns all five
// outputs, or an *Error naming the stage that failed; partial results are
// never returned.
func (s *ChainService) Run(ctx context.Context, query string) (domain.ChainResult, error) {
	// the query reaches stage 1 unchanged; trimming only decides emptiness
	if strings.TrimSpace(query) == "" {
		return domain.ChainResult{}, newError(ErrorInvalidInput, "empty_query", nil)
	}
	if utf8.RuneCountInString(query) > s.maxQueryLen {
		return domain.ChainResult{}, newError(ErrorInvalidInput, "query_too_long", nil)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	runID := newUUID()
	ctx = ctxzap.ToContext(ctx, ctxzap.Extract(ctx).With(zap.String("run_id", runID)))

	model, err := s.ensureModel(ctx)
	if err != nil {
		return domain.ChainResult{}, err
	}

	ctxzap.Info(ctx, "chain run started", zap.String("model", s.reportedModel(model)))
	start := time.Now()

	st := &chainState{
		runID:   runID,
		query:   query,
		model:   model,
		outputs: make([]string, 0, domain.StageCount),
	}
	if _, err := s.pipeline.Process(ctx, st); err != nil {
		failure := s.stageFailure(st, err)
		ctxzap.Warn(ctx, "chain run failed",
			zap.Int("stage", int(failure.Stage)),
			zap.String("code", string(failure.Code)),
			zap.String("reason", failure.Reason),
			zap.Error(failure.Err),
		)
		return domain.ChainResult{}, failure
	}

	result := domain.ChainResult{
		RunID:   runID,
		Model:   s.reportedModel(model),
		Outputs: st.outputs,
	}

	if s.recorder != nil {
		if err := s.recorder.SaveRun(ctx, domain.NewRun(query, result, time.Now())); err != nil {
			return domain.ChainResult{}, newError(ErrorInternal, "run_persist_error", err)
		}
	}

	ctxzap.Info(ctx, "chain run completed", zap.Duration("duration", time.Since(start)))
	return result, nil
}

// stageFailure recovers the typed error from whatever the pipeline returned.
func (s *ChainService) stageFailure(st *chainState, err error) *Error {
	var ucErr *Error
	if errors.As(err, &ucErr) {
		return ucErr
	}
	return classify(st.nextStage(), err)
}

func (s *ChainService) step(stage domain.Stage) func(context.Context, *chainState) (*chainState, error) {
	return func(ctx context.Context, st *chainState) (*chainState, error) {
		out, err := s.runStage(ctx, stage, st)
		if err != nil {
			return st, err
		}
		st.outputs = append(st.outputs, out)
		return st, nil
	}
}

func (s *ChainService) runStage(ctx context.Context, stage domain.Stage, st *chainState) (string, error) {
	if err := ctx.Err(); err != nil {
		failure := newStageError(ErrorCancelled, "cancelled", stage, err)
		s.emitFailed(ctx, st, stage, failure, 0)
		return "", failure
	}

	prompt, err := buildStagePrompt(stage, st.query, st.outputs)
	if err != nil {
		return "", newStageError(ErrorInternal, "prompt_build_error", stage, err)
	}

	capitan.Info(ctx, StageStarted,
		RunIDKey.Field(st.runID),
		StageKey.Field(int(stage)),
		StageNameKey.Field(stage.String()),
		ModelKey.Field(s.reportedModel(st.model)),
	)
	start := time.Now()

	resp, err := s.completer.Submit(ctx, prompt, "", st.model)
	if err != nil {
		failure := classify(stage, err)
		s.emitFailed(ctx, st, stage, failure, time.Since(start))
		return "", failure
	}

	out, err := extractContent(resp)
	if err != nil {
		failure := newStageError(ErrorMalformedResponse, "completion_malformed_response", stage, err)
		s.emitFailed(ctx, st, stage, failure, time.Since(start))
		return "", failure
	}

	out, err = s.applyPolicy(stage, out)
	if err != nil {
		failure := newStageError(ErrorMalformedResponse, "category_not_allowed", stage, err)
		s.emitFailed(ctx, st, stage, failure, time.Since(start))
		return "", failure
	}

	capitan.Info(ctx, StageCompleted,
		RunIDKey.Field(st.runID),
		StageKey.Field(int(stage)),
		StageNameKey.Field(stage.String()),
		ModelKey.Field(s.reportedModel(st.model)),
		DurationMsKey.Field(int(time.Since(start).Milliseconds())),
	)
	ctxzap.Debug(ctx, "stage completed", zap.Int("stage", int(stage)), zap.Int("output_length", len(out)))
	return out, nil
}

// applyPolicy trims the selected category and, under the strict policy,
// checks both category stages against the allowed set.
func (s *ChainService) applyPolicy(stage domain.Stage, out string) (string, error) {
	switch stage {
	case domain.StageCategoryMapping:
		if s.policy == CategoryPolicyStrict {
			if err := checkCategoryList(out); err != nil {
				return "", err
			}
		}
	case domain.StageCategorySelection:
		out = strings.TrimSpace(out)
		if s.policy == CategoryPolicyStrict {
			return checkCategory(out)
		}
	}
	return out, nil
}

func (s *ChainService) emitFailed(ctx context.Context, st *chainState, stage domain.Stage, failure *Error, elapsed time.Duration) {
	capitan.Error(ctx, StageFailed,
		RunIDKey.Field(st.runID),
		StageKey.Field(int(stage)),
		StageNameKey.Field(stage.String()),
		ModelKey.Field(s.reportedModel(st.model)),
		ErrorCodeKey.Field(string(failure.Code)),
		ErrorKey.Field(failure.Error()),
		DurationMsKey.Field(int(elapsed.Milliseconds())),
	)
}

// ensureModel runs the probe once per process. A successful selection is
// cached; a failed probe is retried on the next run.
func (s *ChainService) ensureModel(ctx context.Context) (string, error) {
	s.modelMu.RLock()
	if s.modelLoaded || s.probe == nil {
		model := s.model
		s.modelMu.RUnlock()
		return model, nil
	}
	s.modelMu.RUnlock()

	s.modelMu.Lock()
	defer s.modelMu.Unlock()
	if s.modelLoaded {
		return s.model, nil
	}

	model, err := s.probe.Select(ctx)
	if err != nil {
		return "", err
	}
	s.model = model
	s.modelLoaded = true
	return model, nil
}

func (s *ChainService) reportedModel(model string) string {
	if model != "" {
		return model
	}
	if dm, ok := s.completer.(defaultModeler); ok {
		return dm.DefaultModel()
	}
	return ""
}

var newUUID = func() string {
	return uuid.NewString()
}
