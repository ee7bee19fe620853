// Package request implements the orchestration layer that ties C1-C10
// together behind a single ProcessQuestion entry point (spec §5/§6):
// schema context reuse, per-sub-question concurrency bounded by two
// semaphores (LLM calls, DB calls), deadline propagation with a
// truncation marker, and per-sub-question failure isolation so one bad
// sub-question never fails the whole request. Grounded on the teacher's
// Pipeline.Execute orchestration shape, generalized from a single
// sequential pass to a bounded fan-out over errgroup.
package request

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"analyticalquery/internal/engine/apperr"
	"analyticalquery/internal/engine/decompose"
	"analyticalquery/internal/engine/exec"
	"analyticalquery/internal/engine/explore"
	"analyticalquery/internal/engine/model"
	"analyticalquery/internal/engine/plan"
	"analyticalquery/internal/engine/ports"
	"analyticalquery/internal/engine/retry"
	"analyticalquery/internal/engine/schemactx"
	"analyticalquery/internal/engine/score"
	"analyticalquery/internal/engine/sqlgen"
	"analyticalquery/internal/engine/synth"
	"analyticalquery/internal/logger"
)

// Default concurrency bounds (spec §5).
const (
	DefaultLLMConcurrency = 4
	DefaultDBConcurrency  = 10
	DefaultMemoryMessages = 5
)

// DefaultSchemaTokenBudget bounds how much of the rendered SchemaContext
// is fed into prompts, so a wide schema doesn't blow a model's context
// window (spec §4.1).
const DefaultSchemaTokenBudget = 6000

// Config controls per-Engine concurrency bounds. The request deadline
// itself is not part of Config: it is supplied per call to
// ProcessQuestion, matching process_question's signature (spec §6).
type Config struct {
	LLMConcurrency int
	DBConcurrency  int
}

func (c Config) withDefaults() Config {
	if c.LLMConcurrency <= 0 {
		c.LLMConcurrency = DefaultLLMConcurrency
	}
	if c.DBConcurrency <= 0 {
		c.DBConcurrency = DefaultDBConcurrency
	}
	return c
}

// Engine is the assembled analytical query pipeline for one workspace.
type Engine struct {
	workspaceID  string
	introspector ports.SchemaIntrospector
	memory       ports.VectorMemory
	store        ports.WorkspaceStore

	schemaBuilder *schemactx.Builder
	explorer      *explore.Explorer
	decomposer    *decompose.Decomposer
	planner       *plan.Planner
	generator     *sqlgen.Generator
	executor      *exec.Executor
	retryLoop     *retry.Loop
	scorer        *score.Scorer
	composer      *synth.Composer

	llmSem *semaphore.Weighted
	dbSem  *semaphore.Weighted
	log    *logger.Logger
}

// New assembles an Engine for one workspace from its collaborating ports.
// Schema context is built lazily on first ProcessQuestion call (or
// eagerly via RefreshSchema). log may be nil to disable progress output.
func New(workspaceID string, llm ports.LLMGateway, sqlSvc ports.SQLExecutionService, introspector ports.SchemaIntrospector, memory ports.VectorMemory, store ports.WorkspaceStore, log *logger.Logger, cfg Config) *Engine {
	cfg = cfg.withDefaults()

	builder := schemactx.New(workspaceID, introspector)
	generator := sqlgen.New(llm)
	executor := exec.New(sqlSvc)

	return &Engine{
		workspaceID:   workspaceID,
		introspector:  introspector,
		memory:        memory,
		store:         store,
		schemaBuilder: builder,
		decomposer:    decompose.New(llm),
		planner:       plan.New(llm),
		generator:     generator,
		executor:      executor,
		scorer:        score.New(llm),
		composer:      synth.New(llm),
		llmSem:        semaphore.NewWeighted(int64(cfg.LLMConcurrency)),
		dbSem:         semaphore.NewWeighted(int64(cfg.DBConcurrency)),
		log:           log,
	}
}

// ProcessQuestion runs the full pipeline for one natural-language
// question: schema reuse, decomposition, per-sub-question planning,
// generation, execution, retry-with-exploration, scoring, and final
// synthesis. A deadline of exactly zero is a boundary case (spec §8): the
// request is treated as already expired, yielding a "no answer" Answer
// before any LLM or DB call is made. A positive deadline bounds the
// request context; any sub-questions still in flight when it elapses are
// dropped and the returned Answer carries Truncated=true rather than
// failing the whole request (spec §5).
func (e *Engine) ProcessQuestion(ctx context.Context, sessionID, question string, deadline time.Duration) (model.Answer, error) {
	if deadline == 0 {
		return synth.NoAnswerForExpiredDeadline(), nil
	}
	if deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	requestID := uuid.NewString()
	e.log.Info("request %s started for workspace %s", requestID, e.workspaceID)

	schema, err := e.currentSchema(ctx)
	if err != nil {
		return model.Answer{}, &apperr.UnrecoverableSchemaError{WorkspaceID: e.workspaceID, Cause: err}
	}
	schemaText := schemactx.RenderBounded(schema, DefaultSchemaTokenBudget)

	if e.explorer == nil {
		e.explorer = explore.New(e.introspector, schema)
		e.retryLoop = retry.New(e.explorer, e.generator, e.executor)
	}

	memoryExcerpt := e.buildMemoryExcerpt(ctx, sessionID, question)

	e.log.SetPhase("Decomposing question")
	subs := e.decomposer.Decompose(ctx, question, schemaText, memoryExcerpt, schema)
	e.log.Info("decomposed into %d sub-question(s)", len(subs))

	e.log.SetPhase("Processing sub-questions")
	var (
		mu        sync.Mutex
		retained  []model.ScoredResult
		allStats  []model.SubQuestionStats
		truncated bool
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, sub := range subs {
		sub := sub
		g.Go(func() error {
			subRetained, stats, err := e.processSubQuestion(gctx, sub, schema, schemaText)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
					truncated = true
				}
				allStats = append(allStats, stats)
				return nil // failure isolation: one sub-question never fails the request
			}
			retained = append(retained, subRetained...)
			allStats = append(allStats, stats)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		truncated = true
		e.log.Warn("request deadline elapsed before all sub-questions completed")
	}

	e.log.SetPhase("Synthesizing answer")
	answer := e.composer.Compose(ctx, question, retained, allStats, schemaText, truncated)
	e.log.PrintSummary()

	if e.memory != nil {
		_ = e.memory.Upsert(detachedContext(ctx), sessionID, question+"\n"+answer.Narrative, map[string]string{"workspace_id": e.workspaceID})
	}

	return answer, nil
}

// processSubQuestion runs planning, generation, execution,
// retry-with-exploration, and scoring for one SubQuestion, acquiring the
// LLM/DB semaphores around each respective step so ordering guarantees
// hold within the sub-question (generate before execute, explore before
// enhanced generate, score after all executions) while sub-questions
// themselves run concurrently across the two semaphores.
func (e *Engine) processSubQuestion(ctx context.Context, sub model.SubQuestion, schema *model.SchemaContext, schemaText string) ([]model.ScoredResult, model.SubQuestionStats, error) {
	stats := model.SubQuestionStats{SubQuestion: sub}
	e.log.StartTask(sub.Text)

	if err := e.llmSem.Acquire(ctx, 1); err != nil {
		e.log.FailTask(sub.Text, err)
		return nil, stats, err
	}
	e.planner.Plan(ctx, sub, schemaText) // advisory only; informs prompt texture via schemaText already
	e.llmSem.Release(1)

	if err := e.llmSem.Acquire(ctx, 1); err != nil {
		return nil, stats, err
	}
	candidates := e.generator.Generate(ctx, sub, schema, schemaText, nil)
	e.llmSem.Release(1)
	stats.CandidateCount = len(candidates)

	results := make([]model.ExecutionResult, 0, len(candidates))
	for _, candidate := range candidates {
		if err := e.dbSem.Acquire(ctx, 1); err != nil {
			return nil, stats, err
		}
		result := e.executor.Execute(ctx, candidate, 0)
		e.dbSem.Release(1)
		results = append(results, result)
	}

	for _, result := range results {
		if !retry.ShouldRetry(result) {
			continue
		}
		stats.RetriedExplored = true
		enhanced := e.retryLoop.Run(ctx, sub, result.Candidate, schema, schemaText)
		results = append(results, enhanced...)
		break // retry runs at most once per sub-question (spec §4.8)
	}

	if err := e.llmSem.Acquire(ctx, 1); err != nil {
		e.log.FailTask(sub.Text, err)
		return nil, stats, err
	}
	scored := e.scorer.ScoreAndFilter(ctx, sub, sub.Text, results)
	e.llmSem.Release(1)

	stats.RetainedCount = len(scored)
	e.log.CompleteTask(sub.Text)
	return scored, stats, nil
}

func (e *Engine) currentSchema(ctx context.Context) (*model.SchemaContext, error) {
	if cached := e.schemaBuilder.Cached(); cached != nil {
		return cached, nil
	}
	return e.schemaBuilder.Build(ctx)
}

// RefreshSchema rebuilds the SchemaContext from the live database,
// rebinding the Explorer and retry Loop that closed over the previous
// instance (spec §6 refresh_schema).
func (e *Engine) RefreshSchema(ctx context.Context) (*model.SchemaContext, error) {
	schema, err := e.schemaBuilder.Refresh(ctx)
	if err != nil {
		return nil, &apperr.UnrecoverableSchemaError{WorkspaceID: e.workspaceID, Cause: err}
	}
	e.explorer = explore.New(e.introspector, schema)
	e.retryLoop = retry.New(e.explorer, e.generator, e.executor)
	return schema, nil
}

// buildMemoryExcerpt concatenates prior-turn vector-memory hits for this
// session, tolerating a nil memory port or a failed search (spec §6:
// memory failures are non-blocking).
func (e *Engine) buildMemoryExcerpt(ctx context.Context, sessionID, question string) string {
	if e.memory == nil {
		return ""
	}
	hits := e.memory.Search(ctx, sessionID, question, DefaultMemoryMessages)
	excerpt := ""
	for _, h := range hits {
		excerpt += h + "\n"
	}
	return excerpt
}

// PaginateResult slices rows into a zero-indexed page of at most
// pageSize rows, reporting whether a further page remains (spec §6
// paginate_result).
func PaginateResult(rows []map[string]any, page, pageSize int) ([]map[string]any, bool) {
	if pageSize <= 0 {
		pageSize = len(rows)
	}
	start := page * pageSize
	if start >= len(rows) {
		return nil, false
	}
	end := start + pageSize
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end], end < len(rows)
}

// detachedContext preserves ctx's values while stripping its deadline, so
// a best-effort memory write can still complete after the request
// deadline that produced it has elapsed.
func detachedContext(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
