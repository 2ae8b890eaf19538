// Package pipeline implements the progressive refinement funnel: cheap
// deterministic triage over the full mailbox, batched model analysis over the
// priority tier, and deep model analysis with fallback over the critical
// tier, consolidated into one record per email.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mailtriage/internal/config"
	"github.com/sells-group/mailtriage/internal/cost"
	"github.com/sells-group/mailtriage/internal/mailbox"
	"github.com/sells-group/mailtriage/internal/model"
	"github.com/sells-group/mailtriage/internal/store"
	"github.com/sells-group/mailtriage/pkg/anthropic"
)

// Orchestrator runs the three-stage pipeline and owns execution bookkeeping.
type Orchestrator struct {
	cfg    *config.Config
	store  store.Store
	source mailbox.Source
	client anthropic.Client
	calc   *cost.Calculator

	triage     *Triage
	contextual *ContextualStage
	critical   *CriticalStage

	// resumeExecID, when set, reloads completed contextual results from
	// that execution's snapshot instead of recomputing them. The run still
	// gets a fresh ExecutionRecord; terminal executions are never reopened.
	resumeExecID string
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithResumeFrom reuses the contextual-stage snapshot of a previous
// (typically failed) execution.
func WithResumeFrom(executionID string) Option {
	return func(o *Orchestrator) { o.resumeExecID = executionID }
}

// WithCostRates overrides the default model pricing used for the run's cost
// estimate.
func WithCostRates(rates cost.Rates) Option {
	return func(o *Orchestrator) { o.calc = cost.NewCalculator(rates) }
}

// New creates an Orchestrator. The keyword file referenced by triage config
// is loaded here so a bad file fails fast instead of mid-run.
func New(cfg *config.Config, st store.Store, source mailbox.Source, client anthropic.Client, opts ...Option) (*Orchestrator, error) {
	weights, err := LoadKeywordWeights(cfg.Triage.KeywordFile)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:        cfg,
		store:      st,
		source:     source,
		client:     client,
		calc:       cost.NewCalculator(cost.DefaultRates()),
		triage:     NewTriage(cfg.Triage, weights),
		contextual: NewContextualStage(client, st, cfg.Anthropic, cfg.Pipeline),
		critical:   NewCriticalStage(client, st, cfg.Anthropic, cfg.Pipeline),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// RunThreeStagePipeline executes a full run: triage, contextual, critical,
// consolidation. Per-email model failures degrade in place and never fail
// the run; orchestration failures mark the execution failed and are
// returned.
func (o *Orchestrator) RunThreeStagePipeline(ctx context.Context) (*model.PipelineResults, error) {
	start := time.Now()

	exec, err := o.store.CreateExecution(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create execution")
	}
	log := zap.L().With(zap.String("execution_id", exec.ID))
	log.Info("pipeline run starting")

	fail := func(stage string, cause error) (*model.PipelineResults, error) {
		wrapped := eris.Wrapf(cause, "pipeline: %s", stage)
		if ferr := o.store.FailExecution(ctx, exec.ID, wrapped.Error()); ferr != nil {
			log.Error("failed to mark execution failed", zap.Error(ferr))
		}
		log.Error("pipeline run failed", zap.String("stage", stage), zap.Error(cause))
		return nil, wrapped
	}

	emails, err := o.source.GetAllEmails(ctx)
	if err != nil {
		return fail("load emails", err)
	}
	if len(emails) == 0 {
		return fail("load emails", eris.New("mailbox is empty"))
	}

	// Stage 1: deterministic triage over the full corpus.
	triageOut := o.triage.Run(emails, o.cfg.Pipeline.PriorityTierSize, o.cfg.Pipeline.CriticalTierSize)
	if err := o.store.UpdateStageCount(ctx, exec.ID, model.StageTriage, len(triageOut.All)); err != nil {
		return fail("record triage count", err)
	}
	if err := o.store.SaveSnapshot(ctx, exec.ID, model.StageTriage, triageOut.All); err != nil {
		return fail("snapshot triage", err)
	}

	// Stage 2: batched contextual analysis over the priority tier.
	snapshotKey := exec.ID
	resumeFrom := 0
	if o.resumeExecID != "" {
		snapshotKey = o.resumeExecID
		resumeFrom = o.snapshotLen(ctx, o.resumeExecID, len(triageOut.Priority))
		log.Info("resuming contextual stage",
			zap.String("from_execution", o.resumeExecID),
			zap.Int("resume_from", resumeFrom),
		)
	}
	ctxResults, ctxUsage, err := o.contextual.Process(ctx, snapshotKey, triageOut.Priority, resumeFrom, o.progressFor(ctx, exec.ID, model.StageContextual))
	if err != nil {
		return fail("contextual stage", err)
	}
	if err := o.store.UpdateStageCount(ctx, exec.ID, model.StageContextual, len(ctxResults)); err != nil {
		return fail("record contextual count", err)
	}

	// Stage 3: deep critical analysis over the critical tier.
	critResults, critUsage, err := o.critical.Process(ctx, exec.ID, triageOut.Critical, o.progressFor(ctx, exec.ID, model.StageCritical))
	if err != nil {
		return fail("critical stage", err)
	}
	if err := o.store.UpdateStageCount(ctx, exec.ID, model.StageCritical, len(critResults)); err != nil {
		return fail("record critical count", err)
	}

	records := Consolidate(triageOut.All, ctxResults, critResults)
	if err := o.store.SaveConsolidated(ctx, exec.ID, records); err != nil {
		return fail("save consolidated", err)
	}

	if err := o.store.CompleteExecution(ctx, exec.ID); err != nil {
		return fail("complete execution", err)
	}

	var usage model.TokenUsage
	usage.Add(ctxUsage)
	usage.Add(critUsage)

	estimated := o.calc.Claude(o.cfg.Anthropic.ContextualModel, ctxUsage.InputTokens, ctxUsage.OutputTokens) +
		o.calc.Claude(o.cfg.Anthropic.CriticalModel, critUsage.InputTokens, critUsage.OutputTokens)

	results := &model.PipelineResults{
		ExecutionID:  exec.ID,
		Records:      records,
		Duration:     time.Since(start),
		TotalEmails:  len(emails),
		TokenUsage:   usage,
		EstimatedUSD: estimated,
	}

	log.Info("pipeline run completed",
		zap.Duration("duration", results.Duration),
		zap.Int("total_emails", results.TotalEmails),
		zap.Int("priority_tier", len(ctxResults)),
		zap.Int("critical_tier", len(critResults)),
		zap.Int("input_tokens", usage.InputTokens),
		zap.Int("output_tokens", usage.OutputTokens),
		zap.Float64("estimated_usd", estimated),
	)

	return results, nil
}

// GetStatus returns a read-only view of the most recent execution.
func (o *Orchestrator) GetStatus(ctx context.Context) (*model.PipelineStatus, error) {
	exec, err := o.store.LatestExecution(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: get status")
	}
	return &model.PipelineStatus{
		ExecutionID:  exec.ID,
		Status:       exec.Status,
		StartedAt:    exec.StartedAt,
		CompletedAt:  exec.CompletedAt,
		Stage1Count:  exec.Stage1Count,
		Stage2Count:  exec.Stage2Count,
		Stage3Count:  exec.Stage3Count,
		ErrorMessage: exec.ErrorMessage,
	}, nil
}

// progressFor returns a ProgressFunc that writes a stage counter. Failures
// surface as errors to the reporter, which logs and drops them.
func (o *Orchestrator) progressFor(ctx context.Context, executionID string, stage int) ProgressFunc {
	return func(completed int) error {
		return o.store.UpdateStageCount(ctx, executionID, stage, completed)
	}
}

// snapshotLen probes how many contextual results a prior execution saved.
// Capped at the tier size so a stale oversized snapshot cannot overflow.
func (o *Orchestrator) snapshotLen(ctx context.Context, executionID string, tierSize int) int {
	var prior []model.ContextualAnalysisResult
	if err := o.store.LoadSnapshot(ctx, executionID, model.StageContextual, &prior); err != nil {
		zap.L().Warn("pipeline: no usable snapshot to resume from",
			zap.String("execution_id", executionID),
			zap.Error(err),
		)
		return 0
	}
	if len(prior) > tierSize {
		return tierSize
	}
	return len(prior)
}
