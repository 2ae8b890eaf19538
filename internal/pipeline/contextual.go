package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/mailtriage/internal/config"
	"github.com/sells-group/mailtriage/internal/model"
	"github.com/sells-group/mailtriage/internal/resilience"
	"github.com/sells-group/mailtriage/internal/store"
	"github.com/sells-group/mailtriage/pkg/anthropic"
)

// emailBodyPromptLen bounds how much body text goes into a prompt.
const emailBodyPromptLen = 4000

const contextualSystemPrompt = `You are a business email analyst for an industrial distribution company.
Analyze the email and respond with ONLY a JSON object, no prose, matching this schema:
{
  "summary": "2-3 sentence summary of what the email is about and what it needs",
  "workflow_state": "one of NEW_INQUIRY | QUOTE_REQUEST | ORDER_PLACED | IN_PROGRESS | ESCALATION | RESOLVED | UNKNOWN",
  "business_process": "short label for the business process, e.g. 'order fulfillment', 'quoting', 'accounts receivable'; use 'general' only if nothing fits",
  "entities": {
    "po_numbers": [], "quote_numbers": [], "case_numbers": [], "part_numbers": [], "companies": []
  },
  "action_items": [{"task": "", "detail": "", "assignee": "", "deadline": ""}],
  "urgency": "low | medium | high",
  "suggested_response": "1-2 sentence draft reply, or empty string if no reply is needed"
}`

// ContextualStage runs batched model analysis over the priority tier.
// Individual failures degrade to low-quality results; the stage itself fails
// only on cancellation or when a requested resume snapshot cannot be loaded.
type ContextualStage struct {
	client anthropic.Client
	store  store.Store
	cfg    config.PipelineConfig
	model  string

	mu    sync.Mutex
	usage model.TokenUsage
}

// NewContextualStage creates the stage. progress may be nil.
func NewContextualStage(client anthropic.Client, st store.Store, aiCfg config.AnthropicConfig, pipeCfg config.PipelineConfig) *ContextualStage {
	return &ContextualStage{
		client: client,
		store:  st,
		cfg:    pipeCfg,
		model:  aiCfg.ContextualModel,
	}
}

// Process analyzes emails in fixed-size batches and returns one result per
// email, in input order. resumeFrom > 0 reloads the first resumeFrom results
// from the stage snapshot of executionID instead of recomputing them.
func (s *ContextualStage) Process(ctx context.Context, executionID string, emails []model.EmailRecord, resumeFrom int, progress ProgressFunc) ([]model.ContextualAnalysisResult, model.TokenUsage, error) {
	results := make([]model.ContextualAnalysisResult, len(emails))

	if resumeFrom > len(emails) {
		resumeFrom = len(emails)
	}
	if resumeFrom > 0 {
		var prior []model.ContextualAnalysisResult
		if err := s.store.LoadSnapshot(ctx, executionID, model.StageContextual, &prior); err != nil {
			return nil, model.TokenUsage{}, eris.Wrapf(err, "contextual: load snapshot for resume at %d", resumeFrom)
		}
		if len(prior) < resumeFrom {
			return nil, model.TokenUsage{}, eris.Errorf("contextual: snapshot has %d results, cannot resume at %d", len(prior), resumeFrom)
		}
		copy(results[:resumeFrom], prior[:resumeFrom])
	}

	reporter := newProgressReporter(progress, s.cfg.ProgressInterval)
	batchSize := s.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	zap.L().Info("contextual stage starting",
		zap.Int("emails", len(emails)),
		zap.Int("resume_from", resumeFrom),
		zap.Int("batch_size", batchSize),
		zap.String("model", s.model),
	)

	for start := resumeFrom; start < len(emails); start += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, s.totalUsage(), eris.Wrap(err, "contextual: stage canceled")
		}

		end := start + batchSize
		if end > len(emails) {
			end = len(emails)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(batchSize)
		for i := start; i < end; i++ {
			g.Go(func() error {
				results[i] = s.analyzeOne(gctx, &emails[i])
				return nil
			})
		}
		// Workers never return errors; degraded results stand in for them.
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return nil, s.totalUsage(), eris.Wrap(err, "contextual: stage canceled")
		}

		if err := s.store.SaveSnapshot(ctx, executionID, model.StageContextual, results[:end]); err != nil {
			zap.L().Warn("contextual: snapshot write failed",
				zap.String("execution_id", executionID),
				zap.Int("completed", end),
				zap.Error(err),
			)
		}
		reporter.report(end)
	}

	reporter.flush(len(emails))

	return results, s.totalUsage(), nil
}

// analyzeOne calls the model for a single email. All failures are absorbed
// into a degraded result with a populated Error field and quality score 0.
func (s *ContextualStage) analyzeOne(ctx context.Context, email *model.EmailRecord) model.ContextualAnalysisResult {
	start := time.Now()

	prompt := buildEmailPrompt(email)

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.OnRetry = resilience.RetryLogger("anthropic", "contextual_analysis")

	text, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (string, error) {
		out, u, err := s.client.Generate(ctx, s.model, contextualSystemPrompt, prompt, s.cfg.ContextualTimeout)
		if err == nil {
			s.addUsage(u)
		}
		return out, err
	})

	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		zap.L().Warn("contextual: analysis failed",
			zap.String("email_id", email.ID),
			zap.Error(err),
		)
		return model.ContextualAnalysisResult{
			EmailID:        email.ID,
			WorkflowState:  model.WorkflowStateUnknown,
			Model:          s.model,
			ProcessingTime: elapsed,
			Error:          err.Error(),
		}
	}

	result := parseContextual(text, email.ID)
	result.Model = s.model
	result.ProcessingTime = elapsed
	result.QualityScore = scoreContextual(&result)
	return result
}

func (s *ContextualStage) addUsage(u anthropic.TokenUsage) {
	s.mu.Lock()
	s.usage.Add(model.TokenUsage{InputTokens: int(u.InputTokens), OutputTokens: int(u.OutputTokens)})
	s.mu.Unlock()
}

func (s *ContextualStage) totalUsage() model.TokenUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// buildEmailPrompt renders one email for analysis. Bodies are truncated so a
// single oversized email cannot blow the context window.
func buildEmailPrompt(email *model.EmailRecord) string {
	return fmt.Sprintf("From: %s\nDate: %s\nSubject: %s\n\n%s",
		email.Sender,
		email.ReceivedAt.Format(time.RFC3339),
		email.Subject,
		truncate(email.Body, emailBodyPromptLen),
	)
}
