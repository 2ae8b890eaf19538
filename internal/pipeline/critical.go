package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mailtriage/internal/config"
	"github.com/sells-group/mailtriage/internal/model"
	"github.com/sells-group/mailtriage/internal/resilience"
	"github.com/sells-group/mailtriage/internal/store"
	"github.com/sells-group/mailtriage/pkg/anthropic"
)

const criticalSystemPrompt = `You are a senior business analyst preparing executive briefings for an industrial distribution company.
Analyze the email in depth and respond with ONLY a JSON object, no prose, matching this schema:
{
  "executive_summary": "3-5 sentence briefing on the situation, its context, and what is at stake",
  "business_impact": {
    "revenue": "revenue at risk or opportunity size, or empty string",
    "risk": "operational or relationship risk, or empty string",
    "opportunity": "upside if handled well, or empty string"
  },
  "stakeholders": ["names or roles who must be informed or act"],
  "recommended_actions": [{"action": "", "priority": "high|medium|low", "owner": "", "deadline": ""}],
  "strategic_insights": "patterns, leverage, or longer-term implications worth executive attention"
}`

// manualReviewSummary is the placeholder produced when both models fail.
const manualReviewSummary = "Automated analysis unavailable. This email ranked in the critical tier and requires manual review."

// CriticalStage runs deep one-at-a-time analysis over the critical tier,
// escalating from the primary model to a fallback with a longer budget. A
// circuit breaker on the primary short-circuits to the fallback during
// sustained primary outages.
type CriticalStage struct {
	client  anthropic.Client
	store   store.Store
	cfg     config.PipelineConfig
	breaker *resilience.CircuitBreaker

	primaryModel  string
	fallbackModel string

	mu    sync.Mutex
	usage model.TokenUsage
}

// NewCriticalStage creates the stage.
func NewCriticalStage(client anthropic.Client, st store.Store, aiCfg config.AnthropicConfig, pipeCfg config.PipelineConfig) *CriticalStage {
	breakerCfg := resilience.DefaultCircuitBreakerConfig()
	breakerCfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("critical: primary model circuit state change",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	return &CriticalStage{
		client:        client,
		store:         st,
		cfg:           pipeCfg,
		breaker:       resilience.NewCircuitBreaker(breakerCfg),
		primaryModel:  aiCfg.CriticalModel,
		fallbackModel: aiCfg.FallbackModel,
	}
}

// Process analyzes emails sequentially and returns one result per email, in
// input order. Every email gets a non-nil result; when both models fail the
// result is a minimal manual-review placeholder. The stage itself fails only
// on cancellation.
func (s *CriticalStage) Process(ctx context.Context, executionID string, emails []model.EmailRecord, progress ProgressFunc) ([]model.CriticalAnalysisResult, model.TokenUsage, error) {
	results := make([]model.CriticalAnalysisResult, 0, len(emails))
	reporter := newProgressReporter(progress, s.cfg.ProgressInterval)

	snapshotEvery := s.cfg.SnapshotEvery
	if snapshotEvery <= 0 {
		snapshotEvery = 25
	}

	zap.L().Info("critical stage starting",
		zap.Int("emails", len(emails)),
		zap.String("primary_model", s.primaryModel),
		zap.String("fallback_model", s.fallbackModel),
	)

	for i := range emails {
		if err := ctx.Err(); err != nil {
			return nil, s.totalUsage(), eris.Wrap(err, "critical: stage canceled")
		}

		results = append(results, s.analyzeOne(ctx, &emails[i]))

		done := i + 1
		if done%snapshotEvery == 0 || done == len(emails) {
			if err := s.store.SaveSnapshot(ctx, executionID, model.StageCritical, results); err != nil {
				zap.L().Warn("critical: snapshot write failed",
					zap.String("execution_id", executionID),
					zap.Int("completed", done),
					zap.Error(err),
				)
			}
		}
		reporter.report(done)
	}

	reporter.flush(len(emails))

	return results, s.totalUsage(), nil
}

// analyzeOne runs the primary/fallback cascade for a single email.
func (s *CriticalStage) analyzeOne(ctx context.Context, email *model.EmailRecord) model.CriticalAnalysisResult {
	start := time.Now()
	prompt := buildEmailPrompt(email)

	text, primaryErr := resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) (string, error) {
		out, u, err := s.client.Generate(ctx, s.primaryModel, criticalSystemPrompt, prompt, s.cfg.CriticalTimeout)
		if err == nil {
			s.addUsage(u)
		}
		return out, err
	})

	usedModel := s.primaryModel
	fallbackUsed := false

	if primaryErr != nil {
		zap.L().Warn("critical: primary model failed, escalating to fallback",
			zap.String("email_id", email.ID),
			zap.String("primary_model", s.primaryModel),
			zap.Error(primaryErr),
		)

		var fallbackErr error
		text, fallbackErr = s.generateFallback(ctx, prompt)
		if fallbackErr != nil {
			zap.L().Error("critical: fallback model failed, flagging for manual review",
				zap.String("email_id", email.ID),
				zap.String("fallback_model", s.fallbackModel),
				zap.Error(fallbackErr),
			)
			return model.CriticalAnalysisResult{
				EmailID:          email.ID,
				ExecutiveSummary: manualReviewSummary,
				RecommendedActions: []model.RecommendedAction{{
					Action:   "Manual review required",
					Priority: "HIGH",
					Owner:    "Executive Team",
					Deadline: "Immediate",
				}},
				ModelUsed:      s.fallbackModel,
				ProcessingTime: time.Since(start).Milliseconds(),
				FallbackUsed:   true,
			}
		}
		usedModel = s.fallbackModel
		fallbackUsed = true
	}

	result := parseCritical(text, email.ID)
	result.ModelUsed = usedModel
	result.FallbackUsed = fallbackUsed
	result.ProcessingTime = time.Since(start).Milliseconds()
	result.QualityScore = scoreCritical(&result)
	return result
}

// generateFallback calls the fallback model with its own, longer timeout and
// a fresh retry budget.
func (s *CriticalStage) generateFallback(ctx context.Context, prompt string) (string, error) {
	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.OnRetry = resilience.RetryLogger("anthropic", "critical_fallback")

	return resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (string, error) {
		out, u, err := s.client.Generate(ctx, s.fallbackModel, criticalSystemPrompt, prompt, s.cfg.FallbackTimeout)
		if err == nil {
			s.addUsage(u)
		}
		return out, err
	})
}

func (s *CriticalStage) addUsage(u anthropic.TokenUsage) {
	s.mu.Lock()
	s.usage.Add(model.TokenUsage{InputTokens: int(u.InputTokens), OutputTokens: int(u.OutputTokens)})
	s.mu.Unlock()
}

func (s *CriticalStage) totalUsage() model.TokenUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}
