package pipeline

import (
	"strings"

	"github.com/sells-group/mailtriage/internal/model"
)

// Quality scoring for LLM stage output. Scores measure completeness of the
// analysis, not importance of the email: a thorough analysis of a mundane
// email scores higher than a sparse analysis of an urgent one.

// genericProcessLabels are business process labels that carry no signal.
var genericProcessLabels = map[string]bool{
	"":        true,
	"general": true,
	"other":   true,
	"unknown": true,
	"n/a":     true,
	"none":    true,
}

// scoreContextual computes the 0-10 quality score for a contextual analysis.
//
// Weights: summary 25%, entities 20%, business process 20%, action items 20%,
// suggested response 15%. Entity count saturates at 5, action items at 3.
func scoreContextual(r *model.ContextualAnalysisResult) float64 {
	var score float64

	if len(r.Summary) > 50 {
		score += 2.5
	}

	entities := r.Entities.Count()
	if entities > 5 {
		entities = 5
	}
	score += float64(entities) * 0.4

	if !genericProcessLabels[strings.ToLower(strings.TrimSpace(r.BusinessProcess))] {
		score += 2.0
	}

	actions := len(r.ActionItems)
	if actions > 3 {
		actions = 3
	}
	score += float64(actions) * (2.0 / 3.0)

	if len(r.SuggestedResponse) > 20 {
		score += 1.5
	}

	return clampScore(score)
}

// scoreCritical computes the 0-10 quality score for a critical analysis.
//
// Four equally weighted signals: substantial executive summary, business
// impact coverage, recommended action completeness, substantial strategic
// insights. Actions earn full credit only when every action names a priority,
// owner, and deadline; half credit when at least one action is present.
func scoreCritical(r *model.CriticalAnalysisResult) float64 {
	var score float64

	if len(r.ExecutiveSummary) > 100 {
		score += 2.5
	}

	if r.BusinessImpact.PopulatedKeys() >= 2 {
		score += 2.5
	}

	if n := len(r.RecommendedActions); n > 0 {
		complete := true
		for i := range r.RecommendedActions {
			if !r.RecommendedActions[i].Complete() {
				complete = false
				break
			}
		}
		if complete {
			score += 2.5
		} else {
			score += 1.25
		}
	}

	if len(r.StrategicInsights) > 100 {
		score += 2.5
	}

	return clampScore(score)
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 10 {
		return 10
	}
	return s
}
