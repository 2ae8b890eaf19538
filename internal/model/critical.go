package model

// BusinessImpact maps impact dimensions to free-text assessments.
type BusinessImpact struct {
	Revenue     string `json:"revenue,omitempty"`
	Risk        string `json:"risk,omitempty"`
	Opportunity string `json:"opportunity,omitempty"`
}

// PopulatedKeys returns how many impact dimensions carry a non-empty value.
func (b BusinessImpact) PopulatedKeys() int {
	n := 0
	for _, v := range []string{b.Revenue, b.Risk, b.Opportunity} {
		if v != "" {
			n++
		}
	}
	return n
}

// RecommendedAction is an executive-level action produced by critical analysis.
type RecommendedAction struct {
	Action   string `json:"action"`
	Priority string `json:"priority"`
	Owner    string `json:"owner"`
	Deadline string `json:"deadline"`
}

// Complete reports whether all four required fields are populated.
func (a RecommendedAction) Complete() bool {
	return a.Action != "" && a.Priority != "" && a.Owner != "" && a.Deadline != ""
}

// CriticalAnalysisResult is the stage-3 output for a single critical-tier
// email. FallbackUsed is true whenever the fallback model path was taken,
// including the both-models-failed minimal result.
type CriticalAnalysisResult struct {
	EmailID            string              `json:"email_id"`
	ExecutiveSummary   string              `json:"executive_summary"`
	BusinessImpact     BusinessImpact      `json:"business_impact"`
	Stakeholders       []string            `json:"stakeholders"`
	RecommendedActions []RecommendedAction `json:"recommended_actions"`
	StrategicInsights  string              `json:"strategic_insights"`
	ModelUsed          string              `json:"model_used"`
	QualityScore       float64             `json:"quality_score"`
	ProcessingTime     int64               `json:"processing_time_ms"`
	FallbackUsed       bool                `json:"fallback_used"`
}
