package model

// ConsolidatedRecord is the merged per-email view across all three stages.
// Triage is always present; Contextual and Critical are present only for
// emails that reached those tiers.
type ConsolidatedRecord struct {
	EmailID       string                    `json:"email_id"`
	Triage        *TriageResult             `json:"triage"`
	Contextual    *ContextualAnalysisResult `json:"contextual,omitempty"`
	Critical      *CriticalAnalysisResult   `json:"critical,omitempty"`
	FinalScore    float64                   `json:"final_score"`
	PipelineStage int                       `json:"pipeline_stage"`
}
