package model

// TriageResult is the stage-1 output for a single email: a cheap heuristic
// priority score with no model call involved.
type TriageResult struct {
	EmailID        string  `json:"email_id"`
	PriorityScore  float64 `json:"priority_score"`
	ProcessingTime int64   `json:"processing_time_ms"`
}

// TriageOutput partitions the triaged population into the three tiers.
// Priority and Critical are prefixes of the score-descending sort; their
// sizes come from configuration, not from the population size.
type TriageOutput struct {
	All      []TriageResult `json:"all"`
	Priority []EmailRecord  `json:"priority"`
	Critical []EmailRecord  `json:"critical"`
}
