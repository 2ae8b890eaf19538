package model

// WorkflowState labels where an email sits in its business workflow.
type WorkflowState string

const (
	WorkflowStateNewInquiry   WorkflowState = "NEW_INQUIRY"
	WorkflowStateQuoteRequest WorkflowState = "QUOTE_REQUEST"
	WorkflowStateOrderPlaced  WorkflowState = "ORDER_PLACED"
	WorkflowStateInProgress   WorkflowState = "IN_PROGRESS"
	WorkflowStateEscalation   WorkflowState = "ESCALATION"
	WorkflowStateResolved     WorkflowState = "RESOLVED"
	WorkflowStateUnknown      WorkflowState = "UNKNOWN"
)

// EntitySet holds the business identifiers extracted from an email body.
type EntitySet struct {
	PONumbers    []string `json:"po_numbers"`
	QuoteNumbers []string `json:"quote_numbers"`
	CaseNumbers  []string `json:"case_numbers"`
	PartNumbers  []string `json:"part_numbers"`
	Companies    []string `json:"companies"`
}

// Count returns the total number of extracted entities across all lists.
func (e EntitySet) Count() int {
	return len(e.PONumbers) + len(e.QuoteNumbers) + len(e.CaseNumbers) +
		len(e.PartNumbers) + len(e.Companies)
}

// ActionItem is a concrete follow-up task surfaced by contextual analysis.
type ActionItem struct {
	Task     string `json:"task"`
	Detail   string `json:"detail"`
	Assignee string `json:"assignee"`
	Deadline string `json:"deadline"`
}

// ContextualAnalysisResult is the stage-2 output for a single priority-tier
// email. A failed or timed-out analysis still yields a result with
// QualityScore 0 and Error populated; the pipeline never drops an email here.
type ContextualAnalysisResult struct {
	EmailID           string        `json:"email_id"`
	Summary           string        `json:"summary"`
	WorkflowState     WorkflowState `json:"workflow_state"`
	BusinessProcess   string        `json:"business_process"`
	Entities          EntitySet     `json:"entities"`
	ActionItems       []ActionItem  `json:"action_items"`
	Urgency           string        `json:"urgency"`
	SuggestedResponse string        `json:"suggested_response"`
	QualityScore      float64       `json:"quality_score"`
	ProcessingTime    int64         `json:"processing_time_ms"`
	Model             string        `json:"model"`
	Error             string        `json:"error,omitempty"`
}
