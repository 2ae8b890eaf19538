package pipeline

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/mailtriage/internal/model"
)

// summaryTruncateLen bounds the raw-text summary used when a model response
// fails to parse as JSON.
const summaryTruncateLen = 300

// cleanJSON attempts to extract a JSON object from text that may contain
// markdown code fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	// Strip markdown code fences.
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	// Find first { and last }.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

// truncate returns s cut to at most n bytes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var companyCaser = cases.Title(language.English)

// canonicalCompany normalizes an extracted company name: trimmed, collapsed
// whitespace, title-cased. Entity lists dedupe on the canonical form so
// "ACME corp" and "Acme Corp" count once.
func canonicalCompany(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return companyCaser.String(strings.Join(fields, " "))
}

// dedupeCanonical canonicalizes company names and removes duplicates,
// preserving first-seen order.
func dedupeCanonical(names []string) []string {
	seen := make(map[string]bool, len(names))
	var out []string
	for _, n := range names {
		c := canonicalCompany(n)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// contextualResponse mirrors the JSON shape requested from the model in the
// contextual stage.
type contextualResponse struct {
	Summary         string `json:"summary"`
	WorkflowState   string `json:"workflow_state"`
	BusinessProcess string `json:"business_process"`
	Entities        struct {
		PONumbers    []string `json:"po_numbers"`
		QuoteNumbers []string `json:"quote_numbers"`
		CaseNumbers  []string `json:"case_numbers"`
		PartNumbers  []string `json:"part_numbers"`
		Companies    []string `json:"companies"`
	} `json:"entities"`
	ActionItems []struct {
		Task     string `json:"task"`
		Detail   string `json:"detail"`
		Assignee string `json:"assignee"`
		Deadline string `json:"deadline"`
	} `json:"action_items"`
	Urgency           string `json:"urgency"`
	SuggestedResponse string `json:"suggested_response"`
}

// validWorkflowStates guards against the model inventing labels.
var validWorkflowStates = map[model.WorkflowState]bool{
	model.WorkflowStateNewInquiry:   true,
	model.WorkflowStateQuoteRequest: true,
	model.WorkflowStateOrderPlaced:  true,
	model.WorkflowStateInProgress:   true,
	model.WorkflowStateEscalation:   true,
	model.WorkflowStateResolved:     true,
	model.WorkflowStateUnknown:      true,
}

// parseContextual decodes the model response for one email. Malformed JSON
// yields a degraded result: truncated raw-text summary, UNKNOWN workflow
// state, empty entity and action lists. It never returns an error.
func parseContextual(text string, emailID string) model.ContextualAnalysisResult {
	cleaned := cleanJSON(text)

	var resp contextualResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		zap.L().Warn("contextual: failed to parse model response",
			zap.String("email_id", emailID),
			zap.Error(err),
		)
		return model.ContextualAnalysisResult{
			EmailID:       emailID,
			Summary:       truncate(strings.TrimSpace(text), summaryTruncateLen),
			WorkflowState: model.WorkflowStateUnknown,
		}
	}

	state := model.WorkflowState(strings.ToUpper(strings.TrimSpace(resp.WorkflowState)))
	if !validWorkflowStates[state] {
		state = model.WorkflowStateUnknown
	}

	result := model.ContextualAnalysisResult{
		EmailID:         emailID,
		Summary:         resp.Summary,
		WorkflowState:   state,
		BusinessProcess: resp.BusinessProcess,
		Entities: model.EntitySet{
			PONumbers:    resp.Entities.PONumbers,
			QuoteNumbers: resp.Entities.QuoteNumbers,
			CaseNumbers:  resp.Entities.CaseNumbers,
			PartNumbers:  resp.Entities.PartNumbers,
			Companies:    dedupeCanonical(resp.Entities.Companies),
		},
		Urgency:           resp.Urgency,
		SuggestedResponse: resp.SuggestedResponse,
	}

	for _, ai := range resp.ActionItems {
		if ai.Task == "" {
			continue
		}
		result.ActionItems = append(result.ActionItems, model.ActionItem{
			Task:     ai.Task,
			Detail:   ai.Detail,
			Assignee: ai.Assignee,
			Deadline: ai.Deadline,
		})
	}

	return result
}

// criticalResponse mirrors the JSON shape requested from the model in the
// critical stage.
type criticalResponse struct {
	ExecutiveSummary string `json:"executive_summary"`
	BusinessImpact   struct {
		Revenue     string `json:"revenue"`
		Risk        string `json:"risk"`
		Opportunity string `json:"opportunity"`
	} `json:"business_impact"`
	Stakeholders       []string `json:"stakeholders"`
	RecommendedActions []struct {
		Action   string `json:"action"`
		Priority string `json:"priority"`
		Owner    string `json:"owner"`
		Deadline string `json:"deadline"`
	} `json:"recommended_actions"`
	StrategicInsights string `json:"strategic_insights"`
}

// parseCritical decodes the model response for one email. Malformed JSON
// yields a degraded result with a truncated raw-text executive summary.
func parseCritical(text string, emailID string) model.CriticalAnalysisResult {
	cleaned := cleanJSON(text)

	var resp criticalResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		zap.L().Warn("critical: failed to parse model response",
			zap.String("email_id", emailID),
			zap.Error(err),
		)
		return model.CriticalAnalysisResult{
			EmailID:          emailID,
			ExecutiveSummary: truncate(strings.TrimSpace(text), summaryTruncateLen),
		}
	}

	result := model.CriticalAnalysisResult{
		EmailID:          emailID,
		ExecutiveSummary: resp.ExecutiveSummary,
		BusinessImpact: model.BusinessImpact{
			Revenue:     resp.BusinessImpact.Revenue,
			Risk:        resp.BusinessImpact.Risk,
			Opportunity: resp.BusinessImpact.Opportunity,
		},
		Stakeholders:      resp.Stakeholders,
		StrategicInsights: resp.StrategicInsights,
	}

	for _, ra := range resp.RecommendedActions {
		if ra.Action == "" {
			continue
		}
		result.RecommendedActions = append(result.RecommendedActions, model.RecommendedAction{
			Action:   ra.Action,
			Priority: ra.Priority,
			Owner:    ra.Owner,
			Deadline: ra.Deadline,
		})
	}

	return result
}
