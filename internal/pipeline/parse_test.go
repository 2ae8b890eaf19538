package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mailtriage/internal/model"
)

func TestCleanJSON_Plain(t *testing.T) {
	assert.Equal(t, `{"a":1}`, cleanJSON(`{"a":1}`))
}

func TestCleanJSON_CodeFence(t *testing.T) {
	input := "```json\n{\"a\": 1}\n```"
	assert.Equal(t, `{"a": 1}`, cleanJSON(input))
}

func TestCleanJSON_BareFence(t *testing.T) {
	input := "```\n{\"a\": 1}\n```"
	assert.Equal(t, `{"a": 1}`, cleanJSON(input))
}

func TestCleanJSON_SurroundingProse(t *testing.T) {
	input := `Here is the analysis you asked for: {"a": 1} Hope that helps!`
	assert.Equal(t, `{"a": 1}`, cleanJSON(input))
}

func TestParseContextual_WellFormed(t *testing.T) {
	raw := `{
		"summary": "Customer asks for expedited shipment of an open order.",
		"workflow_state": "in_progress",
		"business_process": "order fulfillment",
		"entities": {
			"po_numbers": ["PO-1001"],
			"companies": ["acme corp", "ACME Corp", "Globex"]
		},
		"action_items": [
			{"task": "confirm ship date", "assignee": "ops"},
			{"task": ""}
		],
		"urgency": "high",
		"suggested_response": "We will confirm the new ship date today."
	}`

	r := parseContextual(raw, "e1")

	assert.Equal(t, "e1", r.EmailID)
	assert.Equal(t, model.WorkflowStateInProgress, r.WorkflowState)
	assert.Equal(t, "order fulfillment", r.BusinessProcess)
	assert.Equal(t, []string{"PO-1001"}, r.Entities.PONumbers)
	// Companies are canonicalized and deduped.
	assert.Equal(t, []string{"Acme Corp", "Globex"}, r.Entities.Companies)
	// Empty-task action items are dropped.
	require.Len(t, r.ActionItems, 1)
	assert.Equal(t, "confirm ship date", r.ActionItems[0].Task)
	assert.Equal(t, "high", r.Urgency)
}

func TestParseContextual_MalformedDegrades(t *testing.T) {
	raw := "I could not produce JSON but the email is about a late shipment."

	r := parseContextual(raw, "e1")

	assert.Equal(t, "e1", r.EmailID)
	assert.Equal(t, model.WorkflowStateUnknown, r.WorkflowState)
	assert.Contains(t, r.Summary, "late shipment")
	assert.Empty(t, r.ActionItems)
	assert.Equal(t, 0, r.Entities.Count())
}

func TestParseContextual_TruncatesRawSummary(t *testing.T) {
	raw := strings.Repeat("x", 5000)
	r := parseContextual(raw, "e1")
	assert.Len(t, r.Summary, summaryTruncateLen)
}

func TestParseContextual_InventedStateBecomesUnknown(t *testing.T) {
	raw := `{"summary": "ok", "workflow_state": "VIBING"}`
	r := parseContextual(raw, "e1")
	assert.Equal(t, model.WorkflowStateUnknown, r.WorkflowState)
}

func TestParseCritical_WellFormed(t *testing.T) {
	raw := "```json\n" + `{
		"executive_summary": "Top account threatening to leave over repeated late deliveries.",
		"business_impact": {"revenue": "$400k at risk", "risk": "churn"},
		"stakeholders": ["VP Sales", "Account Manager"],
		"recommended_actions": [
			{"action": "call the buyer", "priority": "high", "owner": "VP Sales", "deadline": "today"}
		],
		"strategic_insights": "Delivery reliability is a recurring theme."
	}` + "\n```"

	r := parseCritical(raw, "e1")

	assert.Equal(t, "e1", r.EmailID)
	assert.Contains(t, r.ExecutiveSummary, "Top account")
	assert.Equal(t, 2, r.BusinessImpact.PopulatedKeys())
	assert.Equal(t, []string{"VP Sales", "Account Manager"}, r.Stakeholders)
	require.Len(t, r.RecommendedActions, 1)
	assert.True(t, r.RecommendedActions[0].Complete())
}

func TestParseCritical_MalformedDegrades(t *testing.T) {
	r := parseCritical("no json here", "e1")
	assert.Equal(t, "no json here", r.ExecutiveSummary)
	assert.Equal(t, 0, r.BusinessImpact.PopulatedKeys())
	assert.Empty(t, r.RecommendedActions)
}

func TestCanonicalCompany(t *testing.T) {
	assert.Equal(t, "Acme Corp", canonicalCompany("  acme   corp "))
	assert.Equal(t, "Acme Corp", canonicalCompany("ACME CORP"))
	assert.Equal(t, "", canonicalCompany("   "))
}
