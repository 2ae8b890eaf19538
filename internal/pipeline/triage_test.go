package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mailtriage/internal/config"
	"github.com/sells-group/mailtriage/internal/model"
)

var triageNow = time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)

func newTestTriage(t *testing.T, cfg config.TriageConfig) *Triage {
	t.Helper()
	return NewTriage(cfg, DefaultKeywordWeights(), WithTriageNow(func() time.Time { return triageNow }))
}

func testEmail(id, subject, body string, age time.Duration) model.EmailRecord {
	return model.EmailRecord{
		ID:         id,
		Subject:    subject,
		Sender:     "buyer@example.com",
		Body:       body,
		ReceivedAt: triageNow.Add(-age),
	}
}

func TestTriage_OneResultPerEmailInInputOrder(t *testing.T) {
	tr := newTestTriage(t, config.TriageConfig{})
	emails := []model.EmailRecord{
		testEmail("a", "urgent: line down", "need parts immediately", time.Hour),
		testEmail("b", "newsletter", "unsubscribe here", 200*time.Hour),
		testEmail("c", "quote request", "please send pricing for PO 12345", 2*time.Hour),
	}

	out := tr.Run(emails, 2, 1)

	require.Len(t, out.All, 3)
	assert.Equal(t, "a", out.All[0].EmailID)
	assert.Equal(t, "b", out.All[1].EmailID)
	assert.Equal(t, "c", out.All[2].EmailID)
}

func TestTriage_Deterministic(t *testing.T) {
	tr := newTestTriage(t, config.TriageConfig{VIPDomains: []string{"example.com"}})
	emails := []model.EmailRecord{
		testEmail("a", "urgent order issue", "the shipment is overdue and we must escalate", time.Hour),
		testEmail("b", "RFQ for bearings", "please quote part numbers below", 30*time.Hour),
		testEmail("c", "", "", time.Hour),
		testEmail("d", "following up", "still waiting on the invoice", 100*time.Hour),
	}

	first := tr.Run(emails, 3, 2)
	for range 5 {
		again := tr.Run(emails, 3, 2)
		require.Len(t, again.All, len(first.All))
		for i := range first.All {
			// Processing time is wall clock; everything else must match.
			assert.Equal(t, first.All[i].EmailID, again.All[i].EmailID)
			assert.Equal(t, first.All[i].PriorityScore, again.All[i].PriorityScore)
		}
		assert.Equal(t, first.Priority, again.Priority)
		assert.Equal(t, first.Critical, again.Critical)
	}
}

func TestTriage_TiersAreNestedSubsets(t *testing.T) {
	tr := newTestTriage(t, config.TriageConfig{})
	var emails []model.EmailRecord
	for i := range 20 {
		emails = append(emails, testEmail(
			fmt.Sprintf("e%02d", i),
			fmt.Sprintf("order status %d", i),
			"checking on delivery and lead time",
			time.Duration(i)*10*time.Hour,
		))
	}

	out := tr.Run(emails, 10, 3)

	require.Len(t, out.Priority, 10)
	require.Len(t, out.Critical, 3)

	priorityIDs := make(map[string]bool)
	for _, e := range out.Priority {
		priorityIDs[e.ID] = true
	}
	for _, e := range out.Critical {
		assert.True(t, priorityIDs[e.ID], "critical email %s not in priority tier", e.ID)
	}
	// Critical is the head of the priority ranking.
	for i := range out.Critical {
		assert.Equal(t, out.Priority[i].ID, out.Critical[i].ID)
	}
}

func TestTriage_TierLargerThanPopulation(t *testing.T) {
	tr := newTestTriage(t, config.TriageConfig{})
	emails := []model.EmailRecord{
		testEmail("a", "quote", "pricing please", time.Hour),
		testEmail("b", "invoice", "payment attached", time.Hour),
	}

	out := tr.Run(emails, 5000, 500)

	assert.Len(t, out.Priority, 2)
	assert.Len(t, out.Critical, 2)
}

func TestTriage_MalformedEmailScoresZero(t *testing.T) {
	tr := newTestTriage(t, config.TriageConfig{})
	out := tr.Run([]model.EmailRecord{testEmail("empty", "", "  ", time.Hour)}, 1, 1)

	require.Len(t, out.All, 1)
	assert.Equal(t, 0.0, out.All[0].PriorityScore)
}

func TestTriage_UrgentOutranksNewsletter(t *testing.T) {
	tr := newTestTriage(t, config.TriageConfig{})
	emails := []model.EmailRecord{
		testEmail("news", "monthly newsletter", "view in browser to unsubscribe", time.Hour),
		testEmail("urgent", "URGENT: production down", "line down, need replacement part ASAP", time.Hour),
	}

	out := tr.Run(emails, 1, 1)

	require.Len(t, out.Priority, 1)
	assert.Equal(t, "urgent", out.Priority[0].ID)
}

func TestTriage_VIPDomainBoost(t *testing.T) {
	plain := newTestTriage(t, config.TriageConfig{})
	vip := newTestTriage(t, config.TriageConfig{VIPDomains: []string{"example.com"}})

	email := testEmail("a", "quick question", "do you stock this item", time.Hour)

	plainScore := plain.Run([]model.EmailRecord{email}, 1, 1).All[0].PriorityScore
	vipScore := vip.Run([]model.EmailRecord{email}, 1, 1).All[0].PriorityScore

	assert.InDelta(t, 1.5, vipScore-plainScore, 0.01)
}

func TestTriage_ReferenceNumberBoost(t *testing.T) {
	tr := newTestTriage(t, config.TriageConfig{})
	emails := []model.EmailRecord{
		testEmail("plain", "about my order", "wondering about status", time.Hour),
		testEmail("ref", "about my order", "wondering about status of PO# 44821", time.Hour),
	}

	out := tr.Run(emails, 2, 2)
	assert.Greater(t, out.All[1].PriorityScore, out.All[0].PriorityScore)
}

func TestTriage_TiesPreserveIngestionOrder(t *testing.T) {
	tr := newTestTriage(t, config.TriageConfig{})
	emails := []model.EmailRecord{
		testEmail("first", "order status", "same body", time.Hour),
		testEmail("second", "order status", "same body", time.Hour),
		testEmail("third", "order status", "same body", time.Hour),
	}

	out := tr.Run(emails, 3, 3)

	assert.Equal(t, "first", out.Priority[0].ID)
	assert.Equal(t, "second", out.Priority[1].ID)
	assert.Equal(t, "third", out.Priority[2].ID)
}

func TestTriage_ScoresWithinBounds(t *testing.T) {
	tr := newTestTriage(t, config.TriageConfig{VIPDomains: []string{"example.com"}})
	emails := []model.EmailRecord{
		testEmail("max", "URGENT critical escalation: purchase order past due",
			"urgent asap emergency line down PO# 12345 quote# 678 case# 910 rfq invoice payment", time.Hour),
		testEmail("min", "newsletter", "unsubscribe promotional webinar view in browser", 500*time.Hour),
	}

	out := tr.Run(emails, 2, 2)
	for _, r := range out.All {
		assert.GreaterOrEqual(t, r.PriorityScore, 0.0)
		assert.LessOrEqual(t, r.PriorityScore, 10.0)
	}
}

func TestLoadKeywordWeights_EmptyPathUsesDefaults(t *testing.T) {
	w, err := LoadKeywordWeights("")
	require.NoError(t, err)
	assert.NotEmpty(t, w.Urgency)
	assert.NotEmpty(t, w.Business)
}

func TestLoadKeywordWeights_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keywords.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
urgency:
  "melting down": 3.0
business:
  "blanket order": 2.0
negative:
  "spam": 1.0
`), 0o644))

	w, err := LoadKeywordWeights(path)
	require.NoError(t, err)
	assert.Equal(t, 3.0, w.Urgency["melting down"])
	assert.Equal(t, 2.0, w.Business["blanket order"])
	assert.Equal(t, 1.0, w.Negative["spam"])
}

func TestLoadKeywordWeights_MissingFile(t *testing.T) {
	_, err := LoadKeywordWeights("/nonexistent/keywords.yaml")
	assert.Error(t, err)
}

func TestSenderDomain(t *testing.T) {
	assert.Equal(t, "example.com", senderDomain("buyer@example.com"))
	assert.Equal(t, "example.com", senderDomain("Jane Buyer <jane@Example.com>"))
	assert.Equal(t, "", senderDomain("not-an-address"))
}
