package pipeline

import (
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/mailtriage/internal/config"
	"github.com/sells-group/mailtriage/internal/model"
)

// triageBodyScanLen bounds how much of the body the keyword scan reads.
// Signals that matter for prioritization show up early in business email.
const triageBodyScanLen = 2000

// KeywordWeights holds the weighted keyword lists used by the triage scorer.
// Weights are per-occurrence contributions; subject hits count 1.5x.
type KeywordWeights struct {
	Urgency  map[string]float64 `yaml:"urgency"`
	Business map[string]float64 `yaml:"business"`
	Negative map[string]float64 `yaml:"negative"`
}

// DefaultKeywordWeights returns the built-in keyword lists. A keyword file
// configured via triage.keyword_file replaces them wholesale.
func DefaultKeywordWeights() KeywordWeights {
	return KeywordWeights{
		Urgency: map[string]float64{
			"urgent":               2.0,
			"asap":                 2.0,
			"immediately":          1.5,
			"critical":             1.5,
			"escalation":           1.5,
			"escalate":             1.5,
			"deadline":             1.0,
			"overdue":              1.0,
			"expedite":             1.0,
			"time sensitive":       1.5,
			"action required":      1.5,
			"past due":             1.0,
			"emergency":            2.0,
			"line down":            2.0,
			"production down":      2.0,
			"shipment delay":       1.0,
			"cancel":               1.0,
			"complaint":            1.0,
			"second request":       1.0,
			"following up":         0.5,
			"still waiting":        1.0,
			"not received":         1.0,
			"missed":               0.5,
			"failure":              1.0,
			"defect":               1.0,
			"warranty claim":       1.0,
			"return authorization": 1.0,
		},
		Business: map[string]float64{
			"purchase order":  1.5,
			"po number":       1.5,
			"quote":           1.0,
			"quotation":       1.0,
			"rfq":             1.5,
			"pricing":         0.75,
			"invoice":         0.75,
			"payment":         0.75,
			"contract":        1.0,
			"renewal":         1.0,
			"order status":    1.0,
			"lead time":       0.75,
			"availability":    0.5,
			"in stock":        0.5,
			"shipment":        0.5,
			"tracking number": 0.5,
			"delivery":        0.5,
			"net 30":          0.5,
			"terms":           0.25,
			"proposal":        1.0,
			"bid":             1.0,
		},
		Negative: map[string]float64{
			"unsubscribe":        2.0,
			"newsletter":         1.5,
			"no-reply":           1.0,
			"automatic reply":    1.5,
			"out of office":      1.5,
			"promotional":        1.5,
			"limited time offer": 1.5,
			"webinar":            1.0,
			"view in browser":    1.5,
		},
	}
}

// LoadKeywordWeights reads keyword weights from a YAML file. Empty path
// returns the defaults.
func LoadKeywordWeights(path string) (KeywordWeights, error) {
	if path == "" {
		return DefaultKeywordWeights(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return KeywordWeights{}, eris.Wrap(err, "triage: read keyword file")
	}

	var w KeywordWeights
	if err := yaml.Unmarshal(data, &w); err != nil {
		return KeywordWeights{}, eris.Wrap(err, "triage: parse keyword file")
	}
	return w, nil
}

// Reference number patterns. A match means the email carries a concrete
// transaction identifier, which is a strong priority signal regardless of
// wording.
var (
	poPattern    = regexp.MustCompile(`(?i)\b(?:po|p\.o\.)[-#:\s]*\d{3,}\b`)
	quotePattern = regexp.MustCompile(`(?i)\b(?:quote|qt)[-#:\s]*\d{3,}\b`)
	casePattern  = regexp.MustCompile(`(?i)\b(?:case|ticket|sr)[-#:\s]*\d{3,}\b`)
)

// Triage ranks emails with deterministic heuristics. No model calls, no I/O;
// with identical inputs and clock it produces identical output.
type Triage struct {
	weights    KeywordWeights
	vipDomains map[string]bool
	now        func() time.Time
}

// TriageOption customizes a Triage.
type TriageOption func(*Triage)

// WithTriageNow injects the clock used for recency scoring.
func WithTriageNow(now func() time.Time) TriageOption {
	return func(t *Triage) { t.now = now }
}

// NewTriage creates a triage scorer from config and keyword weights.
func NewTriage(cfg config.TriageConfig, weights KeywordWeights, opts ...TriageOption) *Triage {
	vip := make(map[string]bool, len(cfg.VIPDomains))
	for _, d := range cfg.VIPDomains {
		vip[strings.ToLower(strings.TrimSpace(d))] = true
	}

	t := &Triage{
		weights:    weights,
		vipDomains: vip,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run scores every email and slices the ranked list into tiers. The result
// always contains one TriageResult per input email, in input order. Ranking
// sorts by score descending; ties keep input order, so reruns over the same
// mailbox produce identical tiers.
func (t *Triage) Run(emails []model.EmailRecord, priorityTier, criticalTier int) model.TriageOutput {
	now := t.now()

	out := model.TriageOutput{
		All: make([]model.TriageResult, len(emails)),
	}

	for i := range emails {
		start := time.Now()
		score := t.scoreEmail(&emails[i], now)
		out.All[i] = model.TriageResult{
			EmailID:        emails[i].ID,
			PriorityScore:  score,
			ProcessingTime: time.Since(start).Milliseconds(),
		}
	}

	// Rank by score descending, stable so ties preserve ingestion order.
	ranked := make([]int, len(emails))
	for i := range ranked {
		ranked[i] = i
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return out.All[ranked[a]].PriorityScore > out.All[ranked[b]].PriorityScore
	})

	if priorityTier > len(ranked) {
		priorityTier = len(ranked)
	}
	out.Priority = make([]model.EmailRecord, 0, priorityTier)
	for _, idx := range ranked[:priorityTier] {
		out.Priority = append(out.Priority, emails[idx])
	}

	if criticalTier > len(out.Priority) {
		criticalTier = len(out.Priority)
	}
	out.Critical = append([]model.EmailRecord(nil), out.Priority[:criticalTier]...)

	zap.L().Info("triage complete",
		zap.Int("total", len(out.All)),
		zap.Int("priority_tier", len(out.Priority)),
		zap.Int("critical_tier", len(out.Critical)),
	)

	return out
}

// scoreEmail computes the 0-10 heuristic priority score for one email.
// Emails with no usable content score 0.
func (t *Triage) scoreEmail(e *model.EmailRecord, now time.Time) float64 {
	subject := strings.ToLower(strings.TrimSpace(e.Subject))
	body := strings.ToLower(truncate(e.Body, triageBodyScanLen))

	if subject == "" && strings.TrimSpace(body) == "" {
		return 0
	}

	var score float64

	// Keyword signals. Subject hits weigh 1.5x body hits; each category is
	// capped so a keyword-stuffed email cannot dominate on one axis.
	score += cappedKeywordScore(subject, body, t.weights.Urgency, 4.0)
	score += cappedKeywordScore(subject, body, t.weights.Business, 3.0)
	score -= cappedKeywordScore(subject, body, t.weights.Negative, 4.0)

	// Reference numbers.
	var refs float64
	combined := subject + " " + body
	if poPattern.MatchString(combined) {
		refs += 0.75
	}
	if quotePattern.MatchString(combined) {
		refs += 0.75
	}
	if casePattern.MatchString(combined) {
		refs += 0.75
	}
	if refs > 1.5 {
		refs = 1.5
	}
	score += refs

	if t.vipDomains[senderDomain(e.Sender)] {
		score += 1.5
	}

	score += recencyBoost(now.Sub(e.ReceivedAt))

	return clampScore(score)
}

func cappedKeywordScore(subject, body string, weights map[string]float64, limit float64) float64 {
	var score float64
	for kw, w := range weights {
		if strings.Contains(subject, kw) {
			score += w * 1.5
		} else if strings.Contains(body, kw) {
			score += w
		}
	}
	if score > limit {
		return limit
	}
	return score
}

// recencyBoost rewards fresh mail. Anything older than a week gets nothing.
func recencyBoost(age time.Duration) float64 {
	switch {
	case age < 0:
		return 1.0 // Future timestamps treated as just-arrived.
	case age < 24*time.Hour:
		return 1.0
	case age < 72*time.Hour:
		return 0.5
	case age < 168*time.Hour:
		return 0.25
	default:
		return 0
	}
}

func senderDomain(sender string) string {
	sender = strings.ToLower(strings.TrimSpace(sender))
	// Tolerate "Name <user@domain>" forms.
	if i := strings.LastIndex(sender, "<"); i >= 0 {
		sender = strings.TrimSuffix(sender[i+1:], ">")
	}
	at := strings.LastIndex(sender, "@")
	if at < 0 {
		return ""
	}
	return sender[at+1:]
}
