package pipeline

import "github.com/sells-group/mailtriage/internal/model"

// Consolidate merges the three stage outputs into one record per email. Pure
// function of its inputs. Each record carries the deepest analysis that
// exists for the email; finalScore cascades from the deepest stage that
// produced a score.
func Consolidate(triage []model.TriageResult, contextual []model.ContextualAnalysisResult, critical []model.CriticalAnalysisResult) []model.ConsolidatedRecord {
	ctxByEmail := make(map[string]*model.ContextualAnalysisResult, len(contextual))
	for i := range contextual {
		ctxByEmail[contextual[i].EmailID] = &contextual[i]
	}
	critByEmail := make(map[string]*model.CriticalAnalysisResult, len(critical))
	for i := range critical {
		critByEmail[critical[i].EmailID] = &critical[i]
	}

	records := make([]model.ConsolidatedRecord, len(triage))
	for i := range triage {
		tr := &triage[i]
		rec := model.ConsolidatedRecord{
			EmailID:       tr.EmailID,
			Triage:        tr,
			PipelineStage: model.StageTriage,
			FinalScore:    tr.PriorityScore,
		}

		if cr, ok := ctxByEmail[tr.EmailID]; ok {
			rec.Contextual = cr
			rec.PipelineStage = model.StageContextual
			rec.FinalScore = cr.QualityScore
		}
		if cr, ok := critByEmail[tr.EmailID]; ok {
			rec.Critical = cr
			rec.PipelineStage = model.StageCritical
			rec.FinalScore = cr.QualityScore
		}

		records[i] = rec
	}

	return records
}
