package main

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/mailtriage/internal/model"
)

var (
	exportExecID string
	exportOut    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export consolidated results of an execution to an Excel workbook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		execID := exportExecID
		if execID == "" {
			latest, err := st.LatestExecution(ctx)
			if err != nil {
				return eris.Wrap(err, "export: find latest execution")
			}
			execID = latest.ID
		}

		records, err := st.ListConsolidated(ctx, execID, 0)
		if err != nil {
			return eris.Wrap(err, "export: load records")
		}
		if len(records) == 0 {
			return eris.Errorf("export: execution %s has no consolidated records", execID)
		}

		out := exportOut
		if out == "" {
			out = fmt.Sprintf("mailtriage-%s.xlsx", execID)
		}

		if err := writeWorkbook(out, records); err != nil {
			return err
		}

		zap.L().Info("export complete",
			zap.String("execution_id", execID),
			zap.String("file", out),
			zap.Int("records", len(records)),
		)
		return nil
	},
}

func writeWorkbook(path string, records []model.ConsolidatedRecord) error {
	wb := xlsx.NewFile()
	sheet, err := wb.AddSheet("Results")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{
		"Email ID", "Stage", "Final Score", "Priority Score",
		"Workflow State", "Business Process", "Urgency", "Summary",
		"Action Items", "Executive Summary", "Model", "Fallback Used",
	} {
		header.AddCell().SetString(h)
	}

	for i := range records {
		r := &records[i]
		row := sheet.AddRow()
		row.AddCell().SetString(r.EmailID)
		row.AddCell().SetInt(r.PipelineStage)
		row.AddCell().SetFloat(r.FinalScore)

		if r.Triage != nil {
			row.AddCell().SetFloat(r.Triage.PriorityScore)
		} else {
			row.AddCell().SetString("")
		}

		if r.Contextual != nil {
			row.AddCell().SetString(string(r.Contextual.WorkflowState))
			row.AddCell().SetString(r.Contextual.BusinessProcess)
			row.AddCell().SetString(r.Contextual.Urgency)
			row.AddCell().SetString(r.Contextual.Summary)
			row.AddCell().SetString(formatActionItems(r.Contextual.ActionItems))
		} else {
			for range 5 {
				row.AddCell().SetString("")
			}
		}

		if r.Critical != nil {
			row.AddCell().SetString(r.Critical.ExecutiveSummary)
			row.AddCell().SetString(r.Critical.ModelUsed)
			row.AddCell().SetBool(r.Critical.FallbackUsed)
		} else {
			row.AddCell().SetString("")
			if r.Contextual != nil {
				row.AddCell().SetString(r.Contextual.Model)
			} else {
				row.AddCell().SetString("")
			}
			row.AddCell().SetString("")
		}
	}

	return eris.Wrapf(wb.Save(path), "export: save %s", path)
}

func formatActionItems(items []model.ActionItem) string {
	if len(items) == 0 {
		return ""
	}
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = it.Task
		if it.Deadline != "" {
			parts[i] += " (due " + it.Deadline + ")"
		}
	}
	return strings.Join(parts, "; ")
}

func init() {
	exportCmd.Flags().StringVar(&exportExecID, "execution", "", "execution ID to export (default: latest)")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output path (default: mailtriage-<id>.xlsx)")
	rootCmd.AddCommand(exportCmd)
}
