package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/mailtriage/internal/model"
	"github.com/sells-group/mailtriage/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of the most recent execution",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		exec, err := st.LatestExecution(ctx)
		if eris.Is(err, store.ErrNotFound) {
			return eris.New("no executions yet; run `mailtriage run` first")
		}
		if err != nil {
			return eris.Wrap(err, "status")
		}

		status := model.PipelineStatus{
			ExecutionID:  exec.ID,
			Status:       exec.Status,
			StartedAt:    exec.StartedAt,
			CompletedAt:  exec.CompletedAt,
			Stage1Count:  exec.Stage1Count,
			Stage2Count:  exec.Stage2Count,
			Stage3Count:  exec.Stage3Count,
			ErrorMessage: exec.ErrorMessage,
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
