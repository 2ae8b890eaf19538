package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/mailtriage/internal/pipeline"
)

var (
	runResumeFrom string
	runPrintJSON  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the three-stage pipeline over the ingested mailbox",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("run"); err != nil {
			return err
		}

		var opts []pipeline.Option
		if runResumeFrom != "" {
			opts = append(opts, pipeline.WithResumeFrom(runResumeFrom))
		}

		env, err := initPipeline(ctx, opts...)
		if err != nil {
			return err
		}
		defer env.Close()

		results, err := env.Orchestrator.RunThreeStagePipeline(ctx)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		zap.L().Info("analysis complete",
			zap.String("execution_id", results.ExecutionID),
			zap.Int("total_emails", results.TotalEmails),
			zap.Duration("duration", results.Duration),
			zap.Float64("estimated_usd", results.EstimatedUSD),
		)

		if runPrintJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runResumeFrom, "resume-from", "", "execution ID whose contextual snapshot should be reused")
	runCmd.Flags().BoolVar(&runPrintJSON, "json", false, "print full consolidated results as JSON")
	rootCmd.AddCommand(runCmd)
}
