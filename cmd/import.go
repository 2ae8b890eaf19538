package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/mailtriage/internal/mailbox"
)

var importCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Import emails from a CSV export into the mailbox",
	Long:  "Reads a CSV export (columns: id, subject, sender, body, received_at) and ingests it. Re-importing the same file is a no-op; rows are deduplicated by ID.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("import"); err != nil {
			return err
		}

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrapf(err, "open %s", args[0])
		}
		defer f.Close() //nolint:errcheck

		emails, err := mailbox.ReadCSV(f)
		if err != nil {
			return eris.Wrapf(err, "parse %s", args[0])
		}
		if len(emails) == 0 {
			return eris.New("no emails found in file")
		}

		mb, err := initMailbox(ctx)
		if err != nil {
			return err
		}
		defer mb.Close() //nolint:errcheck

		inserted, err := mb.InsertEmails(ctx, emails)
		if err != nil {
			return eris.Wrap(err, "import emails")
		}

		total, err := mb.Count(ctx)
		if err != nil {
			return eris.Wrap(err, "count emails")
		}

		zap.L().Info("import complete",
			zap.String("file", args[0]),
			zap.Int("parsed", len(emails)),
			zap.Int("inserted", inserted),
			zap.Int("duplicates", len(emails)-inserted),
			zap.Int("mailbox_total", total),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}
