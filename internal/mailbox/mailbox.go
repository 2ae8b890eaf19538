// Package mailbox provides access to the ingested email corpus. Emails are
// imported once (typically from a CSV export of the mail system) and read in
// bulk by the pipeline.
package mailbox

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mailtriage/internal/config"
	"github.com/sells-group/mailtriage/internal/model"
)

// Source supplies the full email corpus to the pipeline.
type Source interface {
	// GetAllEmails returns every ingested email in ingestion order.
	GetAllEmails(ctx context.Context) ([]model.EmailRecord, error)
}

// Mailbox is a writable email store.
type Mailbox interface {
	Source

	// InsertEmails ingests emails, skipping IDs that already exist. Returns
	// the number of newly inserted rows.
	InsertEmails(ctx context.Context, emails []model.EmailRecord) (int, error)

	// Count returns the number of ingested emails.
	Count(ctx context.Context) (int, error)

	// Migrate creates or updates the schema.
	Migrate(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}

// New creates a Mailbox for the configured driver. It shares the store's
// database so one file or one Postgres instance holds everything.
func New(ctx context.Context, cfg config.StoreConfig) (Mailbox, error) {
	switch cfg.Driver {
	case "sqlite", "":
		return NewSQLite(cfg.DatabaseURL)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("mailbox: unknown driver %q", cfg.Driver)
	}
}
