// Package store persists pipeline executions, stage snapshots, and
// consolidated results. Two backends are supported: embedded SQLite for
// single-host use and PostgreSQL for shared deployments.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mailtriage/internal/config"
	"github.com/sells-group/mailtriage/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = eris.New("store: not found")

// Store is the persistence interface for pipeline state.
type Store interface {
	// CreateExecution inserts a new running execution record.
	CreateExecution(ctx context.Context) (*model.ExecutionRecord, error)

	// GetExecution returns the execution with the given ID, or ErrNotFound.
	GetExecution(ctx context.Context, id string) (*model.ExecutionRecord, error)

	// LatestExecution returns the most recently started execution, or
	// ErrNotFound when none exist.
	LatestExecution(ctx context.Context) (*model.ExecutionRecord, error)

	// ListExecutions returns executions newest-first, up to limit.
	ListExecutions(ctx context.Context, limit int) ([]model.ExecutionRecord, error)

	// UpdateStageCount raises a stage counter. Counters are monotonic: a
	// write lower than the stored value is ignored, so late throttled
	// progress updates cannot move a counter backwards.
	UpdateStageCount(ctx context.Context, id string, stage, count int) error

	// CompleteExecution finalizes a running execution as completed.
	// Finalizing an already terminal execution is an error.
	CompleteExecution(ctx context.Context, id string) error

	// FailExecution finalizes a running execution as failed with a message.
	// Finalizing an already terminal execution is an error.
	FailExecution(ctx context.Context, id string, msg string) error

	// SaveSnapshot upserts the JSON-encoded stage results for an execution.
	SaveSnapshot(ctx context.Context, executionID string, stage int, payload any) error

	// LoadSnapshot decodes the stored stage snapshot into out, or returns
	// ErrNotFound.
	LoadSnapshot(ctx context.Context, executionID string, stage int, out any) error

	// SaveConsolidated replaces the consolidated records for an execution.
	SaveConsolidated(ctx context.Context, executionID string, records []model.ConsolidatedRecord) error

	// ListConsolidated returns consolidated records for an execution ordered
	// by final score descending, up to limit (0 = no limit).
	ListConsolidated(ctx context.Context, executionID string, limit int) ([]model.ConsolidatedRecord, error)

	// Migrate creates or updates the schema.
	Migrate(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}

// NewStore creates a Store for the configured driver.
func NewStore(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite", "":
		return NewSQLite(cfg.DatabaseURL)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
