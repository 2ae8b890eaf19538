package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/mailtriage/internal/db"
	"github.com/sells-group/mailtriage/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS executions (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	status        TEXT NOT NULL DEFAULT 'running',
	stage1_count  INTEGER NOT NULL DEFAULT 0,
	stage2_count  INTEGER NOT NULL DEFAULT 0,
	stage3_count  INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	started_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS stage_snapshots (
	execution_id TEXT NOT NULL REFERENCES executions(id),
	stage        INTEGER NOT NULL,
	payload      JSONB NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (execution_id, stage)
);

CREATE TABLE IF NOT EXISTS consolidated_records (
	execution_id   TEXT NOT NULL REFERENCES executions(id),
	email_id       TEXT NOT NULL,
	pipeline_stage INTEGER NOT NULL,
	final_score    DOUBLE PRECISION NOT NULL,
	record         JSONB NOT NULL,
	PRIMARY KEY (execution_id, email_id)
);

CREATE INDEX IF NOT EXISTS idx_executions_started_at ON executions(started_at);
CREATE INDEX IF NOT EXISTS idx_consolidated_score ON consolidated_records(execution_id, final_score DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateExecution(ctx context.Context) (*model.ExecutionRecord, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO executions (id, status, started_at) VALUES ($1, $2, $3)`,
		id, string(model.ExecutionStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert execution")
	}

	return &model.ExecutionRecord{
		ID:        id,
		StartedAt: now,
		Status:    model.ExecutionStatusRunning,
	}, nil
}

func (s *PostgresStore) GetExecution(ctx context.Context, id string) (*model.ExecutionRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, status, stage1_count, stage2_count, stage3_count, error_message, started_at, completed_at
		 FROM executions WHERE id = $1`, id)
	return scanPgExecution(row)
}

func (s *PostgresStore) LatestExecution(ctx context.Context) (*model.ExecutionRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, status, stage1_count, stage2_count, stage3_count, error_message, started_at, completed_at
		 FROM executions ORDER BY started_at DESC, id DESC LIMIT 1`)
	return scanPgExecution(row)
}

func (s *PostgresStore) ListExecutions(ctx context.Context, limit int) ([]model.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, status, stage1_count, stage2_count, stage3_count, error_message, started_at, completed_at
		 FROM executions ORDER BY started_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list executions")
	}
	defer rows.Close()

	var out []model.ExecutionRecord
	for rows.Next() {
		rec, err := scanPgExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list executions")
}

func (s *PostgresStore) UpdateStageCount(ctx context.Context, id string, stage, count int) error {
	col, err := stageColumn(stage)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE executions SET `+col+` = GREATEST(`+col+`, $1) WHERE id = $2`,
		count, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update stage %d count %s", stage, id)
	}
	return checkTagAffected(tag, "execution", id)
}

func (s *PostgresStore) CompleteExecution(ctx context.Context, id string) error {
	return s.finalize(ctx, id, model.ExecutionStatusCompleted, "")
}

func (s *PostgresStore) FailExecution(ctx context.Context, id string, msg string) error {
	return s.finalize(ctx, id, model.ExecutionStatusFailed, msg)
}

func (s *PostgresStore) finalize(ctx context.Context, id string, status model.ExecutionStatus, msg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE executions SET status = $1, error_message = $2, completed_at = $3
		 WHERE id = $4 AND status = $5`,
		string(status), msg, time.Now().UTC(), id, string(model.ExecutionStatusRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finalize execution %s", id)
	}
	return checkTagAffected(tag, "running execution", id)
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, executionID string, stage int, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal snapshot")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO stage_snapshots (execution_id, stage, payload, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (execution_id, stage) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
		executionID, stage, string(data), time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: save snapshot stage %d", stage)
}

func (s *PostgresStore) LoadSnapshot(ctx context.Context, executionID string, stage int, out any) error {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM stage_snapshots WHERE execution_id = $1 AND stage = $2`,
		executionID, stage,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: load snapshot stage %d", stage)
	}
	return eris.Wrap(json.Unmarshal(payload, out), "postgres: unmarshal snapshot")
}

func (s *PostgresStore) SaveConsolidated(ctx context.Context, executionID string, records []model.ConsolidatedRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM consolidated_records WHERE execution_id = $1`, executionID); err != nil {
		return eris.Wrap(err, "postgres: clear consolidated")
	}

	for i := range records {
		data, err := json.Marshal(&records[i])
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal record %s", records[i].EmailID)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO consolidated_records (execution_id, email_id, pipeline_stage, final_score, record)
			 VALUES ($1, $2, $3, $4, $5)`,
			executionID, records[i].EmailID, records[i].PipelineStage, records[i].FinalScore, string(data),
		); err != nil {
			return eris.Wrapf(err, "postgres: insert record %s", records[i].EmailID)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit consolidated")
}

func (s *PostgresStore) ListConsolidated(ctx context.Context, executionID string, limit int) ([]model.ConsolidatedRecord, error) {
	query := `SELECT record FROM consolidated_records WHERE execution_id = $1 ORDER BY final_score DESC, email_id`
	args := []any{executionID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list consolidated")
	}
	defer rows.Close()

	var out []model.ConsolidatedRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan consolidated")
		}
		var rec model.ConsolidatedRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal consolidated")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list consolidated")
}

func scanPgExecution(row pgx.Row) (*model.ExecutionRecord, error) {
	var rec model.ExecutionRecord
	var status string
	var completedAt *time.Time

	err := row.Scan(&rec.ID, &status, &rec.Stage1Count, &rec.Stage2Count, &rec.Stage3Count,
		&rec.ErrorMessage, &rec.StartedAt, &completedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan execution")
	}

	rec.Status = model.ExecutionStatus(status)
	rec.CompletedAt = completedAt
	return &rec, nil
}

func checkTagAffected(tag pgconn.CommandTag, kind, id string) error {
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", kind, id)
	}
	return nil
}
