package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/mailtriage/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS executions (
	id            TEXT PRIMARY KEY,
	status        TEXT NOT NULL DEFAULT 'running',
	stage1_count  INTEGER NOT NULL DEFAULT 0,
	stage2_count  INTEGER NOT NULL DEFAULT 0,
	stage3_count  INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	started_at    DATETIME NOT NULL,
	completed_at  DATETIME
);

CREATE TABLE IF NOT EXISTS stage_snapshots (
	execution_id TEXT NOT NULL REFERENCES executions(id),
	stage        INTEGER NOT NULL,
	payload      TEXT NOT NULL,
	updated_at   DATETIME NOT NULL,
	PRIMARY KEY (execution_id, stage)
);

CREATE TABLE IF NOT EXISTS consolidated_records (
	execution_id   TEXT NOT NULL REFERENCES executions(id),
	email_id       TEXT NOT NULL,
	pipeline_stage INTEGER NOT NULL,
	final_score    REAL NOT NULL,
	record         TEXT NOT NULL,
	PRIMARY KEY (execution_id, email_id)
);

CREATE INDEX IF NOT EXISTS idx_executions_started_at ON executions(started_at);
CREATE INDEX IF NOT EXISTS idx_consolidated_score ON consolidated_records(execution_id, final_score);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateExecution(ctx context.Context) (*model.ExecutionRecord, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (id, status, started_at) VALUES (?, ?, ?)`,
		id, string(model.ExecutionStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert execution")
	}

	return &model.ExecutionRecord{
		ID:        id,
		StartedAt: now,
		Status:    model.ExecutionStatusRunning,
	}, nil
}

func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*model.ExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, stage1_count, stage2_count, stage3_count, error_message, started_at, completed_at
		 FROM executions WHERE id = ?`, id)
	return scanExecution(row)
}

func (s *SQLiteStore) LatestExecution(ctx context.Context) (*model.ExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, stage1_count, stage2_count, stage3_count, error_message, started_at, completed_at
		 FROM executions ORDER BY started_at DESC, id DESC LIMIT 1`)
	return scanExecution(row)
}

func (s *SQLiteStore) ListExecutions(ctx context.Context, limit int) ([]model.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, stage1_count, stage2_count, stage3_count, error_message, started_at, completed_at
		 FROM executions ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list executions")
	}
	defer rows.Close()

	var out []model.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list executions")
}

func (s *SQLiteStore) UpdateStageCount(ctx context.Context, id string, stage, count int) error {
	col, err := stageColumn(stage)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET `+col+` = MAX(`+col+`, ?) WHERE id = ?`,
		count, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update stage %d count %s", stage, id)
	}
	return checkRowsAffected(res, "execution", id)
}

func (s *SQLiteStore) CompleteExecution(ctx context.Context, id string) error {
	return s.finalize(ctx, id, model.ExecutionStatusCompleted, "")
}

func (s *SQLiteStore) FailExecution(ctx context.Context, id string, msg string) error {
	return s.finalize(ctx, id, model.ExecutionStatusFailed, msg)
}

// finalize transitions a running execution to a terminal status. The WHERE
// clause guards stickiness: a terminal execution is never finalized again.
func (s *SQLiteStore) finalize(ctx context.Context, id string, status model.ExecutionStatus, msg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET status = ?, error_message = ?, completed_at = ?
		 WHERE id = ? AND status = ?`,
		string(status), msg, time.Now().UTC(), id, string(model.ExecutionStatusRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finalize execution %s", id)
	}
	return checkRowsAffected(res, "running execution", id)
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, executionID string, stage int, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal snapshot")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO stage_snapshots (execution_id, stage, payload, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (execution_id, stage) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		executionID, stage, string(data), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save snapshot stage %d", stage)
}

func (s *SQLiteStore) LoadSnapshot(ctx context.Context, executionID string, stage int, out any) error {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM stage_snapshots WHERE execution_id = ? AND stage = ?`,
		executionID, stage,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: load snapshot stage %d", stage)
	}
	return eris.Wrap(json.Unmarshal([]byte(payload), out), "sqlite: unmarshal snapshot")
}

func (s *SQLiteStore) SaveConsolidated(ctx context.Context, executionID string, records []model.ConsolidatedRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM consolidated_records WHERE execution_id = ?`, executionID); err != nil {
		return eris.Wrap(err, "sqlite: clear consolidated")
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO consolidated_records (execution_id, email_id, pipeline_stage, final_score, record)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare consolidated insert")
	}
	defer stmt.Close()

	for i := range records {
		data, err := json.Marshal(&records[i])
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal record %s", records[i].EmailID)
		}
		if _, err := stmt.ExecContext(ctx,
			executionID, records[i].EmailID, records[i].PipelineStage, records[i].FinalScore, string(data),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert record %s", records[i].EmailID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit consolidated")
}

func (s *SQLiteStore) ListConsolidated(ctx context.Context, executionID string, limit int) ([]model.ConsolidatedRecord, error) {
	query := `SELECT record FROM consolidated_records WHERE execution_id = ? ORDER BY final_score DESC, email_id`
	args := []any{executionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list consolidated")
	}
	defer rows.Close()

	var out []model.ConsolidatedRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan consolidated")
		}
		var rec model.ConsolidatedRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal consolidated")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list consolidated")
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanExecution.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*model.ExecutionRecord, error) {
	var rec model.ExecutionRecord
	var status string
	var completedAt sql.NullTime

	err := row.Scan(&rec.ID, &status, &rec.Stage1Count, &rec.Stage2Count, &rec.Stage3Count,
		&rec.ErrorMessage, &rec.StartedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan execution")
	}

	rec.Status = model.ExecutionStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}
	return &rec, nil
}

func stageColumn(stage int) (string, error) {
	switch stage {
	case model.StageTriage:
		return "stage1_count", nil
	case model.StageContextual:
		return "stage2_count", nil
	case model.StageCritical:
		return "stage3_count", nil
	default:
		return "", eris.Errorf("store: invalid stage %d", stage)
	}
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "store: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", kind, id)
	}
	return nil
}
